package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Environment string
	LogLevel    string

	// Azure AD application
	AzureClientID     string
	AzureClientSecret string
	AzureTenantID     string
	AzureRedirectURI  string
	AzureScopes       []string

	// Token store
	DatabasePath string

	// Sessions
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration
	TokenExpiryBuffer      time.Duration
	RefreshTokenDays       int

	// Graph query engine
	GraphPageSize       int
	GraphMaxConcurrency int
	GraphBatchSize      int
	GraphTimeout        time.Duration

	// Attachment pipeline
	StorageBackend    string // "local" or "onedrive"
	StorageBaseDir    string
	OneDriveRootPath  string
	ConvertTokenLimit int

	// Tool catalog
	ToolCatalogPath string
	CompatBoolEnums bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		AzureClientID:     getEnv("AZURE_CLIENT_ID", ""),
		AzureClientSecret: getEnv("AZURE_CLIENT_SECRET", ""),
		AzureTenantID:     getEnv("AZURE_TENANT_ID", "common"),
		AzureRedirectURI:  getEnv("AZURE_REDIRECT_URI", "http://localhost:5000/callback"),
		AzureScopes:       strings.Fields(getEnv("AZURE_SCOPES", "User.Read Mail.Read Mail.Send offline_access")),

		DatabasePath: getEnv("DATABASE_PATH", "database/auth.db"),

		SessionTTL:             time.Duration(getEnvInt("SESSION_TTL_MIN", 30)) * time.Minute,
		SessionCleanupInterval: time.Duration(getEnvInt("SESSION_CLEANUP_INTERVAL_MIN", 5)) * time.Minute,
		TokenExpiryBuffer:      time.Duration(getEnvInt("TOKEN_EXPIRY_BUFFER_SEC", 300)) * time.Second,
		RefreshTokenDays:       getEnvInt("REFRESH_TOKEN_DAYS", 90),

		GraphPageSize:       getEnvInt("GRAPH_PAGE_SIZE", 150),
		GraphMaxConcurrency: getEnvInt("GRAPH_MAX_CONCURRENT_PAGES", 3),
		GraphBatchSize:      getEnvInt("GRAPH_BATCH_SIZE", 20),
		GraphTimeout:        time.Duration(getEnvInt("GRAPH_TIMEOUT_SEC", 30)) * time.Second,

		StorageBackend:    getEnv("STORAGE_BACKEND", "local"),
		StorageBaseDir:    getEnv("STORAGE_BASE_DIR", "downloads"),
		OneDriveRootPath:  getEnv("ONEDRIVE_ROOT_PATH", "OutlookAttachments"),
		ConvertTokenLimit: getEnvInt("CONVERT_TOKEN_LIMIT", 50000),

		ToolCatalogPath: getEnv("TOOL_CATALOG_PATH", "tool_definition_templates.yaml"),
		CompatBoolEnums: getEnvBool("COMPAT_BOOL_ENUMS", false),
	}

	if cfg.AzureClientID == "" {
		return nil, fmt.Errorf("AZURE_CLIENT_ID is required")
	}
	if cfg.GraphBatchSize > 20 {
		// Graph caps $batch at 20 sub-requests
		cfg.GraphBatchSize = 20
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
