// Package mcp exposes the mail services as Model Context Protocol tools.
// The tool surface is driven entirely by a YAML catalog; the dispatcher
// merges caller arguments with per-tool service factors before invoking
// the bound service method.
package mcp

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tool_definition_templates.yaml
var embeddedCatalog []byte

// FactorParam is one field of a composite factor, with its default value.
type FactorParam struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type,omitempty"`
	Default     any    `yaml:"default,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Factor describes how one service-method parameter is bound at call time.
// source "internal" always uses the declared defaults and ignores the
// caller; "signature_defaults" uses the caller's value when present and
// falls back to the defaults otherwise.
type Factor struct {
	Source      string        `yaml:"source"`
	Type        string        `yaml:"type,omitempty"`
	TargetParam string        `yaml:"targetParam"`
	Description string        `yaml:"description,omitempty"`
	Default     any           `yaml:"default,omitempty"`
	Parameters  []FactorParam `yaml:"parameters,omitempty"`
}

// isEmpty reports whether every default the factor declares is null. Such
// factors contribute nothing and are pruned at load.
func (f *Factor) isEmpty() bool {
	if f.Default != nil {
		return false
	}
	for _, p := range f.Parameters {
		if p.Default != nil {
			return false
		}
	}
	// A signature_defaults factor with no defaults still renames the
	// caller's value onto targetParam, so it stays.
	return f.Source == sourceInternal
}

// ServiceBinding identifies the service method a tool dispatches to.
type ServiceBinding struct {
	Name       string   `yaml:"name"`
	Signature  string   `yaml:"signature,omitempty"`
	Parameters []string `yaml:"parameters,omitempty"`
}

// Tool is one catalog entry.
type Tool struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	InputSchema map[string]any    `yaml:"inputSchema"`
	Service     ServiceBinding    `yaml:"mcp_service"`
	Factors     map[string]Factor `yaml:"mcp_service_factors,omitempty"`
}

// Catalog is the parsed tool definition file.
type Catalog struct {
	Tools []Tool `yaml:"tools"`

	byName map[string]*Tool
}

const (
	sourceInternal          = "internal"
	sourceSignatureDefaults = "signature_defaults"
)

// LoadCatalog reads the catalog from path, falling back to the embedded
// default when the file does not exist.
func LoadCatalog(path string) (*Catalog, error) {
	data := embeddedCatalog
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			data = raw
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read tool catalog %s: %w", path, err)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}

	c.byName = make(map[string]*Tool, len(c.Tools))
	for i := range c.Tools {
		tool := &c.Tools[i]
		if tool.Name == "" {
			return nil, fmt.Errorf("tool #%d has no name", i)
		}
		if _, dup := c.byName[tool.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", tool.Name)
		}
		if tool.Service.Name == "" {
			return nil, fmt.Errorf("tool %q has no mcp_service.name", tool.Name)
		}
		if err := validateFactors(tool); err != nil {
			return nil, err
		}
		c.byName[tool.Name] = tool
	}
	return &c, nil
}

func validateFactors(tool *Tool) error {
	for key, f := range tool.Factors {
		if f.Source != sourceInternal && f.Source != sourceSignatureDefaults {
			return fmt.Errorf("tool %q factor %q: unknown source %q", tool.Name, key, f.Source)
		}
		if f.TargetParam == "" {
			return fmt.Errorf("tool %q factor %q: targetParam is required", tool.Name, key)
		}
		if f.isEmpty() {
			delete(tool.Factors, key)
		}
	}
	return nil
}

// Tool returns the named catalog entry, or nil.
func (c *Catalog) Tool(name string) *Tool {
	return c.byName[name]
}
