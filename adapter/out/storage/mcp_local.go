package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/port/out"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

// mailContentFilename is the body file written next to saved attachments.
const mailContentFilename = "mail_content.txt"

// LocalBackend saves files under a base directory on the local filesystem.
type LocalBackend struct {
	baseDir string
	log     zerolog.Logger
}

var _ out.StorageBackend = (*LocalBackend)(nil)

// NewLocalBackend creates the backend. The base directory is created on
// first use, not here.
func NewLocalBackend(baseDir string) *LocalBackend {
	if baseDir == "" {
		baseDir = "downloads"
	}
	return &LocalBackend{
		baseDir: baseDir,
		log:     logger.Component("storage_local"),
	}
}

// CreateFolder builds the per-mail folder and creates it, parents included.
// An existing folder is reused.
func (b *LocalBackend) CreateFolder(_ context.Context, mail *domain.MailData) (*out.FolderHandle, error) {
	path := filepath.Join(b.baseDir, mailFolderName(mail))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, apperr.Storage("create folder "+path, err)
	}
	return &out.FolderHandle{Path: path}, nil
}

// CreateFolderFlat creates (or reuses) a folder without a per-mail subfolder.
func (b *LocalBackend) CreateFolderFlat(_ context.Context, basePath string) (*out.FolderHandle, error) {
	path := b.baseDir
	if basePath != "" {
		path = filepath.Join(b.baseDir, sanitizeName(basePath, maxFilenameLen))
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, apperr.Storage("create folder "+path, err)
	}
	return &out.FolderHandle{Path: path}, nil
}

// SaveFile writes data into the folder. Name collisions get a _n suffix
// before the extension rather than overwriting.
func (b *LocalBackend) SaveFile(_ context.Context, folder *out.FolderHandle, filename string, data []byte, _ string) (string, error) {
	name := sanitizeFilename(filename)
	path := filepath.Join(folder.Path, name)

	stem, ext := splitStem(name)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(folder.Path, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperr.Storage("write "+path, err)
	}
	b.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("file saved")
	return path, nil
}

// SaveMailContent writes the mail body with a small metadata header.
func (b *LocalBackend) SaveMailContent(ctx context.Context, folder *out.FolderHandle, mail *domain.MailData) (string, error) {
	return b.SaveFile(ctx, folder, mailContentFilename, []byte(formatMailContent(mail)), "text/plain")
}

func formatMailContent(mail *domain.MailData) string {
	return fmt.Sprintf("Subject: %s\nFrom: %s <%s>\nReceived: %s\n\n%s\n",
		mail.Subject, mail.SenderName, mail.SenderAddress, mail.ReceivedDateTime, mail.BodyText)
}
