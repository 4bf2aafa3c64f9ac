package out

import (
	"context"

	"outlook_mcp_server/core/domain"
)

// FolderHandle identifies a created folder on a storage backend. Path is a
// filesystem path for the local backend or a drive-relative path for OneDrive.
type FolderHandle struct {
	Path string
	URL  string
}

// StorageBackend persists mail bodies and attachment files. Implementations
// must sanitize file names and resolve intra-folder collisions by suffixing.
type StorageBackend interface {
	// CreateFolder derives a per-mail folder from the mail metadata
	// ({YYYYMMDD}_{sender}_{subject}, both parts sanitized and bounded).
	CreateFolder(ctx context.Context, mail *domain.MailData) (*FolderHandle, error)
	// CreateFolderFlat returns a folder without a per-mail subfolder.
	CreateFolderFlat(ctx context.Context, basePath string) (*FolderHandle, error)
	// SaveFile writes bytes under the folder and returns the location
	// (path or web URL).
	SaveFile(ctx context.Context, folder *FolderHandle, filename string, data []byte, contentType string) (string, error)
	// SaveMailContent persists the mail body text as a file in the folder.
	SaveMailContent(ctx context.Context, folder *FolderHandle, mail *domain.MailData) (string, error)
}
