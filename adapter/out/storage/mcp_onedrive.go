package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/port/out"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

const (
	// simpleUploadLimit is Graph's size bound for single-PUT uploads.
	simpleUploadLimit = 4 << 20
	// uploadChunkSize is 10 MiB, a multiple of Graph's required 320 KiB.
	uploadChunkSize = 10 << 20
	// maxUploadSize is the OneDrive per-file ceiling.
	maxUploadSize = int64(250) << 30

	chunkRetryDelay = 2 * time.Second
)

// TokenProvider returns the current access token of the session owning this
// backend.
type TokenProvider func() string

// driveItem is the subset of the Graph driveItem resource this backend reads.
type driveItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"webUrl"`
	Size   int64  `json:"size"`
}

// OneDriveBackend stores files in a user's OneDrive under a configurable
// root path, addressed as /users/{email}/drive. File name collisions are
// resolved by Graph's rename conflict behavior; folder creation probes for
// an existing folder first and reuses it.
type OneDriveBackend struct {
	client    *http.Client
	userEmail string
	token     TokenProvider
	base      string
	rootPath  string
	log       zerolog.Logger
}

var _ out.StorageBackend = (*OneDriveBackend)(nil)

// NewOneDriveBackend creates a backend rooted at rootPath within the drive
// of userEmail.
func NewOneDriveBackend(client *http.Client, userEmail string, token TokenProvider, rootPath string) *OneDriveBackend {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OneDriveBackend{
		client:    client,
		userEmail: userEmail,
		token:     token,
		base:      "https://graph.microsoft.com/v1.0",
		rootPath:  strings.Trim(rootPath, "/"),
		log:       logger.Component("storage_onedrive").With().Str("user", userEmail).Logger(),
	}
}

// SetBaseURLForTest points the backend at a test server.
func (b *OneDriveBackend) SetBaseURLForTest(base string) {
	b.base = strings.TrimRight(base, "/")
}

// driveURL returns the /users/{email}/drive base for this backend.
func (b *OneDriveBackend) driveURL() string {
	return b.base + "/users/" + url.PathEscape(b.userEmail) + "/drive"
}

// CreateFolder ensures the per-mail folder exists under the root path.
func (b *OneDriveBackend) CreateFolder(ctx context.Context, mail *domain.MailData) (*out.FolderHandle, error) {
	path := joinDrivePath(b.rootPath, mailFolderName(mail))
	if err := b.ensureFolder(ctx, path); err != nil {
		return nil, err
	}
	return &out.FolderHandle{Path: path}, nil
}

// CreateFolderFlat ensures a folder without a per-mail subfolder.
func (b *OneDriveBackend) CreateFolderFlat(ctx context.Context, basePath string) (*out.FolderHandle, error) {
	path := b.rootPath
	if basePath != "" {
		path = joinDrivePath(b.rootPath, sanitizeName(basePath, maxFilenameLen))
	}
	if path == "" {
		return &out.FolderHandle{Path: ""}, nil
	}
	if err := b.ensureFolder(ctx, path); err != nil {
		return nil, err
	}
	return &out.FolderHandle{Path: path}, nil
}

// ensureFolder walks the path segment by segment: probe for the folder
// first, create it only when the probe 404s.
func (b *OneDriveBackend) ensureFolder(ctx context.Context, path string) error {
	var parent string
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		full := joinDrivePath(parent, segment)

		exists, err := b.folderExists(ctx, full)
		if err != nil {
			return err
		}
		if !exists {
			if err := b.createFolder(ctx, parent, segment); err != nil {
				return err
			}
		}
		parent = full
	}
	return nil
}

func (b *OneDriveBackend) folderExists(ctx context.Context, path string) (bool, error) {
	itemURL := fmt.Sprintf("%s/root:/%s", b.driveURL(), escapeDrivePath(path))
	resp, err := b.doRequest(ctx, http.MethodGet, itemURL, nil, nil)
	if err != nil {
		return false, err
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, b.statusError("probe folder "+path, itemURL, resp.StatusCode, data)
	}
}

func (b *OneDriveBackend) createFolder(ctx context.Context, parent, segment string) error {
	childrenURL := b.driveURL() + "/root/children"
	if parent != "" {
		childrenURL = fmt.Sprintf("%s/root:/%s:/children", b.driveURL(), escapeDrivePath(parent))
	}

	body, _ := json.Marshal(map[string]any{
		"name":                              segment,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "rename",
	})
	resp, err := b.doRequest(ctx, http.MethodPost, childrenURL, bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return err
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return b.statusError("create folder "+segment, childrenURL, resp.StatusCode, data)
	}
	return nil
}

// SaveFile uploads data into the folder. Files at or under 4 MiB go through
// a single PUT; larger ones use a chunked upload session.
func (b *OneDriveBackend) SaveFile(ctx context.Context, folder *out.FolderHandle, filename string, data []byte, contentType string) (string, error) {
	if int64(len(data)) > maxUploadSize {
		return "", apperr.Storage(fmt.Sprintf("upload %s", filename),
			fmt.Errorf("file size %d exceeds the OneDrive limit", len(data)))
	}
	name := sanitizeFilename(filename)
	itemPath := joinDrivePath(folder.Path, name)

	if len(data) <= simpleUploadLimit {
		return b.simpleUpload(ctx, itemPath, data, contentType)
	}
	return b.chunkedUpload(ctx, itemPath, data)
}

// SaveMailContent uploads the mail body text file.
func (b *OneDriveBackend) SaveMailContent(ctx context.Context, folder *out.FolderHandle, mail *domain.MailData) (string, error) {
	return b.SaveFile(ctx, folder, mailContentFilename, []byte(formatMailContent(mail)), "text/plain")
}

func (b *OneDriveBackend) simpleUpload(ctx context.Context, itemPath string, data []byte, contentType string) (string, error) {
	uploadURL := fmt.Sprintf("%s/root:/%s:/content?@microsoft.graph.conflictBehavior=rename",
		b.driveURL(), escapeDrivePath(itemPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := b.doRequest(ctx, http.MethodPut, uploadURL, bytes.NewReader(data), map[string]string{
		"Content-Type": contentType,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", b.statusError("upload "+itemPath, uploadURL, resp.StatusCode, body)
	}

	var item driveItem
	if err := json.Unmarshal(body, &item); err != nil {
		return "", apperr.Storage("decode upload response", err)
	}
	b.log.Debug().Str("path", itemPath).Int("bytes", len(data)).Msg("file uploaded")
	return item.WebURL, nil
}

type uploadSession struct {
	UploadURL          string `json:"uploadUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

// chunkedUpload drives an upload session: 10 MiB chunks, each with a
// Content-Range header. Graph answers 202 for intermediate chunks and
// 200/201 for the final one. A failed chunk is retried once; a second
// failure cancels the session.
func (b *OneDriveBackend) chunkedUpload(ctx context.Context, itemPath string, data []byte) (string, error) {
	sessionURL := fmt.Sprintf("%s/root:/%s:/createUploadSession", b.driveURL(), escapeDrivePath(itemPath))
	reqBody, _ := json.Marshal(map[string]any{
		"item": map[string]any{"@microsoft.graph.conflictBehavior": "rename"},
	})

	resp, err := b.doRequest(ctx, http.MethodPost, sessionURL, bytes.NewReader(reqBody), map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return "", err
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", b.statusError("create upload session", sessionURL, resp.StatusCode, body)
	}
	var session uploadSession
	if err := json.Unmarshal(body, &session); err != nil {
		return "", apperr.Storage("decode upload session", err)
	}

	total := int64(len(data))
	for offset := int64(0); offset < total; offset += uploadChunkSize {
		end := offset + uploadChunkSize
		if end > total {
			end = total
		}
		final := end == total

		item, err := b.uploadChunk(ctx, session.UploadURL, data[offset:end], offset, end, total, final)
		if err != nil {
			// Retry the chunk once before giving up on the session.
			b.log.Warn().Err(err).Int64("offset", offset).Msg("chunk upload failed, retrying")
			time.Sleep(chunkRetryDelay)
			item, err = b.uploadChunk(ctx, session.UploadURL, data[offset:end], offset, end, total, final)
			if err != nil {
				b.cancelSession(ctx, session.UploadURL)
				return "", err
			}
		}
		if final && item != nil {
			b.log.Debug().Str("path", itemPath).Int64("bytes", total).Msg("chunked upload complete")
			return item.WebURL, nil
		}
	}
	return "", apperr.Storage("chunked upload", fmt.Errorf("session ended without a final item for %s", itemPath))
}

func (b *OneDriveBackend) uploadChunk(ctx context.Context, uploadURL string, chunk []byte, start, end, total int64, final bool) (*driveItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(chunk))
	if err != nil {
		return nil, apperr.Storage("build chunk request", err)
	}
	// Upload session URLs are pre-authenticated; no bearer token here.
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))
	req.ContentLength = end - start

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, apperr.Storage("upload chunk", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch {
	case final && (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated):
		var item driveItem
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, apperr.Storage("decode final chunk response", err)
		}
		return &item, nil
	case !final && resp.StatusCode == http.StatusAccepted:
		return nil, nil
	default:
		return nil, b.statusError("upload chunk", uploadURL, resp.StatusCode, body)
	}
}

// cancelSession deletes an abandoned upload session so partial bytes do not
// linger on the drive.
func (b *OneDriveBackend) cancelSession(ctx context.Context, uploadURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, uploadURL, nil)
	if err != nil {
		return
	}
	if resp, err := b.client.Do(req); err == nil {
		resp.Body.Close()
	}
}

func (b *OneDriveBackend) doRequest(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, apperr.Storage("build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, apperr.Storage("onedrive request", err)
	}
	return resp, nil
}

func (b *OneDriveBackend) statusError(operation, rawURL string, status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return apperr.New(apperr.CodeAuthRequired,
			fmt.Sprintf("onedrive rejected token (status 401) during %s", operation))
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return apperr.Storage(operation, fmt.Errorf("status %d from %s: %s", status, rawURL, body))
}

func joinDrivePath(parts ...string) string {
	var segments []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, "/")
}

// escapeDrivePath escapes each segment while keeping the separators.
func escapeDrivePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
