// Package attachment orchestrates the mail attachment pipeline: fetch with
// expansion, duplicate skipping, storage, and text conversion.
package attachment

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

const metadataFilename = "processed_mails.json"

// metadataFile is the on-disk ledger shape.
type metadataFile struct {
	ProcessedMails map[string]domain.ProcessedMailRecord `json:"processed_mails"`
}

// MetadataManager tracks which messages the pipeline already processed, so
// reruns can skip them. The ledger is a JSON file guarded by a file lock;
// a corrupt file is reset rather than failing every later call.
type MetadataManager struct {
	path string
	lock *flock.Flock
	log  zerolog.Logger
}

// NewMetadataManager stores the ledger inside baseDir. The directory is
// created up front so the lock file can exist before the first write.
func NewMetadataManager(baseDir string) *MetadataManager {
	_ = os.MkdirAll(baseDir, 0o755)
	path := filepath.Join(baseDir, metadataFilename)
	return &MetadataManager{
		path: path,
		lock: flock.New(path + ".lock"),
		log:  logger.Component("attachment_meta"),
	}
}

// IsDuplicate reports whether the message was processed before.
func (m *MetadataManager) IsDuplicate(mailID string) (bool, error) {
	data, err := m.read()
	if err != nil {
		return false, err
	}
	_, ok := data.ProcessedMails[mailID]
	return ok, nil
}

// FilterNew returns the subset of ids not yet in the ledger, preserving
// input order.
func (m *MetadataManager) FilterNew(ids []string) ([]string, error) {
	data, err := m.read()
	if err != nil {
		return nil, err
	}
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := data.ProcessedMails[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// AddProcessed records a completed message.
func (m *MetadataManager) AddProcessed(record domain.ProcessedMailRecord) error {
	if err := m.lock.Lock(); err != nil {
		return apperr.Storage("lock metadata", err)
	}
	defer m.lock.Unlock()

	data := m.load()
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}
	data.ProcessedMails[record.MailID] = record
	return m.write(data)
}

// Records returns a copy of every ledger entry.
func (m *MetadataManager) Records() (map[string]domain.ProcessedMailRecord, error) {
	data, err := m.read()
	if err != nil {
		return nil, err
	}
	return data.ProcessedMails, nil
}

func (m *MetadataManager) read() (*metadataFile, error) {
	if err := m.lock.RLock(); err != nil {
		return nil, apperr.Storage("lock metadata", err)
	}
	defer m.lock.Unlock()
	return m.load(), nil
}

// load parses the ledger, treating a missing or corrupt file as empty. A
// corrupt ledger only costs duplicate detection, never the pipeline itself.
func (m *MetadataManager) load() *metadataFile {
	empty := &metadataFile{ProcessedMails: map[string]domain.ProcessedMailRecord{}}

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return empty
	}
	var data metadataFile
	if err := json.Unmarshal(raw, &data); err != nil || data.ProcessedMails == nil {
		m.log.Warn().Str("path", m.path).Msg("metadata file corrupt, resetting")
		return empty
	}
	return &data
}

func (m *MetadataManager) write(data *metadataFile) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return apperr.Storage("encode metadata", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return apperr.Storage("create metadata dir", err)
	}
	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		return apperr.Storage("write metadata", err)
	}
	return nil
}
