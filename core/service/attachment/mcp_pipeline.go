package attachment

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/port/out"
	"outlook_mcp_server/core/service/convert"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

// bodyFilename matches the name the storage backends use for saved bodies.
const bodyFilename = "mail_content.txt"

// MailFetcher is the slice of the Graph mail client the pipeline needs.
type MailFetcher interface {
	GetMessagesWithAttachments(ctx context.Context, messageIDs []string, sel *domain.SelectParams) *domain.QueryResult
	GetAttachment(ctx context.Context, messageID, attachmentID string) (*domain.Attachment, error)
}

// Options controls one pipeline invocation.
type Options struct {
	MessageIDs     []string
	SkipDuplicates bool
	IncludeBody    bool
	ConvertToText  bool
	TokenLimit     int
	// FlatFolder, when set, saves everything into one folder instead of a
	// per-mail folder.
	FlatFolder string
}

// AttachmentInfo is the metadata-only view of a message's attachments.
type AttachmentInfo struct {
	MailID      string              `json:"mail_id"`
	Subject     string              `json:"subject"`
	Attachments []domain.Attachment `json:"attachments"`
}

// Pipeline wires the mail client, storage backend, converter and duplicate
// ledger into the attachment operations.
type Pipeline struct {
	mail      MailFetcher
	store     out.StorageBackend
	converter *convert.Service
	meta      *MetadataManager
	log       zerolog.Logger
}

func NewPipeline(mail MailFetcher, store out.StorageBackend, converter *convert.Service, meta *MetadataManager) *Pipeline {
	return &Pipeline{
		mail:      mail,
		store:     store,
		converter: converter,
		meta:      meta,
		log:       logger.Component("attachment"),
	}
}

// GetAttachmentInfo lists attachment metadata without fetching content to
// disk. Inline content bytes are cleared from the response.
func (p *Pipeline) GetAttachmentInfo(ctx context.Context, messageIDs []string) ([]AttachmentInfo, []domain.QueryError, error) {
	result := p.mail.GetMessagesWithAttachments(ctx, messageIDs, nil)

	infos := make([]AttachmentInfo, 0, len(result.Value))
	for _, msg := range result.Value {
		info := AttachmentInfo{MailID: msg.ID, Subject: msg.Subject}
		for _, att := range msg.Attachments {
			att.ContentBytes = ""
			info.Attachments = append(info.Attachments, att)
		}
		infos = append(infos, info)
	}
	return infos, result.Errors, nil
}

// FetchAndSave downloads attachments (and optionally bodies) to the storage
// backend. Cancellation mid-run returns what was already written; files
// saved before the cancel stay on disk.
func (p *Pipeline) FetchAndSave(ctx context.Context, opts Options) (*domain.PipelineResult, error) {
	out := &domain.PipelineResult{}

	ids := opts.MessageIDs
	if opts.SkipDuplicates {
		fresh, err := p.meta.FilterNew(ids)
		if err != nil {
			return nil, err
		}
		out.SkippedDuplicates = len(ids) - len(fresh)
		for _, id := range ids {
			if !containsID(fresh, id) {
				out.Processed = append(out.Processed, domain.MailProcessingResult{
					MailID:           id,
					SkippedDuplicate: true,
				})
			}
		}
		ids = fresh
	}
	if len(ids) == 0 {
		return out, nil
	}

	fetched := p.mail.GetMessagesWithAttachments(ctx, ids, nil)
	out.Errors = append(out.Errors, fetched.Errors...)

	for i := range fetched.Value {
		if err := ctx.Err(); err != nil {
			out.Errors = append(out.Errors, domain.QueryError{Message: "cancelled: " + err.Error()})
			return out, nil
		}
		out.Processed = append(out.Processed, p.processMessage(ctx, &fetched.Value[i], opts))
	}
	return out, nil
}

func (p *Pipeline) processMessage(ctx context.Context, msg *domain.Message, opts Options) domain.MailProcessingResult {
	result := domain.MailProcessingResult{MailID: msg.ID, Subject: msg.Subject}
	mail := buildMailData(msg, opts.IncludeBody)

	folder, err := p.createFolder(ctx, mail, opts)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.FolderPath = folder.Path

	if opts.IncludeBody && mail.BodyText != "" {
		location, err := p.store.SaveMailContent(ctx, folder, mail)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.SavedFiles = append(result.SavedFiles, domain.SavedFile{
				Name:     bodyFilename,
				Location: location,
			})
		}
	}

	for _, att := range msg.Attachments {
		saved, skipped := p.saveAttachment(ctx, folder, msg.ID, &att, opts)
		if skipped != "" {
			result.SkippedNoContent = append(result.SkippedNoContent, skipped)
			continue
		}
		if saved.ConvertErr != "" && saved.Location == "" {
			result.Errors = append(result.Errors, saved.ConvertErr)
			continue
		}
		result.SavedFiles = append(result.SavedFiles, saved)
	}

	p.recordProcessed(msg, &result)
	return result
}

// saveAttachment writes the raw bytes, then optionally a converted .txt
// sibling. A conversion failure is reported on the saved file without
// discarding the raw copy.
func (p *Pipeline) saveAttachment(ctx context.Context, folder *out.FolderHandle, mailID string, att *domain.Attachment, opts Options) (domain.SavedFile, string) {
	if att.ContentBytes == "" {
		// Reference and item attachments carry no inline bytes.
		return domain.SavedFile{}, att.Name
	}
	data, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil {
		return domain.SavedFile{ConvertErr: fmt.Sprintf("decode %s: %v", att.Name, err)}, ""
	}

	location, err := p.store.SaveFile(ctx, folder, att.Name, data, att.ContentType)
	if err != nil {
		p.log.Warn().Err(err).Str("mail_id", mailID).Str("file", att.Name).Msg("attachment save failed")
		return domain.SavedFile{ConvertErr: err.Error()}, ""
	}
	saved := domain.SavedFile{Name: att.Name, Location: location, Size: int64(len(data))}

	if opts.ConvertToText && p.converter.Convertible(att.Name) {
		text, converted, err := p.converter.ConvertToTextWithLimit(data, att.Name, opts.TokenLimit)
		if err != nil {
			// The raw copy stays saved; the refusal rides along on it.
			saved.ConvertErr = err.Error()
			return saved, ""
		}
		if converted {
			if _, err := p.store.SaveFile(ctx, folder, att.Name+".txt", []byte(text), "text/plain"); err != nil {
				saved.ConvertErr = err.Error()
			} else {
				saved.Converted = true
			}
		}
	}
	return saved, ""
}

// FetchInline returns one attachment in memory, converted to text when
// requested and supported.
func (p *Pipeline) FetchInline(ctx context.Context, messageID, attachmentID string, convertToText bool, tokenLimit int) (*domain.InlineFile, error) {
	att, err := p.mail.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return nil, err
	}
	if att.ContentBytes == "" {
		return nil, apperr.Conversion(att.Name, fmt.Errorf("attachment has no inline content"))
	}
	data, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil {
		return nil, apperr.Conversion(att.Name, err)
	}

	file := &domain.InlineFile{
		Name:        att.Name,
		ContentType: att.ContentType,
		Bytes:       data,
		Size:        int64(len(data)),
	}
	if convertToText && p.converter.Convertible(att.Name) {
		text, converted, err := p.converter.ConvertToTextWithLimit(data, att.Name, tokenLimit)
		if err != nil {
			file.ConvertErr = err.Error()
			return file, nil
		}
		file.Text = text
		file.Converted = converted
	}
	return file, nil
}

func (p *Pipeline) createFolder(ctx context.Context, mail *domain.MailData, opts Options) (*out.FolderHandle, error) {
	if opts.FlatFolder != "" {
		return p.store.CreateFolderFlat(ctx, opts.FlatFolder)
	}
	return p.store.CreateFolder(ctx, mail)
}

func (p *Pipeline) recordProcessed(msg *domain.Message, result *domain.MailProcessingResult) {
	names := make([]string, 0, len(result.SavedFiles))
	for _, f := range result.SavedFiles {
		names = append(names, f.Name)
	}
	record := domain.ProcessedMailRecord{
		MailID:           msg.ID,
		Subject:          msg.Subject,
		Sender:           msg.SenderAddress(),
		ReceivedDateTime: msg.ReceivedDateTime,
		FolderPath:       result.FolderPath,
		SavedFiles:       names,
		AttachmentCount:  len(msg.Attachments),
	}
	if err := p.meta.AddProcessed(record); err != nil {
		p.log.Warn().Err(err).Str("mail_id", msg.ID).Msg("metadata record failed")
		result.Errors = append(result.Errors, err.Error())
	}
}

// buildMailData projects the message fields storage cares about, stripping
// HTML bodies down to text.
func buildMailData(msg *domain.Message, includeBody bool) *domain.MailData {
	mail := &domain.MailData{
		ID:               msg.ID,
		Subject:          msg.Subject,
		SenderName:       msg.FromName(),
		SenderAddress:    msg.FromAddress(),
		ReceivedDateTime: msg.ReceivedDateTime,
	}
	if mail.SenderAddress == "" {
		mail.SenderAddress = msg.SenderAddress()
	}
	if includeBody && msg.Body != nil {
		if msg.Body.ContentType == "html" || msg.Body.ContentType == "HTML" {
			mail.BodyText = convert.StripHTML(msg.Body.Content)
		} else {
			mail.BodyText = msg.Body.Content
		}
	}
	return mail
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
