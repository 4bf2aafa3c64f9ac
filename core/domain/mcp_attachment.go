package domain

import "time"

// MailData is the slice of a message the storage layer needs to derive a
// folder name and persist the body alongside attachments.
type MailData struct {
	ID               string `json:"id"`
	Subject          string `json:"subject"`
	SenderName       string `json:"sender_name"`
	SenderAddress    string `json:"sender_address"`
	ReceivedDateTime string `json:"received_date_time"`
	BodyText         string `json:"body_text,omitempty"`
}

// SavedFile records one persisted artifact.
type SavedFile struct {
	Name       string `json:"name"`
	Location   string `json:"location"` // filesystem path or OneDrive web URL
	Size       int64  `json:"size"`
	Converted  bool   `json:"converted"`
	ConvertErr string `json:"convert_error,omitempty"`
}

// InlineFile is an attachment returned in memory (fetch without save).
type InlineFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Text        string `json:"text,omitempty"`
	Bytes       []byte `json:"-"`
	Size        int64  `json:"size"`
	Converted   bool   `json:"converted"`
	ConvertErr  string `json:"convert_error,omitempty"`
}

// MailProcessingResult is the per-message outcome of the attachment pipeline.
type MailProcessingResult struct {
	MailID           string       `json:"mail_id"`
	Subject          string       `json:"subject"`
	FolderPath       string       `json:"folder_path,omitempty"`
	SavedFiles       []SavedFile  `json:"saved_files,omitempty"`
	InlineFiles      []InlineFile `json:"inline_files,omitempty"`
	SkippedDuplicate bool         `json:"skipped_duplicate,omitempty"`
	SkippedNoContent []string     `json:"skipped_no_content,omitempty"`
	Errors           []string     `json:"errors,omitempty"`
}

// PipelineResult aggregates a whole fetch-and-save invocation.
type PipelineResult struct {
	Processed         []MailProcessingResult `json:"processed"`
	SkippedDuplicates int                    `json:"skipped_duplicates"`
	Errors            []QueryError           `json:"errors,omitempty"`
}

// ProcessedMailRecord is one entry in the processed-message metadata ledger.
type ProcessedMailRecord struct {
	MailID           string    `json:"mail_id"`
	Subject          string    `json:"subject"`
	Sender           string    `json:"sender"`
	ReceivedDateTime string    `json:"received_date_time"`
	FolderPath       string    `json:"folder_path"`
	SavedFiles       []string  `json:"saved_files"`
	ProcessedAt      time.Time `json:"processed_at"`
	AttachmentCount  int       `json:"attachment_count"`
}
