// Package storage persists mail bodies and attachments to the local
// filesystem or OneDrive behind a common backend interface.
package storage

import (
	"path/filepath"
	"strings"
	"time"

	"outlook_mcp_server/core/domain"
)

const (
	maxSenderLen   = 30
	maxSubjectLen  = 50
	maxFilenameLen = 100
)

// invalidFilenameChars are stripped from every name that becomes a path
// segment, covering Windows-reserved characters.
const invalidFilenameChars = `<>:"/\|?*`

// sanitizeName strips path-hostile characters and control bytes, trims
// trailing dots and spaces, and bounds the result to maxLen runes. An empty
// result becomes "untitled".
func sanitizeName(name string, maxLen int) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(invalidFilenameChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.Trim(b.String(), " .")
	if cleaned == "" {
		return "untitled"
	}
	runes := []rune(cleaned)
	if len(runes) > maxLen {
		cleaned = strings.Trim(string(runes[:maxLen]), " .")
		if cleaned == "" {
			return "untitled"
		}
	}
	return cleaned
}

// sanitizeFilename bounds a file name while keeping its extension intact.
func sanitizeFilename(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	ext = sanitizeExt(ext)

	stem = sanitizeName(stem, maxFilenameLen-len([]rune(ext)))
	return stem + ext
}

func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	cleaned := sanitizeName(strings.TrimPrefix(ext, "."), maxFilenameLen)
	if cleaned == "untitled" {
		return ""
	}
	return "." + cleaned
}

// mailFolderName derives the per-mail folder: {YYYYMMDD}_{sender}_{subject}.
func mailFolderName(mail *domain.MailData) string {
	date := "unknown_date"
	if t, err := time.Parse(time.RFC3339, mail.ReceivedDateTime); err == nil {
		date = t.Format("20060102")
	}

	sender := mail.SenderName
	if sender == "" {
		sender = mail.SenderAddress
	}
	sender = sanitizeName(sender, maxSenderLen)
	if sender == "untitled" {
		sender = "unknown_sender"
	}

	subject := sanitizeName(mail.Subject, maxSubjectLen)
	if subject == "untitled" {
		subject = "no_subject"
	}

	return date + "_" + sender + "_" + subject
}

// splitStem returns the name without extension and the extension, for
// building collision suffixes like report_1.pdf.
func splitStem(name string) (string, string) {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}
