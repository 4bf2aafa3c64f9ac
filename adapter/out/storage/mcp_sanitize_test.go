package storage

import (
	"strings"
	"testing"

	"outlook_mcp_server/core/domain"
)

func TestSanitizeNameStripsInvalidChars(t *testing.T) {
	got := sanitizeName(`re<po|rt?:"2026"`, 100)
	if got != "report2026" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeNameControlChars(t *testing.T) {
	got := sanitizeName("a\x00b\tc\nd", 100)
	if got != "abcd" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeNameEmptyFallsBack(t *testing.T) {
	for _, input := range []string{"", "???", "   ", "..."} {
		if got := sanitizeName(input, 100); got != "untitled" {
			t.Fatalf("sanitize(%q) = %q, want untitled", input, got)
		}
	}
}

func TestSanitizeNameBounds(t *testing.T) {
	long := strings.Repeat("a", 200)
	if got := sanitizeName(long, 50); len([]rune(got)) != 50 {
		t.Fatalf("length %d, want 50", len([]rune(got)))
	}
}

func TestSanitizeFilenameKeepsExtension(t *testing.T) {
	long := strings.Repeat("b", 200) + ".pdf"
	got := sanitizeFilename(long)
	if !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("extension lost: %q", got)
	}
	if len([]rune(got)) > maxFilenameLen {
		t.Fatalf("length %d exceeds bound", len([]rune(got)))
	}
}

func TestMailFolderName(t *testing.T) {
	mail := &domain.MailData{
		Subject:          "Q3 / results: final",
		SenderName:       "Kim Lee",
		ReceivedDateTime: "2026-03-15T09:30:00Z",
	}
	got := mailFolderName(mail)
	if got != "20260315_Kim Lee_Q3  results final" {
		t.Fatalf("got %q", got)
	}
}

func TestMailFolderNameFallbacks(t *testing.T) {
	mail := &domain.MailData{ReceivedDateTime: "not-a-date"}
	got := mailFolderName(mail)
	if got != "unknown_date_unknown_sender_no_subject" {
		t.Fatalf("got %q", got)
	}
}

func TestMailFolderNameSenderBound(t *testing.T) {
	mail := &domain.MailData{
		SenderName:       strings.Repeat("x", 80),
		Subject:          "s",
		ReceivedDateTime: "2026-01-01T00:00:00Z",
	}
	got := mailFolderName(mail)
	parts := strings.SplitN(got, "_", 3)
	if len([]rune(parts[1])) != maxSenderLen {
		t.Fatalf("sender part %d runes, want %d", len([]rune(parts[1])), maxSenderLen)
	}
}
