package attachment

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"outlook_mcp_server/adapter/out/storage"
	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/service/convert"
)

type fakeMail struct {
	messages   map[string]domain.Message
	attachment *domain.Attachment
}

func (f *fakeMail) GetMessagesWithAttachments(_ context.Context, ids []string, _ *domain.SelectParams) *domain.QueryResult {
	result := &domain.QueryResult{Status: "success"}
	for _, id := range ids {
		if msg, ok := f.messages[id]; ok {
			result.Value = append(result.Value, msg)
		} else {
			result.Errors = append(result.Errors, domain.QueryError{MailID: id, Status: 404, Message: "not found"})
		}
	}
	result.Total = len(result.Value)
	return result
}

func (f *fakeMail) GetAttachment(_ context.Context, _, _ string) (*domain.Attachment, error) {
	return f.attachment, nil
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func testMessage(id string) domain.Message {
	return domain.Message{
		ID:               id,
		Subject:          "report " + id,
		From:             &domain.Recipient{EmailAddress: domain.EmailAddress{Name: "Kim", Address: "kim@example.com"}},
		ReceivedDateTime: "2026-04-01T08:00:00Z",
		Body:             &domain.ItemBody{ContentType: "html", Content: "<p>body text</p>"},
		Attachments: []domain.Attachment{
			{ID: "a1", Name: "notes.txt", ContentType: "text/plain", ContentBytes: b64("attachment body")},
		},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	mail := &fakeMail{messages: map[string]domain.Message{
		"m1": testMessage("m1"),
		"m2": testMessage("m2"),
	}}
	p := NewPipeline(mail, storage.NewLocalBackend(dir), convert.NewService(0), NewMetadataManager(dir))
	return p, dir
}

func TestFetchAndSaveWritesFiles(t *testing.T) {
	p, dir := newTestPipeline(t)

	result, err := p.FetchAndSave(context.Background(), Options{
		MessageIDs:  []string{"m1"},
		IncludeBody: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Processed) != 1 {
		t.Fatalf("processed %d", len(result.Processed))
	}
	proc := result.Processed[0]
	if len(proc.Errors) != 0 {
		t.Fatalf("errors %v", proc.Errors)
	}

	folder := filepath.Join(dir, "20260401_Kim_report m1")
	if proc.FolderPath != folder {
		t.Fatalf("folder %q", proc.FolderPath)
	}
	data, err := os.ReadFile(filepath.Join(folder, "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "attachment body" {
		t.Fatalf("attachment content %q", data)
	}
	body, err := os.ReadFile(filepath.Join(folder, "mail_content.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "body text") {
		t.Fatalf("body %q", body)
	}
}

func TestFetchAndSaveSkipsDuplicates(t *testing.T) {
	p, _ := newTestPipeline(t)

	first, err := p.FetchAndSave(context.Background(), Options{
		MessageIDs:     []string{"m1"},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.SkippedDuplicates != 0 {
		t.Fatalf("first run skipped %d", first.SkippedDuplicates)
	}

	second, err := p.FetchAndSave(context.Background(), Options{
		MessageIDs:     []string{"m1", "m2"},
		SkipDuplicates: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.SkippedDuplicates != 1 {
		t.Fatalf("second run skipped %d", second.SkippedDuplicates)
	}
	var skipped, processed int
	for _, proc := range second.Processed {
		if proc.SkippedDuplicate {
			skipped++
		} else {
			processed++
		}
	}
	if skipped != 1 || processed != 1 {
		t.Fatalf("skipped=%d processed=%d", skipped, processed)
	}
}

func TestFetchAndSaveConvertsText(t *testing.T) {
	p, dir := newTestPipeline(t)

	result, err := p.FetchAndSave(context.Background(), Options{
		MessageIDs:    []string{"m1"},
		ConvertToText: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	proc := result.Processed[0]
	if len(proc.SavedFiles) != 1 || !proc.SavedFiles[0].Converted {
		t.Fatalf("saved %+v", proc.SavedFiles)
	}
	converted := filepath.Join(dir, "20260401_Kim_report m1", "notes.txt.txt")
	if _, err := os.Stat(converted); err != nil {
		t.Fatalf("converted sibling missing: %v", err)
	}
}

func TestFetchAndSaveSurfacesConversionRefusal(t *testing.T) {
	dir := t.TempDir()
	msg := testMessage("m1")
	msg.Attachments = []domain.Attachment{
		{ID: "h1", Name: "report.hwp", ContentType: "application/octet-stream", ContentBytes: b64("hwp bytes")},
	}
	mail := &fakeMail{messages: map[string]domain.Message{"m1": msg}}
	p := NewPipeline(mail, storage.NewLocalBackend(dir), convert.NewService(0), NewMetadataManager(dir))

	result, err := p.FetchAndSave(context.Background(), Options{
		MessageIDs:    []string{"m1"},
		ConvertToText: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	proc := result.Processed[0]
	if len(proc.SavedFiles) != 1 {
		t.Fatalf("saved %+v", proc.SavedFiles)
	}
	saved := proc.SavedFiles[0]
	if saved.Converted || !strings.Contains(saved.ConvertErr, "hwp") {
		t.Fatalf("refusal not surfaced: %+v", saved)
	}
	if saved.Location == "" {
		t.Fatal("raw file location missing")
	}
	folder := filepath.Join(dir, "20260401_Kim_report m1")
	if _, err := os.Stat(filepath.Join(folder, "report.hwp")); err != nil {
		t.Fatalf("raw copy missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(folder, "report.hwp.txt")); !os.IsNotExist(err) {
		t.Fatalf("unexpected text sibling: %v", err)
	}
}

func TestFetchAndSaveReportsMissingMessage(t *testing.T) {
	p, _ := newTestPipeline(t)

	result, err := p.FetchAndSave(context.Background(), Options{MessageIDs: []string{"gone"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) != 1 || result.Errors[0].MailID != "gone" {
		t.Fatalf("errors %+v", result.Errors)
	}
}

func TestFetchAndSaveSkipsNoContentAttachment(t *testing.T) {
	dir := t.TempDir()
	msg := testMessage("m1")
	msg.Attachments = []domain.Attachment{{ID: "ref", Name: "shared.doc"}}
	mail := &fakeMail{messages: map[string]domain.Message{"m1": msg}}
	p := NewPipeline(mail, storage.NewLocalBackend(dir), convert.NewService(0), NewMetadataManager(dir))

	result, err := p.FetchAndSave(context.Background(), Options{MessageIDs: []string{"m1"}})
	if err != nil {
		t.Fatal(err)
	}
	proc := result.Processed[0]
	if len(proc.SkippedNoContent) != 1 || proc.SkippedNoContent[0] != "shared.doc" {
		t.Fatalf("skipped %v", proc.SkippedNoContent)
	}
}

func TestGetAttachmentInfoClearsBytes(t *testing.T) {
	p, _ := newTestPipeline(t)

	infos, errs, err := p.GetAttachmentInfo(context.Background(), []string{"m1"})
	if err != nil || len(errs) != 0 {
		t.Fatalf("err=%v errs=%v", err, errs)
	}
	if len(infos) != 1 || len(infos[0].Attachments) != 1 {
		t.Fatalf("infos %+v", infos)
	}
	if infos[0].Attachments[0].ContentBytes != "" {
		t.Fatal("content bytes leaked into metadata listing")
	}
}

func TestFetchInlineConverts(t *testing.T) {
	dir := t.TempDir()
	mail := &fakeMail{attachment: &domain.Attachment{
		ID: "a1", Name: "notes.txt", ContentType: "text/plain", ContentBytes: b64("inline text"),
	}}
	p := NewPipeline(mail, storage.NewLocalBackend(dir), convert.NewService(0), NewMetadataManager(dir))

	file, err := p.FetchInline(context.Background(), "m1", "a1", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !file.Converted || file.Text != "inline text" {
		t.Fatalf("file %+v", file)
	}
}

func TestMetadataManagerCorruptReset(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "processed_mails.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewMetadataManager(dir)

	dup, err := m.IsDuplicate("x")
	if err != nil || dup {
		t.Fatalf("corrupt ledger: dup=%v err=%v", dup, err)
	}
	if err := m.AddProcessed(domain.ProcessedMailRecord{MailID: "x"}); err != nil {
		t.Fatal(err)
	}
	dup, err = m.IsDuplicate("x")
	if err != nil || !dup {
		t.Fatalf("record lost: dup=%v err=%v", dup, err)
	}
}
