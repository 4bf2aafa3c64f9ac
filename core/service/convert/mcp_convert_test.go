package convert

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/text/encoding/korean"

	"outlook_mcp_server/pkg/apperr"
)

// markerFor is the truncation marker expected for the given source text.
func markerFor(text string) string {
	return fmt.Sprintf(truncationMarkerFmt, len(text)/charsPerToken)
}

func TestTruncatePassthroughUnderBudget(t *testing.T) {
	text := strings.Repeat("a", 100)
	got, truncated := TruncateToTokenBudget(text, 50000)
	if truncated || got != text {
		t.Fatalf("short text modified: truncated=%v", truncated)
	}
}

func TestTruncateCutsAtNewline(t *testing.T) {
	// Budget of 25 tokens = 100 chars; a newline sits inside the final fifth.
	line := strings.Repeat("x", 90) + "\n" + strings.Repeat("y", 50)
	got, truncated := TruncateToTokenBudget(line, 25)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasSuffix(got, markerFor(line)) {
		t.Fatalf("marker missing: %q", got)
	}
	body := strings.TrimSuffix(got, markerFor(line))
	if body != strings.Repeat("x", 90) {
		t.Fatalf("cut not at newline: %q", body)
	}
}

func TestTruncateMarkerReportsOriginalTokens(t *testing.T) {
	text := strings.Repeat("a", 1500)
	got, truncated := TruncateToTokenBudget(text, 25)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.Contains(got, "375 tokens") {
		t.Fatalf("marker lacks the original token count: %q", got[len(got)-80:])
	}
}

func TestTruncateCutsAtSentence(t *testing.T) {
	text := strings.Repeat("a", 92) + ". " + strings.Repeat("b", 60)
	got, truncated := TruncateToTokenBudget(text, 25)
	if !truncated {
		t.Fatal("expected truncation")
	}
	body := strings.TrimSuffix(got, markerFor(text))
	if !strings.HasSuffix(body, ".") {
		t.Fatalf("cut not at sentence end: %q", body)
	}
}

func TestTruncateDoesNotSplitRunes(t *testing.T) {
	text := strings.Repeat("한", 200)
	got, truncated := TruncateToTokenBudget(text, 25)
	if !truncated {
		t.Fatal("expected truncation")
	}
	body := strings.TrimSuffix(got, markerFor(text))
	for _, r := range body {
		if r != '한' {
			t.Fatalf("rune split produced %q", r)
		}
	}
}

func TestConvertPlainText(t *testing.T) {
	s := NewService(0)
	got, converted, err := s.ConvertToText([]byte("hello world"), "note.txt")
	if err != nil || !converted {
		t.Fatalf("err=%v converted=%v", err, converted)
	}
	if got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestConvertEUCKRFallback(t *testing.T) {
	encoded, err := korean.EUCKR.NewEncoder().Bytes([]byte("안녕하세요"))
	if err != nil {
		t.Fatal(err)
	}
	s := NewService(0)
	got, _, err := s.ConvertToText(encoded, "memo.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "안녕하세요" {
		t.Fatalf("got %q", got)
	}
}

func TestConvertHTMLStripsMarkup(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body><p>First</p><p>Second &amp; third</p><script>alert(1)</script></body></html>`
	s := NewService(0)
	got, _, err := s.ConvertToText([]byte(html), "page.html")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "First\n") || !strings.Contains(got, "Second & third") {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, "alert") || strings.Contains(got, "color:red") {
		t.Fatalf("script/style leaked: %q", got)
	}
}

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestConvertDocx(t *testing.T) {
	doc := `<?xml version="1.0"?><w:document xmlns:w="ns"><w:body>` +
		`<w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	s := NewService(0)
	got, converted, err := s.ConvertToText(buildDocx(t, doc), "report.docx")
	if err != nil || !converted {
		t.Fatalf("err=%v converted=%v", err, converted)
	}
	if got != "First paragraph\nSecond paragraph" {
		t.Fatalf("got %q", got)
	}
}

func TestConvertXlsxSharedStrings(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name, content string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	write("xl/sharedStrings.xml", `<sst><si><t>name</t></si><si><t>count</t></si></sst>`)
	write("xl/worksheets/sheet1.xml", `<worksheet><sheetData>`+
		`<row><c t="s"><v>0</v></c><c t="s"><v>1</v></c></row>`+
		`<row><c><v>widget</v></c><c><v>42</v></c></row>`+
		`</sheetData></worksheet>`)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	s := NewService(0)
	got, _, err := s.ConvertToText(buf.Bytes(), "data.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "name\tcount\nwidget\t42" {
		t.Fatalf("got %q", got)
	}
}

func TestConvertLegacyFormatRefused(t *testing.T) {
	s := NewService(0)
	_, _, err := s.ConvertToText([]byte("binary"), "old.doc")
	if !apperr.HasCode(err, apperr.CodeConversion) {
		t.Fatalf("err %v", err)
	}
	if !strings.Contains(err.Error(), "docx") {
		t.Fatalf("message should suggest docx: %v", err)
	}
}

func TestConvertPDFUnavailable(t *testing.T) {
	s := NewService(0)
	_, _, err := s.ConvertToText([]byte("%PDF-1.7"), "doc.pdf")
	if !apperr.HasCode(err, apperr.CodeConversion) {
		t.Fatalf("err %v", err)
	}
}

func TestConvertibleCoversRefusalFormats(t *testing.T) {
	s := NewService(0)
	for _, name := range []string{"notes.txt", "report.docx", "old.doc", "doc.pdf", "doc.hwp"} {
		if !s.Convertible(name) {
			t.Errorf("%s not convertible", name)
		}
	}
	if s.Convertible("photo.png") {
		t.Error("png should not be attempted")
	}
}

func TestConvertAppliesTokenLimit(t *testing.T) {
	s := NewService(10) // 40-char budget
	long := strings.Repeat("line\n", 40)
	got, _, err := s.ConvertToText([]byte(long), "big.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, markerFor(long)) {
		t.Fatalf("not truncated: %q", got)
	}
}
