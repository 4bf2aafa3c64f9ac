package convert

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"

	"outlook_mcp_server/core/port/out"
)

// textExtensions are handled by decoding bytes to UTF-8; html additionally
// gets its markup stripped.
var textExtensions = []string{"txt", "csv", "md", "markdown", "log", "json", "xml", "html", "htm"}

// TextConverter decodes plain-text-ish files. Byte streams that are not
// valid UTF-8 are tried as EUC-KR, then CP1252, then forced to UTF-8 with
// replacement runes.
type TextConverter struct{}

var _ out.Converter = (*TextConverter)(nil)

func NewTextConverter() *TextConverter {
	return &TextConverter{}
}

func (c *TextConverter) Supports(ext string) bool {
	for _, e := range textExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (c *TextConverter) SupportedExtensions() []string {
	return append([]string(nil), textExtensions...)
}

func (c *TextConverter) Convert(data []byte, filename string) (string, error) {
	text := decodeBytes(data)
	ext := fileExt(filename)
	if ext == "html" || ext == "htm" {
		text = StripHTML(text)
	}
	return text, nil
}

// decodeBytes finds a decoding that round-trips cleanly. UTF-8 input passes
// through untouched.
func decodeBytes(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	if decoded, err := korean.EUCKR.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	decoded, _ := unicode.UTF8.NewDecoder().Bytes(data)
	return string(decoded)
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	breakTagRe    = regexp.MustCompile(`(?i)<(br\s*/?|/p|/div|/tr|/li|/h[1-6])>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

var htmlEntities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

// StripHTML reduces markup to readable text: script/style blocks are
// dropped, block-closing tags become newlines, remaining tags vanish, and
// the common entities are decoded.
func StripHTML(html string) string {
	text := scriptStyleRe.ReplaceAllString(html, "")
	text = breakTagRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = htmlEntities.Replace(text)
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
