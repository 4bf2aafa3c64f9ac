package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"outlook_mcp_server/core/port/out"
)

var officeExtensions = []string{"docx", "xlsx", "pptx"}

// OfficeConverter extracts text from OOXML documents by reading the XML
// parts straight out of the zip container.
type OfficeConverter struct{}

var _ out.Converter = (*OfficeConverter)(nil)

func NewOfficeConverter() *OfficeConverter {
	return &OfficeConverter{}
}

func (c *OfficeConverter) Supports(ext string) bool {
	for _, e := range officeExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (c *OfficeConverter) SupportedExtensions() []string {
	return append([]string(nil), officeExtensions...)
}

func (c *OfficeConverter) Convert(data []byte, filename string) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a valid OOXML container: %w", err)
	}

	switch fileExt(filename) {
	case "docx":
		return extractDocx(reader)
	case "xlsx":
		return extractXlsx(reader)
	case "pptx":
		return extractPptx(reader)
	default:
		return "", fmt.Errorf("unsupported office format")
	}
}

func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, f := range reader.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("part %s not found", name)
}

// extractDocx walks word/document.xml collecting w:t runs; each w:p
// paragraph becomes a line.
func extractDocx(reader *zip.Reader) (string, error) {
	data, err := readZipFile(reader, "word/document.xml")
	if err != nil {
		return "", err
	}
	return extractParagraphText(data, "p", "t")
}

// extractPptx concatenates the slides in order; a:t carries the text runs.
func extractPptx(reader *zip.Reader) (string, error) {
	var slides []string
	for _, f := range reader.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f.Name)
		}
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("no slides found")
	}
	sort.Strings(slides)

	var b strings.Builder
	for i, name := range slides {
		data, err := readZipFile(reader, name)
		if err != nil {
			return "", err
		}
		text, err := extractParagraphText(data, "p", "t")
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return strings.TrimSpace(b.String()), nil
}

// extractParagraphText streams an OOXML part, emitting the character data of
// every <textElem> and a newline at the close of every <paragraphElem>.
func extractParagraphText(data []byte, paragraphElem, textElem string) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var b strings.Builder
	var inText bool

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document xml: %w", err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == textElem {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == textElem {
				inText = false
			}
			if t.Name.Local == paragraphElem {
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// sharedStrings is xl/sharedStrings.xml: each si holds one (possibly
// multi-run) string.
type sharedStrings struct {
	Items []struct {
		Text  string   `xml:"t"`
		Runs  []string `xml:"r>t"`
	} `xml:"si"`
}

func (s *sharedStrings) value(i int) string {
	if i < 0 || i >= len(s.Items) {
		return ""
	}
	item := s.Items[i]
	if len(item.Runs) > 0 {
		return strings.Join(item.Runs, "")
	}
	return item.Text
}

// worksheet is the row/cell skeleton of a sheet part.
type worksheet struct {
	Rows []struct {
		Cells []struct {
			Type  string `xml:"t,attr"`
			Value string `xml:"v"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

// extractXlsx renders each sheet as tab-separated rows, resolving shared
// string references.
func extractXlsx(reader *zip.Reader) (string, error) {
	var shared sharedStrings
	if data, err := readZipFile(reader, "xl/sharedStrings.xml"); err == nil {
		if err := xml.Unmarshal(data, &shared); err != nil {
			return "", fmt.Errorf("parse shared strings: %w", err)
		}
	}

	var sheets []string
	for _, f := range reader.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheets = append(sheets, f.Name)
		}
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("no worksheets found")
	}
	sort.Strings(sheets)

	var b strings.Builder
	for i, name := range sheets {
		data, err := readZipFile(reader, name)
		if err != nil {
			return "", err
		}
		var sheet worksheet
		if err := xml.Unmarshal(data, &sheet); err != nil {
			return "", fmt.Errorf("parse worksheet: %w", err)
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		for _, row := range sheet.Rows {
			values := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				if cell.Type == "s" {
					values[j] = shared.value(atoiSafe(cell.Value))
				} else {
					values[j] = cell.Value
				}
			}
			b.WriteString(strings.Join(values, "\t"))
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	if s == "" {
		return -1
	}
	return n
}
