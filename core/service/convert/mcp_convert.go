// Package convert turns attachment bytes into plain text bounded by a token
// budget, so file contents fit into an LLM context window.
package convert

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"outlook_mcp_server/core/port/out"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

const (
	// charsPerToken is the rough chars-to-tokens estimate used for budgeting.
	charsPerToken = 4
	// DefaultTokenLimit bounds converted text when callers give no limit.
	DefaultTokenLimit = 50000

	truncationMarkerFmt = "\n\n[content truncated: token limit reached, original ~%d tokens]"
)

// legacyFormats cannot be parsed without the old binary OLE readers; users
// get a pointed message instead of garbage text.
var legacyFormats = map[string]string{
	"doc": "docx",
	"xls": "xlsx",
	"ppt": "pptx",
}

// unavailableFormats need parsers this service does not ship.
var unavailableFormats = map[string]bool{
	"pdf":  true,
	"hwp":  true,
	"hwpx": true,
}

// Service routes files to converters by extension and applies the token
// budget to whatever text comes out.
type Service struct {
	converters []out.Converter
	tokenLimit int
	log        zerolog.Logger
}

// NewService builds the registry with the default converters.
func NewService(tokenLimit int) *Service {
	if tokenLimit <= 0 {
		tokenLimit = DefaultTokenLimit
	}
	s := &Service{
		tokenLimit: tokenLimit,
		log:        logger.Component("convert"),
	}
	s.Register(NewTextConverter())
	s.Register(NewOfficeConverter())
	return s
}

// Register appends a converter. Earlier registrations win on overlap.
func (s *Service) Register(c out.Converter) {
	s.converters = append(s.converters, c)
}

// Supported reports whether any converter handles the file.
func (s *Service) Supported(filename string) bool {
	return s.converterFor(fileExt(filename)) != nil
}

/// Convertible reports whether a conversion attempt is worth making: either a
// converter handles the file, or the format earns a structured refusal
// (legacy office, pdf, hwp) that callers should surface. Plain binaries like
// images are not attempted.
func (s *Service) Convertible(filename string) bool {
	ext := fileExt(filename)
	if _, ok := legacyFormats[ext]; ok {
		return true
	}
	if unavailableFormats[ext] {
		return true
	}
	return s.converterFor(ext) != nil
}

// ConvertToText converts the file and truncates the result to the token
// budget. The bool reports whether a conversion actually ran.
func (s *Service) ConvertToText(data []byte, filename string) (string, bool, error) {
	return s.ConvertToTextWithLimit(data, filename, s.tokenLimit)
}

// ConvertToTextWithLimit is ConvertToText with a per-call token budget.
func (s *Service) ConvertToTextWithLimit(data []byte, filename string, tokenLimit int) (string, bool, error) {
	ext := fileExt(filename)

	if modern, ok := legacyFormats[ext]; ok {
		return "", false, apperr.Conversion(filename,
			fmt.Errorf("legacy .%s format is not supported, re-save the file as .%s", ext, modern))
	}
	if unavailableFormats[ext] {
		return "", false, apperr.Conversion(filename,
			fmt.Errorf("no text converter available for .%s", ext))
	}

	converter := s.converterFor(ext)
	if converter == nil {
		return "", false, apperr.Conversion(filename,
			fmt.Errorf("unsupported file type .%s", ext))
	}

	text, err := converter.Convert(data, filename)
	if err != nil {
		return "", false, apperr.Conversion(filename, err)
	}

	if tokenLimit <= 0 {
		tokenLimit = s.tokenLimit
	}
	truncated, wasTruncated := TruncateToTokenBudget(text, tokenLimit)
	if wasTruncated {
		s.log.Debug().Str("file", filename).Int("token_limit", tokenLimit).Msg("converted text truncated")
	}
	return truncated, true, nil
}

func (s *Service) converterFor(ext string) out.Converter {
	for _, c := range s.converters {
		if c.Supports(ext) {
			return c
		}
	}
	return nil
}

// TruncateToTokenBudget bounds text to roughly limit tokens at charsPerToken
// chars each. The cut lands on the last newline, or failing that the last
// sentence end, within the final fifth of the allowed window so sentences
// are not chopped mid-word. Returns the text and whether it was truncated.
func TruncateToTokenBudget(text string, limit int) (string, bool) {
	if limit <= 0 {
		limit = DefaultTokenLimit
	}
	budget := limit * charsPerToken
	if len(text) <= budget {
		return text, false
	}

	cut := budget
	// Do not split a multi-byte rune.
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}

	windowStart := budget - budget/5
	window := text[windowStart:cut]
	if idx := strings.LastIndexByte(window, '\n'); idx >= 0 {
		cut = windowStart + idx
	} else if idx := lastSentenceEnd(window); idx >= 0 {
		cut = windowStart + idx + 1
	}

	marker := fmt.Sprintf(truncationMarkerFmt, len(text)/charsPerToken)
	return strings.TrimRight(text[:cut], " \n\t") + marker, true
}

func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func fileExt(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
