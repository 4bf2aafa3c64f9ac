package graph

import (
	"strings"

	"outlook_mcp_server/core/domain"
)

// ApplyExcludeFilter drops messages matching any set exclusion. It runs on
// every page as it arrives, so applying it again to an already-filtered
// slice is a no-op. String matching is case-insensitive substring for
// subject/body fields and case-insensitive equality for addresses and enums.
func ApplyExcludeFilter(messages []domain.Message, exclude *domain.ExcludeParams) []domain.Message {
	if exclude.IsZero() {
		return messages
	}
	kept := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if !excluded(&m, exclude) {
			kept = append(kept, m)
		}
	}
	return kept
}

func excluded(m *domain.Message, e *domain.ExcludeParams) bool {
	if matchesAddress(m.FromAddress(), e.FromAddress) {
		return true
	}
	if matchesAddress(m.SenderAddress(), e.SenderAddress) {
		return true
	}
	if containsAny(m.Subject, e.Subject) {
		return true
	}
	if m.Body != nil && containsAny(m.Body.Content, e.BodyContent) {
		return true
	}
	if containsAny(m.BodyPreview, e.BodyPreview) {
		return true
	}
	if e.Importance != "" && strings.EqualFold(m.Importance, e.Importance) {
		return true
	}
	if e.Sensitivity != "" && strings.EqualFold(m.Sensitivity, e.Sensitivity) {
		return true
	}
	if e.InferenceClassification != "" && strings.EqualFold(m.InferenceClassification, e.InferenceClassification) {
		return true
	}
	if boolMatches(m.IsRead, e.IsRead) {
		return true
	}
	if boolMatches(m.IsDraft, e.IsDraft) {
		return true
	}
	if boolMatches(m.HasAttachments, e.HasAttachments) {
		return true
	}
	if boolMatches(m.IsDeliveryReceiptRequested, e.IsDeliveryReceiptRequested) {
		return true
	}
	if boolMatches(m.IsReadReceiptRequested, e.IsReadReceiptRequested) {
		return true
	}
	if len(e.Categories) > 0 && categoryOverlap(m.Categories, e.Categories) {
		return true
	}
	if e.ID != "" && m.ID == e.ID {
		return true
	}
	return false
}

// matchesAddress treats an unset message field as a non-match: a message
// with no from cannot be excluded by address.
func matchesAddress(address string, excluded domain.StringList) bool {
	if address == "" {
		return false
	}
	for _, candidate := range excluded {
		if strings.EqualFold(address, candidate) {
			return true
		}
	}
	return false
}

func containsAny(text string, keywords domain.StringList) bool {
	if text == "" || len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// boolMatches excludes only when the field was selected (non-nil) and equals
// the excluded value.
func boolMatches(value, excluded *bool) bool {
	return value != nil && excluded != nil && *value == *excluded
}

func categoryOverlap(have, excluded []string) bool {
	for _, h := range have {
		for _, e := range excluded {
			if strings.EqualFold(h, e) {
				return true
			}
		}
	}
	return false
}
