package domain

import (
	"fmt"

	"github.com/goccy/go-json"
)

// StringList accepts either a single string or a list of strings in JSON.
// Lists OR-combine unless the owning field carries an explicit operator.
type StringList []string

// UnmarshalJSON accepts "x", ["x","y"], or null.
func (s *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*s = StringList(many)
		return nil
	}
	return fmt.Errorf("expected string or list of strings, got %s", string(data))
}

// FromAny builds a StringList from a decoded JSON value.
func StringListFromAny(v any) (StringList, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return StringList{t}, nil
	case []string:
		return StringList(t), nil
	case []any:
		out := make(StringList, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", v)
	}
}

// FilterParams carries server-side inclusion predicates, serialized into a
// single $filter fragment by the URL builder.
type FilterParams struct {
	IsRead         *bool  `json:"is_read,omitempty"`
	HasAttachments *bool  `json:"has_attachments,omitempty"`
	Importance     string `json:"importance,omitempty"`

	FromAddress   StringList `json:"from_address,omitempty"`
	SenderAddress StringList `json:"sender_address,omitempty"`

	Subject             StringList `json:"subject,omitempty"`
	SubjectOperator     string     `json:"subject_operator,omitempty"` // "or" (default) or "and"
	BodyContent         StringList `json:"body_content,omitempty"`
	BodyContentOperator string     `json:"body_content_operator,omitempty"`

	// A single *_date_time means an implicit ge; a from/to pair is inclusive.
	ReceivedDateTime string `json:"received_date_time,omitempty"`
	ReceivedDateFrom string `json:"received_date_from,omitempty"`
	ReceivedDateTo   string `json:"received_date_to,omitempty"`
	SentDateTime     string `json:"sent_date_time,omitempty"`
	SentDateFrom     string `json:"sent_date_from,omitempty"`
	SentDateTo       string `json:"sent_date_to,omitempty"`
	CreatedDateTime  string `json:"created_date_time,omitempty"`
	CreatedDateFrom  string `json:"created_date_from,omitempty"`
	CreatedDateTo    string `json:"created_date_to,omitempty"`

	Categories     []string `json:"categories,omitempty"`
	FlagStatus     string   `json:"flag_status,omitempty"`
	ID             string   `json:"id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	ParentFolderID string   `json:"parent_folder_id,omitempty"`
}

// IsZero reports whether no predicate is set.
func (f *FilterParams) IsZero() bool {
	if f == nil {
		return true
	}
	return f.IsRead == nil && f.HasAttachments == nil && f.Importance == "" &&
		len(f.FromAddress) == 0 && len(f.SenderAddress) == 0 &&
		len(f.Subject) == 0 && len(f.BodyContent) == 0 &&
		f.ReceivedDateTime == "" && f.ReceivedDateFrom == "" && f.ReceivedDateTo == "" &&
		f.SentDateTime == "" && f.SentDateFrom == "" && f.SentDateTo == "" &&
		f.CreatedDateTime == "" && f.CreatedDateFrom == "" && f.CreatedDateTo == "" &&
		len(f.Categories) == 0 && f.FlagStatus == "" &&
		f.ID == "" && f.ConversationID == "" && f.ParentFolderID == ""
}

// ExcludeParams carries exclusion predicates. The URL builder serializes the
// server-expressible subset (ne / not contains); the client-side post-filter
// supports every field.
type ExcludeParams struct {
	FromAddress   StringList `json:"exclude_from_address,omitempty"`
	SenderAddress StringList `json:"exclude_sender_address,omitempty"`

	Subject     StringList `json:"exclude_subject,omitempty"`
	BodyContent StringList `json:"exclude_body_content,omitempty"`
	BodyPreview StringList `json:"exclude_body_preview,omitempty"`

	Importance              string `json:"exclude_importance,omitempty"`
	Sensitivity             string `json:"exclude_sensitivity,omitempty"`
	InferenceClassification string `json:"exclude_inference_classification,omitempty"`

	IsRead                     *bool `json:"exclude_is_read,omitempty"`
	IsDraft                    *bool `json:"exclude_is_draft,omitempty"`
	HasAttachments             *bool `json:"exclude_has_attachments,omitempty"`
	IsDeliveryReceiptRequested *bool `json:"exclude_is_delivery_receipt_requested,omitempty"`
	IsReadReceiptRequested     *bool `json:"exclude_is_read_receipt_requested,omitempty"`

	Categories []string `json:"exclude_categories,omitempty"`
	ID         string   `json:"exclude_id,omitempty"`
}

// IsZero reports whether no exclusion is set.
func (e *ExcludeParams) IsZero() bool {
	if e == nil {
		return true
	}
	return len(e.FromAddress) == 0 && len(e.SenderAddress) == 0 &&
		len(e.Subject) == 0 && len(e.BodyContent) == 0 && len(e.BodyPreview) == 0 &&
		e.Importance == "" && e.Sensitivity == "" && e.InferenceClassification == "" &&
		e.IsRead == nil && e.IsDraft == nil && e.HasAttachments == nil &&
		e.IsDeliveryReceiptRequested == nil && e.IsReadReceiptRequested == nil &&
		len(e.Categories) == 0 && e.ID == ""
}

// SelectParams is a set of boolean field flags projected into Graph camelCase
// field names. The zero value selects nothing; callers typically start from
// DefaultSelectParams.
type SelectParams struct {
	ID                         bool `json:"id,omitempty"`
	Subject                    bool `json:"subject,omitempty"`
	Body                       bool `json:"body,omitempty"`
	BodyPreview                bool `json:"body_preview,omitempty"`
	UniqueBody                 bool `json:"unique_body,omitempty"`
	FromRecipient              bool `json:"from_recipient,omitempty"`
	Sender                     bool `json:"sender,omitempty"`
	ToRecipients               bool `json:"to_recipients,omitempty"`
	CcRecipients               bool `json:"cc_recipients,omitempty"`
	BccRecipients              bool `json:"bcc_recipients,omitempty"`
	ReplyTo                    bool `json:"reply_to,omitempty"`
	ReceivedDateTime           bool `json:"received_date_time,omitempty"`
	SentDateTime               bool `json:"sent_date_time,omitempty"`
	CreatedDateTime            bool `json:"created_date_time,omitempty"`
	LastModifiedDateTime       bool `json:"last_modified_date_time,omitempty"`
	HasAttachments             bool `json:"has_attachments,omitempty"`
	Importance                 bool `json:"importance,omitempty"`
	IsRead                     bool `json:"is_read,omitempty"`
	IsDraft                    bool `json:"is_draft,omitempty"`
	ConversationID             bool `json:"conversation_id,omitempty"`
	ConversationIndex          bool `json:"conversation_index,omitempty"`
	ParentFolderID             bool `json:"parent_folder_id,omitempty"`
	Categories                 bool `json:"categories,omitempty"`
	Flag                       bool `json:"flag,omitempty"`
	InternetMessageID          bool `json:"internet_message_id,omitempty"`
	InternetMessageHeaders     bool `json:"internet_message_headers,omitempty"`
	WebLink                    bool `json:"web_link,omitempty"`
	InferenceClassification    bool `json:"inference_classification,omitempty"`
	ChangeKey                  bool `json:"change_key,omitempty"`
	IsDeliveryReceiptRequested bool `json:"is_delivery_receipt_requested,omitempty"`
	IsReadReceiptRequested     bool `json:"is_read_receipt_requested,omitempty"`
}

// selectField pairs a flag accessor with its Graph field name. The slice
// fixes iteration order so serialization is deterministic.
type selectField struct {
	graphName string
	isSet     func(*SelectParams) bool
}

var selectFields = []selectField{
	{"id", func(s *SelectParams) bool { return s.ID }},
	{"subject", func(s *SelectParams) bool { return s.Subject }},
	{"body", func(s *SelectParams) bool { return s.Body }},
	{"bodyPreview", func(s *SelectParams) bool { return s.BodyPreview }},
	{"uniqueBody", func(s *SelectParams) bool { return s.UniqueBody }},
	{"from", func(s *SelectParams) bool { return s.FromRecipient }},
	{"sender", func(s *SelectParams) bool { return s.Sender }},
	{"toRecipients", func(s *SelectParams) bool { return s.ToRecipients }},
	{"ccRecipients", func(s *SelectParams) bool { return s.CcRecipients }},
	{"bccRecipients", func(s *SelectParams) bool { return s.BccRecipients }},
	{"replyTo", func(s *SelectParams) bool { return s.ReplyTo }},
	{"receivedDateTime", func(s *SelectParams) bool { return s.ReceivedDateTime }},
	{"sentDateTime", func(s *SelectParams) bool { return s.SentDateTime }},
	{"createdDateTime", func(s *SelectParams) bool { return s.CreatedDateTime }},
	{"lastModifiedDateTime", func(s *SelectParams) bool { return s.LastModifiedDateTime }},
	{"hasAttachments", func(s *SelectParams) bool { return s.HasAttachments }},
	{"importance", func(s *SelectParams) bool { return s.Importance }},
	{"isRead", func(s *SelectParams) bool { return s.IsRead }},
	{"isDraft", func(s *SelectParams) bool { return s.IsDraft }},
	{"conversationId", func(s *SelectParams) bool { return s.ConversationID }},
	{"conversationIndex", func(s *SelectParams) bool { return s.ConversationIndex }},
	{"parentFolderId", func(s *SelectParams) bool { return s.ParentFolderID }},
	{"categories", func(s *SelectParams) bool { return s.Categories }},
	{"flag", func(s *SelectParams) bool { return s.Flag }},
	{"internetMessageId", func(s *SelectParams) bool { return s.InternetMessageID }},
	{"internetMessageHeaders", func(s *SelectParams) bool { return s.InternetMessageHeaders }},
	{"webLink", func(s *SelectParams) bool { return s.WebLink }},
	{"inferenceClassification", func(s *SelectParams) bool { return s.InferenceClassification }},
	{"changeKey", func(s *SelectParams) bool { return s.ChangeKey }},
	{"isDeliveryReceiptRequested", func(s *SelectParams) bool { return s.IsDeliveryReceiptRequested }},
	{"isReadReceiptRequested", func(s *SelectParams) bool { return s.IsReadReceiptRequested }},
}

// Fields returns the Graph field names for the enabled flags, in the fixed
// table order.
func (s *SelectParams) Fields() []string {
	if s == nil {
		return nil
	}
	var fields []string
	for _, f := range selectFields {
		if f.isSet(s) {
			fields = append(fields, f.graphName)
		}
	}
	return fields
}

// IsZero reports whether no field flag is enabled.
func (s *SelectParams) IsZero() bool {
	return s == nil || len(s.Fields()) == 0
}

// Union enables every flag that is set in other.
func (s *SelectParams) Union(other *SelectParams) {
	if other == nil {
		return
	}
	s.ID = s.ID || other.ID
	s.Subject = s.Subject || other.Subject
	s.Body = s.Body || other.Body
	s.BodyPreview = s.BodyPreview || other.BodyPreview
	s.UniqueBody = s.UniqueBody || other.UniqueBody
	s.FromRecipient = s.FromRecipient || other.FromRecipient
	s.Sender = s.Sender || other.Sender
	s.ToRecipients = s.ToRecipients || other.ToRecipients
	s.CcRecipients = s.CcRecipients || other.CcRecipients
	s.BccRecipients = s.BccRecipients || other.BccRecipients
	s.ReplyTo = s.ReplyTo || other.ReplyTo
	s.ReceivedDateTime = s.ReceivedDateTime || other.ReceivedDateTime
	s.SentDateTime = s.SentDateTime || other.SentDateTime
	s.CreatedDateTime = s.CreatedDateTime || other.CreatedDateTime
	s.LastModifiedDateTime = s.LastModifiedDateTime || other.LastModifiedDateTime
	s.HasAttachments = s.HasAttachments || other.HasAttachments
	s.Importance = s.Importance || other.Importance
	s.IsRead = s.IsRead || other.IsRead
	s.IsDraft = s.IsDraft || other.IsDraft
	s.ConversationID = s.ConversationID || other.ConversationID
	s.ConversationIndex = s.ConversationIndex || other.ConversationIndex
	s.ParentFolderID = s.ParentFolderID || other.ParentFolderID
	s.Categories = s.Categories || other.Categories
	s.Flag = s.Flag || other.Flag
	s.InternetMessageID = s.InternetMessageID || other.InternetMessageID
	s.InternetMessageHeaders = s.InternetMessageHeaders || other.InternetMessageHeaders
	s.WebLink = s.WebLink || other.WebLink
	s.InferenceClassification = s.InferenceClassification || other.InferenceClassification
	s.ChangeKey = s.ChangeKey || other.ChangeKey
	s.IsDeliveryReceiptRequested = s.IsDeliveryReceiptRequested || other.IsDeliveryReceiptRequested
	s.IsReadReceiptRequested = s.IsReadReceiptRequested || other.IsReadReceiptRequested
}

// DefaultSelectParams is the projection used when a caller supplies none.
func DefaultSelectParams() *SelectParams {
	return &SelectParams{
		ID:               true,
		Subject:          true,
		BodyPreview:      true,
		FromRecipient:    true,
		ToRecipients:     true,
		ReceivedDateTime: true,
		HasAttachments:   true,
		Importance:       true,
		IsRead:           true,
	}
}
