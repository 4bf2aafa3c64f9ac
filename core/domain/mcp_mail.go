package domain

// Recipient is a Graph recipient wrapper.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// EmailAddress is a name/address pair.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// ItemBody is a Graph message body.
type ItemBody struct {
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content,omitempty"`
}

// FollowupFlag is the Graph flag facet.
type FollowupFlag struct {
	FlagStatus string `json:"flagStatus,omitempty"`
}

// Attachment is a Graph attachment record. ContentBytes is present only for
// file attachments below Graph's inline-bytes limit.
type Attachment struct {
	ODataType    string `json:"@odata.type,omitempty"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	Size         int64  `json:"size"`
	IsInline     bool   `json:"isInline"`
	ContentBytes string `json:"contentBytes,omitempty"`
}

// Message mirrors the Graph message resource for the fields this service
// selects. Fields excluded by $select decode to their zero values.
type Message struct {
	ID                         string        `json:"id,omitempty"`
	Subject                    string        `json:"subject,omitempty"`
	BodyPreview                string        `json:"bodyPreview,omitempty"`
	Body                       *ItemBody     `json:"body,omitempty"`
	UniqueBody                 *ItemBody     `json:"uniqueBody,omitempty"`
	From                       *Recipient    `json:"from,omitempty"`
	Sender                     *Recipient    `json:"sender,omitempty"`
	ToRecipients               []Recipient   `json:"toRecipients,omitempty"`
	CcRecipients               []Recipient   `json:"ccRecipients,omitempty"`
	BccRecipients              []Recipient   `json:"bccRecipients,omitempty"`
	ReplyTo                    []Recipient   `json:"replyTo,omitempty"`
	ReceivedDateTime           string        `json:"receivedDateTime,omitempty"`
	SentDateTime               string        `json:"sentDateTime,omitempty"`
	CreatedDateTime            string        `json:"createdDateTime,omitempty"`
	LastModifiedDateTime       string        `json:"lastModifiedDateTime,omitempty"`
	HasAttachments             *bool         `json:"hasAttachments,omitempty"`
	Importance                 string        `json:"importance,omitempty"`
	Sensitivity                string        `json:"sensitivity,omitempty"`
	IsRead                     *bool         `json:"isRead,omitempty"`
	IsDraft                    *bool         `json:"isDraft,omitempty"`
	IsDeliveryReceiptRequested *bool         `json:"isDeliveryReceiptRequested,omitempty"`
	IsReadReceiptRequested     *bool         `json:"isReadReceiptRequested,omitempty"`
	ConversationID             string        `json:"conversationId,omitempty"`
	ConversationIndex          string        `json:"conversationIndex,omitempty"`
	ParentFolderID             string        `json:"parentFolderId,omitempty"`
	Categories                 []string      `json:"categories,omitempty"`
	Flag                       *FollowupFlag `json:"flag,omitempty"`
	InternetMessageID          string        `json:"internetMessageId,omitempty"`
	InferenceClassification    string        `json:"inferenceClassification,omitempty"`
	ChangeKey                  string        `json:"changeKey,omitempty"`
	WebLink                    string        `json:"webLink,omitempty"`
	Attachments                []Attachment  `json:"attachments,omitempty"`
}

// FromAddress returns the from address, or "" when absent.
func (m *Message) FromAddress() string {
	if m.From == nil {
		return ""
	}
	return m.From.EmailAddress.Address
}

// SenderAddress returns the sender address, or "" when absent.
func (m *Message) SenderAddress() string {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.EmailAddress.Address
}

// FromName returns the display name of the from recipient, or "" when absent.
func (m *Message) FromName() string {
	if m.From == nil {
		return ""
	}
	return m.From.EmailAddress.Name
}

// SendRequest describes an outgoing message for the sendMail endpoint.
type SendRequest struct {
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	BodyType string   `json:"body_type,omitempty"` // "text" (default) or "html"
	To       []string `json:"to_recipients"`
	Cc       []string `json:"cc_recipients,omitempty"`
	Bcc      []string `json:"bcc_recipients,omitempty"`
}
