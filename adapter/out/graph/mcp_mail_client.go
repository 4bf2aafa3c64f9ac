package graph

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

// attachmentSelect is the projection used when fetching messages for the
// attachment pipeline: enough to build folder names and save the body.
func attachmentSelect() *domain.SelectParams {
	return &domain.SelectParams{
		ID:               true,
		Subject:          true,
		FromRecipient:    true,
		ReceivedDateTime: true,
		Body:             true,
		HasAttachments:   true,
	}
}

// MailClient covers the non-query mail operations of one user: attachment
// retrieval, single-message reads and sending.
type MailClient struct {
	core      *httpCore
	builder   *URLBuilder
	query     *QueryClient
	userEmail string
	log       zerolog.Logger
}

// NewMailClient shares the QueryClient's HTTP core so both run behind the
// same circuit breaker.
func NewMailClient(httpClient *http.Client, token TokenProvider, userEmail string, cfg QueryClientConfig) *MailClient {
	query := NewQueryClient(httpClient, token, userEmail, cfg)
	return &MailClient{
		core:      query.core,
		builder:   query.builder,
		query:     query,
		userEmail: userEmail,
		log:       logger.Component("graph_mail").With().Str("user", userEmail).Logger(),
	}
}

// Query exposes the underlying query client.
func (m *MailClient) Query() *QueryClient {
	return m.query
}

// SetBaseURLForTest points both clients at a test server.
func (m *MailClient) SetBaseURLForTest(base string) {
	m.query.SetBaseURLForTest(base)
	m.builder = m.query.builder
}

// GetMessagesWithAttachments batch-fetches the given message IDs with
// attachments expanded inline, for the attachment pipeline. The pipeline's
// default fields are always requested; a caller projection only adds to them.
func (m *MailClient) GetMessagesWithAttachments(ctx context.Context, messageIDs []string, sel *domain.SelectParams) *domain.QueryResult {
	merged := attachmentSelect()
	merged.Union(sel)
	return m.query.BatchFetchByIDs(ctx, messageIDs, merged, "attachments")
}

// GetMessage fetches a single message.
func (m *MailClient) GetMessage(ctx context.Context, messageID string, sel *domain.SelectParams, expand string) (*domain.Message, error) {
	rawURL := m.builder.MessageURL(m.userEmail, messageID, sel, expand)
	var msg domain.Message
	if err := m.core.getJSON(ctx, rawURL, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListAttachments lists the attachments of a message. Inline content bytes
// come back only for file attachments Graph inlines.
func (m *MailClient) ListAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	rawURL := m.builder.AttachmentsURL(m.userEmail, messageID)
	var resp struct {
		Value []domain.Attachment `json:"value"`
	}
	if err := m.core.getJSON(ctx, rawURL, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetAttachment fetches one attachment with its content bytes.
func (m *MailClient) GetAttachment(ctx context.Context, messageID, attachmentID string) (*domain.Attachment, error) {
	rawURL := m.builder.AttachmentURL(m.userEmail, messageID, attachmentID)
	var att domain.Attachment
	if err := m.core.getJSON(ctx, rawURL, &att); err != nil {
		return nil, err
	}
	return &att, nil
}

// sendMailBody is the Graph sendMail payload.
type sendMailBody struct {
	Message struct {
		Subject       string             `json:"subject"`
		Body          domain.ItemBody    `json:"body"`
		ToRecipients  []domain.Recipient `json:"toRecipients"`
		CcRecipients  []domain.Recipient `json:"ccRecipients,omitempty"`
		BccRecipients []domain.Recipient `json:"bccRecipients,omitempty"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

// SendMail sends a message through /sendMail. Graph replies 202 with an
// empty body on success.
func (m *MailClient) SendMail(ctx context.Context, req *domain.SendRequest) error {
	if len(req.To) == 0 {
		return apperr.ValidationFailed("to_recipients is required")
	}
	contentType := "Text"
	if req.BodyType == "html" {
		contentType = "HTML"
	}

	var body sendMailBody
	body.Message.Subject = req.Subject
	body.Message.Body = domain.ItemBody{ContentType: contentType, Content: req.Body}
	body.Message.ToRecipients = toRecipients(req.To)
	body.Message.CcRecipients = toRecipients(req.Cc)
	body.Message.BccRecipients = toRecipients(req.Bcc)
	body.SaveToSentItems = true

	if err := m.core.postJSON(ctx, m.builder.SendMailURL(m.userEmail), &body, nil); err != nil {
		return err
	}
	m.log.Info().Int("recipients", len(req.To)).Msg("mail sent")
	return nil
}

func toRecipients(addresses []string) []domain.Recipient {
	if len(addresses) == 0 {
		return nil
	}
	recipients := make([]domain.Recipient, len(addresses))
	for i, addr := range addresses {
		recipients[i] = domain.Recipient{EmailAddress: domain.EmailAddress{Address: addr}}
	}
	return recipients
}
