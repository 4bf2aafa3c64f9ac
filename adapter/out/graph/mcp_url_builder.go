// Package graph implements the Microsoft Graph mail adapter: URL building,
// parallel-paginated queries, client-side post-filtering and $batch dispatch.
package graph

import (
	"fmt"
	"net/url"
	"strings"

	"outlook_mcp_server/core/domain"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// searchResultCap is Graph's hard limit on $search results per query.
const searchResultCap = 250

// escapeODataLiteral doubles single quotes per OData string literal rules.
func escapeODataLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// orGroup parenthesizes multi-term groups; single terms pass through.
func orGroup(terms []string, op string) string {
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, " "+op+" ") + ")"
}

func normalizeOperator(op string) string {
	if strings.EqualFold(op, "and") {
		return "and"
	}
	return "or"
}

// FilterBuilder serializes FilterParams and ExcludeParams into an OData
// $filter fragment. Output is deterministic: predicates always appear in the
// same order for the same input.
type FilterBuilder struct{}

// BuildFilterQuery AND-joins the inclusion and server-side exclusion
// predicates. Returns "" when nothing is set.
func (FilterBuilder) BuildFilterQuery(filter *domain.FilterParams, exclude *domain.ExcludeParams) string {
	var tokens []string
	tokens = append(tokens, buildInclusionTokens(filter)...)
	tokens = append(tokens, buildExclusionTokens(exclude)...)
	return strings.Join(tokens, " and ")
}

func buildInclusionTokens(f *domain.FilterParams) []string {
	if f.IsZero() {
		return nil
	}
	var tokens []string

	if f.IsRead != nil {
		tokens = append(tokens, fmt.Sprintf("isRead eq %t", *f.IsRead))
	}
	if f.HasAttachments != nil {
		tokens = append(tokens, fmt.Sprintf("hasAttachments eq %t", *f.HasAttachments))
	}
	if f.Importance != "" {
		tokens = append(tokens, fmt.Sprintf("importance eq '%s'", escapeODataLiteral(f.Importance)))
	}

	if len(f.FromAddress) > 0 {
		tokens = append(tokens, addressGroup("from", f.FromAddress))
	}
	if len(f.SenderAddress) > 0 {
		tokens = append(tokens, addressGroup("sender", f.SenderAddress))
	}

	if len(f.Subject) > 0 {
		tokens = append(tokens, containsGroup("subject", f.Subject, f.SubjectOperator))
	}
	if len(f.BodyContent) > 0 {
		tokens = append(tokens, containsGroup("body/content", f.BodyContent, f.BodyContentOperator))
	}

	tokens = append(tokens, dateTokens("receivedDateTime", f.ReceivedDateTime, f.ReceivedDateFrom, f.ReceivedDateTo)...)
	tokens = append(tokens, dateTokens("sentDateTime", f.SentDateTime, f.SentDateFrom, f.SentDateTo)...)
	tokens = append(tokens, dateTokens("createdDateTime", f.CreatedDateTime, f.CreatedDateFrom, f.CreatedDateTo)...)

	for _, category := range f.Categories {
		tokens = append(tokens, fmt.Sprintf("categories/any(c:c eq '%s')", escapeODataLiteral(category)))
	}
	if f.FlagStatus != "" {
		tokens = append(tokens, fmt.Sprintf("flag/flagStatus eq '%s'", escapeODataLiteral(f.FlagStatus)))
	}
	if f.ID != "" {
		tokens = append(tokens, fmt.Sprintf("id eq '%s'", escapeODataLiteral(f.ID)))
	}
	if f.ConversationID != "" {
		tokens = append(tokens, fmt.Sprintf("conversationId eq '%s'", escapeODataLiteral(f.ConversationID)))
	}
	if f.ParentFolderID != "" {
		tokens = append(tokens, fmt.Sprintf("parentFolderId eq '%s'", escapeODataLiteral(f.ParentFolderID)))
	}

	return tokens
}

// buildExclusionTokens renders the server-expressible subset of
// ExcludeParams (ne / not contains). Fields Graph cannot filter server-side
// are left to the client-side post-filter.
func buildExclusionTokens(e *domain.ExcludeParams) []string {
	if e.IsZero() {
		return nil
	}
	var tokens []string

	for _, addr := range e.FromAddress {
		tokens = append(tokens, fmt.Sprintf("from/emailAddress/address ne '%s'", escapeODataLiteral(addr)))
	}
	for _, addr := range e.SenderAddress {
		tokens = append(tokens, fmt.Sprintf("sender/emailAddress/address ne '%s'", escapeODataLiteral(addr)))
	}
	for _, keyword := range e.Subject {
		tokens = append(tokens, fmt.Sprintf("not contains(subject, '%s')", escapeODataLiteral(keyword)))
	}
	if e.Importance != "" {
		tokens = append(tokens, fmt.Sprintf("importance ne '%s'", escapeODataLiteral(e.Importance)))
	}
	if e.IsRead != nil {
		tokens = append(tokens, fmt.Sprintf("isRead ne %t", *e.IsRead))
	}
	if e.HasAttachments != nil {
		tokens = append(tokens, fmt.Sprintf("hasAttachments ne %t", *e.HasAttachments))
	}
	if e.ID != "" {
		tokens = append(tokens, fmt.Sprintf("id ne '%s'", escapeODataLiteral(e.ID)))
	}

	return tokens
}

func addressGroup(field string, addresses domain.StringList) string {
	terms := make([]string, len(addresses))
	for i, addr := range addresses {
		terms[i] = fmt.Sprintf("%s/emailAddress/address eq '%s'", field, escapeODataLiteral(addr))
	}
	return orGroup(terms, "or")
}

func containsGroup(field string, keywords domain.StringList, operator string) string {
	terms := make([]string, len(keywords))
	for i, keyword := range keywords {
		terms[i] = fmt.Sprintf("contains(%s, '%s')", field, escapeODataLiteral(keyword))
	}
	return orGroup(terms, normalizeOperator(operator))
}

// dateTokens renders a single endpoint (implicit ge) or an inclusive range.
func dateTokens(field, single, from, to string) []string {
	var tokens []string
	if from != "" || to != "" {
		if from != "" {
			tokens = append(tokens, fmt.Sprintf("%s ge %s", field, from))
		}
		if to != "" {
			tokens = append(tokens, fmt.Sprintf("%s le %s", field, to))
		}
		return tokens
	}
	if single != "" {
		tokens = append(tokens, fmt.Sprintf("%s ge %s", field, single))
	}
	return tokens
}

// SearchBuilder emits KQL $search fragments. Graph forbids combining $search
// with $filter and caps results at 250.
type SearchBuilder struct{}

// BuildSearchQuery quotes the raw KQL terms for the $search parameter.
func (SearchBuilder) BuildSearchQuery(terms string) string {
	return `"` + strings.ReplaceAll(terms, `"`, `\"`) + `"`
}

// ExpandBuilder composes $select and $expand fragments.
type ExpandBuilder struct{}

// BuildSelectQuery joins the enabled Graph field names.
func (ExpandBuilder) BuildSelectQuery(sel *domain.SelectParams) string {
	return strings.Join(sel.Fields(), ",")
}

// BuildExpandAttachments returns the default expand fragment for the
// attachment pipeline.
func (ExpandBuilder) BuildExpandAttachments() string {
	return "attachments"
}

// URLBuilder produces the full Graph mail URLs and $batch bodies.
type URLBuilder struct {
	base   string
	filter FilterBuilder
	search SearchBuilder
	expand ExpandBuilder
}

// NewURLBuilder creates a builder against the production Graph base URL.
func NewURLBuilder() *URLBuilder {
	return &URLBuilder{base: graphBaseURL}
}

// NewURLBuilderWithBase creates a builder against a custom base (tests).
func NewURLBuilderWithBase(base string) *URLBuilder {
	return &URLBuilder{base: strings.TrimRight(base, "/")}
}

// QueryOptions carries the optional URL parameters of a messages query.
type QueryOptions struct {
	Filter  *domain.FilterParams
	Exclude *domain.ExcludeParams
	Search  string
	Select  *domain.SelectParams
	Expand  string
	OrderBy string
	Top     int
	Skip    int
}

// MessagesURL builds /users/{email}/messages with the requested parameters.
// $search and $filter are mutually exclusive; combining them is rejected
// here rather than by a Graph 400.
func (b *URLBuilder) MessagesURL(userEmail string, opts QueryOptions) (string, error) {
	hasFilter := !opts.Filter.IsZero() || !opts.Exclude.IsZero()
	if opts.Search != "" && hasFilter {
		return "", fmt.Errorf("$search cannot be combined with $filter")
	}

	params := url.Values{}
	if hasFilter {
		if fragment := b.filter.BuildFilterQuery(opts.Filter, opts.Exclude); fragment != "" {
			params.Set("$filter", fragment)
		}
	}
	if opts.Search != "" {
		params.Set("$search", b.search.BuildSearchQuery(opts.Search))
	}
	if !opts.Select.IsZero() {
		params.Set("$select", b.expand.BuildSelectQuery(opts.Select))
	}
	if opts.Expand != "" {
		params.Set("$expand", opts.Expand)
	}
	if opts.OrderBy != "" {
		params.Set("$orderby", opts.OrderBy)
	}
	if opts.Top > 0 {
		params.Set("$top", fmt.Sprintf("%d", opts.Top))
	}
	if opts.Skip > 0 {
		params.Set("$skip", fmt.Sprintf("%d", opts.Skip))
	}

	u := fmt.Sprintf("%s/users/%s/messages", b.base, url.PathEscape(userEmail))
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u, nil
}

// MessageURL builds /users/{email}/messages/{id} with optional select/expand.
func (b *URLBuilder) MessageURL(userEmail, messageID string, sel *domain.SelectParams, expand string) string {
	params := url.Values{}
	if !sel.IsZero() {
		params.Set("$select", b.expand.BuildSelectQuery(sel))
	}
	if expand != "" {
		params.Set("$expand", expand)
	}

	u := fmt.Sprintf("%s/users/%s/messages/%s", b.base, url.PathEscape(userEmail), url.PathEscape(messageID))
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// AttachmentsURL builds /users/{email}/messages/{id}/attachments.
func (b *URLBuilder) AttachmentsURL(userEmail, messageID string) string {
	return fmt.Sprintf("%s/users/%s/messages/%s/attachments",
		b.base, url.PathEscape(userEmail), url.PathEscape(messageID))
}

// AttachmentURL builds /users/{email}/messages/{id}/attachments/{attId}.
func (b *URLBuilder) AttachmentURL(userEmail, messageID, attachmentID string) string {
	return fmt.Sprintf("%s/users/%s/messages/%s/attachments/%s",
		b.base, url.PathEscape(userEmail), url.PathEscape(messageID), url.PathEscape(attachmentID))
}

// BatchURL returns the $batch endpoint.
func (b *URLBuilder) BatchURL() string {
	return b.base + "/$batch"
}

// SendMailURL builds /users/{email}/sendMail.
func (b *URLBuilder) SendMailURL(userEmail string) string {
	return fmt.Sprintf("%s/users/%s/sendMail", b.base, url.PathEscape(userEmail))
}

// batchRequest is one sub-request of a $batch body.
type batchRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

// batchBody is the $batch POST payload.
type batchBody struct {
	Requests []batchRequest `json:"requests"`
}

// BuildBatchRequests produces relative GET sub-requests for a group of
// message IDs. Sub-request IDs are "1"..N in input order.
func (b *URLBuilder) BuildBatchRequests(userEmail string, messageIDs []string, sel *domain.SelectParams, expand string) batchBody {
	params := url.Values{}
	if !sel.IsZero() {
		params.Set("$select", b.expand.BuildSelectQuery(sel))
	}
	if expand != "" {
		params.Set("$expand", expand)
	}

	requests := make([]batchRequest, len(messageIDs))
	for i, id := range messageIDs {
		relative := fmt.Sprintf("/users/%s/messages/%s", url.PathEscape(userEmail), url.PathEscape(id))
		if encoded := params.Encode(); encoded != "" {
			relative += "?" + encoded
		}
		requests[i] = batchRequest{
			ID:     fmt.Sprintf("%d", i+1),
			Method: "GET",
			URL:    relative,
		}
	}
	return batchBody{Requests: requests}
}

// addPagingParams appends $top and $skip to a URL, respecting an existing
// query string.
func addPagingParams(rawURL string, top, skip int) string {
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s$top=%d&$skip=%d", rawURL, separator, top, skip)
}
