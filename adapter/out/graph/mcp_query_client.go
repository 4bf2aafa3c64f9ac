package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

const (
	// defaultPageSize is the per-request $top of the paginator.
	defaultPageSize = 150
	// defaultMaxConcurrency bounds in-flight page requests per query.
	defaultMaxConcurrency = 3
	// defaultFilterTop is the overall cap when the caller gives none.
	defaultFilterTop = 450
	// maxBatchSize is Graph's sub-request limit per $batch call.
	maxBatchSize = 20
)

// listResponse is the Graph collection envelope.
type listResponse struct {
	ODataCount int              `json:"@odata.count"`
	Value      []domain.Message `json:"value"`
}

// QueryClientConfig tunes a QueryClient. Zero values fall back to defaults.
type QueryClientConfig struct {
	PageSize       int
	MaxConcurrency int
	BatchSize      int
}

func (c QueryClientConfig) withDefaults() QueryClientConfig {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.BatchSize <= 0 || c.BatchSize > maxBatchSize {
		c.BatchSize = maxBatchSize
	}
	return c
}

// QueryClient runs mail queries for one authenticated user. Each entry
// point returns a QueryResult envelope; partial page or sub-request failures
// land in Errors while successful messages still come back in Value.
type QueryClient struct {
	core      *httpCore
	builder   *URLBuilder
	userEmail string
	cfg       QueryClientConfig
	log       zerolog.Logger
}

// NewQueryClient builds a client for userEmail. token is read per request so
// refreshed tokens take effect immediately.
func NewQueryClient(httpClient *http.Client, token TokenProvider, userEmail string, cfg QueryClientConfig) *QueryClient {
	return &QueryClient{
		core:      newHTTPCore(httpClient, token),
		builder:   NewURLBuilder(),
		userEmail: userEmail,
		cfg:       cfg.withDefaults(),
		log:       logger.Component("graph_query").With().Str("user", userEmail).Logger(),
	}
}

// SetBaseURLForTest points the client at a test server, keeping the
// Graph API version segment so request paths match production.
func (q *QueryClient) SetBaseURLForTest(base string) {
	q.builder = NewURLBuilderWithBase(strings.TrimRight(base, "/") + "/v1.0")
}

// QueryFilter runs a $filter query with parallel pagination and the
// client-side exclusion pass. $select and $orderby appear only when the
// caller asked for them; Graph's defaults apply otherwise, and an injected
// orderby could trip Graph's filter/orderby combination restrictions.
func (q *QueryClient) QueryFilter(ctx context.Context, filter *domain.FilterParams, exclude *domain.ExcludeParams, sel *domain.SelectParams, orderBy string, top int) *domain.QueryResult {
	start := time.Now()
	if top <= 0 {
		top = defaultFilterTop
	}

	baseURL, err := q.builder.MessagesURL(q.userEmail, QueryOptions{
		Filter:  filter,
		Exclude: exclude,
		Select:  sel,
		OrderBy: orderBy,
	})
	if err != nil {
		return domain.NewQueryError(domain.QueryMethodFilter, err)
	}

	result := q.paginate(ctx, baseURL, top, exclude)
	result.QueryMethod = domain.QueryMethodFilter
	result.RequestURL = baseURL
	return result.Finish(start)
}

// QuerySearch runs a $search query. Graph caps $search at 250 results on a
// single page and rejects $skip, so no pagination happens here.
func (q *QueryClient) QuerySearch(ctx context.Context, search string, exclude *domain.ExcludeParams, sel *domain.SelectParams, top int) *domain.QueryResult {
	start := time.Now()
	if top <= 0 || top > searchResultCap {
		top = searchResultCap
	}
	if sel.IsZero() {
		sel = domain.DefaultSelectParams()
	}

	rawURL, err := q.builder.MessagesURL(q.userEmail, QueryOptions{
		Search: search,
		Select: sel,
		Top:    top,
	})
	if err != nil {
		return domain.NewQueryError(domain.QueryMethodSearch, err)
	}

	var page listResponse
	if err := q.core.getJSON(ctx, rawURL, &page); err != nil {
		return domain.NewQueryError(domain.QueryMethodSearch, err)
	}

	result := &domain.QueryResult{
		Value:          ApplyExcludeFilter(page.Value, exclude),
		ODataCount:     page.ODataCount,
		RequestURL:     rawURL,
		PagesRequested: 1,
		QueryMethod:    domain.QueryMethodSearch,
	}
	return result.Finish(start)
}

// QueryURL paginates a caller-supplied Graph URL. The URL is used as given;
// only $top and $skip are appended per page.
func (q *QueryClient) QueryURL(ctx context.Context, rawURL string, exclude *domain.ExcludeParams, top int) *domain.QueryResult {
	start := time.Now()
	if top <= 0 {
		top = defaultFilterTop
	}
	result := q.paginate(ctx, rawURL, top, exclude)
	result.QueryMethod = domain.QueryMethodURL
	result.RequestURL = rawURL
	return result.Finish(start)
}

// paginate fans page requests out under the concurrency bound, post-filters
// each page as it lands, and reassembles pages in order. A failed page
// becomes a QueryError; the other pages still contribute their messages.
func (q *QueryClient) paginate(ctx context.Context, baseURL string, top int, exclude *domain.ExcludeParams) *domain.QueryResult {
	pageSize := q.cfg.PageSize
	pages := (top + pageSize - 1) / pageSize

	type pageResult struct {
		index    int
		messages []domain.Message
		count    int
		err      error
	}

	sem := semaphore.NewWeighted(int64(q.cfg.MaxConcurrency))
	results := make([]pageResult, pages)
	var wg sync.WaitGroup

	for i := 0; i < pages; i++ {
		size := pageSize
		if remaining := top - i*pageSize; remaining < size {
			size = remaining
		}
		pageURL := addPagingParams(baseURL, size, i*pageSize)

		wg.Add(1)
		go func(index int, pageURL string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[index] = pageResult{index: index, err: err}
				return
			}
			defer sem.Release(1)

			var page listResponse
			if err := q.core.getJSON(ctx, pageURL, &page); err != nil {
				results[index] = pageResult{index: index, err: err}
				return
			}
			results[index] = pageResult{
				index:    index,
				messages: ApplyExcludeFilter(page.Value, exclude),
				count:    page.ODataCount,
			}
		}(i, pageURL)
	}
	wg.Wait()

	result := &domain.QueryResult{
		Value:          []domain.Message{},
		PagesRequested: pages,
	}
	for _, page := range results {
		if page.err != nil {
			result.Errors = append(result.Errors, domain.QueryError{
				Page:    page.index + 1,
				Status:  statusOf(page.err),
				Message: page.err.Error(),
			})
			continue
		}
		result.Value = append(result.Value, page.messages...)
		if page.count > result.ODataCount {
			result.ODataCount = page.count
		}
	}
	if len(result.Errors) > 0 {
		if len(result.Value) > 0 {
			result.Status = "partial"
		} else {
			result.Status = "error"
			result.Error = result.Errors[0].Message
		}
	}
	return result
}

// batchResponse is the $batch envelope; sub-response bodies stay raw until
// their status is known.
type batchResponse struct {
	Responses []struct {
		ID     string          `json:"id"`
		Status int             `json:"status"`
		Body   json.RawMessage `json:"body"`
	} `json:"responses"`
}

// BatchFetchByIDs fetches messages by ID through $batch, 20 sub-requests per
// call. Results preserve the input ID order; failed IDs become per-ID
// QueryErrors without failing the rest.
func (q *QueryClient) BatchFetchByIDs(ctx context.Context, messageIDs []string, sel *domain.SelectParams, expand string) *domain.QueryResult {
	start := time.Now()
	if sel.IsZero() {
		sel = domain.DefaultSelectParams()
	}

	byID := make(map[string]*domain.Message, len(messageIDs))
	result := &domain.QueryResult{
		Value:       []domain.Message{},
		QueryMethod: domain.QueryMethodBatchID,
	}

	for chunkStart := 0; chunkStart < len(messageIDs); chunkStart += q.cfg.BatchSize {
		chunkEnd := chunkStart + q.cfg.BatchSize
		if chunkEnd > len(messageIDs) {
			chunkEnd = len(messageIDs)
		}
		chunk := messageIDs[chunkStart:chunkEnd]

		body := q.builder.BuildBatchRequests(q.userEmail, chunk, sel, expand)
		var resp batchResponse
		if err := q.core.postJSON(ctx, q.builder.BatchURL(), body, &resp); err != nil {
			for _, id := range chunk {
				result.Errors = append(result.Errors, domain.QueryError{
					MailID:  id,
					Status:  statusOf(err),
					Message: err.Error(),
				})
			}
			continue
		}

		for _, sub := range resp.Responses {
			id := subRequestMailID(chunk, sub.ID)
			if sub.Status < 200 || sub.Status >= 300 {
				result.Errors = append(result.Errors, domain.QueryError{
					MailID:  id,
					Status:  sub.Status,
					Message: fmt.Sprintf("batch sub-request failed with status %d", sub.Status),
				})
				continue
			}
			var msg domain.Message
			if err := json.Unmarshal(sub.Body, &msg); err != nil {
				result.Errors = append(result.Errors, domain.QueryError{
					MailID:  id,
					Message: fmt.Sprintf("decode batch sub-response: %v", err),
				})
				continue
			}
			byID[msg.ID] = &msg
			if msg.ID == "" && id != "" {
				byID[id] = &msg
			}
		}
	}

	// Reassemble in input order regardless of Graph's response ordering.
	for _, id := range messageIDs {
		if msg, ok := byID[id]; ok {
			result.Value = append(result.Value, *msg)
		}
	}
	sort.SliceStable(result.Errors, func(i, j int) bool {
		return indexOf(messageIDs, result.Errors[i].MailID) < indexOf(messageIDs, result.Errors[j].MailID)
	})

	if len(result.Errors) > 0 {
		if len(result.Value) > 0 {
			result.Status = "partial"
		} else {
			result.Status = "error"
			result.Error = result.Errors[0].Message
		}
	}
	return result.Finish(start)
}

// subRequestMailID maps a numeric $batch sub-request ID back to its mail ID.
func subRequestMailID(chunk []string, subID string) string {
	var n int
	if _, err := fmt.Sscanf(subID, "%d", &n); err != nil {
		return ""
	}
	if n < 1 || n > len(chunk) {
		return ""
	}
	return chunk[n-1]
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return len(ids)
}

// statusOf extracts an HTTP status embedded in an app error detail, or 0.
func statusOf(err error) int {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) && appErr.Details != nil {
		if status, ok := appErr.Details["status"].(int); ok {
			return status
		}
	}
	return 0
}
