package domain

import "time"

// QueryMethod names the engine entry point that produced a result.
type QueryMethod string

const (
	QueryMethodFilter  QueryMethod = "filter"
	QueryMethodSearch  QueryMethod = "search"
	QueryMethodURL     QueryMethod = "url"
	QueryMethodBatchID QueryMethod = "batch_id"
)

// QueryError records a single failed page or $batch sub-request.
type QueryError struct {
	MailID  string `json:"mail_id,omitempty"`
	Page    int    `json:"page,omitempty"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"error"`
}

// QueryResult is the envelope returned by every query engine entry point.
// Value holds whatever succeeded; Errors holds per-page or per-ID failures.
type QueryResult struct {
	Status         string        `json:"status"`
	Value          []Message     `json:"value"`
	Total          int           `json:"total"`
	ODataCount     int           `json:"@odata.count,omitempty"`
	RequestURL     string        `json:"request_url,omitempty"`
	PagesRequested int           `json:"pages_requested,omitempty"`
	FetchTime      float64       `json:"fetch_time_sec"`
	QueryMethod    QueryMethod   `json:"query_method"`
	Errors         []QueryError  `json:"errors,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// NewQueryError builds the uniform error envelope of a failed query call.
func NewQueryError(method QueryMethod, err error) *QueryResult {
	return &QueryResult{
		Status:      "error",
		Error:       err.Error(),
		Value:       []Message{},
		QueryMethod: method,
	}
}

// Finish stamps duration and totals on a successful result.
func (r *QueryResult) Finish(start time.Time) *QueryResult {
	if r.Status == "" {
		r.Status = "success"
	}
	r.Total = len(r.Value)
	r.FetchTime = time.Since(start).Seconds()
	return r
}
