package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"outlook_mcp_server/pkg/apperr"
	"outlook_mcp_server/pkg/logger"
)

// TokenProvider returns the current access token for the session. Reading it
// per request means a refreshed token applies without rebuilding clients.
type TokenProvider func() string

// httpCore is the shared HTTP layer of the Graph adapter: auth header,
// circuit breaker, JSON decoding and the status-code taxonomy.
type httpCore struct {
	client  *http.Client
	token   TokenProvider
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func newHTTPCore(client *http.Client, token TokenProvider) *httpCore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &httpCore{
		client:  client,
		token:   token,
		breaker: breaker,
		log:     logger.Component("graph_http"),
	}
}

// do executes one authenticated request through the breaker and maps
// non-2xx statuses onto the error taxonomy. The returned bytes are the raw
// response body of a successful call.
func (c *httpCore) do(ctx context.Context, method, rawURL string, body []byte, contentType string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doOnce(ctx, method, rawURL, body, contentType)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.Wrap(err, apperr.CodeGraphQuery, "graph circuit open, request rejected")
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *httpCore) doOnce(ctx context.Context, method, rawURL string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeGraphQuery, "build graph request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeGraphQuery, "graph request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeGraphQuery, "read graph response")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, c.statusError(resp, rawURL, data)
}

// statusError maps a non-2xx Graph response. 401 means the token is no
// longer usable and the session must re-authenticate; 429 is surfaced with
// its Retry-After rather than retried here.
func (c *httpCore) statusError(resp *http.Response, rawURL string, body []byte) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		c.log.Warn().Str("url", rawURL).Msg("graph returned 401")
		return apperr.New(apperr.CodeAuthRequired,
			fmt.Sprintf("graph rejected token (status 401): %s", truncateBody(body)))
	case http.StatusTooManyRequests:
		err := apperr.New(apperr.CodeThrottled, "graph throttled the request")
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil {
				err = err.WithDetail("retry_after_seconds", seconds)
			} else {
				err = err.WithDetail("retry_after", retryAfter)
			}
		}
		return err
	default:
		return apperr.GraphQuery(rawURL, resp.StatusCode, string(body))
	}
}

// getJSON performs a GET and decodes the response into out.
func (c *httpCore) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	data, err := c.do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(err, apperr.CodeGraphQuery, "decode graph response")
	}
	return nil
}

// postJSON marshals body, POSTs it, and decodes the response into out when
// out is non-nil.
func (c *httpCore) postJSON(ctx context.Context, rawURL string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeGraphQuery, "encode graph request")
	}
	data, err := c.do(ctx, http.MethodPost, rawURL, payload, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(err, apperr.CodeGraphQuery, "decode graph response")
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
