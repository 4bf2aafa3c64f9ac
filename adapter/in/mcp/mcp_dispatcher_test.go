package mcp

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"outlook_mcp_server/config"
	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/service/auth"
	"outlook_mcp_server/core/service/session"
	"outlook_mcp_server/pkg/apperr"
)

const testEmail = "user@example.com"

type fakeRepo struct {
	tokens  map[string]*domain.TokenInfo
	deleted []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tokens: map[string]*domain.TokenInfo{}}
}

func (f *fakeRepo) SaveAppConfig(context.Context, *domain.AppConfig) error { return nil }
func (f *fakeRepo) GetAppConfig(context.Context, string) (*domain.AppConfig, error) {
	return nil, nil
}
func (f *fakeRepo) SaveUser(context.Context, *domain.UserProfile) error { return nil }
func (f *fakeRepo) SaveToken(_ context.Context, email string, token *domain.TokenInfo) error {
	f.tokens[email] = token
	return nil
}
func (f *fakeRepo) UpdateToken(ctx context.Context, email string, token *domain.TokenInfo) error {
	return f.SaveToken(ctx, email, token)
}
func (f *fakeRepo) GetToken(_ context.Context, email string) (*domain.TokenInfo, error) {
	return f.tokens[email], nil
}
func (f *fakeRepo) DeleteToken(_ context.Context, email string) error {
	delete(f.tokens, email)
	f.deleted = append(f.deleted, email)
	return nil
}
func (f *fakeRepo) ListUsers(context.Context) ([]domain.UserWithTokenStatus, error) {
	return nil, nil
}
func (f *fakeRepo) CleanupExpiredTokens(context.Context) (int, error) { return 0, nil }
func (f *fakeRepo) Close() error                                     { return nil }

type fakeRefresher struct{}

func (fakeRefresher) CheckAndRefreshIfNeeded(context.Context, string) *domain.RefreshOutcome {
	return &domain.RefreshOutcome{
		Status: domain.RefreshStatusValid,
		Token:  &domain.TokenInfo{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)},
	}
}

// newTestDispatcher wires a dispatcher whose pre-created session talks to
// the given test server instead of Graph.
func newTestDispatcher(t *testing.T, handler http.Handler) (*Dispatcher, *session.Manager, *fakeRepo) {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	catalog, err := LoadCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		StorageBackend: "local",
		StorageBaseDir: t.TempDir(),
		GraphTimeout:   5 * time.Second,
	}
	repo := newFakeRepo()
	authSvc := auth.NewService(repo, auth.Config{ClientID: "client"})
	mgr := session.NewManager(fakeRefresher{}, session.Config{})
	t.Cleanup(mgr.Stop)

	sess, err := mgr.GetOrCreate(context.Background(), testEmail)
	if err != nil {
		t.Fatal(err)
	}
	sess.Mail().SetBaseURLForTest(ts.URL)

	return NewDispatcher(catalog, cfg, authSvc, mgr), mgr, repo
}

func TestDispatchUnknownTool(t *testing.T) {
	d, _, _ := newTestDispatcher(t, http.NotFoundHandler())

	_, err := d.Dispatch(context.Background(), "nope", nil)
	if !apperr.HasCode(err, apperr.CodeToolNotFound) {
		t.Fatalf("err %v", err)
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	var hits atomic.Int32
	d, _, _ := newTestDispatcher(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))

	_, err := d.Dispatch(context.Background(), "query_email_filter", map[string]any{
		"filter": map[string]any{"is_read": false},
	})
	if !apperr.HasCode(err, apperr.CodeValidationFailed) {
		t.Fatalf("err %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("service invoked despite validation failure")
	}
}

func TestDispatchQueryFilterAppliesFactors(t *testing.T) {
	var gotSelect, gotFilter, gotTop string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotSelect = q.Get("$select")
		gotFilter = q.Get("$filter")
		gotTop = q.Get("$top")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"@odata.count":1,"value":[{"id":"m1","subject":"hello"}]}`))
	})
	d, _, _ := newTestDispatcher(t, handler)

	result, err := d.Dispatch(context.Background(), "query_email_filter", map[string]any{
		"user_email": testEmail,
		"filter":     map[string]any{"is_read": false},
		"top":        float64(10),
	})
	if err != nil {
		t.Fatal(err)
	}

	// The internal select factor projects the list fields.
	want := "id,subject,bodyPreview,from,toRecipients,receivedDateTime,hasAttachments,importance,isRead"
	if gotSelect != want {
		t.Fatalf("$select %q", gotSelect)
	}
	if gotFilter != "isRead eq false" {
		t.Fatalf("$filter %q", gotFilter)
	}
	if gotTop != "10" {
		t.Fatalf("$top %q", gotTop)
	}

	qr, ok := result.(*domain.QueryResult)
	if !ok {
		t.Fatalf("result is %T", result)
	}
	if qr.Status != "success" || qr.Total != 1 {
		t.Fatalf("result %+v", qr)
	}
}

func TestDispatchNormalizesBoolEnums(t *testing.T) {
	var gotExpand string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotExpand = r.URL.Query().Get("$expand")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"m1","subject":"hello"}`))
	})
	d, _, _ := newTestDispatcher(t, handler)

	result, err := d.Dispatch(context.Background(), "get_email_detail", map[string]any{
		"user_email":          testEmail,
		"message_id":          "m1",
		"include_attachments": "enabled",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotExpand != "attachments" {
		t.Fatalf("$expand %q", gotExpand)
	}
	msg, ok := result.(*domain.Message)
	if !ok || msg.ID != "m1" {
		t.Fatalf("result %v", result)
	}
}

func TestDispatchTokenErrorInvalidatesSession(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken"}}`))
	})
	d, mgr, _ := newTestDispatcher(t, handler)

	if mgr.Get(testEmail) == nil {
		t.Fatal("session should exist before dispatch")
	}
	_, err := d.Dispatch(context.Background(), "get_email_detail", map[string]any{
		"user_email": testEmail,
		"message_id": "m1",
	})
	if !apperr.HasCode(err, apperr.CodeAuthRequired) {
		t.Fatalf("err %v", err)
	}
	if got := apperr.UserEmail(err); got != testEmail {
		t.Fatalf("user_email detail %q", got)
	}
	if mgr.Get(testEmail) != nil {
		t.Fatal("session not invalidated after 401")
	}
}

func TestDispatchLogout(t *testing.T) {
	d, mgr, repo := newTestDispatcher(t, http.NotFoundHandler())
	repo.tokens[testEmail] = &domain.TokenInfo{AccessToken: "tok"}

	result, err := d.Dispatch(context.Background(), "logout", map[string]any{
		"user_email": testEmail,
	})
	if err != nil {
		t.Fatal(err)
	}
	out, ok := result.(map[string]any)
	if !ok || out["status"] != "logged_out" {
		t.Fatalf("result %v", result)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != testEmail {
		t.Fatalf("deleted %v", repo.deleted)
	}
	if mgr.Get(testEmail) != nil {
		t.Fatal("session survived logout")
	}
}

func TestDispatchSendMail(t *testing.T) {
	var gotPath, gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusAccepted)
	})
	d, _, _ := newTestDispatcher(t, handler)

	result, err := d.Dispatch(context.Background(), "send_email", map[string]any{
		"user_email":    testEmail,
		"subject":       "weekly report",
		"body":          "see below",
		"to_recipients": []any{"boss@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(gotPath, "/sendMail") {
		t.Fatalf("path %q", gotPath)
	}
	if !strings.Contains(gotBody, "weekly report") || !strings.Contains(gotBody, "boss@example.com") {
		t.Fatalf("body %q", gotBody)
	}
	out := result.(map[string]any)
	if out["status"] != "sent" {
		t.Fatalf("result %v", out)
	}
}

func TestDispatchDownloadAttachments(t *testing.T) {
	attachment := base64.StdEncoding.EncodeToString([]byte("attachment body"))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/$batch") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"responses":[{"id":"1","status":200,"body":{
			"id":"m1","subject":"report",
			"from":{"emailAddress":{"name":"Kim","address":"kim@example.com"}},
			"receivedDateTime":"2026-04-01T08:00:00Z",
			"hasAttachments":true,
			"attachments":[{"id":"a1","name":"notes.txt","contentType":"text/plain","contentBytes":"` + attachment + `"}]
		}}]}`))
	})
	d, _, _ := newTestDispatcher(t, handler)

	result, err := d.Dispatch(context.Background(), "download_attachments", map[string]any{
		"user_email":   testEmail,
		"message_ids":  []any{"m1"},
		"include_body": false,
	})
	if err != nil {
		t.Fatal(err)
	}
	pr, ok := result.(*domain.PipelineResult)
	if !ok {
		t.Fatalf("result is %T", result)
	}
	if len(pr.Processed) != 1 || len(pr.Processed[0].SavedFiles) != 1 {
		t.Fatalf("processed %+v", pr.Processed)
	}

	saved := filepath.Join(d.cfg.StorageBaseDir, "20260401_Kim_report", "notes.txt")
	data, err := os.ReadFile(saved)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "attachment body" {
		t.Fatalf("content %q", data)
	}
}
