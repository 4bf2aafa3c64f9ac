package graph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"outlook_mcp_server/core/domain"
)

func newTestMailClient(t *testing.T, handler http.Handler) *MailClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewMailClient(server.Client(), func() string { return "test-token" }, "user@example.com", QueryClientConfig{})
	client.SetBaseURLForTest(server.URL)
	return client
}

func TestGetMessagesWithAttachmentsExpands(t *testing.T) {
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body batchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		responses := make([]map[string]any, len(body.Requests))
		for i, req := range body.Requests {
			if !strings.Contains(req.URL, "expand=attachments") {
				t.Errorf("sub-request missing attachment expand: %q", req.URL)
			}
			responses[i] = map[string]any{
				"id":     req.ID,
				"status": 200,
				"body": map[string]any{
					"id":      lastPathSegment(req.URL),
					"subject": "with attachment",
					"attachments": []map[string]any{
						{"id": "att-1", "name": "report.pdf", "size": 1024},
					},
				},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"responses": responses})
	}))

	result := client.GetMessagesWithAttachments(context.Background(), []string{"m1", "m2"}, nil)

	if result.Total != 2 {
		t.Fatalf("total %d, want 2", result.Total)
	}
	for _, msg := range result.Value {
		if len(msg.Attachments) != 1 || msg.Attachments[0].Name != "report.pdf" {
			t.Fatalf("attachments not expanded: %+v", msg.Attachments)
		}
	}
}

func TestGetMessagesWithAttachmentsMergesSelect(t *testing.T) {
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body batchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		responses := make([]map[string]any, len(body.Requests))
		for i, req := range body.Requests {
			sub, err := url.Parse(req.URL)
			if err != nil {
				t.Fatal(err)
			}
			sel := sub.Query().Get("$select")
			// The pipeline's folder-name fields survive a caller projection.
			for _, field := range []string{"subject", "receivedDateTime", "body", "importance"} {
				if !strings.Contains(sel, field) {
					t.Errorf("$select %q missing %s", sel, field)
				}
			}
			responses[i] = map[string]any{
				"id": req.ID, "status": 200,
				"body": map[string]any{"id": lastPathSegment(sub.Path)},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"responses": responses})
	}))

	result := client.GetMessagesWithAttachments(context.Background(), []string{"m1"}, &domain.SelectParams{Importance: true})
	if result.Status != "success" {
		t.Fatalf("status %q, error %q", result.Status, result.Error)
	}
}

func TestGetAttachment(t *testing.T) {
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/v1.0/users/user@example.com/messages/m1/attachments/att-1"
		if r.URL.Path != want {
			t.Errorf("path %q, want %q", r.URL.Path, want)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "att-1", "name": "notes.txt", "contentBytes": "aGVsbG8=",
		})
	}))

	att, err := client.GetAttachment(context.Background(), "m1", "att-1")
	if err != nil {
		t.Fatal(err)
	}
	if att.Name != "notes.txt" || att.ContentBytes != "aGVsbG8=" {
		t.Fatalf("got %+v", att)
	}
}

func TestSendMail(t *testing.T) {
	var captured sendMailBody
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1.0/users/user@example.com/sendMail" {
			t.Errorf("path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	err := client.SendMail(context.Background(), &domain.SendRequest{
		Subject:  "hello",
		Body:     "<b>hi</b>",
		BodyType: "html",
		To:       []string{"to@example.com"},
		Cc:       []string{"cc@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if captured.Message.Subject != "hello" {
		t.Fatalf("subject %q", captured.Message.Subject)
	}
	if captured.Message.Body.ContentType != "HTML" {
		t.Fatalf("content type %q", captured.Message.Body.ContentType)
	}
	if len(captured.Message.ToRecipients) != 1 || captured.Message.ToRecipients[0].EmailAddress.Address != "to@example.com" {
		t.Fatalf("to %+v", captured.Message.ToRecipients)
	}
	if !captured.SaveToSentItems {
		t.Fatal("saveToSentItems not set")
	}
}

func TestSendMailRequiresRecipient(t *testing.T) {
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	if err := client.SendMail(context.Background(), &domain.SendRequest{Subject: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
}
