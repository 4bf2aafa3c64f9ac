package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/core/port/out"
)

func outFolder(path string) out.FolderHandle {
	return out.FolderHandle{Path: path}
}

func newTestOneDrive(t *testing.T, handler http.Handler) *OneDriveBackend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	b := NewOneDriveBackend(server.Client(), "kim@example.com", func() string { return "tok" }, "mcp_downloads")
	b.SetBaseURLForTest(server.URL)
	return b
}

func TestOneDriveEnsureFolderProbesThenCreates(t *testing.T) {
	var created []string
	b := newTestOneDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/users/kim@example.com/drive/") {
			t.Errorf("path not under the user drive: %s", r.URL.Path)
		}
		switch {
		case r.Method == http.MethodGet:
			// The root segment already exists; the mail folder does not.
			if strings.HasSuffix(r.URL.Path, "root:/mcp_downloads") {
				json.NewEncoder(w).Encode(map[string]any{"id": "root1", "name": "mcp_downloads"})
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "children"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if got := body["@microsoft.graph.conflictBehavior"]; got != "rename" {
				t.Errorf("conflictBehavior = %v", got)
			}
			created = append(created, body["name"].(string))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "f1", "name": body["name"]})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	mail := &domain.MailData{Subject: "s", SenderName: "a", ReceivedDateTime: "2026-01-02T00:00:00Z"}
	folder, err := b.CreateFolder(context.Background(), mail)
	if err != nil {
		t.Fatal(err)
	}
	if folder.Path != "mcp_downloads/20260102_a_s" {
		t.Fatalf("path %q", folder.Path)
	}
	// The existing root segment is reused; only the mail folder is created.
	if len(created) != 1 || created[0] != "20260102_a_s" {
		t.Fatalf("created %v", created)
	}
}

func TestOneDriveSimpleUpload(t *testing.T) {
	b := newTestOneDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method %s", r.Method)
		}
		if !strings.HasPrefix(r.URL.Path, "/users/kim@example.com/drive/root:/") {
			t.Errorf("upload path %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.RawQuery, "conflictBehavior=rename") {
			t.Errorf("missing rename conflict behavior: %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth %q", got)
		}
		data, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "i1", "name": "a.txt", "size": len(data),
			"webUrl": "https://onedrive.example/a.txt",
		})
	}))

	folder := outFolder("docs")
	location, err := b.SaveFile(context.Background(), &folder, "a.txt", []byte("small"), "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if location != "https://onedrive.example/a.txt" {
		t.Fatalf("location %q", location)
	}
}

func TestOneDriveChunkedUpload(t *testing.T) {
	var sessionCreates, chunkPuts int32
	var ranges []string

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/upload-session", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&chunkPuts, 1)
		ranges = append(ranges, r.Header.Get("Content-Range"))
		data, _ := io.ReadAll(r.Body)
		if strings.HasSuffix(r.Header.Get("Content-Range"), "/12582912") && bytes.HasSuffix(data, []byte{0xBB}) {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "i2", "webUrl": "https://onedrive.example/big.bin"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"nextExpectedRanges": []string{"10485760-"}})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "createUploadSession") {
			atomic.AddInt32(&sessionCreates, 1)
			json.NewEncoder(w).Encode(map[string]any{"uploadUrl": server.URL + "/upload-session"})
			return
		}
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})

	b := NewOneDriveBackend(server.Client(), "kim@example.com", func() string { return "tok" }, "")
	b.SetBaseURLForTest(server.URL)

	// 12 MiB payload: one 10 MiB chunk plus a 2 MiB final chunk.
	data := bytes.Repeat([]byte{0xAA}, 12<<20)
	data[len(data)-1] = 0xBB

	folder := outFolder("docs")
	location, err := b.SaveFile(context.Background(), &folder, "big.bin", data, "")
	if err != nil {
		t.Fatal(err)
	}
	if location != "https://onedrive.example/big.bin" {
		t.Fatalf("location %q", location)
	}
	if atomic.LoadInt32(&sessionCreates) != 1 {
		t.Fatalf("sessions %d", sessionCreates)
	}
	if atomic.LoadInt32(&chunkPuts) != 2 {
		t.Fatalf("chunks %d", chunkPuts)
	}
	if ranges[0] != "bytes 0-10485759/12582912" || ranges[1] != "bytes 10485760-12582911/12582912" {
		t.Fatalf("ranges %v", ranges)
	}
}

func TestOneDriveChunkFailureCancelsSession(t *testing.T) {
	var deletes int32
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/upload-session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			atomic.AddInt32(&deletes, 1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"uploadUrl": server.URL + "/upload-session"})
	})

	b := NewOneDriveBackend(server.Client(), "kim@example.com", func() string { return "tok" }, "")
	b.SetBaseURLForTest(server.URL)

	folder := outFolder("docs")
	_, err := b.SaveFile(context.Background(), &folder, "big.bin", bytes.Repeat([]byte{1}, 5<<20), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&deletes) != 1 {
		t.Fatalf("session cancel DELETEs %d, want 1", deletes)
	}
}
