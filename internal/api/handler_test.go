package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sameerkhn8107-ui/azahar/internal/identity"
	"github.com/sameerkhn8107-ui/azahar/internal/session"
	"github.com/sameerkhn8107-ui/azahar/internal/store"
	"github.com/sameerkhn8107-ui/azahar/internal/stream"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "bad input")

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "bad input" {
		t.Errorf("Expected error message, got %v", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.Allow("u1") {
		t.Error("third request inside the window should be rejected")
	}
	if !rl.Allow("u2") {
		t.Error("other users are limited independently")
	}
}

// scriptedStreamer plays back a fixed sequence of stream events.
type scriptedStreamer struct {
	words []string
}

func (s *scriptedStreamer) OpenTurn(_ context.Context, _ stream.TurnRequest) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		for _, w := range s.words {
			if !yield(stream.Event{Word: w}, nil) {
				return
			}
		}
		yield(stream.Event{Done: true}, nil)
	}
}

// newTestServer wires a real SQLite store and coordinator behind the full
// route table, with identity handled by the production middleware. The
// returned client carries the anon cookie between requests.
func newTestServer(t *testing.T, streamer session.Streamer) (*httptest.Server, *http.Client) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := session.NewCoordinator(repo, streamer, nil, nil, nil, session.Options{}, logger)
	h := NewHandler(repo, coordinator, NewRateLimiter(100, time.Minute), logger)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return srv, &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestChatStreamRelaysFrames(t *testing.T) {
	t.Parallel()

	srv, client := newTestServer(t, &scriptedStreamer{words: []string{"Hello", " there"}})

	resp := postJSON(t, client, srv.URL+"/api/chat/stream", ChatStreamRequest{Message: "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var words []string
	sawDone := false
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f sseFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		if f.Done {
			sawDone = true
			break
		}
		words = append(words, f.Word)
	}
	if got := strings.Join(words, ""); got != "Hello there" {
		t.Errorf("relayed content = %q", got)
	}
	if !sawDone {
		t.Error("missing done frame")
	}
}

func TestChatStreamRequiresMessage(t *testing.T) {
	t.Parallel()

	srv, client := newTestServer(t, &scriptedStreamer{})

	resp := postJSON(t, client, srv.URL+"/api/chat/stream", ChatStreamRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStopWithoutStreamReportsFalse(t *testing.T) {
	t.Parallel()

	srv, client := newTestServer(t, &scriptedStreamer{})

	resp := postJSON(t, client, srv.URL+"/api/chat/stop", map[string]string{})
	var got map[string]bool
	decodeBody(t, resp, &got)
	if got["stopped"] {
		t.Error("expected stopped=false with no stream in flight")
	}
}

func TestModeSelectAndGet(t *testing.T) {
	t.Parallel()

	srv, client := newTestServer(t, &scriptedStreamer{})

	resp := postJSON(t, client, srv.URL+"/api/mode", map[string]string{"mode": "learn"})
	var selected map[string]string
	decodeBody(t, resp, &selected)
	if selected["active_mode"] != "learn" {
		t.Fatalf("active_mode = %q after select", selected["active_mode"])
	}

	getResp, err := client.Get(srv.URL + "/api/mode")
	if err != nil {
		t.Fatalf("GET /api/mode: %v", err)
	}
	var got map[string]string
	decodeBody(t, getResp, &got)
	if got["active_mode"] != "learn" {
		t.Errorf("active_mode = %q, want learn", got["active_mode"])
	}

	badResp := postJSON(t, client, srv.URL+"/api/mode", map[string]string{"mode": "wizard"})
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown mode status = %d, want 400", badResp.StatusCode)
	}
}

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()

	srv, client := newTestServer(t, &scriptedStreamer{words: []string{"sure"}})

	created := postJSON(t, client, srv.URL+"/api/conversations/", map[string]string{})
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", created.StatusCode)
	}
	var conv map[string]string
	decodeBody(t, created, &conv)
	id := conv["id"]
	if id == "" {
		t.Fatal("missing conversation id")
	}

	listResp, err := client.Get(srv.URL + "/api/conversations/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed struct {
		Conversations []map[string]any `json:"conversations"`
	}
	decodeBody(t, listResp, &listed)
	if len(listed.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(listed.Conversations))
	}

	renamed := func() *http.Response {
		req, err := http.NewRequest(http.MethodPatch, srv.URL+"/api/conversations/"+id, strings.NewReader(`{"title":"My Chat"}`))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
		return resp
	}()
	var renameBody map[string]string
	decodeBody(t, renamed, &renameBody)
	if renameBody["title"] != "My Chat" {
		t.Errorf("renamed title = %q", renameBody["title"])
	}

	msgResp, err := client.Get(srv.URL + "/api/conversations/" + id + "/messages")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	var msgs struct {
		Messages []map[string]any `json:"messages"`
	}
	decodeBody(t, msgResp, &msgs)
	if len(msgs.Messages) != 0 {
		t.Errorf("fresh conversation should have no messages, got %d", len(msgs.Messages))
	}

	delReq, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/conversations/"+id, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	delResp, err := client.Do(delReq)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", delResp.StatusCode)
	}

	goneResp, err := client.Get(srv.URL + "/api/conversations/" + id + "/messages")
	if err != nil {
		t.Fatalf("messages after delete: %v", err)
	}
	goneResp.Body.Close()
	if goneResp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted conversation status = %d, want 404", goneResp.StatusCode)
	}
}

func TestMemoryEndpointReturnsSeededRecord(t *testing.T) {
	t.Parallel()

	srv, client := newTestServer(t, &scriptedStreamer{})

	resp, err := client.Get(srv.URL + "/api/memory")
	if err != nil {
		t.Fatalf("GET /api/memory: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got struct {
		Memory map[string]any `json:"memory"`
	}
	decodeBody(t, resp, &got)
	if got.Memory == nil {
		t.Error("expected a memory object, even when empty")
	}
}

func TestConversationOwnershipEnforced(t *testing.T) {
	t.Parallel()

	srv, clientA := newTestServer(t, &scriptedStreamer{})

	created := postJSON(t, clientA, srv.URL+"/api/conversations/", map[string]string{})
	var conv map[string]string
	decodeBody(t, created, &conv)

	// A second client gets its own anon identity and must not see A's
	// conversation.
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	clientB := &http.Client{Jar: jar}
	resp, err := clientB.Get(srv.URL + "/api/conversations/" + conv["id"] + "/messages")
	if err != nil {
		t.Fatalf("cross-user read: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-user status = %d, want 404", resp.StatusCode)
	}
}

func TestChatStreamOwnershipEnforced(t *testing.T) {
	t.Parallel()

	srv, clientA := newTestServer(t, &scriptedStreamer{words: []string{"hi"}})

	created := postJSON(t, clientA, srv.URL+"/api/conversations/", map[string]string{})
	var conv map[string]string
	decodeBody(t, created, &conv)

	// A second identity must not be able to submit a turn into A's
	// conversation.
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	clientB := &http.Client{Jar: jar}
	resp, err := clientB.Post(srv.URL+"/api/chat/stream", "application/json",
		strings.NewReader(`{"message":"hijack","conversation_id":"`+conv["id"]+`"}`))
	if err != nil {
		t.Fatalf("cross-user turn: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-user turn status = %d, want 404", resp.StatusCode)
	}

	// The victim's conversation must stay empty.
	msgResp, err := clientA.Get(srv.URL + "/api/conversations/" + conv["id"] + "/messages")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	var msgs struct {
		Messages []map[string]any `json:"messages"`
	}
	decodeBody(t, msgResp, &msgs)
	if len(msgs.Messages) != 0 {
		t.Errorf("foreign turn leaked into the conversation: %+v", msgs.Messages)
	}
}
