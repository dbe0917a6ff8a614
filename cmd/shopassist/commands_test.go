package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/shopassist/internal/config"
	"github.com/kalambet/shopassist/internal/pipeline"
	"github.com/kalambet/shopassist/internal/proxy"
	"github.com/kalambet/shopassist/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	UserID string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with the mapped JSON body. An
// empty body answers 204.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			UserID: r.Header.Get("X-User-ID"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			if resp == "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		userID:     7,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSendChat(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/chat/messages": `{"sessionId":12,"reply":"Dạ có ạ","createdAt":"2026-03-01T09:00:00Z"}`,
	})

	sessionID := int64(12)
	reply, err := sendChat(ctx, ts.client(), chatRequest{SessionID: &sessionID, Message: "còn size 39 không?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "Dạ có ạ" || reply.SessionID == nil || *reply.SessionID != 12 {
		t.Errorf("unexpected reply: %+v", reply)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.UserID != "7" {
		t.Errorf("X-User-ID = %q, want 7", r.UserID)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "còn size 39 không?" || body["sessionId"] != float64(12) {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["productId"]; ok {
		t.Errorf("productId should be omitted: %v", body)
	}
}

func TestChatCommand_MissingUser(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"chat", "xin chào"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing --user")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestFetchLatest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/chat/sessions/latest": `{"sessionId":3,"agent":"chat","status":"OPEN","messages":[{"messageId":1,"role":"user","content":"hi"}]}`,
	})

	view, err := fetchLatest(ctx, ts.client(), "chat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view == nil || view.ID != 3 || len(view.Messages) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if ts.requests[0].Path != "/api/chat/sessions/latest?agent=chat" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestFetchLatest_NoContent(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/chat/sessions/latest": "",
	})

	view, err := fetchLatest(ctx, ts.client(), "stylist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view != nil {
		t.Fatalf("expected nil view, got %+v", view)
	}
}

func TestFetchMessages_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, err := fetchMessages(ctx, ts.client(), 99)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}

func TestImportCatalog(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/catalog/import": `{"categories":1,"colors":2,"products":1,"sizes":2,"variants":3}`,
	})

	path := filepath.Join(t.TempDir(), "catalog.json")
	content := `{"categories":[{"id":1,"name":"Sandal"}],"products":[{"id":5,"name":"Sandal Đế Bệt","categoryId":1}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	req, err := readImportFile(path)
	if err != nil {
		t.Fatalf("readImportFile: %v", err)
	}
	stats, err := importCatalog(ctx, ts.client(), req)
	if err != nil {
		t.Fatalf("importCatalog: %v", err)
	}
	if stats.Products != 1 || stats.Variants != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
	if !strings.Contains(ts.requests[0].Body, `"categoryId":1`) {
		t.Errorf("body lost categoryId: %s", ts.requests[0].Body)
	}
}

func TestReadImportFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte(`{"products": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readImportFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := readImportFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestServerNotReachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	ts.Close()

	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintMessages(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	var buf bytes.Buffer
	printMessages(&buf, []pipeline.MessageView{
		{ID: 1, Role: storage.RoleUser, Content: "còn size 39 không?", CreatedAt: at},
		{ID: 2, Role: storage.RoleAssistant, Content: "Dạ còn ạ", CreatedAt: at},
	})

	want := "[2026-03-01 09:00] khách: còn size 39 không?\n[2026-03-01 09:00] trợ lý: Dạ còn ạ\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestCompletionConfig(t *testing.T) {
	cfg := config.Config{Gemini: config.GeminiConfig{APIKey: "k", Model: "m", Temperature: 0.3, MaxOutputTokens: 100, Timeout: "5s"}}

	got := completionConfig(cfg)
	if got.Timeout != 5*time.Second || got.APIKey != "k" || got.Model != "m" || got.MaxOutputTokens != 100 {
		t.Errorf("unexpected config: %+v", got)
	}

	cfg.Gemini.Timeout = "soon"
	if got := completionConfig(cfg); got.Timeout != proxy.DefaultTimeout {
		t.Errorf("timeout = %v, want default %v", got.Timeout, proxy.DefaultTimeout)
	}
}

func TestJoinOrDash(t *testing.T) {
	if got := joinOrDash(nil); got != "-" {
		t.Errorf("joinOrDash(nil) = %q", got)
	}
	if got := joinOrDash([]string{"39", "40"}); got != "39, 40" {
		t.Errorf("joinOrDash = %q", got)
	}
}

func TestConfigShow_ListsKeys(t *testing.T) {
	cfg := config.Config{Server: config.ServerConfig{Port: 8080}}
	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "8080" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=8080 in ShowAll output")
	}
}
