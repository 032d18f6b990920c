package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	logx "modbot/pkg/logx"

	kit "modbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short: %q", got)
	}

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(long, 8, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("newline split: %q", got)
	}

	html := "abcdef<b>bold</b>"
	for _, c := range splitTelegramText(html, 8, "HTML") {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("cut inside tag: %q", c)
		}
	}
}

type fakeAPI struct {
	mu    sync.Mutex
	texts []string
	form  []map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.texts = append(f.texts, body["text"].(string))
	f.form = append(f.form, body)
	id := len(f.texts)
	f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":     true,
		"result": map[string]any{"message_id": id, "chat": map[string]any{"id": 42}},
	})
}

func TestSendTextChunksAndThread(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	s, err := New(Config{Token: "T", APIURL: srv.URL, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text := strings.Repeat("x", telegramTextLimit) + "tail"
	ref, err := s.SendText(context.Background(), kit.ChatTarget{ChatID: 42, ThreadID: 7}, text, nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.MessageID != 1 || ref.ChatID != 42 || ref.ThreadID != 7 {
		t.Fatalf("ref: %+v", ref)
	}
	if len(api.texts) != 2 || api.texts[1] != "tail" {
		t.Fatalf("chunks: %d", len(api.texts))
	}
	if th, _ := api.form[0]["message_thread_id"].(string); th != "7" {
		t.Fatalf("thread id not forwarded: %v", api.form[0]["message_thread_id"])
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
