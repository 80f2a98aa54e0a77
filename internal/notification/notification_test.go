package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"patternpilot/internal/model"
)

func TestQuadrantAlert(t *testing.T) {
	p := model.RotationPoint{TS: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), RSRatio: 101.234, RSMomentum: 99.5}
	a := QuadrantAlert("XLK", model.Improving, model.Leading, p)
	if a.Level != AlertWarning {
		t.Errorf("level = %s, want WARNING", a.Level)
	}
	if a.Title != "XLK rotated into Leading" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Fields["rs_ratio"] != "101.23" || a.Fields["as_of"] != "2026-10-16" {
		t.Errorf("fields = %v", a.Fields)
	}
	if b := QuadrantAlert("XLU", model.Leading, model.Weakening, p); b.Level != AlertInfo {
		t.Errorf("weakening level = %s, want INFO", b.Level)
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Level: AlertInfo, Title: "t", Message: "m", Symbol: "XLF"})
	if err != nil {
		t.Fatal(err)
	}
	if got["title"] != "t" || got["symbol"] != "XLF" || got["ts"] == nil || got["source"] != "patternpilot" {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestTelegramNotifier_EscapesAndPosts(t *testing.T) {
	var path, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		json.Unmarshal(body, &m)
		text, _ = m["text"].(string)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "42")
	tg.baseURL = srv.URL
	err := tg.Send(context.Background(), Alert{Level: AlertCritical, Title: "refresh-failed", Message: "v1.2", Fields: map[string]string{"job": "rotation"}})
	if err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if !strings.HasPrefix(text, "🚨 *refresh\\-failed*") {
		t.Errorf("header = %q", text)
	}
	if !strings.Contains(text, `refresh\-failed`) || !strings.Contains(text, `v1\.2`) || !strings.Contains(text, "job: rotation") {
		t.Errorf("text = %q", text)
	}
}

type failing struct{}

func (failing) Send(context.Context, Alert) error { return errors.New("down") }

func TestMulti_JoinsErrors(t *testing.T) {
	m := Multi{NewLogNotifier(), failing{}, failing{}}
	err := m.Send(context.Background(), Alert{Title: "x"})
	if err == nil || strings.Count(err.Error(), "down") != 2 {
		t.Errorf("err = %v", err)
	}
}

func TestRenderTelegram_SymbolTag(t *testing.T) {
	text := renderTelegram(Alert{Level: AlertWarning, Title: "XLK rotated into Leading", Message: "ok", Symbol: "BRK.B"})
	if !strings.Contains(text, `\#BRK\.B`) {
		t.Errorf("text = %q", text)
	}
	if escapeCode("a`b\\c") != "a\\`b\\\\c" {
		t.Errorf("escapeCode = %q", escapeCode("a`b\\c"))
	}
}
