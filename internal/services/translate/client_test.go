package translate_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reel/internal/config"
	"reel/internal/services"
	"reel/internal/services/translate"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newClient(t *testing.T, endpoint, target string) *translate.Client {
	t.Helper()
	client, err := translate.NewClient(config.Translate{Endpoint: endpoint, TargetLang: target})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestTranslate(t *testing.T) {
	var gotTarget string
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req struct {
			Q      string `json:"q"`
			Target string `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotTarget = req.Target
		_ = json.NewEncoder(w).Encode(map[string]string{"translatedText": "hello"})
	})

	client := newClient(t, server.URL, "en")
	got, err := client.Translate(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected translation: %q", got)
	}
	if gotTarget != "en" {
		t.Fatalf("unexpected target language: %q", gotTarget)
	}
}

func TestTranslateEmptyText(t *testing.T) {
	client := newClient(t, "http://unused.invalid", "en")
	got, err := client.Translate(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestTranslateRateLimited(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "90")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client := newClient(t, server.URL, "en")
	_, err := client.Translate(context.Background(), "hola")
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate-limited error, got %v", err)
	}
	hint, ok := services.RetryAfterHint(err)
	if !ok || hint != 90*time.Second {
		t.Fatalf("expected retry-after hint, got %v %v", hint, ok)
	}
}

func TestTranslateServerError(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client := newClient(t, server.URL, "en")
	_, err := client.Translate(context.Background(), "hola")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

const sampleSRT = `1
00:00:01,000 --> 00:00:02,500
hola mundo

2
00:00:03,000 --> 00:00:04,000
adios
mundo
`

func TestTranslateSubtitleFile(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Q string `json:"q"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"translatedText": "[en] " + req.Q})
	})

	dir := t.TempDir()
	source := filepath.Join(dir, "clip.srt")
	if err := os.WriteFile(source, []byte(sampleSRT), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	client := newClient(t, server.URL, "en")
	output, err := client.TranslateSubtitleFile(context.Background(), source)
	if err != nil {
		t.Fatalf("TranslateSubtitleFile: %v", err)
	}
	if filepath.Base(output) != "clip_en.srt" {
		t.Fatalf("unexpected output name: %s", output)
	}

	content, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "00:00:01,000 --> 00:00:02,500") {
		t.Fatal("timestamps should be preserved")
	}
	if !strings.Contains(text, "[en] hola mundo") {
		t.Fatalf("first cue not translated: %s", text)
	}
	if !strings.Contains(text, "[en] adios mundo") {
		t.Fatalf("multi-line cue should be joined: %s", text)
	}
}

func TestTranslateSubtitleFileReusesOutput(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "clip.srt")
	existing := filepath.Join(dir, "clip_en.srt")
	if err := os.WriteFile(source, []byte(sampleSRT), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := os.WriteFile(existing, []byte("done"), 0o644); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	client := newClient(t, "http://unused.invalid", "en")
	output, err := client.TranslateSubtitleFile(context.Background(), source)
	if err != nil {
		t.Fatalf("TranslateSubtitleFile: %v", err)
	}
	if output != existing {
		t.Fatalf("expected existing output reuse, got %s", output)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := translate.NewClient(config.Translate{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
