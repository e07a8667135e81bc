package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweepd/sweepd/internal/opportunity"
	"github.com/sweepd/sweepd/internal/submit"
)

func sampleAttempt() *submit.Attempt {
	return &submit.Attempt{
		ID:            "att_1",
		OpportunityID: "opp-1",
		Title:         "Concours gratuit",
		URL:           "https://contest.example.com/enter",
		StartedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Duration:      2 * time.Second,
		Outcome:       submit.OutcomeSuccess,
	}
}

func TestWebhookSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL, Secret: "hmac_key"})
	ev := Event{Type: EventAttempt, At: time.Now(), Attempt: sampleAttempt()}
	if err := wh.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("hmac_key"))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}

	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body not valid JSON: %v", err)
	}
	if decoded.Type != EventAttempt || decoded.Attempt.OpportunityID != "opp-1" {
		t.Errorf("decoded = %+v", decoded)
	}

	// The payload carries the duration in milliseconds.
	var raw struct {
		Attempt struct {
			DurationMs int64 `json:"duration_ms"`
		} `json:"attempt"`
	}
	if err := json.Unmarshal(gotBody, &raw); err != nil {
		t.Fatalf("body not valid JSON: %v", err)
	}
	if raw.Attempt.DurationMs != 2000 {
		t.Errorf("duration_ms = %d, want 2000", raw.Attempt.DurationMs)
	}
}

func TestWebhookNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL})
	err := wh.Notify(context.Background(), Event{Type: EventAttempt, Attempt: sampleAttempt()})
	if err == nil {
		t.Fatal("expected error on 403")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v", err)
	}
}

func TestTelegramSendsMarkdown(t *testing.T) {
	var gotPath string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "123:ABC", ChatID: "42", BaseURL: srv.URL})
	ev := Event{
		Type: EventOpportunity,
		Opportunity: &opportunity.Opportunity{
			Title:       "Concours gratuit",
			URL:         "https://contest.example.com",
			Value:       100,
			Priority:    7,
			ExpiresAt:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			Description: "<p>Gagnez un <strong>lot</strong></p>",
		},
	}
	if err := tg.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if gotPath != "/bot123:ABC/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	text, _ := payload["text"].(string)
	if !strings.Contains(text, "Concours gratuit") {
		t.Errorf("text = %q", text)
	}
	if !strings.Contains(text, "**lot**") {
		t.Errorf("description not converted to markdown: %q", text)
	}
	if payload["parse_mode"] != "Markdown" {
		t.Errorf("parse_mode = %v", payload["parse_mode"])
	}
}

func TestRenderAttemptFailure(t *testing.T) {
	att := sampleAttempt()
	att.Outcome = submit.OutcomeCaptchaFailed
	att.Detail = "solver rejected"

	text := renderMarkdown(Event{Type: EventAttempt, Attempt: att})
	if !strings.Contains(text, "captcha_failed") || !strings.Contains(text, "solver rejected") {
		t.Errorf("text = %q", text)
	}
}

type flakySink struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *flakySink) Name() string { return "flaky" }

func (f *flakySink) Notify(context.Context, Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

// WHAT: one failing sink never blocks delivery to the others, and Close
// drains the queue.
func TestDispatcherFanOut(t *testing.T) {
	bad := &flakySink{err: errors.New("down")}
	good := &flakySink{}

	d := NewDispatcher([]Notifier{bad, good}, nil)
	d.AttemptRecorded(context.Background(), sampleAttempt())
	d.OpportunityDiscovered(context.Background(), &opportunity.Opportunity{Title: "x"})
	d.Close()

	bad.mu.Lock()
	good.mu.Lock()
	defer bad.mu.Unlock()
	defer good.mu.Unlock()
	if bad.calls != 2 || good.calls != 2 {
		t.Errorf("calls = %d/%d, want 2/2", bad.calls, good.calls)
	}
}
