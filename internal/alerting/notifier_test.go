package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	acc := 78.5
	note := Notification{
		Kind:               KindRetrain,
		Ticker:             "NVDA",
		At:                 time.Date(2026, 3, 4, 21, 0, 0, 0, time.UTC),
		Reason:             "3 consecutive days below 85.0%",
		Accuracy:           &acc,
		ConsecutiveLowDays: 3,
		Causes:             []string{"financial", "algorithmic"},
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"RETRAIN NVDA", "Accuracy: 78.50%", "Consecutive low days: 3", "Causes: financial,algorithmic"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Kind: KindAlert, Ticker: "INTC", At: time.Now()}); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

func TestRenderAlertMessage(t *testing.T) {
	score := 32.4
	text := renderMessage(Notification{Kind: KindAlert, Ticker: "INTC", Score: &score, Action: "ALERT"})
	if !strings.HasPrefix(text, "[pricecast] ALERT INTC") {
		t.Fatalf("unexpected header: %s", text)
	}
	if !strings.Contains(text, "Intelligence score: 32.4") || !strings.Contains(text, "Action: ALERT") {
		t.Fatalf("unexpected body: %s", text)
	}
	if strings.Contains(text, "Accuracy") {
		t.Fatalf("accuracy should be omitted when nil: %s", text)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := NewLogNotifier(testLogger()).Notify(context.Background(), Notification{Ticker: "AAPL"}); err != nil {
		t.Fatalf("log notifier should not fail: %v", err)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
