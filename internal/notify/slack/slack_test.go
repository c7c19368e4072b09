package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/watchtower/internal/notify"
)

func escalationMessage() notify.Message {
	return notify.Message{
		AlertID: "01JN123",
		Level:   2,
		Channel: "slack",
		Subject: "alert 01JN123 escalation level 2",
		Body: `{"rule_name":"recall watch","event_title":"ACME recall widens",` +
			`"event_summary":"regulator opens inquiry / second batch affected",` +
			`"cluster_key":"deadbeef","entity":"ACME","volume_score":7}`,
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := New().Send(context.Background(), notify.RecipientConfig{"url": srv.URL}, escalationMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, fields, summary, divider, context = 6 blocks
	if len(blocks) != 6 {
		t.Errorf("blocks count = %d, want 6", len(blocks))
	}

	raw, _ := json.Marshal(got)
	body := string(raw)
	for _, want := range []string{"ACME recall widens", "recall watch", "01JN123", "Escalation L2", "regulator opens inquiry"} {
		if !strings.Contains(body, want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestSend_NoURL(t *testing.T) {
	t.Parallel()

	err := New().Send(context.Background(), notify.RecipientConfig{}, escalationMessage())
	if err == nil {
		t.Fatal("Send without url = nil, want error")
	}
}

func TestSend_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := New().Send(context.Background(), notify.RecipientConfig{"url": srv.URL}, escalationMessage())
	if err == nil {
		t.Fatal("Send against 400 = nil, want error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_payload") {
		t.Errorf("err = %v, want status and body in message", err)
	}
}

func TestBuildMessage_EmptyPayload(t *testing.T) {
	t.Parallel()

	msg := notify.Message{AlertID: "a1", Level: 1, Subject: "alert a1 escalation level 1"}
	built := buildMessage(msg)

	raw, _ := json.Marshal(built)
	body := string(raw)
	if !strings.Contains(body, "alert a1 escalation level 1") {
		t.Error("header does not fall back to the message subject")
	}
	if !strings.Contains(body, "No summary available") {
		t.Error("summary block missing placeholder")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", maxSummaryLen+100)
	got := truncate(long, maxSummaryLen)
	if len(got) != maxSummaryLen {
		t.Errorf("len = %d, want %d", len(got), maxSummaryLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated text missing ellipsis")
	}
	if short := truncate("short", maxSummaryLen); short != "short" {
		t.Errorf("short input modified: %q", short)
	}
}
