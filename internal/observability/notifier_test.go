package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramNotifier_Send(t *testing.T) {
	var (
		gotPath string
		gotMsg  telegramMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading request body: %v", err)
		}
		if err := json.Unmarshal(body, &gotMsg); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(srv.URL, "123:abc", "42")
	if err := n.Send(context.Background(), "*hello*"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if gotPath != "/bot123:abc/sendMessage" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotMsg.ChatID != "42" || gotMsg.Text != "*hello*" || gotMsg.ParseMode != "Markdown" {
		t.Errorf("unexpected message: %+v", gotMsg)
	}
}

func TestTelegramNotifier_MissingCredentials(t *testing.T) {
	n := NewTelegramNotifier("", "", "")
	if err := n.Send(context.Background(), "x"); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestSlackNotifier_SendsBlocks(t *testing.T) {
	var (
		receivedBody        []byte
		receivedContentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL)
	if err := n.Send(context.Background(), "readiness.score 55"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if receivedContentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", receivedContentType)
	}
	var msg slackMessage
	if err := json.Unmarshal(receivedBody, &msg); err != nil {
		t.Fatalf("unmarshaling slack message: %v", err)
	}
	if len(msg.Blocks) != 2 {
		t.Fatalf("expected header and section blocks, got %d", len(msg.Blocks))
	}
	if msg.Blocks[0].Type != "header" || msg.Blocks[1].Text.Text != "readiness.score 55" {
		t.Errorf("unexpected blocks: %+v", msg.Blocks)
	}
}

func TestSlackNotifier_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSlackNotifier(srv.URL).Send(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status code in error, got %v", err)
	}
}

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	calls := 0
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	n := NewMultiNotifier(NewSlackNotifier(bad.URL), NewSlackNotifier(ok.URL))
	err := n.Send(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected joined 502 error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected both sinks to be tried, got %d calls", calls)
	}
}
