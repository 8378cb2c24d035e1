package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gowa-sessions/internal/model"
)

func TestWebhookNotifier_SignsBody(t *testing.T) {
	type delivery struct {
		body []byte
		sig  string
	}
	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{body: body, sig: r.Header.Get(SignatureHeader)}
	}))
	defer srv.Close()

	store := newMemStore()
	store.put(model.Session{
		SessionID:     "s1",
		WebhookURL:    sql.NullString{String: srv.URL, Valid: true},
		WebhookSecret: sql.NullString{String: "sekret", Valid: true},
	})
	n := NewWebhookNotifier(store, time.Second, zerolog.Nop())
	n.Notify("s1", "incoming_message", map[string]string{"messageId": "M1"})

	select {
	case d := <-got:
		if d.sig != Sign("sekret", d.body) {
			t.Fatalf("signature %q does not match body", d.sig)
		}
		var p WebhookPayload
		if err := json.Unmarshal(d.body, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if p.Event != "incoming_message" || p.SessionID != "s1" {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not delivered")
	}
}

func TestWebhookNotifier_SkipsSessionsWithoutURL(t *testing.T) {
	store := newMemStore()
	store.put(model.Session{SessionID: "s1"})
	n := NewWebhookNotifier(store, time.Second, zerolog.Nop())

	if err := n.deliver(context.Background(), "s1", "incoming_message", nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := n.deliver(context.Background(), "nope", "incoming_message", nil); err == nil {
		t.Fatalf("unknown session delivered")
	}
}
