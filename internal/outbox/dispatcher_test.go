package outbox

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeQueue struct {
	pending  []*Message
	released []int64
	sent     map[int64]string
	failed   map[int64]string
}

func newFakeQueue(msgs ...*Message) *fakeQueue {
	return &fakeQueue{pending: msgs, sent: map[int64]string{}, failed: map[int64]string{}}
}

func (q *fakeQueue) Claim(context.Context, string) (*Message, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	return m, nil
}

func (q *fakeQueue) Release(_ context.Context, id int64) error {
	q.released = append(q.released, id)
	return nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id int64, sessionID, _ string) error {
	q.sent[id] = sessionID
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id int64, reason string) error {
	q.failed[id] = reason
	return nil
}

type fakeGateway struct {
	sessions    []Session
	sessionsErr error
	sendErr     error
	texts       []string
	media       []string
	invalidated int
}

func (g *fakeGateway) ConnectedSessions(context.Context) ([]Session, error) {
	return g.sessions, g.sessionsErr
}

func (g *fakeGateway) SendText(_ context.Context, sessionID, to, text string) (string, error) {
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.texts = append(g.texts, sessionID+"|"+to+"|"+text)
	return "MSG", nil
}

func (g *fakeGateway) SendMedia(_ context.Context, sessionID, to, mediaURL, _ string) (string, error) {
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.media = append(g.media, sessionID+"|"+to+"|"+mediaURL)
	return "MSG", nil
}

func (g *fakeGateway) Invalidate() { g.invalidated++ }

func msg(id int64, dest string) *Message {
	return &Message{ID: id, Destination: dest, Body: "hi"}
}

func newTestDispatcher(q Queue, gw Gateway) *Dispatcher {
	return NewDispatcher(q, gw, Config{CountryCode: "62"}, zerolog.Nop())
}

func TestDispatcher_RoundRobin(t *testing.T) {
	q := newFakeQueue(msg(1, "0812-3456-789"), msg(2, "628222333444"), msg(3, "120363@g.us"))
	gw := &fakeGateway{sessions: []Session{{SessionID: "a"}, {SessionID: "b"}}}
	d := newTestDispatcher(q, gw)

	for i := 0; i < 3; i++ {
		if ok, err := d.RunOnce(context.Background()); !ok || err != nil {
			t.Fatalf("run %d = %v, %v", i, ok, err)
		}
	}
	want := []string{"a|628123456789|hi", "b|628222333444|hi", "a|120363@g.us|hi"}
	for i, w := range want {
		if gw.texts[i] != w {
			t.Fatalf("text %d = %q, want %q", i, gw.texts[i], w)
		}
	}
	if q.sent[1] != "a" || q.sent[2] != "b" || q.sent[3] != "a" {
		t.Fatalf("sent = %v", q.sent)
	}

	if ok, err := d.RunOnce(context.Background()); ok || err != nil {
		t.Fatalf("empty queue = %v, %v", ok, err)
	}
}

func TestDispatcher_Media(t *testing.T) {
	m := msg(1, "628123456789")
	m.MediaURL = sql.NullString{String: "https://cdn.example.com/a.pdf", Valid: true}
	q := newFakeQueue(m)
	gw := &fakeGateway{sessions: []Session{{SessionID: "a"}}}

	if _, err := newTestDispatcher(q, gw).RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gw.media) != 1 || gw.media[0] != "a|628123456789|https://cdn.example.com/a.pdf" {
		t.Fatalf("media = %v", gw.media)
	}
}

func TestDispatcher_InvalidDestination(t *testing.T) {
	q := newFakeQueue(msg(1, "12ab"))
	gw := &fakeGateway{sessions: []Session{{SessionID: "a"}}}

	if _, err := newTestDispatcher(q, gw).RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if q.failed[1] != "invalid destination" || len(gw.texts) != 0 {
		t.Fatalf("failed = %v, texts = %v", q.failed, gw.texts)
	}
}

func TestDispatcher_NoSessionReleases(t *testing.T) {
	q := newFakeQueue(msg(1, "628123456789"))
	if _, err := newTestDispatcher(q, &fakeGateway{}).RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(q.released) != 1 || q.released[0] != 1 {
		t.Fatalf("released = %v", q.released)
	}

	q = newFakeQueue(msg(2, "628123456789"))
	boom := errors.New("gateway down")
	_, err := newTestDispatcher(q, &fakeGateway{sessionsErr: boom}).RunOnce(context.Background())
	if !errors.Is(err, boom) || len(q.released) != 1 {
		t.Fatalf("err = %v, released = %v", err, q.released)
	}
}

func TestDispatcher_SendErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		released bool
	}{
		{"network", errors.New("connection refused"), true},
		{"unavailable", &APIError{Status: http.StatusServiceUnavailable, Message: "not connected"}, true},
		{"rejected", &APIError{Status: http.StatusBadRequest, Message: "bad number"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := newFakeQueue(msg(1, "628123456789"))
			gw := &fakeGateway{sessions: []Session{{SessionID: "a"}}, sendErr: tc.err}
			if _, err := newTestDispatcher(q, gw).RunOnce(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			if tc.released {
				if len(q.released) != 1 || gw.invalidated != 1 {
					t.Fatalf("released = %v, invalidated = %d", q.released, gw.invalidated)
				}
				return
			}
			if q.failed[1] != "bad number" || len(q.released) != 0 {
				t.Fatalf("failed = %v, released = %v", q.failed, q.released)
			}
		})
	}
}

func TestDispatcher_Pause(t *testing.T) {
	d := NewDispatcher(newFakeQueue(), &fakeGateway{}, Config{Interval: time.Second, IntervalMax: 3 * time.Second}, zerolog.Nop())
	for i := 0; i < 50; i++ {
		if p := d.pause(); p < time.Second || p > 3*time.Second {
			t.Fatalf("pause = %s", p)
		}
	}
	fixed := NewDispatcher(newFakeQueue(), &fakeGateway{}, Config{Interval: time.Second}, zerolog.Nop())
	if p := fixed.pause(); p != time.Second {
		t.Fatalf("fixed pause = %s", p)
	}
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	d := NewDispatcher(newFakeQueue(), &fakeGateway{}, Config{Interval: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestNormalizeDestination(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"+62 812-3456-789", "628123456789", true},
		{"08123456789", "628123456789", true},
		{"120363@g.us", "120363@g.us", true},
		{"123", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeDestination(tc.in, "62")
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeDestination(%q) = %q, %v", tc.in, got, ok)
		}
	}
}
