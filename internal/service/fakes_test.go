package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gowa-sessions/internal/model"
	"gowa-sessions/internal/waclient"
	"gowa-sessions/internal/ws"
)

type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*model.Session
	messages  []model.Message
	nextID    int64
	updateErr error
	appendErr error

	// CreateSession blocks on createGate when set
	createGate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*model.Session)}
}

func (s *memStore) FindSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) CreateSession(ctx context.Context, id string) (*model.Session, error) {
	if s.createGate != nil {
		<-s.createGate
	}
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.nextID++
		now := time.Now().UTC()
		s.sessions[id] = &model.Session{
			ID:        s.nextID,
			SessionID: id,
			Status:    model.StatusConnecting,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	s.mu.Unlock()
	return s.FindSession(ctx, id)
}

func (s *memStore) UpdateSession(_ context.Context, id string, u model.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	rec, ok := s.sessions[id]
	if !ok {
		return model.ErrSessionNotFound
	}
	u.ApplyTo(rec, time.Now().UTC())
	return nil
}

func (s *memStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return model.ErrSessionNotFound
	}
	delete(s.sessions, id)
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.SessionID != id {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *memStore) ListSessions(_ context.Context) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListSessionsByStatus(ctx context.Context, statuses ...model.Status) ([]model.Session, error) {
	all, _ := s.ListSessions(ctx)
	var out []model.Session
	for _, rec := range all {
		for _, st := range statuses {
			if rec.Status == st {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) AppendMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	for _, existing := range s.messages {
		if existing.SessionID == m.SessionID && existing.MessageID == m.MessageID {
			return nil
		}
	}
	s.messages = append(s.messages, *m)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, id string, limit, offset int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Message{}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].SessionID == id {
			out = append(out, s.messages[i])
		}
	}
	if offset >= len(out) {
		return []model.Message{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) put(rec model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.sessions[rec.SessionID] = &rec
}

func (s *memStore) session(t *testing.T, id string) model.Session {
	t.Helper()
	rec, err := s.FindSession(context.Background(), id)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	return *rec
}

func (s *memStore) messageCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.SessionID == id {
			n++
		}
	}
	return n
}

type cacheEntry struct {
	value string
	ttl   time.Duration
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]cacheEntry)}
}

func (c *memCache) SetWithExpiry(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, ttl: ttl}
	return nil
}

func (c *memCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value}
	return nil
}

func (c *memCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.value, ok, nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memCache) entry(key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

type fakeCreds struct {
	id         string
	registered bool
}

func (c *fakeCreds) SessionID() string { return c.id }
func (c *fakeCreds) Registered() bool  { return c.registered }

type fakeCredStore struct {
	mu      sync.Mutex
	saves   int
	removed []string
	loadErr error
}

func (s *fakeCredStore) Load(_ context.Context, id string) (waclient.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return &fakeCreds{id: id}, nil
}

func (s *fakeCredStore) Save(context.Context, waclient.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func (s *fakeCredStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
	return nil
}

func (s *fakeCredStore) removedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

func (s *fakeCredStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type fakeHandle struct {
	sink func(waclient.Event)

	mu        sync.Mutex
	closed    bool
	loggedOut bool
	sendID    string
	sendErr   error
	sent      []sentMessage
	resolve   waclient.AddressInfo
	profile   waclient.Profile
}

type sentMessage struct {
	to  string
	msg waclient.Outbound
}

// emit delivers evt as the client would; it blocks until queued.
func (h *fakeHandle) emit(evt waclient.Event) { h.sink(evt) }

func (h *fakeHandle) Send(_ context.Context, to string, msg waclient.Outbound) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return "", h.sendErr
	}
	h.sent = append(h.sent, sentMessage{to: to, msg: msg})
	return h.sendID, nil
}

func (h *fakeHandle) Logout(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loggedOut = true
	return nil
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *fakeHandle) ResolveAddress(context.Context, string) (waclient.AddressInfo, error) {
	return h.resolve, nil
}

func (h *fakeHandle) FetchProfile(context.Context, string) (waclient.Profile, error) {
	return h.profile, nil
}

func (h *fakeHandle) state() (closed, loggedOut bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed, h.loggedOut
}

func (h *fakeHandle) sentMessages() []sentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sentMessage(nil), h.sent...)
}

type fakeFactory struct {
	mu         sync.Mutex
	handles    map[string][]*fakeHandle
	connectErr error
	sendID     string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{handles: make(map[string][]*fakeHandle), sendID: "MSG-1"}
}

func (f *fakeFactory) Connect(_ context.Context, creds waclient.Credentials, sink func(waclient.Event)) (waclient.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		f.handles[creds.SessionID()] = append(f.handles[creds.SessionID()], nil)
		return nil, f.connectErr
	}
	h := &fakeHandle{sink: sink, sendID: f.sendID}
	f.handles[creds.SessionID()] = append(f.handles[creds.SessionID()], h)
	return h, nil
}

func (f *fakeFactory) connects(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles[id])
}

func (f *fakeFactory) last(t *testing.T, id string) *fakeHandle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.handles[id]
	if len(hs) == 0 || hs[len(hs)-1] == nil {
		t.Fatalf("no open connection for %s", id)
	}
	return hs[len(hs)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ws.WsEvent
}

func (p *recordingPublisher) Publish(evt ws.WsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == name {
			n++
		}
	}
	return n
}

type harness struct {
	o         *Orchestrator
	store     *memStore
	cache     *memCache
	creds     *fakeCredStore
	factory   *fakeFactory
	publisher *recordingPublisher
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		cache:     newMemCache(),
		creds:     &fakeCredStore{},
		factory:   newFakeFactory(),
		publisher: &recordingPublisher{},
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 20 * time.Millisecond
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = time.Second
	}
	h.o = NewOrchestrator(Deps{
		Store:       h.store,
		Cache:       h.cache,
		Credentials: h.creds,
		Factory:     h.factory,
		Publisher:   h.publisher,
		Log:         zerolog.Nop(),
	}, opts)
	h.o.encodeQR = func(code string) (string, error) { return "data:image/png;base64," + code, nil }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.o.Close(ctx)
	})
	return h
}

// connected initializes id and drives it to the connected state.
func (h *harness) connected(t *testing.T, id string) *fakeHandle {
	t.Helper()
	if err := h.o.InitializeSession(context.Background(), id); err != nil {
		t.Fatalf("initialize %s: %v", id, err)
	}
	conn := h.factory.last(t, id)
	conn.emit(waclient.Event{Kind: waclient.EventConnected, Identity: "5511999999999:7@s.whatsapp.net"})
	eventually(t, func() bool {
		return h.store.session(t, id).Status == model.StatusConnected
	}, "session "+id+" connected")
	return conn
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errBoom = errors.New("boom")
