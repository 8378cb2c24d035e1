package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"gowa-sessions/internal/model"
	"gowa-sessions/internal/waclient"
)

// registry maps session ids to their live state. There is at most one entry
// per id.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
	closed   bool
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*liveSession)}
}

// reserve returns the live session for id, creating it with mk when absent.
// created reports whether mk was used. A closed registry returns nil.
func (r *registry) reserve(id string, mk func() *liveSession) (ls *liveSession, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	if ls, ok := r.sessions[id]; ok {
		return ls, false
	}
	ls = mk()
	r.sessions[id] = ls
	return ls, true
}

func (r *registry) get(id string) *liveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// remove deletes id only while it still maps to ls.
func (r *registry) remove(id string, ls *liveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok && cur == ls {
		delete(r.sessions, id)
		return true
	}
	return false
}

func (r *registry) snapshot() map[string]*liveSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyLocked()
}

// close refuses further reservations and returns every entry present at
// that point.
func (r *registry) close() map[string]*liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.copyLocked()
}

func (r *registry) copyLocked() map[string]*liveSession {
	out := make(map[string]*liveSession, len(r.sessions))
	for id, ls := range r.sessions {
		out[id] = ls
	}
	return out
}

// queueItem is either a network event from connection generation gen or an
// operation to run on the worker.
type queueItem struct {
	gen uint64
	evt waclient.Event
	op  func()
}

// liveSession is the in-process state of one connected (or connecting)
// account. Fields under mu are written only by the session's worker.
type liveSession struct {
	id  string
	log zerolog.Logger

	mu          sync.RWMutex
	handle      waclient.Handle
	creds       waclient.Credentials
	qrCode      string
	isConnected bool
	status      model.Status
	phone       string
	gen         uint64
	attempts    int

	queue    chan queueItem
	done     chan struct{}
	stopOnce sync.Once

	// ready is closed once the durable record is loaded; setupErr is set
	// before that when loading failed.
	ready    chan struct{}
	setupErr error

	// worker only
	stopping bool
}

func newLiveSession(id string, queueSize int, log zerolog.Logger) *liveSession {
	return &liveSession{
		id:     id,
		log:    log.With().Str("session", id).Logger(),
		status: model.StatusConnecting,
		queue:  make(chan queueItem, queueSize),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

func (ls *liveSession) markReady(err error) {
	ls.setupErr = err
	close(ls.ready)
}

// waitReady blocks until the session that won the reservation has its
// record.
func (ls *liveSession) waitReady(ctx context.Context) error {
	select {
	case <-ls.ready:
		return ls.setupErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

type liveView struct {
	handle      waclient.Handle
	qrCode      string
	isConnected bool
	status      model.Status
	phone       string
	attempts    int
}

func (ls *liveSession) view() liveView {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return liveView{
		handle:      ls.handle,
		qrCode:      ls.qrCode,
		isConnected: ls.isConnected,
		status:      ls.status,
		phone:       ls.phone,
		attempts:    ls.attempts,
	}
}

func (ls *liveSession) currentGen() uint64 {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.gen
}

func (ls *liveSession) stop() {
	ls.stopOnce.Do(func() { close(ls.done) })
}

func (ls *liveSession) stopped() bool {
	select {
	case <-ls.done:
		return true
	default:
		return false
	}
}

// sink returns the event callback for connection generation gen. It blocks
// while the queue is full and gives up once the worker has stopped.
func (ls *liveSession) sink(gen uint64) func(waclient.Event) {
	return func(evt waclient.Event) {
		select {
		case ls.queue <- queueItem{gen: gen, evt: evt}:
		case <-ls.done:
		}
	}
}

// do runs fn on the worker and waits for its result.
func (ls *liveSession) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	item := queueItem{op: func() { errc <- fn() }}

	select {
	case ls.queue <- item:
	case <-ls.done:
		return errSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ls.done:
		// the op may itself have stopped the worker after replying
		select {
		case err := <-errc:
			return err
		default:
			return errSessionStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
