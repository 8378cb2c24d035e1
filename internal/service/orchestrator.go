// Package service holds the session orchestrator: it owns the live
// connection of every tenant session and keeps the in-process state, the
// durable record and the ephemeral cache in step with each other.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gowa-sessions/internal/model"
	"gowa-sessions/internal/waclient"
	"gowa-sessions/internal/ws"
)

// SessionStore is the durable store. Missing rows are reported as
// model.ErrSessionNotFound.
type SessionStore interface {
	FindSession(ctx context.Context, sessionID string) (*model.Session, error)
	CreateSession(ctx context.Context, sessionID string) (*model.Session, error)
	UpdateSession(ctx context.Context, sessionID string, u model.SessionUpdate) error
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]model.Session, error)
	ListSessionsByStatus(ctx context.Context, statuses ...model.Status) ([]model.Session, error)
	AppendMessage(ctx context.Context, m *model.Message) error
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error)
}

// Cache is the ephemeral key/value store. Its failures are never fatal.
type Cache interface {
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Notifier delivers session events to a tenant's own endpoint. Notify must
// not block.
type Notifier interface {
	Notify(sessionID, event string, data any)
}

type Options struct {
	QRTTL                time.Duration
	ReconnectDelay       time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int // 0 retries forever
	QueueSize            int
	OpTimeout            time.Duration // bound on store, cache and client calls made by the worker
}

func (o Options) withDefaults() Options {
	if o.QRTTL <= 0 {
		o.QRTTL = 60 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.ReconnectMaxDelay < o.ReconnectDelay {
		o.ReconnectMaxDelay = o.ReconnectDelay
	}
	if o.ReconnectMaxAttempts < 0 {
		o.ReconnectMaxAttempts = 0
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 30 * time.Second
	}
	return o
}

type Deps struct {
	Store       SessionStore
	Cache       Cache
	Credentials waclient.CredentialStore
	Factory     waclient.Factory
	Publisher   ws.RealtimePublisher // optional
	Notifier    Notifier             // optional
	Media       MediaFetcher         // defaults to an HTTP fetcher
	Log         zerolog.Logger
}

type Orchestrator struct {
	store     SessionStore
	cache     Cache
	creds     waclient.CredentialStore
	factory   waclient.Factory
	publisher ws.RealtimePublisher
	notifier  Notifier
	media     MediaFetcher
	log       zerolog.Logger
	opts      Options

	registry  *registry
	scheduler *scheduler

	encodeQR func(string) (string, error)
	now      func() time.Time

	wg     sync.WaitGroup
	closed atomic.Bool
}

func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	media := d.Media
	if media == nil {
		media = NewHTTPMediaFetcher(0, 0)
	}
	return &Orchestrator{
		store:     d.Store,
		cache:     d.Cache,
		creds:     d.Credentials,
		factory:   d.Factory,
		publisher: d.Publisher,
		notifier:  d.Notifier,
		media:     media,
		log:       d.Log,
		opts:      opts.withDefaults(),
		registry:  newRegistry(),
		scheduler: newScheduler(),
		encodeQR:  EncodeQRDataURL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SessionState is the durable record overlaid with the live state when the
// session is registered.
type SessionState struct {
	model.SessionResp
	Live bool `json:"live"`
}

func checkSessionID(sessionID string) error {
	if sessionID == "" {
		return validationError("sessionId is required")
	}
	if !waclient.ValidSessionID(sessionID) {
		return validationError("sessionId may only contain letters, digits, '.', '_' and '-'")
	}
	return nil
}

func lookupError(sessionID string, err error) error {
	if errors.Is(err, model.ErrSessionNotFound) {
		return notFoundError(sessionID)
	}
	return upstreamError("load session "+sessionID, err)
}

// InitializeSession makes sessionID live. Calling it for a session that is
// already live does nothing. A record is created the first time an id is
// seen.
func (o *Orchestrator) InitializeSession(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	if o.closed.Load() {
		return upstreamError("orchestrator is shutting down", nil)
	}

	// the worker is counted under the registry lock so Close cannot miss it
	ls, created := o.registry.reserve(sessionID, func() *liveSession {
		o.wg.Add(1)
		return newLiveSession(sessionID, o.opts.QueueSize, o.log)
	})
	if ls == nil {
		return upstreamError("orchestrator is shutting down", nil)
	}
	if !created {
		if err := ls.waitReady(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return upstreamError("load session record", err)
		}
		ls.log.Debug().Msg("session already live")
		return nil
	}
	go o.run(ls)

	rec, err := o.store.FindSession(ctx, sessionID)
	if errors.Is(err, model.ErrSessionNotFound) {
		rec, err = o.store.CreateSession(ctx, sessionID)
	}
	if err != nil {
		o.registry.remove(sessionID, ls)
		ls.markReady(err)
		ls.stop()
		return upstreamError("load session record", err)
	}
	ls.mu.Lock()
	ls.phone = rec.PhoneNumber.String
	ls.mu.Unlock()
	ls.markReady(nil)

	ls.log.Info().Msg("initializing session")
	if err := ls.do(ctx, func() error { return o.connect(ls) }); err != nil {
		if errors.Is(err, errSessionStopped) {
			return nil
		}
		return upstreamError("connect session", err)
	}
	return nil
}

func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*SessionState, error) {
	if sessionID == "" {
		return nil, validationError("sessionId is required")
	}
	rec, err := o.store.FindSession(ctx, sessionID)
	if err != nil {
		return nil, lookupError(sessionID, err)
	}
	state := overlay(*rec, o.registry.get(sessionID))
	return &state, nil
}

func (o *Orchestrator) GetAllSessions(ctx context.Context) ([]SessionState, error) {
	recs, err := o.store.ListSessions(ctx)
	if err != nil {
		return nil, upstreamError("list sessions", err)
	}
	live := o.registry.snapshot()
	out := make([]SessionState, 0, len(recs))
	for _, rec := range recs {
		out = append(out, overlay(rec, live[rec.SessionID]))
	}
	return out, nil
}

func overlay(rec model.Session, ls *liveSession) SessionState {
	state := SessionState{SessionResp: model.ToResponse(rec)}
	if ls == nil {
		return state
	}
	v := ls.view()
	state.Live = true
	state.Status = v.status
	state.IsConnected = v.isConnected
	state.HasQR = v.qrCode != ""
	if state.PhoneNumber == "" {
		state.PhoneNumber = v.phone
	}
	return state
}

// GetQRCode returns the current QR payload, falling back to the cached copy
// when the session is not live in this process.
func (o *Orchestrator) GetQRCode(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", validationError("sessionId is required")
	}
	if ls := o.registry.get(sessionID); ls != nil {
		if v := ls.view(); v.qrCode != "" {
			return v.qrCode, nil
		}
	}
	if _, err := o.store.FindSession(ctx, sessionID); err != nil {
		return "", lookupError(sessionID, err)
	}
	qr, ok, err := o.cache.Get(ctx, qrCacheKey(sessionID))
	if err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Msg("read cached qr")
	}
	if !ok || qr == "" {
		return "", &Error{Kind: ErrQRNotAvailable, Message: "no QR code pending for session " + sessionID}
	}
	return qr, nil
}

// DisconnectSession logs the session out and forgets its live state. The
// durable record stays, in the disconnected state.
func (o *Orchestrator) DisconnectSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return validationError("sessionId is required")
	}
	ls := o.registry.get(sessionID)
	if ls == nil {
		if _, err := o.store.FindSession(ctx, sessionID); err != nil {
			return lookupError(sessionID, err)
		}
		if err := o.store.UpdateSession(ctx, sessionID, disconnectedUpdate()); err != nil {
			return lookupError(sessionID, err)
		}
		o.purgeCache(sessionID)
		return nil
	}

	err := ls.do(ctx, func() error { return o.teardown(ls) })
	if errors.Is(err, errSessionStopped) {
		return nil
	}
	return err
}

// DeleteSession disconnects the session and removes its credentials, its
// record and its message history.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return validationError("sessionId is required")
	}
	if _, err := o.store.FindSession(ctx, sessionID); err != nil {
		return lookupError(sessionID, err)
	}
	if err := o.DisconnectSession(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	if err := o.creds.Remove(ctx, sessionID); err != nil {
		return upstreamError("remove credentials", err)
	}
	if err := o.store.DeleteSession(ctx, sessionID); err != nil {
		return lookupError(sessionID, err)
	}
	o.purgeCache(sessionID)
	o.publish(ws.WsEvent{Event: ws.EventSessionDeleted, SessionID: sessionID})
	o.log.Info().Str("session", sessionID).Msg("session deleted")
	return nil
}

func (o *Orchestrator) RenameSession(ctx context.Context, sessionID, name string) error {
	if sessionID == "" {
		return validationError("sessionId is required")
	}
	if len(name) > 255 {
		return validationError("name must be at most 255 characters")
	}
	if err := o.store.UpdateSession(ctx, sessionID, model.SessionUpdate{Name: &name}); err != nil {
		return lookupError(sessionID, err)
	}
	return nil
}

// RestoreSessions brings back every session that was live, or waiting for a
// scan, when the process last stopped.
func (o *Orchestrator) RestoreSessions(ctx context.Context) (int, error) {
	recs, err := o.store.ListSessionsByStatus(ctx, model.StatusConnected, model.StatusQRReady, model.StatusConnecting)
	if err != nil {
		return 0, upstreamError("list sessions to restore", err)
	}
	restored := 0
	for _, rec := range recs {
		if err := o.InitializeSession(ctx, rec.SessionID); err != nil {
			o.log.Error().Err(err).Str("session", rec.SessionID).Msg("restore session")
			continue
		}
		restored++
	}
	return restored, nil
}

// Close drops every live connection without logging out, so the next
// process can restore them.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.scheduler.stop()

	for id, ls := range o.registry.close() {
		err := ls.do(ctx, func() error {
			ls.mu.Lock()
			h := ls.handle
			ls.handle = nil
			ls.gen++
			ls.mu.Unlock()
			if h != nil {
				h.Close()
			}
			ls.stopping = true
			return nil
		})
		if err != nil && !errors.Is(err, errSessionStopped) {
			ls.log.Warn().Err(err).Msg("forcing worker stop")
			ls.stop()
			if h := ls.view().handle; h != nil {
				h.Close()
			}
		}
		o.registry.remove(id, ls)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the session's worker: every transition of ls happens here.
func (o *Orchestrator) run(ls *liveSession) {
	defer o.wg.Done()
	for {
		select {
		case <-ls.done:
			return
		case item := <-ls.queue:
			if ls.stopped() {
				return
			}
			if item.op != nil {
				item.op()
			} else {
				o.handleEvent(ls, item.gen, item.evt)
			}
			if ls.stopping {
				ls.stop()
				ls.log.Debug().Msg("session worker stopped")
				return
			}
		}
	}
}

func (o *Orchestrator) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.opts.OpTimeout)
}
