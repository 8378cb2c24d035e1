package service

import (
	"errors"
	"fmt"
	"time"

	"gowa-sessions/internal/cache"
	"gowa-sessions/internal/helper"
	"gowa-sessions/internal/model"
	"gowa-sessions/internal/waclient"
	"gowa-sessions/internal/ws"
)

func qrCacheKey(sessionID string) string     { return cache.QRKey(sessionID) }
func statusCacheKey(sessionID string) string { return cache.StatusKey(sessionID) }

func ptr[T any](v T) *T { return &v }

func disconnectedUpdate() model.SessionUpdate {
	return model.SessionUpdate{
		Status:      ptr(model.StatusDisconnected),
		IsConnected: ptr(false),
		QRCode:      ptr(""),
	}
}

// connect opens a new connection for ls, replacing whatever handle it had.
// Runs on the worker.
func (o *Orchestrator) connect(ls *liveSession) error {
	ls.mu.Lock()
	ls.gen++
	gen := ls.gen
	old := ls.handle
	ls.handle = nil
	ls.status = model.StatusConnecting
	ls.isConnected = false
	ls.qrCode = ""
	ls.mu.Unlock()

	if old != nil {
		old.Close()
	}
	o.persist(ls, model.SessionUpdate{
		Status:      ptr(model.StatusConnecting),
		IsConnected: ptr(false),
		QRCode:      ptr(""),
	})
	o.publishStatus(ls, "")

	ctx, cancel := o.opContext()
	defer cancel()

	creds, err := o.creds.Load(ctx, ls.id)
	if err != nil {
		return o.connectFailed(ls, fmt.Errorf("load credentials: %w", err))
	}
	handle, err := o.factory.Connect(ctx, creds, ls.sink(gen))
	if err != nil {
		return o.connectFailed(ls, err)
	}

	ls.mu.Lock()
	ls.creds = creds
	ls.handle = handle
	ls.mu.Unlock()
	ls.log.Debug().Uint64("gen", gen).Bool("registered", creds.Registered()).Msg("connection opened")
	return nil
}

func (o *Orchestrator) connectFailed(ls *liveSession, err error) error {
	ls.log.Warn().Err(err).Msg("connect failed")
	o.onClosed(ls, waclient.Event{Kind: waclient.EventDisconnected, Reason: waclient.CloseConnectFailure, Err: err})
	return err
}

func (o *Orchestrator) handleEvent(ls *liveSession, gen uint64, evt waclient.Event) {
	switch evt.Kind {
	case waclient.EventCredentialsUpdated:
		o.saveCredentials(ls)
		return
	case waclient.EventMessages:
		o.ingest(ls, evt.Messages)
		return
	}

	if cur := ls.currentGen(); gen != cur {
		ls.log.Debug().Stringer("event", evt.Kind).Uint64("gen", gen).Uint64("current", cur).Msg("dropping event from stale connection")
		return
	}

	switch evt.Kind {
	case waclient.EventQR:
		o.onQR(ls, evt.QRCode)
	case waclient.EventConnected:
		o.onConnected(ls, evt.Identity)
	case waclient.EventDisconnected:
		o.onClosed(ls, evt)
	}
}

func (o *Orchestrator) saveCredentials(ls *liveSession) {
	ls.mu.RLock()
	creds := ls.creds
	ls.mu.RUnlock()
	if creds == nil {
		return
	}
	ctx, cancel := o.opContext()
	defer cancel()
	if err := o.creds.Save(ctx, creds); err != nil {
		ls.log.Error().Err(err).Msg("save credentials")
	}
}

func (o *Orchestrator) onQR(ls *liveSession, code string) {
	payload, err := o.encodeQR(code)
	if err != nil {
		ls.log.Error().Err(err).Msg("encode qr code")
		return
	}

	ls.mu.Lock()
	ls.qrCode = payload
	ls.status = model.StatusQRReady
	ls.mu.Unlock()

	o.persist(ls, model.SessionUpdate{Status: ptr(model.StatusQRReady), QRCode: &payload})

	ctx, cancel := o.opContext()
	defer cancel()
	if err := o.cache.SetWithExpiry(ctx, qrCacheKey(ls.id), payload, o.opts.QRTTL); err != nil {
		ls.log.Warn().Err(err).Msg("cache qr code")
	}

	o.publish(ws.WsEvent{
		Event:     ws.EventQRGenerated,
		SessionID: ls.id,
		Data: ws.QRGeneratedData{
			SessionID: ls.id,
			QRCode:    payload,
			ExpiresAt: o.now().Add(o.opts.QRTTL),
		},
	})
	ls.log.Info().Msg("qr code ready")
}

func (o *Orchestrator) onConnected(ls *liveSession, identity string) {
	now := o.now()

	ls.mu.Lock()
	ls.qrCode = ""
	ls.isConnected = true
	ls.status = model.StatusConnected
	if ls.phone == "" {
		ls.phone = helper.ExtractPhoneFromJID(identity)
	}
	phone := ls.phone
	ls.attempts = 0
	ls.mu.Unlock()

	o.persist(ls, model.SessionUpdate{
		Status:          ptr(model.StatusConnected),
		IsConnected:     ptr(true),
		QRCode:          ptr(""),
		PhoneNumber:     &phone,
		LastConnectedAt: &now,
	})

	ctx, cancel := o.opContext()
	defer cancel()
	if err := o.cache.Delete(ctx, qrCacheKey(ls.id)); err != nil {
		ls.log.Warn().Err(err).Msg("clear cached qr code")
	}
	if err := o.cache.Set(ctx, statusCacheKey(ls.id), string(model.StatusConnected)); err != nil {
		ls.log.Warn().Err(err).Msg("cache session status")
	}

	o.publishStatus(ls, "")
	ls.log.Info().Str("phone", phone).Msg("session connected")
}

// onClosed handles the end of the current connection and applies the
// reconnect policy.
func (o *Orchestrator) onClosed(ls *liveSession, evt waclient.Event) {
	ls.mu.Lock()
	h := ls.handle
	ls.handle = nil
	ls.gen++
	ls.isConnected = false
	ls.qrCode = ""
	ls.status = model.StatusDisconnected
	ls.mu.Unlock()

	if h != nil {
		h.Close()
	}

	logEvt := ls.log.Info()
	if evt.Err != nil {
		logEvt = ls.log.Warn().Err(evt.Err)
	}
	logEvt.Stringer("reason", evt.Reason).Msg("connection closed")

	o.persist(ls, disconnectedUpdate())
	o.purgeCache(ls.id)
	o.publishStatus(ls, evt.Reason.String())

	if evt.Reason.Terminal() {
		o.scheduler.cancel(ls.id)
		o.registry.remove(ls.id, ls)
		ls.stopping = true
		ls.log.Info().Msg("session logged out")
		return
	}
	o.scheduleReconnect(ls)
}

func (o *Orchestrator) scheduleReconnect(ls *liveSession) {
	ls.mu.Lock()
	ls.attempts++
	attempt := ls.attempts
	ls.mu.Unlock()

	if limit := o.opts.ReconnectMaxAttempts; limit > 0 && attempt > limit {
		ls.log.Warn().Int("attempts", limit).Msg("giving up reconnecting")
		o.registry.remove(ls.id, ls)
		ls.stopping = true
		return
	}

	delay := o.reconnectDelay(attempt)
	ls.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	o.scheduler.schedule(ls.id, delay, func() { o.reconnect(ls) })
}

// reconnectDelay doubles the base delay for every consecutive failure.
func (o *Orchestrator) reconnectDelay(attempt int) time.Duration {
	d := o.opts.ReconnectDelay
	for i := 1; i < attempt && d < o.opts.ReconnectMaxDelay; i++ {
		d *= 2
	}
	if d > o.opts.ReconnectMaxDelay {
		d = o.opts.ReconnectMaxDelay
	}
	return d
}

// reconnect runs on the timer goroutine.
func (o *Orchestrator) reconnect(ls *liveSession) {
	if o.registry.get(ls.id) != ls {
		return
	}
	ctx, cancel := o.opContext()
	defer cancel()
	err := ls.do(ctx, func() error {
		if o.registry.get(ls.id) != ls {
			return nil
		}
		return o.connect(ls)
	})
	if err != nil && !errors.Is(err, errSessionStopped) {
		ls.log.Debug().Err(err).Msg("reconnect attempt failed")
	}
}

// teardown is the explicit disconnect. Runs on the worker.
func (o *Orchestrator) teardown(ls *liveSession) error {
	o.scheduler.cancel(ls.id)

	ls.mu.Lock()
	h := ls.handle
	ls.handle = nil
	ls.gen++
	ls.isConnected = false
	ls.qrCode = ""
	ls.status = model.StatusDisconnected
	ls.mu.Unlock()

	if h != nil {
		ctx, cancel := o.opContext()
		if err := h.Logout(ctx); err != nil {
			ls.log.Warn().Err(err).Msg("logout")
		}
		cancel()
		h.Close()
	} else {
		// nothing to log out through; drop the keys so the next
		// initialize pairs again
		ctx, cancel := o.opContext()
		if err := o.creds.Remove(ctx, ls.id); err != nil {
			ls.log.Warn().Err(err).Msg("remove credentials")
		}
		cancel()
	}

	o.registry.remove(ls.id, ls)
	ls.stopping = true

	ctx, cancel := o.opContext()
	defer cancel()
	err := o.store.UpdateSession(ctx, ls.id, disconnectedUpdate())
	o.purgeCache(ls.id)
	o.publishStatus(ls, "disconnected")
	ls.log.Info().Msg("session disconnected")

	if err != nil && !errors.Is(err, model.ErrSessionNotFound) {
		return upstreamError("persist disconnect", err)
	}
	return nil
}

// persist mirrors a live transition into the durable record. Failures are
// logged; the live state stays authoritative.
func (o *Orchestrator) persist(ls *liveSession, u model.SessionUpdate) {
	ctx, cancel := o.opContext()
	defer cancel()
	if err := o.store.UpdateSession(ctx, ls.id, u); err != nil {
		ls.log.Error().Err(err).Msg("persist session state")
	}
}

func (o *Orchestrator) purgeCache(sessionID string) {
	ctx, cancel := o.opContext()
	defer cancel()
	if err := o.cache.Delete(ctx, qrCacheKey(sessionID), statusCacheKey(sessionID)); err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Msg("purge session cache")
	}
}

func (o *Orchestrator) publish(evt ws.WsEvent) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(evt)
}

func (o *Orchestrator) publishStatus(ls *liveSession, reason string) {
	v := ls.view()
	o.publish(ws.WsEvent{
		Event:     ws.EventSessionStatusChanged,
		SessionID: ls.id,
		Data: ws.SessionStatusData{
			SessionID:   ls.id,
			Status:      string(v.status),
			IsConnected: v.isConnected,
			PhoneNumber: v.phone,
			Reason:      reason,
		},
	})
}
