package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gowa-sessions/internal/helper"
	"gowa-sessions/internal/model"
	"gowa-sessions/internal/waclient"
)

// unknownMessageID is returned when the client accepted a send without
// reporting an id.
const unknownMessageID = "unknown"

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

type MediaRequest struct {
	To       string
	Kind     string
	URL      string
	Caption  string
	FileName string
}

type NumberInfo struct {
	Number string `json:"number"`
	Exists bool   `json:"exists"`
	JID    string `json:"jid,omitempty"`
}

type ProfileInfo struct {
	Number     string `json:"number"`
	JID        string `json:"jid"`
	Status     string `json:"status,omitempty"`
	PictureURL string `json:"profilePictureUrl,omitempty"`
}

// connectedHandle returns the handle of a session that can send right now.
func (o *Orchestrator) connectedHandle(ctx context.Context, sessionID string) (*liveSession, waclient.Handle, error) {
	if sessionID == "" {
		return nil, nil, validationError("sessionId is required")
	}
	ls := o.registry.get(sessionID)
	if ls == nil {
		if _, err := o.store.FindSession(ctx, sessionID); err != nil {
			return nil, nil, lookupError(sessionID, err)
		}
		return nil, nil, notConnectedError(sessionID)
	}
	v := ls.view()
	if v.status != model.StatusConnected || !v.isConnected || v.handle == nil {
		return nil, nil, notConnectedError(sessionID)
	}
	return ls, v.handle, nil
}

// SendMessage sends a text and returns the message id assigned by the
// client, or "unknown" when it did not report one.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, to, text string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", validationError("to is required")
	}
	if text == "" {
		return "", validationError("message is required")
	}
	ls, h, err := o.connectedHandle(ctx, sessionID)
	if err != nil {
		return "", err
	}

	addr := helper.NormalizeAddress(to)
	id, err := h.Send(ctx, addr, waclient.Outbound{Kind: model.KindText, Text: text})
	if err != nil {
		return "", upstreamError("send message", err)
	}
	if id == "" {
		return unknownMessageID, nil
	}

	o.recordSent(ctx, ls, &model.Message{
		SessionID:   sessionID,
		MessageID:   id,
		RemoteJID:   addr,
		FromMe:      true,
		MessageType: model.KindText,
		Content:     text,
		Status:      model.MessageStatusSent,
	})
	return id, nil
}

// SendMedia downloads req.URL and sends it as req.Kind.
func (o *Orchestrator) SendMedia(ctx context.Context, sessionID string, req MediaRequest) (string, error) {
	if strings.TrimSpace(req.To) == "" {
		return "", validationError("to is required")
	}
	if !helper.IsMediaKind(req.Kind) {
		return "", validationError("type must be one of image, video, audio, document")
	}
	if req.URL == "" {
		return "", validationError("mediaUrl is required")
	}
	ls, h, err := o.connectedHandle(ctx, sessionID)
	if err != nil {
		return "", err
	}

	media, err := o.media.Fetch(ctx, req.URL)
	if err != nil {
		return "", upstreamError("fetch media", err)
	}
	out, err := prepareMedia(req, media)
	if err != nil {
		ls.log.Warn().Err(err).Str("url", req.URL).Msg("prepare media")
		return "", upstreamError("prepare media", err)
	}

	addr := helper.NormalizeAddress(req.To)
	id, err := h.Send(ctx, addr, out)
	if err != nil {
		return "", upstreamError("send media", err)
	}
	if id == "" {
		return unknownMessageID, nil
	}

	content, _ := json.Marshal(struct {
		MediaURL string `json:"mediaUrl"`
		Caption  string `json:"caption"`
	}{req.URL, req.Caption})

	o.recordSent(ctx, ls, &model.Message{
		SessionID:   sessionID,
		MessageID:   id,
		RemoteJID:   addr,
		FromMe:      true,
		MessageType: req.Kind,
		Content:     string(content),
		Status:      model.MessageStatusSent,
	})
	return id, nil
}

func (o *Orchestrator) recordSent(ctx context.Context, ls *liveSession, m *model.Message) {
	m.Timestamp = o.now()
	// the send already happened; a missing history row is not worth failing it
	if err := o.store.AppendMessage(context.WithoutCancel(ctx), m); err != nil {
		ls.log.Error().Err(err).Str("message_id", m.MessageID).Msg("store sent message")
	}
}

// CheckNumber reports whether number has a WhatsApp account.
func (o *Orchestrator) CheckNumber(ctx context.Context, sessionID, number string) (*NumberInfo, error) {
	user, _, _ := strings.Cut(strings.TrimSpace(number), "@")
	clean := helper.CleanNumber(user)
	if clean == "" {
		return nil, validationError("number is required")
	}
	_, h, err := o.connectedHandle(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	info, err := h.ResolveAddress(ctx, "+"+clean)
	if err != nil {
		return nil, upstreamError("check number", err)
	}
	return &NumberInfo{Number: clean, Exists: info.Exists, JID: info.JID}, nil
}

func (o *Orchestrator) GetProfile(ctx context.Context, sessionID, number string) (*ProfileInfo, error) {
	if strings.TrimSpace(number) == "" {
		return nil, validationError("number is required")
	}
	_, h, err := o.connectedHandle(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	addr := helper.NormalizeAddress(number)
	p, err := h.FetchProfile(ctx, addr)
	if err != nil {
		return nil, upstreamError("fetch profile", err)
	}
	return &ProfileInfo{
		Number:     helper.ExtractPhoneFromJID(addr),
		JID:        addr,
		Status:     p.Status,
		PictureURL: p.PictureURL,
	}, nil
}

// ListMessages pages through a session's history, newest first.
func (o *Orchestrator) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	if sessionID == "" {
		return nil, validationError("sessionId is required")
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	if offset < 0 {
		offset = 0
	}
	msgs, err := o.store.ListMessages(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, upstreamError("list messages", err)
	}
	return msgs, nil
}

// SetWebhook stores where incoming messages are delivered. An empty url
// turns delivery off.
func (o *Orchestrator) SetWebhook(ctx context.Context, sessionID, url, secret string) error {
	if sessionID == "" {
		return validationError("sessionId is required")
	}
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return validationError("webhookUrl must be an http or https URL")
	}
	if url == "" {
		secret = ""
	}
	err := o.store.UpdateSession(ctx, sessionID, model.SessionUpdate{WebhookURL: &url, WebhookSecret: &secret})
	if errors.Is(err, model.ErrSessionNotFound) {
		return notFoundError(sessionID)
	}
	if err != nil {
		return upstreamError("save webhook", err)
	}
	return nil
}
