// Package handler implements the gateway HTTP API on top of the session
// orchestrator.
package handler

import (
	"context"

	"github.com/rs/zerolog"

	"gowa-sessions/internal/model"
	"gowa-sessions/internal/service"
)

// SessionService is the orchestrator surface the handlers use.
type SessionService interface {
	InitializeSession(ctx context.Context, sessionID string) error
	RenameSession(ctx context.Context, sessionID, name string) error
	GetSession(ctx context.Context, sessionID string) (*service.SessionState, error)
	GetAllSessions(ctx context.Context) ([]service.SessionState, error)
	GetQRCode(ctx context.Context, sessionID string) (string, error)
	DisconnectSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	SendMessage(ctx context.Context, sessionID, to, text string) (string, error)
	SendMedia(ctx context.Context, sessionID string, req service.MediaRequest) (string, error)
	CheckNumber(ctx context.Context, sessionID, number string) (*service.NumberInfo, error)
	GetProfile(ctx context.Context, sessionID, number string) (*service.ProfileInfo, error)
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error)
	SetWebhook(ctx context.Context, sessionID, url, secret string) error
}

type Handler struct {
	svc SessionService
	log zerolog.Logger
}

func New(svc SessionService, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}
