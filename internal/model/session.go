package model

import (
	"database/sql"
	"errors"
	"time"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusQRReady      Status = "qr_ready"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the durable record of one tenant's connection. While a session
// is live the orchestrator's in-memory state is authoritative and this row
// mirrors it; at rest the row is the source of truth.
type Session struct {
	ID              int64
	SessionID       string
	Name            sql.NullString
	Status          Status
	IsConnected     bool
	QRCode          sql.NullString
	PhoneNumber     sql.NullString
	LastConnectedAt sql.NullTime
	WebhookURL      sql.NullString
	WebhookSecret   sql.NullString
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SessionUpdate lists the fields to change; nil fields are left alone.
type SessionUpdate struct {
	Name            *string
	Status          *Status
	IsConnected     *bool
	QRCode          *string // "" clears the stored code
	PhoneNumber     *string // only written while the stored number is empty
	LastConnectedAt *time.Time
	WebhookURL      *string
	WebhookSecret   *string
}

func (u SessionUpdate) Empty() bool {
	return u.Name == nil && u.Status == nil && u.IsConnected == nil && u.QRCode == nil &&
		u.PhoneNumber == nil && u.LastConnectedAt == nil && u.WebhookURL == nil && u.WebhookSecret == nil
}

// ApplyTo mutates s the same way UpdateSession mutates the stored row.
func (u SessionUpdate) ApplyTo(s *Session, now time.Time) {
	if u.Name != nil {
		s.Name = nullString(*u.Name)
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.IsConnected != nil {
		s.IsConnected = *u.IsConnected
	}
	if u.QRCode != nil {
		s.QRCode = nullString(*u.QRCode)
	}
	if u.PhoneNumber != nil && !s.PhoneNumber.Valid && *u.PhoneNumber != "" {
		s.PhoneNumber = nullString(*u.PhoneNumber)
	}
	if u.LastConnectedAt != nil {
		s.LastConnectedAt = sql.NullTime{Time: *u.LastConnectedAt, Valid: true}
	}
	if u.WebhookURL != nil {
		s.WebhookURL = nullString(*u.WebhookURL)
	}
	if u.WebhookSecret != nil {
		s.WebhookSecret = nullString(*u.WebhookSecret)
	}
	s.UpdatedAt = now
}

// SessionResp is the API shape of a session row.
type SessionResp struct {
	SessionID       string     `json:"sessionId"`
	Name            string     `json:"name,omitempty"`
	Status          Status     `json:"status"`
	IsConnected     bool       `json:"isConnected"`
	HasQR           bool       `json:"hasQR"`
	PhoneNumber     string     `json:"number,omitempty"`
	LastConnectedAt *time.Time `json:"lastConnected,omitempty"`
	HasWebhook      bool       `json:"hasWebhook"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func ToResponse(s Session) SessionResp {
	resp := SessionResp{
		SessionID:   s.SessionID,
		Name:        s.Name.String,
		Status:      s.Status,
		IsConnected: s.IsConnected,
		HasQR:       s.QRCode.Valid && s.QRCode.String != "",
		PhoneNumber: s.PhoneNumber.String,
		HasWebhook:  s.WebhookURL.Valid && s.WebhookURL.String != "",
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.LastConnectedAt.Valid {
		t := s.LastConnectedAt.Time
		resp.LastConnectedAt = &t
	}
	return resp
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
