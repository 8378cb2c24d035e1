package ws

import "time"

// Event names pushed to websocket clients.
const (
	EventSessionStatusChanged = "session_status_changed"
	EventQRGenerated          = "qr_generated"
	EventIncomingMessage      = "incoming_message"
	EventSessionDeleted       = "session_deleted"
)

// WsEvent is the envelope written to every client. SessionID drives the
// per-client subscription filter.
type WsEvent struct {
	Event     string    `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type SessionStatusData struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	IsConnected bool   `json:"isConnected"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type QRGeneratedData struct {
	SessionID string    `json:"sessionId"`
	QRCode    string    `json:"qrCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type IncomingMessageData struct {
	SessionID   string    `json:"sessionId"`
	MessageID   string    `json:"messageId"`
	RemoteJID   string    `json:"remoteJid"`
	MessageType string    `json:"messageType"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}
