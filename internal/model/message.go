package model

import "time"

const (
	MessageStatusSent     = "sent"
	MessageStatusReceived = "received"
)

// Message kinds stored in message_type. Inbound messages with an unknown
// payload keep the raw payload key instead.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
)

// Message is an append-only log entry keyed by (SessionID, MessageID).
type Message struct {
	SessionID   string    `json:"sessionId"`
	MessageID   string    `json:"messageId"`
	RemoteJID   string    `json:"remoteJid"`
	FromMe      bool      `json:"fromMe"`
	MessageType string    `json:"messageType"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}
