// Package waclient wraps whatsmeow behind the small surface the session
// orchestrator needs: a factory that connects stored credentials, a handle
// for outbound calls, and a stream of lifecycle events.
package waclient

import (
	"context"
	"time"
)

type EventKind int

const (
	EventCredentialsUpdated EventKind = iota + 1
	EventQR
	EventConnected
	EventDisconnected
	EventMessages
)

func (k EventKind) String() string {
	switch k {
	case EventCredentialsUpdated:
		return "credentials-updated"
	case EventQR:
		return "qr"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessages:
		return "messages"
	}
	return "unknown"
}

// CloseReason says why a connection closed. Only a logout is terminal.
type CloseReason int

const (
	CloseConnectionLost CloseReason = iota
	CloseQRTimeout
	CloseStreamReplaced
	CloseConnectFailure
	CloseLoggedOut
)

func (r CloseReason) Terminal() bool { return r == CloseLoggedOut }

func (r CloseReason) String() string {
	switch r {
	case CloseConnectionLost:
		return "connection_lost"
	case CloseQRTimeout:
		return "qr_timeout"
	case CloseStreamReplaced:
		return "stream_replaced"
	case CloseConnectFailure:
		return "connect_failure"
	case CloseLoggedOut:
		return "logged_out"
	}
	return "unknown"
}

type Event struct {
	Kind     EventKind
	QRCode   string // raw challenge for EventQR
	Identity string // own JID for EventConnected
	Reason   CloseReason
	Err      error
	Messages []IncomingMessage
}

type IncomingMessage struct {
	ID         string
	RemoteJID  string
	FromMe     bool
	Timestamp  time.Time
	PrimaryKey string // first content key of the payload, empty when there is none
	Content    string // JSON rendering of the payload
}

func (m IncomingMessage) HasPayload() bool { return m.PrimaryKey != "" }

type OutboundMedia struct {
	Data      []byte
	MimeType  string
	FileName  string
	Thumbnail []byte // JPEG
}

// Outbound is either a text (Media nil) or a media message of Kind.
type Outbound struct {
	Kind    string
	Text    string
	Caption string
	Media   *OutboundMedia
}

type AddressInfo struct {
	Exists bool
	JID    string
}

type Profile struct {
	Status     string
	PictureURL string
}

// Handle is one live connection. Close drops it without unlinking the device;
// Logout unlinks it.
type Handle interface {
	Send(ctx context.Context, to string, msg Outbound) (string, error)
	Logout(ctx context.Context) error
	Close()
	ResolveAddress(ctx context.Context, number string) (AddressInfo, error)
	FetchProfile(ctx context.Context, address string) (Profile, error)
}

// Credentials is the key material of one session, opaque to the orchestrator.
type Credentials interface {
	SessionID() string
	Registered() bool
}

type CredentialStore interface {
	Load(ctx context.Context, sessionID string) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Remove(ctx context.Context, sessionID string) error
}

// Factory connects credentials and delivers the connection's events to sink.
// sink is called from the client's goroutines and must not block for long.
type Factory interface {
	Connect(ctx context.Context, creds Credentials, sink func(Event)) (Handle, error)
}
