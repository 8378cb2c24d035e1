package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"gowa-sessions/internal/model"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when the session
// has a webhook secret.
const SignatureHeader = "X-Gowa-Signature"

type WebhookPayload struct {
	Event     string    `json:"event"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type webhookTarget interface {
	FindSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// WebhookNotifier posts events to the webhook configured on each session.
type WebhookNotifier struct {
	sessions webhookTarget
	client   *http.Client
	log      zerolog.Logger
}

func NewWebhookNotifier(sessions webhookTarget, timeout time.Duration, log zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		sessions: sessions,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Notify delivers in the background; failures are only logged.
func (n *WebhookNotifier) Notify(sessionID, event string, data any) {
	go func() {
		if err := n.deliver(context.Background(), sessionID, event, data); err != nil {
			n.log.Warn().Err(err).Str("session", sessionID).Str("event", event).Msg("webhook delivery failed")
		}
	}()
}

func (n *WebhookNotifier) deliver(ctx context.Context, sessionID, event string, data any) error {
	sess, err := n.sessions.FindSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.WebhookURL.Valid || sess.WebhookURL.String == "" {
		return nil
	}

	body, err := json.Marshal(WebhookPayload{
		Event:     event,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.WebhookURL.String, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sess.WebhookSecret.Valid && sess.WebhookSecret.String != "" {
		req.Header.Set(SignatureHeader, Sign(sess.WebhookSecret.String, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn().Str("session", sessionID).Int("status", resp.StatusCode).Msg("webhook endpoint rejected event")
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
