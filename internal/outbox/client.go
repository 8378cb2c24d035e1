package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// sessionCacheTTL keeps the session list from being fetched on every row.
const sessionCacheTTL = 30 * time.Second

// Session is the part of the gateway's session listing the dispatcher needs.
type Session struct {
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"number"`
	IsConnected bool   `json:"isConnected"`
	Live        bool   `json:"live"`
}

// APIError is a non-success answer from the gateway.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %d %s: %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	} `json:"error"`
}

// GatewayClient calls the session gateway's HTTP API with a bearer token.
type GatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
	now     func() time.Time

	mu      sync.Mutex
	cached  []Session
	expires time.Time
}

func NewGatewayClient(baseURL, token string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// ConnectedSessions lists the sessions that are live and connected.
func (c *GatewayClient) ConnectedSessions(ctx context.Context) ([]Session, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Before(c.expires) {
		out := c.cached
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var data struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &data); err != nil {
		return nil, err
	}

	connected := make([]Session, 0, len(data.Sessions))
	for _, s := range data.Sessions {
		if s.Live && s.IsConnected {
			connected = append(connected, s)
		}
	}

	c.mu.Lock()
	c.cached = connected
	c.expires = c.now().Add(sessionCacheTTL)
	c.mu.Unlock()
	return connected, nil
}

// Invalidate drops the cached session list.
func (c *GatewayClient) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

type sendResult struct {
	MessageID string `json:"messageId"`
}

func (c *GatewayClient) SendText(ctx context.Context, sessionID, to, text string) (string, error) {
	var res sendResult
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/send-message",
		map[string]string{"to": to, "message": text}, &res)
	return res.MessageID, err
}

func (c *GatewayClient) SendMedia(ctx context.Context, sessionID, to, mediaURL, caption string) (string, error) {
	var res sendResult
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/send-media",
		map[string]string{
			"to":       to,
			"type":     MediaKind(mediaURL),
			"mediaUrl": mediaURL,
			"caption":  caption,
		}, &res)
	return res.MessageID, err
}

var mediaKinds = map[string]string{
	".jpg": "image", ".jpeg": "image", ".png": "image", ".gif": "image", ".webp": "image",
	".mp4": "video", ".3gp": "video", ".mov": "video",
	".mp3": "audio", ".ogg": "audio", ".opus": "audio", ".m4a": "audio", ".aac": "audio",
}

// MediaKind guesses the gateway media type from the URL's file extension.
func MediaKind(mediaURL string) string {
	p := mediaURL
	if u, err := url.Parse(mediaURL); err == nil {
		p = u.Path
	}
	if kind, ok := mediaKinds[strings.ToLower(path.Ext(p))]; ok {
		return kind
	}
	return "document"
}

func (c *GatewayClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var res apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil {
		return &APIError{Status: resp.StatusCode, Code: "BAD_RESPONSE", Message: err.Error()}
	}
	if resp.StatusCode >= 300 || !res.Success {
		apiErr := &APIError{Status: resp.StatusCode, Message: res.Message}
		if res.Error != nil {
			apiErr.Code = res.Error.Code
		}
		return apiErr
	}
	if out != nil && len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
