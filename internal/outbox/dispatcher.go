package outbox

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gowa-sessions/internal/helper"
)

type Queue interface {
	Claim(ctx context.Context, application string) (*Message, error)
	Release(ctx context.Context, id int64) error
	MarkSent(ctx context.Context, id int64, sessionID, messageID string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

type Gateway interface {
	ConnectedSessions(ctx context.Context) ([]Session, error)
	SendText(ctx context.Context, sessionID, to, text string) (string, error)
	SendMedia(ctx context.Context, sessionID, to, mediaURL, caption string) (string, error)
}

type Config struct {
	// Application limits the dispatcher to rows of one producer.
	Application string
	// The pause after each cycle is picked from [Interval, IntervalMax].
	Interval    time.Duration
	IntervalMax time.Duration
	// CountryCode replaces a leading 0 of local numbers.
	CountryCode string
}

// Dispatcher sends outbox rows one at a time, rotating over the connected
// sessions.
type Dispatcher struct {
	queue Queue
	gw    Gateway
	cfg   Config
	log   zerolog.Logger
	rnd   *rand.Rand

	counter int
}

func NewDispatcher(q Queue, gw Gateway, cfg Config, log zerolog.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.IntervalMax < cfg.Interval {
		cfg.IntervalMax = cfg.Interval
	}
	return &Dispatcher{
		queue: q,
		gw:    gw,
		cfg:   cfg,
		log:   log,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run processes rows until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info().Str("application", d.cfg.Application).Dur("interval", d.cfg.Interval).Msg("outbox dispatcher started")
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("outbox cycle")
		}
		select {
		case <-ctx.Done():
			d.log.Info().Msg("outbox dispatcher stopped")
			return
		case <-time.After(d.pause()):
		}
	}
}

func (d *Dispatcher) pause() time.Duration {
	spread := d.cfg.IntervalMax - d.cfg.Interval
	if spread <= 0 {
		return d.cfg.Interval
	}
	return d.cfg.Interval + time.Duration(d.rnd.Int63n(int64(spread)+1))
}

// RunOnce claims and sends at most one row. It reports whether a row was
// claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	msg, err := d.queue.Claim(ctx, d.cfg.Application)
	if err != nil || msg == nil {
		return false, err
	}
	log := d.log.With().Int64("id", msg.ID).Logger()

	to, ok := NormalizeDestination(msg.Destination, d.cfg.CountryCode)
	if !ok {
		log.Warn().Str("destination", msg.Destination).Msg("invalid destination")
		return true, d.queue.MarkFailed(ctx, msg.ID, "invalid destination")
	}

	sessions, err := d.gw.ConnectedSessions(ctx)
	if err != nil || len(sessions) == 0 {
		if err == nil {
			log.Warn().Msg("no connected session, row stays queued")
		}
		return true, errors.Join(err, d.queue.Release(ctx, msg.ID))
	}
	session := sessions[d.counter%len(sessions)]
	d.counter++

	var messageID string
	if msg.MediaURL.Valid && msg.MediaURL.String != "" {
		messageID, err = d.gw.SendMedia(ctx, session.SessionID, to, msg.MediaURL.String, msg.Body)
	} else {
		messageID, err = d.gw.SendText(ctx, session.SessionID, to, msg.Body)
	}
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			log.Warn().Err(err).Str("session", session.SessionID).Msg("outbox row rejected")
			return true, d.queue.MarkFailed(ctx, msg.ID, apiErr.Message)
		}
		if inv, ok := d.gw.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		log.Warn().Err(err).Str("session", session.SessionID).Msg("send failed, row stays queued")
		return true, d.queue.Release(context.WithoutCancel(ctx), msg.ID)
	}

	log.Info().Str("session", session.SessionID).Str("message_id", messageID).Msg("outbox row sent")
	return true, d.queue.MarkSent(context.WithoutCancel(ctx), msg.ID, session.SessionID, messageID)
}

// NormalizeDestination accepts full addresses ("...@g.us") as they are and
// reduces phone numbers to international digits.
func NormalizeDestination(dest, countryCode string) (string, bool) {
	dest = strings.TrimSpace(dest)
	if strings.Contains(dest, "@") {
		return dest, true
	}
	digits := helper.CleanNumber(dest)
	if countryCode != "" && strings.HasPrefix(digits, "0") {
		digits = countryCode + digits[1:]
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", false
	}
	return digits, true
}
