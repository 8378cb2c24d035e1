package waclient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var (
	ErrInvalidSessionID = errors.New("invalid session id")

	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,128}$`)
)

// ValidSessionID reports whether id is safe to use as a directory name.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id) && id != "." && id != ".."
}

// DeviceCredentials is a whatsmeow device loaded from a session's own
// SQLite store.
type DeviceCredentials struct {
	sessionID string
	device    *store.Device
}

func (c *DeviceCredentials) SessionID() string { return c.sessionID }
func (c *DeviceCredentials) Registered() bool  { return c.device != nil && c.device.ID != nil }

type deviceDB struct {
	db        *sql.DB
	container *sqlstore.Container
}

// SQLiteCredentialStore keeps each session's key material under
// <dir>/<sessionID>/device.db. The directory is created on first use and
// removed with the session.
type SQLiteCredentialStore struct {
	dir string
	log zerolog.Logger

	mu   sync.Mutex
	open map[string]*deviceDB
}

func NewSQLiteCredentialStore(dir string, log zerolog.Logger) *SQLiteCredentialStore {
	return &SQLiteCredentialStore{
		dir:  dir,
		log:  log,
		open: make(map[string]*deviceDB),
	}
}

func (s *SQLiteCredentialStore) sessionDir(sessionID string) string {
	return filepath.Join(s.dir, sessionID)
}

func (s *SQLiteCredentialStore) Load(ctx context.Context, sessionID string) (Credentials, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ddb, ok := s.open[sessionID]
	if !ok {
		var err error
		ddb, err = s.openDeviceDB(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		s.open[sessionID] = ddb
	}

	// After a logout whatsmeow deletes the stored device, so this hands out
	// a fresh, unpaired one and the next connect asks for a QR code.
	device, err := ddb.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device for %s: %w", sessionID, err)
	}
	return &DeviceCredentials{sessionID: sessionID, device: device}, nil
}

func (s *SQLiteCredentialStore) openDeviceDB(ctx context.Context, sessionID string) (*deviceDB, error) {
	path := s.sessionDir(sessionID)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	dsn := "file:" + filepath.Join(path, "device.db") + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Zerolog(s.log.With().Str("session", sessionID).Str("component", "sqlstore").Logger()))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade credential db: %w", err)
	}
	return &deviceDB{db: db, container: container}, nil
}

// Save writes rotated key material. Unpaired devices have nothing to keep.
func (s *SQLiteCredentialStore) Save(ctx context.Context, creds Credentials) error {
	dc, ok := creds.(*DeviceCredentials)
	if !ok {
		return ErrForeignCredentials
	}
	if !dc.Registered() {
		return nil
	}
	if err := dc.device.Save(ctx); err != nil {
		return fmt.Errorf("save device for %s: %w", dc.sessionID, err)
	}
	return nil
}

func (s *SQLiteCredentialStore) Remove(ctx context.Context, sessionID string) error {
	if !ValidSessionID(sessionID) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	s.mu.Lock()
	if ddb, ok := s.open[sessionID]; ok {
		delete(s.open, sessionID)
		if err := ddb.db.Close(); err != nil {
			s.log.Warn().Err(err).Str("session", sessionID).Msg("close credential db")
		}
	}
	s.mu.Unlock()

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("remove credential dir: %w", err)
	}
	return nil
}

// Close releases every open device database.
func (s *SQLiteCredentialStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ddb := range s.open {
		if err := ddb.db.Close(); err != nil {
			s.log.Warn().Err(err).Str("session", id).Msg("close credential db")
		}
		delete(s.open, id)
	}
}
