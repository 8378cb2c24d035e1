package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// OpenAppDB opens the application database (sessions and message history).
// The whatsmeow device stores live elsewhere, one per session.
func OpenAppDB(ctx context.Context, appDbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", appDbURL)
	if err != nil {
		return nil, fmt.Errorf("open app db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping app db: %w", err)
	}
	return db, nil
}
