package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect establishes a connection to PostgreSQL, retrying while the database
// is still starting up.
func Connect(databaseURL string) (*sqlx.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		db, err := open(databaseURL)
		if err == nil {
			return db, nil
		}
		lastErr = err
		log.Printf("[DB] connect attempt %d failed: %v", attempt, err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, fmt.Errorf("connect to postgres: %w", lastErr)
}

func open(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	// Position flushes and rehoming are short, bursty writes.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
