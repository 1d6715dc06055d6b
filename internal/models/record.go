package models

import (
	"context"
	"time"
)

// Record is one persisted daily snapshot of an account's counters plus the
// derived activity rating. Records are append-only: exactly one is written
// per successful aggregation run and none is ever mutated afterwards.
type Record struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Date           time.Time `json:"date"`
	NotesCount     int64     `json:"notes_count"`
	FollowingCount int64     `json:"following_count"`
	FollowersCount int64     `json:"followers_count"`
	Rating         float64   `json:"rating"`
}

// RecordRepository defines the worker's view of the snapshot store.
type RecordRepository interface {
	// Append persists a new snapshot. Never overwrites.
	Append(ctx context.Context, record *Record) error

	// Recent returns up to limit snapshots for the account, newest first.
	Recent(ctx context.Context, accountID string, limit int) ([]Record, error)
}
