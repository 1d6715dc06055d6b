package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
)

// RecordRepository persists daily account snapshots. Append-only: the
// worker never updates or deletes a record once written.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Append persists a new snapshot.
func (r *RecordRepository) Append(ctx context.Context, record *models.Record) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	query := `
		INSERT INTO records
		(id, account_id, date, notes_count, following_count, followers_count, rating)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.AccountID,
		record.Date,
		record.NotesCount,
		record.FollowingCount,
		record.FollowersCount,
		record.Rating,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Recent returns up to limit snapshots for the account, newest first.
func (r *RecordRepository) Recent(ctx context.Context, accountID string, limit int) ([]models.Record, error) {
	query := `
		SELECT id, account_id, date, notes_count, following_count, followers_count, rating
		FROM records
		WHERE account_id = $1
		ORDER BY date DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var record models.Record
		err := rows.Scan(
			&record.ID,
			&record.AccountID,
			&record.Date,
			&record.NotesCount,
			&record.FollowingCount,
			&record.FollowersCount,
			&record.Rating,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
