package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
)

// AnnouncementRepository persists site-wide announcements.
type AnnouncementRepository struct {
	db *sql.DB
}

func NewAnnouncementRepository(db *sql.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// List returns all announcements, newest first.
func (r *AnnouncementRepository) List(ctx context.Context) ([]*models.Announcement, error) {
	query := `
		SELECT id, title, body, created_at, updated_at
		FROM announcements
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var announcements []*models.Announcement
	for rows.Next() {
		var a models.Announcement
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		announcements = append(announcements, &a)
	}

	return announcements, rows.Err()
}

// GetByID retrieves an announcement, or nil if absent.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	query := `
		SELECT id, title, body, created_at, updated_at
		FROM announcements
		WHERE id = $1
	`

	var a models.Announcement
	err := r.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Title, &a.Body, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create stores a new announcement.
func (r *AnnouncementRepository) Create(ctx context.Context, a *models.Announcement) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO announcements (id, title, body)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`

	return r.db.QueryRowContext(ctx, query, a.ID, a.Title, a.Body).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// Update replaces the title and body of an existing announcement.
func (r *AnnouncementRepository) Update(ctx context.Context, a *models.Announcement) error {
	query := `
		UPDATE announcements
		SET title = $2, body = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, a.ID, a.Title, a.Body).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("announcement %s not found", a.ID)
	}
	return err
}

// Delete removes an announcement.
func (r *AnnouncementRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = $1`, id)
	return err
}
