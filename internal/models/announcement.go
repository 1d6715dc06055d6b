package models

import (
	"context"
	"time"
)

// Announcement is a site-wide notice managed through the admin API.
type Announcement struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnnouncementRepository defines CRUD operations for announcements.
type AnnouncementRepository interface {
	List(ctx context.Context) ([]*Announcement, error)
	GetByID(ctx context.Context, id string) (*Announcement, error)
	Create(ctx context.Context, a *Announcement) error
	Update(ctx context.Context, a *Announcement) error
	Delete(ctx context.Context, id string) error
}
