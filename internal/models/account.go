package models

import (
	"context"
	"fmt"
	"time"
)

// Session holds the remote host and credential needed to call a Misskey
// instance on an account's behalf. Immutable once created.
type Session struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Username  string    `json:"username"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Acct returns the canonical @user@host form of the session's identity.
func (s Session) Acct() string {
	return fmt.Sprintf("@%s@%s", s.Username, s.Host)
}

// Account is a monitored Misskey identity with its alerting configuration.
// The embedded Session is populated whenever the account is loaded for an
// aggregation run.
type Account struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	AlertAsNote         bool      `json:"alert_as_note"`
	AlertAsNotification bool      `json:"alert_as_notification"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	Session Session `json:"session"`
}

// AccountRepository defines operations for accounts and their sessions.
type AccountRepository interface {
	// Create stores a new account together with its session.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account with its session, or nil if absent.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByHostAndUsername retrieves an account by its session identity.
	GetByHostAndUsername(ctx context.Context, host, username string) (*Account, error)

	// ListAll returns every account, newest first.
	ListAll(ctx context.Context) ([]*Account, error)

	// ListAlerting returns accounts with at least one alert flag enabled.
	ListAlerting(ctx context.Context) ([]*Account, error)

	// UpdateAlertFlags sets the two alert flags.
	UpdateAlertFlags(ctx context.Context, id string, asNote, asNotification bool) error

	// Delete removes an account, its session, and its records.
	Delete(ctx context.Context, id string) error
}
