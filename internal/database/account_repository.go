package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
)

// AccountRepository persists accounts and their Misskey sessions.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	a.id, a.session_id, a.alert_as_note, a.alert_as_notification,
	a.created_at, a.updated_at,
	s.id, s.host, s.username, s.token, s.created_at
`

// Create stores a new account together with its session in one transaction.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.Session.ID == "" {
		account.Session.ID = uuid.New().String()
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.SessionID = account.Session.ID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sessions (id, host, username, token)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, account.Session.ID, account.Session.Host, account.Session.Username, account.Session.Token,
	).Scan(&account.Session.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (id, session_id, alert_as_note, alert_as_notification)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, account.ID, account.SessionID, account.AlertAsNote, account.AlertAsNotification,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	return tx.Commit()
}

// GetByID retrieves an account with its session, or nil if absent.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts a
		JOIN sessions s ON s.id = a.session_id
		WHERE a.id = $1
	`

	account, err := r.scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetByHostAndUsername retrieves an account by its session identity.
func (r *AccountRepository) GetByHostAndUsername(ctx context.Context, host, username string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts a
		JOIN sessions s ON s.id = a.session_id
		WHERE s.host = $1 AND s.username = $2
	`

	account, err := r.scanAccount(r.db.QueryRowContext(ctx, query, host, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListAll returns every account, newest first.
func (r *AccountRepository) ListAll(ctx context.Context) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts a
		JOIN sessions s ON s.id = a.session_id
		ORDER BY a.created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAccounts(rows)
}

// ListAlerting returns accounts with at least one alert flag enabled.
func (r *AccountRepository) ListAlerting(ctx context.Context) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts a
		JOIN sessions s ON s.id = a.session_id
		WHERE a.alert_as_note OR a.alert_as_notification
		ORDER BY a.created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAccounts(rows)
}

// UpdateAlertFlags sets the two alert flags.
func (r *AccountRepository) UpdateAlertFlags(ctx context.Context, id string, asNote, asNotification bool) error {
	query := `
		UPDATE accounts
		SET alert_as_note = $2,
		    alert_as_notification = $3,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, asNote, asNotification)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("account %s not found", id)
	}
	return nil
}

// Delete removes an account. The session and records go with it via
// foreign-key cascade.
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	// Deleting the session cascades to the account and its records.
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE id = (SELECT session_id FROM accounts WHERE id = $1)
	`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *AccountRepository) scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.SessionID,
		&account.AlertAsNote,
		&account.AlertAsNotification,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.Session.ID,
		&account.Session.Host,
		&account.Session.Username,
		&account.Session.Token,
		&account.Session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) scanAccounts(rows *sql.Rows) ([]*models.Account, error) {
	var accounts []*models.Account

	for rows.Next() {
		account, err := r.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}
