package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/xeltica-studio/MisskeyTools/internal/aggregate"
	"github.com/xeltica-studio/MisskeyTools/internal/misskey"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
	"github.com/xeltica-studio/MisskeyTools/internal/queue"
)

// Enqueuer is the slice of the job queue the API needs.
type Enqueuer interface {
	Enqueue(name string, payload interface{}, opts queue.Options) error
}

// ClientFactory returns a profile client bound to the given instance host.
type ClientFactory = aggregate.ClientFactory

type AccountHandlers struct {
	accounts models.AccountRepository
	records  models.RecordRepository
	queue    Enqueuer
	clients  ClientFactory
	logger   *slog.Logger
}

func NewAccountHandlers(accounts models.AccountRepository, records models.RecordRepository, queue Enqueuer, clients ClientFactory, logger *slog.Logger) *AccountHandlers {
	return &AccountHandlers{
		accounts: accounts,
		records:  records,
		queue:    queue,
		clients:  clients,
		logger:   logger,
	}
}

// List returns all registered accounts
// GET /api/accounts
func (h *AccountHandlers) List(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	accounts, err := h.accounts.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list accounts", "error", err)
		http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// CreateAccountRequest registers a Misskey account by host and API token.
// The token is verified against the instance before anything is stored.
type CreateAccountRequest struct {
	Host                string `json:"host"`
	Token               string `json:"token"`
	AlertAsNote         bool   `json:"alert_as_note"`
	AlertAsNotification *bool  `json:"alert_as_notification"`
}

// Create registers a new account
// POST /api/accounts
// Body: {"host": "misskey.io", "token": "...", "alert_as_note": false}
func (h *AccountHandlers) Create(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Host = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(req.Host, "https://"), "http://"))
	if req.Host == "" || req.Token == "" {
		http.Error(w, "host and token are required", http.StatusBadRequest)
		return
	}

	// Verify the token against the instance and learn the username
	profile, err := h.clients(req.Host).Me(r.Context(), req.Token)
	if err != nil {
		var apiErr *misskey.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			http.Error(w, "Invalid Misskey token", http.StatusUnauthorized)
			return
		}
		h.logger.Error("failed to verify token", "host", req.Host, "error", err)
		http.Error(w, "Failed to reach instance", http.StatusBadGateway)
		return
	}

	existing, err := h.accounts.GetByHostAndUsername(r.Context(), req.Host, profile.Username)
	if err != nil {
		h.logger.Error("failed to check for existing account", "host", req.Host, "username", profile.Username, "error", err)
		http.Error(w, "Failed to store account", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Account already registered", http.StatusConflict)
		return
	}

	// Notifications default to on unless explicitly disabled
	alertAsNotification := true
	if req.AlertAsNotification != nil {
		alertAsNotification = *req.AlertAsNotification
	}

	account := models.Account{
		AlertAsNote:         req.AlertAsNote,
		AlertAsNotification: alertAsNotification,
		Session: models.Session{
			Host:     req.Host,
			Username: profile.Username,
			Token:    req.Token,
		},
	}

	if err := h.accounts.Create(r.Context(), &account); err != nil {
		h.logger.Error("failed to store account", "acct", account.Session.Acct(), "error", err)
		http.Error(w, "Failed to store account", http.StatusInternalServerError)
		return
	}

	h.logger.Info("registered account", "acct", account.Session.Acct())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// GetByID returns a specific account
// GET /api/accounts/:id
func (h *AccountHandlers) GetByID(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	id := strings.TrimPrefix(r.URL.Path, "/api/accounts/")

	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get account", "id", id, "error", err)
		http.Error(w, "Failed to get account", http.StatusInternalServerError)
		return
	}
	if account == nil {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// UpdateAlerts changes the alert fan-out flags
// PUT /api/accounts/:id/alerts
// Body: {"alert_as_note": true, "alert_as_notification": false}
func (h *AccountHandlers) UpdateAlerts(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	id := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	id = strings.TrimSuffix(id, "/alerts")

	var body struct {
		AlertAsNote         bool `json:"alert_as_note"`
		AlertAsNotification bool `json:"alert_as_notification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.accounts.UpdateAlertFlags(r.Context(), id, body.AlertAsNote, body.AlertAsNotification); err != nil {
		h.logger.Error("failed to update alert flags", "id", id, "error", err)
		http.Error(w, "Failed to update account", http.StatusInternalServerError)
		return
	}

	h.logger.Info("updated alert flags", "id", id,
		"note", body.AlertAsNote, "notification", body.AlertAsNotification)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":                    id,
		"alert_as_note":         body.AlertAsNote,
		"alert_as_notification": body.AlertAsNotification,
	})
}

// Records returns the most recent aggregation records for an account
// GET /api/accounts/:id/records?limit=6
func (h *AccountHandlers) Records(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	id := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	id = strings.TrimSuffix(id, "/records")

	limit := 6
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := h.records.Recent(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to load records", "id", id, "error", err)
		http.Error(w, "Failed to load records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// Aggregate triggers an immediate aggregation run for an account
// POST /api/accounts/:id/aggregate
func (h *AccountHandlers) Aggregate(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	id := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	id = strings.TrimSuffix(id, "/aggregate")

	account, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get account", "id", id, "error", err)
		http.Error(w, "Failed to get account", http.StatusInternalServerError)
		return
	}
	if account == nil {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}

	if err := h.queue.Enqueue(aggregate.QueueAggregate, *account, queue.Options{}); err != nil {
		h.logger.Error("failed to enqueue aggregation", "acct", account.Session.Acct(), "error", err)
		http.Error(w, "Failed to enqueue aggregation", http.StatusInternalServerError)
		return
	}

	h.logger.Info("manual aggregation triggered", "acct", account.Session.Acct())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Aggregation queued",
	})
}

// Delete removes an account and its session and records
// DELETE /api/accounts/:id
func (h *AccountHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	id := strings.TrimPrefix(r.URL.Path, "/api/accounts/")

	if err := h.accounts.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete account", "id", id, "error", err)
		http.Error(w, "Failed to delete account", http.StatusInternalServerError)
		return
	}

	h.logger.Info("deleted account", "id", id)

	w.WriteHeader(http.StatusNoContent)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
