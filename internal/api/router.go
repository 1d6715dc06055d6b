package api

import (
	"net/http"
	"strings"

	"log/slog"

	"github.com/xeltica-studio/MisskeyTools/internal/auth"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
)

// SetupRoutes configures all API routes
func SetupRoutes(
	mux *http.ServeMux,
	accountRepo models.AccountRepository,
	recordRepo models.RecordRepository,
	announcementRepo models.AnnouncementRepository,
	enqueuer Enqueuer,
	clients ClientFactory,
	authConfig auth.Config,
	logger *slog.Logger,
) {
	accountHandler := NewAccountHandlers(accountRepo, recordRepo, enqueuer, clients, logger)
	announcementHandler := NewAnnouncementHandlers(announcementRepo, logger)
	authHandler := NewAuthHandler(authConfig, logger)

	// Auth middleware
	authMiddleware := auth.AuthMiddleware(authConfig)
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			authMiddleware(h).ServeHTTP(w, r)
		}
	}

	// Authentication routes (public)
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/auth/validate", admin(authHandler.ValidateToken))

	// Announcement routes (reads public, writes admin)
	mux.HandleFunc("/api/announcements", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			announcementHandler.List(w, r)
		case http.MethodPost:
			admin(announcementHandler.Create)(w, r)
		case http.MethodPut:
			admin(announcementHandler.Update)(w, r)
		case http.MethodOptions:
			corsPreflight(w)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/announcements/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			announcementHandler.GetByID(w, r)
		case http.MethodDelete:
			admin(announcementHandler.Delete)(w, r)
		case http.MethodOptions:
			corsPreflight(w)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Account routes (admin only)
	mux.HandleFunc("/api/accounts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			admin(accountHandler.List)(w, r)
		case http.MethodPost:
			admin(accountHandler.Create)(w, r)
		case http.MethodOptions:
			corsPreflight(w)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/accounts/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodOptions:
			corsPreflight(w)
		case strings.HasSuffix(r.URL.Path, "/alerts") && r.Method == http.MethodPut:
			admin(accountHandler.UpdateAlerts)(w, r)
		case strings.HasSuffix(r.URL.Path, "/records") && r.Method == http.MethodGet:
			admin(accountHandler.Records)(w, r)
		case strings.HasSuffix(r.URL.Path, "/aggregate") && r.Method == http.MethodPost:
			admin(accountHandler.Aggregate)(w, r)
		case r.Method == http.MethodGet:
			admin(accountHandler.GetByID)(w, r)
		case r.Method == http.MethodDelete:
			admin(accountHandler.Delete)(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func corsPreflight(w http.ResponseWriter) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusOK)
}
