package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jadenk/mailux/pkg/email"
	"github.com/jadenk/mailux/pkg/storage"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds request bodies, mostly message text and HTML
const maxBodyBytes = 10 << 20

// Mailer is the mail service used by the HTTP handlers
type Mailer interface {
	Send(ctx context.Context, msg email.OutboundMessage, creds email.Credentials) (*email.SendResult, error)
	Reply(ctx context.Context, msg email.OutboundMessage, creds email.Credentials) (*email.SendResult, error)
	ListInbox(ctx context.Context, creds email.Credentials) ([]email.NormalizedMessage, error)
	ListSent(ctx context.Context, creds email.Credentials) ([]email.NormalizedMessage, error)
	Delete(ctx context.Context, creds email.Credentials, mailbox string, uid *uint32) error
	CreateFolder(username, name string) ([]string, error)
	Folders(username string) []string
}

// SessionCarrier logs users in and resolves bearer tokens to credentials
type SessionCarrier interface {
	Login(ctx context.Context, username, password string) (string, error)
	Resolve(token string) (email.Credentials, error)
	Logout(token string) error
}

// SettingsStore reads and updates user settings
type SettingsStore interface {
	GetUserSettings(username string) (email.UserSettings, error)
	UpdateUserSettings(username string, patch storage.SettingsPatch) (email.UserSettings, error)
}

// Handler serves the JSON API
type Handler struct {
	mailer      Mailer
	sessions    SessionCarrier
	settings    SettingsStore
	corsOrigins []string
	logger      *logrus.Entry
}

// NewHandler creates a new handler instance
func NewHandler(mailer Mailer, sessions SessionCarrier, settings SettingsStore, corsOrigins []string, logger *logrus.Entry) *Handler {
	return &Handler{
		mailer:      mailer,
		sessions:    sessions,
		settings:    settings,
		corsOrigins: corsOrigins,
		logger:      logger,
	}
}

// Router returns the routed API wrapped in CORS handling
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.handleMethodNotAllowed)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/login", h.handleLogin).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.requireSession)
	api.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/mail/send", h.handleSend).Methods(http.MethodPost)
	api.HandleFunc("/mail/reply", h.handleReply).Methods(http.MethodPost)
	api.HandleFunc("/mail/inbox", h.handleInbox).Methods(http.MethodGet)
	api.HandleFunc("/mail/sent", h.handleSent).Methods(http.MethodGet)
	api.HandleFunc("/mail/delete", h.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/mail/folder", h.handleCreateFolder).Methods(http.MethodPost)
	api.HandleFunc("/mail/folder", h.handleListFolders).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.handleUpdateSettings).Methods(http.MethodPatch)

	cors := handlers.CORS(
		handlers.AllowedOrigins(h.corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	return cors(r)
}
