package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vlogmedia/vlog/internal/http/middleware"
	"github.com/vlogmedia/vlog/internal/models"
	"github.com/vlogmedia/vlog/internal/service"
)

// SessionHandler serves admin login and logout. These sit outside the
// admin-authenticated surface: login is how a session begins.
type SessionHandler struct {
	sessions       *service.SessionService
	trustedProxies []string
	logger         *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions *service.SessionService, trustedProxies []string, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		sessions:       sessions,
		trustedProxies: trustedProxies,
		logger:         logger,
	}
}

// Routes registers the auth routes.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Post("/api/auth/login", h.Login)
	r.Post("/api/auth/logout", h.Logout)
}

type loginRequest struct {
	Secret string `json:"secret"`
}

type loginResponse struct {
	ExpiresAt models.Time `json:"expires_at"`
}

// Login verifies the admin secret and sets the session cookie.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ip := middleware.ClientIP(r, h.trustedProxies)
	token, session, err := h.sessions.Login(r.Context(), req.Secret, ip, r.UserAgent())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Time(session.ExpiresAt),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{ExpiresAt: session.ExpiresAt})
}

// Logout deletes the session and expires the cookie.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var token string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		token = cookie.Value
	}

	ip := middleware.ClientIP(r, h.trustedProxies)
	if err := h.sessions.Logout(r.Context(), token, ip); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}
