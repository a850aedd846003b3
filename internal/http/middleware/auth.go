package middleware

import (
	"context"
	"net/http"

	"github.com/vlogmedia/vlog/internal/models"
)

// WorkerAPIKeyHeader carries the worker's plaintext API key.
const WorkerAPIKeyHeader = "X-Worker-API-Key"

// AdminSecretHeader carries the shared admin secret for headless clients.
const AdminSecretHeader = "X-Admin-Secret"

// SessionCookieName is the admin session cookie.
const SessionCookieName = "vlog_session"

type workerKey struct{}
type sessionKey struct{}

// WorkerAuthenticator resolves a plaintext API key to a worker.
type WorkerAuthenticator interface {
	Authenticate(ctx context.Context, plainKey string) (*models.Worker, error)
}

// AdminAuthenticator validates admin sessions and the shared secret.
type AdminAuthenticator interface {
	Validate(ctx context.Context, token string) (*models.AdminSession, error)
	VerifySecret(secret string) bool
}

// WorkerAuth authenticates worker requests via the API key header and
// stores the worker in the request context. Failures are uniformly 401
// so callers cannot distinguish unknown keys from revoked ones.
func WorkerAuth(auth WorkerAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(WorkerAPIKeyHeader)
			if key == "" {
				unauthorized(w)
				return
			}
			worker, err := auth.Authenticate(r.Context(), key)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), workerKey{}, worker)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetWorker returns the authenticated worker from the context.
func GetWorker(ctx context.Context) *models.Worker {
	if wk, ok := ctx.Value(workerKey{}).(*models.Worker); ok {
		return wk
	}
	return nil
}

// AdminAuth gates admin routes behind a session cookie or the shared
// secret header.
func AdminAuth(auth AdminAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret := r.Header.Get(AdminSecretHeader); secret != "" {
				if !auth.VerifySecret(secret) {
					unauthorized(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}
			session, err := auth.Validate(r.Context(), cookie.Value)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession returns the validated admin session from the context, if any.
func GetSession(ctx context.Context) *models.AdminSession {
	if s, ok := ctx.Value(sessionKey{}).(*models.AdminSession); ok {
		return s
	}
	return nil
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"detail":"authentication required","error":"unauthorized"}`))
}
