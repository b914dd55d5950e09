package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethpandaops/authoor/pkg/auth"
	"github.com/ethpandaops/authoor/pkg/metrics"
	"github.com/ethpandaops/authoor/pkg/store"
)

type contextKey string

const (
	userContextKey   contextKey = "user"
	apiKeyContextKey contextKey = "apikey"
)

// sessionCookieName is the login session cookie.
const sessionCookieName = "authoor_session"

// API key header pair presented by programmatic clients.
const (
	apiKeyIDHeader     = "API_ID"
	apiKeySecretHeader = "API_KEY"
)

// lastActiveUpdateInterval throttles session activity writes.
const lastActiveUpdateInterval = 5 * time.Minute

// requestLogger logs incoming HTTP requests and counts them.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, strconv.Itoa(ww.status),
		).Inc()

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.status).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requireSession resolves the principal from the session cookie and
// injects it into the request context. Missing or invalid sessions
// produce 401: the caller has no usable principal and must log in.
func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		session, err := s.store.GetSessionByToken(r.Context(), cookie.Value)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid or expired session"})

			return
		}

		if time.Now().UTC().After(session.ExpiresAt) {
			_ = s.store.DeleteSession(r.Context(), cookie.Value)
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"session expired"})

			return
		}

		user, err := s.store.GetUserByID(r.Context(), session.UserID)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"user not found"})

			return
		}

		if session.LastActiveAt == nil ||
			time.Since(*session.LastActiveAt) > lastActiveUpdateInterval {
			go func() {
				if err := s.store.UpdateSessionLastActive(
					context.Background(), session.ID, time.Now().UTC(),
				); err != nil {
					s.log.WithError(err).
						Warn("Failed to update session last active")
				}
			}()
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAPIKey resolves the principal from the API key header pair and
// injects the owner and key into the request context. Any failure is a
// 403 with no detail about which half of the credential was wrong.
func (s *server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyID := r.Header.Get(apiKeyIDHeader)
		keySecret := r.Header.Get(apiKeySecretHeader)

		if keyID == "" || keySecret == "" {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"forbidden"})

			return
		}

		user, key, err := s.authn.AuthenticateAPIKey(
			r.Context(), keyID, keySecret,
		)
		if err != nil {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"forbidden"})

			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, apiKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles checks that the context principal satisfies all of the
// given requirements.
func (s *server) requireRoles(
	requirements ...auth.Requirement,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil ||
				!s.authz.HasRoles(r.Context(), user, requirements...) {
				writeJSON(w, http.StatusForbidden,
					errorResponse{"insufficient permissions"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// userFromContext extracts the authenticated user from the request
// context.
func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey).(*store.User)

	return user
}

// apiKeyFromContext extracts the presented API key from the request
// context.
func apiKeyFromContext(ctx context.Context) *store.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*store.APIKey)

	return key
}
