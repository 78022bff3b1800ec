package httputil

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stockflow/stockflow-backend/pkg/actor"
	"github.com/stockflow/stockflow-backend/pkg/auth"
	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stockflow/stockflow-backend/pkg/permissions"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	UserEmailKey contextKey = "user_email"
	UserRoleKey  contextKey = "user_role"
)

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger middleware logs HTTP requests
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info().
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("user_id", GetUserID(wrapped.ctx(r))).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

// Recoverer middleware recovers from panics
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("panic", err).
						Str("path", r.URL.Path).
						Msg("panic recovered")

					Error(w, r, errors.Internal("unexpected panic"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	userID     string
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ctx exposes the user id captured by Authenticate further down the chain.
func (rw *responseWriter) ctx(r *http.Request) context.Context {
	if rw.userID != "" {
		return context.WithValue(r.Context(), UserIDKey, rw.userID)
	}
	return r.Context()
}

// Authenticate resolves the calling user. With a verifier every request must
// carry a valid Bearer token. A nil verifier trusts the X-User-* headers set
// by an upstream gateway and must only be used behind one.
func Authenticate(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID, email, name, role string

			if verifier != nil {
				header := r.Header.Get("Authorization")
				if header == "" {
					Error(w, r, errors.Unauthorized("authentication required"))
					return
				}
				token, ok := strings.CutPrefix(header, "Bearer ")
				if !ok {
					Error(w, r, errors.TokenInvalid())
					return
				}
				claims, err := verifier.Verify(strings.TrimSpace(token))
				if err != nil {
					Error(w, r, err)
					return
				}
				userID, email, name, role = claims.UserID, claims.Email, claims.Name, claims.Role
			} else {
				userID = r.Header.Get("X-User-ID")
				email = r.Header.Get("X-User-Email")
				name = r.Header.Get("X-User-Name")
				role = r.Header.Get("X-User-Role")
			}

			if userID == "" {
				Error(w, r, errors.Unauthorized("authentication required"))
				return
			}

			if rw, ok := w.(*responseWriter); ok {
				rw.userID = userID
			}

			ctx := WithUserContext(r.Context(), userID, email, role)
			ctx = actor.WithActor(ctx, &actor.Actor{ID: userID, Name: name, Email: email, RoleName: role})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability rejects callers whose role lacks the capability
func RequireCapability(module permissions.Module, action permissions.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !permissions.Can(GetUserRole(r.Context()), module, action) {
				Error(w, r, errors.Forbidden("missing capability "+string(module)+"."+string(action)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetUserID retrieves the user ID from context
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// GetUserRole retrieves the user role from context
func GetUserRole(ctx context.Context) string {
	if role, ok := ctx.Value(UserRoleKey).(string); ok {
		return role
	}
	return ""
}

// WithUserContext adds user information to the context
func WithUserContext(ctx context.Context, userID, email, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserEmailKey, email)
	ctx = context.WithValue(ctx, UserRoleKey, role)
	return ctx
}
