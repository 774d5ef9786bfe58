package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/appointment-booking/internal/booking"
	"github.com/medibook/appointment-booking/internal/token"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	identityKey  contextKey = "identity"
)

// PatientTokenHeader is the bare single-value header patients send, kept for
// compatibility with the original clients. Providers and admins use the
// usual Authorization bearer header.
const PatientTokenHeader = "token"

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs each request with method, path, status, duration and
// request ID.
func LoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// IdentityFrom retrieves the verified caller identity attached by a gate.
func IdentityFrom(ctx context.Context) (booking.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(booking.Identity)
	return ident, ok
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Auth holds the three per-role gates. Each gate extracts a token, verifies
// it, and attaches the identity to the context; any failure rejects the
// request before it reaches a handler. Gates never mutate shared state.
type Auth struct {
	tokens *token.Service
	log    *zap.Logger
}

func NewAuth(tokens *token.Service, log *zap.Logger) *Auth {
	return &Auth{tokens: tokens, log: log}
}

func (a *Auth) RequirePatient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(PatientTokenHeader)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "auth_token_missing", "login required")
			return
		}
		a.admit(next, w, r, raw, booking.RolePatient, false)
	})
}

func (a *Auth) RequireProvider(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "auth_token_missing", "login required")
			return
		}
		a.admit(next, w, r, raw, booking.RoleProvider, false)
	})
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "auth_token_missing", "login required")
			return
		}
		a.admit(next, w, r, raw, booking.RoleAdmin, true)
	})
}

func (a *Auth) admit(next http.Handler, w http.ResponseWriter, r *http.Request, raw string, want booking.Role, wantAdmin bool) {
	ident, claims, err := a.tokens.Verify(raw)
	if err != nil {
		a.log.Debug("token verification failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "auth_token_expired", "token expired, login again")
		case errors.Is(err, token.ErrBadSignature):
			writeError(w, http.StatusUnauthorized, "auth_token_invalid", "token signature invalid")
		default:
			writeError(w, http.StatusUnauthorized, "auth_token_malformed", "token could not be parsed")
		}
		return
	}

	if ident.Role != want || (wantAdmin && !claims.Admin) {
		writeError(w, http.StatusForbidden, "forbidden", "token role not allowed for this endpoint")
		return
	}

	ctx := context.WithValue(r.Context(), identityKey, ident)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	return raw, raw != ""
}
