// Package identity provides anonymous per-caller identity primitives.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	CallerCookieName      = "coldcall_caller_id"
	SessionHeaderName     = "X-Call-Session-ID"
	DefaultSessionIDValue = "default"
	callerCookieMaxAge    = 30 * 24 * time.Hour
)

type contextKey int

const (
	callerIDKey contextKey = iota
	sessionIDKey
)

var (
	callerIDPattern  = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// CallerIDFromContext extracts the caller ID from the request context.
func CallerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the call session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithIdentity returns a context carrying the given caller and session IDs.
func WithIdentity(ctx context.Context, callerID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, callerIDKey, callerID)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func isValidCallerID(id string) bool {
	return callerIDPattern.MatchString(id)
}

// callerIDForAddr derives a stable ID from the client address so clients that
// never send cookies still reach the same call on every request.
func callerIDForAddr(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return "anon_" + hex.EncodeToString(sum[:16])
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func getOrCreateCallerID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	id := ""
	if c, err := r.Cookie(CallerCookieName); err == nil && isValidCallerID(c.Value) {
		id = c.Value
	} else {
		id = callerIDForAddr(IPFromRequest(r))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CallerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(callerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(callerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the caller identity and per-request call session ID.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID := getOrCreateCallerID(w, r, isDev)
			ctx := WithIdentity(r.Context(), callerID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
