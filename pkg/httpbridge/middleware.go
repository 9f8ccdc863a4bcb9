package httpbridge

import (
	"context"
	"net/http"
)

// loginPath is the one route the TOKEN gate never challenges: a client
// without a session has nowhere else to get one.
const loginPath = "/api/user/login"

// SessionValidator checks a session token and resolves it to a user id.
// pkg/session.Manager satisfies this.
type SessionValidator interface {
	Get(ctx context.Context, token string) (uid string, err error)
}

type contextKey int

const uidKey contextKey = iota

// UserID extracts the uid AuthMiddleware attached to the request context,
// if any.
func UserID(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(uidKey).(string)
	return uid, ok
}

// AuthMiddleware enforces the TOKEN header on every route except loginPath,
// rejecting with 401 when the header is missing or the session is invalid.
func AuthMiddleware(validator SessionValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == loginPath {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("TOKEN")
		if token == "" {
			WriteError(w, errUnauthenticated("missing TOKEN header"))
			return
		}

		uid, err := validator.Get(r.Context(), token)
		if err != nil {
			WriteError(w, errUnauthenticated("invalid session"))
			return
		}

		ctx := context.WithValue(r.Context(), uidKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
