package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/questlog/internal/apperror"
)

type contextKey string

const userIDKey contextKey = "userID"

// UnauthorizedBody is written by RequireAuth when the request carries no
// usable bearer token. It has the same shape as every other API error.
const UnauthorizedBody = `{"error":"unauthorized","message":"valid authentication required"}`

// Authenticator turns a bearer token into a user id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// AuthenticatorFunc adapts a plain function to Authenticator.
type AuthenticatorFunc func(token string) (string, error)

func (f AuthenticatorFunc) Authenticate(token string) (string, error) { return f(token) }

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RequireAuth rejects requests without a valid bearer token with 401 and
// stores the token's user id in the request context otherwise. When the
// authenticator fails with an *apperror.AppError its message is passed on.
func RequireAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				unauthorized(w, nil)
				return
			}
			userID, err := authn.Authenticate(token)
			if err != nil {
				unauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="questlog"`)
	w.WriteHeader(http.StatusUnauthorized)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Message == "" {
		_, _ = w.Write([]byte(UnauthorizedBody + "\n"))
		return
	}
	_ = json.NewEncoder(w).Encode(errorBody{Error: "unauthorized", Message: appErr.Message})
}

// WithUserID returns a context carrying an authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
