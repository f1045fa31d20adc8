package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aurelia-jewels/api/internal/domain"
)

const defaultVerifyTimeout = 5 * time.Second

// UserLoader fetches the account backing a token subject. Implementations
// must return an error satisfying errors.Is(err, ErrUserNotFound) when the
// account no longer exists.
type UserLoader func(ctx context.Context, userID string) (domain.User, error)

// ErrUserNotFound is returned by UserLoader implementations for missing accounts.
var ErrUserNotFound = errors.New("auth: user not found")

// Authenticator wires access token verification into HTTP middleware.
type Authenticator struct {
	tokens  *TokenService
	users   UserLoader
	timeout time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithVerificationTimeout sets the timeout used when loading users during verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(tokens *TokenService, users UserLoader, opts ...Option) (*Authenticator, error) {
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if users == nil {
		return nil, errors.New("auth: user loader is required")
	}

	a := &Authenticator{
		tokens:  tokens,
		users:   users,
		timeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// RequireAuth verifies the Authorization bearer token, loads the backing
// account, rejects stale or deactivated credentials, and optionally gates on
// the allowed roles. With no roles listed any authenticated user passes.
func (a *Authenticator) RequireAuth(allowedRoles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role.Valid() {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.tokens == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			claims, err := a.tokens.Parse(tokenStr)
			if err != nil {
				respondVerificationError(w, err)
				return
			}

			ctx, cancel := a.contextWithTimeout(r.Context())
			if cancel != nil {
				defer cancel()
			}

			user, err := a.users(ctx, claims.Subject)
			if err != nil {
				if errors.Is(err, ErrUserNotFound) {
					respondAuthError(w, http.StatusUnauthorized, "unknown_user", "account no longer exists")
					return
				}
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "account lookup failed")
				return
			}
			if !user.IsActive {
				respondAuthError(w, http.StatusUnauthorized, "account_deactivated", "account has been deactivated")
				return
			}
			if tokenIssuedBeforePasswordChange(claims, user) {
				respondAuthError(w, http.StatusUnauthorized, "token_stale", "password changed after token was issued")
				return
			}

			role := user.Role
			if !role.Valid() {
				role = domain.RoleUser
			}
			if len(allowed) > 0 {
				if _, ok := allowed[role]; !ok {
					respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
					return
				}
			}

			identity := &Identity{
				UserID: user.ID,
				Email:  user.Email,
				Role:   role,
				User:   user,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalAuth attaches an identity when a valid bearer token accompanies the
// request and lets the request through anonymously otherwise. Invalid, stale,
// or deactivated credentials are treated as anonymous rather than rejected.
func (a *Authenticator) OptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok || a == nil || a.tokens == nil {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := a.tokens.Parse(tokenStr)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := a.contextWithTimeout(r.Context())
			if cancel != nil {
				defer cancel()
			}

			user, err := a.users(ctx, claims.Subject)
			if err != nil || !user.IsActive || tokenIssuedBeforePasswordChange(claims, user) {
				next.ServeHTTP(w, r)
				return
			}

			role := user.Role
			if !role.Valid() {
				role = domain.RoleUser
			}
			identity := &Identity{
				UserID: user.ID,
				Email:  user.Email,
				Role:   role,
				User:   user,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func tokenIssuedBeforePasswordChange(claims Claims, user domain.User) bool {
	if claims.IssuedAt == nil || user.PasswordChangedAt.IsZero() {
		return false
	}
	// IssuedAt carries second precision; truncate the comparison so a token
	// minted in the same second as the change survives.
	return claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second))
}

func (a *Authenticator) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, a.timeout)
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "access token expired")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "access token invalid")
	}
}
