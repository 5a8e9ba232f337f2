package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	principalKey       contextKey = "principal"
	principalHolderKey contextKey = "principal_holder"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims issued by the authentication collaborator
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller
type Principal struct {
	UserID uuid.UUID
	Role   string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// AuthMiddleware validates bearer tokens and puts the caller's Principal in the request context
func AuthMiddleware(jwtSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing authorization header")
				RespondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Debug("Invalid authorization header format")
				RespondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			_, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (any, error) {
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
			if err != nil {
				logger.Debug("Token validation failed", zap.Error(err))
				if errors.Is(err, jwt.ErrTokenExpired) {
					RespondWithError(w, http.StatusUnauthorized, "token expired")
				} else {
					RespondWithError(w, http.StatusUnauthorized, "invalid token")
				}
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil || claims.Role == "" {
				logger.Debug("Invalid token claims", zap.String("user_id", claims.UserID))
				RespondWithError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			principal := Principal{UserID: userID, Role: claims.Role}
			logger.Debug("User authenticated",
				zap.String("user_id", userID.String()),
				zap.String("role", principal.Role),
			)

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if h, ok := ctx.Value(principalHolderKey).(*principalHolder); ok {
		h.p, h.set = p, true
	}
	return context.WithValue(ctx, principalKey, p)
}

// principalHolder carries the principal back up to middleware that runs before auth
type principalHolder struct {
	p   Principal
	set bool
}

func withPrincipalHolder(ctx context.Context, h *principalHolder) context.Context {
	return context.WithValue(ctx, principalHolderKey, h)
}

// GetPrincipal extracts the authenticated caller from request context
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	p, ok := GetPrincipal(ctx)
	return p.UserID, ok
}

// GetUserRole extracts user role from request context
func GetUserRole(ctx context.Context) (string, bool) {
	p, ok := GetPrincipal(ctx)
	return p.Role, ok
}

// SignToken issues a token AuthMiddleware accepts. Token issuance belongs to the
// authentication collaborator; this exists for local tooling and tests.
func SignToken(jwtSecret string, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}
