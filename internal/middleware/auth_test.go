package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveWithAuth(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	AuthMiddleware(testSecret, zap.NewNop())(h).ServeHTTP(w, req)
	return w
}

// Feature: storefront-orders, Property 7: Protected endpoints reject missing or malformed tokens
func TestProperty_MalformedTokensAreRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("anything that is not a signed bearer token gets 401", prop.ForAll(
		func(raw string, withPrefix bool) bool {
			header := raw
			if withPrefix {
				header = "Bearer " + raw
			}
			return serveWithAuth(okHandler(), header).Code == http.StatusUnauthorized
		},
		gen.AnyString(),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: storefront-orders, Property 8: Valid tokens expose the principal
func TestProperty_ValidTokensExposePrincipal(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("a signed unexpired token reaches the handler with its user id and role", prop.ForAll(
		func(role string) bool {
			userID := uuid.New()
			token, err := SignToken(testSecret, userID, role, time.Hour)
			if err != nil {
				return false
			}

			var got Principal
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = GetPrincipal(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			w := serveWithAuth(handler, "Bearer "+token)
			return w.Code == http.StatusOK && got.UserID == userID && got.Role == role
		},
		gen.OneConstOf(RoleUser, RoleAdmin),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	userID := uuid.New()

	expired, _ := SignToken(testSecret, userID, RoleUser, -time.Hour)
	wrongSecret, _ := SignToken("other-secret", userID, RoleUser, time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: userID.String(), Role: RoleUser}).
		SignedString([]byte(testSecret))
	badUserID, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "not-a-uuid",
		Role:             RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID:           userID.String(),
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{name: "missing header", header: "", message: "missing authorization header"},
		{name: "basic scheme", header: "Basic abc", message: "invalid authorization header format"},
		{name: "expired", header: "Bearer " + expired, message: "token expired"},
		{name: "wrong secret", header: "Bearer " + wrongSecret, message: "invalid token"},
		{name: "no expiry", header: "Bearer " + noExpiry, message: "invalid token"},
		{name: "none algorithm", header: "Bearer " + noneAlg, message: "invalid token"},
		{name: "user id not a uuid", header: "Bearer " + badUserID, message: "invalid token claims"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveWithAuth(okHandler(), tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(zap.NewNop())(okHandler())

	tests := []struct {
		name      string
		principal *Principal
		want      int
	}{
		{name: "no principal", want: http.StatusForbidden},
		{name: "customer", principal: &Principal{UserID: uuid.New(), Role: RoleUser}, want: http.StatusForbidden},
		{name: "admin", principal: &Principal{UserID: uuid.New(), Role: RoleAdmin}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/products", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), *tt.principal))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
