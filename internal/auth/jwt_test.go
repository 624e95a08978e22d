package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "access-secret-32-chars-long!!!!!"

func TestJWTManager_IssueAndValidate(t *testing.T) {
	mgr := NewJWTManager(testSecret, "pixora", 15*time.Minute)

	t.Run("round trip keeps identity", func(t *testing.T) {
		token, err := mgr.Issue("user-123", "premium", "Europe/Berlin")
		require.NoError(t, err)

		claims, err := mgr.ValidateAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-123", claims.Subject)
		assert.Equal(t, "premium", claims.Tier)
		assert.Equal(t, "Europe/Berlin", claims.Timezone)
	})

	t.Run("identity provider token with standard claims", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "idp-user-7",
			"iss":  "pixora",
			"exp":  time.Now().Add(time.Minute).Unix(),
			"tier": "free",
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)

		claims, err := mgr.ValidateAccessToken(signed)
		require.NoError(t, err)
		assert.Equal(t, "idp-user-7", claims.Subject)
		assert.Equal(t, "free", claims.Tier)
		assert.Empty(t, claims.Timezone)
	})

	t.Run("token without subject fails", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"uid": "legacy-user",
			"iss": "pixora",
			"exp": time.Now().Add(time.Minute).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = mgr.ValidateAccessToken(signed)
		assert.Error(t, err)
	})

	t.Run("invalid token fails validation", func(t *testing.T) {
		_, err := mgr.ValidateAccessToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("wrong issuer fails", func(t *testing.T) {
		other := NewJWTManager(testSecret, "someone-else", 15*time.Minute)
		token, err := other.Issue("user-1", "free", "")
		require.NoError(t, err)

		_, err = mgr.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		shortMgr := NewJWTManager(testSecret, "pixora", -1*time.Second)
		token, err := shortMgr.Issue("user-exp", "free", "")
		require.NoError(t, err)

		_, err = shortMgr.ValidateAccessToken(token)
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	mgr := NewJWTManager(testSecret, "pixora", time.Minute)

	var seen Identity
	handler := Middleware(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := CurrentUser(r.Context())
		require.True(t, ok)
		seen = id
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token exposes identity", func(t *testing.T) {
		token, err := mgr.Issue("u-42", "enterprise", "Asia/Tokyo")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, Identity{ID: "u-42", Tier: "enterprise", Timezone: "Asia/Tokyo"}, seen)
	})
}
