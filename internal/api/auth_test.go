package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/teetime-chat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

// signToken issues a session token the way the main app does.
func signToken(t *testing.T, key []byte, userId string, exp time.Duration) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		"exp":       time.Now().Add(exp).Unix(),
	})

	signed, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign token")
	return signed
}

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{name: "no user ID", ctx: context.Background()},
		{name: "empty user ID", ctx: WithUserId(context.Background(), "")},
		{name: "user ID set", ctx: WithUserId(context.Background(), "u1"), userId: "u1", expected: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			if tc.expected {
				assert.Equal(t, tc.userId, userId)
			}
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		setup    func(r *http.Request)
		target   string
		expected string
		err      bool
	}{
		{
			name:     "cookie",
			setup:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"}) },
			expected: "from-cookie",
		},
		{
			name:     "bearer header",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer from-header") },
			expected: "from-header",
		},
		{
			name:     "query parameter",
			target:   "/ws?token=from-query",
			expected: "from-query",
		},
		{
			name: "cookie wins",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"})
				r.Header.Set("Authorization", "Bearer from-header")
			},
			target:   "/ws?token=from-query",
			expected: "from-cookie",
		},
		{
			name:  "malformed header",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			err:   true,
		},
		{name: "nothing", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			target := tc.target
			if target == "" {
				target = "/ws"
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.setup != nil {
				tc.setup(req)
			}

			token, err := tokenFromRequest(req)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, token)
		})
	}
}

func Test_extractUserIdFromToken(t *testing.T) {
	app := &ChatApp{log: testutil.TestLogger(t), signingKey: testSigningKey}

	t.Run("valid", func(t *testing.T) {
		userId, err := app.extractUserIdFromToken(signToken(t, testSigningKey, "u1", time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "u1", userId)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := app.extractUserIdFromToken(signToken(t, testSigningKey, "u1", -time.Hour))
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := app.extractUserIdFromToken(signToken(t, []byte("other-key"), "u1", time.Hour))
		assert.Error(t, err)
	})

	t.Run("missing claim", func(t *testing.T) {
		_, err := app.extractUserIdFromToken(signToken(t, testSigningKey, "", time.Hour))
		assert.Error(t, err)
	})

	t.Run("unsigned", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{userIdClaim: "u1"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(signed)
		assert.Error(t, err)
	})
}
