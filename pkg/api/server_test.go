package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/api/v1/mocks"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/auth"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

const (
	testKeyID    = "api-test-key"
	testIssuer   = "https://login.microsoftonline.com/test-tenant/v2.0"
	testIssuerV1 = "https://sts.windows.net/test-tenant/"
	testAudience = "api://d365obo-client"
)

// newTestValidator builds a validator backed by a local JWKS server and
// returns it with the matching signing key.
func newTestValidator(t *testing.T) (*auth.Validator, *rsa.PrivateKey) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.Import(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))

	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(key))

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		buf, err := json.Marshal(keySet)
		if err != nil {
			t.Errorf("Failed to marshal key set: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf)
	}))
	t.Cleanup(jwksServer.Close)

	registry, err := auth.NewIssuerRegistry(context.Background(), auth.RegistryConfig{
		IssuerV2:   testIssuer,
		IssuerV1:   testIssuerV1,
		JWKSURLV2:  jwksServer.URL,
		JWKSURLV1:  jwksServer.URL,
		HTTPClient: http.DefaultClient,
	})
	require.NoError(t, err)

	return auth.NewValidator(registry, testAudience), privateKey
}

// signToken mints a token the test validator accepts.
func signToken(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"oid": "caller-object-id",
		"sub": "caller-subject",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})
	token.Header["kid"] = testKeyID

	signed, err := token.SignedString(key)
	require.NoError(t, err)

	return signed
}

func TestServerConfigValidate(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockEntityProxy(ctrl)
	validator, _ := newTestValidator(t)

	testCases := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{
			name:    "missing address",
			cfg:     ServerConfig{Validator: validator, Proxy: proxy},
			wantErr: "Address is required",
		},
		{
			name:    "missing validator",
			cfg:     ServerConfig{Address: "127.0.0.1:0", Proxy: proxy},
			wantErr: "Validator is required",
		},
		{
			name:    "missing proxy",
			cfg:     ServerConfig{Address: "127.0.0.1:0", Validator: validator},
			wantErr: "Proxy is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRouterWiring(t *testing.T) {
	t.Parallel()

	logger.Initialize()

	validator, signingKey := newTestValidator(t)

	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockEntityProxy(ctrl)
	proxy.EXPECT().
		Read(gomock.Any(), "EmployeesV2", "").
		DoAndReturn(func(ctx context.Context, _, _ string) (json.RawMessage, error) {
			// The middleware must have placed the caller's assertion in the
			// request context before the proxy runs.
			assertion, ok := auth.AssertionFromContext(ctx)
			assert.True(t, ok)
			assert.Equal(t, "caller-object-id", assertion.Subject)
			return json.RawMessage(`{"value":[]}`), nil
		})

	router, err := Router(ServerConfig{
		Address:        "127.0.0.1:0",
		Validator:      validator,
		Proxy:          proxy,
		DefaultCompany: "dat",
	})
	require.NoError(t, err)

	t.Run("health is unauthenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("login page is unauthenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "token helper")
	})

	t.Run("api without token rejects with success status", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1beta/version", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"isSuccess":false,"message":"Authentication failed"}`, w.Body.String())
	})

	t.Run("api with valid token reaches handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1beta/version", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, signingKey))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "version")
	})

	t.Run("employees route runs the proxy with the caller assertion", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1beta/employees", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, signingKey))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"value":[]}`, w.Body.String())
	})

	t.Run("dataverse routes absent when not configured", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1beta/dataverse/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, signingKey))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
