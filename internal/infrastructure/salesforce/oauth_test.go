package salesforce

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrelay/finrelay/internal/shared/config"
)

func testKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, string(pemBytes)
}

func tokenEndpoint(t *testing.T, pub *rsa.PublicKey, calls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		*calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.FormValue("grant_type"))

		parsed, err := jwt.ParseWithClaims(r.FormValue("assertion"), &jwt.RegisteredClaims{},
			func(tok *jwt.Token) (interface{}, error) { return pub, nil },
			jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)
		claims := parsed.Claims.(*jwt.RegisteredClaims)
		assert.Equal(t, "client_123", claims.Issuer)
		assert.Equal(t, "integration@example.com", claims.Subject)

		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "sf_token_abc",
			"instance_url": "https://example.my.salesforce.com",
			"token_type":   "Bearer",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestJWTTokenProvider_FetchAndCache(t *testing.T) {
	key, pemKey := testKeyPair(t)
	var calls int
	srv := tokenEndpoint(t, &key.PublicKey, &calls)

	cfg := &config.SalesforceConfig{
		InstanceURL:        srv.URL,
		APIVersion:         "v62.0",
		ClientID:           "client_123",
		Username:           "integration@example.com",
		PrivateKey:         pemKey,
		TokenRefreshMargin: 300,
	}
	provider, err := NewJWTTokenProvider(cfg, newTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	token, err := provider.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sf_token_abc", token)
	assert.Equal(t, 1, calls)

	// Cached until the refresh margin expires.
	token, err = provider.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sf_token_abc", token)
	assert.Equal(t, 1, calls)
}

func TestJWTTokenProvider_RefreshAfterMargin(t *testing.T) {
	key, pemKey := testKeyPair(t)
	var calls int
	srv := tokenEndpoint(t, &key.PublicKey, &calls)

	cfg := &config.SalesforceConfig{
		InstanceURL:        srv.URL,
		ClientID:           "client_123",
		Username:           "integration@example.com",
		PrivateKey:         pemKey,
		TokenRefreshMargin: 300,
	}
	provider, err := NewJWTTokenProvider(cfg, newTestLogger())
	require.NoError(t, err)

	current := time.Now()
	provider.now = func() time.Time { return current }

	ctx := context.Background()
	_, err = provider.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	current = current.Add(301 * time.Second)
	_, err = provider.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestJWTTokenProvider_InvalidateForcesRefetch(t *testing.T) {
	key, pemKey := testKeyPair(t)
	var calls int
	srv := tokenEndpoint(t, &key.PublicKey, &calls)

	cfg := &config.SalesforceConfig{
		InstanceURL:        srv.URL,
		ClientID:           "client_123",
		Username:           "integration@example.com",
		PrivateKey:         pemKey,
		TokenRefreshMargin: 300,
	}
	provider, err := NewJWTTokenProvider(cfg, newTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = provider.Token(ctx)
	require.NoError(t, err)

	provider.Invalidate()

	_, err = provider.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestJWTTokenProvider_RejectsBadKey(t *testing.T) {
	cfg := &config.SalesforceConfig{PrivateKey: "not a pem key"}
	_, err := NewJWTTokenProvider(cfg, newTestLogger())
	assert.Error(t, err)
}
