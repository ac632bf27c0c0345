// Package salesforce implements a Salesforce Bulk API 2.0 ingest client with
// JWT bearer authentication, rate limit aware request dispatch, and CSV
// payload handling.
package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/finrelay/finrelay/internal/shared/config"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	// Salesforce rejects assertions valid for more than 3 minutes.
	assertionLifetime = 3 * time.Minute

	defaultTokenRefreshMargin = 5 * time.Minute
	maxTokenResponseSize      = 64 << 10
)

// TokenProvider supplies a valid access token for Salesforce API calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// JWTTokenProvider obtains access tokens via the OAuth 2.0 JWT bearer flow
// and caches them until close to expiry. Salesforce does not return an
// expiry for this grant, so the cached token is refreshed on a fixed
// schedule and invalidated on 401 by the caller.
type JWTTokenProvider struct {
	cfg        *config.SalesforceConfig
	httpClient *http.Client
	logger     logger.Interface

	mu        sync.Mutex
	token     *oauth2.Token
	signKey   interface{}
	refreshIn time.Duration

	now func() time.Time
}

var _ TokenProvider = (*JWTTokenProvider)(nil)

func NewJWTTokenProvider(cfg *config.SalesforceConfig, log logger.Interface) (*JWTTokenProvider, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse salesforce private key: %w", err)
	}

	refreshIn := defaultTokenRefreshMargin
	if cfg.TokenRefreshMargin > 0 {
		refreshIn = time.Duration(cfg.TokenRefreshMargin) * time.Second
	}

	return &JWTTokenProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
		signKey:    key,
		refreshIn:  refreshIn,
		now:        time.Now,
	}, nil
}

// Token returns a cached access token, fetching a new one when the cache is
// empty or due for refresh.
func (p *JWTTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil && p.token.Expiry.After(p.now()) {
		return p.token.AccessToken, nil
	}

	token, err := p.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	p.token = token

	return token.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
// Callers invoke this after a 401 from the API.
func (p *JWTTokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = nil
}

func (p *JWTTokenProvider) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := p.buildAssertion()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		InstanceURL string `json:"instance_url"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	p.logger.Infow("obtained salesforce access token",
		"instance_url", tr.InstanceURL,
	)

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      p.now().Add(p.refreshIn),
	}, nil
}

func (p *JWTTokenProvider) buildAssertion() (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.cfg.ClientID,
		Subject:   p.cfg.Username,
		Audience:  jwt.ClaimStrings{p.cfg.InstanceURL},
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign jwt assertion: %w", err)
	}
	return assertion, nil
}

// StaticTokenProvider returns a fixed token. Used in tests and local
// development against mock endpoints.
type StaticTokenProvider struct {
	AccessToken string
}

var _ TokenProvider = (*StaticTokenProvider)(nil)

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.AccessToken, nil
}
