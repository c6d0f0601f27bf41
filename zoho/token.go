package zoho

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

	intake "github.com/phbpx/crm-intake"
	"github.com/phbpx/crm-intake/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTokenMargin = time.Minute
	defaultTokenTTL    = time.Hour
	defaultTokenWait   = 15 * time.Second
)

// Credentials are the long lived OAuth client credentials used for the
// refresh token grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c Credentials) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	APIDomain   string `json:"api_domain"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// TokenCache owns the current access token and refreshes it on demand.
type TokenCache struct {
	creds       Credentials
	accountsURL string
	client      *http.Client
	margin      time.Duration
	timeout     time.Duration
	metrics     *metrics.Metrics
	now         func() time.Time

	mu    sync.RWMutex
	token intake.AccessToken
	group singleflight.Group
}

// NewTokenCache returns a cache that exchanges creds at accountsURL.
func NewTokenCache(creds Credentials, accountsURL string, client *http.Client, m *metrics.Metrics) *TokenCache {
	if client == nil {
		client = http.DefaultClient
	}
	timeout := client.Timeout
	if timeout <= 0 {
		timeout = defaultTokenWait
	}
	return &TokenCache{
		creds:       creds,
		accountsURL: strings.TrimRight(accountsURL, "/"),
		client:      client,
		margin:      defaultTokenMargin,
		timeout:     timeout,
		metrics:     m,
		now:         time.Now,
	}
}

// Token returns a usable access token, refreshing it when absent or about
// to expire.
func (tc *TokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.RLock()
	tok := tc.token
	tc.mu.RUnlock()

	if tok.Valid(tc.now(), tc.margin) {
		return tok.Value, nil
	}

	// Shared by every waiter; detached from the first caller's cancellation.
	v, err, _ := tc.group.Do("token", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tc.timeout)
		defer cancel()
		return tc.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(intake.AccessToken).Value, nil
}

// Invalidate forgets the cached token so the next call refreshes it.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	tc.token = intake.AccessToken{}
	tc.mu.Unlock()
}

func (tc *TokenCache) refresh(ctx context.Context) (intake.AccessToken, error) {
	tok, err := tc.exchange(ctx)
	tc.metrics.TokenRefresh(err == nil)
	if err != nil {
		return intake.AccessToken{}, err
	}

	tc.mu.Lock()
	tc.token = tok
	tc.mu.Unlock()

	return tok, nil
}

func (tc *TokenCache) exchange(ctx context.Context) (intake.AccessToken, error) {
	if !tc.creds.complete() {
		return intake.AccessToken{}, &intake.AuthError{Message: "client id, client secret and refresh token are required"}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", tc.creds.ClientID)
	form.Set("client_secret", tc.creds.ClientSecret)
	form.Set("refresh_token", tc.creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.accountsURL+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return intake.AccessToken{}, &intake.AuthError{Message: "building token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.client.Do(req)
	if err != nil {
		return intake.AccessToken{}, &intake.AuthError{Message: "token request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return intake.AccessToken{}, &intake.AuthError{Message: "reading token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return intake.AccessToken{}, &intake.AuthError{Message: fmt.Sprintf("token endpoint returned %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return intake.AccessToken{}, &intake.AuthError{Message: "decoding token response", Err: err}
	}

	// The accounts server reports grant failures with a 200 and an error field.
	if tr.Error != "" {
		return intake.AccessToken{}, &intake.AuthError{Message: "token exchange rejected: " + tr.Error}
	}
	if tr.AccessToken == "" {
		return intake.AccessToken{}, &intake.AuthError{Message: "token response without access_token"}
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return intake.AccessToken{Value: tr.AccessToken, ExpiresAt: tc.now().Add(ttl)}, nil
}
