// Package zoho implements the intake services on top of the Zoho CRM REST API.
package zoho

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/phbpx/crm-intake/pkg/metrics"
)

// Config is the required properties to use the CRM.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccountsURL  string
	APIURL       string
	APIVersion   string
	Timeout      time.Duration
	RateLimit    float64
	Burst        int
}

// Modules names the CRM modules the service reads and writes.
type Modules struct {
	Leads     string
	Providers string
	Tasks     string
}

func (m Modules) withDefaults() Modules {
	if m.Leads == "" {
		m.Leads = "Leads"
	}
	if m.Providers == "" {
		m.Providers = "Surgeons"
	}
	if m.Tasks == "" {
		m.Tasks = "Tasks"
	}
	return m
}

// Open knows how to build an authenticated CRM client based on the
// configuration.
func Open(cfg Config, m *metrics.Metrics) (*Client, *TokenCache) {
	version := cfg.APIVersion
	if version == "" {
		version = "v2"
	}

	tokens := NewTokenCache(Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	}, cfg.AccountsURL, &http.Client{Timeout: cfg.Timeout}, m)

	client := NewClient(ClientConfig{
		BaseURL:   strings.TrimRight(cfg.APIURL, "/") + "/crm/" + version,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}, tokens, m)

	return client, tokens
}

// StatusCheck returns nil if a token can be obtained from the identity
// provider. It returns a non-nil error otherwise.
func StatusCheck(ctx context.Context, tokens TokenSource) error {
	if _, err := tokens.Token(ctx); err != nil {
		return fmt.Errorf("crm token: %w", err)
	}
	return nil
}
