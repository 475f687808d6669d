package completion

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Style selects the wire format a provider speaks.
type Style string

const (
	StyleChat        Style = "chat"
	StyleCompletions Style = "completions"
)

// ProviderConfig is loaded once at startup and never mutated.
type ProviderConfig struct {
	BaseURL string
	Model   string
	APIKey  string

	Style Style  // default: chat
	Path  string // default depends on Style

	MaxTokensShort int     // default: 512
	MaxTokensLong  int     // default: 2048
	Temperature    float64 // default: 0.7
	TopP           float64 // default: 1
}

type Config struct {
	Providers map[Provider]ProviderConfig

	ConnectTimeout time.Duration // default: 10s
	AttemptTimeout time.Duration // per attempt, default: 60s

	MaxIdleConns        int // default: 20
	MaxIdleConnsPerHost int // default: 10

	// Custom HTTP client (tests)
	HTTPClient *http.Client
}

// Validate checks that every configured provider is usable apart from its
// credential. Missing credentials surface per call as validation errors.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider is required")
	}
	for p, pc := range c.Providers {
		if !p.Valid() {
			return fmt.Errorf("unknown provider %q", p)
		}
		if pc.BaseURL == "" {
			return fmt.Errorf("%s: BaseURL is required", p)
		}
		if pc.Model == "" {
			return fmt.Errorf("%s: Model is required", p)
		}
		if pc.Style != StyleChat && pc.Style != StyleCompletions {
			return fmt.Errorf("%s: unknown style %q", p, pc.Style)
		}
	}
	return nil
}

// WithDefaults returns a copy of Config with defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	providers := make(map[Provider]ProviderConfig, len(c.Providers))
	for p, pc := range c.Providers {
		pc.BaseURL = strings.TrimRight(pc.BaseURL, "/")
		if pc.Style == "" {
			pc.Style = StyleChat
		}
		if pc.Path == "" {
			pc.Path = defaultPath(pc.Style)
		}
		if pc.MaxTokensShort <= 0 {
			pc.MaxTokensShort = 512
		}
		if pc.MaxTokensLong <= 0 {
			pc.MaxTokensLong = 2048
		}
		if pc.Temperature <= 0 {
			pc.Temperature = 0.7
		}
		if pc.TopP <= 0 {
			pc.TopP = 1
		}
		providers[p] = pc
	}
	cfg.Providers = providers

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 20
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	return cfg
}

func defaultPath(s Style) string {
	if s == StyleCompletions {
		return "/v1/completions"
	}
	return "/v1/chat/completions"
}

// defaultTransport bounds the connect phase; the total per-attempt bound is
// the http.Client timeout.
func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
