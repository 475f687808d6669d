package completion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"brokerdesk/internal/metrics"
	"brokerdesk/internal/retry"
)

const (
	maxRequestSize  = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize  = 512 * 1024      // 512KB per message or prompt
	maxResponseSize = 4 * 1024 * 1024
)

// Client talks to the configured providers. It holds no mutable state after
// construction and is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithSleep replaces the backoff sleep. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a completion client with the given configuration.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
			Timeout:   cfg.AttemptTimeout,
		}
	}

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("completion"),
		sleep:      retry.SleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Configured reports whether p has an endpoint and a credential.
func (c *Client) Configured(p Provider) bool {
	pc, ok := c.cfg.Providers[p]
	return ok && pc.APIKey != ""
}

// Complete obtains generated text from provider, retrying transient failures
// up to maxRetries attempts. When every attempt ends in a 5xx, the whole call
// is repeated once against the alternate provider.
func (c *Client) Complete(ctx context.Context, req *Request, provider Provider, maxRetries int) (*Result, error) {
	start := time.Now()

	if err := c.validate(req, provider, maxRetries); err != nil {
		return nil, err
	}

	res, err := c.completeWith(ctx, req, provider, maxRetries)
	if err == nil {
		c.logger.Info("completion finished",
			zap.String("provider", string(res.Provider)),
			zap.String("model", res.Model),
			zap.Int("attempts", res.Attempts),
			zap.Duration("duration", time.Since(start)),
		)
		return res, nil
	}
	if !unavailable(err) {
		c.logger.Error("completion failed",
			zap.String("provider", string(provider)),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}

	alt := provider.Alternate()
	if verr := c.validate(req, alt, maxRetries); verr != nil {
		c.logger.Warn("fallback provider not usable",
			zap.String("provider", string(provider)),
			zap.String("fallback", string(alt)),
			zap.Error(verr),
		)
		return nil, err
	}

	c.logger.Warn("provider unavailable, falling back",
		zap.String("provider", string(provider)),
		zap.String("fallback", string(alt)),
		zap.Error(err),
	)
	metrics.CompletionFallbacksTotal.WithLabelValues(string(provider), string(alt)).Inc()

	res, altErr := c.completeWith(ctx, req, alt, maxRetries)
	if altErr != nil {
		c.logger.Error("fallback completion failed",
			zap.String("provider", string(alt)),
			zap.Error(altErr),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, fallbackError(provider, altErr)
	}

	res.FallbackUsed = true
	res.OriginalProvider = provider

	c.logger.Info("completion finished via fallback",
		zap.String("provider", string(res.Provider)),
		zap.String("original_provider", string(provider)),
		zap.String("model", res.Model),
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (c *Client) validate(req *Request, provider Provider, maxRetries int) error {
	if req == nil {
		return validationError(provider, "request is nil")
	}
	if !provider.Valid() {
		return validationError(provider, fmt.Sprintf("unknown provider %q", provider))
	}
	if maxRetries < 1 {
		return validationError(provider, "maxRetries must be at least 1")
	}
	pc, ok := c.cfg.Providers[provider]
	if !ok {
		return validationError(provider, "provider is not configured")
	}
	if pc.APIKey == "" {
		return validationError(provider, "missing API key")
	}
	if err := req.Validate(); err != nil {
		return validationError(provider, err.Error())
	}
	return nil
}

func (c *Client) completeWith(ctx context.Context, req *Request, provider Provider, maxRetries int) (*Result, error) {
	pc := c.cfg.Providers[provider]
	wire := wireFor(pc.Style)

	body, err := wire.encode(req, pc)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Provider: provider, Message: "marshal request", Err: err}
	}
	if len(body) > maxRequestSize {
		return nil, validationError(provider,
			fmt.Sprintf("request too large (%d bytes, max %d)", len(body), maxRequestSize))
	}

	url := pc.BaseURL + pc.Path

	var res *Result
	err = retry.Do(ctx, retry.Policy{
		MaxAttempts: maxRetries,
		Backoff:     retry.ExponentialSeconds,
		Retryable:   isTransient,
		Sleep: func(ctx context.Context, d time.Duration) error {
			c.logger.Debug("backing off before retry",
				zap.String("provider", string(provider)),
				zap.Duration("backoff", d),
			)
			return c.sleep(ctx, d)
		},
	}, func(ctx context.Context, attempt int) error {
		text, model, err := c.attempt(ctx, provider, pc, wire, url, body, attempt, maxRetries)
		if err != nil {
			return err
		}
		if model == "" {
			model = pc.Model
		}
		res = &Result{Text: text, Provider: provider, Model: model, Attempts: attempt}
		return nil
	})
	if err == nil {
		return res, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		status := 0
		var last *Error
		if errors.As(exhausted.Last, &last) {
			status = last.Status
		}
		c.logger.Warn("completion exhausted all retries",
			zap.String("provider", string(provider)),
			zap.Int("attempts", exhausted.Attempts),
			zap.Int("last_status", status),
			zap.Error(exhausted.Last),
		)
		return nil, &Error{
			Kind:     KindTransient,
			Provider: provider,
			Status:   status,
			Attempts: exhausted.Attempts,
			Message:  fmt.Sprintf("max retries (%d) exceeded", exhausted.Attempts),
			Err:      exhausted.Last,
		}
	}

	var ce *Error
	if errors.As(err, &ce) {
		return nil, err
	}
	// context cancellation or deadline from the caller
	return nil, &Error{Kind: KindTransient, Provider: provider, Message: "request aborted", Err: err}
}

// attempt issues exactly one HTTP POST and classifies the outcome.
func (c *Client) attempt(
	ctx context.Context,
	provider Provider,
	pc ProviderConfig,
	wire wireFormat,
	url string,
	body []byte,
	attempt, maxAttempts int,
) (string, string, error) {
	start := time.Now()
	text, model, status, err := c.roundTrip(ctx, provider, pc, wire, url, body, attempt)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.CompletionAttemptsTotal.WithLabelValues(string(provider), outcome).Inc()
	metrics.CompletionLatencySeconds.WithLabelValues(string(provider)).Observe(duration.Seconds())

	c.logger.Debug("completion upstream request",
		zap.String("provider", string(provider)),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", maxAttempts),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	return text, model, err
}

func (c *Client) roundTrip(
	ctx context.Context,
	provider Provider,
	pc ProviderConfig,
	wire wireFormat,
	url string,
	body []byte,
	attempt int,
) (string, string, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", 0, &Error{Kind: KindPermanent, Provider: provider, Attempts: attempt, Message: "build HTTP request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+pc.APIKey)
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", 0, ctxErr
		}
		kind := KindPermanent
		if isTransientNetError(err) {
			kind = KindTransient
		}
		return "", "", 0, &Error{Kind: kind, Provider: provider, Attempts: attempt, Message: "network error", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", "", resp.StatusCode, &Error{
			Kind: KindTransient, Provider: provider, Status: resp.StatusCode, Attempts: attempt,
			Message: "read response body", Err: err,
		}
	}

	switch {
	case resp.StatusCode >= 500:
		return "", "", resp.StatusCode, &Error{
			Kind: KindTransient, Provider: provider, Status: resp.StatusCode, Attempts: attempt,
			Message: fmt.Sprintf("upstream %d: %s", resp.StatusCode, providerMessage(raw)),
		}
	case resp.StatusCode >= 400:
		c.logger.Error("completion provider rejected request",
			zap.String("provider", string(provider)),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), 200)),
		)
		return "", "", resp.StatusCode, &Error{
			Kind: KindPermanent, Provider: provider, Status: resp.StatusCode, Attempts: attempt,
			Message: fmt.Sprintf("upstream %d: %s", resp.StatusCode, providerMessage(raw)),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", "", resp.StatusCode, &Error{
			Kind: KindResponseFormat, Provider: provider, Status: resp.StatusCode, Attempts: attempt,
			Message: fmt.Sprintf("unexpected upstream status %d", resp.StatusCode),
		}
	}

	text, model, err := wire.decode(raw)
	if err != nil {
		return "", "", resp.StatusCode, &Error{
			Kind: KindResponseFormat, Provider: provider, Status: resp.StatusCode, Attempts: attempt,
			Message: "malformed response", Err: err,
		}
	}
	return text, model, resp.StatusCode, nil
}

func fallbackError(original Provider, altErr error) error {
	var ce *Error
	if !errors.As(altErr, &ce) {
		return altErr
	}
	return &Error{
		Kind:     ce.Kind,
		Provider: ce.Provider,
		Status:   ce.Status,
		Attempts: ce.Attempts,
		Message:  fmt.Sprintf("fallback after %s was unavailable failed", original),
		Err:      altErr,
	}
}
