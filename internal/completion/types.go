package completion

import (
	"context"
	"fmt"
	"strings"
)

// Provider names one of the two interchangeable text-generation backends.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
)

// Providers lists every known provider in preference order.
var Providers = []Provider{ProviderOpenAI, ProviderDeepSeek}

// Alternate returns the provider used for fallback.
func (p Provider) Alternate() Provider {
	if p == ProviderOpenAI {
		return ProviderDeepSeek
	}
	return ProviderOpenAI
}

func (p Provider) Valid() bool {
	return p == ProviderOpenAI || p == ProviderDeepSeek
}

// ParseProvider accepts a provider name in any case.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Length picks between the provider's short and long token budgets when a
// request does not set MaxTokens itself.
type Length string

const (
	LengthShort Length = "short"
	LengthLong  Length = "long"
)

// Request is provider agnostic. Exactly one of Prompt or Messages is
// normally set; if both are, Messages wins.
type Request struct {
	Prompt      string    `json:"prompt,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	Length      Length    `json:"length,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
}

// Validate checks the request shape. Provider-specific checks (credential,
// configured endpoint) happen in the client.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 && strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt or messages is required")
	}

	hasContent := false
	for i, m := range r.Messages {
		if m.Role != RoleSystem && m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("invalid role %q in messages[%d]", m.Role, i)
		}
		if len(m.Content) > maxMessageSize {
			return fmt.Errorf("messages[%d] content too large (%d bytes, max %d)", i, len(m.Content), maxMessageSize)
		}
		if strings.TrimSpace(m.Content) != "" {
			hasContent = true
		}
	}
	if len(r.Messages) > 0 && !hasContent {
		return fmt.Errorf("messages carry no content")
	}
	if len(r.Prompt) > maxMessageSize {
		return fmt.Errorf("prompt too large (%d bytes, max %d)", len(r.Prompt), maxMessageSize)
	}

	if r.Length != "" && r.Length != LengthShort && r.Length != LengthLong {
		return fmt.Errorf("invalid length %q", r.Length)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	return nil
}

// Result is what callers get back regardless of which provider answered.
type Result struct {
	Text     string   `json:"text"`
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`

	FallbackUsed bool `json:"fallback_used"`
	// OriginalProvider is only set when FallbackUsed is true.
	OriginalProvider Provider `json:"original_provider,omitempty"`

	Attempts int `json:"attempts"`
}

// Completer is implemented by *Client and by decorators around it.
type Completer interface {
	Complete(ctx context.Context, req *Request, provider Provider, maxRetries int) (*Result, error)
}
