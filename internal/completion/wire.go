package completion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// wireFormat translates between Request and one provider payload shape.
type wireFormat interface {
	encode(req *Request, pc ProviderConfig) ([]byte, error)
	// decode returns the generated text and the model reported upstream.
	decode(body []byte) (text string, model string, err error)
}

func wireFor(s Style) wireFormat {
	if s == StyleCompletions {
		return textWire{}
	}
	return chatWire{}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
}

type textRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type choice struct {
	Index int     `json:"index"`
	Text  *string `json:"text,omitempty"`
	// Message is only present on chat responses
	Message *struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type completionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

var errNoChoices = errors.New("response has no choices")

type chatWire struct{}

func (chatWire) encode(req *Request, pc ProviderConfig) ([]byte, error) {
	messages := req.Messages
	if len(messages) == 0 {
		messages = []Message{{Role: RoleUser, Content: req.Prompt}}
	}
	return json.Marshal(chatRequest{
		Model:       pc.Model,
		Messages:    messages,
		MaxTokens:   maxTokens(req, pc),
		Temperature: temperature(req, pc),
		TopP:        topP(req, pc),
	})
}

func (chatWire) decode(body []byte) (string, string, error) {
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", errNoChoices
	}
	msg := resp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", "", errors.New("response lacks choices[0].message.content")
	}
	if strings.TrimSpace(*msg.Content) == "" {
		return "", "", errors.New("response text is empty")
	}
	return *msg.Content, resp.Model, nil
}

type textWire struct{}

func (textWire) encode(req *Request, pc ProviderConfig) ([]byte, error) {
	prompt := req.Prompt
	if len(req.Messages) > 0 {
		prompt = flatten(req.Messages)
	}
	return json.Marshal(textRequest{
		Model:       pc.Model,
		Prompt:      prompt,
		MaxTokens:   maxTokens(req, pc),
		Temperature: temperature(req, pc),
		TopP:        topP(req, pc),
	})
}

func (textWire) decode(body []byte) (string, string, error) {
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", errNoChoices
	}
	text := resp.Choices[0].Text
	if text == nil {
		return "", "", errors.New("response lacks choices[0].text")
	}
	if strings.TrimSpace(*text) == "" {
		return "", "", errors.New("response text is empty")
	}
	return *text, resp.Model, nil
}

// flatten renders a chat history as a single completions prompt.
func flatten(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			b.WriteString(m.Content)
		case RoleAssistant:
			b.WriteString("Assistant: ")
			b.WriteString(m.Content)
		default:
			b.WriteString("User: ")
			b.WriteString(m.Content)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func maxTokens(req *Request, pc ProviderConfig) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if req.Length == LengthLong {
		return pc.MaxTokensLong
	}
	return pc.MaxTokensShort
}

func temperature(req *Request, pc ProviderConfig) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return pc.Temperature
}

func topP(req *Request, pc ProviderConfig) float64 {
	if req.TopP != nil {
		return *req.TopP
	}
	return pc.TopP
}

// providerMessage extracts the provider's error text from a non-2xx body.
func providerMessage(body []byte) string {
	var perr errorResponse
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		if perr.Error.Type != "" {
			return fmt.Sprintf("%s (%s)", perr.Error.Message, perr.Error.Type)
		}
		return perr.Error.Message
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
