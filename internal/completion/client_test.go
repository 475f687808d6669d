package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepLog) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, w := range s.waits {
		sum += w
	}
	return sum
}

// countingServer answers every request with handler and counts the calls.
func countingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newTestClient(t *testing.T, openaiURL, deepseekURL string) (*Client, *sleepLog) {
	t.Helper()

	providers := map[Provider]ProviderConfig{}
	if openaiURL != "" {
		providers[ProviderOpenAI] = ProviderConfig{
			BaseURL: openaiURL,
			Model:   "gpt-4o-mini",
			APIKey:  "openai-key",
			Style:   StyleChat,
		}
	}
	if deepseekURL != "" {
		providers[ProviderDeepSeek] = ProviderConfig{
			BaseURL: deepseekURL,
			Model:   "deepseek-chat",
			APIKey:  "deepseek-key",
			Style:   StyleCompletions,
		}
	}

	sl := &sleepLog{}
	c, err := NewClient(Config{Providers: providers}, zaptest.NewLogger(t), WithSleep(sl.sleep))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, sl
}

func userRequest(text string) *Request {
	return &Request{Messages: []Message{{Role: RoleUser, Content: text}}}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for empty provider set")
	}

	_, err := NewClient(Config{Providers: map[Provider]ProviderConfig{
		ProviderOpenAI: {BaseURL: "http://localhost", Model: ""},
	}}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func TestCompleteChatSuccess(t *testing.T) {
	t.Parallel()

	var gotReq chatRequest
	var gotAuth, gotPath string

	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		writeJSON(w, http.StatusOK, `{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":"X"}}]}`)
	})

	c, sl := newTestClient(t, srv.URL, "")

	temp := 0.2
	req := &Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "You write teasers."},
			{Role: RoleUser, Content: "ping"},
		},
		Length:      LengthLong,
		Temperature: &temp,
	}

	res, err := c.Complete(context.Background(), req, ProviderOpenAI, 3)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if res.Text != "X" {
		t.Fatalf("expected text X, got %q", res.Text)
	}
	if res.FallbackUsed || res.OriginalProvider != "" {
		t.Fatalf("unexpected fallback: %#v", res)
	}
	if res.Provider != ProviderOpenAI || res.Model != "gpt-4o-mini-2024" || res.Attempts != 1 {
		t.Fatalf("unexpected result: %#v", res)
	}
	if atomic.LoadInt32(calls) != 1 || len(sl.waits) != 0 {
		t.Fatalf("expected one call and no backoff")
	}

	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer openai-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" || len(gotReq.Messages) != 2 {
		t.Fatalf("unexpected request body: %#v", gotReq)
	}
	if gotReq.MaxTokens != 2048 || gotReq.Temperature != 0.2 || gotReq.TopP != 1 {
		t.Fatalf("unexpected sampling parameters: %#v", gotReq)
	}
}

func TestCompleteTextStyleFlattensMessages(t *testing.T) {
	t.Parallel()

	var gotReq textRequest
	var gotPath string
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		writeJSON(w, http.StatusOK, `{"choices":[{"text":"done"}]}`)
	})

	c, _ := newTestClient(t, "", srv.URL)

	res, err := c.Complete(context.Background(), &Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "Be brief."},
			{Role: RoleUser, Content: "Summarize the company."},
		},
	}, ProviderDeepSeek, 1)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotPath != "/v1/completions" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if !strings.Contains(gotReq.Prompt, "Be brief.") || !strings.Contains(gotReq.Prompt, "User: Summarize the company.") {
		t.Fatalf("unexpected prompt: %q", gotReq.Prompt)
	}
	if gotReq.MaxTokens != 512 {
		t.Fatalf("expected short token budget, got %d", gotReq.MaxTokens)
	}
	// no model in the envelope: the configured model is reported
	if res.Text != "done" || res.Model != "deepseek-chat" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestCompleteFallbackAfterExhaustion(t *testing.T) {
	t.Parallel()

	primary, primaryCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{"error":{"message":"server temporarily unavailable"}}`)
	})
	fallback, fallbackCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"text":"Y"}]}`)
	})

	c, sl := newTestClient(t, primary.URL, fallback.URL)

	const maxRetries = 4
	res, err := c.Complete(context.Background(), userRequest("hello"), ProviderOpenAI, maxRetries)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if got := atomic.LoadInt32(primaryCalls); got != maxRetries {
		t.Fatalf("expected %d primary attempts, got %d", maxRetries, got)
	}
	if got := atomic.LoadInt32(fallbackCalls); got != 1 {
		t.Fatalf("expected one fallback call, got %d", got)
	}
	// 1s + 2s + 4s between the four primary attempts
	if got := sl.total(); got != 7*time.Second {
		t.Fatalf("expected 7s total backoff, got %s (%v)", got, sl.waits)
	}

	if res.Text != "Y" || !res.FallbackUsed {
		t.Fatalf("unexpected result: %#v", res)
	}
	if res.Provider != ProviderDeepSeek || res.OriginalProvider != ProviderOpenAI {
		t.Fatalf("unexpected providers: %#v", res)
	}
}

func TestCompletePermanentErrorNoRetry(t *testing.T) {
	t.Parallel()

	primary, primaryCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	})
	fallback, fallbackCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"text":"never"}]}`)
	})

	c, sl := newTestClient(t, primary.URL, fallback.URL)

	_, err := c.Complete(context.Background(), userRequest("hello"), ProviderOpenAI, 5)
	if err == nil {
		t.Fatalf("expected error")
	}

	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindPermanent || ce.Status != http.StatusUnauthorized {
		t.Fatalf("expected permanent 401 error, got %#v", err)
	}
	if !strings.Contains(err.Error(), "Incorrect API key provided") {
		t.Fatalf("error should carry provider message: %v", err)
	}
	if atomic.LoadInt32(primaryCalls) != 1 || atomic.LoadInt32(fallbackCalls) != 0 {
		t.Fatalf("expected exactly one attempt and no fallback")
	}
	if len(sl.waits) != 0 {
		t.Fatalf("expected no backoff, got %v", sl.waits)
	}
}

func TestCompleteValidationMakesNoCalls(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"content":"X"}}]}`)
	})

	c, _ := newTestClient(t, srv.URL, srv.URL)

	cases := []struct {
		name       string
		req        *Request
		provider   Provider
		maxRetries int
	}{
		{"nil request", nil, ProviderOpenAI, 1},
		{"empty request", &Request{}, ProviderOpenAI, 1},
		{"blank prompt", &Request{Prompt: "   "}, ProviderDeepSeek, 1},
		{"blank messages", &Request{Messages: []Message{{Role: RoleUser, Content: " "}}}, ProviderOpenAI, 1},
		{"bad role", &Request{Messages: []Message{{Role: "tool", Content: "x"}}}, ProviderOpenAI, 1},
		{"zero retries", userRequest("hi"), ProviderOpenAI, 0},
		{"unknown provider", userRequest("hi"), Provider("acme"), 1},
	}

	for _, tc := range cases {
		_, err := c.Complete(context.Background(), tc.req, tc.provider, tc.maxRetries)
		if KindOf(err) != KindValidation {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	if got := atomic.LoadInt32(calls); got != 0 {
		t.Fatalf("expected zero HTTP calls, got %d", got)
	}
}

func TestCompleteMissingCredential(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"content":"X"}}]}`)
	})

	c, err := NewClient(Config{Providers: map[Provider]ProviderConfig{
		ProviderOpenAI: {BaseURL: srv.URL, Model: "gpt-4o-mini"},
	}}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.Complete(context.Background(), userRequest("hi"), ProviderOpenAI, 1)
	if KindOf(err) != KindValidation || !strings.Contains(err.Error(), "missing API key") {
		t.Fatalf("expected missing key validation error, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected zero HTTP calls")
	}
}

func TestCompleteMalformedResponse(t *testing.T) {
	t.Parallel()

	bodies := []string{
		`not json`,
		`{"choices":[]}`,
		`{"choices":[{"text":"wrong field for chat"}]}`,
	}

	for _, body := range bodies {
		primary, primaryCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, body)
		})
		fallback, fallbackCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"choices":[{"text":"never"}]}`)
		})

		c, _ := newTestClient(t, primary.URL, fallback.URL)

		_, err := c.Complete(context.Background(), userRequest("hi"), ProviderOpenAI, 3)
		if KindOf(err) != KindResponseFormat {
			t.Fatalf("body %q: expected response format error, got %v", body, err)
		}
		if atomic.LoadInt32(primaryCalls) != 1 || atomic.LoadInt32(fallbackCalls) != 0 {
			t.Fatalf("body %q: expected one attempt and no fallback", body)
		}
	}
}

func TestCompleteRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var n int32
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			writeJSON(w, http.StatusBadGateway, `bad gateway`)
			return
		}
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"content":"second time lucky"}}]}`)
	})

	c, sl := newTestClient(t, srv.URL, "")

	res, err := c.Complete(context.Background(), userRequest("hi"), ProviderOpenAI, 3)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Text != "second time lucky" || res.Attempts != 2 || res.FallbackUsed {
		t.Fatalf("unexpected result: %#v", res)
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("expected 2 calls")
	}
	if len(sl.waits) != 1 || sl.waits[0] != time.Second {
		t.Fatalf("expected a single 1s backoff, got %v", sl.waits)
	}
}

func TestCompleteNetworkExhaustionDoesNotFallback(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	fallback, fallbackCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"text":"never"}]}`)
	})

	c, sl := newTestClient(t, deadURL, fallback.URL)

	_, err := c.Complete(context.Background(), userRequest("hi"), ProviderOpenAI, 3)

	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindTransient || ce.Status != 0 || ce.Attempts != 3 {
		t.Fatalf("expected transient network exhaustion, got %#v", err)
	}
	if atomic.LoadInt32(fallbackCalls) != 0 {
		t.Fatalf("network-only exhaustion must not fall back")
	}
	if sl.total() != 3*time.Second {
		t.Fatalf("expected 3s total backoff, got %v", sl.waits)
	}
}

func TestCompleteFallbackWithoutCredential(t *testing.T) {
	t.Parallel()

	primary, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":{"message":"overloaded"}}`)
	})
	fallback, fallbackCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"text":"never"}]}`)
	})

	c, err := NewClient(Config{Providers: map[Provider]ProviderConfig{
		ProviderOpenAI:   {BaseURL: primary.URL, Model: "gpt-4o-mini", APIKey: "k"},
		ProviderDeepSeek: {BaseURL: fallback.URL, Model: "deepseek-chat", Style: StyleCompletions},
	}}, zaptest.NewLogger(t), WithSleep((&sleepLog{}).sleep))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.Complete(context.Background(), userRequest("hi"), ProviderOpenAI, 2)

	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != KindTransient || ce.Status != http.StatusInternalServerError {
		t.Fatalf("expected primary exhaustion error, got %#v", err)
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("error should carry provider message: %v", err)
	}
	if atomic.LoadInt32(fallbackCalls) != 0 {
		t.Fatalf("fallback without credential must not be called")
	}
}

func TestCompleteFallbackAlsoFails(t *testing.T) {
	t.Parallel()

	primary, primaryCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{}`)
	})
	fallback, fallbackCalls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{}`)
	})

	c, _ := newTestClient(t, primary.URL, fallback.URL)

	_, err := c.Complete(context.Background(), userRequest("hi"), ProviderDeepSeek, 2)

	var ce *Error
	if !errors.As(err, &ce) || ce.Provider != ProviderOpenAI || ce.Kind != KindTransient {
		t.Fatalf("expected fallback provider failure, got %#v", err)
	}
	if !strings.Contains(err.Error(), "fallback after deepseek") {
		t.Fatalf("error should mention the original provider: %v", err)
	}
	// fallback happens once, never back again
	if atomic.LoadInt32(primaryCalls) != 2 || atomic.LoadInt32(fallbackCalls) != 2 {
		t.Fatalf("unexpected call counts: primary=%d fallback=%d",
			atomic.LoadInt32(primaryCalls), atomic.LoadInt32(fallbackCalls))
	}
}

func TestCompleteIsRepeatable(t *testing.T) {
	t.Parallel()

	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"model":"gpt-4o-mini","choices":[{"message":{"content":"fixed"}}]}`)
	})

	c, _ := newTestClient(t, srv.URL, "")
	req := userRequest("same input")

	first, err := c.Complete(context.Background(), req, ProviderOpenAI, 2)
	if err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	second, err := c.Complete(context.Background(), req, ProviderOpenAI, 2)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}

	if first.Text != second.Text || first.Model != second.Model {
		t.Fatalf("results differ: %#v vs %#v", first, second)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "same input" {
		t.Fatalf("request was mutated: %#v", req)
	}
}

func TestCompleteContextCancelled(t *testing.T) {
	t.Parallel()

	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"content":"X"}}]}`)
	})
	c, _ := newTestClient(t, srv.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, userRequest("hi"), ProviderOpenAI, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected no calls after cancellation")
	}
}

func TestCompleteRetriesAttemptTimeout(t *testing.T) {
	t.Parallel()

	var n int32
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			// outlive the client's per-attempt timeout
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}],"model":"m"}`)
	})

	sl := &sleepLog{}
	c, err := NewClient(Config{
		Providers: map[Provider]ProviderConfig{
			ProviderOpenAI: {BaseURL: srv.URL, Model: "gpt-4o-mini", APIKey: "openai-key", Style: StyleChat},
		},
		AttemptTimeout: 200 * time.Millisecond,
	}, zaptest.NewLogger(t), WithSleep(sl.sleep))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	res, err := c.Complete(context.Background(), userRequest("hi"), ProviderOpenAI, 3)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Text != "ok" || res.Model != "m" || res.Attempts != 2 || res.FallbackUsed {
		t.Fatalf("unexpected result: %#v", res)
	}
	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", atomic.LoadInt32(calls))
	}
	if len(sl.waits) != 1 || sl.waits[0] != time.Second {
		t.Fatalf("expected a single 1s backoff, got %v", sl.waits)
	}
}
