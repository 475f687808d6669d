package completion

import (
	"errors"
	"net"
	"strings"
)

// Kind classifies a completion failure.
type Kind int

const (
	// KindValidation: bad input, no network call was made.
	KindValidation Kind = iota + 1
	// KindTransient: network failure or 5xx. Retried, may trigger fallback.
	KindTransient
	// KindPermanent: 4xx or a non-retryable transport error.
	KindPermanent
	// KindResponseFormat: body is not JSON or lacks the generated text.
	KindResponseFormat
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindResponseFormat:
		return "response_format"
	default:
		return "unknown"
	}
}

// Error is the single failure type returned by Client.Complete.
type Error struct {
	Kind     Kind
	Provider Provider
	// Status is the last HTTP status seen, 0 when no response arrived.
	Status   int
	Attempts int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("completion: ")
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 when err is not a completion error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

func isTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// unavailable reports whether err is a transient failure that ended on a
// 5xx answer. Only this case hands the call over to the alternate provider.
func unavailable(err error) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == KindTransient && ce.Status >= 500 && ce.Status <= 599
}

func validationError(p Provider, msg string) *Error {
	return &Error{Kind: KindValidation, Provider: p, Message: "invalid request: " + msg}
}

// isTransientNetError determines whether a transport error is worth retrying.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
			return true
		}
	}

	// wrapped errors sometimes only keep the text
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
		"eof",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
