package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrAllProvidersExhausted is matched by every *ExhaustedError.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ErrEmptyPrompt is returned before any attempt when the prompt is blank.
var ErrEmptyPrompt = errors.New("prompt is empty")

// ConfigurationError reports a catalog entry whose prerequisites are unmet.
// It is a diagnostic, never a failure: the affected models are simply absent.
type ConfigurationError struct {
	Kind   Kind
	Key    string // secret key involved, if any
	Model  string // model name involved, if any
	Reason string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Reason)
	if e.Key != "" {
		fmt.Fprintf(&b, " (key %s)", e.Key)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " (model %s)", e.Model)
	}
	return b.String()
}

// UnavailableError reports a failed availability check.
type UnavailableError struct {
	Kind   Kind
	Model  string
	Reason string
	Cause  error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("%s/%s unavailable: %s", e.Kind, e.Model, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// ProviderError reports a failed Generate call. Status is the HTTP status
// when the provider answered, 0 for transport failures.
type ProviderError struct {
	Kind   Kind
	Model  string
	Status int
	Body   string
	Type   ErrorType
	Cause  error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s", e.Kind, e.Model)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Type != "" && e.Type != ErrorTypeUnknown {
		fmt.Fprintf(&b, " [%s]", e.Type)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", truncate(e.Body, 300))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// newProviderError builds a ProviderError and classifies it.
func newProviderError(cfg ModelConfig, status int, body string, cause error) *ProviderError {
	pe := &ProviderError{
		Kind:   cfg.Kind,
		Model:  cfg.Name,
		Status: status,
		Body:   body,
		Cause:  cause,
	}
	pe.Type = classifyFailure(status, body, cause)
	return pe
}

// Attempt records one tried candidate.
type Attempt struct {
	Model string
	Kind  Kind
	Err   error
}

// ExhaustedError is returned when every candidate failed.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all providers exhausted: no candidate models"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Model, a.Err))
	}
	return fmt.Sprintf("all providers exhausted after %d attempts: %s", len(e.Attempts), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// CanceledError wraps a context error together with the attempts made
// before the caller gave up.
type CanceledError struct {
	Attempts []Attempt
	Cause    error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("generation canceled after %d attempts: %v", len(e.Attempts), e.Cause)
}

func (e *CanceledError) Unwrap() error { return e.Cause }

// classifyFailure picks an ErrorType from status, body and cause.
func classifyFailure(status int, body string, cause error) ErrorType {
	if cause != nil && (errors.Is(cause, context.DeadlineExceeded) || isTimeout(cause)) {
		return ErrorTypeTimeout
	}
	switch status {
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorTypeAuth
	case http.StatusPaymentRequired:
		return ErrorTypeBilling
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case http.StatusServiceUnavailable, 529:
		return ErrorTypeOverloaded
	}
	if t := ClassifyError(body); t != ErrorTypeUnknown {
		return t
	}
	if cause != nil {
		return ClassifyError(cause.Error())
	}
	return ErrorTypeUnknown
}

type timeoutError interface{ Timeout() bool }

func isTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
