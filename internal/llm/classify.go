package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes provider failures for logging, metrics and the
// HTTP status mapping.
type ErrorType string

const (
	ErrorTypeUnknown         ErrorType = "unknown"
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeOverloaded      ErrorType = "overloaded"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeBilling         ErrorType = "billing"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeFormat          ErrorType = "format"
	ErrorTypeMaxTokens       ErrorType = "max_tokens"
	ErrorTypeEmptyResponse   ErrorType = "empty_response"
)

// ClassifyError determines the error type from an error message.
func ClassifyError(msg string) ErrorType {
	if msg == "" {
		return ErrorTypeUnknown
	}
	// max_tokens before auth: a 400 invalid_request_error mentioning
	// max_tokens must not read as auth
	switch {
	case IsMaxTokensMessage(msg):
		return ErrorTypeMaxTokens
	case IsContextOverflowMessage(msg):
		return ErrorTypeContextOverflow
	case IsRateLimitMessage(msg):
		return ErrorTypeRateLimit
	case IsOverloadedMessage(msg):
		return ErrorTypeOverloaded
	case IsBillingMessage(msg):
		return ErrorTypeBilling
	case IsAuthMessage(msg):
		return ErrorTypeAuth
	case IsTimeoutMessage(msg):
		return ErrorTypeTimeout
	case IsFormatMessage(msg):
		return ErrorTypeFormat
	}
	return ErrorTypeUnknown
}

// FormatErrorForUser returns a short operator-facing explanation.
func FormatErrorForUser(msg string, errType ErrorType) string {
	switch errType {
	case ErrorTypeContextOverflow:
		return "Prompt too large for the model."
	case ErrorTypeRateLimit:
		return "Rate limited by the provider. Wait a moment and try again."
	case ErrorTypeOverloaded:
		return "The provider is temporarily overloaded."
	case ErrorTypeAuth:
		return "Authentication failed. Check the API key."
	case ErrorTypeBilling:
		return "Billing issue with the provider account."
	case ErrorTypeTimeout:
		return "Request timed out."
	case ErrorTypeFormat:
		return "The provider rejected the request format."
	case ErrorTypeMaxTokens:
		return "max_tokens exceeds the model's output limit."
	case ErrorTypeEmptyResponse:
		return "The provider returned no text."
	default:
		return fmt.Sprintf("provider error: %s", msg)
	}
}

// Explain renders an attempt error as the short text shown next to each
// failed attempt in API replies and CLI output.
func Explain(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	var ue *UnavailableError
	switch {
	case errors.As(err, &pe):
		msg := pe.Body
		if msg == "" && pe.Cause != nil {
			msg = pe.Cause.Error()
		}
		return FormatErrorForUser(truncate(msg, 200), pe.Type)
	case errors.As(err, &ue):
		return fmt.Sprintf("Provider unavailable: %s.", ue.Reason)
	}
	return err.Error()
}

func containsAny(lower string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// IsMaxTokensMessage checks if a message says max_tokens is over the limit.
func IsMaxTokensMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "max_tokens") &&
		containsAny(lower, "maximum", "exceed", ">", "must be", "too large")
}

// IsContextOverflowMessage checks if a message indicates context overflow.
func IsContextOverflowMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if containsAny(lower,
		"context_length_exceeded",
		"context length exceeded",
		"context size has been exceeded",
		"maximum context length",
		"prompt is too long",
		"request_too_large",
		"exceeds model context window",
		"exceeded model token limit") {
		return true
	}
	return strings.Contains(lower, "413") && strings.Contains(lower, "too large")
}

// IsRateLimitMessage checks if a message indicates rate limiting.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"429",
		"rate_limit",
		"rate limit",
		"too many requests",
		"exceeded your current quota",
		"quota exceeded",
		"resource_exhausted",
		"resource has been exhausted",
		"requests per minute")
}

// IsOverloadedMessage checks if a message indicates the service is overloaded.
func IsOverloadedMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "503") && containsAny(lower, "service", "unavailable") {
		return true
	}
	return containsAny(lower,
		"overloaded",
		"server is busy",
		"temporarily unavailable",
		"capacity")
}

// IsAuthMessage checks if a message indicates authentication failure.
func IsAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"401",
		"403",
		"invalid api key",
		"invalid_api_key",
		"incorrect api key",
		"unauthorized",
		"unauthenticated",
		"permission_denied",
		"forbidden",
		"access denied",
		"authentication",
		"invalid credentials")
}

// IsBillingMessage checks if a message indicates billing/payment issues.
func IsBillingMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"402",
		"payment required",
		"insufficient credits",
		"credit balance",
		"billing",
		"insufficient_quota",
		"account balance")
}

// IsTimeoutMessage checks if a message indicates a timeout.
func IsTimeoutMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"408",
		"504",
		"timeout",
		"timed out",
		"deadline exceeded",
		"deadline_exceeded",
		"connection reset")
}

// IsFormatMessage checks if a message indicates an invalid request.
func IsFormatMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"invalid request format",
		"invalid_request_error",
		"malformed",
		"schema validation")
}
