package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorType
	}{
		{"", ErrorTypeUnknown},
		{"something odd", ErrorTypeUnknown},
		{"This model's maximum context length is 8192 tokens", ErrorTypeContextOverflow},
		{"max_tokens: 100000 > 8192, which is the maximum allowed", ErrorTypeMaxTokens},
		{"Rate limit reached for requests", ErrorTypeRateLimit},
		{`{"type":"overloaded_error","message":"Overloaded"}`, ErrorTypeOverloaded},
		{"invalid x-api-key: authentication_error", ErrorTypeAuth},
		{"Your credit balance is too low", ErrorTypeBilling},
		{"dial tcp: i/o timeout", ErrorTypeTimeout},
		{"invalid_request_error: messages: malformed", ErrorTypeFormat},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.msg))
		})
	}
}

func TestClassifyFailureStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, classifyFailure(429, "", nil))
	assert.Equal(t, ErrorTypeAuth, classifyFailure(401, "", nil))
	assert.Equal(t, ErrorTypeAuth, classifyFailure(403, "", nil))
	assert.Equal(t, ErrorTypeBilling, classifyFailure(402, "", nil))
	assert.Equal(t, ErrorTypeOverloaded, classifyFailure(529, "", nil))
	assert.Equal(t, ErrorTypeTimeout, classifyFailure(504, "", nil))
	assert.Equal(t, ErrorTypeContextOverflow, classifyFailure(400, "prompt is too long", nil))
	assert.Equal(t, ErrorTypeTimeout, classifyFailure(0, "", fmt.Errorf("send: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrorTypeUnknown, classifyFailure(500, "", nil))
}

func TestProviderErrorMessage(t *testing.T) {
	pe := newProviderError(ModelConfig{Name: "gpt-4", Kind: KindOpenAI}, 429, "slow down", nil)
	assert.Equal(t, ErrorTypeRateLimit, pe.Type)
	assert.Equal(t, "openai/gpt-4: status 429 [rate_limit]: slow down", pe.Error())

	ex := &ExhaustedError{}
	assert.ErrorIs(t, ex, ErrAllProvidersExhausted)
	assert.Contains(t, ex.Error(), "no candidate models")
}

func TestFormatErrorForUser(t *testing.T) {
	assert.Contains(t, FormatErrorForUser("x", ErrorTypeAuth), "API key")
	assert.Equal(t, "provider error: x", FormatErrorForUser("x", ErrorTypeUnknown))
}

func TestExplain(t *testing.T) {
	assert.Empty(t, Explain(nil))
	assert.Equal(t, "Rate limited by the provider. Wait a moment and try again.",
		Explain(&ProviderError{Kind: KindOpenAI, Status: 429, Type: ErrorTypeRateLimit}))
	assert.Equal(t, "provider error: model exploded",
		Explain(&ProviderError{Kind: KindOllama, Status: 500, Body: "model exploded", Type: ErrorTypeUnknown}))
	assert.Equal(t, "Provider unavailable: no credential.",
		Explain(&UnavailableError{Kind: KindXAI, Model: "grok-3", Reason: "no credential"}))
	assert.Equal(t, "boom", Explain(errors.New("boom")))
}
