package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Classify maps a provider failure to *Error. status is the HTTP status code
// when the SDK exposes one, or 0 to fall back to matching the message.
// Context errors are returned unchanged.
func Classify(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	out := &Error{Provider: provider, Code: CodeAPIError, Message: err.Error(), Err: err}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		out.Code = CodeInvalidAPIKey
	case status == http.StatusTooManyRequests:
		out.Code, out.Retryable = CodeRateLimited, true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		out.Code, out.Retryable = CodeTimeout, true
	case status >= 500:
		out.Retryable = true
	case status >= 400:
		// Bad request: retrying the same request will not help.
	default:
		classifyMessage(out)
	}
	return out
}

func classifyMessage(out *Error) {
	msg := strings.ToLower(out.Message)
	contains := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("api key", "api_key", "unauthorized", "authentication", "401", "403"):
		out.Code = CodeInvalidAPIKey
	case contains("insufficient_quota", "quota exceeded", "billing"):
		out.Code = CodeQuotaExceeded
	case contains("rate limit", "rate_limit", "too many requests", "resource_exhausted", "429"):
		out.Code, out.Retryable = CodeRateLimited, true
	case contains("timeout", "deadline"):
		out.Code, out.Retryable = CodeTimeout, true
	default:
		out.Retryable = true
	}
}

// EmptyResponse is the error adapters return for a reply without text.
func EmptyResponse(provider string) error {
	return &Error{
		Provider:  provider,
		Code:      CodeEmptyResponse,
		Message:   fmt.Sprintf("%s returned no content", provider),
		Retryable: true,
	}
}
