package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Category is the error classifier's bucket.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryTimeout        Category = "timeout"
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit      Category = "rate_limit"
	CategoryValidation     Category = "validation"
	CategoryUnknown        Category = "unknown"
)

// RecoveryStrategy is the classifier's recommended response.
type RecoveryStrategy string

const (
	StrategyRetry        RecoveryStrategy = "retry"
	StrategyFallback     RecoveryStrategy = "fallback"
	StrategySkip         RecoveryStrategy = "skip"
	StrategyCircuitBreak RecoveryStrategy = "circuit_break"
	StrategyAlert        RecoveryStrategy = "alert"
)

// Classify maps a sink-send error to a category, severity, and recommended
// recovery strategy.
func Classify(err error) (Category, Severity, RecoveryStrategy) {
	if err == nil {
		return CategoryUnknown, SeverityLow, StrategySkip
	}
	if errors.Is(err, ErrBreakerOpen) {
		return CategoryNetwork, SeverityHigh, StrategyCircuitBreak
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout, SeverityMedium, StrategyRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout, SeverityMedium, StrategyRetry
		}
		return CategoryNetwork, SeverityHigh, StrategyFallback
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return CategoryAuthentication, SeverityHigh, StrategyAlert
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return CategoryRateLimit, SeverityMedium, StrategyRetry
	case strings.Contains(msg, "400") || strings.Contains(msg, "422") || strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return CategoryValidation, SeverityLow, StrategySkip
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial") || strings.Contains(msg, "eof") || strings.Contains(msg, "reset by peer"):
		return CategoryNetwork, SeverityHigh, StrategyFallback
	default:
		return CategoryUnknown, SeverityMedium, StrategyFallback
	}
}

// ClassifyHTTPStatus folds an HTTP response status into the same taxonomy
// for sinks that speak plain HTTP (HEC, Datadog, generic webhook).
func ClassifyHTTPStatus(status int) (Category, Severity, RecoveryStrategy) {
	switch {
	case status == http.StatusTooManyRequests:
		return CategoryRateLimit, SeverityMedium, StrategyRetry
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuthentication, SeverityHigh, StrategyAlert
	case status >= 400 && status < 500:
		return CategoryValidation, SeverityLow, StrategySkip
	case status >= 500:
		return CategoryNetwork, SeverityHigh, StrategyFallback
	default:
		return CategoryUnknown, SeverityLow, StrategySkip
	}
}
