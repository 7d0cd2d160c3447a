// Package errcat classifies delivery errors into categories that drive the
// pipeline's retry and fallback policy.
package errcat

import (
	"fmt"
	"log/slog"
	"strings"
)

type Category string

const (
	CategoryConfiguration  Category = "configuration"
	CategoryAuthentication Category = "authentication"
	CategoryConnection     Category = "connection"
	CategoryTimeout        Category = "timeout"
	CategorySerialization  Category = "serialization"
	CategoryCircuitBreaker Category = "circuitBreaker"
	CategoryQueueOverflow  Category = "queueOverflow"
	CategoryMessageSending Category = "messageSending"
	CategoryUnknown        Category = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// LogLevel maps a severity to the slog level categorized errors are reported at.
func (s Severity) LogLevel() slog.Level {
	switch s {
	case SeverityCritical, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// CategorizedError wraps a raw delivery error with the policy decision for it.
type CategorizedError struct {
	Category       Category
	Severity       Severity
	ShouldRetry    bool
	ShouldFallback bool
	Err            error
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// rule binds trigger substrings to a policy. First match wins, so order matters:
// configuration and authentication come before the broader connection matches.
type rule struct {
	category       Category
	severity       Severity
	shouldRetry    bool
	shouldFallback bool
	substrings     []string
}

var rules = []rule{
	{CategoryConfiguration, SeverityCritical, false, true, []string{
		"configuration", "invalid", "missing",
		"broker must be in host:port format",
		"topic cannot be empty", "clientid cannot be empty",
	}},
	{CategoryAuthentication, SeverityHigh, false, true, []string{
		"authentication", "unauthorized", "sasl", "credentials", "auth",
	}},
	{CategoryConnection, SeverityHigh, true, true, []string{
		"connection", "network", "econnrefused", "enotfound", "ehostunreach",
		"broker not available", "broker unavailable",
	}},
	{CategoryTimeout, SeverityMedium, true, true, []string{
		"timeout", "timed out", "etimedout",
	}},
	// Serialization failures are deterministic; neither retry nor fallback
	// would produce a different outcome.
	{CategorySerialization, SeverityMedium, false, false, []string{
		"serialization", "json", "parse", "stringify", "invalid message",
	}},
	{CategoryCircuitBreaker, SeverityMedium, false, true, []string{
		"circuit breaker",
	}},
	{CategoryQueueOverflow, SeverityMedium, false, true, []string{
		"queue full", "queue overflow", "message dropped",
	}},
	{CategoryMessageSending, SeverityMedium, true, true, []string{
		"send", "publish", "produce", "kafka failed",
	}},
}

// Classify maps a raw error to its category and policy. Matching is on the
// error text, case-insensitive; opaque client libraries rarely expose more.
func Classify(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	text := strings.ToLower(err.Error())

	for _, r := range rules {
		for _, s := range r.substrings {
			if strings.Contains(text, s) {
				return &CategorizedError{
					Category:       r.category,
					Severity:       r.severity,
					ShouldRetry:    r.shouldRetry,
					ShouldFallback: r.shouldFallback,
					Err:            err,
				}
			}
		}

		if r.category == CategoryCircuitBreaker &&
			strings.Contains(text, "circuit") && strings.Contains(text, "open") {
			return &CategorizedError{
				Category:       r.category,
				Severity:       r.severity,
				ShouldRetry:    r.shouldRetry,
				ShouldFallback: r.shouldFallback,
				Err:            err,
			}
		}
	}

	return &CategorizedError{
		Category:       CategoryUnknown,
		Severity:       SeverityMedium,
		ShouldRetry:    true,
		ShouldFallback: true,
		Err:            err,
	}
}

// IsDisabling reports whether the category must disable the pipeline when it
// surfaces during connect or batch delivery.
func IsDisabling(c Category) bool {
	return c == CategoryConfiguration || c == CategoryAuthentication
}
