// Package faults classifies pipeline failures so the orchestrator can decide
// between retrying, failing the job permanently, and what to tell the user.
package faults

import (
	"errors"
	"fmt"
)

// Category partitions errors by how the orchestrator must react.
type Category string

const (
	// Config covers missing credentials and invalid requested formats.
	// Permanent, no provider call is made.
	Config Category = "config"
	// Input covers missing/empty source files and unreadable durations.
	Input Category = "input"
	// Media covers audio extraction failures.
	Media Category = "media"
	// ProviderTransient covers network errors and 5xx-equivalent provider
	// responses. The only retryable category.
	ProviderTransient Category = "provider_transient"
	// ProviderPermanent covers auth, quota and invalid-request provider
	// failures.
	ProviderPermanent Category = "provider_permanent"
)

// Error carries a category alongside a user-presentable message.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a categorized error. err may be nil.
func New(cat Category, err error, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...), Err: err}
}

// CategoryOf extracts the category of err, or ProviderTransient for
// uncategorized errors so unknown failures stay eligible for retry.
func CategoryOf(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ProviderTransient
}

// Retryable reports whether the orchestrator may re-attempt after err.
func Retryable(err error) bool {
	return CategoryOf(err) == ProviderTransient
}

// UserMessage returns the message safe to persist in error_message and to
// surface to end users. Raw provider stack traces stay in logs.
func UserMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "An unexpected error occurred during transcription."
}
