// Package security provides validation, sanitization and limits for
// identifiers and stored error text.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"renderflow/pkg/core"
)

const (
	// MaxWorkflowIDLength bounds workflow and task ids.
	MaxWorkflowIDLength = 128

	// MaxQueueNameLength bounds queue names.
	MaxQueueNameLength = 255

	// MaxPromptLength bounds generation prompts (and negative prompts).
	MaxPromptLength = 4096

	// MaxErrorMessageLength bounds error messages persisted in run and
	// task records.
	MaxErrorMessageLength = 4096

	// MaxConcurrency is the hard limit for worker concurrency.
	MaxConcurrency = 1000
)

// validName matches alphanumeric plus hyphens, underscores and dots.
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateWorkflowID validates a workflow or task id.
func ValidateWorkflowID(id string) error {
	if id == "" {
		return core.Validation("id", "must not be empty")
	}
	if len(id) > MaxWorkflowIDLength {
		return core.Validation("id", "too long")
	}
	if !validName.MatchString(id) {
		return core.Validation("id", "contains invalid characters")
	}
	return nil
}

// ValidateQueueName validates a queue name.
func ValidateQueueName(name string) error {
	if name == "" {
		return core.Validation("queue", "must not be empty")
	}
	if len(name) > MaxQueueNameLength {
		return core.Validation("queue", "too long")
	}
	if !validName.MatchString(name) {
		return core.Validation("queue", "contains invalid characters")
	}
	return nil
}

// ValidatePrompt bounds prompt length. Content is not inspected.
func ValidatePrompt(prompt string) error {
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return core.Validation("prompt", "too long")
	}
	return nil
}

// SanitizeErrorMessage strips control characters and truncates error
// text before it is persisted.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}
	return result
}

// ClampConcurrency keeps worker concurrency within limits.
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
