package publish

import (
	"fmt"
	"strings"
)

// MissingEnvError is returned when required configuration is missing.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// ValidationError captures provider-specific validation issues.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// PreconditionError reports a request the provider cannot represent at all, such as a
// media-only network called without media. The message is shown to users verbatim.
type PreconditionError struct {
	Provider string
	Reason   string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// StatusError is a non-2xx response from a provider API.
type StatusError struct {
	Provider   string
	Step       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Provider, e.Step, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Provider, e.Step, e.StatusCode, body)
}

// MissingFieldError is a 2xx response that lacks a field the protocol requires.
type MissingFieldError struct {
	Provider string
	Step     string
	Field    string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s %s: response missing %q", e.Provider, e.Step, e.Field)
}

// ProcessingError is an asynchronous provider job that explicitly reported failure.
type ProcessingError struct {
	Provider string
	Step     string
	State    string
	Detail   string
}

func (e *ProcessingError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: processing failed (state=%s): %s", e.Provider, e.Step, e.State, e.Detail)
	}
	return fmt.Sprintf("%s %s: processing failed (state=%s)", e.Provider, e.Step, e.State)
}

// TimeoutError is a polling budget exhausted before a terminal state was reached.
type TimeoutError struct {
	Provider string
	Step     string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: still processing after %d attempts", e.Provider, e.Step, e.Attempts)
}
