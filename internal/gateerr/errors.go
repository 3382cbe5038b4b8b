// Package gateerr defines the error taxonomy shared across the mediation
// pipeline. Every user-visible failure carries a stable code; anything
// beyond the safe message stays in internal logs.
package gateerr

import (
	"errors"
	"fmt"
)

// Code is a stable error code surfaced in wire payloads.
type Code string

const (
	CodeSecurity            Code = "security_error"
	CodePolicyViolation     Code = "policy_violation"
	CodeTemplateNotFound    Code = "template_not_found"
	CodeInvalidAction       Code = "invalid_action"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodePatchConflict       Code = "patch_conflict"
	CodePatchRejected       Code = "patch_rejected"
	CodeInvalidRequest      Code = "invalid_request"
	CodeUnauthorized        Code = "unauthorized"
	CodeInternal            Code = "internal_error"
)

// Error is a taxonomy error. Message is safe for clients; Detail is not and
// must only reach internal logs.
type Error struct {
	Code    Code
	Message string
	Detail  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New creates a taxonomy error with a client-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a taxonomy error around an underlying cause. The cause text
// goes into Detail, never into the client-safe message.
func Wrap(code Code, message string, err error) *Error {
	e := &Error{Code: code, Message: message, Wrapped: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

// Security returns a workspace-boundary violation. The message is fixed and
// deliberately does not echo any offending path, to avoid a path oracle.
func Security() *Error {
	return New(CodeSecurity, "one or more sources are outside the workspace boundary")
}

// PolicyViolation returns a DLP block. Only the generic message goes to the
// client; the rule id travels separately to the audit trail.
func PolicyViolation() *Error {
	return New(CodePolicyViolation, "blocked by policy")
}

// TemplateNotFound reports a missing template for the given action.
func TemplateNotFound(action string) *Error {
	return &Error{Code: CodeTemplateNotFound, Message: "no template for action", Detail: action}
}

// UpstreamUnavailable reports an inference or retrieval failure after
// retries were exhausted. Retryable from the client's point of view.
func UpstreamUnavailable(err error) *Error {
	return Wrap(CodeUpstreamUnavailable, "upstream service unavailable", err)
}

// CodeOf extracts the taxonomy code from err, or CodeInternal when err is
// not a taxonomy error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf extracts the client-safe message from err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
