package intake

import (
	"fmt"
	"net/http"
	"strings"
)

// ValidationError reports a malformed request. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthError reports a failed credential exchange with the CRM identity
// provider. An operator has to fix the credentials.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "crm auth: " + e.Message + ": " + e.Err.Error()
	}
	return "crm auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemoteError reports a failed CRM call, either a non-2xx response or a
// record-level error inside a 2xx write response. StatusCode is 0 when the
// request never got a response.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     []string
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("crm")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" [" + strings.Join(e.Fields, ",") + "]")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }

// ClientSide reports whether the CRM rejected the payload itself. Sending
// the same payload again will not help, so callers should not retry.
func (e *RemoteError) ClientSide() bool {
	switch {
	case e.StatusCode == 0:
		return false
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusTooManyRequests:
		return false
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return true
	case e.StatusCode < 300 && e.Code != "":
		return true
	}
	return false
}

const (
	CodeDuplicateData = "DUPLICATE_DATA"
	CodeInvalidData   = "INVALID_DATA"
)

// Recoverable reports whether dropping the named fields may let a retry of
// the write succeed.
func (e *RemoteError) Recoverable() bool {
	if len(e.Fields) == 0 {
		return false
	}
	return e.Code == CodeDuplicateData || e.Code == CodeInvalidData
}
