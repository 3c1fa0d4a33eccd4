package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrFolderNotFound matches every FolderNotFoundError.
var ErrFolderNotFound = errors.New("mail folder not found")

// AuthError reports a failure to obtain or parse an access token.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph auth: %s: %v", e.Message, e.Err)
	}
	return "graph auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// SendError reports a failed sendMail call. StatusCode and Body are set when
// the Graph API answered with a non-success status.
type SendError struct {
	Mailbox    string
	StatusCode int
	Body       string
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("graph send as %s failed (HTTP %d): %s", e.Mailbox, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("graph send as %s failed: %v", e.Mailbox, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReadError reports a failed mailbox read. Op names the step that failed.
type ReadError struct {
	Mailbox string
	Op      string
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("graph read %s: %s: %v", e.Mailbox, e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// FolderNotFoundError is returned (wrapped in a ReadError) when a segment of
// a folder path has no exact display name match under its parent.
type FolderNotFoundError struct {
	Segment string
	Path    string
}

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("folder %q not found while resolving %q", e.Segment, e.Path)
}

func (e *FolderNotFoundError) Is(target error) bool {
	return target == ErrFolderNotFound
}

// APIError represents a non-success response from a Graph or token endpoint,
// classified for retry decisions.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
	RetryAfter string

	transient bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Transient reports whether repeating the request may succeed.
func (e *APIError) Transient() bool { return e.transient }

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, body []byte, retryAfter string) *APIError {
	err := &APIError{
		StatusCode: statusCode,
		Message:    string(body),
		Body:       string(body),
		RetryAfter: retryAfter,
	}

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		err.Code = graphErrResp.Error.Code
		err.Message = graphErrResp.Error.Message
	}

	// Everything else (400, 403, 404, ...) is permanent.
	err.transient = statusCode == http.StatusUnauthorized ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= 500

	return err
}

// transportError marks a failure below HTTP (DNS, connection, timeout).
type transportError struct {
	err error
}

func (e *transportError) Error() string { return fmt.Sprintf("HTTP request failed: %v", e.err) }

func (e *transportError) Unwrap() error { return e.err }
