package models

import "fmt"

// ErrorKind classifies a failed operation.
type ErrorKind string

const (
	// ErrorKindParse is a grammar or import-resolution failure during parse.
	ErrorKindParse ErrorKind = "parse_error"
	// ErrorKindOperation is an editing-library failure.
	ErrorKindOperation ErrorKind = "operation_error"
	// ErrorKindUnknownOperation is returned for an unsupported request type.
	ErrorKindUnknownOperation ErrorKind = "unknown_operation"
	// ErrorKindMalformedRequest is returned when required payload fields are missing.
	ErrorKindMalformedRequest ErrorKind = "malformed_request"
	// ErrorKindRateLimited is returned by the daemon when an operation is throttled.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindCanceled is returned for requests still queued when the worker shuts down.
	ErrorKindCanceled ErrorKind = "canceled"
	// ErrorKindInternal is returned when a collaborator panics.
	ErrorKindInternal ErrorKind = "internal_error"
)

// ErrorInfo is the structured error carried by a failed response.
type ErrorInfo struct {
	Kind      ErrorKind     `json:"kind"`
	Message   string        `json:"message"`
	Operation OperationKind `json:"operation,omitempty"`
}

// Error implements error.
func (e *ErrorInfo) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Operation, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// Response answers exactly one Request. Either Payload or Error is set.
type Response struct {
	ID      string     `json:"id"`
	Payload any        `json:"payload,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// OK reports whether the response carries a success payload.
func (r Response) OK() bool {
	return r.Error == nil
}

// NewSuccess builds a success response.
func NewSuccess(id string, payload any) Response {
	return Response{ID: id, Payload: payload}
}

// NewFailure builds an error response.
func NewFailure(id string, op OperationKind, kind ErrorKind, err error) Response {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Kind:      kind,
			Message:   message,
			Operation: op,
		},
	}
}

// ParseResult is the success payload of a parse operation. ID is the
// targetId of the parsed document, not the request id.
type ParseResult struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Templates   []Template   `json:"templates"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// EditResult is the success payload of every editing operation.
type EditResult struct {
	Content   string     `json:"content"`
	Templates []Template `json:"templates"`
}
