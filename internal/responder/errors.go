package responder

import (
	"fmt"

	"github.com/Anivie/gpt-cat/internal/sender"
)

// RequestError is a failure of the upstream side of an attempt: connect,
// read, non-2xx status, undecodable frame or an empty answer. Another
// account may succeed, so it is retryable.
type RequestError struct {
	Component  string
	Reason     string
	Message    string
	Suggestion string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Reason, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Responsive converts the error into its client-facing form.
func (e *RequestError) Responsive() sender.ResponsiveError {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return sender.ResponsiveError{
		Component:  e.Component,
		Reason:     e.Reason,
		Message:    msg,
		Suggestion: e.Suggestion,
	}
}

// ResponseError is a failure to deliver to the client. It ends the request.
type ResponseError struct {
	Err error
}

func (e *ResponseError) Error() string { return "deliver to client: " + e.Err.Error() }

func (e *ResponseError) Unwrap() error { return e.Err }
