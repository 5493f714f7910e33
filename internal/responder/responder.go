// Package responder performs one upstream attempt for a client request and
// translates the vendor's answer into the unified response shape.
package responder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/Anivie/gpt-cat/internal/account"
	"github.com/Anivie/gpt-cat/internal/endpoint"
	"github.com/Anivie/gpt-cat/internal/openai"
	"github.com/Anivie/gpt-cat/internal/sender"
	"github.com/Anivie/gpt-cat/internal/sse"
)

const readBufferSize = 8192

// Call is a client request prepared for relaying.
type Call struct {
	Request openai.ChatCompletionRequest
	// Raw is the client's request body, forwarded as-is to OpenAI-style
	// endpoints so that parameters the gateway does not model survive.
	Raw []byte
	// Model is the name the chosen endpoint knows the model by.
	Model string
}

// Dispatcher sends a call to the upstream of one account.
type Dispatcher struct {
	Logger *log.Logger
}

// Dispatch makes one attempt. It returns nil on success, a *RequestError
// when another account may do better, or a *ResponseError when the client
// can no longer be written to.
func (d *Dispatcher) Dispatch(ctx context.Context, acct *account.Account, call Call, s *sender.Sender) error {
	var v vendor
	switch acct.Upstream.Kind {
	case endpoint.KindOpenAI:
		v = openAIVendor{}
	case endpoint.KindQianWen:
		v = qianWenVendor{}
	default:
		return &RequestError{
			Component:  acct.Upstream.Name,
			Reason:     "unsupported endpoint",
			Message:    fmt.Sprintf("no responder for endpoint kind %s", acct.Upstream.Kind),
			Suggestion: "check the endpoint column of the account",
		}
	}
	return d.run(ctx, acct, call, v, s)
}

// vendor is the dialect-specific half of an attempt.
type vendor interface {
	build(ctx context.Context, acct *account.Account, call Call) (*http.Request, error)
	// decodeEvent turns one streamed payload into a text delta.
	decodeEvent(payload []byte) (content string, finish *string, err error)
	// decodeBody turns a complete non-streaming body into the answer.
	decodeBody(body []byte) (content, finish string, usage openai.UsageBreakdown, err error)
}

func (d *Dispatcher) run(ctx context.Context, acct *account.Account, call Call, v vendor, s *sender.Sender) error {
	component := acct.Upstream.Name
	req, err := v.build(ctx, acct, call)
	if err != nil {
		return &RequestError{Component: component, Reason: "build request", Err: err}
	}
	resp, err := acct.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &ResponseError{Err: sender.ErrClientGone}
		}
		return &RequestError{
			Component:  component,
			Reason:     "connect",
			Err:        err,
			Suggestion: "check the network path or proxy of this account",
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(component, resp.StatusCode, body)
	}

	if s.Stream() {
		framer, err := sse.New(acct.Upstream.Framing)
		if err != nil {
			return &RequestError{Component: component, Reason: "framing", Err: err}
		}
		if err := d.pump(ctx, component, resp.Body, framer, v, s); err != nil {
			return err
		}
		if s.Len() == 0 {
			return emptyError(component)
		}
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return &ResponseError{Err: sender.ErrClientGone}
		}
		return &RequestError{Component: component, Reason: "read body", Err: err}
	}
	content, finish, usage, err := v.decodeBody(body)
	if err != nil {
		return &RequestError{Component: component, Reason: "decode", Err: err, Message: snippet(body)}
	}
	if err := s.Delta(content, &finish); err != nil {
		return &ResponseError{Err: err}
	}
	if s.Len() == 0 {
		return emptyError(component)
	}
	s.SetUsage(usage)
	if err := s.Flush(); err != nil {
		return &ResponseError{Err: err}
	}
	return nil
}

// pump reads the body through the framer and forwards each event in
// arrival order.
func (d *Dispatcher) pump(ctx context.Context, component string, body io.Reader, framer sse.Framer, v vendor, s *sender.Sender) error {
	handle := func(payload []byte) error {
		content, finish, err := v.decodeEvent(payload)
		if err != nil {
			var reqErr *RequestError
			if errors.As(err, &reqErr) {
				if reqErr.Component == "" {
					reqErr.Component = component
				}
				return reqErr
			}
			return &RequestError{Component: component, Reason: "decode", Err: err, Message: snippet(payload)}
		}
		if err := s.Delta(content, finish); err != nil {
			return &ResponseError{Err: err}
		}
		return nil
	}

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			events, first := framer.Feed(buf[:n])
			if first != nil {
				if err := handle(first); err != nil {
					return err
				}
			}
			for _, ev := range events {
				if err := handle(ev); err != nil {
					return err
				}
			}
			if framer.Done() {
				return nil
			}
		}
		if readErr == io.EOF {
			if tail := framer.Flush(); tail != nil {
				return handle(tail)
			}
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return &ResponseError{Err: sender.ErrClientGone}
			}
			return &RequestError{
				Component:  component,
				Reason:     "read stream",
				Err:        readErr,
				Suggestion: "the upstream closed the stream early; try again",
			}
		}
	}
}

func statusError(component string, status int, body []byte) *RequestError {
	e := &RequestError{
		Component: component,
		Reason:    fmt.Sprintf("upstream status %d", status),
		Message:   upstreamMessage(body),
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Suggestion = "the account key was rejected; disable or replace it"
	case status == http.StatusTooManyRequests:
		e.Suggestion = "the account is rate limited; lower request_concurrency_count or add accounts"
	case status >= 500:
		e.Suggestion = "the upstream is failing; try again later"
	}
	return e
}

func emptyError(component string) *RequestError {
	return &RequestError{
		Component:  component,
		Reason:     "empty response",
		Message:    "upstream finished without returning any content",
		Suggestion: "the model may be overloaded; try again",
	}
}

func snippet(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 256 {
		return string(b[:256]) + "..."
	}
	return string(b)
}

func bearer(req *http.Request, key string) {
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(key))
	req.Header.Set("Content-Type", "application/json")
}
