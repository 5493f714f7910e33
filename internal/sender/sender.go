// Package sender is the per-request pipe between the upstream dispatcher
// and the HTTP response writer.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Anivie/gpt-cat/internal/openai"
)

// ErrClientGone is returned by sends after the client stopped reading.
var ErrClientGone = errors.New("sender: client is gone")

// DoneFrame terminates every streamed response.
var DoneFrame = []byte("data: [DONE]\n\n")

// ResponsiveError describes one failed attempt in terms a client can act on.
type ResponsiveError struct {
	Component  string `json:"component"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Options tunes a Sender. Zero values take defaults.
type Options struct {
	// Buffer is the capacity of the outgoing frame channel.
	Buffer int
	// HeartbeatIdle is how long a stream may stay silent before an empty
	// chunk is sent to keep intermediaries from closing it.
	HeartbeatIdle time.Duration
	// HeartbeatCheck is how often idleness is checked.
	HeartbeatCheck time.Duration
}

// Sender carries frames for one client request. One goroutine produces
// (the relay), one consumes (the HTTP handler, via C). Close must be
// called exactly once by the producer when it is finished.
type Sender struct {
	model     string
	stream    bool
	requestID string
	id        string
	created   int64

	frames chan []byte
	ctx    context.Context

	buf       strings.Builder
	finish    string
	usage     openai.UsageBreakdown
	errs      []ResponsiveError
	roleSent  bool
	lastSend  atomic.Int64
	stopBeat  chan struct{}
	beatGroup sync.WaitGroup
	closeOnce sync.Once
}

// New creates a sender bound to ctx, the lifetime of the client request.
func New(ctx context.Context, model string, stream bool, opts Options) *Sender {
	if opts.Buffer <= 0 {
		opts.Buffer = 10
	}
	if opts.HeartbeatIdle <= 0 {
		opts.HeartbeatIdle = 30 * time.Second
	}
	if opts.HeartbeatCheck <= 0 {
		opts.HeartbeatCheck = 5 * time.Second
	}
	rid := uuid.NewString()
	s := &Sender{
		model:     model,
		stream:    stream,
		requestID: rid,
		id:        "chatcmpl-" + rid,
		created:   time.Now().Unix(),
		frames:    make(chan []byte, opts.Buffer),
		ctx:       ctx,
		stopBeat:  make(chan struct{}),
	}
	s.touch()
	if stream {
		s.beatGroup.Add(1)
		go s.heartbeat(opts.HeartbeatIdle, opts.HeartbeatCheck)
	}
	return s
}

// C is the ordered frame channel; it is closed after the final frame.
func (s *Sender) C() <-chan []byte { return s.frames }

func (s *Sender) Stream() bool { return s.stream }

// RequestID identifies the client request; it is also the suffix of the
// completion id.
func (s *Sender) RequestID() string { return s.requestID }

func (s *Sender) Model() string { return s.model }

// Len is the number of bytes of answer text accumulated by this attempt.
func (s *Sender) Len() int { return s.buf.Len() }

// Text is the answer text accumulated by this attempt.
func (s *Sender) Text() string { return s.buf.String() }

// ResetAttempt discards the text and finish state of a failed attempt.
func (s *Sender) ResetAttempt() {
	s.buf.Reset()
	s.finish = ""
	s.usage = openai.UsageBreakdown{}
}

// SetUsage records token usage reported by the upstream.
func (s *Sender) SetUsage(u openai.UsageBreakdown) { s.usage = u }

func (s *Sender) Usage() openai.UsageBreakdown { return s.usage }

// Delta appends text to the answer. Streams forward it at once; buffered
// requests keep it until Flush.
func (s *Sender) Delta(content string, finishReason *string) error {
	s.buf.WriteString(content)
	if finishReason != nil {
		s.finish = *finishReason
	}
	if !s.stream {
		return nil
	}
	// A finish with no text yet is held back: the attempt may still turn
	// out empty and be retried.
	if content == "" && (finishReason == nil || s.buf.Len() == 0) {
		return nil
	}
	delta := openai.ChatMessageDelta{Content: content}
	if !s.roleSent {
		delta.Role = "assistant"
		s.roleSent = true
	}
	return s.sendChunk(delta, finishReason)
}

// Flush delivers the buffered answer of a non-streaming request as one
// JSON body. It is a no-op for streams.
func (s *Sender) Flush() error {
	if s.stream {
		return nil
	}
	resp := openai.NewCompletionResponse(s.id, s.model, s.buf.String(), s.finish, s.usage)
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("sender: encode response: %w", err)
	}
	return s.send(body)
}

// AppendError records a failed attempt.
func (s *Sender) AppendError(e ResponsiveError) {
	s.errs = append(s.errs, e)
}

func (s *Sender) Errors() []ResponsiveError { return s.errs }

// SendError delivers all recorded errors as one answer in the normal
// response shape. It sends nothing when no error was recorded.
func (s *Sender) SendError() error {
	if len(s.errs) == 0 {
		return nil
	}
	text := FormatErrors(s.errs)
	stop := "stop"
	if s.stream {
		delta := openai.ChatMessageDelta{Content: text}
		if !s.roleSent {
			delta.Role = "assistant"
			s.roleSent = true
		}
		return s.sendChunk(delta, &stop)
	}
	resp := openai.NewCompletionResponse(s.id, s.model, text, stop, openai.UsageBreakdown{})
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("sender: encode error response: %w", err)
	}
	return s.send(body)
}

// Close stops the heartbeat, terminates a stream with [DONE] while the
// client is still there, and closes C.
func (s *Sender) Close() {
	s.closeOnce.Do(func() {
		close(s.stopBeat)
		s.beatGroup.Wait()
		if s.stream && s.ctx.Err() == nil {
			_ = s.send(DoneFrame)
		}
		close(s.frames)
	})
}

func (s *Sender) sendChunk(delta openai.ChatMessageDelta, finishReason *string) error {
	chunk := openai.NewChunk(s.id, s.model, s.created, delta, finishReason)
	body, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("sender: encode chunk: %w", err)
	}
	return s.send(frame(body))
}

func (s *Sender) send(b []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrClientGone
	default:
	}
	select {
	case s.frames <- b:
		s.touch()
		return nil
	case <-s.ctx.Done():
		return ErrClientGone
	}
}

func (s *Sender) touch() { s.lastSend.Store(time.Now().UnixNano()) }

func (s *Sender) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastSend.Load()))
}

func (s *Sender) heartbeat(idle, every time.Duration) {
	defer s.beatGroup.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	beat := openai.NewChunk(s.id, s.model, s.created, openai.ChatMessageDelta{}, nil)
	body, _ := json.Marshal(beat)
	body = frame(body)
	for {
		select {
		case <-s.stopBeat:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if s.idleFor() <= idle {
			continue
		}
		select {
		case s.frames <- body:
			s.touch()
		case <-s.stopBeat:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}
