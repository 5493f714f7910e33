package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Anivie/gpt-cat/internal/httpserver/protocol"
	"github.com/Anivie/gpt-cat/internal/openai"
	"github.com/Anivie/gpt-cat/internal/relay"
	"github.com/Anivie/gpt-cat/internal/sender"
)

const maxRequestBody = 8 << 20

type openaiEndpoint struct {
	server *Server
}

func newOpenAIEndpoint(server *Server) protocol.Endpoint {
	return &openaiEndpoint{server: server}
}

func (e *openaiEndpoint) Name() string { return "openai" }

func (e *openaiEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/v1/chat/completions", Handler: http.HandlerFunc(e.server.HandleChatCompletions)},
		{Method: http.MethodGet, Path: "/v1/models", Handler: http.HandlerFunc(e.server.HandleModels)},
	}
}

// HandleChatCompletions relays a chat request. The relay runs in its own
// goroutine and produces frames; this handler writes them in order. A
// failed write cancels the relay, and the remaining frames are drained.
func (s *Server) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if bearerToken(r) == "" {
		s.respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > maxRequestBody {
		s.respondError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var opts sender.Options
	if s.opts.SenderOptions != nil {
		opts = s.opts.SenderOptions()
	}
	snd := sender.New(ctx, req.Model, req.Stream, opts)
	results := make(chan relay.Result, 1)
	go func() {
		res := s.opts.Relay.Serve(ctx, req, body, snd)
		snd.Close()
		results <- res
	}()

	var flusher http.Flusher
	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher, _ = w.(http.Flusher)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}

	started := time.Now()
	writeFailed := false
	for frame := range snd.C() {
		if writeFailed {
			continue
		}
		if _, err := w.Write(frame); err != nil {
			writeFailed = true
			cancel()
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	res := <-results
	if s.opts.Metrics != nil {
		s.opts.Metrics.RequestFinished(res.Outcome)
	}
	if res.Err != nil {
		s.logger.Printf("chat %s model=%s stream=%v outcome=%s attempts=%d took=%v err=%v",
			snd.RequestID(), req.Model, req.Stream, res.Outcome, res.Attempts, time.Since(started), res.Err)
	}
}

// HandleModels lists the models named in models.yaml.
func (s *Server) HandleModels(w http.ResponseWriter, r *http.Request) {
	owners := map[string]string{}
	if s.opts.Models != nil {
		if table := s.opts.Models(); table != nil {
			owners = table.Owners()
		}
	}
	s.respondJSON(w, http.StatusOK, openai.NewModelsResponse(owners, time.Now().Unix()))
}
