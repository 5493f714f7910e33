package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anivie/gpt-cat/internal/account"
	"github.com/Anivie/gpt-cat/internal/endpoint"
	"github.com/Anivie/gpt-cat/internal/openai"
	"github.com/Anivie/gpt-cat/internal/sender"
)

func testAccount(srv *httptest.Server, kind endpoint.Kind) *account.Account {
	return &account.Account{
		Record:   account.Record{ID: 1, APIKey: "sk-test", Endpoint: kind.String()},
		Upstream: endpoint.Endpoint{Name: kind.String(), Kind: kind, URL: srv.URL},
		Client:   srv.Client(),
	}
}

// collect drains a sender in the background; wait returns all frames
// after the sender has been closed.
func collect(s *sender.Sender) (wait func() [][]byte) {
	done := make(chan [][]byte, 1)
	go func() {
		var frames [][]byte
		for f := range s.C() {
			frames = append(frames, f)
		}
		done <- frames
	}()
	return func() [][]byte {
		s.Close()
		return <-done
	}
}

func chunkContents(t *testing.T, frames [][]byte) []string {
	t.Helper()
	var out []string
	for _, f := range frames {
		if bytes.Equal(f, sender.DoneFrame) {
			continue
		}
		var c openai.ChatCompletionChunk
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(bytes.TrimPrefix(f, []byte("data: "))), &c))
		out = append(out, c.Choices[0].Delta.Content)
	}
	return out
}

// writeSplit writes parts as separately flushed chunks.
func writeSplit(w http.ResponseWriter, parts ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, p := range parts {
		_, _ = io.WriteString(w, p)
		flusher.Flush()
	}
}

func streamCall(raw string) Call {
	var req openai.ChatCompletionRequest
	_ = json.Unmarshal([]byte(raw), &req)
	return Call{Request: req, Raw: []byte(raw), Model: req.Model}
}

func TestOpenAIStream(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeSplit(w,
			`data: {"choices":[{"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}`+"\n\ndata: {\"choi",
			`ces":[{"delta":{"content":"lo"},"finish_reason":null}]}`+"\n",
			"\ndata: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n",
		)
	}))
	defer srv.Close()

	call := streamCall(`{"model":"gpt-4o","stream":true,"presence_penalty":0.5,"messages":[{"role":"user","content":"hi"}]}`)
	call.Model = "gpt-4o-2024"
	s := sender.New(context.Background(), call.Request.Model, true, sender.Options{Buffer: 16})
	wait := collect(s)

	err := (&Dispatcher{}).Dispatch(context.Background(), testAccount(srv, endpoint.KindOpenAI), call, s)
	require.NoError(t, err)
	assert.Equal(t, "Hello", s.Text())

	frames := wait()
	assert.Equal(t, []string{"Hel", "lo", ""}, chunkContents(t, frames))
	assert.Equal(t, sender.DoneFrame, frames[len(frames)-1])

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-2024", gotBody["model"], "model name is mapped")
	assert.Equal(t, 0.5, gotBody["presence_penalty"], "unknown parameters are forwarded")
	assert.Equal(t, true, gotBody["stream"])
}

func TestQianWenStream(t *testing.T) {
	var sseHeader string
	var gotReq map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeader = r.Header.Get("X-DashScope-SSE")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		writeSplit(w,
			"id:1\nevent:result\ndata:{\"output\":{\"choices\":[{\"message\":{\"content\":\"你\",\"role\":\"assistant\"},\"finish_reason\":\"null\"}]}}\n\n",
			"id:2\nevent:result\ndata:{\"output\":{\"choices\":[{\"message\":{\"content\":\"好\",\"role\":\"assistant\"},\"finish_reason\":\"stop\"}]}}",
			"\n\n",
		)
	}))
	defer srv.Close()

	call := streamCall(`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	call.Model = "qwen-max"
	s := sender.New(context.Background(), "gpt-4o", true, sender.Options{Buffer: 16})
	wait := collect(s)

	require.NoError(t, (&Dispatcher{}).Dispatch(context.Background(), testAccount(srv, endpoint.KindQianWen), call, s))
	assert.Equal(t, "你好", s.Text())
	assert.Equal(t, []string{"你", "好"}, chunkContents(t, wait()))

	assert.Equal(t, "enable", sseHeader)
	assert.Equal(t, "qwen-max", gotReq["model"])
	params := gotReq["parameters"].(map[string]interface{})
	assert.Equal(t, true, params["incremental_output"])
	assert.Equal(t, "message", params["result_format"])
}

func TestQianWenNonStream(t *testing.T) {
	var sseHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeader = r.Header.Get("X-DashScope-SSE")
		_, _ = io.WriteString(w, `{"output":{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"done"}}]},"usage":{"input_tokens":4,"output_tokens":1},"request_id":"r1"}`)
	}))
	defer srv.Close()

	call := streamCall(`{"model":"qwen-max","messages":[{"role":"user","content":"hi"}]}`)
	s := sender.New(context.Background(), "qwen-max", false, sender.Options{})
	wait := collect(s)
	require.NoError(t, (&Dispatcher{}).Dispatch(context.Background(), testAccount(srv, endpoint.KindQianWen), call, s))

	frames := wait()
	require.Len(t, frames, 1)
	var resp openai.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(frames[0], &resp))
	assert.Equal(t, "done", resp.Choices[0].Message.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "disable", sseHeader)
}

func TestOpenAINonStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openai.NewCompletionResponse("x", "gpt-4o", "answer", "stop", openai.UsageBreakdown{TotalTokens: 9})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	s := sender.New(context.Background(), "gpt-4o", false, sender.Options{})
	wait := collect(s)
	err := (&Dispatcher{}).Dispatch(context.Background(), testAccount(srv, endpoint.KindOpenAI),
		streamCall(`{"model":"gpt-4o","messages":[{"role":"user","content":"q"}]}`), s)
	require.NoError(t, err)
	frames := wait()
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0]), `"content":"answer"`)
}

func TestTransportFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		stream  bool
		reason  string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
			},
			stream: true,
			reason: "upstream status 429",
		},
		{
			name: "empty stream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeSplit(w, "data: [DONE]\n\n")
			},
			stream: true,
			reason: "empty response",
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":""}}]}`)
			},
			reason: "empty response",
		},
		{
			name: "malformed event",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeSplit(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\ndata: {broken\n\n")
			},
			stream: true,
			reason: "decode",
		},
		{
			name: "error event",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeSplit(w, "data: {\"error\":{\"message\":\"context too long\"}}\n\n")
			},
			stream: true,
			reason: "upstream error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			raw := `{"model":"gpt-4o","messages":[{"role":"user","content":"q"}]}`
			if tc.stream {
				raw = `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"q"}]}`
			}
			s := sender.New(context.Background(), "gpt-4o", tc.stream, sender.Options{Buffer: 16})
			wait := collect(s)
			err := (&Dispatcher{}).Dispatch(context.Background(), testAccount(srv, endpoint.KindOpenAI), streamCall(raw), s)
			wait()

			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr), "got %v", err)
			assert.Equal(t, tc.reason, reqErr.Reason)
			assert.Equal(t, "OpenAI", reqErr.Component)
			assert.NotEmpty(t, reqErr.Responsive().Message)
		})
	}
}

func TestFinishOnlyStreamForwardsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSplit(w,
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n",
			"data: [DONE]\n\n")
	}))
	defer srv.Close()

	s := sender.New(context.Background(), "gpt-4o", true, sender.Options{Buffer: 16})
	wait := collect(s)
	err := (&Dispatcher{}).Dispatch(context.Background(), testAccount(srv, endpoint.KindOpenAI),
		streamCall(`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"q"}]}`), s)
	frames := wait()

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr), "got %v", err)
	assert.Equal(t, "empty response", reqErr.Reason)
	require.Len(t, frames, 1, "finish frame of an empty attempt must not reach the client")
	assert.Equal(t, sender.DoneFrame, frames[0])
}

func TestStatusErrorMessage(t *testing.T) {
	e := statusError("OpenAI", 401, []byte(`{"error":{"message":"bad key"}}`))
	assert.Equal(t, "bad key", e.Message)
	assert.Contains(t, e.Suggestion, "key")

	e = statusError("QianWen", 500, []byte(`{"code":"InternalError","message":"oops"}`))
	assert.Equal(t, "oops", e.Message)

	e = statusError("OpenAI", 502, []byte("<html>bad gateway</html>"))
	assert.Equal(t, "<html>bad gateway</html>", e.Message)
}

func TestConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	acct := testAccount(srv, endpoint.KindOpenAI)
	srv.Close()

	s := sender.New(context.Background(), "m", false, sender.Options{})
	err := (&Dispatcher{}).Dispatch(context.Background(), acct, streamCall(`{"model":"m","messages":[]}`), s)
	s.Close()
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr), "got %v", err)
	assert.Equal(t, "connect", reqErr.Reason)
}

func TestClientGoneIsResponseError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSplit(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s := sender.New(ctx, "m", true, sender.Options{Buffer: 16})
	wait := collect(s)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := (&Dispatcher{}).Dispatch(ctx, testAccount(srv, endpoint.KindOpenAI),
		streamCall(`{"model":"m","stream":true,"messages":[{"role":"user","content":"q"}]}`), s)
	wait()
	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr), "got %v", err)
}

func TestUnsupportedKind(t *testing.T) {
	acct := &account.Account{Upstream: endpoint.Endpoint{Name: "Mystery", Kind: endpoint.Kind(99)}}
	s := sender.New(context.Background(), "m", false, sender.Options{})
	defer s.Close()
	err := (&Dispatcher{}).Dispatch(context.Background(), acct, Call{}, s)
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.True(t, strings.Contains(reqErr.Error(), "unsupported"))
}
