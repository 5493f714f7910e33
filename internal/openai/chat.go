package openai

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ChatCompletionRequest is the unified request accepted on /v1/chat/completions.
// Fields the gateway does not interpret are forwarded untouched from the raw body.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	User        string        `json:"user,omitempty"`
}

// Validate checks the minimum a request needs before it can be relayed.
func (r ChatCompletionRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	return nil
}

// ChatMessage follows OpenAI's role/content schema.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the non-streaming answer shape.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   UsageBreakdown         `json:"usage"`
}

type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      ChatMessage `json:"message"`
	Logprobs     interface{} `json:"logprobs"`
}

type UsageBreakdown struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewCompletionResponse builds a single-choice assistant answer.
func NewCompletionResponse(id, model, content, finishReason string, usage UsageBreakdown) ChatCompletionResponse {
	if finishReason == "" {
		finishReason = "stop"
	}
	return ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			FinishReason: finishReason,
			Message:      ChatMessage{Role: "assistant", Content: content},
		}},
		Usage: usage,
	}
}

// ModelsResponse is the /v1/models listing.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// NewModelsResponse lists ids with the endpoint that serves them as owner.
func NewModelsResponse(owners map[string]string, created int64) ModelsResponse {
	resp := ModelsResponse{Object: "list", Data: make([]Model, 0, len(owners))}
	for id, owner := range owners {
		resp.Data = append(resp.Data, Model{ID: id, Object: "model", Created: created, OwnedBy: owner})
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].ID < resp.Data[j].ID })
	return resp
}

// ErrorResponse is returned for requests rejected before relaying.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
