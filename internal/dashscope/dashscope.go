// Package dashscope holds the wire types of Alibaba's DashScope text
// generation API (QianWen models).
package dashscope

import "github.com/Anivie/gpt-cat/internal/openai"

// SSEHeader toggles server-sent events on the generation endpoint.
const SSEHeader = "X-DashScope-SSE"

// Request is the body posted to the generation endpoint.
type Request struct {
	Model      string     `json:"model"`
	Input      Input      `json:"input"`
	Parameters Parameters `json:"parameters"`
}

type Input struct {
	Messages []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Parameters struct {
	// IncrementalOutput makes each streamed event carry only the new text.
	IncrementalOutput bool     `json:"incremental_output"`
	ResultFormat      string   `json:"result_format"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	MaxTokens         *int     `json:"max_tokens,omitempty"`
	Stop              []string `json:"stop,omitempty"`
}

// Response is both the non-streaming body and the payload of each SSE event.
type Response struct {
	Output    Output `json:"output"`
	Usage     Usage  `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

type Output struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewRequest converts a unified request. model is the upstream model name.
func NewRequest(model string, req openai.ChatCompletionRequest) Request {
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
	}
	return Request{
		Model: model,
		Input: Input{Messages: msgs},
		Parameters: Parameters{
			IncrementalOutput: req.Stream,
			ResultFormat:      "message",
			Temperature:       req.Temperature,
			TopP:              req.TopP,
			MaxTokens:         req.MaxTokens,
			Stop:              req.Stop,
		},
	}
}

// FinishReason normalises DashScope's "null" placeholder to an absent reason.
func FinishReason(v string) *string {
	if v == "" || v == "null" {
		return nil
	}
	return &v
}
