package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Anivie/gpt-cat/internal/account"
	"github.com/Anivie/gpt-cat/internal/openai"
)

type openAIVendor struct{}

func (openAIVendor) build(ctx context.Context, acct *account.Account, call Call) (*http.Request, error) {
	body := call.Raw
	if len(body) == 0 {
		var err error
		if body, err = json.Marshal(call.Request); err != nil {
			return nil, err
		}
	}
	model := call.Model
	if model == "" {
		model = call.Request.Model
	}
	body, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return nil, fmt.Errorf("rewrite model: %w", err)
	}
	if body, err = sjson.SetBytes(body, "stream", call.Request.Stream); err != nil {
		return nil, fmt.Errorf("rewrite stream flag: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, acct.Upstream.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	bearer(req, acct.APIKey)
	if call.Request.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (openAIVendor) decodeEvent(payload []byte) (string, *string, error) {
	if !gjson.ValidBytes(payload) {
		return "", nil, errors.New("malformed stream event")
	}
	if e := gjson.GetBytes(payload, "error"); e.Exists() {
		return "", nil, &RequestError{
			Reason:  "upstream error",
			Message: firstString(e.Get("message"), e),
		}
	}
	choice := gjson.GetBytes(payload, "choices.0")
	if !choice.Exists() {
		// usage-only or keepalive frames carry no choice
		return "", nil, nil
	}
	content := choice.Get("delta.content").String()
	var finish *string
	if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.Str != "" {
		reason := fr.Str
		finish = &reason
	}
	return content, finish, nil
}

func (openAIVendor) decodeBody(body []byte) (string, string, openai.UsageBreakdown, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", openai.UsageBreakdown{}, err
	}
	if len(resp.Choices) == 0 {
		return "", "", openai.UsageBreakdown{}, errors.New("response has no choices")
	}
	c := resp.Choices[0]
	return c.Message.Content, c.FinishReason, resp.Usage, nil
}

// upstreamMessage extracts a human readable message from an error body.
func upstreamMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error"} {
			if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	return snippet(body)
}

func firstString(results ...gjson.Result) string {
	for _, r := range results {
		if s := r.String(); s != "" {
			return s
		}
	}
	return ""
}
