package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/Anivie/gpt-cat/internal/account"
	"github.com/Anivie/gpt-cat/internal/dashscope"
	"github.com/Anivie/gpt-cat/internal/openai"
)

type qianWenVendor struct{}

func (qianWenVendor) build(ctx context.Context, acct *account.Account, call Call) (*http.Request, error) {
	model := call.Model
	if model == "" {
		model = call.Request.Model
	}
	body, err := json.Marshal(dashscope.NewRequest(model, call.Request))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, acct.Upstream.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	bearer(req, acct.APIKey)
	if call.Request.Stream {
		req.Header.Set(dashscope.SSEHeader, "enable")
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set(dashscope.SSEHeader, "disable")
	}
	return req, nil
}

func (qianWenVendor) decodeEvent(payload []byte) (string, *string, error) {
	if !gjson.ValidBytes(payload) {
		return "", nil, errors.New("malformed stream event")
	}
	if code := gjson.GetBytes(payload, "code"); code.Exists() && code.String() != "" {
		return "", nil, &RequestError{
			Reason:  "upstream error " + code.String(),
			Message: gjson.GetBytes(payload, "message").String(),
		}
	}
	choice := gjson.GetBytes(payload, "output.choices.0")
	if !choice.Exists() {
		// result_format=text payloads
		text := gjson.GetBytes(payload, "output.text")
		if !text.Exists() {
			return "", nil, nil
		}
		return text.String(), dashscope.FinishReason(gjson.GetBytes(payload, "output.finish_reason").String()), nil
	}
	return choice.Get("message.content").String(), dashscope.FinishReason(choice.Get("finish_reason").String()), nil
}

func (qianWenVendor) decodeBody(body []byte) (string, string, openai.UsageBreakdown, error) {
	var resp dashscope.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", openai.UsageBreakdown{}, err
	}
	if resp.Code != "" {
		return "", "", openai.UsageBreakdown{}, fmt.Errorf("upstream error %s: %s", resp.Code, resp.Message)
	}
	if len(resp.Output.Choices) == 0 {
		return "", "", openai.UsageBreakdown{}, errors.New("response has no choices")
	}
	c := resp.Output.Choices[0]
	finish := ""
	if f := dashscope.FinishReason(c.FinishReason); f != nil {
		finish = *f
	}
	usage := openai.UsageBreakdown{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return c.Message.Content, finish, usage, nil
}
