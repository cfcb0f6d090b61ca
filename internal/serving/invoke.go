// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package serving

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/servechat/internal/model"
)

// Request is one invocation of the endpoint.
type Request struct {
	Task      TaskType
	Messages  []model.Message
	WantTrace bool

	// NoRetry makes Query send exactly one HTTP request.
	NoRetry bool
}

type databricksOptions struct {
	ReturnTrace bool `json:"return_trace"`
}

type invocationBody struct {
	Messages []model.Message    `json:"messages,omitempty"`
	Input    []model.Message    `json:"input,omitempty"`
	Stream   bool               `json:"stream,omitempty"`
	Options  *databricksOptions `json:"databricks_options,omitempty"`
}

// Payload returns the JSON body for the request. The responses format
// carries the conversation under "input"; the chat formats use "messages".
func (r Request) Payload(stream bool) ([]byte, error) {
	body := invocationBody{Stream: stream}
	msgs := r.Messages
	if msgs == nil {
		msgs = []model.Message{}
	}
	if r.Task == Responses {
		body.Input = msgs
	} else {
		body.Messages = msgs
	}
	if r.WantTrace {
		body.Options = &databricksOptions{ReturnTrace: true}
	}
	return json.Marshal(body)
}

// =============================================================================
// STREAMING
// =============================================================================

// QueryStream starts a streaming invocation. The caller must Close the
// returned Events. Streams are not retried here; callers fall back to Query.
func (c *Client) QueryStream(ctx context.Context, r Request) (Events, error) {
	body, err := r.Payload(true)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.invocationsURL(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("serving stream opened",
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, rerr := readResponse(resp)
		if rerr != nil {
			return nil, rerr
		}
		return nil, handleErrorResponse(resp.StatusCode, data)
	}
	return newSSEEvents(resp.Body), nil
}

// =============================================================================
// NON-STREAMING
// =============================================================================

type choiceMessage struct {
	Role       model.Role       `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCalls  []model.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type invocationResponse struct {
	Envelope
	Messages []model.Message `json:"messages"`
	Choices  []struct {
		Message choiceMessage `json:"message"`
	} `json:"choices"`
	Output []ResponseItem `json:"output"`
}

// Query performs a non-streaming invocation and returns the complete
// messages and the request id ("" when the endpoint returned none).
func (c *Client) Query(ctx context.Context, r Request) ([]model.Message, string, error) {
	body, err := r.Payload(false)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}
	send := c.doWithRetry
	if r.NoRetry {
		send = c.do
	}
	data, err := send(ctx, http.MethodPost, c.invocationsURL(), body)
	if err != nil {
		return nil, "", err
	}
	return ParseResponse(data)
}

// ParseResponse decodes a non-streaming invocation body. The format is
// detected from the body: messages[], choices[0].message or output[].
func ParseResponse(data []byte) ([]model.Message, string, error) {
	var resp invocationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to parse response: %w", err)
	}
	if err := resp.Failure(); err != nil {
		return nil, "", err
	}
	requestID := resp.RequestID()

	switch {
	case resp.Messages != nil:
		return model.CloneMessages(resp.Messages), requestID, nil

	case len(resp.Choices) > 0:
		cm := resp.Choices[0].Message
		role := cm.Role
		if role == "" {
			role = model.RoleAssistant
		}
		msg := model.Message{
			Role:       role,
			Content:    flattenContent(cm.Content),
			ToolCalls:  cm.ToolCalls,
			ToolCallID: cm.ToolCallID,
		}
		return []model.Message{msg}, requestID, nil

	case resp.Output != nil:
		msgs := make([]model.Message, 0, len(resp.Output))
		for _, it := range resp.Output {
			if m, ok := ItemMessage(it); ok {
				msgs = append(msgs, m)
			}
		}
		return msgs, requestID, nil
	}
	return nil, "", ErrUnexpectedResponse
}

// flattenContent accepts either a string or a list of typed parts and
// returns the concatenated text.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" || p.Type == "output_text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "")
}
