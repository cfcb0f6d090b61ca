// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package serving

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/servechat/internal/model"
)

// =============================================================================
// WIRE VARIANTS
// =============================================================================

// ErrMalformedFragment indicates a stream payload that does not decode.
var ErrMalformedFragment = errors.New("malformed stream fragment")

// Responses stream event types servechat acts on.
const (
	EventOutputItemDone  = "response.output_item.done"
	EventOutputTextDelta = "response.output_text.delta"
	EventError           = "error"
)

// Responses item types.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// DatabricksOutput is the side channel carrying the request id.
type DatabricksOutput struct {
	RequestID string `json:"databricks_request_id,omitempty"`
}

// ErrorBody is an error object embedded in a stream payload.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Envelope holds the fields every wire variant may carry.
type Envelope struct {
	Output *DatabricksOutput `json:"databricks_output,omitempty"`
	Error  *ErrorBody        `json:"error,omitempty"`
}

// RequestID returns the side-channel request id, or "".
func (e Envelope) RequestID() string {
	if e.Output == nil {
		return ""
	}
	return e.Output.RequestID
}

// Failure returns the in-band error carried by the payload, if any.
func (e Envelope) Failure() error {
	if e.Error == nil {
		return nil
	}
	return &APIError{Code: e.Error.Code, Message: e.Error.Message}
}

// Fragment is one decoded stream payload of any wire variant.
type Fragment interface {
	RequestID() string
	Failure() error
}

// ChatCompletionChunk is one plain-chat stream payload.
type ChatCompletionChunk struct {
	Envelope
	Choices []struct {
		Delta        model.Delta `json:"delta"`
		FinishReason string      `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// Content returns the first choice's content delta.
func (c *ChatCompletionChunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// ChatAgentChunk is one tool-augmented chat stream payload.
type ChatAgentChunk struct {
	Envelope
	Delta model.Delta `json:"delta"`
}

// ContentPart is one piece of a responses message item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponseItem is one complete output item of the responses format.
type ResponseItem struct {
	Type      string        `json:"type"`
	ID        string        `json:"id,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// Identity returns the item id, falling back to the item type and call id.
// A function call and its output share a call id, so the type is kept.
func (it ResponseItem) Identity() string {
	if it.ID != "" {
		return it.ID
	}
	if it.CallID != "" {
		return it.Type + ":" + it.CallID
	}
	return ""
}

// Text joins the item's output_text parts.
func (it ResponseItem) Text() string {
	var sb strings.Builder
	for _, p := range it.Content {
		if p.Type == "output_text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ResponsesEvent is one responses-format stream payload.
type ResponsesEvent struct {
	Envelope
	Type    string        `json:"type"`
	ItemID  string        `json:"item_id,omitempty"`
	Delta   string        `json:"delta,omitempty"`
	Item    *ResponseItem `json:"item,omitempty"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Failure treats an "error" event as a stream failure.
func (e *ResponsesEvent) Failure() error {
	if err := e.Envelope.Failure(); err != nil {
		return err
	}
	if e.Type == EventError {
		msg := e.Message
		if msg == "" {
			msg = "stream reported an error"
		}
		return &APIError{Code: e.Code, Message: msg}
	}
	return nil
}

// DecodeFragment decodes one stream payload in the wire format of task.
// Decode errors wrap ErrMalformedFragment.
func DecodeFragment(task TaskType, data []byte) (Fragment, error) {
	var frag Fragment
	switch task {
	case AgentChat:
		frag = &ChatAgentChunk{}
	case Responses:
		frag = &ResponsesEvent{}
	default:
		frag = &ChatCompletionChunk{}
	}
	if err := json.Unmarshal(data, frag); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFragment, err)
	}
	return frag, nil
}

// ItemMessage converts a complete responses item to a wire message.
// It returns false for unknown item types and message items with no text.
func ItemMessage(it ResponseItem) (model.Message, bool) {
	switch it.Type {
	case ItemTypeMessage:
		text := it.Text()
		if text == "" {
			return model.Message{}, false
		}
		return model.NewAssistantMessage(text), true
	case ItemTypeFunctionCall:
		return model.Message{
			Role:    model.RoleAssistant,
			Content: "",
			ToolCalls: []model.ToolCall{{
				ID:   it.CallID,
				Type: model.DefaultToolCallType,
				Function: model.FunctionCall{
					Name:      it.Name,
					Arguments: it.Arguments,
				},
			}},
		}, true
	case ItemTypeFunctionCallOutput:
		return model.NewToolMessage(it.CallID, it.Output), true
	default:
		return model.Message{}, false
	}
}
