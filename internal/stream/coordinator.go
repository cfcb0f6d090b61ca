// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/util"
)

// Texts shown while a turn resolves.
const (
	ThinkingText = "_Thinking..._"
	RetryNotice  = "_Ran into an error. Retrying without streaming..._"
)

// maxLoggedPartial bounds the partial content attached to failure logs.
const maxLoggedPartial = 500

// Endpoint is the part of serving.Client the coordinator drives.
type Endpoint interface {
	Name() string
	QueryStream(ctx context.Context, r serving.Request) (serving.Events, error)
	Query(ctx context.Context, r serving.Request) ([]model.Message, string, error)
}

// FallbackError is returned when streaming failed and the non-streaming
// retry failed too. It unwraps to the retry error.
type FallbackError struct {
	Stream error
	Retry  error
}

// Error implements the error interface.
func (e *FallbackError) Error() string {
	return fmt.Sprintf("non-streaming retry failed: %v (stream error: %v)", e.Retry, e.Stream)
}

// Unwrap returns the retry error.
func (e *FallbackError) Unwrap() error {
	return e.Retry
}

// Coordinator resolves one assistant turn: it streams, renders partial
// state per message identity, and on any failure falls back to exactly
// one non-streaming call with the same input.
type Coordinator struct {
	Endpoint Endpoint
	Logger   *slog.Logger

	// WantTraces asks the endpoint for trace metadata, which carries the
	// request id used for feedback.
	WantTraces bool

	// SkipStream sends every prompt as a single non-streaming call.
	SkipStream bool
}

// NewCoordinator creates a coordinator for ep.
func NewCoordinator(ep Endpoint, logger *slog.Logger, wantTraces bool) *Coordinator {
	return &Coordinator{Endpoint: ep, Logger: logger, WantTraces: wantTraces}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Handle resolves input into an AssistantTurn, rendering into display.
// A resolved turn always ends with display.Replace of its messages.
// A nil turn is returned only together with a *FallbackError, or with the
// query error when SkipStream is set.
func (c *Coordinator) Handle(ctx context.Context, task serving.TaskType, input []model.Message, display Display) (*model.AssistantTurn, error) {
	if display == nil {
		display = Discard{}
	}
	display.Placeholder(ThinkingText)

	req := serving.Request{
		Task:      task,
		Messages:  model.CloneMessages(input),
		WantTrace: c.WantTraces,
	}

	if c.SkipStream {
		msgs, requestID, err := c.Endpoint.Query(ctx, req)
		if err != nil {
			c.logger().Error("query failed", "endpoint", c.Endpoint.Name(), "task", task.String(), "error", err)
			return nil, err
		}
		display.Replace(msgs)
		return model.NewAssistantTurn(msgs, requestID), nil
	}

	col := newCollector(task)
	msgs, requestID, err := c.stream(ctx, req, col, NewRegions(display))
	if err == nil {
		display.Replace(msgs)
		return model.NewAssistantTurn(msgs, requestID), nil
	}

	// RELIABILITY: Stream failures are recovered by one non-streaming call.
	c.logger().Warn("streaming failed, retrying without streaming",
		"endpoint", c.Endpoint.Name(),
		"task", task.String(),
		"error", err,
		"partial", util.TruncateRunes(col.partial(), maxLoggedPartial),
		"partial_messages", col.count(),
		"input_count", len(input))
	display.Placeholder(RetryNotice)

	req.NoRetry = true
	msgs, requestID, retryErr := c.Endpoint.Query(ctx, req)
	if retryErr != nil {
		payload, perr := req.Payload(false)
		if perr != nil {
			payload = []byte(perr.Error())
		}
		c.logger().Error("non-streaming retry failed",
			"endpoint", c.Endpoint.Name(),
			"task", task.String(),
			"error", retryErr,
			"payload", string(payload))
		return nil, &FallbackError{Stream: err, Retry: retryErr}
	}

	display.Replace(msgs)
	return model.NewAssistantTurn(msgs, requestID), nil
}

// stream drives one streaming attempt to completion.
func (c *Coordinator) stream(ctx context.Context, req serving.Request, col collector, regions *Regions) ([]model.Message, string, error) {
	events, err := c.Endpoint.QueryStream(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer events.Close()

	var requestID string
	for events.Next() {
		frag, err := serving.DecodeFragment(req.Task, events.Data())
		if err != nil {
			return nil, "", err
		}
		if err := frag.Failure(); err != nil {
			return nil, "", err
		}
		if id := frag.RequestID(); id != "" {
			requestID = id
		}
		col.add(frag, regions)
	}
	if err := events.Err(); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	return col.messages(), requestID, nil
}
