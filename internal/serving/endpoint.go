// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package serving

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TaskType selects the wire format an endpoint speaks.
type TaskType int

const (
	// ChatCompletions is the plain chat format (llm/v1/chat and anything unknown).
	ChatCompletions TaskType = iota
	// AgentChat is the tool-augmented chat-agent format.
	AgentChat
	// Responses is the item-based responses format.
	Responses
)

// Task identifiers reported by the endpoint description.
const (
	TaskChatCompletions = "llm/v1/chat"
	TaskAgentChat       = "agent/v2/chat"
	TaskResponses       = "agent/v1/responses"
)

// feedbackEntity is the served entity name that marks feedback support.
const feedbackEntity = "feedback"

// String returns the endpoint task identifier.
func (t TaskType) String() string {
	switch t {
	case AgentChat:
		return TaskAgentChat
	case Responses:
		return TaskResponses
	default:
		return TaskChatCompletions
	}
}

// ParseTaskType maps an endpoint task identifier to a TaskType.
// Unknown identifiers fall back to ChatCompletions.
func ParseTaskType(task string) TaskType {
	switch task {
	case TaskResponses:
		return Responses
	case TaskAgentChat:
		return AgentChat
	default:
		return ChatCompletions
	}
}

// ServedEntity is one model or entity behind an endpoint.
type ServedEntity struct {
	Name string `json:"name"`
}

// EndpointInfo is the subset of the endpoint description servechat uses.
type EndpointInfo struct {
	Name   string `json:"name"`
	Task   string `json:"task"`
	Config struct {
		ServedEntities []ServedEntity `json:"served_entities"`
		ServedModels   []ServedEntity `json:"served_models"`
	} `json:"config"`
}

// TaskType returns the parsed task type.
func (e *EndpointInfo) TaskType() TaskType {
	return ParseTaskType(e.Task)
}

// HasEntity reports whether any served entity or model has the given name.
func (e *EndpointInfo) HasEntity(name string) bool {
	for _, s := range e.Config.ServedEntities {
		if s.Name == name {
			return true
		}
	}
	for _, s := range e.Config.ServedModels {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Describe fetches the endpoint description.
func (c *Client) Describe(ctx context.Context) (*EndpointInfo, error) {
	data, err := c.doWithRetry(ctx, http.MethodGet, c.describeURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("describe endpoint %s: %w", c.name, err)
	}
	var info EndpointInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse endpoint description: %w", err)
	}
	return &info, nil
}

// ResolveTaskType looks up the endpoint's current task type.
func (c *Client) ResolveTaskType(ctx context.Context) (TaskType, error) {
	info, err := c.Describe(ctx)
	if err != nil {
		return ChatCompletions, err
	}
	return info.TaskType(), nil
}

// SupportsFeedback reports whether the endpoint serves a feedback model.
func (c *Client) SupportsFeedback(ctx context.Context) (bool, error) {
	info, err := c.Describe(ctx)
	if err != nil {
		return false, err
	}
	return info.HasEntity(feedbackEntity), nil
}
