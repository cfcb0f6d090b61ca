// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package serving is the HTTP client for a model-serving endpoint.
//
// It invokes serving-endpoints/{name}/invocations in streaming and
// non-streaming mode, describes the endpoint to learn its task type and
// whether it serves a feedback model, and submits thumbs feedback.
//
// # Key Types
//
//   - Client: bearer-authenticated client with rate limiting and retries
//   - Request: one invocation (task type, messages, trace flag)
//   - Events: pull iterator over stream payloads, stops at [DONE]
//   - Fragment: decoded payload (ChatCompletionChunk, ChatAgentChunk, ResponsesEvent)
//   - APIError: error returned by the endpoint, with HTTP status
//
// # Usage
//
//	client := serving.New(cfg.Endpoint)
//	task, err := client.ResolveTaskType(ctx)
//	events, err := client.QueryStream(ctx, serving.Request{Task: task, Messages: msgs})
//	defer events.Close()
//	for events.Next() {
//	    frag, err := serving.DecodeFragment(task, events.Data())
//	    ...
//	}
//
// # Security
//
// Tokens are never logged. Only method, path, status and duration are
// traced at debug level. Non-streaming bodies are capped at MaxResponseSize
// and stream events at MaxEventSize.
package serving
