// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := New(config.EndpointConfig{
		Name:        "agent",
		Host:        srv.URL,
		Token:       "dapi-test",
		TimeoutSecs: 5,
		MaxRetries:  2,
	})
	c.retryBase = time.Millisecond
	return c
}

// =============================================================================
// STREAMING
// =============================================================================

func TestQueryStream_SendsRequestAndYieldsPayloads(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/serving-endpoints/agent/invocations", r.URL.Path)
		assert.Equal(t, "Bearer dapi-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}],\"databricks_output\":{\"databricks_request_id\":\"req-1\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	})

	events, err := c.QueryStream(context.Background(), Request{
		Task:      ChatCompletions,
		Messages:  []model.Message{model.NewUserMessage("hi")},
		WantTrace: true,
	})
	require.NoError(t, err)
	defer events.Close()

	var content, requestID string
	for events.Next() {
		frag, err := DecodeFragment(ChatCompletions, events.Data())
		require.NoError(t, err)
		content += frag.(*ChatCompletionChunk).Content()
		if id := frag.RequestID(); id != "" {
			requestID = id
		}
	}
	require.NoError(t, events.Err())

	assert.Equal(t, "Hello", content)
	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, true, gotBody["stream"])
	assert.Equal(t, map[string]any{"return_trace": true}, gotBody["databricks_options"])
	assert.Len(t, gotBody["messages"], 1)
}

func TestQueryStream_HTTPErrorIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"no such endpoint"}`)
	})

	_, err := c.QueryStream(context.Background(), Request{Messages: []model.Message{model.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEndpointNotFound))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "RESOURCE_DOES_NOT_EXIST", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestQueryStream_TruncatedBodyEndsWithoutDone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"delta\":{\"id\":\"m1\",\"content\":\"partial\"}}")
	})

	events, err := c.QueryStream(context.Background(), Request{Task: AgentChat})
	require.NoError(t, err)
	defer events.Close()

	require.True(t, events.Next())
	frag, err := DecodeFragment(AgentChat, events.Data())
	require.NoError(t, err)
	assert.Equal(t, "partial", frag.(*ChatAgentChunk).Delta.Content)
	assert.False(t, events.Next())
	assert.NoError(t, events.Err())
}

// =============================================================================
// NON-STREAMING
// =============================================================================

func TestQuery_ParsesEachFormat(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   []model.Message
		wantID string
	}{
		{
			name:   "chat completions",
			body:   `{"choices":[{"message":{"role":"assistant","content":"Hello"}}],"databricks_output":{"databricks_request_id":"r1"}}`,
			want:   []model.Message{model.NewAssistantMessage("Hello")},
			wantID: "r1",
		},
		{
			name: "chat completions with content parts",
			body: `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"image","text":"x"},{"type":"text","text":"b"}]}}]}`,
			want: []model.Message{model.NewAssistantMessage("ab")},
		},
		{
			name: "agent messages",
			body: `{"messages":[{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"lookup","arguments":"{}"}}]},{"role":"tool","content":"42","tool_call_id":"c1"},{"role":"assistant","content":"done"}]}`,
			want: []model.Message{
				{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Type: "function", Function: model.FunctionCall{Name: "lookup", Arguments: "{}"}}}},
				model.NewToolMessage("c1", "42"),
				model.NewAssistantMessage("done"),
			},
		},
		{
			name: "responses output",
			body: `{"output":[
				{"type":"function_call","id":"fc1","call_id":"c1","name":"lookup","arguments":"{\"q\":1}"},
				{"type":"function_call_output","call_id":"c1","output":"42"},
				{"type":"reasoning","id":"r1"},
				{"type":"message","id":"m1","content":[{"type":"output_text","text":"The answer "},{"type":"output_text","text":"is 42"}]}
			],"databricks_output":{"databricks_request_id":"r9"}}`,
			want: []model.Message{
				{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Type: "function", Function: model.FunctionCall{Name: "lookup", Arguments: `{"q":1}`}}}},
				model.NewToolMessage("c1", "42"),
				model.NewAssistantMessage("The answer is 42"),
			},
			wantID: "r9",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			})
			got, id, err := c.Query(context.Background(), Request{Messages: []model.Message{model.NewUserMessage("q")}})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantID, id)
		})
	}
}

func TestQuery_UnknownFormat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"predictions":[1]}`)
	})
	_, _, err := c.Query(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrUnexpectedResponse))
}

func TestQuery_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"messages":[{"role":"assistant","content":"ok"}]}`)
	})

	got, _, err := c.Query(context.Background(), Request{Task: AgentChat})
	require.NoError(t, err)
	assert.Equal(t, "ok", got[0].Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQuery_DoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"invalid_token","message":"bad token"}}`)
	})

	_, _, err := c.Query(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.Contains(t, err.Error(), "bad token")
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuery_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, _, err := c.Query(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestQuery_NoRetrySendsOneRequest(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, _, err := c.Query(context.Background(), Request{NoRetry: true})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequestPayload(t *testing.T) {
	msgs := []model.Message{model.NewUserMessage("hi")}

	data, err := Request{Task: Responses, Messages: msgs}.Payload(false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"input":[{"role":"user","content":"hi"}]}`, string(data))

	data, err = Request{Task: AgentChat, Messages: msgs, WantTrace: true}.Payload(true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}],"stream":true,"databricks_options":{"return_trace":true}}`, string(data))
}

func TestClient_NotConfigured(t *testing.T) {
	c := New(config.EndpointConfig{})
	_, _, err := c.Query(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

// =============================================================================
// ENDPOINT DESCRIPTION
// =============================================================================

func TestDescribe_TaskTypeAndFeedback(t *testing.T) {
	tests := []struct {
		body         string
		wantTask     TaskType
		wantFeedback bool
	}{
		{`{"name":"agent","task":"agent/v1/responses","config":{"served_entities":[{"name":"main"},{"name":"feedback"}]}}`, Responses, true},
		{`{"name":"agent","task":"agent/v2/chat","config":{"served_models":[{"name":"feedback"}]}}`, AgentChat, true},
		{`{"name":"agent","task":"llm/v1/chat","config":{"served_entities":[{"name":"main"}]}}`, ChatCompletions, false},
		{`{"name":"agent"}`, ChatCompletions, false},
	}

	for _, tc := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/2.0/serving-endpoints/agent", r.URL.Path)
			fmt.Fprint(w, tc.body)
		})

		task, err := c.ResolveTaskType(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.wantTask, task)

		ok, err := c.SupportsFeedback(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.wantFeedback, ok)
	}
}

func TestParseTaskType_RoundTrip(t *testing.T) {
	for _, task := range []TaskType{ChatCompletions, AgentChat, Responses} {
		assert.Equal(t, task, ParseTaskType(task.String()))
	}
	assert.Equal(t, ChatCompletions, ParseTaskType("llm/v1/completions"))
}

// =============================================================================
// FEEDBACK
// =============================================================================

func TestSubmitFeedback_Payload(t *testing.T) {
	var raw []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/serving-endpoints/agent/served-models/feedback/invocations", r.URL.Path)
		raw, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"predictions":[]}`)
	})

	require.NoError(t, c.SubmitFeedback(context.Background(), "req-7", RatingNegative))

	var body struct {
		Records []map[string]string `json:"dataframe_records"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Len(t, body.Records, 1)
	rec := body.Records[0]
	assert.Equal(t, "req-7", rec["request_id"])
	assert.Equal(t, "[]", rec["retrieval_assessments"])
	assert.JSONEq(t, `{"id":"e2e-chatbot-app","type":"human"}`, rec["source"])
	assert.JSONEq(t, `[{"ratings":{"answer_correct":{"value":"negative"}},"free_text_comment":null}]`, rec["text_assessments"])
}

func TestSubmitFeedback_RejectsBadInput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	assert.Error(t, c.SubmitFeedback(context.Background(), "", RatingPositive))
	assert.True(t, errors.Is(c.SubmitFeedback(context.Background(), "r", "meh"), ErrInvalidRating))
}

func TestParseRating(t *testing.T) {
	r, err := ParseRating("UP")
	require.NoError(t, err)
	assert.Equal(t, RatingPositive, r)

	r, err = ParseRating("down")
	require.NoError(t, err)
	assert.Equal(t, RatingNegative, r)

	_, err = ParseRating("sideways")
	assert.True(t, errors.Is(err, ErrInvalidRating))
}
