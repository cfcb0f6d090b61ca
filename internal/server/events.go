// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/stream"
)

// eventStream is a stream.Display that forwards each render call to the
// client as a server-sent event. Event names match stream.RenderKind.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &eventStream{w: w, flusher: f}, true
}

func (e *eventStream) Placeholder(text string) {
	e.send(string(stream.RenderPlaceholder), stream.RenderEvent{Kind: stream.RenderPlaceholder, Text: text})
}

func (e *eventStream) Update(id string, msg model.Message) {
	e.send(string(stream.RenderUpdate), stream.RenderEvent{Kind: stream.RenderUpdate, ID: id, Messages: []model.Message{msg}})
}

func (e *eventStream) Replace(msgs []model.Message) {
	e.send(string(stream.RenderReplace), stream.RenderEvent{Kind: stream.RenderReplace, Messages: msgs})
}

// send writes one event. Write errors mean the client left; the request
// context is cancelled by net/http in that case, so they are dropped here.
func (e *eventStream) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	e.flusher.Flush()
}
