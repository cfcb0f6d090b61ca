// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"sync"

	"github.com/jeranaias/servechat/internal/model"
)

// Display is the surface a coordinator renders into.
type Display interface {
	// Placeholder clears the response area and shows provisional text.
	Placeholder(text string)
	// Update re-renders the region for one message identity in place.
	// The first Update for an identity appends a new region.
	Update(id string, msg model.Message)
	// Replace clears the response area and renders msgs as final.
	Replace(msgs []model.Message)
}

// =============================================================================
// REGION TRACKER
// =============================================================================

// Regions remembers what was last rendered per identity and forwards an
// Update only when the message changed.
type Regions struct {
	display Display
	order   []string
	last    map[string]model.Message
}

// NewRegions creates a tracker that forwards to d.
func NewRegions(d Display) *Regions {
	return &Regions{display: d, last: make(map[string]model.Message)}
}

// Render forwards msg for id when it differs from the last render.
// It reports whether the display was updated.
func (r *Regions) Render(id string, msg model.Message) bool {
	prev, seen := r.last[id]
	if !seen {
		r.order = append(r.order, id)
	} else if prev.Equal(msg) {
		return false
	}
	r.last[id] = msg.Clone()
	r.display.Update(id, msg)
	return true
}

// Order returns identities in first-render order.
func (r *Regions) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of rendered regions.
func (r *Regions) Len() int {
	return len(r.order)
}

// =============================================================================
// RECORDER
// =============================================================================

// RenderKind tags a recorded render call.
type RenderKind string

const (
	RenderPlaceholder RenderKind = "placeholder"
	RenderUpdate      RenderKind = "update"
	RenderReplace     RenderKind = "replace"
)

// RenderEvent is one recorded render call.
type RenderEvent struct {
	Kind     RenderKind      `json:"kind"`
	Text     string          `json:"text,omitempty"`
	ID       string          `json:"id,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
}

// Recorder is a Display that records every call. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	events  []RenderEvent
	order   []string
	regions map[string]model.Message
	final   []model.Message
	text    string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{regions: make(map[string]model.Message)}
}

func (r *Recorder) Placeholder(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RenderEvent{Kind: RenderPlaceholder, Text: text})
	r.reset()
	r.text = text
}

func (r *Recorder) Update(id string, msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RenderEvent{Kind: RenderUpdate, ID: id, Messages: []model.Message{msg.Clone()}})
	if _, ok := r.regions[id]; !ok {
		r.order = append(r.order, id)
	}
	r.regions[id] = msg.Clone()
	r.text = ""
}

func (r *Recorder) Replace(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RenderEvent{Kind: RenderReplace, Messages: model.CloneMessages(msgs)})
	r.reset()
	r.final = model.CloneMessages(msgs)
	if r.final == nil {
		r.final = []model.Message{}
	}
}

// reset clears the visible state. Caller holds mu.
func (r *Recorder) reset() {
	r.order = nil
	r.regions = make(map[string]model.Message)
	r.final = nil
	r.text = ""
}

// Events returns a copy of every recorded call.
func (r *Recorder) Events() []RenderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RenderEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Visible returns the messages currently on screen: the replaced set, or
// the live regions in order.
func (r *Recorder) Visible() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final != nil {
		return model.CloneMessages(r.final)
	}
	out := make([]model.Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.regions[id].Clone())
	}
	return out
}

// PlaceholderText returns the provisional text on screen, or "".
func (r *Recorder) PlaceholderText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

// Discard is a Display that renders nothing.
type Discard struct{}

func (Discard) Placeholder(string) {}

func (Discard) Update(string, model.Message) {}

func (Discard) Replace([]model.Message) {}
