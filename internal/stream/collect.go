// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"fmt"
	"strings"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/serving"
)

// collector accumulates the fragments of one wire format.
type collector interface {
	// add folds one decoded fragment and re-renders what changed.
	add(frag serving.Fragment, regions *Regions)
	// messages returns the final messages in first-appearance order.
	messages() []model.Message
	// partial returns accumulated text for failure logs.
	partial() string
	// count returns the number of messages accumulated so far.
	count() int
}

func newCollector(task serving.TaskType) collector {
	switch task {
	case serving.AgentChat:
		return &agentCollector{buffers: make(map[string]*Reducer)}
	case serving.Responses:
		return &responsesCollector{byID: make(map[string]int)}
	default:
		return &plainCollector{}
	}
}

// =============================================================================
// PLAIN CHAT
// =============================================================================

// plainIdentity is the single implicit identity of plain chat.
const plainIdentity = "assistant"

type plainCollector struct {
	content strings.Builder
}

func (p *plainCollector) add(frag serving.Fragment, regions *Regions) {
	chunk, ok := frag.(*serving.ChatCompletionChunk)
	if !ok {
		return
	}
	delta := chunk.Content()
	if delta == "" {
		return
	}
	p.content.WriteString(delta)
	regions.Render(plainIdentity, model.NewAssistantMessage(p.content.String()))
}

func (p *plainCollector) messages() []model.Message {
	return []model.Message{model.NewAssistantMessage(p.content.String())}
}

func (p *plainCollector) partial() string { return p.content.String() }

func (p *plainCollector) count() int {
	if p.content.Len() == 0 {
		return 0
	}
	return 1
}

// =============================================================================
// TOOL-AUGMENTED AGENT CHAT
// =============================================================================

type agentCollector struct {
	order   []string
	buffers map[string]*Reducer
}

func (a *agentCollector) add(frag serving.Fragment, regions *Regions) {
	chunk, ok := frag.(*serving.ChatAgentChunk)
	if !ok {
		return
	}
	id := chunk.Delta.ID
	r, seen := a.buffers[id]
	if !seen {
		r = &Reducer{}
		a.buffers[id] = r
		a.order = append(a.order, id)
	}
	r.Add(chunk.Delta)
	regions.Render(id, r.Message())
}

func (a *agentCollector) messages() []model.Message {
	out := make([]model.Message, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.buffers[id].Message())
	}
	return out
}

func (a *agentCollector) partial() string {
	var parts []string
	for _, id := range a.order {
		if c := a.buffers[id].Message().Content; c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n")
}

func (a *agentCollector) count() int { return len(a.order) }

// =============================================================================
// RESPONSES
// =============================================================================

// responseEntry is one output item: a live text preview until the item's
// done event arrives, then the complete message (or nothing).
type responseEntry struct {
	id      string
	preview strings.Builder
	done    bool
	msg     model.Message
	keep    bool
}

type responsesCollector struct {
	entries []*responseEntry
	byID    map[string]int
	anon    int
}

func (rc *responsesCollector) entry(id string) *responseEntry {
	if idx, ok := rc.byID[id]; ok {
		return rc.entries[idx]
	}
	e := &responseEntry{id: id}
	rc.byID[id] = len(rc.entries)
	rc.entries = append(rc.entries, e)
	return e
}

// doneEntry finds the entry a done item completes. A message item with
// no identity completes the latest open preview, if any.
func (rc *responsesCollector) doneEntry(it serving.ResponseItem) *responseEntry {
	if id := it.Identity(); id != "" {
		return rc.entry(id)
	}
	if it.Type == serving.ItemTypeMessage {
		for i := len(rc.entries) - 1; i >= 0; i-- {
			if e := rc.entries[i]; !e.done && e.preview.Len() > 0 {
				return e
			}
		}
	}
	rc.anon++
	return rc.entry(fmt.Sprintf("item-%d", rc.anon))
}

func (rc *responsesCollector) add(frag serving.Fragment, regions *Regions) {
	ev, ok := frag.(*serving.ResponsesEvent)
	if !ok {
		return
	}

	switch ev.Type {
	case serving.EventOutputTextDelta:
		if ev.Delta == "" {
			return
		}
		e := rc.entry(ev.ItemID)
		if e.done {
			return
		}
		e.preview.WriteString(ev.Delta)
		regions.Render(e.id, model.NewAssistantMessage(e.preview.String()))

	case serving.EventOutputItemDone:
		if ev.Item == nil {
			return
		}
		e := rc.doneEntry(*ev.Item)
		e.done = true
		e.msg, e.keep = serving.ItemMessage(*ev.Item)
		if e.keep {
			regions.Render(e.id, e.msg)
		}
	}
}

func (rc *responsesCollector) messages() []model.Message {
	out := make([]model.Message, 0, len(rc.entries))
	for _, e := range rc.entries {
		switch {
		case e.done && e.keep:
			out = append(out, e.msg.Clone())
		case !e.done && e.preview.Len() > 0:
			out = append(out, model.NewAssistantMessage(e.preview.String()))
		}
	}
	return out
}

func (rc *responsesCollector) partial() string {
	var parts []string
	for _, m := range rc.messages() {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func (rc *responsesCollector) count() int { return len(rc.messages()) }
