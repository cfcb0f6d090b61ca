// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/serving"
)

// =============================================================================
// STREAM MESSAGES
// =============================================================================

// placeholderMsg shows provisional text in the response area.
type placeholderMsg struct{ text string }

// regionMsg creates or updates one live message region.
type regionMsg struct {
	id  string
	msg model.Message
}

// replaceMsg swaps the live regions for a final set of messages.
type replaceMsg struct{ msgs []model.Message }

// responseMsg ends a prompt.
type responseMsg struct {
	turn *model.AssistantTurn
	err  error
}

// =============================================================================
// ACTION RESULTS
// =============================================================================

type feedbackMsg struct {
	rating serving.Rating
	err    error
}

type resetMsg struct{ err error }

type exportMsg struct {
	path string
	err  error
}

type copyMsg struct{ err error }

// =============================================================================
// PROGRAM DISPLAY
// =============================================================================

// programDisplay is the stream.Display of the UI: every render call is
// posted to the program as a message, so the model stays single-threaded.
type programDisplay struct {
	send func(tea.Msg)
}

func (d programDisplay) Placeholder(text string) { d.send(placeholderMsg{text: text}) }

func (d programDisplay) Update(id string, msg model.Message) {
	d.send(regionMsg{id: id, msg: msg.Clone()})
}

func (d programDisplay) Replace(msgs []model.Message) {
	d.send(replaceMsg{msgs: model.CloneMessages(msgs)})
}

// programRef lets the model send to a program that is created after it.
type programRef struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *programRef) set(p *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = p
}

func (r *programRef) Send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}
