// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/render"
	"github.com/jeranaias/servechat/internal/report"
	"github.com/jeranaias/servechat/internal/session"
)

// =============================================================================
// CHAT STATE
// =============================================================================

// State is what the chat screen is doing.
type State int

const (
	StateReady     State = iota // waiting for input
	StateStreaming              // a reply is resolving
)

// liveRegion is one in-progress message of the current reply.
type liveRegion struct {
	id  string
	msg model.Message
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Options configures a Model.
type Options struct {
	Session  *session.Session
	Endpoint string
	Logger   *slog.Logger

	// NewRenderer builds a renderer for a terminal width. It is called
	// again on every resize.
	NewRenderer func(width int) *render.Renderer

	// Export writes the transcript; an empty path picks a dated file.
	Export func(path string) (string, error)

	// Send posts a message to the running program. Stream output of a
	// reply arrives through it.
	Send func(tea.Msg)
}

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	state State

	session     *session.Session
	endpoint    string
	logger      *slog.Logger
	newRenderer func(int) *render.Renderer
	renderer    *render.Renderer
	renderWidth int
	export      func(string) (string, error)
	send        func(tea.Msg)

	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	// transcript is the rendered history as of the last finished reply.
	transcript string
	// pending is the prompt of the reply in flight.
	pending     string
	placeholder string
	regions     []liveRegion
	final       []model.Message

	cancel    context.CancelFunc
	status    string
	statusErr bool
}

// New creates the chat model.
func New(opts Options) Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newRenderer := opts.NewRenderer
	if newRenderer == nil {
		newRenderer = func(width int) *render.Renderer {
			return render.New(render.Options{Width: width})
		}
	}
	send := opts.Send
	if send == nil {
		send = func(tea.Msg) {}
	}

	ta := textarea.New()
	ta.Placeholder = "Ask about suppliers, risks or compliance actions..."
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = render.PlaceholderStyle

	m := Model{
		state:       StateReady,
		session:     opts.Session,
		endpoint:    opts.Endpoint,
		logger:      logger,
		newRenderer: newRenderer,
		renderer:    newRenderer(render.DefaultWidth),
		export:      opts.Export,
		send:        send,
		keys:        DefaultKeyMap(),
		help:        help.New(),
		viewport:    viewport.New(render.DefaultWidth, 10),
		input:       ta,
		spinner:     sp,
	}
	m.transcript = m.renderer.History(m.session.History())
	m.refresh()
	return m
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// State returns the current state.
func (m Model) State() State {
	return m.state
}

// Status returns the one-line status message, if any.
func (m Model) Status() string {
	return m.status
}

// =============================================================================
// CONTENT
// =============================================================================

// content renders what the viewport shows: the report page, or the
// transcript followed by the reply in flight.
func (m Model) content() string {
	if m.session.Page() == session.PageReport {
		rep := report.Extract(m.session.History(), m.logger)
		return m.renderer.Report(rep, m.session.ReportTime())
	}

	var sb strings.Builder
	sb.WriteString(m.transcript)
	if m.state != StateStreaming {
		if m.transcript == "" {
			sb.WriteString(render.DimStyle.Render("No messages yet. Type a question and press enter."))
		}
		return sb.String()
	}

	if m.transcript != "" {
		sb.WriteString("\n")
	}
	sb.WriteString(m.renderer.User(m.pending) + "\n\n")
	sb.WriteString(render.AssistantLabelStyle.Render("Assistant") + "\n")
	switch {
	case m.final != nil:
		sb.WriteString(m.renderer.Messages(m.final))
	case len(m.regions) > 0:
		parts := make([]string, 0, len(m.regions))
		for _, r := range m.regions {
			if s := m.renderer.Live(r.msg); s != "" {
				parts = append(parts, s)
			}
		}
		sb.WriteString(strings.Join(parts, "\n"))
	case m.placeholder != "":
		sb.WriteString(m.renderer.Placeholder(m.placeholder))
	}
	return sb.String()
}

// refresh re-renders the viewport, following the bottom when the user
// has not scrolled away.
func (m *Model) refresh() {
	follow := m.viewport.AtBottom() || m.state == StateStreaming
	m.viewport.SetContent(m.content())
	if follow {
		m.viewport.GotoBottom()
	}
}

// rebuild re-renders the stored transcript from the session.
func (m *Model) rebuild() {
	m.transcript = m.renderer.History(m.session.History())
	m.refresh()
}

// setRegion creates or updates a live region, keeping arrival order.
func (m *Model) setRegion(id string, msg model.Message) {
	for i := range m.regions {
		if m.regions[i].id == id {
			m.regions[i].msg = msg
			return
		}
	}
	m.regions = append(m.regions, liveRegion{id: id, msg: msg})
}

func (m *Model) clearLive() {
	m.pending = ""
	m.placeholder = ""
	m.regions = nil
	m.final = nil
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = strings.ReplaceAll(text, "\n", " ")
	m.statusErr = isErr
}

// =============================================================================
// LAYOUT
// =============================================================================

const (
	headerHeight = 1
	statusHeight = 1
)

// layout sizes the viewport to what is left after the fixed rows.
func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	m.input.SetWidth(m.width)
	m.help.Width = m.width

	helpHeight := strings.Count(m.help.View(m.keys), "\n") + 1
	vh := m.height - headerHeight - statusHeight - m.input.Height() - helpHeight
	if vh < 1 {
		vh = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = vh
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.ready = true
	if m.renderWidth != msg.Width {
		m.renderWidth = msg.Width
		m.renderer = m.newRenderer(msg.Width)
		m.transcript = m.renderer.History(m.session.History())
	}
	m.layout()
	m.refresh()
	return m, nil
}
