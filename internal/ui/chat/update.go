// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/servechat/internal/cli"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/session"
)

// actionTimeout bounds feedback and reset calls.
const actionTimeout = 30 * time.Second

// =============================================================================
// UPDATE
// =============================================================================

// Update handles a message and returns the new model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.state != StateStreaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case placeholderMsg:
		m.placeholder = msg.text
		m.refresh()
		return m, nil

	case regionMsg:
		m.placeholder = ""
		m.setRegion(msg.id, msg.msg)
		m.refresh()
		return m, nil

	case replaceMsg:
		m.placeholder = ""
		m.regions = nil
		m.final = msg.msgs
		m.refresh()
		return m, nil

	case responseMsg:
		return m.handleResponse(msg)

	case feedbackMsg:
		if msg.err != nil {
			m.setStatus("Feedback failed: "+msg.err.Error(), true)
		} else {
			m.setStatus(fmt.Sprintf("Feedback recorded (%s). Thanks!", msg.rating), false)
		}
		return m, nil

	case resetMsg:
		if msg.err != nil {
			m.setStatus("Could not start a new chat: "+msg.err.Error(), true)
			return m, nil
		}
		m.setStatus("New conversation.", false)
		m.rebuild()
		return m, nil

	case exportMsg:
		if msg.err != nil {
			m.setStatus("Export failed: "+msg.err.Error(), true)
		} else {
			m.setStatus("Exported to "+msg.path, false)
		}
		return m, nil

	case copyMsg:
		if msg.err != nil {
			m.setStatus("Copy failed: "+msg.err.Error(), true)
		} else {
			m.setStatus("Copied last response.", false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleResponse ends the reply in flight.
func (m Model) handleResponse(msg responseMsg) (tea.Model, tea.Cmd) {
	m.state = StateReady
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.clearLive()

	switch {
	case msg.err == nil:
		m.setStatus("", false)
	case errors.Is(msg.err, context.Canceled):
		m.setStatus("Cancelled.", true)
	default:
		m.setStatus("Error: "+msg.err.Error(), true)
	}
	m.rebuild()
	return m, nil
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.state == StateStreaming && m.cancel != nil {
			m.cancel()
			m.cancel = nil
			return m, nil
		}
		if m.help.ShowAll {
			m.help.ShowAll = false
			m.layout()
		}
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Report):
		m.togglePage()
		return m, nil

	case key.Matches(msg, m.keys.NewChat):
		return m, m.resetCmd()

	case key.Matches(msg, m.keys.RateUp):
		return m, m.feedbackCmd(serving.RatingPositive)

	case key.Matches(msg, m.keys.RateDown):
		return m, m.feedbackCmd(serving.RatingNegative)

	case key.Matches(msg, m.keys.Copy):
		return m, m.copyCmd()

	case key.Matches(msg, m.keys.Newline):
		m.input.InsertString("\n")
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.handleSubmit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}
	if strings.HasPrefix(line, "/") {
		m.input.Reset()
		return m.handleSlash(cli.ParseSlash(line))
	}
	if m.state == StateStreaming {
		m.setStatus("Wait for the current reply, or press esc to cancel it.", true)
		return m, nil
	}
	m.input.Reset()
	return m.submit(line)
}

// togglePage flips between the chat and report pages.
func (m *Model) togglePage() {
	if m.session.Page() == session.PageReport {
		m.session.ShowChat()
	} else {
		m.session.ShowReport()
	}
	m.viewport.GotoTop()
	m.refresh()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (m Model) handleSlash(cmd cli.SlashCommand) (tea.Model, tea.Cmd) {
	switch cmd.Name {
	case "/help":
		m.help.ShowAll = true
		m.layout()
		names := make([]string, 0, len(cli.SlashCommands))
		for _, c := range cli.SlashCommands {
			names = append(names, c.Name)
		}
		m.setStatus("Commands: "+strings.Join(names, " "), false)
		m.refresh()
		return m, nil

	case "/clear":
		return m, m.resetCmd()

	case "/report":
		if m.session.Page() != session.PageReport {
			m.togglePage()
		}
		return m, nil

	case "/chat", "/history":
		if m.session.Page() == session.PageReport {
			m.togglePage()
		}
		return m, nil

	case "/feedback":
		if len(cmd.Args) != 1 {
			m.setStatus("Usage: /feedback up|down", true)
			return m, nil
		}
		rating, err := serving.ParseRating(cmd.Args[0])
		if err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		return m, m.feedbackCmd(rating)

	case "/export":
		var path string
		if len(cmd.Args) > 0 {
			path = cmd.Args[0]
		}
		return m, m.exportCmd(path)

	case "/copy":
		return m, m.copyCmd()

	case "/quit":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	}

	m.setStatus("Unknown command "+cmd.Name+" (try /help)", true)
	return m, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// submit starts a reply. The coordinator runs inside the returned command;
// its display posts stream output to the program ahead of the final
// responseMsg.
func (m Model) submit(prompt string) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = StateStreaming
	m.clearLive()
	m.pending = prompt
	m.setStatus("", false)
	if m.session.Page() == session.PageReport {
		m.session.ShowChat()
	}
	m.refresh()

	sess := m.session
	display := programDisplay{send: m.send}
	run := func() tea.Msg {
		defer cancel()
		turn, err := sess.Submit(ctx, prompt, display)
		return responseMsg{turn: turn, err: err}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

func (m Model) feedbackCmd(rating serving.Rating) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return feedbackMsg{rating: rating, err: sess.Feedback(ctx, rating)}
	}
}

func (m Model) resetCmd() tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return resetMsg{err: sess.Reset(ctx)}
	}
}

func (m Model) exportCmd(path string) tea.Cmd {
	export := m.export
	if export == nil {
		return func() tea.Msg {
			return exportMsg{err: errors.New("export is not available")}
		}
	}
	return func() tea.Msg {
		out, err := export(path)
		return exportMsg{path: out, err: err}
	}
}

func (m Model) copyCmd() tea.Cmd {
	last := m.session.History().LastAssistant()
	return func() tea.Msg {
		if last == nil {
			return copyMsg{err: session.ErrNoAssistantTurn}
		}
		return copyMsg{err: clipboard.WriteAll(last.Text())}
	}
}
