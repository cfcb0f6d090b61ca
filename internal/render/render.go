// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/report"
	"github.com/jeranaias/servechat/internal/util"
)

// StructuredCaption is shown under a message whose structured data block
// was hidden.
const StructuredCaption = "Compliance data captured for reporting"

const (
	// DefaultWidth is used when no wrap width is configured.
	DefaultWidth = 80
	// DefaultMaxToolOutput caps displayed tool output, in runes.
	DefaultMaxToolOutput = 1000
	// maxToolLines caps displayed tool output, in lines.
	maxToolLines = 20
)

// =============================================================================
// RENDERER
// =============================================================================

// Options configures a Renderer.
type Options struct {
	Markdown      bool
	Highlight     bool
	Width         int
	Theme         string // "auto", "dark" or "light"
	MaxToolOutput int
}

// OptionsFrom maps the [ui] config section to render options.
func OptionsFrom(cfg config.UIConfig, termWidth int) Options {
	width := cfg.WordWrap
	if width <= 0 {
		width = termWidth
	}
	return Options{
		Markdown:  cfg.Markdown,
		Highlight: cfg.Highlight,
		Width:     width,
		Theme:     cfg.Theme,
	}
}

// Renderer turns wire messages into terminal text. Safe for concurrent use.
type Renderer struct {
	opts Options

	mu sync.Mutex
	md *glamour.TermRenderer
}

// New creates a Renderer. Markdown falls back to plain text when glamour
// cannot be initialized.
func New(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.MaxToolOutput <= 0 {
		opts.MaxToolOutput = DefaultMaxToolOutput
	}

	r := &Renderer{opts: opts}
	if opts.Markdown {
		style := glamour.WithAutoStyle()
		if opts.Theme == "dark" || opts.Theme == "light" {
			style = glamour.WithStandardStyle(opts.Theme)
		}
		md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(opts.Width))
		if err == nil {
			r.md = md
		}
	}
	return r
}

// Width returns the wrap width.
func (r *Renderer) Width() int {
	return r.opts.Width
}

// Message renders a finished message: markdown content, highlighted tool
// calls and truncated tool output.
func (r *Renderer) Message(msg model.Message) string {
	return r.message(msg, true)
}

// Live renders an in-progress message. Content is wrapped but not run
// through markdown since it is re-rendered on every fragment.
func (r *Renderer) Live(msg model.Message) string {
	return r.message(msg, false)
}

// Messages renders a finished response.
func (r *Renderer) Messages(msgs []model.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if s := r.Message(m); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// History renders a whole conversation with role labels.
func (r *Renderer) History(h *model.History) string {
	var sb strings.Builder
	for i, turn := range h.Turns() {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch t := turn.(type) {
		case *model.UserTurn:
			sb.WriteString(r.User(t.Content()) + "\n")
		case *model.AssistantTurn:
			sb.WriteString(AssistantLabelStyle.Render("Assistant") + "\n")
			sb.WriteString(r.Messages(t.Messages()))
		}
	}
	return sb.String()
}

// Placeholder renders provisional text such as the thinking notice.
func (r *Renderer) Placeholder(text string) string {
	return PlaceholderStyle.Render(strings.Trim(text, "_*"))
}

// User renders a user prompt with its label.
func (r *Renderer) User(content string) string {
	return UserLabelStyle.Render("You") + "\n" + softWrap(content, r.opts.Width)
}

func (r *Renderer) message(msg model.Message, final bool) string {
	if msg.Role == model.RoleTool {
		return r.toolOutput(msg)
	}

	var sb strings.Builder
	if msg.Content != "" {
		text, structured := report.StripStructuredData(msg.Content)
		if text != "" {
			if final {
				sb.WriteString(r.markdown(text))
			} else {
				sb.WriteString(softWrap(text, r.opts.Width))
				sb.WriteString("\n")
			}
		}
		if structured {
			sb.WriteString(CaptionStyle.Render(StructuredCaption))
			sb.WriteString("\n")
		}
	}
	for _, call := range msg.ToolCalls {
		sb.WriteString(r.toolCall(call))
	}
	return sb.String()
}

func (r *Renderer) markdown(text string) string {
	if r.md == nil {
		return softWrap(text, r.opts.Width) + "\n"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out, err := r.md.Render(text)
	if err != nil {
		return softWrap(text, r.opts.Width) + "\n"
	}
	return out
}

func (r *Renderer) toolCall(call model.ToolCall) string {
	args := prettyJSON(call.Function.Arguments)
	if r.opts.Highlight && args != "" {
		style := "monokai"
		if r.opts.Theme == "light" {
			style = "github"
		}
		args = highlight(args, "json", style)
	}

	header := ToolLabelStyle.Render("Calling "+call.Function.Name) + DimStyle.Render(" ("+call.ID+")")
	if strings.TrimSpace(args) == "" {
		return header + "\n"
	}
	return header + "\n" + ToolBoxStyle.Render(strings.TrimRight(args, "\n")) + "\n"
}

func (r *Renderer) toolOutput(msg model.Message) string {
	header := ToolLabelStyle.Render("Tool response")
	if msg.ToolCallID != "" {
		header += DimStyle.Render(" (" + msg.ToolCallID + ")")
	}

	body, truncated := TruncateToolOutput(msg.Content, r.opts.MaxToolOutput)
	var sb strings.Builder
	sb.WriteString(header + "\n")
	if body != "" {
		sb.WriteString(ToolBoxStyle.Render(softWrap(body, r.opts.Width-4)) + "\n")
	}
	if truncated {
		sb.WriteString(CaptionStyle.Render(fmt.Sprintf("%s characters, output truncated",
			humanize.Comma(int64(utf8.RuneCountInString(msg.Content))))) + "\n")
	}
	return sb.String()
}

// TruncateToolOutput shortens tool output to maxRunes runes and a fixed
// number of lines. It reports whether anything was cut.
func TruncateToolOutput(s string, maxRunes int) (string, bool) {
	s = strings.TrimRight(s, "\n")
	truncated := false

	lines := strings.Split(s, "\n")
	if len(lines) > maxToolLines {
		s = strings.Join(lines[:maxToolLines], "\n")
		truncated = true
	}
	if utf8.RuneCountInString(s) > maxRunes {
		s = util.TruncateRunes(s, maxRunes)
		truncated = true
	}
	return s, truncated
}

// softWrap wraps on word boundaries, then hard-wraps words longer than width.
func softWrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	return wrap.String(wordwrap.String(text, width), width)
}
