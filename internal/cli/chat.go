// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - line-oriented interactive chat.
//
// Responses stream into the terminal and are redrawn in place as each
// message grows; the finished response is re-rendered as markdown.
//
// Interactive Commands:
//
//	/help, /h            Show available commands
//	/clear, /c           Start a new conversation
//	/report, /r          Show the compliance report
//	/chat                Leave the report view
//	/feedback up|down    Rate the last response
//	/export FILE         Save the transcript
//	/copy                Copy the last response to the clipboard
//	/history             Show the conversation so far
//	/quit, /q            Exit
//	Ctrl+C               Cancel the current response
//	Ctrl+D               Exit
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/peterh/liner"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/render"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/session"
	"github.com/jeranaias/servechat/internal/stream"
	"github.com/jeranaias/servechat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with history loaded from the config dir.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}

	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads one line with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history (0600) and restores the terminal.
func (c *ChatCLI) Close() {
	if f, err := util.OpenPrivate(c.historyFile, os.O_WRONLY|os.O_TRUNC); err == nil {
		c.line.WriteHistory(f)
		f.Close()
	}
	c.line.Close()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// SlashCommands lists every chat command with its help text, in help order.
// The full-screen UI shares the table.
var SlashCommands = []struct {
	Name, Args, Help string
}{
	{"/help", "", "Show available commands"},
	{"/clear", "", "Start a new conversation"},
	{"/report", "", "Show the compliance report"},
	{"/chat", "", "Leave the report view"},
	{"/feedback", "up|down", "Rate the last response"},
	{"/export", "FILE", "Save the transcript (.md, .html or .json)"},
	{"/copy", "", "Copy the last response to the clipboard"},
	{"/history", "", "Show the conversation so far"},
	{"/quit", "", "Exit"},
}

func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range SlashCommands {
		if strings.HasPrefix(c.Name, line) {
			out = append(out, c.Name)
		}
	}
	return out
}

// SlashCommand is a parsed "/name args" line.
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlash splits a slash command and resolves short aliases.
func ParseSlash(input string) SlashCommand {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 {
		return SlashCommand{}
	}
	name := strings.ToLower(fields[0])
	switch name {
	case "/h", "/?":
		name = "/help"
	case "/c", "/new":
		name = "/clear"
	case "/r":
		name = "/report"
	case "/q", "/exit":
		name = "/quit"
	case "/fb":
		name = "/feedback"
	}
	return SlashCommand{Name: name, Args: fields[1:]}
}

// =============================================================================
// CHAT LOOP
// =============================================================================

// chatREPL is the state of one interactive chat.
type chatREPL struct {
	app      *App
	session  *session.Session
	renderer *render.Renderer
	out      io.Writer
	tty      bool
	quiet    bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// HandleChatCommand runs the interactive chat.
func HandleChatCommand(args Args) error {
	app, err := newApp(args, appMode{endpoint: true, interactive: true})
	if err != nil {
		return err
	}
	defer app.Close()

	sess, err := app.NewSession(context.Background(), args.Session)
	if err != nil {
		return err
	}
	defer sess.Close()

	repl := &chatREPL{
		app:      app,
		session:  sess,
		renderer: app.Renderer(GetTerminalWidth()),
		out:      os.Stdout,
		tty:      IsStdoutTTY(),
		quiet:    args.Quiet,
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C while a response is resolving cancels it; at the prompt
	// liner reports ErrPromptAborted instead.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			repl.cancelCurrent()
		}
	}()

	if !repl.quiet {
		repl.printWelcome()
	}
	if h := sess.History(); h.Len() > 0 {
		fmt.Fprint(repl.out, repl.renderer.History(h))
	}

	for {
		line, err := input.ReadInput(PromptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin
			fmt.Fprintln(repl.out)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		if strings.HasPrefix(line, "/") {
			quit, err := repl.handleSlash(ParseSlash(line))
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := repl.submit(line); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

func (r *chatREPL) printWelcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("servechat"))
	status := r.session.GetStatus()
	fmt.Fprintln(r.out, RenderField("Endpoint", r.app.Client.Name()))
	fmt.Fprintln(r.out, RenderField("Session", status.ID))
	if status.SupportsFeedback {
		fmt.Fprintln(r.out, RenderField("Feedback", "enabled (/feedback up|down)"))
	}
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(r.out)
}

// submit sends one prompt, rendering into the terminal.
func (r *chatREPL) submit(prompt string) error {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	if r.session.Page() == session.PageReport {
		r.session.ShowChat()
	}

	var display stream.Display
	if r.tty {
		display = render.NewTerminalDisplay(r.out, r.renderer)
	} else {
		display = render.NewPlainDisplay(r.out, r.renderer)
	}

	fmt.Fprintln(r.out, render.AssistantLabelStyle.Render("Assistant"))
	_, err := r.session.Submit(ctx, prompt, display)
	fmt.Fprintln(r.out)
	if errors.Is(err, context.Canceled) {
		return errors.New("cancelled")
	}
	return err
}

func (r *chatREPL) cancelCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// handleSlash runs one slash command. It reports whether to exit.
func (r *chatREPL) handleSlash(cmd SlashCommand) (bool, error) {
	ctx := context.Background()

	switch cmd.Name {
	case "/help":
		r.printHelp()

	case "/clear":
		if err := r.session.Reset(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Conversation cleared."))

	case "/report":
		generated := r.session.ShowReport()
		printReport(r.out, r.app, r.session.History(), generated)
		fmt.Fprintln(r.out, DimStyle.Render("Type /chat or ask another question to continue."))

	case "/chat":
		r.session.ShowChat()

	case "/feedback":
		if len(cmd.Args) != 1 {
			return false, ErrMissingArgument("rating", "/feedback up")
		}
		rating, err := serving.ParseRating(cmd.Args[0])
		if err != nil {
			return false, err
		}
		if err := r.session.Feedback(ctx, rating); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Thanks for the feedback."))

	case "/export":
		var target string
		if len(cmd.Args) > 0 {
			target = cmd.Args[0]
		}
		path, err := r.app.ExportTranscript(r.session, target)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Exported to ")+path)

	case "/copy":
		last := r.session.History().LastAssistant()
		if last == nil {
			return false, session.ErrNoAssistantTurn
		}
		if err := clipboard.WriteAll(last.Text()); err != nil {
			return false, fmt.Errorf("clipboard: %w", err)
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Copied last response."))

	case "/history":
		h := r.session.History()
		if h.Len() == 0 {
			fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
			break
		}
		fmt.Fprint(r.out, r.renderer.History(h))

	case "/quit":
		return true, nil

	default:
		return false, &UsageError{Field: "command", Value: cmd.Name, Reason: "unknown command", Example: "/help"}
	}
	return false, nil
}

func (r *chatREPL) printHelp() {
	fmt.Fprintln(r.out, SectionStyle.Render("Commands"))
	for _, c := range SlashCommands {
		name := c.Name
		if c.Args != "" {
			name += " " + c.Args
		}
		fmt.Fprintln(r.out, RenderField("  "+name, c.Help))
	}
}
