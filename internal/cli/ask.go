// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - one-shot prompt command.
//
// Examples:
//
//	servechat ask "Which suppliers are at risk?"
//	servechat ask -f notes.txt "Summarize these notes"
//	echo "prompt" | servechat ask -
//	servechat ask --json "List open actions"
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jeranaias/servechat/internal/render"
	"github.com/jeranaias/servechat/internal/stream"
)

// MaxFileSize is the largest file ask will attach (50KB).
const MaxFileSize = 50 * 1024

// readFileForContext reads a file and frames it for inclusion in a prompt.
func readFileForContext(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d bytes)", info.Size(), MaxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n--- File: %s ---\n", path)
	b.Write(content)
	b.WriteString("\n--- End of file ---\n")
	return b.String(), nil
}

// buildPrompt assembles the prompt from the query, an attached file and stdin.
func buildPrompt(args Args, stdin io.Reader, stdinIsTTY bool) (string, error) {
	query := strings.TrimSpace(args.Query)

	if query == "-" || (query == "" && !stdinIsTTY && stdin != nil) {
		data, err := io.ReadAll(io.LimitReader(stdin, MaxFileSize+1))
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if len(data) > MaxFileSize {
			return "", fmt.Errorf("stdin too large (max %d bytes)", MaxFileSize)
		}
		query = strings.TrimSpace(string(data))
	}

	if args.File != "" {
		attached, err := readFileForContext(args.File)
		if err != nil {
			return "", err
		}
		query += attached
	}

	if strings.TrimSpace(query) == "" {
		return "", ErrMissingArgument("prompt", `servechat ask "Which suppliers are at risk?"`)
	}
	return query, nil
}

// HandleAskCommand sends one prompt and prints the reply.
func HandleAskCommand(args Args) error {
	prompt, err := buildPrompt(args, os.Stdin, IsTTY())
	if err != nil {
		return err
	}

	app, err := newApp(args, appMode{endpoint: true})
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := app.NewSession(ctx, "")
	if err != nil {
		return err
	}
	defer sess.Close()

	var display stream.Display = stream.Discard{}
	if !args.JSON {
		r := app.Renderer(GetTerminalWidth())
		if IsStdoutTTY() {
			display = render.NewTerminalDisplay(os.Stdout, r)
		} else {
			display = render.NewPlainDisplay(os.Stdout, r)
		}
	}

	start := time.Now()
	turn, err := sess.Submit(ctx, prompt, display)
	if err != nil {
		return err
	}

	if !args.JSON {
		return nil
	}
	return NewJSONResponse("ask", AskData{
		Endpoint:  app.Client.Name(),
		Task:      sess.GetStatus().Task.String(),
		SessionID: sess.ID(),
		RequestID: turn.RequestID(),
		Text:      turn.Text(),
		Messages:  turn.Messages(),
		Duration:  time.Since(start).Round(time.Millisecond).String(),
	}).Print()
}
