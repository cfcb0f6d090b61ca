// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/servechat/internal/cli"
)

// Run opens the full-screen chat and blocks until the user quits.
func Run(args cli.Args) error {
	app, err := cli.NewApp(args, true)
	if err != nil {
		return err
	}
	defer app.Close()

	sess, err := app.NewSession(context.Background(), args.Session)
	if err != nil {
		return err
	}
	defer sess.Close()

	ref := &programRef{}
	m := New(Options{
		Session:     sess,
		Endpoint:    app.Client.Name(),
		Logger:      app.Logger,
		NewRenderer: app.Renderer,
		Export: func(path string) (string, error) {
			return app.ExportTranscript(sess, path)
		},
		Send: ref.Send,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	ref.set(p)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat ui: %w", err)
	}
	return nil
}
