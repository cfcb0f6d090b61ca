// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve_cmd.go - HTTP API over chat sessions.
//
// Examples:
//
//	servechat serve
//	servechat serve --addr 0.0.0.0:9000
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/server"
	"github.com/jeranaias/servechat/internal/session"
)

// shutdownTimeout bounds the wait for in-flight requests on exit.
const shutdownTimeout = 15 * time.Second

// HandleServeCommand runs the HTTP API until SIGINT or SIGTERM.
func HandleServeCommand(args Args) error {
	app, err := newApp(args, appMode{endpoint: true})
	if err != nil {
		return err
	}
	defer app.Close()

	addr := app.Config.Server.Addr
	if args.Addr != "" {
		addr = args.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Feedback support is probed once, not per session.
	feedback := app.FeedbackEnabled(ctx)
	factory := func(ctx context.Context, resume string) (*session.Session, error) {
		return app.openSession(ctx, resume, feedback)
	}

	srv := server.New(server.Options{
		Config:     app.Config.Server,
		NewSession: factory,
		Logger:     app.Logger,
		Endpoint:   app.Client.Name(),
		Version:    Version,
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(addr) }()

	// [server] edits apply without a restart.
	if w, err := config.NewWatcher(args.ConfigPath, app.Logger); err != nil {
		app.Logger.Warn("config reload disabled", "error", err)
	} else {
		go w.Run(ctx, func(cfg *config.Config) { srv.Reload(cfg.Server) })
	}

	if !args.Quiet {
		fmt.Fprintf(os.Stderr, "%s %s (endpoint %s, feedback %v)\n",
			SuccessStyle.Render("Serving on"), "http://"+addr, app.Client.Name(), feedback)
		if app.Config.Server.AuthToken == "" {
			fmt.Fprintln(os.Stderr, WarningStyle.Render("No [server] auth_token set: /api is unauthenticated."))
		}
	}

	select {
	case err := <-errc:
		if err != nil {
			return NewCommandError("serve", "listen", "server stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return NewCommandError("serve", "shutdown", "graceful shutdown failed", err)
	}
	return <-errc
}
