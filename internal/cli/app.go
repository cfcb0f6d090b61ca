// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/export"
	"github.com/jeranaias/servechat/internal/logging"
	"github.com/jeranaias/servechat/internal/render"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/session"
	"github.com/jeranaias/servechat/internal/storage"
)

// feedbackProbeTimeout bounds the startup endpoint probe.
const feedbackProbeTimeout = 10 * time.Second

// App holds what every command builds from the configuration: the
// logger, the endpoint client and the optional session archive.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Client  *serving.Client
	Archive *storage.Archive // nil when storage is disabled or unavailable

	closers []func() error
}

// appMode selects how an App is assembled.
type appMode struct {
	// endpoint requires a valid endpoint configuration
	endpoint bool
	// interactive sends logs to a file so the terminal stays clean
	interactive bool
}

// NewApp loads configuration for args and wires the shared components.
// It is exported for the full-screen UI, which lives in another package.
func NewApp(args Args, interactive bool) (*App, error) {
	return newApp(args, appMode{endpoint: true, interactive: interactive})
}

func newApp(args Args, mode appMode) (*App, error) {
	cfg, err := loadConfig(args, mode.endpoint)
	if err != nil {
		return nil, err
	}

	if mode.interactive && cfg.Log.File == "" {
		if dir, err := config.Dir(); err == nil {
			cfg.Log.File = filepath.Join(dir, "servechat.log")
		}
	}
	logger, closeLog, err := logging.Open(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		closers: []func() error{closeLog},
	}
	if cfg.Endpoint.Name != "" {
		a.Client = serving.New(cfg.Endpoint).WithLogger(logger)
	}

	if cfg.Storage.Enabled {
		archive, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			// RELIABILITY: Chat keeps working without an archive.
			logger.Warn("session archive unavailable", "path", cfg.Storage.Path, "error", err)
		} else {
			a.Archive = archive.WithEndpoint(cfg.Endpoint.Name)
			a.closers = append(a.closers, archive.Close)
		}
	}
	return a, nil
}

// loadConfig reads the config file and applies command-line overrides
// before validation, so --endpoint can stand in for a missing name.
func loadConfig(args Args, validate bool) (*config.Config, error) {
	cfg, err := config.Read(args.ConfigPath)
	if err != nil {
		return nil, err
	}
	if args.Endpoint != "" {
		cfg.Endpoint.Name = args.Endpoint
	}
	if args.NoStream {
		cfg.Chat.Stream = false
	}
	switch {
	case args.Verbose:
		cfg.Log.Level = "debug"
	case args.Quiet:
		cfg.Log.Level = "error"
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

// Close releases the archive and the log file.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Renderer builds a terminal renderer from the [ui] section.
func (a *App) Renderer(width int) *render.Renderer {
	return render.New(render.OptionsFrom(a.Config.UI, width))
}

// FeedbackEnabled resolves the [chat] feedback mode. In auto mode the
// endpoint is probed once; a failed probe disables feedback.
func (a *App) FeedbackEnabled(ctx context.Context) bool {
	switch strings.ToLower(a.Config.Chat.Feedback) {
	case "on":
		return true
	case "off":
		return false
	}
	if a.Client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, feedbackProbeTimeout)
	defer cancel()
	ok, err := a.Client.SupportsFeedback(ctx)
	if err != nil {
		a.Logger.Warn("feedback probe failed, feedback disabled", "endpoint", a.Client.Name(), "error", err)
		return false
	}
	return ok
}

// NewSession starts a session, or resumes an archived one when resume is
// a session id or unique prefix.
func (a *App) NewSession(ctx context.Context, resume string) (*session.Session, error) {
	return a.openSession(ctx, resume, a.FeedbackEnabled(ctx))
}

// openSession is NewSession with the feedback mode already resolved.
func (a *App) openSession(ctx context.Context, resume string, feedback bool) (*session.Session, error) {
	opts := session.Options{
		Endpoint:         a.Client,
		Logger:           a.Logger,
		SupportsFeedback: feedback,
		DisableStreaming: !a.Config.Chat.Stream,
	}
	if a.Archive != nil {
		opts.Archive = a.Archive
	}

	if resume == "" {
		return session.New(opts), nil
	}
	if a.Archive == nil {
		return nil, fmt.Errorf("cannot resume %s: session storage is disabled", resume)
	}
	id, err := a.Archive.ResolveID(ctx, resume)
	if err != nil {
		return nil, err
	}
	history, err := a.Archive.LoadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Resume(opts, id, history), nil
}

// requireArchive returns the archive or an error naming the command.
func (a *App) requireArchive(command string) (*storage.Archive, error) {
	if a.Archive == nil {
		return nil, NewCommandError(command, "open", "session storage is disabled or unavailable",
			fmt.Errorf("set [storage] enabled = true"))
	}
	return a.Archive, nil
}

// ExportTranscript writes the session transcript to path, choosing the
// format from its extension. An empty path writes a dated markdown file
// to the export directory. It returns the file written.
func (a *App) ExportTranscript(sess *session.Session, path string) (string, error) {
	transcript := export.NewTranscript(sess.ID(), a.Client.Name(), sess.History())

	opts := export.DefaultOptions()
	if a.Config.UI.Theme == "light" {
		opts.Theme = "light"
	}

	if path == "" {
		exp, err := export.ForFormat("markdown", opts)
		if err != nil {
			return "", err
		}
		return export.ExportToFile(transcript, exp, opts)
	}

	exp, err := export.ForFormat(export.FormatFromPath(path), opts)
	if err != nil {
		return "", err
	}
	if err := export.ExportToPath(transcript, exp, path); err != nil {
		return "", err
	}
	return path, nil
}
