// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions_cmd.go - browse the local session archive.
//
// Examples:
//
//	servechat sessions
//	servechat sessions show 01HV
//	servechat sessions export 01HV --format html --output ./transcripts
//	servechat sessions delete 01HV
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jeranaias/servechat/internal/export"
	"github.com/jeranaias/servechat/internal/storage"
)

// HandleSessionsCommand dispatches the sessions subcommands.
func HandleSessionsCommand(args Args) error {
	app, err := newApp(args, appMode{})
	if err != nil {
		return err
	}
	defer app.Close()

	archive, err := app.requireArchive("sessions")
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch args.Subcommand {
	case "list", "ls":
		return listSessions(ctx, archive, args)
	case "show":
		return showSession(ctx, app, archive, args)
	case "export":
		return exportSession(ctx, app, archive, args)
	case "delete", "rm":
		return deleteSession(ctx, archive, args)
	default:
		return &UsageError{
			Field:   "subcommand",
			Value:   args.Subcommand,
			Reason:  "expected list, show, export or delete",
			Example: "servechat sessions show 01HV",
		}
	}
}

func listSessions(ctx context.Context, archive *storage.Archive, args Args) error {
	sessions, err := archive.ListSessions(ctx, args.Limit)
	if err != nil {
		return err
	}
	if args.JSON {
		if sessions == nil {
			sessions = []storage.SessionMeta{}
		}
		return NewJSONResponse("sessions", sessions).Print()
	}
	fmt.Print(storage.FormatSessionList(sessions))
	return nil
}

func showSession(ctx context.Context, app *App, archive *storage.Archive, args Args) error {
	if args.Target == "" {
		return ErrMissingArgument("session id", "servechat sessions show 01HV")
	}
	id, err := archive.ResolveID(ctx, args.Target)
	if err != nil {
		return err
	}
	history, err := archive.LoadHistory(ctx, id)
	if err != nil {
		return err
	}
	feedback, err := archive.Feedback(ctx, id)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("sessions", map[string]interface{}{
			"id":       id,
			"turns":    history,
			"feedback": feedback,
		}).Print()
	}

	fmt.Println(TitleStyle.Render("Session " + id))
	fmt.Print(app.Renderer(GetTerminalWidth()).History(history))
	if len(feedback) > 0 {
		fmt.Println(SectionStyle.Render("Feedback"))
		for _, f := range feedback {
			fmt.Println(RenderField(f.CreatedAt.Format("2006-01-02 15:04"), fmt.Sprintf("%s  %s", f.Rating, DimStyle.Render(f.RequestID))))
		}
	}
	return nil
}

func exportSession(ctx context.Context, app *App, archive *storage.Archive, args Args) error {
	if args.Target == "" {
		return ErrMissingArgument("session id", "servechat sessions export 01HV --format md")
	}
	format := args.Format
	if format == "" {
		format = "markdown"
	}

	opts := export.DefaultOptions()
	opts.Theme = app.Config.UI.Theme
	if opts.Theme != "light" {
		opts.Theme = "dark"
	}
	if args.Output != "" {
		opts.OutputDir = args.Output
	}
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return ErrUnsupportedFormat(format, []string{"md", "html", "json"})
	}

	id, err := archive.ResolveID(ctx, args.Target)
	if err != nil {
		return err
	}
	history, err := archive.LoadHistory(ctx, id)
	if err != nil {
		return err
	}

	path, err := export.ExportToFile(export.NewTranscript(id, app.Config.Endpoint.Name, history), exporter, opts)
	if err != nil {
		return NewCommandError("sessions", "export", "could not write transcript", err)
	}
	fmt.Fprintln(os.Stderr, SuccessStyle.Render("Exported to ")+path)
	return nil
}

func deleteSession(ctx context.Context, archive *storage.Archive, args Args) error {
	if args.Target == "" {
		return ErrMissingArgument("session id", "servechat sessions delete 01HV")
	}
	id, err := archive.ResolveID(ctx, args.Target)
	if err != nil {
		return err
	}
	if err := archive.ClearSession(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, SuccessStyle.Render("Deleted session ")+id)
	return nil
}
