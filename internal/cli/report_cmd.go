// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// report_cmd.go - compliance report for an archived session.
//
// Examples:
//
//	servechat report
//	servechat report --session 01HV --format yaml
//	servechat report --format json --output ./reports
package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/report"
	"github.com/jeranaias/servechat/internal/storage"
	"github.com/jeranaias/servechat/internal/util"
)

// reportFormats lists the machine-readable report formats.
var reportFormats = []string{"json", "yaml"}

// HandleReportCommand prints or saves the report for one session.
func HandleReportCommand(args Args) error {
	format := args.Format
	if args.JSON && format == "" {
		format = "json"
	}
	if format == "yml" {
		format = "yaml"
	}
	if format != "" && format != "json" && format != "yaml" {
		return ErrUnsupportedFormat(format, reportFormats)
	}

	app, err := newApp(args, appMode{})
	if err != nil {
		return err
	}
	defer app.Close()

	archive, err := app.requireArchive("report")
	if err != nil {
		return err
	}

	ctx := context.Background()
	id, err := resolveSession(ctx, archive, args.Session)
	if err != nil {
		return err
	}
	history, err := archive.LoadHistory(ctx, id)
	if err != nil {
		return err
	}

	generated := time.Now()
	rep := report.Extract(history, app.Logger)

	if args.Output != "" {
		if format == "" {
			format = "json"
		}
		path, err := writeReportFile(rep, generated, format, args.Output)
		if err != nil {
			return NewCommandError("report", "save", "could not write report", err)
		}
		fmt.Fprintln(os.Stderr, SuccessStyle.Render("Report saved to ")+path)
		return nil
	}

	if format != "" {
		return report.Write(os.Stdout, report.Build(rep, generated), format)
	}
	fmt.Print(app.Renderer(GetTerminalWidth()).Report(rep, generated))
	return nil
}

// resolveSession expands an id prefix, or picks the most recent session
// when prefix is empty.
func resolveSession(ctx context.Context, archive *storage.Archive, prefix string) (string, error) {
	if prefix != "" {
		return archive.ResolveID(ctx, prefix)
	}
	recent, err := archive.ListSessions(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(recent) == 0 {
		return "", fmt.Errorf("%w: the archive is empty", storage.ErrSessionNotFound)
	}
	return recent[0].ID, nil
}

// writeReportFile writes the report to output. A directory (existing, or
// named with a trailing separator) receives a dated file name.
func writeReportFile(rep report.Report, generated time.Time, format, output string) (string, error) {
	var buf bytes.Buffer
	if err := report.Write(&buf, report.Build(rep, generated), format); err != nil {
		return "", err
	}

	path := output
	if info, err := os.Stat(output); (err == nil && info.IsDir()) || os.IsPathSeparator(output[len(output)-1]) {
		path = filepath.Join(output, report.FileName(generated, format))
	}
	// SECURITY: reports may name suppliers under investigation, owner-only permissions
	if err := util.WritePrivateFile(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// printReport renders the report for an in-memory history.
func printReport(w io.Writer, app *App, history *model.History, generated time.Time) {
	rep := report.Extract(history, app.Logger)
	fmt.Fprint(w, app.Renderer(GetTerminalWidth()).Report(rep, generated))
}
