// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses the servechat command line and runs every command
// except the full-screen UI, which lives in internal/ui/chat and reuses
// App from here.
//
// # Key Types
//
//   - Command: the subcommand selected by ParseArgs
//   - Args: global and command-specific flags
//   - App: configuration, logger, endpoint client and session archive
//   - JSONResponse: the --json envelope
//
// # Usage
//
//	cmd, args := cli.Parse()
//	if cmd == cli.CmdTUI {
//	    return chat.Run(args)
//	}
//	os.Exit(cli.Run(cmd, args))
//
// # Commands
//
//   - chat: line-oriented REPL with in-place streaming and slash commands
//   - ask: one prompt, reply to stdout (--json for scripts)
//   - report: compliance report for an archived session
//   - sessions: list, show, export and delete archived sessions
//   - serve: HTTP API over chat sessions
//   - config: show, init and path
//
// Errors map to exit codes through GetExitCode so scripts can tell a
// configuration problem from an endpoint failure.
package cli
