// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat is the full-screen chat UI, the default when servechat runs
with no command.

# Key Components

## Model (model.go)

The Model holds one session and the bubbles that draw it:
  - viewport with the rendered transcript, or the compliance report page
  - textarea input (enter sends, alt+enter inserts a newline)
  - spinner while a reply resolves
  - help footer from KeyMap

## Update Loop (update.go)

Keys, slash commands and results of background work. A prompt runs in a
tea.Cmd; the stream display posted by programDisplay turns every render
call into a message, so live regions update in the program loop and the
final responseMsg always arrives after them.

## Slash Commands

The table is shared with the line-oriented chat in internal/cli:
/help, /clear, /report, /chat, /feedback up|down, /export FILE, /copy,
/history and /quit.

# Usage

	cmd, args := cli.Parse()
	if cmd == cli.CmdTUI {
	    if err := chat.Run(args); err != nil {
	        cli.DisplayError(err)
	    }
	}
*/
package chat
