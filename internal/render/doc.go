// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns chat messages into terminal output.
//
// Finished assistant text goes through glamour, tool-call arguments are
// pretty-printed and highlighted with chroma, and long tool output is cut
// with a character-count caption. Structured data blocks are never shown.
//
// # Key Types
//
//   - Renderer: message to string conversion for final and live output
//   - TerminalDisplay: stream.Display that redraws the response in place
//   - PlainDisplay: stream.Display for pipes, writes final output only
//
// # Usage
//
//	r := render.New(render.OptionsFrom(cfg.UI, width))
//	display := render.NewTerminalDisplay(os.Stdout, r)
//	err := coordinator.Run(ctx, history, display)
package render
