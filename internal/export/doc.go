// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat transcripts to files.
//
// # Key Types
//
//   - Transcript: session history plus export metadata
//   - Exporter: Markdown, HTML and JSON implementations
//   - Options: output directory, metadata, theme
//
// # Supported Formats
//
//   - Markdown: YAML frontmatter, one section per turn and tool call
//   - HTML: standalone page, Markdown rendered with goldmark
//   - JSON: full turn records, suitable for re-import
//
// # Usage
//
//	t := export.NewTranscript(sess.ID(), cfg.Endpoint.Name, sess.History())
//	exp, err := export.ForFormat("md", nil)
//	path, err := export.ExportToFile(t, exp, nil)
package export
