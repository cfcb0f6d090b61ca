// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the state of one conversation.
//
// A Session is created when a front-end starts, cleared on reset and closed
// at exit. It owns the History, the current page (chat or report) and the
// report timestamp, and it is the only writer of its History.
//
// # Key Types
//
//   - Session: conversation state plus Submit / Feedback / Reset
//   - Endpoint: serving client surface a session drives
//   - Archive: optional persistence of turns and feedback
//   - Status: point-in-time summary for status lines
//
// # Usage
//
//	sess := session.New(session.Options{
//	    Endpoint:         client,
//	    Archive:          archive,
//	    Logger:           logger,
//	    SupportsFeedback: ok,
//	})
//	defer sess.Close()
//
//	turn, err := sess.Submit(ctx, "Which suppliers are at risk?", display)
//	if err == nil {
//	    err = sess.Feedback(ctx, serving.RatingPositive)
//	}
//
// # Concurrency
//
// Submit rejects overlapping calls with ErrBusy. Other methods are safe
// for concurrent use.
package session
