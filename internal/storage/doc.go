// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives chat sessions in a local SQLite database.
//
// Every turn is written as it is appended to a session, so an interrupted
// run can be resumed. Feedback ratings are kept alongside the turns.
//
// # Key Types
//
//   - Archive: SQLite-backed store (pure Go driver, WAL journal)
//   - SessionMeta: lightweight metadata for listing
//   - FeedbackRecord: one archived rating
//
// # Usage
//
//	archive, err := storage.Open(cfg.Storage.Path)
//	if err != nil {
//	    return err
//	}
//	defer archive.Close()
//
//	metas, err := archive.ListSessions(ctx, 20)
//	history, err := archive.LoadHistory(ctx, metas[0].ID)
//
// # Storage Location
//
// The database lives at ~/.servechat/history.db unless storage.path is set.
package storage
