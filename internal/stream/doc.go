// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns streamed endpoint fragments into assistant turns.
//
// A Coordinator pulls fragments from the endpoint, groups them by message
// identity, folds each group with a Reducer and re-renders only the regions
// that changed. Any failure before the stream ends cleanly (transport error,
// undecodable payload, in-band error event, cancellation) is recovered by
// exactly one non-streaming call whose result replaces everything rendered
// so far. No partial turn is ever returned.
//
// # Key Types
//
//   - Reducer / Reduce: fold deltas of one logical message
//   - Coordinator: stream, render, fall back
//   - Display: Placeholder, Update(id, msg), Replace(msgs)
//   - Regions: identity -> last-rendered message, forwards on change
//   - Recorder: Display that records calls (tests, HTTP API)
//   - FallbackError: stream and retry both failed
//
// # Usage
//
//	coord := stream.NewCoordinator(client, logger, supportsFeedback)
//	turn, err := coord.Handle(ctx, task, history.Flatten(), display)
//	if err != nil {
//	    return err // nothing to append
//	}
//	history.Append(turn)
package stream
