// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the wire messages, fragments and History used by a chat session.
//
// # Key Types
//
//   - Message: wire message exchanged with the serving endpoint (role, content, tool calls)
//   - Delta: partial update for one logical message, folded by the stream reducer
//   - Turn: UserTurn or AssistantTurn, each convertible to wire messages
//   - History: ordered append-only log of turns owned by one session
//
// # Usage
//
// Build the next outbound request from history:
//
//	h := model.NewHistory()
//	h.Append(model.NewUserTurn("Which suppliers are at risk?"))
//	msgs := h.Flatten()
//
// Record a resolved response:
//
//	h.Append(model.NewAssistantTurn(messages, requestID))
package model
