// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/serving"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// clock returns a deterministic, strictly increasing clock.
func clock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func assistant(text, requestID string) *model.AssistantTurn {
	return model.NewAssistantTurn([]model.Message{
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Type: "function", Function: model.FunctionCall{Name: "search", Arguments: `{"q":"acme"}`}}}},
		model.NewToolMessage("c1", "found"),
		model.NewAssistantMessage(text),
	}, requestID)
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestArchive_SaveAndLoadHistory(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)

	h := model.NewHistory()
	h.Append(model.NewUserTurn("Which suppliers are at risk?"))
	h.Append(assistant("Acme is at risk.", "req-1"))
	for i, turn := range h.Turns() {
		require.NoError(t, a.SaveTurn(ctx, "s1", i, turn))
	}

	loaded, err := a.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, h.Flatten(), loaded.Flatten())
	require.NotNil(t, loaded.LastAssistant())
	assert.Equal(t, "req-1", loaded.LastAssistant().RequestID())
}

func TestArchive_SaveTurnReplacesSameSeq(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)

	require.NoError(t, a.SaveTurn(ctx, "s1", 0, model.NewUserTurn("first")))
	require.NoError(t, a.SaveTurn(ctx, "s1", 0, model.NewUserTurn("second")))

	loaded, err := a.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	assert.Equal(t, "second", loaded.Flatten()[0].Content)
}

func TestArchive_LoadMissingSession(t *testing.T) {
	_, err := openTestArchive(t).LoadHistory(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestArchive_FilePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	a, err := Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer a.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	assert.Equal(t, filepath.Join(dir, "history.db"), a.Path())
}

// =============================================================================
// LISTING
// =============================================================================

func TestArchive_ListSessions(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t).WithEndpoint("agent-ep")
	a.now = clock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, a.SaveTurn(ctx, "older", 0, model.NewUserTurn("  first\nquestion  ")))
	require.NoError(t, a.SaveTurn(ctx, "newer", 0, model.NewUserTurn("second question")))
	require.NoError(t, a.SaveTurn(ctx, "newer", 1, assistant("answer", "r")))

	metas, err := a.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 2)

	assert.Equal(t, "newer", metas[0].ID)
	assert.Equal(t, 2, metas[0].TurnCount)
	assert.Equal(t, "agent-ep", metas[0].Endpoint)
	assert.Equal(t, "first question", metas[1].Title, "whitespace collapsed")

	limited, err := a.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestArchive_TitleFromFirstUserTurnOnly(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)

	require.NoError(t, a.SaveTurn(ctx, "s1", 0, model.NewUserTurn("original title")))
	require.NoError(t, a.SaveTurn(ctx, "s1", 1, assistant("reply", "")))
	require.NoError(t, a.SaveTurn(ctx, "s1", 2, model.NewUserTurn("follow up")))

	metas, err := a.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "original title", metas[0].Title)
}

func TestArchive_ResolveID(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)
	for _, id := range []string{"abc123", "abd456", "x_y"} {
		require.NoError(t, a.SaveTurn(ctx, id, 0, model.NewUserTurn("q")))
	}

	id, err := a.ResolveID(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	_, err = a.ResolveID(ctx, "ab")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = a.ResolveID(ctx, "x%")
	assert.True(t, errors.Is(err, ErrSessionNotFound), "wildcards are literal")

	_, err = a.ResolveID(ctx, "")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

// =============================================================================
// CLEAR / FEEDBACK
// =============================================================================

func TestArchive_ClearSessionRemovesTurnsAndFeedback(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)

	require.NoError(t, a.SaveTurn(ctx, "s1", 0, model.NewUserTurn("q")))
	require.NoError(t, a.RecordFeedback(ctx, "s1", "req-1", serving.RatingPositive))
	require.NoError(t, a.SaveTurn(ctx, "s2", 0, model.NewUserTurn("keep")))

	require.NoError(t, a.ClearSession(ctx, "s1"))

	_, err := a.LoadHistory(ctx, "s1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	fb, err := a.Feedback(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, fb)

	metas, err := a.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "s2", metas[0].ID)
}

func TestArchive_RecordFeedback(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)
	a.now = clock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, a.RecordFeedback(ctx, "s1", "req-1", serving.RatingPositive))
	require.NoError(t, a.RecordFeedback(ctx, "s1", "req-2", serving.RatingNegative))

	fb, err := a.Feedback(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, fb, 2)
	assert.Equal(t, "req-1", fb[0].RequestID)
	assert.Equal(t, serving.RatingPositive, fb[0].Rating)
	assert.Equal(t, serving.RatingNegative, fb[1].Rating)
	assert.NotEmpty(t, fb[0].ID)
}

func TestFormatSessionList(t *testing.T) {
	assert.Equal(t, "No sessions found.", FormatSessionList(nil))

	out := FormatSessionList([]SessionMeta{{
		ID:        "0123456789abcdef",
		Title:     "Which suppliers are at risk?",
		UpdatedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		TurnCount: 4,
	}})
	assert.Contains(t, out, "0123456789ab ")
	assert.NotContains(t, out, "0123456789abc")
	assert.Contains(t, out, "2025-03-01 09:30")
	assert.Contains(t, out, "Which suppliers are at risk?")
}
