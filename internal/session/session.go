// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/stream"
)

// Error variables for session operations.
var (
	// ErrClosed indicates the session was closed.
	ErrClosed = errors.New("session closed")

	// ErrBusy indicates another prompt is still resolving.
	ErrBusy = errors.New("a prompt is already in flight")

	// ErrEmptyPrompt indicates a blank prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrFeedbackUnsupported indicates the endpoint serves no feedback model.
	ErrFeedbackUnsupported = errors.New("endpoint does not accept feedback")

	// ErrNoRequestID indicates the targeted turn carries no request id.
	ErrNoRequestID = errors.New("response has no request id")

	// ErrNoAssistantTurn indicates there is nothing to rate.
	ErrNoAssistantTurn = errors.New("no assistant response to rate")
)

// ReportTimeFormat is the layout of the report timestamp.
const ReportTimeFormat = "2006-01-02 15:04:05"

// Page is the view a front-end should show.
type Page string

const (
	PageChat   Page = "chat"
	PageReport Page = "report"
)

// Endpoint is what a session needs from the serving client.
type Endpoint interface {
	stream.Endpoint
	ResolveTaskType(ctx context.Context) (serving.TaskType, error)
	SubmitFeedback(ctx context.Context, requestID string, rating serving.Rating) error
}

// Archive persists turns and feedback. Failures are logged, never fatal.
type Archive interface {
	SaveTurn(ctx context.Context, sessionID string, seq int, turn model.Turn) error
	ClearSession(ctx context.Context, sessionID string) error
	RecordFeedback(ctx context.Context, sessionID, requestID string, rating serving.Rating) error
}

// Options configures a Session.
type Options struct {
	Endpoint Endpoint
	Archive  Archive
	Logger   *slog.Logger

	// SupportsFeedback is resolved once at startup. It also controls
	// whether trace metadata (and so a request id) is requested.
	SupportsFeedback bool

	// DisableStreaming skips the streaming attempt.
	DisableStreaming bool

	// Now overrides the clock (tests).
	Now func() time.Time
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one conversation: its history, current page and report time.
// One prompt may be in flight at a time.
type Session struct {
	mu sync.Mutex

	id         string
	history    *model.History
	page       Page
	reportTime time.Time
	created    time.Time
	activity   time.Time
	closed     bool
	busy       bool
	lastTask   serving.TaskType

	endpoint Endpoint
	coord    *stream.Coordinator
	archive  Archive
	logger   *slog.Logger
	feedback bool
	now      func() time.Time
}

// New starts a session with an empty history.
func New(opts Options) *Session {
	return Resume(opts, uuid.NewString(), nil)
}

// Resume continues an archived session. A nil history starts empty.
func Resume(opts Options, id string, history *model.History) *Session {
	if history == nil {
		history = model.NewHistory()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := now()

	coord := stream.NewCoordinator(opts.Endpoint, logger.With("session", id), opts.SupportsFeedback)
	coord.SkipStream = opts.DisableStreaming

	return &Session{
		id:       id,
		history:  history,
		page:     PageChat,
		created:  t,
		activity: t,
		endpoint: opts.Endpoint,
		coord:    coord,
		archive:  opts.Archive,
		logger:   logger.With("session", id),
		feedback: opts.SupportsFeedback,
		now:      now,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// SupportsFeedback reports whether ratings can be submitted.
func (s *Session) SupportsFeedback() bool {
	return s.feedback
}

// begin marks a prompt in flight.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.activity = s.now()
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Submit sends prompt with the whole conversation and appends the reply.
// The user turn stays in history even when the reply fails; the assistant
// turn is appended only on success.
func (s *Session) Submit(ctx context.Context, prompt string, display stream.Display) (*model.AssistantTurn, error) {
	prompt = norm.NFC.String(strings.TrimSpace(prompt))
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	task, err := s.endpoint.ResolveTaskType(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve task type: %w", err)
	}

	user := model.NewUserTurn(prompt)
	s.mu.Lock()
	s.lastTask = task
	s.history.Append(user)
	seq := s.history.Len()
	input := s.history.Flatten()
	s.mu.Unlock()
	s.persist(ctx, seq, user)

	turn, err := s.coord.Handle(ctx, task, input, display)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.history.Append(turn)
	seq = s.history.Len()
	s.mu.Unlock()
	s.persist(ctx, seq, turn)

	return turn, nil
}

func (s *Session) persist(ctx context.Context, seq int, turn model.Turn) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveTurn(ctx, s.id, seq, turn); err != nil {
		s.logger.Warn("failed to archive turn", "seq", seq, "error", err)
	}
}

// =============================================================================
// FEEDBACK
// =============================================================================

// Feedback rates the most recent assistant turn.
func (s *Session) Feedback(ctx context.Context, rating serving.Rating) error {
	s.mu.Lock()
	last := s.history.LastAssistant()
	s.mu.Unlock()
	if last == nil {
		return ErrNoAssistantTurn
	}
	return s.rate(ctx, last, rating)
}

// FeedbackAt rates the turn at index (0-based, as returned by Turns).
func (s *Session) FeedbackAt(ctx context.Context, index int, rating serving.Rating) error {
	s.mu.Lock()
	turns := s.history.Turns()
	s.mu.Unlock()
	if index < 0 || index >= len(turns) {
		return fmt.Errorf("%w: no turn %d", ErrNoAssistantTurn, index)
	}
	at, ok := turns[index].(*model.AssistantTurn)
	if !ok {
		return fmt.Errorf("%w: turn %d is a user turn", ErrNoAssistantTurn, index)
	}
	return s.rate(ctx, at, rating)
}

func (s *Session) rate(ctx context.Context, turn *model.AssistantTurn, rating serving.Rating) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !s.feedback {
		return ErrFeedbackUnsupported
	}
	if turn.RequestID() == "" {
		return ErrNoRequestID
	}

	if err := s.endpoint.SubmitFeedback(ctx, turn.RequestID(), rating); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.RecordFeedback(ctx, s.id, turn.RequestID(), rating); err != nil {
			s.logger.Warn("failed to archive feedback", "request_id", turn.RequestID(), "error", err)
		}
	}
	return nil
}

// =============================================================================
// HISTORY & PAGES
// =============================================================================

// History returns a snapshot copy of the conversation.
func (s *Session) History() *model.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := model.NewHistory()
	for _, t := range s.history.Turns() {
		h.Append(t)
	}
	return h
}

// Reset clears the conversation and returns to the chat page.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.history.Clear()
	s.page = PageChat
	s.activity = s.now()
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.ClearSession(ctx, s.id); err != nil {
			s.logger.Warn("failed to clear archived turns", "error", err)
		}
	}
	return nil
}

// ShowReport switches to the report page and stamps the report time.
func (s *Session) ShowReport() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = PageReport
	s.reportTime = s.now()
	return s.reportTime
}

// ShowChat switches to the chat page.
func (s *Session) ShowChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = PageChat
}

// Page returns the current page.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// ReportTime returns when the report page was last opened, or now if never.
func (s *Session) ReportTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportTime.IsZero() {
		return s.now()
	}
	return s.reportTime
}

// Close ends the session. Later calls return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status is a point-in-time view of the session.
type Status struct {
	ID               string
	Created          time.Time
	Duration         time.Duration
	IdleTime         time.Duration
	Turns            int
	Page             Page
	Task             serving.TaskType
	Busy             bool
	Closed           bool
	SupportsFeedback bool
}

// GetStatus returns the current session status.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return Status{
		ID:               s.id,
		Created:          s.created,
		Duration:         now.Sub(s.created),
		IdleTime:         now.Sub(s.activity),
		Turns:            s.history.Len(),
		Page:             s.page,
		Task:             s.lastTask,
		Busy:             s.busy,
		Closed:           s.closed,
		SupportsFeedback: s.feedback,
	}
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
