// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/report"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/session"
	"github.com/jeranaias/servechat/internal/storage"
	"github.com/jeranaias/servechat/internal/stream"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds JSON request bodies.
	MaxRequestBodySize = 1 << 20

	// MaxPromptLength bounds a single prompt, in bytes.
	MaxPromptLength = 100_000
)

// ErrTooManySessions is returned when the session cap is reached.
var ErrTooManySessions = errors.New("too many open sessions")

// ============================================================================
// SERVER
// ============================================================================

// SessionFactory starts a session, or resumes an archived one when resume
// is a session id or unique prefix.
type SessionFactory func(ctx context.Context, resume string) (*session.Session, error)

// Options configures a Server.
type Options struct {
	Config     config.ServerConfig
	NewSession SessionFactory
	Logger     *slog.Logger

	// Endpoint and Version are reported by /health.
	Endpoint string
	Version  string
}

// Server exposes chat sessions over a JSON HTTP API.
type Server struct {
	cfg        config.ServerConfig
	newSession SessionFactory
	logger     *slog.Logger
	endpoint   string
	version    string
	started    time.Time

	router  chi.Router
	http    *http.Server
	limiter *RateLimiter

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        opts.Config,
		newSession: opts.NewSession,
		logger:     logger.With("component", "server"),
		endpoint:   opts.Endpoint,
		version:    opts.Version,
		started:    time.Now(),
		sessions:   make(map[string]*session.Session),
		limiter:    NewRateLimiter(opts.Config.RequestsPerMinute),
	}
	s.router = s.routes()
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Recover(s.logger))
	r.Use(SecurityHeaders)
	r.Use(RequestLogger(s.logger))
	r.Use(CORS(s.cfg.AllowedOrigins))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(s.authToken, s.logger))
		r.Use(RateLimit(s.limiter, s.logger))

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleCloseSession)
			r.Post("/messages", s.handleMessage)
			r.Get("/history", s.handleHistory)
			r.Delete("/history", s.handleClearHistory)
			r.Get("/report", s.handleReport)
			r.Post("/feedback", s.handleFeedback)
		})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ============================================================================
// SESSION REGISTRY
// ============================================================================

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
		return nil, false
	}
	return sess, true
}

func (s *Server) register(sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		return ErrTooManySessions
	}
	s.sessions[sess.ID()] = sess
	return nil
}

// authToken returns the token /api requests must carry.
func (s *Server) authToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.AuthToken
}

// Reload applies a changed [server] section. The auth token, rate limit
// and session cap take effect for the next request; addr and
// allowed_origins need a restart.
func (s *Server) Reload(cfg config.ServerConfig) {
	s.mu.Lock()
	old := s.cfg
	s.cfg.AuthToken = cfg.AuthToken
	s.cfg.RequestsPerMinute = cfg.RequestsPerMinute
	s.cfg.MaxSessions = cfg.MaxSessions
	s.mu.Unlock()

	s.limiter.SetPerMinute(cfg.RequestsPerMinute)

	if cfg.Addr != old.Addr || !slices.Equal(cfg.AllowedOrigins, old.AllowedOrigins) {
		s.logger.Warn("server.addr and server.allowed_origins changes need a restart")
	}
	s.logger.Info("server config reloaded",
		"auth", cfg.AuthToken != "",
		"requests_per_minute", cfg.RequestsPerMinute,
		"max_sessions", cfg.MaxSessions)
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ============================================================================
// HANDLERS
// ============================================================================

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Endpoint string `json:"endpoint"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Endpoint: s.endpoint,
		Sessions: s.SessionCount(),
		Uptime:   session.FormatDuration(time.Since(s.started)),
	})
}

// CreateSessionRequest is the optional POST /api/sessions body.
type CreateSessionRequest struct {
	Resume string `json:"resume,omitempty"`
}

// StatusResponse describes one session.
type StatusResponse struct {
	ID               string `json:"id"`
	Turns            int    `json:"turns"`
	Page             string `json:"page"`
	Task             string `json:"task,omitempty"`
	Busy             bool   `json:"busy"`
	SupportsFeedback bool   `json:"supports_feedback"`
	Created          string `json:"created"`
}

func statusResponse(st session.Status) StatusResponse {
	out := StatusResponse{
		ID:               st.ID,
		Turns:            st.Turns,
		Page:             string(st.Page),
		Busy:             st.Busy,
		SupportsFeedback: st.SupportsFeedback,
		Created:          st.Created.UTC().Format(time.RFC3339),
	}
	// the task type is resolved on the first prompt
	if st.Turns > 0 {
		out.Task = st.Task.String()
	}
	return out
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	sess, err := s.newSession(r.Context(), strings.TrimSpace(req.Resume))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if err := s.register(sess); err != nil {
		_ = sess.Close()
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Info("session opened", "session", sess.ID(), "resumed", req.Resume != "")
	writeJSON(w, http.StatusCreated, statusResponse(sess.GetStatus()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(sess.GetStatus()))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
	_ = sess.Close()
	s.logger.Info("session closed", "session", sess.ID())
	w.WriteHeader(http.StatusNoContent)
}

// MessageRequest is the POST /messages body.
type MessageRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream,omitempty"`
}

// MessageResponse is the resolved assistant turn.
type MessageResponse struct {
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id,omitempty"`
	Text      string          `json:"text"`
	Messages  []model.Message `json:"messages"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req MessageRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if len(req.Prompt) > MaxPromptLength {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("prompt exceeds %d bytes", MaxPromptLength))
		return
	}

	if req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamMessage(w, r, sess, req.Prompt)
		return
	}

	turn, err := sess.Submit(r.Context(), req.Prompt, stream.Discard{})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse(sess.ID(), turn))
}

func messageResponse(id string, turn *model.AssistantTurn) MessageResponse {
	msgs := turn.Messages()
	if msgs == nil {
		msgs = []model.Message{}
	}
	return MessageResponse{
		SessionID: id,
		RequestID: turn.RequestID(),
		Text:      turn.Text(),
		Messages:  msgs,
	}
}

// streamMessage relays render calls as server-sent events and ends with a
// "done" or "error" event.
func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request, sess *session.Session, prompt string) {
	es, ok := newEventStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	turn, err := sess.Submit(r.Context(), prompt, es)
	if err != nil {
		status, msg := s.classify(err)
		es.send("error", errorBody{Error: errorDetail{Message: msg, Code: status}})
		return
	}
	es.send("done", messageResponse(sess.ID(), turn))
}

// HistoryResponse is the flattened conversation.
type HistoryResponse struct {
	SessionID string          `json:"session_id"`
	Turns     int             `json:"turns"`
	Messages  []model.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	h := sess.History()
	msgs := h.Flatten()
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: sess.ID(), Turns: h.Len(), Messages: msgs})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	var contentType, ext string
	switch format {
	case "", "json":
		contentType, ext = "application/json", "json"
	case "yaml", "yml":
		contentType, ext = "application/yaml", "yaml"
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported report format %q (use json or yaml)", format))
		return
	}

	generated := sess.ShowReport()
	export := report.Build(report.Extract(sess.History(), s.logger), generated)

	w.Header().Set("Content-Type", contentType)
	if r.URL.Query().Has("download") {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName(generated, ext)))
	}
	w.WriteHeader(http.StatusOK)
	if err := report.Write(w, export, ext); err != nil {
		s.logger.Error("report write failed", "session", sess.ID(), "error", err)
	}
}

// FeedbackRequest rates an assistant turn. Without Index the most recent
// assistant turn is rated.
type FeedbackRequest struct {
	Rating string `json:"rating"`
	Index  *int   `json:"index,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req FeedbackRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	rating, err := serving.ParseRating(req.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Index != nil {
		err = sess.FeedbackAt(r.Context(), *req.Index, rating)
	} else {
		err = sess.Feedback(r.Context(), rating)
	}
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded", "rating": string(rating)})
}

// ============================================================================
// ERRORS
// ============================================================================

// classify maps a session or endpoint error to a status and a message
// safe to show the caller.
func (s *Server) classify(err error) (int, string) {
	var apiErr *serving.APIError
	switch {
	case errors.Is(err, session.ErrEmptyPrompt):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, err.Error()
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone, err.Error()
	case errors.Is(err, session.ErrNoAssistantTurn), errors.Is(err, storage.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, session.ErrFeedbackUnsupported), errors.Is(err, session.ErrNoRequestID):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "serving endpoint timed out"
	case errors.Is(err, serving.ErrRateLimited):
		return http.StatusTooManyRequests, "serving endpoint is rate limiting requests"
	case errors.Is(err, serving.ErrAuthFailed), errors.Is(err, serving.ErrEndpointNotFound),
		errors.Is(err, serving.ErrUnexpectedResponse), errors.As(err, &apiErr):
		return http.StatusBadGateway, "serving endpoint error: " + err.Error()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return http.StatusBadGateway, "serving endpoint unreachable"
	}
	// SECURITY: unknown errors are logged in full, not echoed.
	s.logger.Error("request failed", "error", err)
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	status, msg := s.classify(err)
	writeError(w, status, msg)
}

type errorDetail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Code: status}})
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodySize))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WriteTimeout stays unset: streamed replies run as long as the endpoint does.
		IdleTimeout: 120 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("server listening", "addr", ln.Addr().String(), "endpoint", s.endpoint, "auth", s.authToken() != "")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every open session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	sessions := s.sessions
	s.sessions = make(map[string]*session.Session)
	s.mu.Unlock()

	s.logger.Info("server shutting down", "sessions", len(sessions))
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, sess := range sessions {
		_ = sess.Close()
	}
	return err
}
