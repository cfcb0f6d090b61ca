// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes chat sessions over a JSON HTTP API, so other
// front-ends can drive the same serving endpoint.
//
// # Endpoints
//
//   - GET    /health                          - liveness and open session count
//   - POST   /api/sessions                    - start (or {"resume": id} resume) a session
//   - GET    /api/sessions/{id}               - session status
//   - DELETE /api/sessions/{id}               - close a session
//   - POST   /api/sessions/{id}/messages      - submit a prompt; {"stream": true} for SSE
//   - GET    /api/sessions/{id}/history       - flattened conversation
//   - DELETE /api/sessions/{id}/history       - clear the conversation
//   - GET    /api/sessions/{id}/report        - compliance report (?format=json|yaml)
//   - POST   /api/sessions/{id}/feedback      - rate a response
//
// # Middleware
//
//   - Request ids and panic recovery
//   - Security headers and optional CORS
//   - Bearer token auth on /api when [server] auth_token is set
//   - Per-client rate limiting
//
// # Usage
//
//	srv := server.New(server.Options{
//		Config:     cfg.Server,
//		NewSession: app.NewSession,
//		Logger:     logger,
//	})
//	go srv.Start(cfg.Server.Addr)
//	defer srv.Shutdown(ctx)
package server
