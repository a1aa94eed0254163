// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package api serves the HTTP control surface of a session manager.
//
// Routes:
//
//	POST   /v1/sessions/{name}           connect (or reconnect) a session
//	GET    /v1/sessions                  list sessions with their status
//	GET    /v1/sessions/{name}           one session's status
//	DELETE /v1/sessions/{name}           detach: log out and forget
//	POST   /v1/sessions/{name}/messages  send {"chat","body"}
//	GET    /v1/sessions/{name}/qr.png    the pending pairing code as a PNG
//	GET    /health                       liveness
//
// Responses are JSON; errors carry {"error": "..."}. The API has no
// authentication and is meant to listen on loopback.
package api
