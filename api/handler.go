// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/switchboard/credstore"
	"github.com/bureau-foundation/switchboard/protocol"
	"github.com/bureau-foundation/switchboard/session"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// Sessions is the part of *session.Manager the handlers use.
type Sessions interface {
	Connect(ctx context.Context, name string) (*session.Connection, error)
	Status(name string) (session.Status, bool)
	Statuses() []session.Status
	Send(ctx context.Context, name string, message protocol.OutgoingMessage) (string, error)
	Detach(ctx context.Context, name string) error
}

// Images serves pairing images. *pairing.FileSink implements it.
type Images interface {
	Open(name string) (io.ReadCloser, error)
}

// SessionResponse is a session's status plus, while pairing is
// pending and images are served, where to fetch the code.
type SessionResponse struct {
	session.Status
	QRURL string `json:"qr_url,omitempty"`
}

// ListResponse is returned by GET /v1/sessions.
type ListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// SendRequest is the body of POST /v1/sessions/{name}/messages.
type SendRequest struct {
	Chat string `json:"chat"`
	Body string `json:"body"`
}

// SendResponse carries the protocol's ID for a sent message.
type SendResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler implements the control API routes.
type Handler struct {
	sessions Sessions
	images   Images
	logger   *slog.Logger
}

// NewHandler creates a Handler. images may be nil, in which case no
// QR URLs are advertised and qr.png always returns 404.
func NewHandler(sessions Sessions, images Images, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, images: images, logger: logger}
}

// Routes returns a mux with every route registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /v1/sessions", h.HandleList)
	mux.HandleFunc("POST /v1/sessions/{name}", h.HandleConnect)
	mux.HandleFunc("GET /v1/sessions/{name}", h.HandleStatus)
	mux.HandleFunc("DELETE /v1/sessions/{name}", h.HandleDetach)
	mux.HandleFunc("POST /v1/sessions/{name}/messages", h.HandleSend)
	mux.HandleFunc("GET /v1/sessions/{name}/qr.png", h.HandleQR)
	return mux
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleList returns every registered session.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	statuses := h.sessions.Statuses()
	response := ListResponse{Sessions: make([]SessionResponse, 0, len(statuses))}
	for _, status := range statuses {
		response.Sessions = append(response.Sessions, h.sessionResponse(status))
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleConnect registers and connects a session. Connecting a name
// that is already live is a no-op that reports its status.
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := h.sessions.Connect(r.Context(), name); err != nil {
		switch {
		case errors.Is(err, credstore.ErrInvalidName):
			h.sendError(w, http.StatusBadRequest, "%v", err)
		case errors.Is(err, session.ErrClosed):
			h.sendError(w, http.StatusServiceUnavailable, "%v", err)
		case errors.Is(err, session.ErrDetached):
			h.sendError(w, http.StatusConflict, "%v", err)
		default:
			h.logger.Warn("connect failed", "session", name, "error", err)
			h.sendError(w, http.StatusBadGateway, "connecting %s: %v", name, err)
		}
		return
	}
	status, ok := h.sessions.Status(name)
	if !ok {
		// Detached between Connect and here.
		h.sendError(w, http.StatusNotFound, "unknown session: %s", name)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessionResponse(status))
}

// HandleStatus returns one session's status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	status, ok := h.sessions.Status(name)
	if !ok {
		h.sendError(w, http.StatusNotFound, "unknown session: %s", name)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessionResponse(status))
}

// HandleDetach logs a session out and forgets it. The detach runs to
// completion even if the client goes away mid-request.
func (h *Handler) HandleDetach(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.sessions.Detach(context.WithoutCancel(r.Context()), name)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		h.sendError(w, http.StatusNotFound, "unknown session: %s", name)
		return
	case err != nil:
		// The session is gone either way; report what went wrong.
		h.logger.Warn("detach finished with errors", "session", name, "error", err)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "detached", "name": name, "error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "detached", "name": name})
}

// HandleSend sends a text message through a session.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var request SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&request); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if request.Chat == "" {
		h.sendError(w, http.StatusBadRequest, "chat is required")
		return
	}

	id, err := h.sessions.Send(r.Context(), name, protocol.OutgoingMessage{Chat: request.Chat, Body: request.Body})
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		h.sendError(w, http.StatusNotFound, "unknown session: %s", name)
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrDetached):
		h.sendError(w, http.StatusConflict, "%v", err)
	case err != nil:
		h.logger.Warn("send failed", "session", name, "error", err)
		h.sendError(w, http.StatusBadGateway, "sending through %s: %v", name, err)
	default:
		h.writeJSON(w, http.StatusOK, SendResponse{ID: id})
	}
}

// HandleQR serves the pending pairing code image.
func (h *Handler) HandleQR(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if h.images == nil {
		h.sendError(w, http.StatusNotFound, "no pairing code for %s", name)
		return
	}
	image, err := h.images.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		h.sendError(w, http.StatusNotFound, "no pairing code for %s", name)
		return
	}
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "reading pairing code: %v", err)
		return
	}
	defer image.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, image); err != nil {
		h.logger.Warn("writing pairing image", "session", name, "error", err)
	}
}

func (h *Handler) sessionResponse(status session.Status) SessionResponse {
	response := SessionResponse{Status: status}
	if status.PairingPending && h.images != nil {
		response.QRURL = fmt.Sprintf("/v1/sessions/%s/qr.png", status.Name)
	}
	return response
}

func (h *Handler) sendError(w http.ResponseWriter, status int, format string, args ...any) {
	h.writeJSON(w, status, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

// writeJSON encodes value as JSON into w. If encoding fails (typically
// because the client disconnected) the error is only logged.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.logger.Warn("writing JSON response", "error", err, "status", status)
	}
}
