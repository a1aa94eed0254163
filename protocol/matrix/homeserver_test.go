// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeHomeserver implements the handful of client-server endpoints
// the dialer uses. Sync responses are scripted through syncs.
type fakeHomeserver struct {
	server            *httptest.Server
	registrationToken string
	versions          []string

	mu        sync.Mutex
	accounts  map[string]*fakeAccount // by access token
	devices   int
	syncSince []string
	joins     []string
	sent      []fakeSent
	logouts   int

	syncs chan fakeReply
}

type fakeAccount struct {
	userID   string
	deviceID string
}

type fakeSent struct {
	room, txn, body string
}

type fakeReply struct {
	status int
	body   any
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	h := &fakeHomeserver{
		registrationToken: "let-me-in",
		versions:          []string{"r0.6.1", "v1.2", "v1.11", "v1.9"},
		accounts:          make(map[string]*fakeAccount),
		syncs:             make(chan fakeReply, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_matrix/client/versions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"versions": h.versions})
	})
	mux.HandleFunc("POST /_matrix/client/v3/register", h.handleRegister)
	mux.HandleFunc("GET /_matrix/client/v3/account/whoami", h.authenticated(func(w http.ResponseWriter, r *http.Request, account *fakeAccount) {
		writeJSON(w, http.StatusOK, map[string]any{"user_id": account.userID, "device_id": account.deviceID})
	}))
	mux.HandleFunc("GET /_matrix/client/v3/sync", h.authenticated(h.handleSync))
	mux.HandleFunc("POST /_matrix/client/v3/join/{room}", h.authenticated(func(w http.ResponseWriter, r *http.Request, account *fakeAccount) {
		h.mu.Lock()
		h.joins = append(h.joins, r.PathValue("room"))
		h.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"room_id": r.PathValue("room")})
	}))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{room}/send/m.room.message/{txn}", h.authenticated(func(w http.ResponseWriter, r *http.Request, account *fakeAccount) {
		var content MessageContent
		if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
			writeJSON(w, http.StatusBadRequest, Error{Code: "M_NOT_JSON", Message: err.Error()})
			return
		}
		h.mu.Lock()
		h.sent = append(h.sent, fakeSent{room: r.PathValue("room"), txn: r.PathValue("txn"), body: content.Body})
		id := fmt.Sprintf("$event%d", len(h.sent))
		h.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"event_id": id})
	}))
	mux.HandleFunc("POST /_matrix/client/v3/logout", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		h.mu.Lock()
		delete(h.accounts, token)
		h.logouts++
		h.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

// addAccount registers an account directly and returns its token.
func (h *fakeHomeserver) addAccount(userID, deviceID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	token := "syt_" + strings.TrimPrefix(strings.Split(userID, ":")[0], "@")
	h.accounts[token] = &fakeAccount{userID: userID, deviceID: deviceID}
	return token
}

func (h *fakeHomeserver) handleRegister(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Auth     *struct {
			Type    string `json:"type"`
			Token   string `json:"token"`
			Session string `json:"session"`
		} `json:"auth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, Error{Code: "M_NOT_JSON", Message: err.Error()})
		return
	}
	if request.Auth == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"session": "uiaa-session",
			"flows":   []any{map[string]any{"stages": []string{"m.login.registration_token"}}},
		})
		return
	}
	if request.Auth.Session != "uiaa-session" || request.Auth.Token != h.registrationToken {
		writeJSON(w, http.StatusUnauthorized, Error{Code: ErrCodeForbidden, Message: "invalid registration token"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	userID := "@" + request.Username + ":" + h.server.Listener.Addr().String()
	for _, account := range h.accounts {
		if account.userID == userID {
			writeJSON(w, http.StatusBadRequest, Error{Code: ErrCodeUserInUse, Message: "taken"})
			return
		}
	}
	h.devices++
	device := fmt.Sprintf("DEVICE%d", h.devices)
	token := "syt_" + request.Username
	h.accounts[token] = &fakeAccount{userID: userID, deviceID: device}
	writeJSON(w, http.StatusOK, AuthResponse{UserID: userID, AccessToken: token, DeviceID: device})
}

func (h *fakeHomeserver) handleSync(w http.ResponseWriter, r *http.Request, account *fakeAccount) {
	h.mu.Lock()
	h.syncSince = append(h.syncSince, r.URL.Query().Get("since"))
	h.mu.Unlock()
	select {
	case reply := <-h.syncs:
		writeJSON(w, reply.status, reply.body)
	case <-r.Context().Done():
	}
}

func (h *fakeHomeserver) authenticated(handler func(http.ResponseWriter, *http.Request, *fakeAccount)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		h.mu.Lock()
		account := h.accounts[token]
		h.mu.Unlock()
		if account == nil {
			writeJSON(w, http.StatusUnauthorized, Error{Code: ErrCodeUnknownToken, Message: "unknown token"})
			return
		}
		handler(w, r, account)
	}
}

// sync scripts the next /sync response.
func (h *fakeHomeserver) sync(status int, body any) {
	h.syncs <- fakeReply{status: status, body: body}
}

func (h *fakeHomeserver) snapshot() (joins []string, sent []fakeSent, logouts int, since []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.joins...), append([]fakeSent(nil), h.sent...), h.logouts, append([]string(nil), h.syncSince...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
