// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/protocol"
)

// Backoff bounds for transient failures inside a Conn.
const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Conn is one running /sync loop for a Matrix account.
type Conn struct {
	dialer  *Dialer
	session *Session
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan protocol.Event
	done   chan struct{}

	closeOnce sync.Once

	// Owned by the run goroutine.
	credentials protocol.Credentials
	fresh       bool

	// Fixed at dial.
	pairingCode string
}

func newConn(dialer *Dialer, session *Session, credentials protocol.Credentials, fresh bool, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	var pairingCode string
	if credentials.Get(KeyLinked) != "true" {
		pairingCode = PairingLink(session.UserID())
	}
	return &Conn{
		dialer:      dialer,
		session:     session,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan protocol.Event),
		done:        make(chan struct{}),
		credentials: credentials,
		fresh:       fresh,
		pairingCode: pairingCode,
	}
}

// PendingPairingCode implements protocol.Pairer: the account's
// pairing link when it was not yet linked at dial, "" otherwise.
func (c *Conn) PendingPairingCode() string {
	return c.pairingCode
}

// Events implements protocol.Conn.
func (c *Conn) Events() <-chan protocol.Event {
	return c.events
}

// Send posts message as an m.text event to the room named by
// message.Chat.
func (c *Conn) Send(ctx context.Context, message protocol.OutgoingMessage) (string, error) {
	return c.session.SendMessage(ctx, message.Chat, message.Body)
}

// Logout invalidates the account's access token.
func (c *Conn) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// Close stops the sync loop and waits for it to exit.
func (c *Conn) Close() error {
	c.closeOnce.Do(c.cancel)
	<-c.done
	return nil
}

func (c *Conn) run() {
	defer close(c.done)
	defer close(c.events)

	if c.fresh && !c.emit(protocol.CredentialsUpdate{Credentials: c.credentials.Clone()}) {
		return
	}
	linked := c.pairingCode == ""
	if !linked {
		pairing := protocol.ConnectionUpdate{
			State:       protocol.StateConnecting,
			PairingCode: c.pairingCode,
		}
		if !c.emit(pairing) {
			return
		}
	}

	if err := c.verifyIdentity(); err != nil {
		c.fail(err)
		return
	}

	since := c.credentials.Get(KeyNextBatch)
	initial := since == ""
	opened := false
	for {
		timeout := c.dialer.syncTimeout
		if initial {
			timeout = 0
		}
		var response *SyncResponse
		err := c.retry("sync", func() error {
			var err error
			response, err = c.session.Sync(c.ctx, SyncOptions{
				Since:         since,
				TimeoutMillis: int(timeout / time.Millisecond),
			})
			return err
		})
		if err != nil {
			c.fail(err)
			return
		}

		changed := false
		if c.acceptInvites(response) || len(response.Rooms.Join) > 0 {
			if !linked {
				linked = true
				c.credentials = c.credentials.With(KeyLinked, "true")
				changed = true
				c.logger.Info("matrix account linked")
			}
		}
		if linked && !opened {
			opened = true
			if !c.emit(protocol.ConnectionUpdate{State: protocol.StateOpen}) {
				return
			}
		}
		// The initial sync replays history; only messages that arrive
		// while running are new.
		if !initial {
			if messages := c.messages(response); len(messages) > 0 {
				if !c.emit(protocol.MessagesUpsert{Messages: messages}) {
					return
				}
			}
		}
		if response.NextBatch != "" && response.NextBatch != since {
			since = response.NextBatch
			c.credentials = c.credentials.With(KeyNextBatch, since)
			changed = true
		}
		if changed && !c.emit(protocol.CredentialsUpdate{Credentials: c.credentials.Clone()}) {
			return
		}
		initial = false
	}
}

// verifyIdentity checks that the access token still belongs to the
// account and device the session registered.
func (c *Conn) verifyIdentity() error {
	var whoami *WhoAmIResponse
	err := c.retry("whoami", func() error {
		var err error
		whoami, err = c.session.WhoAmI(c.ctx)
		return err
	})
	if err != nil {
		return err
	}
	if whoami.UserID != c.session.UserID() {
		return fmt.Errorf("%w: token is for %s, session is %s", errDeviceMismatch, whoami.UserID, c.session.UserID())
	}
	if c.session.DeviceID() != "" && whoami.DeviceID != "" && whoami.DeviceID != c.session.DeviceID() {
		return fmt.Errorf("%w: token is for device %s, session is %s", errDeviceMismatch, whoami.DeviceID, c.session.DeviceID())
	}
	return nil
}

// retry runs op, retrying transient failures with exponential backoff
// until MaxSyncFailures consecutive attempts have failed.
func (c *Conn) retry(operation string, op func() error) error {
	backoff := initialBackoff
	for failures := 1; ; failures++ {
		err := op()
		if err == nil || c.ctx.Err() != nil || !transient(err) || failures >= c.dialer.maxSyncFailures {
			return err
		}
		c.logger.Warn("matrix request failed, retrying",
			"operation", operation,
			"failures", failures,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-c.dialer.clock.After(backoff):
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// fail reports err as the reason the connection closed. Nothing is
// reported when the Conn was closed locally.
func (c *Conn) fail(err error) {
	if c.ctx.Err() != nil {
		return
	}
	reason := Classify(err)
	c.logger.Warn("matrix connection closed", "reason", reason, "error", err)
	c.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: reason, Err: err})
}

func (c *Conn) emit(event protocol.Event) bool {
	select {
	case c.events <- event:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// acceptInvites joins every invited room and reports whether any join
// succeeded.
func (c *Conn) acceptInvites(response *SyncResponse) bool {
	joined := false
	for _, roomID := range sortedKeys(response.Rooms.Invite) {
		c.logger.Info("accepting room invite", "room_id", roomID)
		if err := c.session.JoinRoom(c.ctx, roomID); err != nil {
			c.logger.Error("joining invited room failed", "room_id", roomID, "error", err)
			continue
		}
		joined = true
	}
	return joined
}

// messages extracts m.room.message timeline events in room order.
func (c *Conn) messages(response *SyncResponse) []protocol.Message {
	var messages []protocol.Message
	for _, roomID := range sortedKeys(response.Rooms.Join) {
		room := response.Rooms.Join[roomID]
		names := displayNames(room)
		for _, event := range room.Timeline.Events {
			if event.Type != EventTypeMessage || event.StateKey != nil {
				continue
			}
			var content MessageContent
			if err := json.Unmarshal(event.Content, &content); err != nil {
				c.logger.Debug("skipping message with unreadable content", "event_id", event.EventID, "error", err)
				continue
			}
			raw, err := json.Marshal(event)
			if err != nil {
				continue
			}
			messages = append(messages, protocol.Message{
				ID:         event.EventID,
				Chat:       roomID,
				Sender:     event.Sender,
				SenderName: names[event.Sender],
				FromMe:     event.Sender == c.session.UserID(),
				Body:       content.Body,
				Raw:        raw,
				Timestamp:  time.UnixMilli(event.OriginServerTS).UTC(),
			})
		}
	}
	return messages
}

// displayNames collects member display names from a room's state and
// timeline.
func displayNames(room JoinedRoom) map[string]string {
	names := make(map[string]string)
	for _, events := range [][]Event{room.State.Events, room.Timeline.Events} {
		for _, event := range events {
			if event.Type != EventTypeMember || event.StateKey == nil {
				continue
			}
			var content memberContent
			if json.Unmarshal(event.Content, &content) == nil && content.DisplayName != "" {
				names[*event.StateKey] = content.DisplayName
			}
		}
	}
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

var (
	_ protocol.Conn   = (*Conn)(nil)
	_ protocol.Pairer = (*Conn)(nil)
)
