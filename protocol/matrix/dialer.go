// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/protocol"
)

// Credential entries a Matrix session stores.
const (
	KeyUserID      = "user_id"
	KeyDeviceID    = "device_id"
	KeyAccessToken = "access_token"
	KeyPassword    = "password"
	KeyNextBatch   = "next_batch"
	// KeyLinked is "true" once the account has joined its first room.
	KeyLinked = "linked"
)

// Defaults for DialerConfig.
const (
	DefaultUsernamePrefix  = "switchboard-"
	DefaultDeviceName      = "switchboard"
	DefaultSyncTimeout     = 30 * time.Second
	DefaultMaxSyncFailures = 5
)

// DialerConfig configures a Dialer.
type DialerConfig struct {
	// Client is the homeserver client. Required.
	Client *Client
	// RegistrationToken authorizes creating accounts for new sessions.
	RegistrationToken string
	// UsernamePrefix is prepended to the session name to form the
	// localpart of a new account.
	UsernamePrefix string
	// DeviceName is the display name of devices this dialer creates.
	DeviceName string
	// SyncTimeout is the /sync long-poll wait.
	SyncTimeout time.Duration
	// MaxSyncFailures is how many consecutive transient failures a Conn
	// absorbs before closing.
	MaxSyncFailures int
	// Clock drives retry backoff. Defaults to clock.Real().
	Clock clock.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Dialer opens Matrix-backed connections.
type Dialer struct {
	client            *Client
	registrationToken string
	usernamePrefix    string
	deviceName        string
	syncTimeout       time.Duration
	maxSyncFailures   int
	clock             clock.Clock
	logger            *slog.Logger
}

// NewDialer creates a Dialer.
func NewDialer(config DialerConfig) (*Dialer, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("matrix: Client is required")
	}
	dialer := &Dialer{
		client:            config.Client,
		registrationToken: config.RegistrationToken,
		usernamePrefix:    config.UsernamePrefix,
		deviceName:        config.DeviceName,
		syncTimeout:       config.SyncTimeout,
		maxSyncFailures:   config.MaxSyncFailures,
		clock:             config.Clock,
		logger:            config.Logger,
	}
	if dialer.usernamePrefix == "" {
		dialer.usernamePrefix = DefaultUsernamePrefix
	}
	if dialer.deviceName == "" {
		dialer.deviceName = DefaultDeviceName
	}
	if dialer.syncTimeout <= 0 {
		dialer.syncTimeout = DefaultSyncTimeout
	}
	if dialer.maxSyncFailures <= 0 {
		dialer.maxSyncFailures = DefaultMaxSyncFailures
	}
	if dialer.clock == nil {
		dialer.clock = clock.Real()
	}
	if dialer.logger == nil {
		dialer.logger = slog.Default()
	}
	return dialer, nil
}

// Version picks the newest v1.x client-server API revision the
// homeserver advertises.
func (d *Dialer) Version(ctx context.Context) (protocol.Version, error) {
	response, err := d.client.Versions(ctx)
	if err != nil {
		return protocol.Version{}, err
	}
	best, bestMinor := "", -1
	for _, version := range response.Versions {
		minor, ok := stableMinor(version)
		if ok && minor > bestMinor {
			best, bestMinor = version, minor
		}
	}
	if best == "" {
		return protocol.Version{}, fmt.Errorf("matrix: homeserver supports no v1.x API version (advertised %v)", response.Versions)
	}
	return protocol.Version{Name: best, Supported: response.Versions}, nil
}

func stableMinor(version string) (int, bool) {
	rest, ok := strings.CutPrefix(version, "v1.")
	if !ok {
		return 0, false
	}
	minor, err := strconv.Atoi(rest)
	if err != nil || minor < 0 {
		return 0, false
	}
	return minor, true
}

// Dial resumes the session from its stored access token, or registers
// a new account when the bundle has none. ctx bounds registration
// only; the returned Conn runs until closed.
func (d *Dialer) Dial(ctx context.Context, options protocol.DialOptions) (protocol.Conn, error) {
	credentials := options.Credentials.Clone()
	logger := d.logger.With("session", options.Session)

	var session *Session
	fresh := false
	if token := credentials.Get(KeyAccessToken); token != "" {
		session = d.client.SessionFromToken(credentials.Get(KeyUserID), credentials.Get(KeyDeviceID), token)
	} else {
		password, err := randomPassword()
		if err != nil {
			return nil, err
		}
		session, err = d.client.Register(ctx, RegisterRequest{
			Username:          d.Username(options.Session),
			Password:          password,
			RegistrationToken: d.registrationToken,
			DeviceName:        d.deviceName,
		})
		if err != nil {
			return nil, err
		}
		credentials = credentials.
			With(KeyUserID, session.UserID()).
			With(KeyDeviceID, session.DeviceID()).
			With(KeyAccessToken, session.AccessToken()).
			With(KeyPassword, password)
		fresh = true
	}

	logger.Info("matrix session dialed",
		"user_id", session.UserID(),
		"version", options.Version.Name,
		"new_account", fresh,
	)
	conn := newConn(d, session, credentials, fresh, logger)
	go conn.run()
	return conn, nil
}

// Username returns the account localpart used for a session name.
// Matrix localparts are lowercase and allow only a-z, 0-9 and ._=-/.
func (d *Dialer) Username(session string) string {
	var builder strings.Builder
	builder.WriteString(d.usernamePrefix)
	for _, character := range strings.ToLower(session) {
		switch {
		case character >= 'a' && character <= 'z',
			character >= '0' && character <= '9',
			strings.ContainsRune("._=-", character):
			builder.WriteRune(character)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String()
}

func randomPassword() (string, error) {
	buffer := make([]byte, 24)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("matrix: generating password: %w", err)
	}
	return hex.EncodeToString(buffer), nil
}

// PairingLink is the pairing code published for an account: a
// matrix.to link that opens a chat with it.
func PairingLink(userID string) string {
	return "https://matrix.to/#/" + userID
}

var _ protocol.Dialer = (*Dialer)(nil)
