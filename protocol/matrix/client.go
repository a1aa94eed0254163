// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/switchboard/lib/netutil"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver, such as
	// "https://matrix.example.org".
	HomeserverURL string
	// HTTPClient is used for every request. Its Timeout must exceed
	// the sync long-poll. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is an unauthenticated homeserver client, shared by every
// session on the same homeserver.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}
	// Request URLs are built by concatenation onto the trimmed base, so
	// escaped path segments are never re-encoded.
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("matrix: HomeserverURL %q must be http or https", config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ServerName returns the host part of the homeserver URL.
func (c *Client) ServerName() string {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// Versions returns the client-server API versions the homeserver
// supports. The endpoint is unauthenticated.
func (c *Client) Versions(ctx context.Context) (*VersionsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/versions", "", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix: server versions failed: %w", err)
	}
	var response VersionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("matrix: parsing versions response: %w", err)
	}
	return &response, nil
}

// Register creates an account using token-authenticated registration
// (MSC3231). The first request returns 401 with a UIAA session; the
// second completes the m.login.registration_token stage.
func (c *Client) Register(ctx context.Context, request RegisterRequest) (*Session, error) {
	if request.Username == "" {
		return nil, fmt.Errorf("matrix: username is required for registration")
	}
	if request.Password == "" {
		return nil, fmt.Errorf("matrix: password is required for registration")
	}

	firstAttempt := map[string]any{
		"username": request.Username,
		"password": request.Password,
	}
	if request.DeviceName != "" {
		firstAttempt["initial_device_display_name"] = request.DeviceName
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/register", "", firstAttempt, nil)
	if err == nil {
		// The server had no auth stages.
		return c.sessionFromAuthBody(body)
	}
	if !isUnauthorizedUIAA(err) {
		return nil, fmt.Errorf("matrix: registration failed: %w", err)
	}

	sessionID, err := extractUIAASession(body)
	if err != nil {
		return nil, err
	}
	completeRequest := map[string]any{
		"username": request.Username,
		"password": request.Password,
		"auth": map[string]any{
			"type":    "m.login.registration_token",
			"token":   request.RegistrationToken,
			"session": sessionID,
		},
	}
	if request.DeviceName != "" {
		completeRequest["initial_device_display_name"] = request.DeviceName
	}
	body, err = c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/register", "", completeRequest, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix: registration failed: %w", err)
	}
	session, err := c.sessionFromAuthBody(body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("registered matrix account",
		"user_id", session.userID,
		"device_id", session.deviceID,
	)
	return session, nil
}

// SessionFromToken creates a Session from stored credentials without
// contacting the server; the first request fails if they are stale.
func (c *Client) SessionFromToken(userID, deviceID, accessToken string) *Session {
	return &Session{
		client:      c,
		userID:      userID,
		deviceID:    deviceID,
		accessToken: accessToken,
	}
}

func (c *Client) sessionFromAuthBody(body []byte) (*Session, error) {
	var auth AuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("matrix: parsing register response: %w", err)
	}
	if auth.AccessToken == "" || auth.UserID == "" {
		return nil, fmt.Errorf("matrix: register response missing user_id or access_token")
	}
	return c.SessionFromToken(auth.UserID, auth.DeviceID, auth.AccessToken), nil
}

// doRequest performs a request and returns the response body. A non-2xx
// response yields an *Error together with the body, which the UIAA flow
// needs. accessToken is empty for unauthenticated endpoints.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("matrix: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("matrix: creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("matrix: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("matrix: reading response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr Error
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		matrixErr = Error{Code: ErrCodeUnknown, Message: strings.TrimSpace(string(responseBody))}
	}
	matrixErr.StatusCode = response.StatusCode
	return responseBody, &matrixErr
}

func isUnauthorizedUIAA(err error) bool {
	matrixErr, ok := err.(*Error) //nolint:errorlint // doRequest returns *Error unwrapped
	return ok && matrixErr.StatusCode == http.StatusUnauthorized
}

func extractUIAASession(body []byte) (string, error) {
	var uiaaResponse struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(body, &uiaaResponse); err != nil {
		return "", fmt.Errorf("matrix: parsing UIAA response: %w", err)
	}
	if uiaaResponse.Session == "" {
		return "", fmt.Errorf("matrix: UIAA response missing session ID")
	}
	return uiaaResponse.Session, nil
}

// Session is an authenticated handle for one account.
type Session struct {
	client      *Client
	userID      string
	deviceID    string
	accessToken string
}

// UserID returns the account's fully-qualified user ID.
func (s *Session) UserID() string { return s.userID }

// DeviceID returns the device the access token was issued to.
func (s *Session) DeviceID() string { return s.deviceID }

// AccessToken returns the bearer token.
func (s *Session) AccessToken() string { return s.accessToken }

// WhoAmI returns the identity behind the access token.
func (s *Session) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix: whoami failed: %w", err)
	}
	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("matrix: parsing whoami response: %w", err)
	}
	return &response, nil
}

// Sync performs one /sync request.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	query.Set("timeout", strconv.Itoa(options.TimeoutMillis))

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("matrix: sync failed: %w", err)
	}
	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("matrix: parsing sync response: %w", err)
	}
	return &response, nil
}

// JoinRoom joins roomID, typically to accept an invite.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID)
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, map[string]any{}, nil); err != nil {
		return fmt.Errorf("matrix: joining %s failed: %w", roomID, err)
	}
	return nil
}

// SendMessage sends a plain-text m.room.message and returns its event
// ID. Each call uses a fresh transaction ID, so the PUT is idempotent
// under HTTP retries but two calls send two messages.
func (s *Session) SendMessage(ctx context.Context, roomID, body string) (string, error) {
	content := MessageContent{MsgType: "m.text", Body: body}
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) +
		"/send/" + EventTypeMessage + "/" + url.PathEscape(uuid.NewString())
	responseBody, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content, nil)
	if err != nil {
		return "", fmt.Errorf("matrix: sending to %s failed: %w", roomID, err)
	}
	var response sendResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", fmt.Errorf("matrix: parsing send response: %w", err)
	}
	return response.EventID, nil
}

// Logout invalidates this session's access token.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/logout", s.accessToken, map[string]any{}, nil); err != nil {
		return fmt.Errorf("matrix: logout failed: %w", err)
	}
	return nil
}
