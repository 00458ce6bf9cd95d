// Package api implements the HTTP client for the chat backend. Auth uses
// a bearer token passed in a "token" header; every response carries a
// {success, message} envelope alongside its payload.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pigeonchat/pigeon/internal/store"
)

// Client is the chat backend API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu       sync.RWMutex
	token    string
	pageSize int
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken installs the session token sent on subsequent requests. An
// empty token clears it (logout).
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetHistoryPageSize sets the number of messages requested per history
// page. Zero leaves the page size to the backend default.
func (c *Client) SetHistoryPageSize(n int) {
	c.mu.Lock()
	c.pageSize = n
	c.mu.Unlock()
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Credentials is the login/signup request payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// ProfileUpdate is the update-profile request payload. Empty fields are
// left unchanged by the backend.
type ProfileUpdate struct {
	FullName   string `json:"fullName,omitempty"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login authenticates (mode "login") or registers (mode "signup") and
// returns the user plus the session token. The token is also installed
// on the client.
func (c *Client) Login(ctx context.Context, mode string, creds Credentials) (*store.Contact, string, error) {
	var resp struct {
		envelope
		Token    string         `json:"token"`
		UserData *store.Contact `json:"userData"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/"+mode, creds, &resp); err != nil {
		return nil, "", err
	}
	if resp.UserData == nil {
		return nil, "", &APIError{Op: "auth/" + mode, Message: "response carried no user"}
	}
	c.SetToken(resp.Token)
	return resp.UserData, resp.Token, nil
}

// CheckAuth validates the installed token and returns the session user.
func (c *Client) CheckAuth(ctx context.Context) (*store.Contact, error) {
	var resp struct {
		envelope
		User *store.Contact `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/check", nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, ErrAuthFailure
	}
	return resp.User, nil
}

// UpdateProfile edits the session user's display fields and returns the
// updated user.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*store.Contact, error) {
	var resp struct {
		envelope
		UserData *store.Contact `json:"userData"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/auth/update-profile", upd, &resp); err != nil {
		return nil, err
	}
	return resp.UserData, nil
}

// Contacts fetches the directory: every other user, in server order, plus
// the backend's unseen-count snapshot keyed by contact id.
func (c *Client) Contacts(ctx context.Context) ([]store.Contact, map[string]int, error) {
	var resp struct {
		envelope
		Users  []store.Contact `json:"users"`
		Unseen map[string]int  `json:"unseenMessages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages/users", nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Users, resp.Unseen, nil
}

// History fetches one page of the conversation with contactID, oldest
// first. Pages start at 1; the configured page size rides along as the
// limit parameter.
func (c *Client) History(ctx context.Context, contactID string, page int) ([]store.Message, error) {
	q := url.Values{}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	c.mu.RLock()
	if c.pageSize > 0 {
		q.Set("limit", strconv.Itoa(c.pageSize))
	}
	c.mu.RUnlock()

	path := "/api/messages/" + contactID
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var resp struct {
		envelope
		Messages []store.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send posts a message to contactID and returns the authoritative server
// message. image, when set, is an already-encoded attachment (data URL).
func (c *Client) Send(ctx context.Context, contactID, text, image string) (*store.Message, error) {
	body := struct {
		Text  string `json:"text,omitempty"`
		Image string `json:"image,omitempty"`
	}{Text: text, Image: image}

	var resp struct {
		envelope
		NewMessage *store.Message `json:"newMessage"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages/send/"+contactID, body, &resp); err != nil {
		return nil, err
	}
	if resp.NewMessage == nil {
		return nil, &APIError{Op: "messages/send", Message: "response carried no message"}
	}
	return resp.NewMessage, nil
}

// MarkSeen acknowledges messageID as seen. Best effort: callers treat a
// failure as non-fatal.
func (c *Client) MarkSeen(ctx context.Context, messageID string) error {
	var resp envelope
	return c.do(ctx, http.MethodPut, "/api/messages/mark/"+messageID, nil, &resp)
}

// do performs one request and decodes the JSON response into out, which
// must embed envelope. Failures are mapped onto the error taxonomy:
// dial/timeout and 5xx become *TransportError, 401 becomes
// ErrAuthFailure, success=false becomes *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := strings.TrimPrefix(path, "/api/")
	if i := strings.IndexByte(op, '?'); i >= 0 {
		op = op[:i]
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if tok := c.Token(); tok != "" {
		req.Header.Set("token", tok)
	}

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Cause: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized:
		return ErrAuthFailure
	case httpResp.StatusCode >= 500:
		return &TransportError{Op: op, Cause: fmt.Errorf("server returned %s", httpResp.Status)}
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &TransportError{Op: op, Cause: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, Cause: fmt.Errorf("decode response: %w", err)}
	}

	env := extractEnvelope(out)
	if env != nil && !env.Success {
		return &APIError{Op: op, Message: env.Message}
	}
	return nil
}

// envelopeCarrier is implemented by response structs embedding envelope.
type envelopeCarrier interface{ env() *envelope }

func (e *envelope) env() *envelope { return e }

func extractEnvelope(out any) *envelope {
	if c, ok := out.(envelopeCarrier); ok {
		return c.env()
	}
	return nil
}
