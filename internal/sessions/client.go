package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"plategate/internal/config"
	"plategate/internal/model"
)

var ErrUnauthorized = errors.New("session api: unauthorized")

// TokenProvider supplies the bearer credential; token refresh lives with the
// external auth collaborator.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client talks to the external parking-session API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
}

func NewClient(cfg config.SessionsConfig, tokens TokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
	}
}

// ActiveSession returns the active session for a plate, or nil when none
// exists.
func (c *Client) ActiveSession(ctx context.Context, plate string) (*model.ParkingSession, error) {
	endpoint := c.baseURL + "/sessions/active?plate=" + url.QueryEscape(plate)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var session model.ParkingSession
	found, err := c.do(req, &session)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &session, nil
}

func (c *Client) CheckIn(ctx context.Context, reqBody model.CheckInRequest) (*model.ParkingSession, error) {
	var session model.ParkingSession
	if err := c.post(ctx, "/sessions/check-in", reqBody, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) CheckOut(ctx context.Context, reqBody model.CheckOutRequest) (*model.CheckOutResult, error) {
	var result model.CheckOutResult
	if err := c.post(ctx, "/sessions/check-out", reqBody, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	found, err := c.do(req, out)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("session api: %s returned not found", path)
	}
	return nil
}

// do executes the request with the bearer credential attached. The second
// return value is false for 404 responses.
func (c *Client) do(req *http.Request, out any) (bool, error) {
	if c.tokens != nil {
		token, err := c.tokens.Token(req.Context())
		if err != nil {
			return false, fmt.Errorf("session api: token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return false, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("session api: status %s: %s", resp.Status, body)
	}
	if out == nil {
		return true, nil
	}
	return true, json.NewDecoder(resp.Body).Decode(out)
}
