// Package membership is the HTTP client for the room server's session REST API.
package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInactive = errors.New("session inactive")
	ErrRejected = errors.New("request rejected")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("membership: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrInactive
	default:
		return ErrRejected
	}
}

type Participant struct {
	ID       domain.ParticipantID `json:"participant_id"`
	Session  domain.RoomID        `json:"session_id"`
	Name     string               `json:"name"`
	JoinedAt time.Time            `json:"joined_at"`
}

// Ticket is the result of a join: the token authenticates the signalling
// connection.
type Ticket struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	SessionID     domain.RoomID        `json:"session_id"`
	Token         string               `json:"token"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = newDefaultHTTPClient()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &http.Client{Transport: transport}
}

func (c *Client) CreateSession(ctx context.Context, name string) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodPost, "/api/sessions", map[string]string{"name": name}, &room)
	return room, err
}

func (c *Client) GetSession(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+string(id), nil, &room)
	return room, err
}

func (c *Client) JoinSession(ctx context.Context, id domain.RoomID, displayName string) (Ticket, error) {
	var t Ticket
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+string(id)+"/participants", map[string]string{"display_name": displayName}, &t)
	if err == nil {
		log.Info().Str("module", "membership").Str("room", string(id)).Str("participant", string(t.ParticipantID)).Msg("joined")
	}
	return t, err
}

func (c *Client) LeaveSession(ctx context.Context, id domain.ParticipantID) error {
	return c.do(ctx, http.MethodDelete, "/api/participants/"+string(id), nil, nil)
}

func (c *Client) ListParticipants(ctx context.Context, id domain.RoomID) ([]Participant, error) {
	var list []Participant
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+string(id)+"/participants", nil, &list)
	return list, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
