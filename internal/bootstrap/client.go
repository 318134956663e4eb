package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raihanakbr/lesson-session-client/internal/auth"
	"github.com/raihanakbr/lesson-session-client/internal/logger"
)

const defaultTimeout = 15 * time.Second

// ErrUnauthorized is returned when the service answers 401.
var ErrUnauthorized = errors.New("lesson service rejected the access token")

// StatusError is a non-success HTTP response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("lesson service returned status %d", e.Status)
	}
	return fmt.Sprintf("lesson service returned status %d: %s", e.Status, e.Body)
}

// Client starts lesson sessions over the REST API.
type Client struct {
	baseURL string
	tokens  auth.TokenStore
	http    *http.Client
	log     *logger.Logger
}

// New returns a Client for the REST API at baseURL. A nil httpClient uses a
// client with a default timeout.
func New(baseURL string, tokens auth.TokenStore, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    httpClient,
		log:     logger.OrNop(log).With("component", "SessionBootstrap"),
	}
}

type startRequest struct {
	ClassID int64  `json:"classId"`
	UnitID  string `json:"unitId"`
}

type startResponse struct {
	SessionID string `json:"sessionId"`
}

// Start asks the lesson service for a session id for the given class unit.
func (c *Client) Start(ctx context.Context, classID int64, unitID string) (string, error) {
	token, ok := c.tokens.Get()
	if !ok {
		return "", auth.ErrNoCredential
	}

	body, err := json.Marshal(startRequest{ClassID: classID, UnitID: unitID})
	if err != nil {
		return "", fmt.Errorf("marshal start request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lessons/start", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("start lesson: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.tokens.Clear(); err != nil {
			c.log.Warn("Failed to clear rejected token", "error", err)
		}
		return "", ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("start response missing sessionId")
	}
	c.log.Info("Lesson session started", "class_id", classID, "unit_id", unitID, "session_id", out.SessionID)
	return out.SessionID, nil
}
