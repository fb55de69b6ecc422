// Package api is the thin client for the request/response side of the relay.
// The session core depends on exactly one call: resolving the joinable live
// session for a lecture. Auth, enrollment and materials live elsewhere.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/domain"
)

// ErrNoActiveSession means the lecture has no live session right now.
var ErrNoActiveSession = errors.New("api: no active session")

const requestTimeout = 10 * time.Second

type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: requestTimeout},
	}
}

// ActiveSession returns the joinable session id for a lecture.
func (c *Client) ActiveSession(ctx context.Context, lectureID domain.LectureID) (domain.SessionID, error) {
	url := fmt.Sprintf("%s/lectures/%s/active-session", c.base, lectureID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("api: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("api: active session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return "", ErrNoActiveSession
	default:
		return "", fmt.Errorf("api: active session: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("api: read body: %w", err)
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := sonic.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("api: decode body: %w", err)
	}
	if out.SessionID == "" {
		return "", ErrNoActiveSession
	}

	log.Debug().Str("module", "api").Str("lecture", string(lectureID)).Str("session", out.SessionID).Msg("resolved active session")
	return domain.SessionID(out.SessionID), nil
}
