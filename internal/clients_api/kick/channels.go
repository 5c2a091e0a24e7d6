package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"kick-miner/internal/infra/retry"
)

// Channel is the subset of GET /channels/{slug} the miner cares about.
type Channel struct {
	ID         int64       `json:"id"`
	Slug       string      `json:"slug"`
	Chatroom   *Chatroom   `json:"chatroom"`
	Livestream *Livestream `json:"livestream"`
}

type Chatroom struct {
	ID int64 `json:"id"`
}

// Livestream is null in the API response while the channel is offline.
type Livestream struct {
	ID           int64  `json:"id"`
	SessionTitle string `json:"session_title"`
	IsLive       bool   `json:"is_live"`
	ViewerCount  int    `json:"viewer_count"`
	CreatedAt    string `json:"created_at"`
}

// IsLive reports whether a broadcast is in progress.
func (c *Channel) IsLive() bool {
	return c != nil && c.Livestream != nil
}

// ChatroomID returns the chatroom id, or false when the response carried none.
func (c *Channel) ChatroomID() (int64, bool) {
	if c == nil || c.Chatroom == nil || c.Chatroom.ID <= 0 {
		return 0, false
	}
	return c.Chatroom.ID, true
}

// GetChannel fetches the current state of a channel. 429 and 5xx are retried.
func (c *Client) GetChannel(ctx context.Context, slug string) (*Channel, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("channel slug is empty")
	}
	endpoint := "/channels/" + url.PathEscape(slug)

	var respBody []byte
	err := retry.Do(ctx, c.retryOptions, func() error {
		body, err := c.MakeRequest(ctx, http.MethodGet, endpoint, nil, false)
		if err != nil {
			return err
		}
		respBody = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", slug, err)
	}

	var channel Channel
	if err := json.Unmarshal(respBody, &channel); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel %s: %w", slug, err)
	}
	return &channel, nil
}
