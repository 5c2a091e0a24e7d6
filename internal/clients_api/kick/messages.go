package kick

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
)

const (
	messageRefMin = 1_000_000_000_000
	messageRefMax = 9_999_999_999_999
)

// SendMessageRequest is the body of POST /messages/send/{chatroomID}.
type SendMessageRequest struct {
	Content    string `json:"content"`
	Type       string `json:"type"`
	MessageRef string `json:"message_ref"`
}

// NewMessageRef returns a fresh 13-digit reference. Kick drops messages that reuse one.
func NewMessageRef() string {
	return strconv.FormatInt(messageRefMin+rand.Int64N(messageRefMax-messageRefMin+1), 10)
}

// SendMessage posts content to a chatroom. It is never retried: a retry after a
// timeout could post the same message twice.
func (c *Client) SendMessage(ctx context.Context, chatroomID int64, content string) error {
	if chatroomID <= 0 {
		return fmt.Errorf("invalid chatroom id %d", chatroomID)
	}
	if c.authorization == "" {
		return fmt.Errorf("authorization is not configured")
	}

	req := SendMessageRequest{
		Content:    content,
		Type:       "message",
		MessageRef: NewMessageRef(),
	}
	endpoint := fmt.Sprintf("/messages/send/%d", chatroomID)
	if _, err := c.MakeRequest(ctx, http.MethodPost, endpoint, req, true); err != nil {
		return fmt.Errorf("failed to send message to chatroom %d: %w", chatroomID, err)
	}
	return nil
}
