// Package notify forwards operator alerts (start/stop summaries, failing monitors)
// to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

var httpClient = http.Client{Timeout: 10 * time.Second}

// Telegram implements monitor.Notifier. Alerts beyond the rate limit are dropped
// so a flapping monitor cannot flood the chat.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegram authorizes the bot (one getMe round trip) and returns a notifier.
func NewTelegram(token, chatID string) (*Telegram, error) {
	return newTelegram(token, chatID, tgbotapi.APIEndpoint)
}

func newTelegram(token, chatID, apiEndpoint string) (*Telegram, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, &httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	return &Telegram{
		bot:     bot,
		chatID:  id,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}, nil
}

// Username is the bot account name, for startup logs.
func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

// Notify sends text as an HTML message. ctx is checked before sending; the
// Telegram client itself is bounded by its HTTP timeout.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.limiter.Allow() {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, "<b>kick-miner</b>: "+html.EscapeString(text))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

// parseChatID accepts numeric ids, including negative group ids like -1003190218710.
func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid telegram chat id %q", s)
	}
	return id, nil
}
