package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/retry"
)

// TelegramSender posts messages through the Bot API.
type TelegramSender struct {
	bot *bot.Bot
}

// NewTelegramSender builds a sender for token. apiURL overrides the Bot API
// base URL (self-hosted servers, tests).
func NewTelegramSender(token, apiURL string) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram sender: %w: bot token not set", apperr.ErrConfigurationMissing)
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if apiURL != "" {
		opts = append(opts, bot.WithServerURL(strings.TrimRight(apiURL, "/")))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram sender: %w", err)
	}
	return &TelegramSender{bot: b}, nil
}

func (s *TelegramSender) Send(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return fmt.Errorf("telegram: %w: empty chat id", apperr.ErrConfigurationMissing)
	}

	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID(channelID),
		Text:   text,
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return classifyTelegramError(fmt.Errorf("telegram send to %s: %w", channelID, err))
}

// chatID keeps numeric ids numeric so both "-100123" and "@channel" work.
func chatID(channelID string) any {
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		return id
	}
	return channelID
}

// classifyTelegramError treats rejected requests as terminal. Rate limiting,
// server errors and network failures are retried.
func classifyTelegramError(err error) error {
	switch {
	case errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorUnauthorized),
		errors.Is(err, bot.ErrorNotFound):
		return retry.Terminal(err)
	default:
		return retry.Transient(err)
	}
}
