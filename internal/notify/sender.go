// Package notify delivers rendered alert text to an external channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
)

//go:generate mockgen -source=sender.go -destination=mocks/mock_sender.go -package=mocks

// Sender delivers text to a channel. channelID is transport specific: a Telegram
// chat id or @channelusername, or a webhook channel name.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// LogSender writes messages to the log instead of delivering them. Used for dry runs.
type LogSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent int
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "log_sender")}
}

func (s *LogSender) Send(_ context.Context, channelID, text string) error {
	if channelID == "" {
		return fmt.Errorf("log sender: %w: empty channel id", apperr.ErrConfigurationMissing)
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	s.logger.Info("notification (dry run)", "channel", channelID, "text", text)
	return nil
}

// Sent returns the number of delivered messages.
func (s *LogSender) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// UnconfiguredSender fails every send. It stands in for a transport whose
// credential is missing so alerts stay pending instead of the process exiting.
type UnconfiguredSender struct {
	Reason string
}

func (s UnconfiguredSender) Send(context.Context, string, string) error {
	return fmt.Errorf("%w: %s", apperr.ErrConfigurationMissing, s.Reason)
}
