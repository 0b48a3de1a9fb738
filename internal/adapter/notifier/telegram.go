package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/dbkeep/internal/config"
	"github.com/semmidev/dbkeep/internal/domain"
)

// Telegram posts a message to a chat after every run. Messages are sent as
// plain text so that paths and error output need no escaping.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	appName string
}

func NewTelegram(cfg *config.TelegramConfig, appName string) (*Telegram, error) {
	return newTelegram(cfg, appName, tgbotapi.APIEndpoint)
}

func newTelegram(cfg *config.TelegramConfig, appName, endpoint string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		bot:     bot,
		chatID:  cfg.ChatID,
		appName: appName,
	}, nil
}

func (t *Telegram) NotifySuccess(ctx context.Context, result *domain.Result) error {
	return t.send(ctx, successMessage(t.appName, result))
}

func (t *Telegram) NotifyFailure(ctx context.Context, kind domain.DatabaseKind, err error) error {
	return t.send(ctx, failureMessage(t.appName, kind, err))
}

// send gives up waiting once ctx is done. The bot API has no context
// support, so the request itself is bounded by the client timeout.
func (t *Telegram) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text))
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to send telegram notification: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send telegram notification: %w", err)
		}
		return nil
	}
}

func successMessage(appName string, r *domain.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ [%s] %s backup succeeded\n\n", appName, r.Artifact.Kind)
	fmt.Fprintf(&b, "📁 File: %s\n", r.Artifact.Filename)
	fmt.Fprintf(&b, "📊 Size: %s\n", humanize.IBytes(uint64(r.Artifact.Size)))
	if r.Location != "" {
		fmt.Fprintf(&b, "☁️ Location: %s\n", r.Location)
	}
	fmt.Fprintf(&b, "🧹 Expired removed: %d\n", len(r.Deleted))
	fmt.Fprintf(&b, "⏱ Duration: %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "🆔 Run: %s", r.RunID)
	return b.String()
}

func failureMessage(appName string, kind domain.DatabaseKind, err error) string {
	return fmt.Sprintf("❌ [%s] %s backup failed\n\n%v", appName, kind, err)
}
