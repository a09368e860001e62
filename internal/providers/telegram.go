// Package providers relays escalations to external operations channels.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"relief-service/internal/logging"
	"relief-service/internal/models"
	"relief-service/internal/utils"
)

type TelegramConfig struct {
	BotToken      string
	ChatID        int64
	RatePerSecond int
	RetryAttempts int
	RetryDelay    time.Duration
	// ServerURL overrides the Bot API endpoint.
	ServerURL string
}

// Telegram posts new escalations to an operations chat, rate limited and
// retried.
type Telegram struct {
	cfg     TelegramConfig
	limiter *rate.Limiter
	logger  *logging.Logger

	mu  sync.Mutex
	bot *bot.Bot
}

func NewTelegram(cfg TelegramConfig, logger *logging.Logger) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("missing Telegram bot token")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("missing Telegram chat id")
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	return &Telegram{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerSecond)), cfg.RatePerSecond),
		logger:  logger,
	}, nil
}

func (t *Telegram) client() (*bot.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	opts := []bot.Option{bot.WithSkipGetMe()}
	if t.cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(t.cfg.ServerURL))
	}
	b, err := bot.New(t.cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	t.bot = b
	return b, nil
}

// RelayEscalation sends the escalation summary to the configured chat.
func (t *Telegram) RelayEscalation(ctx context.Context, d models.Disaster, e models.Escalation) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}
	text := escalationText(d, e)
	return utils.Retry(ctx, t.logger, t.cfg.RetryAttempts, t.cfg.RetryDelay, func() error {
		b, err := t.client()
		if err != nil {
			return err
		}
		params := &bot.SendMessageParams{
			ChatID:    t.cfg.ChatID,
			Text:      text,
			ParseMode: "MarkdownV2",
		}
		if _, err := b.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", t.cfg.ChatID, err)
		}
		t.logger.Infof("Escalation %s relayed to Telegram chat %d", e.ID, t.cfg.ChatID)
		return nil
	})
}

// escalationText renders the relay message as MarkdownV2. Every value is
// escaped so reserved characters in types and ids cannot break the markup.
func escalationText(d models.Disaster, e models.Escalation) string {
	where := fmt.Sprintf("%s, %s", d.Location.City, d.Location.State)
	if d.Location.City == "" && d.Location.HasCoordinates() {
		where = fmt.Sprintf("%.4f,%.4f", *d.Location.Lat, *d.Location.Lng)
	}
	return fmt.Sprintf(
		"*Escalation:* %s\n"+
			"*Disaster:* %s \\(%s\\)\n"+
			"*Location:* %s\n"+
			"*Severity:* %s\n"+
			"*Source:* %s\n"+
			"*Reported:* %s",
		bot.EscapeMarkdown(e.ID),
		bot.EscapeMarkdown(d.Type),
		bot.EscapeMarkdown(d.ID),
		bot.EscapeMarkdown(where),
		bot.EscapeMarkdown(string(d.Severity)),
		bot.EscapeMarkdown(string(d.Source)),
		bot.EscapeMarkdown(d.CreatedAt.Format(time.RFC3339)),
	)
}
