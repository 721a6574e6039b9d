// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats large moves, black swans and cycle failures into MarkdownV2
// messages and handles delivery with retry logic.
package telegram

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polyanalytics/internal/models"
)

// maxMessageItems caps the entries listed in one message.
const maxMessageItems = 20

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendLargeMoves announces newly recorded large moves. An empty slice sends
// nothing.
func (c *Client) SendLargeMoves(events []models.LargeMoveEvent) error {
	if len(events) == 0 {
		return nil
	}
	return c.send(formatLargeMoves(events))
}

// SendBlackSwans announces newly classified black swans.
func (c *Client) SendBlackSwans(swans []models.BlackSwanView) error {
	if len(swans) == 0 {
		return nil
	}
	return c.send(formatBlackSwans(swans))
}

// SendError reports a failed collection cycle.
func (c *Client) SendError(err error) error {
	return c.send(formatError(err))
}

// SendRecovery reports that cycles succeed again after failures.
func (c *Client) SendRecovery(failures int) error {
	return c.send(formatRecovery(failures))
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

func formatLargeMoves(events []models.LargeMoveEvent) string {
	var b strings.Builder
	b.WriteString("🚨 *Large Probability Moves*\n\n")
	b.WriteString(fmt.Sprintf("📅 Detected: %s\n\n",
		escapeMarkdownV2(events[0].DetectedAt.UTC().Format("2006-01-02 15:04:05"))))

	for i, e := range events {
		if i == maxMessageItems {
			b.WriteString(escapeMarkdownV2(fmt.Sprintf("... and %d more", len(events)-i)))
			b.WriteString("\n")
			break
		}
		directionEmoji := "📈"
		if e.ProbabilityEnd < e.ProbabilityStart {
			directionEmoji = "📉"
		}
		b.WriteString(fmt.Sprintf("%d\\. %s\n", i+1, escapeMarkdownV2(e.Question)))
		b.WriteString(fmt.Sprintf("   %s Swing: *%s* \\(%s → %s\\)\n",
			directionEmoji,
			escapeMarkdownV2(fmt.Sprintf("%.1f pts", e.ChangePoints)),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", e.ProbabilityStart)),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", e.ProbabilityEnd))))
		b.WriteString(fmt.Sprintf("   ⏱ Window: %s\n\n",
			escapeMarkdownV2(formatDuration(time.Duration(e.WindowHours)*time.Hour))))
	}
	return b.String()
}

func formatBlackSwans(swans []models.BlackSwanView) string {
	var b strings.Builder
	b.WriteString("🦢 *Black Swan Resolutions*\n\n")
	for i, s := range swans {
		if i == maxMessageItems {
			b.WriteString(escapeMarkdownV2(fmt.Sprintf("... and %d more", len(swans)-i)))
			b.WriteString("\n")
			break
		}
		b.WriteString(fmt.Sprintf("%d\\. %s\n", i+1, escapeMarkdownV2(s.Question)))
		b.WriteString(fmt.Sprintf("   Outcome: *%s* at final %s\n\n",
			escapeMarkdownV2(s.Outcome),
			escapeMarkdownV2(fmt.Sprintf("%.1f%%", s.FinalProbability))))
	}
	return b.String()
}

func formatError(err error) string {
	return fmt.Sprintf("⚠️ *Collection cycle failed*\n\n`%s`", escapeCode(err.Error()))
}

func formatRecovery(failures int) string {
	noun := "cycles"
	if failures == 1 {
		noun = "cycle"
	}
	return fmt.Sprintf("✅ *Collection recovered* after %d failed %s", failures, noun)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside a MarkdownV2 code span.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(math.Round(d.Hours())); hours >= 1 && d%time.Hour == 0 {
		if hours%24 == 0 {
			return fmt.Sprintf("%dd", hours/24)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
