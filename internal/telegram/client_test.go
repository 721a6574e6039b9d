package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polyanalytics/internal/models"
)

type fakeBot struct {
	sent  []tgbotapi.MessageConfig
	fails int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.fails > 0 {
		f.fails--
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func newTestClient(t *testing.T, bot *fakeBot) *Client {
	t.Helper()
	c, err := newClient(bot, "12345", 3, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{1 * time.Hour, "1h"},
		{2 * time.Hour, "2h"},
		{24 * time.Hour, "1d"},
		{90 * time.Minute, "90m"},
		{30 * time.Minute, "30m"},
		{1 * time.Minute, "1m"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	got := escapeMarkdownV2("Will BTC hit $100k (by Dec. 31)?")
	want := `Will BTC hit $100k \(by Dec\. 31\)?`
	if got != want {
		t.Errorf("escapeMarkdownV2 = %q, want %q", got, want)
	}
}

func TestSendLargeMoves(t *testing.T) {
	bot := &fakeBot{}
	c := newTestClient(t, bot)

	events := []models.LargeMoveEvent{{
		LargeMove: models.LargeMove{
			MarketID: "m1", DetectedAt: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
			ProbabilityStart: 30, ProbabilityEnd: 68, ChangePoints: 42,
		},
		Question:    "Will it rain?",
		WindowHours: 24,
	}}
	if err := c.SendLargeMoves(events); err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 12345 || msg.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("message config = %+v", msg)
	}
	for _, want := range []string{"Will it rain?", `42\.0 pts`, `30\.0%`, `68\.0%`, "1d", "📈"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}

	if err := c.SendLargeMoves(nil); err != nil || len(bot.sent) != 1 {
		t.Errorf("empty event list should not send")
	}
}

func TestSendBlackSwans_Truncates(t *testing.T) {
	bot := &fakeBot{}
	c := newTestClient(t, bot)

	var swans []models.BlackSwanView
	for i := 0; i < maxMessageItems+5; i++ {
		swans = append(swans, models.BlackSwanView{MarketID: "m", Question: "Upset?", Outcome: "No", FinalProbability: 3})
	}
	if err := c.SendBlackSwans(swans); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(bot.sent[0].Text, `and 5 more`) {
		t.Errorf("missing truncation note:\n%s", bot.sent[0].Text)
	}
}

func TestSendRetries(t *testing.T) {
	bot := &fakeBot{fails: 2}
	c := newTestClient(t, bot)
	if err := c.SendError(errors.New("fetch `markets` failed")); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if !strings.Contains(bot.sent[0].Text, "fetch \\`markets\\` failed") {
		t.Errorf("error text = %q", bot.sent[0].Text)
	}

	bot = &fakeBot{fails: 3}
	c = newTestClient(t, bot)
	if err := c.SendRecovery(2); err == nil {
		t.Error("expected failure after exhausting retries")
	}
}

func TestFormatRecovery(t *testing.T) {
	if got := formatRecovery(1); !strings.Contains(got, "1 failed cycle") {
		t.Errorf("formatRecovery(1) = %q", got)
	}
	if got := formatRecovery(3); !strings.Contains(got, "3 failed cycles") {
		t.Errorf("formatRecovery(3) = %q", got)
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := newClient(&fakeBot{}, "not-a-number", 1, time.Millisecond); err == nil {
		t.Error("expected error")
	}
}
