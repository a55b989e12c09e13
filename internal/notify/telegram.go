// Package notify sends outbound Telegram alerts for fills and mode
// changes. With no token configured every call is a no-op.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Telegram is an outbound-only alert sender.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New connects the bot. Empty token or chat ID disables notifications and
// returns a nil-safe sender.
func New(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("Telegram notifications disabled")
		return &Telegram{}, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifier connected")
	return &Telegram{api: api, chatID: chatID}, nil
}

// TradeFill alerts on a simulated fill.
func (t *Telegram) TradeFill(side, action string, price, pnlDelta decimal.Decimal, mode string) {
	if t.api == nil {
		return
	}

	emoji := "📗"
	if side == "SHORT" {
		emoji = "📕"
	}
	text := fmt.Sprintf("%s %s %s @ %s [%s]", emoji, action, side, price.StringFixed(2), mode)
	if action == "CLOSE" {
		text += fmt.Sprintf("\nP&L: %s", pnlDelta.StringFixed(2))
	}
	t.send(text)
}

// ModeChange alerts on a session mode flip.
func (t *Telegram) ModeChange(from, to, reason string) {
	if t.api == nil {
		return
	}
	t.send(fmt.Sprintf("🔀 Mode %s → %s\n%s", from, to, reason))
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}
