// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"
	"strconv"

	"gym_billing_bot/internal/domain/messenger"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the messenger.Client interface using the
// gopkg.in/telebot.v3 library. It is the primary transport.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendTemplate renders the template and sends it to the recipient chat.
func (tba *TelebotAdapter) SendTemplate(ctx context.Context, recipient string, template messenger.TemplateID, params []string) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid recipient chat id %q: %w", recipient, err)
	}

	text, err := messenger.Render(template, params)
	if err != nil {
		return "", err
	}

	// telebot's Send has no context plumbing; honor cancellation up front.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg, err := tba.bot.Send(&telebot.User{ID: chatID}, text, &telebot.SendOptions{})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}
