// internal/infra/telegram/waitlist_offer_sender.go
package telegram

import (
	"context"
	"fmt"
	"strconv"

	"gopkg.in/telebot.v3"
)

// WaitlistOfferSender sends promotion offers with inline yes/no buttons.
// The callback data matches what RegisterMemberResponseHandlers parses.
type WaitlistOfferSender struct {
	bot *telebot.Bot
}

func NewWaitlistOfferSender(b *telebot.Bot) *WaitlistOfferSender {
	return &WaitlistOfferSender{bot: b}
}

func (s *WaitlistOfferSender) SendOffer(ctx context.Context, chatID, scheduleID int64, text string) (string, error) {
	// The bot library does not take a context, so honor cancellation
	// before handing off.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	markup := &telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{{
			{Text: "Sí, lo tomo", Data: fmt.Sprintf("wl_yes_%d", scheduleID)},
			{Text: "No, gracias", Data: fmt.Sprintf("wl_no_%d", scheduleID)},
		}},
	}

	msg, err := s.bot.Send(&telebot.User{ID: chatID}, text, markup)
	if err != nil {
		return "", fmt.Errorf("sending waitlist offer to chat %d: %w", chatID, err)
	}
	return strconv.Itoa(msg.ID), nil
}
