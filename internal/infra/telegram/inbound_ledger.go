// internal/infra/telegram/inbound_ledger.go
package telegram

import (
	"context"
	"strconv"

	"gym_billing_bot/internal/domain/message"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// LedgerInbound records every incoming command, text and callback answer
// in the message ledger, so member replies show up next to the
// notifications they answer. A ledger failure never blocks the handler.
func LedgerInbound(ledger message.Repository, baseLogger *logrus.Entry) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			if c.Sender() != nil {
				body := c.Text()
				if cb := c.Callback(); cb != nil {
					body = cb.Data
				}
				if body != "" {
					attempt := &message.Attempt{
						Recipient: strconv.FormatInt(c.Sender().ID, 10),
						Category:  message.CategoryInbound,
						Direction: message.DirectionReceived,
						Status:    message.StatusReceived,
						Body:      body,
					}
					if err := ledger.Record(context.Background(), attempt); err != nil {
						baseLogger.WithError(err).Warn("Failed to record inbound message")
					}
				}
			}
			return next(c)
		}
	}
}
