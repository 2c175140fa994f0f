// internal/infra/telegram/member_response_handlers.go
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gym_billing_bot/internal/app"
	"gym_billing_bot/internal/domain/member"
	idb "gym_billing_bot/internal/infra/database"

	"gopkg.in/telebot.v3"
)

// RegisterMemberResponseHandlers handles the inline-button answers to
// waitlist promotion offers. The handler only records the decision in
// the audit log; the outbox poller sends the confirmation afterwards.
func RegisterMemberResponseHandlers(ctx context.Context, b *telebot.Bot, memberRepo member.Repository, waitlistService *app.WaitlistService) {
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		data := strings.TrimSpace(c.Callback().Data)

		var accepted bool
		switch {
		case strings.HasPrefix(data, "wl_yes_"):
			accepted = true
		case strings.HasPrefix(data, "wl_no_"):
			accepted = false
		default:
			// Fallback for unhandled callbacks by this specific handler.
			c.Bot().OnError(fmt.Errorf("unhandled callback data by member_response_handler: %s", data), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Acción desconocida."})
		}

		parts := strings.Split(data, "_") // wl_yes_123
		if len(parts) != 3 {
			c.Bot().OnError(fmt.Errorf("invalid callback data format: %s", data), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Error al procesar tu respuesta."})
		}
		scheduleID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("invalid schedule id '%s' in callback: %w", parts[2], err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Error al identificar la clase."})
		}

		m, err := memberRepo.GetByChatID(ctx, c.Sender().ID)
		if err != nil {
			if err == idb.ErrMemberNotFound {
				return c.Respond(&telebot.CallbackResponse{Text: "No encontramos tu membresía."})
			}
			c.Bot().OnError(fmt.Errorf("loading member for callback %s: %w", data, err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Ocurrió un error."})
		}

		if accepted {
			err = waitlistService.RecordPromotion(ctx, m.ID, scheduleID, nil)
		} else {
			err = waitlistService.RecordDecline(ctx, m.ID, scheduleID, nil)
		}
		if err != nil {
			c.Bot().OnError(fmt.Errorf("recording waitlist answer for member %d, schedule %d: %w", m.ID, scheduleID, err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Ocurrió un error al guardar tu respuesta."})
		}

		if accepted {
			return c.Respond(&telebot.CallbackResponse{Text: "¡Listo! Te confirmamos el lugar."})
		}
		// The outbox sends the textual confirmation afterwards.
		// Callback an ack to remove the "processing" state on the button.
		return c.Respond()
	})
}
