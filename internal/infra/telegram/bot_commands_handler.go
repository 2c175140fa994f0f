// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"fmt"
	"strings"

	"gym_billing_bot/internal/domain/member"
	"gym_billing_bot/internal/infra/config"
	idb "gym_billing_bot/internal/infra/database" // For ErrMemberNotFound

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	cfg *config.AppConfig, // For AdminChatID
	memberRepo member.Repository,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		// Check if Admin
		if senderID == cfg.AdminChatID {
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("¡Hola %s! Soy el bot de %s. Usá /help para ver los comandos disponibles.", c.Sender().FirstName, cfg.GymName))
		}

		// Check if Member
		m, err := memberRepo.GetByChatID(ctx, senderID)
		if err == nil { // Member found
			if m.Active {
				logCtx.WithField("member_id", m.ID).Info("User identified as active member")
				return c.Send(fmt.Sprintf("¡Hola %s! Por acá te voy a avisar sobre tus cuotas y tus clases. Usá /estado para ver tu situación.", m.FullName))
			}
			logCtx.WithField("member_id", m.ID).Info("User identified as inactive member")
			return c.Send("Tu membresía está dada de baja. Acercate a recepción para reactivarla.")
		} else if err != idb.ErrMemberNotFound { // Some other DB error
			logCtx.WithError(err).Error("Error checking member status for /start command")
			return c.Send("Ocurrió un error al consultar tu estado. Probá de nuevo más tarde.")
		}

		// Unknown user
		logCtx.Info("User is unknown")
		return c.Send(fmt.Sprintf("¡Hola! Soy el bot de %s. Si sos socio/a, pedile al staff que asocie tu Telegram en recepción.", cfg.GymName))
	})

	b.Handle("/estado", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/estado").WithField("sender_id", senderID)
		logCtx.Info("Processing /estado command")

		m, err := memberRepo.GetByChatID(ctx, senderID)
		if err != nil {
			if err == idb.ErrMemberNotFound {
				return c.Send("No encontramos una membresía asociada a tu Telegram. Acercate a recepción para vincularla.")
			}
			logCtx.WithError(err).Error("Error loading member for /estado command")
			return c.Send("Ocurrió un error al consultar tu estado. Probá de nuevo más tarde.")
		}

		due := "-"
		if m.NextDueDate.Valid {
			due = m.NextDueDate.Time.Format("02/01/2006")
		}

		var reply strings.Builder
		reply.WriteString(fmt.Sprintf("Hola %s, tu situación:\n", m.FullName))
		reply.WriteString(fmt.Sprintf("Estado: %s\n", stateLabel(m.State())))
		reply.WriteString(fmt.Sprintf("Próximo vencimiento: %s\n", due))
		if m.OverdueCycles > 0 {
			reply.WriteString(fmt.Sprintf("Cuotas vencidas: %d\n", m.OverdueCycles))
		}
		if m.LastPaymentDate.Valid {
			reply.WriteString(fmt.Sprintf("Último pago: %s", m.LastPaymentDate.Time.Format("02/01/2006")))
		}
		return c.Send(reply.String())
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		// Admin Help
		if senderID == cfg.AdminChatID {
			logCtx.Info("User identified as Admin, sending admin help.")
			var helpText strings.Builder
			helpText.WriteString("Comandos de administración disponibles:\n\n")
			helpText.WriteString("`/alta_socio <ChatID> <DíasDeCiclo> <Nombre completo>`\n - Dar de alta un socio. ChatID 0 si no usa Telegram.\n\n")
			helpText.WriteString("`/registrar_pago <SocioID> <Monto> <Mes> <Año>`\n - Registrar el pago de una cuota.\n\n")
			helpText.WriteString("`/baja_socio <SocioID>`\n - Dar de baja una membresía.\n\n")
			helpText.WriteString("`/listar_socios`\n - Ver todos los socios con su estado de cuota.\n\n")
			helpText.WriteString("`/ofrecer_lugar <SocioID> <ClaseID> <Fecha> <Hora> <Nombre de la clase>`\n - Ofrecer un lugar liberado a un socio en lista de espera.\n\n")
			helpText.WriteString("`/help`\n - Mostrar este mensaje de ayuda.")
			return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}

		// Member Help
		m, err := memberRepo.GetByChatID(ctx, senderID)
		if err == nil {
			if m.Active {
				logCtx.WithField("member_id", m.ID).Info("User identified as active member, sending member help.")
				return c.Send("Te aviso cuando se registra un pago tuyo, cuando tu cuota está por vencer y si quedás con deuda. También te escribo si se libera un lugar en una clase con lista de espera.\n\n`/estado` - Ver tu situación de cuota.\n`/help` - Mostrar este mensaje.")
			}
			logCtx.WithField("member_id", m.ID).Info("User identified as inactive member, sending restricted help.")
			return c.Send("Tu membresía está dada de baja. Para reactivarla, hablá con el staff en recepción.")
		} else if err != idb.ErrMemberNotFound {
			logCtx.WithError(err).Error("Error checking member status for /help command")
			return c.Send("Ocurrió un error al consultar tu estado. Probá de nuevo más tarde.")
		}

		// Unknown User Help
		logCtx.Info("User is unknown, sending restricted help.")
		return c.Send("No hay comandos disponibles para vos. Si sos socio/a y querés recibir avisos, pedile al staff que vincule tu Telegram.")
	})
}
