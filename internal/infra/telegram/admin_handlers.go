package telegram

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"gym_billing_bot/internal/app"
	"gym_billing_bot/internal/domain/member"
	idb "gym_billing_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers registers handlers for the staff commands.
// It requires the bot instance, the admin and waitlist services and the configured admin chat ID.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, waitlistService *app.WaitlistService, adminChatID int64, baseLogger *logrus.Entry) {
	b.Handle("/alta_socio", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/alta_socio",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminChatID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tenés permisos para ejecutar este comando.")
		}

		args := c.Args() // c.Args() returns []string
		// Expected format: /alta_socio <ChatID> <DíasDeCiclo> <Nombre completo...>
		if len(args) < 3 {
			handlerLogger.WithField("args_count", len(args)).Warn("Invalid command format")
			return c.Send("Formato inválido. Usá: /alta_socio <ChatID> <DíasDeCiclo> <Nombre completo>\n(ChatID 0 si el socio no usa Telegram)")
		}

		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ChatID debe ser un número.")
		}

		cycleDays, err := strconv.Atoi(args[1])
		if err != nil || cycleDays < 1 {
			return c.Send("Error: los días de ciclo deben ser un número mayor a cero.")
		}

		fullName := strings.TrimSpace(strings.Join(args[2:], " "))
		if fullName == "" {
			return c.Send("Error: el nombre no puede estar vacío.")
		}

		handlerLogger = handlerLogger.WithFields(logrus.Fields{
			"member_chat_id": chatID,
			"cycle_days":     cycleDays,
			"full_name":      fullName,
		})

		newMember, err := adminService.AddMember(ctx, c.Sender().ID, fullName, chatID, member.RoleMember, cycleDays)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch err {
			case app.ErrAdminNotAuthorized: // This check is technically redundant here due to the initial sender check
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send("Error: no tenés permisos para ejecutar este comando.")
			case app.ErrMemberAlreadyExists:
				logWithError.Warn("Member already exists")
				return c.Send(fmt.Sprintf("Error: ya existe un socio con el ChatID %d.", chatID))
			default:
				logWithError.Error("Failed to add member")
				return c.Send(fmt.Sprintf("Ocurrió un error al dar de alta al socio: %s", err.Error()))
			}
		}

		handlerLogger.WithField("new_member_id", newMember.ID).Info("Member added successfully")
		return c.Send(fmt.Sprintf("Socio %s (ID: %d) dado de alta correctamente. Ciclo: %d días.", newMember.FullName, newMember.ID, newMember.CycleDays))
	})

	b.Handle("/registrar_pago", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/registrar_pago",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminChatID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tenés permisos para ejecutar este comando.")
		}

		args := c.Args()
		// Expected format: /registrar_pago <SocioID> <Monto> <Mes> <Año>
		if len(args) != 4 {
			return c.Send("Formato inválido. Usá: /registrar_pago <SocioID> <Monto> <Mes> <Año>")
		}

		memberID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID de socio debe ser un número.")
		}
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil || amount <= 0 {
			return c.Send("Error: el monto debe ser un número mayor a cero.")
		}
		month, err := strconv.Atoi(args[2])
		if err != nil || month < 1 || month > 12 {
			return c.Send("Error: el mes debe estar entre 1 y 12.")
		}
		year, err := strconv.Atoi(args[3])
		if err != nil || year < 2000 {
			return c.Send("Error: el año no es válido.")
		}

		handlerLogger = handlerLogger.WithFields(logrus.Fields{
			"member_id": memberID,
			"amount":    amount,
			"period":    fmt.Sprintf("%02d/%d", month, year),
		})

		err = adminService.RegisterPayment(ctx, c.Sender().ID, memberID, amount, month, year, sql.NullTime{})
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case err == app.ErrAdminNotAuthorized:
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send("Error: no tenés permisos para ejecutar este comando.")
			case strings.Contains(err.Error(), idb.ErrMemberNotFound.Error()):
				logWithError.Warn("Member not found for payment")
				return c.Send(fmt.Sprintf("No se encontró un socio con el ID %d.", memberID))
			default:
				logWithError.Error("Failed to register payment")
				return c.Send(fmt.Sprintf("Ocurrió un error al registrar el pago: %s", err.Error()))
			}
		}

		handlerLogger.Info("Payment registered successfully")
		return c.Send(fmt.Sprintf("Pago de $%.2f registrado para el socio %d (período %02d/%d).", amount, memberID, month, year))
	})

	b.Handle("/baja_socio", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/baja_socio",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminChatID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tenés permisos para ejecutar este comando.")
		}

		args := c.Args()
		// Expected format: /baja_socio <SocioID>
		if len(args) != 1 {
			return c.Send("Formato inválido. Usá: /baja_socio <SocioID>")
		}

		memberID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			handlerLogger.WithField("arg", args[0]).Warn("Invalid member ID format")
			return c.Send("Error: el ID de socio debe ser un número.")
		}
		handlerLogger = handlerLogger.WithField("member_id", memberID)

		removed, err := adminService.DeactivateMember(ctx, c.Sender().ID, memberID)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch err {
			case app.ErrAdminNotAuthorized: // Redundant here
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send("Error: no tenés permisos para ejecutar este comando.")
			case idb.ErrMemberNotFound:
				logWithError.Warn("Member to deactivate not found")
				return c.Send(fmt.Sprintf("No se encontró un socio con el ID %d.", memberID))
			case app.ErrMemberAlreadyInactive:
				logWithError.Warn("Member already inactive")
				if removed != nil {
					return c.Send(fmt.Sprintf("El socio %s (ID: %d) ya estaba dado de baja.", removed.FullName, removed.ID))
				}
				return c.Send(fmt.Sprintf("El socio con ID %d ya estaba dado de baja.", memberID))
			default:
				logWithError.Error("Failed to deactivate member")
				return c.Send(fmt.Sprintf("Ocurrió un error al dar de baja al socio: %s", err.Error()))
			}
		}

		handlerLogger.Info("Member deactivated successfully")
		return c.Send(fmt.Sprintf("Socio %s (ID: %d) dado de baja correctamente.", removed.FullName, removed.ID))
	})

	b.Handle("/ofrecer_lugar", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/ofrecer_lugar",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminChatID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tenés permisos para ejecutar este comando.")
		}

		args := c.Args()
		// Expected format: /ofrecer_lugar <SocioID> <ClaseID> <Fecha> <Hora> <Nombre de la clase...>
		if len(args) < 5 {
			return c.Send("Formato inválido. Usá: /ofrecer_lugar <SocioID> <ClaseID> <Fecha dd/mm/aaaa> <Hora> <Nombre de la clase>")
		}

		memberID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID de socio debe ser un número.")
		}
		scheduleID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return c.Send("Error: el ID de clase debe ser un número.")
		}
		classDate := args[2]
		classTime := args[3]
		className := strings.TrimSpace(strings.Join(args[4:], " "))
		if className == "" {
			return c.Send("Error: el nombre de la clase no puede estar vacío.")
		}

		handlerLogger = handlerLogger.WithFields(logrus.Fields{
			"member_id":   memberID,
			"schedule_id": scheduleID,
			"class_name":  className,
		})

		err = waitlistService.OfferPromotion(ctx, memberID, scheduleID, className, classDate, classTime)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case err == app.ErrNoOfferTransport:
				logWithError.Warn("No interactive transport for waitlist offer")
				return c.Send("Error: el bot no puede enviar ofertas interactivas en este momento.")
			case strings.Contains(err.Error(), idb.ErrMemberNotFound.Error()):
				logWithError.Warn("Member not found for waitlist offer")
				return c.Send(fmt.Sprintf("No se encontró un socio con el ID %d.", memberID))
			case strings.Contains(err.Error(), "has no chat id"):
				logWithError.Warn("Member has no chat id for waitlist offer")
				return c.Send(fmt.Sprintf("El socio %d no tiene Telegram asociado.", memberID))
			default:
				logWithError.Error("Failed to send waitlist offer")
				return c.Send(fmt.Sprintf("Ocurrió un error al enviar la oferta: %s", err.Error()))
			}
		}

		handlerLogger.Info("Waitlist offer sent")
		return c.Send(fmt.Sprintf("Oferta enviada al socio %d por la clase %s del %s a las %s.", memberID, className, classDate, classTime))
	})

	b.Handle("/listar_socios", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/listar_socios",
			"sender_id": c.Sender().ID,
		})
		if c.Sender().ID != adminChatID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tenés permisos para ejecutar este comando.")
		}

		membersList, err := adminService.ListMembers(ctx, c.Sender().ID)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			if err == app.ErrAdminNotAuthorized {
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send("Error: no tenés permisos para ejecutar este comando.")
			}
			logWithError.Error("Failed to get member list")
			return c.Send(fmt.Sprintf("Ocurrió un error al obtener la lista de socios: %s", err.Error()))
		}

		if len(membersList) == 0 {
			handlerLogger.Info("No members found")
			return c.Send("No hay socios cargados.")
		}

		handlerLogger.WithField("members_count", len(membersList)).Info("Successfully retrieved member list")

		var response strings.Builder
		response.WriteString("--- Socios ---\n")
		for _, m := range membersList {
			due := "-"
			if m.NextDueDate.Valid {
				due = m.NextDueDate.Time.Format("02/01/2006")
			}
			response.WriteString(fmt.Sprintf("ID: %d | %s | Estado: %s | Vence: %s | Vencidas: %d\n",
				m.ID, m.FullName, stateLabel(m.State()), due, m.OverdueCycles))
		}
		return c.Send(response.String())
	})
}

// stateLabel maps a billing state to its member-facing Spanish label.
func stateLabel(s member.State) string {
	switch s {
	case member.StateCurrent:
		return "Al día"
	case member.StateOverdue:
		return "Con deuda"
	case member.StateSuspended:
		return "Suspendido"
	case member.StateExempt:
		return "Exento"
	}
	return string(s)
}
