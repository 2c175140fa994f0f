package messenger

import (
	"context"
	"fmt"
)

// Client abstracts the outbound messaging provider. It is implemented
// twice with identical semantics: the bot library adapter (primary) and
// a plain HTTP Bot API client used as fallback when the primary is not
// initialized.
type Client interface {
	// SendTemplate renders the template with the given parameters and
	// sends it to the recipient, returning the provider's message id.
	SendTemplate(ctx context.Context, recipient string, template TemplateID, params []string) (externalID string, err error)
}

// TemplateID names a message template.
type TemplateID string

const (
	TemplatePaymentConfirmation TemplateID = "payment_confirmation"
	TemplateOverdueReminder     TemplateID = "overdue_reminder"
	TemplateDeactivationNotice  TemplateID = "deactivation_notice"
	TemplateDueSoonReminder     TemplateID = "due_soon_reminder"
	TemplateWelcome             TemplateID = "welcome"
	TemplateWaitlistOffer       TemplateID = "waitlist_offer"
	TemplateWaitlistPromoted    TemplateID = "waitlist_promoted"
	TemplateWaitlistDeclined    TemplateID = "waitlist_declined"
)

// templates holds the member-facing texts. Positional %s slots are filled
// from the params passed to SendTemplate, in order.
var templates = map[TemplateID]struct {
	text   string
	params int
}{
	TemplatePaymentConfirmation: {"Hola %s! Registramos tu pago de $%s con fecha %s. ¡Gracias por seguir entrenando con nosotros!", 3},
	TemplateOverdueReminder:     {"Hola %s! Tu cuota venció el %s y registrás %s cuota(s) vencida(s). Podés regularizarla en recepción.", 3},
	TemplateDeactivationNotice:  {"Hola %s! Tu membresía fue dada de baja el %s. Motivo: %s. Acercate a recepción para reactivarla.", 3},
	TemplateDueSoonReminder:     {"Hola %s! Te recordamos que tu cuota vence el %s. ¡Evitá recargos pagando a tiempo!", 2},
	TemplateWelcome:             {"¡Bienvenido/a %s! Tu membresía en %s ya está activa. ¡Nos vemos en el gimnasio!", 2},
	TemplateWaitlistOffer:       {"Hola %s! Se liberó un lugar en la clase de %s del %s a las %s. ¿Querés tomarlo?", 4},
	TemplateWaitlistPromoted:    {"¡%s! Confirmamos tu promoción desde lista de espera a la clase de %s del %s a las %s. ¡Nos vemos!", 4},
	TemplateWaitlistDeclined:    {"¡Gracias %s! Registramos tu NO a la clase de %s del %s a las %s. Tu lugar en espera se mantiene.", 4},
}

// Render produces the final message text for a template.
func Render(template TemplateID, params []string) (string, error) {
	tpl, ok := templates[template]
	if !ok {
		return "", fmt.Errorf("unknown message template: %s", template)
	}
	if len(params) != tpl.params {
		return "", fmt.Errorf("template %s expects %d params, got %d", template, tpl.params, len(params))
	}
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}
	return fmt.Sprintf(tpl.text, args...), nil
}
