package leads

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/gongonut/propiedadraiz-backend/internal/config"
	"github.com/gongonut/propiedadraiz-backend/internal/properties"
)

// MailNotifier e-mails the property's contact address over SMTP.
type MailNotifier struct {
	cfg config.MailConfig
}

// NewNotifier returns nil when mail is disabled so Service skips notification.
func NewNotifier(cfg config.MailConfig) Notifier {
	if !cfg.Enabled || strings.TrimSpace(cfg.Host) == "" {
		return nil
	}
	return &MailNotifier{cfg: cfg}
}

func (n *MailNotifier) NotifyLead(ctx context.Context, lead Lead, property properties.Property) error {
	to := strings.TrimSpace(property.EmailContacto)
	if to == "" {
		return nil
	}
	m, err := buildLeadMessage(n.cfg.From, to, lead, property)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func buildLeadMessage(from, to string, lead Lead, property properties.Property) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	m.Subject("Nuevo interesado en el inmueble " + property.Code)
	var body strings.Builder
	fmt.Fprintf(&body, "Inmueble: %s (%s)\n", property.Code, property.Title())
	fmt.Fprintf(&body, "Nombre: %s\n", lead.Name)
	fmt.Fprintf(&body, "WhatsApp: %s\n", lead.WhatsApp)
	if lead.Email != "" {
		fmt.Fprintf(&body, "Email: %s\n", lead.Email)
	}
	m.SetBodyString(mail.TypeTextPlain, body.String())
	m.SetMessageID()
	return m, nil
}
