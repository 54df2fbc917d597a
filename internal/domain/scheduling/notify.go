package scheduling

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cabinet/booking/internal/platform/notification"
)

// EmailNotifier turns appointments into templated emails.
type EmailNotifier struct {
	mgr           *notification.Manager
	practiceEmail string
	logger        zerolog.Logger
}

func NewEmailNotifier(mgr *notification.Manager, practiceEmail string, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		mgr:           mgr,
		practiceEmail: practiceEmail,
		logger:        logger.With().Str("component", "notifier").Logger(),
	}
}

// SendBookingRequest emails the practice, then acknowledges receipt to the
// patient. Only the practice email decides success; a failed acknowledgement
// is logged.
func (n *EmailNotifier) SendBookingRequest(ctx context.Context, a *Appointment) error {
	data := templateData(a)
	if _, err := n.mgr.SendFromTemplate(ctx, notification.TemplateBookingRequest, data, n.practiceEmail); err != nil {
		return fmt.Errorf("notify practice: %w", err)
	}
	if _, err := n.mgr.SendFromTemplate(ctx, notification.TemplateBookingReceived, data, a.Email); err != nil {
		n.logger.Warn().Err(err).Str("appointment_id", a.ID).Msg("patient acknowledgement not sent")
	}
	return nil
}

// SendReminder emails the patient about an upcoming appointment.
func (n *EmailNotifier) SendReminder(ctx context.Context, a *Appointment) error {
	_, err := n.mgr.SendFromTemplate(ctx, notification.TemplateReminder, templateData(a), a.Email)
	return err
}

var consultationLabels = map[ConsultationType]string{
	ConsultationCabinet:  "au cabinet",
	ConsultationDomicile: "à domicile",
	ConsultationGroupe:   "en groupe",
	ConsultationDistance: "à distance",
}

func templateData(a *Appointment) map[string]string {
	first := "non"
	if a.IsFirstConsultation {
		first = "oui"
	}
	label, ok := consultationLabels[a.ConsultationType]
	if !ok {
		label = string(a.ConsultationType)
	}
	return map[string]string{
		"appointment_id":     a.ID,
		"patient_name":       a.FullName(),
		"email":              a.Email,
		"phone":              a.Phone,
		"date":               a.Date,
		"time":               a.Time,
		"duration":           fmt.Sprint(a.Duration),
		"consultation_type":  label,
		"first_consultation": first,
		"reason":             a.Notes,
	}
}
