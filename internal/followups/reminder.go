package followups

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/conversation"
	"github.com/wolfman30/dental-booking-agent/internal/messages"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
)

const reminderJob = "reminder"

// Reminder window relative to now.
const (
	reminderFrom = 20 * time.Hour
	reminderTo   = 28 * time.Hour
)

// ReminderJob sends a confirmation template the day before each visit.
type ReminderJob struct {
	Deps
}

func NewReminderJob(deps Deps) (*ReminderJob, error) {
	if err := deps.validate("reminder"); err != nil {
		return nil, err
	}
	return &ReminderJob{Deps: deps}, nil
}

func (j *ReminderJob) Name() string { return reminderJob }

// Run sends reminders for visits starting 20 to 28 hours from now. A visit
// whose flag is already set is never a candidate, so reruns are no-ops.
func (j *ReminderJob) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "followups.reminder.run")
	defer span.End()
	defer func() { j.Metrics.ObserveRun(reminderJob, time.Since(start).Seconds()) }()

	now := j.Clock.Now()
	candidates, err := j.Appointments.ListReminderDue(ctx, now.Add(reminderFrom), now.Add(reminderTo), maxCandidates)
	if err != nil {
		span.RecordError(err)
		return Summary{}, fmt.Errorf("reminder: list candidates: %w", err)
	}
	span.SetAttributes(attribute.Int("dental.followups.candidates", len(candidates)))

	sum := j.runBatches(ctx, reminderJob, candidates, j.remind)
	j.Logger.Info("reminder: run finished", "candidates", sum.Candidates, "sent", sum.Sent, "failed", sum.Failed)
	return sum, nil
}

func (j *ReminderJob) remind(ctx context.Context, appt appointments.Appointment) error {
	v, err := j.loadVisit(ctx, appt)
	if err != nil {
		return err
	}
	creds := v.tenant.Config.Credentials
	fields := j.reminderFields(v)

	var logged string
	mapping := v.tenant.Config.Templates.Reminder
	if strings.TrimSpace(mapping.Name) != "" {
		tmpl := messaging.Template{Name: mapping.Name, Language: mapping.Language}
		for _, f := range mapping.Fields {
			tmpl.Parameters = append(tmpl.Parameters, fields[f])
		}
		if _, err := j.Sender.SendTemplate(ctx, v.client.Phone, tmpl, creds); err != nil {
			return fmt.Errorf("send reminder template: %w", err)
		}
		logged = fmt.Sprintf("template %s: %s", mapping.Name, strings.Join(tmpl.Parameters, " | "))
	} else {
		logged = reminderText(fields)
		if _, err := j.Sender.SendText(ctx, v.client.Phone, logged, creds); err != nil {
			return fmt.Errorf("send reminder text: %w", err)
		}
	}

	flagged, err := j.Appointments.MarkReminderSent(ctx, appt.TenantID, appt.ID)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if !flagged {
		j.Logger.Warn("reminder: flag already set by another run", "appointment_id", appt.ID)
	}
	j.logOutbound(ctx, v, messages.KindReminder, logged)
	return nil
}

func (j *ReminderJob) reminderFields(v *visit) map[string]string {
	local := j.Clock.Local(v.appt.StartTime)
	fields := map[string]string{
		"patient_name": firstNonEmpty(v.client.Name, "paciente"),
		"date":         conversation.FormatSpanishDate(local),
		"time":         local.Format("15:04"),
		"clinic_name":  firstNonEmpty(v.tenant.Name, "la clínica"),
	}
	if v.clinic != nil {
		fields["clinic_name"] = v.clinic.Name
		fields["clinic_address"] = v.clinic.Address
	}
	return fields
}

func reminderText(fields map[string]string) string {
	text := fmt.Sprintf("Hola %s, le recordamos su cita en %s el %s a las %s.",
		fields["patient_name"], fields["clinic_name"], fields["date"], fields["time"])
	if addr := fields["clinic_address"]; addr != "" {
		text += " Dirección: " + addr + "."
	}
	return text + " Si no puede asistir, responda a este mensaje."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
