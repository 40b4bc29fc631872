package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// StatusWriter flags the appointment being renegotiated.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status appointments.Status) error
}

// Intake queues appointments for renegotiation. It carries only the store side
// of the job so the conversation worker can run it without a drafter.
type Intake struct {
	queue        Queue
	appointments StatusWriter
	clients      ClientReader
	tenants      TenantReader
	clock        *appointments.Clock
	logger       *logging.Logger
}

// NewIntake validates the collaborators. Name lookups for the snapshot are
// best-effort; the queue, status writer and clock are required.
func NewIntake(queue Queue, appts StatusWriter, clientReader ClientReader, tenants TenantReader, clock *appointments.Clock, logger *logging.Logger) (*Intake, error) {
	switch {
	case queue == nil:
		return nil, errors.New("negotiation: queue required")
	case appts == nil:
		return nil, errors.New("negotiation: appointment store required")
	case clock == nil:
		return nil, errors.New("negotiation: clock required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Intake{queue: queue, appointments: appts, clients: clientReader, tenants: tenants, clock: clock, logger: logger}, nil
}

// Enqueue snapshots the appointment, queues it and flags it needs_reschedule.
func (in *Intake) Enqueue(ctx context.Context, appt *appointments.Appointment, reason string) (*Entry, error) {
	if appt == nil {
		return nil, errors.New("negotiation: appointment required")
	}
	if appt.Status == appointments.StatusNeedsReschedule {
		return nil, fmt.Errorf("negotiation: appointment %s already awaiting a new time", appt.ID)
	}
	e := &Entry{
		AppointmentID: appt.ID,
		ClientID:      appt.ClientID,
		TenantID:      appt.TenantID,
		Context:       in.snapshot(ctx, appt, reason),
	}
	if err := in.queue.Enqueue(ctx, e); err != nil {
		return nil, err
	}
	if err := in.appointments.UpdateStatus(ctx, appt.TenantID, appt.ID, appointments.StatusNeedsReschedule); err != nil {
		return e, fmt.Errorf("negotiation: flag appointment: %w", err)
	}
	in.logger.Info("negotiation: appointment queued", "tenant_id", appt.TenantID,
		"appointment_id", appt.ID.String(), "entry_id", e.ID.String())
	return e, nil
}

// RequestReschedule is Enqueue without the entry, for callers that only need
// to know the request was accepted.
func (in *Intake) RequestReschedule(ctx context.Context, appt *appointments.Appointment, reason string) error {
	_, err := in.Enqueue(ctx, appt, reason)
	return err
}

func (in *Intake) snapshot(ctx context.Context, appt *appointments.Appointment, reason string) Snapshot {
	s := Snapshot{
		Reason:        strings.TrimSpace(reason),
		ClinicID:      appt.ClinicID,
		OriginalStart: appt.StartTime,
		RequestedAt:   in.clock.Now(),
	}
	log := in.logger.With("tenant_id", appt.TenantID, "appointment_id", appt.ID.String())
	if in.clients != nil {
		if c, err := in.clients.Get(ctx, appt.TenantID, appt.ClientID); err == nil {
			s.PatientName = c.Name
		} else {
			log.Warn("negotiation: snapshot client lookup failed", "error", err)
		}
	}
	if in.tenants == nil {
		return s
	}
	if appt.ClinicID != "" {
		if c, err := in.tenants.GetClinic(ctx, appt.TenantID, appt.ClinicID); err == nil {
			s.ClinicName = c.Name
		} else {
			log.Warn("negotiation: snapshot clinic lookup failed", "error", err)
		}
	}
	if appt.DoctorID != "" {
		if d, err := in.tenants.GetDoctor(ctx, appt.TenantID, appt.DoctorID); err == nil {
			s.DoctorName = d.Name
		} else {
			log.Warn("negotiation: snapshot doctor lookup failed", "error", err)
		}
	}
	return s
}
