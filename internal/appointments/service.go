package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-booking-agent/internal/clients"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var bookingTracer = otel.Tracer("dental.internal.appointments")

// ClientPromoter upgrades a lead after a successful booking.
type ClientPromoter interface {
	PromoteToClient(ctx context.Context, tenantID string, clientID uuid.UUID, profile clients.Profile) error
}

// BookRequest describes a new booking.
type BookRequest struct {
	TenantID string
	ClientID uuid.UUID
	Start    time.Time
	Reason   string
	ClinicID string
	DoctorID string
	FullName string
	Email    string
	Phone    string
}

// RescheduleRequest moves the appointment found on OriginalDate to NewStart.
type RescheduleRequest struct {
	TenantID     string
	ClientID     uuid.UUID
	OriginalDate time.Time
	NewStart     time.Time
	ClinicID     string
}

// Service implements booking, cancellation and rescheduling on top of a
// constrained Repository.
//
// Book is not idempotent: two calls with different start times create two
// visits, and a repeat at the same start time fails with ErrSlotTaken.
type Service struct {
	repo     Repository
	clock    *Clock
	promoter ClientPromoter
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
}

// NewService wires the booking service.
func NewService(repo Repository, clock *Clock, promoter ClientPromoter, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, clock: clock, promoter: promoter, metrics: m, logger: logger}
}

// Clock exposes the clinic clock.
func (s *Service) Clock() *Clock {
	return s.clock
}

// Book persists a scheduled appointment. The store constraint is the only
// conflict check. Client promotion failures are logged and swallowed.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "appointments.book", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("clinic.id", req.ClinicID),
	))
	defer span.End()

	if req.Start.IsZero() {
		return nil, ErrInvalidTime
	}
	appt := &Appointment{
		TenantID:  req.TenantID,
		ClientID:  req.ClientID,
		ClinicID:  req.ClinicID,
		DoctorID:  req.DoctorID,
		StartTime: req.Start,
		EndTime:   req.Start.Add(Duration),
		Status:    StatusScheduled,
		Reason:    strings.TrimSpace(req.Reason),
	}
	if err := s.repo.Insert(ctx, appt); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.ObserveConflict("book")
			s.logger.Info("booking rejected by slot constraint", "tenant_id", req.TenantID, "clinic_id", req.ClinicID, "start", req.Start)
			return nil, ErrSlotTaken
		}
		span.RecordError(err)
		return nil, err
	}

	if s.promoter != nil {
		profile := clients.Profile{FullName: req.FullName, Email: req.Email, Phone: req.Phone}
		if err := s.promoter.PromoteToClient(ctx, req.TenantID, req.ClientID, profile); err != nil {
			s.logger.Warn("client promotion failed", "tenant_id", req.TenantID, "client_id", req.ClientID, "error", err)
		}
	}

	s.logger.Info("appointment booked", "tenant_id", req.TenantID, "client_id", req.ClientID,
		"appointment_id", appt.ID, "start", appt.StartTime)
	return appt, nil
}

// Cancel cancels the client's non-cancelled appointments on the civil date.
// Every same-day appointment is cancelled unless at (HH:MM) narrows the match
// to the one starting at that local time.
func (s *Service) Cancel(ctx context.Context, tenantID string, clientID uuid.UUID, date time.Time, at string) (int64, error) {
	from, to := s.clock.DayBounds(date)
	if strings.TrimSpace(at) != "" {
		hour, min, err := ParseClock(at)
		if err != nil {
			return 0, err
		}
		y, m, d := date.Date()
		from = s.clock.Date(y, m, d, hour, min)
		to = from.Add(time.Minute)
	}
	n, err := s.repo.CancelBetween(ctx, tenantID, clientID, from, to)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	s.logger.Info("appointments cancelled", "tenant_id", tenantID, "client_id", clientID, "count", n, "date", from.Format("2006-01-02"))
	return n, nil
}

// Reschedule moves the earliest active appointment on OriginalDate to NewStart
// as one conditional update. The same slot constraint guards the new time.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "appointments.reschedule", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
	))
	defer span.End()

	if req.NewStart.IsZero() {
		return nil, ErrInvalidTime
	}
	from, to := s.clock.DayBounds(req.OriginalDate)
	existing, err := s.repo.ListActiveBetween(ctx, req.TenantID, req.ClientID, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(existing) == 0 {
		return nil, ErrNotFound
	}
	target := existing[0]

	if err := s.repo.Move(ctx, req.TenantID, target.ID, req.NewStart, req.NewStart.Add(Duration), req.ClinicID); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.ObserveConflict("reschedule")
		}
		return nil, err
	}
	moved, err := s.repo.Get(ctx, req.TenantID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("appointments: reload after move: %w", err)
	}
	s.logger.Info("appointment rescheduled", "tenant_id", req.TenantID, "client_id", req.ClientID,
		"appointment_id", moved.ID, "from", target.StartTime, "to", moved.StartTime)
	return moved, nil
}

// Upcoming returns the client's soonest non-cancelled appointments from now on.
func (s *Service) Upcoming(ctx context.Context, tenantID string, clientID uuid.UUID, limit int) ([]Appointment, error) {
	return s.repo.ListUpcoming(ctx, tenantID, clientID, s.clock.Now(), limit)
}
