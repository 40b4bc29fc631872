package appointments

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled       Status = "scheduled"
	StatusConfirmed       Status = "confirmed"
	StatusCancelled       Status = "cancelled"
	StatusCompleted       Status = "completed"
	StatusRescheduled     Status = "rescheduled"
	StatusNeedsReschedule Status = "needs_reschedule"
	// StatusAvailable marks a clinic-published open slot rather than a patient visit.
	StatusAvailable Status = "available"
)

// Duration is the fixed length of every booked visit.
const Duration = 30 * time.Minute

var (
	// ErrSlotTaken is returned when the store rejects an overlapping appointment.
	ErrSlotTaken = errors.New("appointments: slot already taken")
	// ErrNotFound is returned when no matching appointment exists.
	ErrNotFound = errors.New("appointments: not found")
	// ErrInvalidTime is returned for unparseable or out-of-range times.
	ErrInvalidTime = errors.New("appointments: invalid time")
)

// Appointment is one scheduled slot.
type Appointment struct {
	ID           uuid.UUID
	TenantID     string
	ClientID     uuid.UUID
	ClinicID     string
	DoctorID     string
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	Reason       string
	ReminderSent bool
	ReviewSent   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Occupies reports whether the appointment takes part in slot exclusivity.
func (a Appointment) Occupies() bool {
	return occupies(a.Status)
}

func occupies(s Status) bool {
	return s != StatusCancelled && s != StatusAvailable
}

// Overlaps reports whether two half-open ranges intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
