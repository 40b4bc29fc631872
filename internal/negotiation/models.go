package negotiation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a negotiation queue entry.
type Status string

const (
	StatusPending     Status = "pending"
	StatusNegotiating Status = "negotiating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// ErrLeaseLost is returned when an entry is no longer held by the caller.
var ErrLeaseLost = errors.New("negotiation: lease lost")

// Snapshot is the context captured when an appointment is queued for renegotiation.
type Snapshot struct {
	Reason        string    `json:"reason,omitempty"`
	PatientName   string    `json:"patient_name,omitempty"`
	DoctorName    string    `json:"doctor_name,omitempty"`
	ClinicID      string    `json:"clinic_id,omitempty"`
	ClinicName    string    `json:"clinic_name,omitempty"`
	OriginalStart time.Time `json:"original_start"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Entry is one row of the negotiation queue.
type Entry struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	ClientID      uuid.UUID
	TenantID      string
	Context       Snapshot
	Status        Status
	Attempts      int
	LastError     string
	LeasedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RequeueResult counts the outcome of a stale-lease sweep.
type RequeueResult struct {
	Requeued int64
	Failed   int64
}
