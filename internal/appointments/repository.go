package appointments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists appointments. Insert and Move must report ErrSlotTaken
// when the store's exclusion constraint rejects the write.
type Repository interface {
	BusyLister
	Insert(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error)
	ListUpcoming(ctx context.Context, tenantID string, clientID uuid.UUID, from time.Time, limit int) ([]Appointment, error)
	ListActiveBetween(ctx context.Context, tenantID string, clientID uuid.UUID, from, to time.Time) ([]Appointment, error)
	CancelBetween(ctx context.Context, tenantID string, clientID uuid.UUID, from, to time.Time) (int64, error)
	Move(ctx context.Context, tenantID string, id uuid.UUID, start, end time.Time, clinicID string) error
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status Status) error
}

// MemoryRepository emulates the store's slot exclusion under a mutex.
type MemoryRepository struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{appts: make(map[uuid.UUID]*Appointment)}
}

func (r *MemoryRepository) Insert(ctx context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	if occupies(appt.Status) && r.conflictLocked(appt.TenantID, appt.ClinicID, appt.StartTime, appt.EndTime, uuid.Nil) {
		return ErrSlotTaken
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	cp := *appt
	r.appts[appt.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListBusyStarts(ctx context.Context, tenantID, clinicID string, from, to time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Time
	for _, a := range r.appts {
		if !a.Occupies() || (tenantID != "" && a.TenantID != tenantID) || (clinicID != "" && a.ClinicID != clinicID) {
			continue
		}
		if !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a.StartTime)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *MemoryRepository) ListUpcoming(ctx context.Context, tenantID string, clientID uuid.UUID, from time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.TenantID == tenantID && a.ClientID == clientID && a.Occupies() && !a.StartTime.Before(from) {
			out = append(out, *a)
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListActiveBetween(ctx context.Context, tenantID string, clientID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.TenantID == tenantID && a.ClientID == clientID && a.Occupies() &&
			!a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, *a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) CancelBetween(ctx context.Context, tenantID string, clientID uuid.UUID, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.appts {
		if a.TenantID == tenantID && a.ClientID == clientID && a.Status != StatusCancelled &&
			!a.StartTime.Before(from) && a.StartTime.Before(to) {
			a.Status = StatusCancelled
			a.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Move(ctx context.Context, tenantID string, id uuid.UUID, start, end time.Time, clinicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.TenantID != tenantID || a.Status == StatusCancelled {
		return ErrNotFound
	}
	if clinicID == "" {
		clinicID = a.ClinicID
	}
	if r.conflictLocked(tenantID, clinicID, start, end, id) {
		return ErrSlotTaken
	}
	a.StartTime, a.EndTime, a.ClinicID = start, end, clinicID
	a.Status = StatusRescheduled
	a.ReminderSent = false
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	if occupies(status) && !a.Occupies() && r.conflictLocked(tenantID, a.ClinicID, a.StartTime, a.EndTime, id) {
		return ErrSlotTaken
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// All returns a snapshot of every stored appointment ordered by start time.
func (r *MemoryRepository) All() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0, len(r.appts))
	for _, a := range r.appts {
		out = append(out, *a)
	}
	sortByStart(out)
	return out
}

func (r *MemoryRepository) conflictLocked(tenantID, clinicID string, start, end time.Time, skip uuid.UUID) bool {
	for id, a := range r.appts {
		if id == skip || !a.Occupies() || a.TenantID != tenantID || a.ClinicID != clinicID {
			continue
		}
		if a.StartTime.Equal(start) || Overlaps(a.StartTime, a.EndTime, start, end) {
			return true
		}
	}
	return false
}

func sortByStart(list []Appointment) {
	sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
}
