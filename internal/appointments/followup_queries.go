package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// reminderStatuses are the states that still expect the patient to show up.
var reminderStatuses = []Status{StatusScheduled, StatusConfirmed, StatusRescheduled}

// ListReminderDue returns visits starting in [from, to) that have not been reminded yet.
func (r *PostgresRepository) ListReminderDue(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed', 'rescheduled')
		  AND reminder_sent = false
		  AND start_time >= $1 AND start_time < $2
		ORDER BY start_time ASC
		LIMIT $3`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list reminder due: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// MarkReminderSent confirms the visit and sets reminder_sent. It reports false
// when another run already flagged the row or the visit is no longer active.
func (r *PostgresRepository) MarkReminderSent(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET status = 'confirmed', reminder_sent = true, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND reminder_sent = false
		  AND status IN ('scheduled', 'confirmed', 'rescheduled')`, id, tenantID)
	if err != nil {
		return false, fmt.Errorf("appointments: mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListReviewDue returns completed visits that ended in [from, to] without a review request.
// Both edges are inclusive; MarkReviewSent keeps overlapping runs from sending twice.
func (r *PostgresRepository) ListReviewDue(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'completed'
		  AND review_sent = false
		  AND end_time >= $1 AND end_time <= $2
		ORDER BY end_time ASC
		LIMIT $3`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list review due: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *PostgresRepository) MarkReviewSent(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET review_sent = true, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND review_sent = false`, id, tenantID)
	if err != nil {
		return false, fmt.Errorf("appointments: mark review sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListAvailableSlots returns clinic-published open slots starting after from.
func (r *PostgresRepository) ListAvailableSlots(ctx context.Context, tenantID, clinicID string, from time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND clinic_id = $2
		  AND status = 'available'
		  AND start_time > $3
		ORDER BY start_time ASC
		LIMIT $4`, tenantID, clinicID, from.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list available: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *MemoryRepository) ListReminderDue(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	return r.filter(limit, func(a *Appointment) bool {
		return hasStatus(a.Status, reminderStatuses) && !a.ReminderSent &&
			!a.StartTime.Before(from) && a.StartTime.Before(to)
	}), nil
}

func (r *MemoryRepository) MarkReminderSent(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.TenantID != tenantID || a.ReminderSent || !hasStatus(a.Status, reminderStatuses) {
		return false, nil
	}
	a.Status = StatusConfirmed
	a.ReminderSent = true
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) ListReviewDue(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	return r.filter(limit, func(a *Appointment) bool {
		return a.Status == StatusCompleted && !a.ReviewSent &&
			!a.EndTime.Before(from) && !a.EndTime.After(to)
	}), nil
}

func (r *MemoryRepository) MarkReviewSent(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.TenantID != tenantID || a.ReviewSent {
		return false, nil
	}
	a.ReviewSent = true
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) ListAvailableSlots(ctx context.Context, tenantID, clinicID string, from time.Time, limit int) ([]Appointment, error) {
	return r.filter(limit, func(a *Appointment) bool {
		return a.Status == StatusAvailable && a.TenantID == tenantID && a.ClinicID == clinicID && a.StartTime.After(from)
	}), nil
}

func (r *MemoryRepository) filter(limit int, keep func(*Appointment) bool) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func hasStatus(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
