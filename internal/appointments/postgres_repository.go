package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes raised by the slot constraints.
const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `id, tenant_id, client_id, COALESCE(clinic_id, ''), COALESCE(doctor_id, ''),
	start_time, end_time, status, reason, reminder_sent, review_sent, created_at, updated_at`

// PostgresRepository stores appointments guarded by the slot exclusion constraint.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a repository backed by a pgx pool or conn.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("appointments: db required")
	}
	return &PostgresRepository{db: db}
}

// Insert persists a new appointment. A constraint violation maps to ErrSlotTaken.
func (r *PostgresRepository) Insert(ctx context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, client_id, clinic_id, doctor_id, start_time, end_time, status, reason)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		appt.ID, appt.TenantID, appt.ClientID, appt.ClinicID, appt.DoctorID,
		appt.StartTime.UTC(), appt.EndTime.UTC(), string(appt.Status), appt.Reason,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if IsSlotConflict(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) ListBusyStarts(ctx context.Context, tenantID, clinicID string, from, to time.Time) ([]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_time
		FROM appointments
		WHERE ($1 = '' OR tenant_id = $1)
		  AND ($2 = '' OR clinic_id = $2)
		  AND status NOT IN ('cancelled', 'available')
		  AND start_time >= $3 AND start_time < $4
		ORDER BY start_time ASC`, tenantID, clinicID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list busy: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("appointments: scan busy: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListUpcoming(ctx context.Context, tenantID string, clientID uuid.UUID, from time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND client_id = $2
		  AND status NOT IN ('cancelled', 'available')
		  AND start_time >= $3
		ORDER BY start_time ASC
		LIMIT $4`, tenantID, clientID, from.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list upcoming: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *PostgresRepository) ListActiveBetween(ctx context.Context, tenantID string, clientID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND client_id = $2
		  AND status NOT IN ('cancelled', 'available')
		  AND start_time >= $3 AND start_time < $4
		ORDER BY start_time ASC`, tenantID, clientID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list active: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// CancelBetween cancels every non-cancelled appointment of the client starting in [from, to).
func (r *PostgresRepository) CancelBetween(ctx context.Context, tenantID string, clientID uuid.UUID, from, to time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET status = 'cancelled', updated_at = now()
		WHERE tenant_id = $1 AND client_id = $2
		  AND status <> 'cancelled'
		  AND start_time >= $3 AND start_time < $4`, tenantID, clientID, from.UTC(), to.UTC())
	if err != nil {
		return 0, fmt.Errorf("appointments: cancel: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Move rewrites the slot of an existing appointment in place.
func (r *PostgresRepository) Move(ctx context.Context, tenantID string, id uuid.UUID, start, end time.Time, clinicID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET
			start_time = $3,
			end_time = $4,
			clinic_id = COALESCE(NULLIF($5, ''), clinic_id),
			status = 'rescheduled',
			reminder_sent = false,
			updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status <> 'cancelled'`,
		id, tenantID, start.UTC(), end.UTC(), clinicID)
	if err != nil {
		if IsSlotConflict(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: move: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status Status) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2`, id, tenantID, string(status))
	if err != nil {
		if IsSlotConflict(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsSlotConflict reports whether err is a unique or exclusion violation.
func IsSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation || pgErr.Code == pgExclusionViolation
	}
	return false
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		status string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.ClientID, &a.ClinicID, &a.DoctorID,
		&a.StartTime, &a.EndTime, &status, &a.Reason, &a.ReminderSent, &a.ReviewSent,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
