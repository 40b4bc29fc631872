package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queue is the negotiation queue as seen by the job.
type Queue interface {
	Enqueue(ctx context.Context, e *Entry) error
	Lease(ctx context.Context, limit int) ([]Entry, error)
	RequeueStale(ctx context.Context, leasedBefore time.Time, maxAttempts int) (RequeueResult, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

const entryColumns = `id, appointment_id, client_id, tenant_id, context, status, attempts,
	COALESCE(last_error, ''), leased_at, created_at, updated_at`

// Store persists the negotiation_queue table.
type Store struct {
	db DB
}

// NewStore creates a new negotiation store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Enqueue inserts a pending entry.
func (s *Store) Enqueue(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Status = StatusPending
	snapshot, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("negotiation: encode context: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO negotiation_queue (id, appointment_id, client_id, tenant_id, context, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING created_at, updated_at`,
		e.ID, e.AppointmentID, e.ClientID, e.TenantID, snapshot,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("negotiation: enqueue: %w", err)
	}
	return nil
}

// Lease selects pending entries and flips each to negotiating. The flip is
// conditional on the row still being pending, so an entry claimed by an
// overlapping run is dropped from this batch.
func (s *Store) Lease(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM negotiation_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("negotiation: select pending: %w", err)
	}
	candidates, err := scanEntries(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	leased := make([]Entry, 0, len(candidates))
	for _, e := range candidates {
		now := time.Now().UTC()
		tag, err := s.db.Exec(ctx, `
			UPDATE negotiation_queue SET status = 'negotiating', leased_at = $2, updated_at = $2
			WHERE id = $1 AND status = 'pending'`, e.ID, now)
		if err != nil {
			return leased, fmt.Errorf("negotiation: lease %s: %w", e.ID, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		e.Status = StatusNegotiating
		e.LeasedAt = &now
		leased = append(leased, e)
	}
	return leased, nil
}

// RequeueStale returns entries leased before the cutoff to pending, or fails
// them once they have used up maxAttempts.
func (s *Store) RequeueStale(ctx context.Context, leasedBefore time.Time, maxAttempts int) (RequeueResult, error) {
	var res RequeueResult
	tag, err := s.db.Exec(ctx, `
		UPDATE negotiation_queue
		SET status = 'failed', last_error = 'lease expired after max attempts', updated_at = now()
		WHERE status = 'negotiating' AND leased_at < $1 AND attempts + 1 >= $2`,
		leasedBefore.UTC(), maxAttempts)
	if err != nil {
		return res, fmt.Errorf("negotiation: fail stale: %w", err)
	}
	res.Failed = tag.RowsAffected()

	tag, err = s.db.Exec(ctx, `
		UPDATE negotiation_queue
		SET status = 'pending', attempts = attempts + 1, leased_at = NULL, updated_at = now()
		WHERE status = 'negotiating' AND leased_at < $1`, leasedBefore.UTC())
	if err != nil {
		return res, fmt.Errorf("negotiation: requeue stale: %w", err)
	}
	res.Requeued = tag.RowsAffected()
	return res, nil
}

// MarkCompleted transitions negotiating -> completed.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE negotiation_queue SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'negotiating'`, id)
	if err != nil {
		return fmt.Errorf("negotiation: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// MarkFailed transitions negotiating -> failed and keeps the reason.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE negotiation_queue SET status = 'failed', last_error = $2, attempts = attempts + 1, updated_at = now()
		WHERE id = $1 AND status = 'negotiating'`, id, reason)
	if err != nil {
		return fmt.Errorf("negotiation: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			status   string
			snapshot []byte
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.ClientID, &e.TenantID, &snapshot, &status,
			&e.Attempts, &e.LastError, &e.LeasedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("negotiation: scan: %w", err)
		}
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &e.Context); err != nil {
				return nil, fmt.Errorf("negotiation: decode context: %w", err)
			}
		}
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
