// Package audit stores step-by-step diagnostic traces of agent turns and jobs.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Level is the trace severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Entry is one row of the agent_traces table.
type Entry struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	Step      string         `json:"step"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store writes traces through database/sql.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewStore creates a trace store. A nil db turns Record into a log-only call.
func NewStore(db *sql.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger}
}

// Insert persists an entry and returns the error, if any.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if e.TenantID == "" {
		e.TenantID, _ = tenancy.TenantIDFromContext(ctx)
	}
	var details []byte
	if len(e.Details) > 0 {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_traces (id, tenant_id, client_id, step, level, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID,
		nullString(e.TenantID),
		nullString(e.ClientID),
		e.Step,
		string(e.Level),
		e.Message,
		details,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert trace: %w", err)
	}
	return nil
}

// Record persists an entry. Failures are logged and never returned so that
// tracing can't break the caller.
func (s *Store) Record(ctx context.Context, e Entry) {
	if s == nil {
		return
	}
	if s.db == nil {
		s.logger.Info("agent trace", "step", e.Step, "level", string(e.Level), "message", e.Message,
			"tenant_id", e.TenantID, "client_id", e.ClientID)
		return
	}
	if err := s.Insert(ctx, e); err != nil {
		s.logger.Error("failed to record agent trace", "step", e.Step, "error", err)
	}
}

// Filter narrows trace queries.
type Filter struct {
	TenantID string
	ClientID string
	Level    Level
	Since    time.Time
	Limit    int
}

// Query returns traces newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
		SELECT id, tenant_id, client_id, step, level, message, details, created_at
		FROM agent_traces
		WHERE 1 = 1`
	var args []any
	argIdx := 1

	if f.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, f.TenantID)
		argIdx++
	}
	if f.ClientID != "" {
		query += fmt.Sprintf(" AND client_id = $%d", argIdx)
		args = append(args, f.ClientID)
		argIdx++
	}
	if f.Level != "" {
		query += fmt.Sprintf(" AND level = $%d", argIdx)
		args = append(args, string(f.Level))
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, f.Since)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query traces: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			tenantID, clientID sql.NullString
			level              string
			details            []byte
		)
		if err := rows.Scan(&e.ID, &tenantID, &clientID, &e.Step, &level, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan trace: %w", err)
		}
		e.TenantID = tenantID.String
		e.ClientID = clientID.String
		e.Level = Level(level)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
