package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const clientColumns = `id, tenant_id, phone, name, email, status, gender, COALESCE(preferred_clinic_id, ''), created_at, updated_at`

// PostgresRepository stores clients in the relational database.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository initializes a repo backed by a pgx pool or conn.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("clients: db required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Client, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanClient(row, "get")
}

func (r *PostgresRepository) FindByPhone(ctx context.Context, tenantID, phone string) (*Client, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	return scanClient(row, "find by phone")
}

func (r *PostgresRepository) FindLatestByPhone(ctx context.Context, phone string) (*Client, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE phone = $1
		ORDER BY updated_at DESC
		LIMIT 1`, phone)
	return scanClient(row, "find latest by phone")
}

// GetOrCreateLead inserts a lead unless (tenant_id, phone) already exists, then returns the stored row.
func (r *PostgresRepository) GetOrCreateLead(ctx context.Context, tenantID, phone, name string) (*Client, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, ErrMissingPhone
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO clients (id, tenant_id, phone, name, email, status, gender)
		VALUES ($1, $2, $3, $4, '', 'lead', '')
		ON CONFLICT (tenant_id, phone) DO UPDATE SET updated_at = clients.updated_at
		RETURNING `+clientColumns, uuid.New(), tenantID, phone, name)
	return scanClient(row, "get or create lead")
}

// Promote flips a client to status client and backfills any non-empty profile fields.
func (r *PostgresRepository) Promote(ctx context.Context, tenantID string, id uuid.UUID, p Promotion) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE clients SET
			status = 'client',
			name = COALESCE(NULLIF($3, ''), name),
			email = COALESCE(NULLIF($4, ''), email),
			phone = COALESCE(NULLIF($5, ''), phone),
			gender = COALESCE(NULLIF($6, ''), gender),
			updated_at = now()
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, p.Name, p.Email, p.Phone, string(p.Gender))
	if err != nil {
		return fmt.Errorf("clients: promote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (r *PostgresRepository) SetPreferredClinic(ctx context.Context, tenantID string, id uuid.UUID, clinicID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE clients SET preferred_clinic_id = NULLIF($3, ''), updated_at = now()
		WHERE id = $1 AND tenant_id = $2`, id, tenantID, clinicID)
	if err != nil {
		return fmt.Errorf("clients: set preferred clinic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func scanClient(row pgx.Row, op string) (*Client, error) {
	var (
		c      Client
		status string
		gender string
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.Email, &status, &gender,
		&c.PreferredClinicID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("clients: %s: %w", op, err)
	}
	c.Status = Status(status)
	c.Gender = Gender(gender)
	return &c, nil
}
