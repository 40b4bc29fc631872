package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository reads tenant-owned configuration. The core never writes it.
type Repository interface {
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	GetTenantByRoutingID(ctx context.Context, routingID string) (*Tenant, error)
	ListClinics(ctx context.Context, tenantID string) ([]Clinic, error)
	GetClinic(ctx context.Context, tenantID, clinicID string) (*Clinic, error)
	GetDoctor(ctx context.Context, tenantID, doctorID string) (*Doctor, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository loads tenants, clinics and doctors.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a repository backed by a pgx pool or conn.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("tenancy: db required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, COALESCE(routing_id, ''), config FROM tenants WHERE id = $1`, tenantID)
	return scanTenant(row)
}

func (r *PostgresRepository) GetTenantByRoutingID(ctx context.Context, routingID string) (*Tenant, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, COALESCE(routing_id, ''), config FROM tenants WHERE routing_id = $1`, routingID)
	return scanTenant(row)
}

func (r *PostgresRepository) ListClinics(ctx context.Context, tenantID string) ([]Clinic, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, name, address
		FROM clinics
		WHERE tenant_id = $1
		ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list clinics: %w", err)
	}
	defer rows.Close()

	var out []Clinic
	for rows.Next() {
		var c Clinic
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Address); err != nil {
			return nil, fmt.Errorf("tenancy: scan clinic: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetClinic(ctx context.Context, tenantID, clinicID string) (*Clinic, error) {
	var c Clinic
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, address FROM clinics WHERE id = $1 AND tenant_id = $2`, clinicID, tenantID).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, fmt.Errorf("tenancy: get clinic: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) GetDoctor(ctx context.Context, tenantID, doctorID string) (*Doctor, error) {
	var d Doctor
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, COALESCE(clinic_id, ''), name FROM doctors WHERE id = $1 AND tenant_id = $2`, doctorID, tenantID).
		Scan(&d.ID, &d.TenantID, &d.ClinicID, &d.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tenancy: doctor %s not found", doctorID)
		}
		return nil, fmt.Errorf("tenancy: get doctor: %w", err)
	}
	return &d, nil
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var (
		t   Tenant
		raw []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.RoutingID, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("tenancy: get tenant: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &t.Config); err != nil {
			return nil, fmt.Errorf("tenancy: decode config for %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

// MemoryRepository is an in-memory Repository used for local runs and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
	clinics map[string]Clinic
	doctors map[string]Doctor
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenants: make(map[string]Tenant),
		clinics: make(map[string]Clinic),
		doctors: make(map[string]Doctor),
	}
}

// PutTenant stores or replaces a tenant.
func (r *MemoryRepository) PutTenant(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
}

// PutClinic stores or replaces a clinic.
func (r *MemoryRepository) PutClinic(c Clinic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clinics[c.ID] = c
}

// PutDoctor stores or replaces a doctor.
func (r *MemoryRepository) PutDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) GetTenantByRoutingID(ctx context.Context, routingID string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tenants {
		if routingID != "" && t.RoutingID == routingID {
			t := t
			return &t, nil
		}
	}
	return nil, ErrTenantNotFound
}

func (r *MemoryRepository) ListClinics(ctx context.Context, tenantID string) ([]Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Clinic
	for _, c := range r.clinics {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) GetClinic(ctx context.Context, tenantID, clinicID string) (*Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clinics[clinicID]
	if !ok || c.TenantID != tenantID {
		return nil, ErrClinicNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) GetDoctor(ctx context.Context, tenantID, doctorID string) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[doctorID]
	if !ok || d.TenantID != tenantID {
		return nil, fmt.Errorf("tenancy: doctor %s not found", doctorID)
	}
	return &d, nil
}
