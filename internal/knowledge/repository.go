package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Item is one knowledge snippet. An empty TenantID marks a global row.
type Item struct {
	ID        uuid.UUID
	TenantID  string
	Content   string
	Embedding []float32
	Metadata  map[string]any
	CreatedAt time.Time
}

// Repository reads knowledge rows; ingestion happens elsewhere.
type Repository interface {
	RecentForTenant(ctx context.Context, tenantID string, limit int) ([]Item, error)
	ListAll(ctx context.Context) ([]Item, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads the knowledge table.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a repository backed by pgx.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("knowledge: db required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) RecentForTenant(ctx context.Context, tenantID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, COALESCE(tenant_id, ''), content, embedding, metadata, created_at
		FROM knowledge
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: recent for tenant: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, COALESCE(tenant_id, ''), content, embedding, metadata, created_at
		FROM knowledge
		WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("knowledge: list all: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows pgx.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		var (
			it   Item
			meta []byte
		)
		if err := rows.Scan(&it.ID, &it.TenantID, &it.Content, &it.Embedding, &meta, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("knowledge: scan: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &it.Metadata); err != nil {
				return nil, fmt.Errorf("knowledge: decode metadata: %w", err)
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MemoryRepository holds knowledge rows in memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	items []Item
}

// NewMemoryRepository creates a repository seeded with items.
func NewMemoryRepository(items ...Item) *MemoryRepository {
	r := &MemoryRepository{}
	for _, it := range items {
		r.Add(it)
	}
	return r
}

// Add appends an item, filling ID and CreatedAt when missing.
func (r *MemoryRepository) Add(it Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	r.items = append(r.items, it)
}

func (r *MemoryRepository) RecentForTenant(ctx context.Context, tenantID string, limit int) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Item
	for _, it := range r.items {
		if it.TenantID == tenantID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListAll(ctx context.Context) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Item, len(r.items))
	copy(out, r.items)
	return out, nil
}
