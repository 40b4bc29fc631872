package clients

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines client persistence.
type Repository interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*Client, error)
	FindByPhone(ctx context.Context, tenantID, phone string) (*Client, error)
	// FindLatestByPhone ignores tenant scope and returns the most recently
	// active client for the identity; used to recover a stored tenant.
	FindLatestByPhone(ctx context.Context, phone string) (*Client, error)
	GetOrCreateLead(ctx context.Context, tenantID, phone, name string) (*Client, error)
	Promote(ctx context.Context, tenantID string, id uuid.UUID, p Promotion) error
	SetPreferredClinic(ctx context.Context, tenantID string, id uuid.UUID, clinicID string) error
}

// MemoryRepository keeps clients in memory and enforces (tenant, phone) uniqueness.
type MemoryRepository struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{clients: make(map[uuid.UUID]*Client)}
}

// Add stores a client as-is. Intended for seeding.
func (r *MemoryRepository) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusLead
	}
	cp := *c
	r.clients[c.ID] = &cp
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) FindByPhone(ctx context.Context, tenantID, phone string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.byPhoneLocked(tenantID, phone); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, ErrClientNotFound
}

func (r *MemoryRepository) FindLatestByPhone(ctx context.Context, phone string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []*Client
	for _, c := range r.clients {
		if c.Phone == phone {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil, ErrClientNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].UpdatedAt.After(matches[j].UpdatedAt) })
	cp := *matches[0]
	return &cp, nil
}

func (r *MemoryRepository) GetOrCreateLead(ctx context.Context, tenantID, phone, name string) (*Client, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, ErrMissingPhone
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.byPhoneLocked(tenantID, phone); c != nil {
		cp := *c
		return &cp, nil
	}
	now := time.Now().UTC()
	c := &Client{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Phone:     phone,
		Name:      name,
		Status:    StatusLead,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.clients[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) Promote(ctx context.Context, tenantID string, id uuid.UUID, p Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok || c.TenantID != tenantID {
		return ErrClientNotFound
	}
	c.Status = StatusClient
	if p.Name != "" {
		c.Name = p.Name
	}
	if p.Email != "" {
		c.Email = p.Email
	}
	if p.Phone != "" {
		c.Phone = p.Phone
	}
	if p.Gender != GenderUnknown {
		c.Gender = p.Gender
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) SetPreferredClinic(ctx context.Context, tenantID string, id uuid.UUID, clinicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok || c.TenantID != tenantID {
		return ErrClientNotFound
	}
	c.PreferredClinicID = clinicID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) byPhoneLocked(tenantID, phone string) *Client {
	for _, c := range r.clients {
		if c.TenantID == tenantID && c.Phone == phone {
			return c
		}
	}
	return nil
}
