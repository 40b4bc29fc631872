package messages

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Automated message kinds. Their content carries an "[auto:<kind>]" prefix.
const (
	KindReminder    = "reminder"
	KindReview      = "review"
	KindNegotiation = "negotiation"
)

// Message is one append-only log entry.
type Message struct {
	ID        uuid.UUID
	TenantID  string
	ClientID  uuid.UUID
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Automated prefixes content sent by a job so reviewers can tell it apart.
func Automated(kind, content string) string {
	return fmt.Sprintf("[auto:%s] %s", kind, content)
}

// Log appends and reads conversation messages.
type Log interface {
	Append(ctx context.Context, m *Message) error
	// Recent returns up to limit latest messages in chronological order.
	Recent(ctx context.Context, tenantID string, clientID uuid.UUID, limit int) ([]Message, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLog stores messages in the messages table.
type PostgresLog struct {
	db DB
}

// NewPostgresLog creates a message log backed by pgx.
func NewPostgresLog(db DB) *PostgresLog {
	if db == nil {
		panic("messages: db required")
	}
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Append(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO messages (id, tenant_id, client_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.TenantID, m.ClientID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("messages: append: %w", err)
	}
	return nil
}

func (l *PostgresLog) Recent(ctx context.Context, tenantID string, clientID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.Query(ctx, `
		SELECT id, tenant_id, client_id, role, content, created_at
		FROM messages
		WHERE tenant_id = $1 AND client_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, tenantID, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages: recent: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ClientID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messages: scan: %w", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: recent: %w", err)
	}
	reverse(out)
	return out, nil
}

func reverse(list []Message) {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
}

// MemoryLog keeps messages in memory.
type MemoryLog struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(ctx context.Context, m *Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	l.messages = append(l.messages, *m)
	return nil
}

func (l *MemoryLog) Recent(ctx context.Context, tenantID string, clientID uuid.UUID, limit int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Message
	for _, m := range l.messages {
		if m.TenantID == tenantID && m.ClientID == clientID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// All returns every logged message in append order.
func (l *MemoryLog) All() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}
