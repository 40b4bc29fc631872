package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Document is one source entry in a seed file.
type Document struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// SeedFile is the JSON layout accepted by the seeding command. An empty
// tenant_id seeds global knowledge.
type SeedFile struct {
	TenantID  string     `json:"tenant_id"`
	Source    string     `json:"source"`
	Documents []Document `json:"documents"`
}

// ParseSeedFile decodes and validates a seed file.
func ParseSeedFile(data []byte) (*SeedFile, error) {
	var f SeedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("knowledge: parse seed file: %w", err)
	}
	if len(f.Documents) == 0 {
		return nil, errors.New("knowledge: seed file has no documents")
	}
	return &f, nil
}

// Writer persists embedded knowledge rows.
type Writer interface {
	Insert(ctx context.Context, item Item) error
}

// Insert stores one knowledge row.
func (r *PostgresRepository) Insert(ctx context.Context, it Item) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	meta, err := json.Marshal(it.Metadata)
	if err != nil {
		return fmt.Errorf("knowledge: encode metadata: %w", err)
	}
	var tenant any
	if it.TenantID != "" {
		tenant = it.TenantID
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO knowledge (id, tenant_id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)`, it.ID, tenant, it.Content, it.Embedding, meta); err != nil {
		return fmt.Errorf("knowledge: insert: %w", err)
	}
	return nil
}

// Insert stores one knowledge row in memory.
func (r *MemoryRepository) Insert(_ context.Context, it Item) error {
	r.Add(it)
	return nil
}

// Ingester embeds seed documents and writes them as knowledge rows.
type Ingester struct {
	embedder Embedder
	writer   Writer
	logger   *logging.Logger
}

// IngestResult counts the outcome of one seed run.
type IngestResult struct {
	Inserted int
	Skipped  int
	Failed   int
}

// NewIngester creates an ingester.
func NewIngester(embedder Embedder, writer Writer, logger *logging.Logger) *Ingester {
	if embedder == nil || writer == nil {
		panic("knowledge: embedder and writer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingester{embedder: embedder, writer: writer, logger: logger}
}

// Ingest embeds every document. Empty documents are skipped and a failing
// document does not stop the rest; the first failure is returned.
func (in *Ingester) Ingest(ctx context.Context, f *SeedFile) (IngestResult, error) {
	var (
		res      IngestResult
		firstErr error
	)
	for i, doc := range f.Documents {
		content := documentText(doc)
		if content == "" {
			res.Skipped++
			continue
		}
		if err := in.ingestOne(ctx, f, doc, content); err != nil {
			res.Failed++
			in.logger.Warn("knowledge: seed document failed", "index", i, "title", doc.Title, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Inserted++
	}
	in.logger.Info("knowledge: seed complete",
		"tenant_id", f.TenantID,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, firstErr
}

func (in *Ingester) ingestOne(ctx context.Context, f *SeedFile, doc Document, content string) error {
	vec, err := in.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("knowledge: embed %q: %w", doc.Title, err)
	}
	meta := map[string]any{"embedding_model": in.embedder.Model()}
	if doc.Title != "" {
		meta["title"] = doc.Title
	}
	if doc.Category != "" {
		meta["category"] = doc.Category
	}
	if f.Source != "" {
		meta["source"] = f.Source
	}
	return in.writer.Insert(ctx, Item{
		TenantID:  strings.TrimSpace(f.TenantID),
		Content:   content,
		Embedding: vec,
		Metadata:  meta,
	})
}

// documentText joins title and body the way they are embedded.
func documentText(doc Document) string {
	title := strings.TrimSpace(doc.Title)
	body := strings.TrimSpace(doc.Content)
	switch {
	case body == "":
		return ""
	case title == "":
		return body
	default:
		return title + "\n\n" + body
	}
}
