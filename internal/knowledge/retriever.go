package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var knowledgeTracer = otel.Tracer("dental.internal.knowledge")

// NoMatch is returned when nothing relevant is found.
const NoMatch = "No relevant information found."

const (
	tenantLimit         = 5
	globalTopK          = 3
	similarityThreshold = 0.5
)

// Retriever answers knowledge questions for the agent.
type Retriever struct {
	embedder   Embedder
	repo       Repository
	rankTenant bool
	logger     *logging.Logger
}

// RetrieverOption customizes a Retriever.
type RetrieverOption func(*Retriever)

// WithTenantRanking ranks tenant rows by similarity instead of recency.
func WithTenantRanking(enabled bool) RetrieverOption {
	return func(r *Retriever) { r.rankTenant = enabled }
}

// NewRetriever creates a retriever.
func NewRetriever(embedder Embedder, repo Repository, logger *logging.Logger, opts ...RetrieverOption) *Retriever {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Retriever{embedder: embedder, repo: repo, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search embeds the query and returns matching snippet text.
//
// With a tenant, the tenant's five most recent rows are concatenated as-is
// unless tenant ranking is enabled. Without a tenant, every row is scored and
// the top three with cosine similarity above 0.5 are returned best first.
func (r *Retriever) Search(ctx context.Context, query, tenantID string) (string, error) {
	ctx, span := knowledgeTracer.Start(ctx, "knowledge.search", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
	))
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return NoMatch, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	var snippets []string
	if tenantID != "" {
		snippets, err = r.searchTenant(ctx, tenantID, vec)
	} else {
		snippets, err = r.searchGlobal(ctx, vec)
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if len(snippets) == 0 {
		return NoMatch, nil
	}
	return strings.Join(snippets, "\n\n"), nil
}

func (r *Retriever) searchTenant(ctx context.Context, tenantID string, vec []float32) ([]string, error) {
	items, err := r.repo.RecentForTenant(ctx, tenantID, tenantLimit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: tenant search: %w", err)
	}
	if r.rankTenant {
		ranked := rank(items, vec, 0)
		out := make([]string, 0, len(ranked))
		for _, s := range ranked {
			out = append(out, s.content)
		}
		return out, nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Content) != "" {
			out = append(out, it.Content)
		}
	}
	return out, nil
}

func (r *Retriever) searchGlobal(ctx context.Context, vec []float32) ([]string, error) {
	items, err := r.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("knowledge: global search: %w", err)
	}
	ranked := rank(items, vec, similarityThreshold)
	if len(ranked) > globalTopK {
		ranked = ranked[:globalTopK]
	}
	out := make([]string, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.content)
	}
	return out, nil
}

type scored struct {
	score   float64
	content string
}

// rank returns items scoring strictly above min, best first.
func rank(items []Item, vec []float32, min float64) []scored {
	results := make([]scored, 0, len(items))
	for _, it := range items {
		score := cosineSimilarity(vec, it.Embedding)
		if score > min {
			results = append(results, scored{score: score, content: it.Content})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	return results
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
