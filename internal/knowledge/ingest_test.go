package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

type flakyEmbedder struct {
	failOn string
}

func (f *flakyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("throttled")
	}
	return []float32{1, 0}, nil
}

func (f *flakyEmbedder) Model() string { return "flaky" }

func TestParseSeedFile(t *testing.T) {
	f, err := ParseSeedFile([]byte(`{"tenant_id":"t1","documents":[{"title":"Implantes","content":"Entre 1.200€ y 1.500€"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", f.TenantID)
	require.Len(t, f.Documents, 1)

	_, err = ParseSeedFile([]byte(`{"documents":[]}`))
	assert.Error(t, err)
	_, err = ParseSeedFile([]byte(`not json`))
	assert.Error(t, err)
}

func TestIngesterWritesTenantRows(t *testing.T) {
	repo := NewMemoryRepository()
	in := NewIngester(&flakyEmbedder{}, repo, logging.Discard())

	res, err := in.Ingest(context.Background(), &SeedFile{
		TenantID: "t1",
		Source:   "precios.json",
		Documents: []Document{
			{Title: "Implantes", Category: "precios", Content: "Entre 1.200€ y 1.500€"},
			{Title: "Vacío", Content: "   "},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Inserted: 1, Skipped: 1}, res)

	items, err := repo.RecentForTenant(context.Background(), "t1", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Implantes\n\nEntre 1.200€ y 1.500€", items[0].Content)
	assert.Equal(t, "precios", items[0].Metadata["category"])
	assert.Equal(t, "precios.json", items[0].Metadata["source"])
	assert.Equal(t, "flaky", items[0].Metadata["embedding_model"])
}

func TestIngesterContinuesPastFailures(t *testing.T) {
	repo := NewMemoryRepository()
	in := NewIngester(&flakyEmbedder{failOn: "B"}, repo, logging.Discard())

	res, err := in.Ingest(context.Background(), &SeedFile{Documents: []Document{
		{Content: "A"}, {Content: "B"}, {Content: "C"},
	}})
	assert.ErrorContains(t, err, "throttled")
	assert.Equal(t, IngestResult{Inserted: 2, Failed: 1}, res)

	all, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPostgresInsertGlobalRowUsesNullTenant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO knowledge").
		WithArgs(pgxmock.AnyArg(), nil, "Horario: 9 a 18", []float32{0.5}, []byte(`{"title":"Horario"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPostgresRepository(mock)
	require.NoError(t, repo.Insert(context.Background(), Item{
		Content:   "Horario: 9 a 18",
		Embedding: []float32{0.5},
		Metadata:  map[string]any{"title": "Horario"},
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
