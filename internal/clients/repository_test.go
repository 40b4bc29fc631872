package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_GetOrCreateLeadIsScopedByTenant(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	a, err := repo.GetOrCreateLead(ctx, "tenant-a", "+34600000001", "Ana")
	require.NoError(t, err)
	again, err := repo.GetOrCreateLead(ctx, "tenant-a", "+34600000001", "Other")
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, StatusLead, again.Status)

	b, err := repo.GetOrCreateLead(ctx, "tenant-b", "+34600000001", "Ana")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = repo.GetOrCreateLead(ctx, "tenant-a", " ", "")
	assert.ErrorIs(t, err, ErrMissingPhone)
}

func TestService_PromoteToClientBackfillsAndInfersGender(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()

	lead, err := repo.GetOrCreateLead(ctx, "tenant-a", "+34600000002", "")
	require.NoError(t, err)

	err = svc.PromoteToClient(ctx, "tenant-a", lead.ID, Profile{FullName: "Maria Lopez", Email: "maria@example.com"})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "tenant-a", lead.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClient, got.Status)
	assert.Equal(t, "Maria Lopez", got.Name)
	assert.Equal(t, "maria@example.com", got.Email)
	assert.Equal(t, "+34600000002", got.Phone)
	assert.Equal(t, GenderFemale, got.Gender)
}

func TestService_PromoteUnknownNameLeavesGenderUnset(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()
	lead, _ := repo.GetOrCreateLead(ctx, "t", "+1", "")

	require.NoError(t, svc.PromoteToClient(ctx, "t", lead.ID, Profile{FullName: "Xyz"}))
	got, _ := repo.Get(ctx, "t", lead.ID)
	assert.Equal(t, GenderUnknown, got.Gender)
	assert.Equal(t, StatusClient, got.Status)
}

func TestMemoryRepository_FindLatestByPhone(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Now()
	repo.Add(&Client{TenantID: "old", Phone: "+1", UpdatedAt: now.Add(-time.Hour)})
	repo.Add(&Client{TenantID: "new", Phone: "+1", UpdatedAt: now})

	got, err := repo.FindLatestByPhone(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.TenantID)

	_, err = repo.FindLatestByPhone(context.Background(), "+2")
	assert.True(t, errors.Is(err, ErrClientNotFound))
}

func TestPostgresRepository_Promote(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE clients SET").
		WithArgs(id, "tenant-a", "Carlos Ruiz", "c@example.com", "", "male").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	err = repo.Promote(context.Background(), "tenant-a", id, Promotion{Name: "Carlos Ruiz", Email: "c@example.com", Gender: GenderMale})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE clients SET").
		WithArgs(id, "tenant-b", "", "", "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.Promote(context.Background(), "tenant-b", id, Promotion{})
	assert.ErrorIs(t, err, ErrClientNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetOrCreateLead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := NewPostgresRepository(mock)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO clients").
		WithArgs(pgxmock.AnyArg(), "tenant-a", "+34600", "Ana").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "phone", "name", "email", "status", "gender", "preferred_clinic_id", "created_at", "updated_at"}).
			AddRow(id, "tenant-a", "+34600", "Ana", "", "lead", "", "", now, now))

	c, err := repo.GetOrCreateLead(context.Background(), "tenant-a", "+34600", "Ana")
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, StatusLead, c.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
