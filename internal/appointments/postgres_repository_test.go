package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_InsertMapsConstraintViolations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	start := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	newAppt := func() *Appointment {
		return &Appointment{TenantID: "t", ClientID: uuid.New(), ClinicID: "c1", StartTime: start, EndTime: start.Add(Duration), Status: StatusScheduled}
	}

	now := time.Now()
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "t", pgxmock.AnyArg(), "c1", "", start, start.Add(Duration), "scheduled", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	require.NoError(t, repo.Insert(context.Background(), newAppt()))

	for _, code := range []string{"23P01", "23505"} {
		mock.ExpectQuery("INSERT INTO appointments").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: code})
		err := repo.Insert(context.Background(), newAppt())
		assert.ErrorIs(t, err, ErrSlotTaken, "code %s", code)
	}

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	err = repo.Insert(context.Background(), newAppt())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSlotTaken))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_MoveAndCancel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	id := uuid.New()
	clientID := uuid.New()
	start := time.Date(2025, 6, 20, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE appointments SET").
		WithArgs(id, "t", start, start.Add(Duration), "").
		WillReturnError(&pgconn.PgError{Code: "23P01"})
	assert.ErrorIs(t, repo.Move(context.Background(), "t", id, start, start.Add(Duration), ""), ErrSlotTaken)

	mock.ExpectExec("UPDATE appointments SET").
		WithArgs(id, "t", start, start.Add(Duration), "c2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.Move(context.Background(), "t", id, start, start.Add(Duration), "c2"), ErrNotFound)

	from := time.Date(2025, 6, 15, 22, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	mock.ExpectExec("UPDATE appointments SET status = 'cancelled'").
		WithArgs("t", clientID, from, to).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	n, err := repo.CancelBetween(context.Background(), "t", clientID, from, to)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListBusyStarts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	from := time.Date(2025, 6, 16, 6, 30, 0, 0, time.UTC)
	to := time.Date(2025, 6, 16, 16, 30, 0, 0, time.UTC)
	busy := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT start_time").
		WithArgs("t", "c1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"start_time"}).AddRow(busy))

	starts, err := repo.ListBusyStarts(context.Background(), "t", "c1", from, to)
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.True(t, starts[0].Equal(busy))
	require.NoError(t, mock.ExpectationsWereMet())
}
