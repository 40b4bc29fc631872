package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func TestStore_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, logging.Discard())

	mock.ExpectExec("INSERT INTO agent_traces").
		WithArgs(sqlmock.AnyArg(), "tenant-1", "client-1", "model_turn", "error", "openai timeout", []byte(`{"round":2}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Insert(context.Background(), Entry{
		TenantID: "tenant-1",
		ClientID: "client-1",
		Step:     "model_turn",
		Level:    LevelError,
		Message:  "openai timeout",
		Details:  map[string]any{"round": 2},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RecordSwallowsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, logging.Discard())
	mock.ExpectExec("INSERT INTO agent_traces").WillReturnError(errors.New("db down"))

	store.Record(context.Background(), Entry{Step: "load_context", Level: LevelError, Message: "boom"})
	assert.NoError(t, mock.ExpectationsWereMet())

	var nilStore *Store
	nilStore.Record(context.Background(), Entry{Step: "noop"})
	NewStore(nil, logging.Discard()).Record(context.Background(), Entry{Step: "log only"})
}

func TestStore_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, nil)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "client_id", "step", "level", "message", "details", "created_at"}).
		AddRow("id-1", "tenant-1", nil, "send_reply", "error", "401", []byte(`{"status":401}`), now)

	mock.ExpectQuery("SELECT (.+) FROM agent_traces").
		WithArgs("tenant-1", "error").
		WillReturnRows(rows)

	entries, err := store.Query(context.Background(), Filter{TenantID: "tenant-1", Level: LevelError, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "", entries[0].ClientID)
	assert.Equal(t, float64(401), entries[0].Details["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertTakesTenantFromContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO agent_traces").
		WithArgs(sqlmock.AnyArg(), "tenant-ctx", nil, "tool_call", "info", "ok", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := tenancy.WithTenantID(context.Background(), "tenant-ctx")
	require.NoError(t, NewStore(db, logging.Discard()).Insert(ctx, Entry{Step: "tool_call", Message: "ok"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
