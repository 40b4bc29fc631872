package tenancy

import (
	"context"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_GetTenantDecodesConfig(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	cfg := []byte(`{"custom_prompt":"Habla de usted.","default_clinic_id":"c1",
		"credentials":{"phone_number_id":"pn","access_token":"tok"},
		"templates":{"reminder":{"name":"cita_recordatorio","language":"es","fields":["patient_name","date","time"]}},
		"review_link":"https://g.page/r/abc"}`)
	mock.ExpectQuery("SELECT id, name").WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "routing_id", "config"}).AddRow("t1", "Sonrisa", "pn", cfg))

	tenant, err := repo.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "c1", tenant.Config.DefaultClinicID)
	assert.Equal(t, "cita_recordatorio", tenant.Config.Templates.Reminder.Name)
	assert.Equal(t, []string{"patient_name", "date", "time"}, tenant.Config.Templates.Reminder.Fields)
	assert.True(t, tenant.Config.Credentials.Configured())

	mock.ExpectQuery("SELECT id, name").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetTenant(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListClinics(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	mock.ExpectQuery("FROM clinics").WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "name", "address"}).
			AddRow("c1", "t1", "Centro", "Calle Mayor 1").
			AddRow("c2", "t1", "Norte", "Av. Norte 5"))

	clinics, err := repo.ListClinics(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, clinics, 2)
	assert.Equal(t, "Norte", clinics[1].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
