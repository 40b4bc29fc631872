package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/clients"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var intakeNow = time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

func TestNewIntake_RequiresStoreSide(t *testing.T) {
	clock := appointments.NewClockAt(time.UTC, false, intakeNow)
	_, err := NewIntake(nil, appointments.NewMemoryRepository(), nil, nil, clock, nil)
	assert.Error(t, err)
	_, err = NewIntake(NewMemoryStore(), nil, nil, nil, clock, nil)
	assert.Error(t, err)
	_, err = NewIntake(NewMemoryStore(), appointments.NewMemoryRepository(), nil, nil, nil, nil)
	assert.Error(t, err)

	in, err := NewIntake(NewMemoryStore(), appointments.NewMemoryRepository(), nil, nil, clock, nil)
	require.NoError(t, err)
	assert.NotNil(t, in)
}

func TestJob_EnqueueCapturesSnapshot(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()
	f.tenants.PutDoctor(tenancy.Doctor{ID: "doc-1", TenantID: "t1", ClinicID: "clinic-1", Name: "Dra. López"})
	c := &clients.Client{TenantID: "t1", Phone: "34600333444", Name: "Luis Gil"}
	f.clients.Add(c)
	start := f.clock.Date(2025, 6, 16, 10, 0)
	appt := &appointments.Appointment{
		TenantID: "t1", ClientID: c.ID, ClinicID: "clinic-1", DoctorID: "doc-1",
		StartTime: start, EndTime: start.Add(appointments.Duration), Status: appointments.StatusConfirmed,
	}
	require.NoError(t, f.appts.Insert(ctx, appt))

	e, err := f.job.Enqueue(ctx, appt, "  agenda de la doctora llena ")
	require.NoError(t, err)

	got, ok := f.queue.Get(e.ID)
	require.True(t, ok)
	snap := got.Context
	assert.Equal(t, "Luis Gil", snap.PatientName)
	assert.Equal(t, "Dra. López", snap.DoctorName)
	assert.Equal(t, "clinic-1", snap.ClinicID)
	assert.Equal(t, "Centro", snap.ClinicName)
	assert.Equal(t, "agenda de la doctora llena", snap.Reason)
	assert.True(t, snap.OriginalStart.Equal(start))
	assert.True(t, snap.RequestedAt.Equal(f.clock.Now()))

	flagged, err := f.appts.Get(ctx, "t1", appt.ID)
	require.NoError(t, err)
	_, err = f.job.Enqueue(ctx, flagged, "again")
	assert.Error(t, err)
}

func TestJob_DraftUsesSnapshot(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()
	f.tenants.PutDoctor(tenancy.Doctor{ID: "doc-1", TenantID: "t1", ClinicID: "clinic-1", Name: "Dra. López"})
	f.publishSlot(t, "t1", "clinic-1", f.clock.Date(2025, 6, 17, 9, 0))
	c := &clients.Client{TenantID: "t1", Phone: "34600333444", Name: "Luis Gil"}
	f.clients.Add(c)
	start := f.clock.Date(2025, 6, 16, 10, 0)
	appt := &appointments.Appointment{
		TenantID: "t1", ClientID: c.ID, ClinicID: "clinic-1", DoctorID: "doc-1",
		StartTime: start, EndTime: start.Add(appointments.Duration), Status: appointments.StatusScheduled,
	}
	require.NoError(t, f.appts.Insert(ctx, appt))
	_, err := f.job.Enqueue(ctx, appt, "")
	require.NoError(t, err)

	// Renames after the request do not leak into the proposal.
	f.tenants.PutClinic(tenancy.Clinic{ID: "clinic-1", TenantID: "t1", Name: "Sede renombrada"})

	sum, err := f.job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	require.Len(t, f.drafter.requests, 1)
	prompt := f.drafter.requests[0].Messages[0].Content
	assert.Contains(t, prompt, "Paciente: Luis Gil")
	assert.Contains(t, prompt, "Doctor/a: Dra. López")
	assert.Contains(t, prompt, "Clínica: Centro")
	assert.Contains(t, prompt, "Cita original: lunes 16 de junio a las 10:00")
	assert.NotContains(t, prompt, "Sede renombrada")
}

func TestIntake_RequestRescheduleWithoutLookups(t *testing.T) {
	ctx := context.Background()
	appts := appointments.NewMemoryRepository()
	clock := appointments.NewClockAt(time.UTC, false, intakeNow)
	queue := NewMemoryStore()
	in, err := NewIntake(queue, appts, nil, nil, clock, logging.Discard())
	require.NoError(t, err)

	start := intakeNow.Add(48 * time.Hour)
	appt := &appointments.Appointment{TenantID: "t1", ClinicID: "clinic-1", StartTime: start, EndTime: start.Add(appointments.Duration), Status: appointments.StatusScheduled}
	require.NoError(t, appts.Insert(ctx, appt))

	require.NoError(t, in.RequestReschedule(ctx, appt, "no puedo asistir"))
	leased, err := queue.Lease(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, "no puedo asistir", leased[0].Context.Reason)
	assert.Empty(t, leased[0].Context.PatientName)

	got, _ := appts.Get(ctx, "t1", appt.ID)
	assert.Equal(t, appointments.StatusNeedsReschedule, got.Status)
}
