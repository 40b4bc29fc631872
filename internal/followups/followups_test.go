package followups

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/clients"
	"github.com/wolfman30/dental-booking-agent/internal/messages"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

type sentMessage struct {
	to       string
	text     string
	template *messaging.Template
	creds    tenancy.Credentials
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[string]bool
}

func (s *fakeSender) SendText(ctx context.Context, to, body string, creds tenancy.Credentials) (string, error) {
	return s.record(sentMessage{to: to, text: body, creds: creds})
}

func (s *fakeSender) SendTemplate(ctx context.Context, to string, tmpl messaging.Template, creds tenancy.Credentials) (string, error) {
	return s.record(sentMessage{to: to, template: &tmpl, creds: creds})
}

func (s *fakeSender) record(m sentMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[m.to] {
		return "", errors.New("recipient blocked")
	}
	s.sent = append(s.sent, m)
	return "wamid.f", nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	deps    Deps
	appts   *appointments.MemoryRepository
	clients *clients.MemoryRepository
	tenants *tenancy.MemoryRepository
	sender  *fakeSender
	log     *messages.MemoryLog
	clock   *appointments.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	clock := appointments.NewClockAt(loc, false, time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC))

	tenants := tenancy.NewMemoryRepository()
	tenants.PutTenant(tenancy.Tenant{ID: "t1", Name: "Clínica Sonrisa", Config: tenancy.Config{
		Credentials: tenancy.Credentials{PhoneNumberID: "pn-1", AccessToken: "tok-1"},
		Templates: tenancy.Templates{Reminder: tenancy.TemplateMapping{
			Name:   "recordatorio_cita",
			Fields: []string{"patient_name", "date", "time", "clinic_name", "clinic_address"},
		}},
		ReviewLink: "https://g.page/sonrisa/review",
	}})
	tenants.PutTenant(tenancy.Tenant{ID: "t2", Name: "Dental Norte"})
	tenants.PutClinic(tenancy.Clinic{ID: "clinic-1", TenantID: "t1", Name: "Centro", Address: "Calle Mayor 1"})

	f := &fixture{
		appts:   appointments.NewMemoryRepository(),
		clients: clients.NewMemoryRepository(),
		tenants: tenants,
		sender:  &fakeSender{fail: map[string]bool{}},
		log:     messages.NewMemoryLog(),
		clock:   clock,
	}
	f.deps = Deps{
		Appointments: f.appts,
		Clients:      f.clients,
		Tenants:      f.tenants,
		Sender:       f.sender,
		Messages:     f.log,
		Clock:        clock,
		Logger:       logging.Discard(),
	}
	return f
}

func (f *fixture) addVisit(t *testing.T, tenantID, clinicID, phone, name string, start time.Time, status appointments.Status) appointments.Appointment {
	t.Helper()
	c := &clients.Client{TenantID: tenantID, Phone: phone, Name: name, Status: clients.StatusClient}
	f.clients.Add(c)
	a := &appointments.Appointment{
		TenantID: tenantID, ClientID: c.ID, ClinicID: clinicID,
		StartTime: start, EndTime: start.Add(appointments.Duration), Status: status,
	}
	require.NoError(t, f.appts.Insert(context.Background(), a))
	return *a
}

func TestReminderJob_SendsTemplateOnceAndConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	due := f.addVisit(t, "t1", "clinic-1", "34600000001", "María López", now.Add(24*time.Hour), appointments.StatusScheduled)
	f.addVisit(t, "t1", "clinic-1", "34600000002", "Luis", now.Add(2*time.Hour), appointments.StatusScheduled)
	f.addVisit(t, "t1", "clinic-1", "34600000003", "Eva", now.Add(25*time.Hour), appointments.StatusCancelled)

	job, err := NewReminderJob(f.deps)
	require.NoError(t, err)

	sum, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Candidates: 1, Sent: 1}, sum)

	require.Equal(t, 1, f.sender.count())
	msg := f.sender.sent[0]
	require.NotNil(t, msg.template)
	assert.Equal(t, "recordatorio_cita", msg.template.Name)
	assert.Equal(t, []string{"María López", "lunes 16 de junio", "10:00", "Centro", "Calle Mayor 1"}, msg.template.Parameters)
	assert.Equal(t, "pn-1", msg.creds.PhoneNumberID)

	got, err := f.appts.Get(ctx, "t1", due.ID)
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusConfirmed, got.Status)
	assert.True(t, got.ReminderSent)

	sum, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Equal(t, 1, f.sender.count())

	logged := f.log.All()
	require.Len(t, logged, 1)
	assert.True(t, strings.HasPrefix(logged[0].Content, "[auto:reminder] "))
}

func TestReminderJob_TextFallbackWithoutTemplate(t *testing.T) {
	f := newFixture(t)
	f.addVisit(t, "t2", "", "34600000004", "Carlos Ruiz", f.clock.Now().Add(21*time.Hour), appointments.StatusRescheduled)

	job, err := NewReminderJob(f.deps)
	require.NoError(t, err)
	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	require.Equal(t, 1, f.sender.count())
	assert.Nil(t, f.sender.sent[0].template)
	assert.Contains(t, f.sender.sent[0].text, "Dental Norte")
}

func TestReminderJob_FailureDoesNotBlockSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	var visits []appointments.Appointment
	for i := 0; i < 25; i++ {
		phone := fmt.Sprintf("3460000%04d", i)
		visits = append(visits, f.addVisit(t, "t1", fmt.Sprintf("clinic-%d", i), phone, "Paciente", now.Add(22*time.Hour), appointments.StatusScheduled))
	}
	f.sender.fail["34600000007"] = true

	job, err := NewReminderJob(f.deps)
	require.NoError(t, err)
	sum, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Candidates: 25, Sent: 24, Failed: 1}, sum)

	failed, _ := f.appts.Get(ctx, "t1", visits[7].ID)
	assert.False(t, failed.ReminderSent)
	ok, _ := f.appts.Get(ctx, "t1", visits[8].ID)
	assert.True(t, ok.ReminderSent)

	sum, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Candidates: 1, Failed: 1}, sum)
}

func TestReviewJob_UsesTenantOrFallbackLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	a := f.addVisit(t, "t1", "clinic-1", "34600000010", "Ana Pérez", now.Add(-100*time.Minute), appointments.StatusCompleted)
	b := f.addVisit(t, "t2", "", "34600000011", "", now.Add(-95*time.Minute), appointments.StatusCompleted)
	f.addVisit(t, "t1", "clinic-1", "34600000012", "Old", now.Add(-5*time.Hour), appointments.StatusCompleted)

	job, err := NewReviewJob(f.deps, "https://example.com/review")
	require.NoError(t, err)
	sum, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Candidates: 2, Sent: 2}, sum)

	texts := map[string]string{}
	for _, m := range f.sender.sent {
		texts[m.to] = m.text
	}
	assert.Contains(t, texts["34600000010"], "https://g.page/sonrisa/review")
	assert.Contains(t, texts["34600000010"], "Ana")
	assert.Contains(t, texts["34600000011"], "https://example.com/review")

	for _, id := range []appointments.Appointment{a, b} {
		got, _ := f.appts.Get(ctx, id.TenantID, id.ID)
		assert.True(t, got.ReviewSent)
	}

	sum, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Candidates)
}

func TestReviewJob_NoLinkFails(t *testing.T) {
	f := newFixture(t)
	// Ends exactly one hour ago.
	f.addVisit(t, "t2", "", "34600000020", "Eva", f.clock.Now().Add(-90*time.Minute), appointments.StatusCompleted)

	job, err := NewReviewJob(f.deps, "")
	require.NoError(t, err)
	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Candidates: 1, Failed: 1}, sum)
	assert.Zero(t, f.sender.count())
}

func TestReviewJob_WindowEdgesAreInclusive(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.addVisit(t, "t1", "clinic-1", "34600000030", "Uno", now.Add(-time.Hour-appointments.Duration), appointments.StatusCompleted)
	f.addVisit(t, "t1", "clinic-1", "34600000031", "Dos", now.Add(-2*time.Hour-appointments.Duration), appointments.StatusCompleted)
	f.addVisit(t, "t1", "clinic-2", "34600000032", "Tarde", now.Add(-time.Hour-appointments.Duration+time.Minute), appointments.StatusCompleted)
	f.addVisit(t, "t1", "clinic-3", "34600000033", "Pronto", now.Add(-2*time.Hour-appointments.Duration-time.Minute), appointments.StatusCompleted)

	job, err := NewReviewJob(f.deps, "https://example.com/review")
	require.NoError(t, err)
	sum, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Candidates: 2, Sent: 2}, sum)
}
