package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/audit"
	"github.com/wolfman30/dental-booking-agent/internal/clients"
	"github.com/wolfman30/dental-booking-agent/internal/conversation"
	"github.com/wolfman30/dental-booking-agent/internal/messages"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var tracer = otel.Tracer("dental.internal.negotiation")

const (
	jobName          = "negotiation"
	defaultBatchSize = 10
	maxSlots         = 3
)

const draftInstructions = `Eres la recepcionista de una clínica dental. Redacta un mensaje corto de WhatsApp
para un paciente cuya cita necesita cambiarse. Saluda por su nombre si lo conoces, explica brevemente que hay
que mover la cita y propone EXACTAMENTE las opciones indicadas, numeradas. Pide que responda con la opción
que prefiera. No inventes horarios ni precios. Responde solo con el texto del mensaje.`

// AppointmentStore is the appointment surface the job reads and updates.
type AppointmentStore interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*appointments.Appointment, error)
	ListAvailableSlots(ctx context.Context, tenantID, clinicID string, from time.Time, limit int) ([]appointments.Appointment, error)
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status appointments.Status) error
}

// ClientReader resolves the patient of a queue entry.
type ClientReader interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*clients.Client, error)
}

// TenantReader resolves tenant configuration and the names captured in a snapshot.
type TenantReader interface {
	GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
	GetClinic(ctx context.Context, tenantID, clinicID string) (*tenancy.Clinic, error)
	GetDoctor(ctx context.Context, tenantID, doctorID string) (*tenancy.Doctor, error)
}

// TextSender delivers the drafted proposal.
type TextSender interface {
	SendText(ctx context.Context, to, body string, creds tenancy.Credentials) (string, error)
}

// Summary reports one job run.
type Summary struct {
	Requeued   int64 `json:"requeued"`
	Candidates int   `json:"candidates"`
	Sent       int   `json:"sent"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
}

// Deps wires the job's collaborators.
type Deps struct {
	Queue        Queue
	Appointments AppointmentStore
	Clients      ClientReader
	Tenants      TenantReader
	Drafter      conversation.LLMClient
	Sender       TextSender
	Messages     messages.Log
	Clock        *appointments.Clock
	Audit        *audit.Store
	Metrics      *metrics.JobMetrics
	Logger       *logging.Logger
}

// Option customizes a Job.
type Option func(*Job)

// WithBatchSize caps the number of entries leased per run.
func WithBatchSize(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// WithLeasePolicy sets how long an entry may stay negotiating and how many
// leases it gets before it is failed.
func WithLeasePolicy(timeout time.Duration, maxAttempts int) Option {
	return func(j *Job) {
		if timeout > 0 {
			j.leaseTimeout = timeout
		}
		if maxAttempts > 0 {
			j.maxAttempts = maxAttempts
		}
	}
}

// WithDraftModel selects the drafting model id.
func WithDraftModel(model string) Option {
	return func(j *Job) { j.model = strings.TrimSpace(model) }
}

// Job proposes new slots to patients whose appointments need rescheduling.
type Job struct {
	Deps
	intake       *Intake
	batchSize    int
	leaseTimeout time.Duration
	maxAttempts  int
	model        string
}

// NewJob validates the deps and applies options.
func NewJob(deps Deps, opts ...Option) (*Job, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("negotiation: queue required")
	case deps.Appointments == nil:
		return nil, errors.New("negotiation: appointment store required")
	case deps.Clients == nil:
		return nil, errors.New("negotiation: client reader required")
	case deps.Tenants == nil:
		return nil, errors.New("negotiation: tenant reader required")
	case deps.Drafter == nil:
		return nil, errors.New("negotiation: drafter required")
	case deps.Sender == nil:
		return nil, errors.New("negotiation: sender required")
	case deps.Messages == nil:
		return nil, errors.New("negotiation: message log required")
	case deps.Clock == nil:
		return nil, errors.New("negotiation: clock required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	intake, err := NewIntake(deps.Queue, deps.Appointments, deps.Clients, deps.Tenants, deps.Clock, deps.Logger)
	if err != nil {
		return nil, err
	}
	j := &Job{
		Deps:         deps,
		intake:       intake,
		batchSize:    defaultBatchSize,
		leaseTimeout: 30 * time.Minute,
		maxAttempts:  3,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Name identifies the job for the scheduler.
func (j *Job) Name() string { return jobName }

// Enqueue queues an appointment for renegotiation and flags it needs_reschedule.
func (j *Job) Enqueue(ctx context.Context, appt *appointments.Appointment, reason string) (*Entry, error) {
	return j.intake.Enqueue(ctx, appt, reason)
}

// errSkip leaves an entry negotiating for the stale-lease sweep.
type errSkip struct{ reason string }

func (e errSkip) Error() string { return e.reason }

// Run sweeps stale leases, leases a batch and processes each entry in
// isolation.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "negotiation.run")
	defer span.End()
	defer func() { j.Metrics.ObserveRun(jobName, time.Since(start).Seconds()) }()

	var sum Summary
	swept, err := j.Queue.RequeueStale(ctx, j.Clock.Now().Add(-j.leaseTimeout), j.maxAttempts)
	if err != nil {
		j.Logger.Warn("negotiation: stale sweep failed", "error", err)
	} else {
		sum.Requeued = swept.Requeued
		sum.Failed += int(swept.Failed)
	}

	entries, err := j.Queue.Lease(ctx, j.batchSize)
	if err != nil && len(entries) == 0 {
		span.RecordError(err)
		return sum, fmt.Errorf("negotiation: lease: %w", err)
	}
	if err != nil {
		j.Logger.Warn("negotiation: partial lease", "leased", len(entries), "error", err)
	}
	sum.Candidates = len(entries)
	span.SetAttributes(attribute.Int("dental.negotiation.leased", len(entries)))

	for i := range entries {
		e := &entries[i]
		log := j.Logger.With("entry_id", e.ID, "tenant_id", e.TenantID, "appointment_id", e.AppointmentID)
		err := j.process(ctx, e)
		var skip errSkip
		switch {
		case err == nil:
			sum.Sent++
			j.Metrics.ObserveItem(jobName, "sent")
			log.Info("negotiation: proposal sent")
		case errors.As(err, &skip):
			sum.Skipped++
			j.Metrics.ObserveItem(jobName, "skipped")
			log.Warn("negotiation: entry skipped", "reason", skip.reason)
		default:
			sum.Failed++
			j.Metrics.ObserveItem(jobName, "failed")
			log.Error("negotiation: entry failed", "error", err)
			if markErr := j.Queue.MarkFailed(ctx, e.ID, err.Error()); markErr != nil {
				log.Warn("negotiation: mark failed", "error", markErr)
			}
			j.Audit.Record(ctx, audit.Entry{
				TenantID: e.TenantID,
				ClientID: e.ClientID.String(),
				Step:     "negotiation",
				Level:    audit.LevelError,
				Message:  err.Error(),
				Details:  map[string]any{"entry_id": e.ID.String(), "appointment_id": e.AppointmentID.String()},
			})
		}
	}

	j.Logger.Info("negotiation: run finished", "requeued", sum.Requeued, "candidates", sum.Candidates,
		"sent", sum.Sent, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

// process works from the snapshot taken at enqueue time. Only the tenant,
// the open slots and the patient's phone are read fresh.
func (j *Job) process(ctx context.Context, e *Entry) error {
	ctx, span := tracer.Start(ctx, "negotiation.entry")
	defer span.End()

	tenant, err := j.Tenants.GetTenant(ctx, e.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}

	snap := e.Context
	clinicID := snap.ClinicID
	if clinicID == "" {
		clinicID = tenant.Config.DefaultClinicID
		snap.ClinicName = ""
		if clinicID != "" {
			if c, err := j.Tenants.GetClinic(ctx, e.TenantID, clinicID); err == nil {
				snap.ClinicName = c.Name
			}
		}
	}
	if clinicID == "" {
		return errSkip{reason: "no clinic resolvable"}
	}

	slots, err := j.Appointments.ListAvailableSlots(ctx, e.TenantID, clinicID, j.Clock.Now(), maxSlots)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	if len(slots) == 0 {
		return errSkip{reason: "no available slots"}
	}

	client, err := j.Clients.Get(ctx, e.TenantID, e.ClientID)
	if err != nil {
		return fmt.Errorf("load client: %w", err)
	}
	if client.Phone == "" {
		return errors.New("client has no phone")
	}
	if snap.PatientName == "" {
		snap.PatientName = client.Name
	}

	options := make([]string, len(slots))
	for i, s := range slots {
		options[i] = conversation.FormatSpanishSlot(j.Clock.Local(s.StartTime))
	}
	text, err := j.draft(ctx, tenant, snap, options)
	if err != nil {
		return err
	}

	if _, err := j.Sender.SendText(ctx, client.Phone, text, tenant.Config.Credentials); err != nil {
		return fmt.Errorf("send proposal: %w", err)
	}
	if err := j.Messages.Append(ctx, &messages.Message{
		TenantID: e.TenantID,
		ClientID: e.ClientID,
		Role:     messages.RoleAssistant,
		Content:  messages.Automated(messages.KindNegotiation, text),
	}); err != nil {
		j.Logger.Warn("negotiation: failed to log outbound message", "entry_id", e.ID, "error", err)
	}
	if err := j.Queue.MarkCompleted(ctx, e.ID); err != nil {
		j.Logger.Warn("negotiation: mark completed", "entry_id", e.ID, "error", err)
	}
	return nil
}

func (j *Job) draft(ctx context.Context, tenant *tenancy.Tenant, snap Snapshot, options []string) (string, error) {
	system := []string{draftInstructions}
	if custom := strings.TrimSpace(tenant.Config.CustomPrompt); custom != "" {
		system = append(system, "INSTRUCCIONES DE LA CLÍNICA:\n"+custom)
	}

	var b strings.Builder
	if snap.PatientName != "" {
		fmt.Fprintf(&b, "Paciente: %s\n", snap.PatientName)
	}
	if snap.DoctorName != "" {
		fmt.Fprintf(&b, "Doctor/a: %s\n", snap.DoctorName)
	}
	if snap.ClinicName != "" {
		fmt.Fprintf(&b, "Clínica: %s\n", snap.ClinicName)
	}
	fmt.Fprintf(&b, "Cita original: %s\n", conversation.FormatSpanishSlot(j.Clock.Local(snap.OriginalStart)))
	if snap.Reason != "" {
		fmt.Fprintf(&b, "Motivo del cambio: %s\n", snap.Reason)
	}
	b.WriteString("Opciones:\n")
	for i, o := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}

	resp, err := j.Drafter.Complete(ctx, conversation.LLMRequest{
		Model:       j.model,
		System:      system,
		Messages:    []conversation.ChatMessage{{Role: conversation.ChatRoleUser, Content: b.String()}},
		MaxTokens:   300,
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("draft proposal: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("draft proposal: empty text")
	}
	return text, nil
}
