// Package followups sends appointment reminders and post-visit review requests.
package followups

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/audit"
	"github.com/wolfman30/dental-booking-agent/internal/clients"
	"github.com/wolfman30/dental-booking-agent/internal/messages"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var tracer = otel.Tracer("dental.internal.followups")

const (
	batchSize     = 20
	maxCandidates = 500
)

// AppointmentStore is the appointment surface used by both jobs.
type AppointmentStore interface {
	ListReminderDue(ctx context.Context, from, to time.Time, limit int) ([]appointments.Appointment, error)
	MarkReminderSent(ctx context.Context, tenantID string, id uuid.UUID) (bool, error)
	ListReviewDue(ctx context.Context, from, to time.Time, limit int) ([]appointments.Appointment, error)
	MarkReviewSent(ctx context.Context, tenantID string, id uuid.UUID) (bool, error)
}

type ClientReader interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*clients.Client, error)
}

type TenantReader interface {
	GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
	GetClinic(ctx context.Context, tenantID, clinicID string) (*tenancy.Clinic, error)
}

// Sender delivers free text and provider templates.
type Sender interface {
	SendText(ctx context.Context, to, body string, creds tenancy.Credentials) (string, error)
	SendTemplate(ctx context.Context, to string, tmpl messaging.Template, creds tenancy.Credentials) (string, error)
}

// Summary reports one job run.
type Summary struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// Deps wires the collaborators shared by the reminder and review jobs.
type Deps struct {
	Appointments AppointmentStore
	Clients      ClientReader
	Tenants      TenantReader
	Sender       Sender
	Messages     messages.Log
	Clock        *appointments.Clock
	Audit        *audit.Store
	Metrics      *metrics.JobMetrics
	Logger       *logging.Logger
}

func (d *Deps) validate(pkg string) error {
	switch {
	case d.Appointments == nil:
		return fmt.Errorf("%s: appointment store required", pkg)
	case d.Clients == nil:
		return fmt.Errorf("%s: client reader required", pkg)
	case d.Tenants == nil:
		return fmt.Errorf("%s: tenant reader required", pkg)
	case d.Sender == nil:
		return fmt.Errorf("%s: sender required", pkg)
	case d.Messages == nil:
		return fmt.Errorf("%s: message log required", pkg)
	case d.Clock == nil:
		return fmt.Errorf("%s: clock required", pkg)
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return nil
}

// visit bundles everything needed to message one appointment.
type visit struct {
	appt   appointments.Appointment
	client *clients.Client
	tenant *tenancy.Tenant
	clinic *tenancy.Clinic
}

var errNoPhone = errors.New("followups: client has no phone")

func (d *Deps) loadVisit(ctx context.Context, appt appointments.Appointment) (*visit, error) {
	client, err := d.Clients.Get(ctx, appt.TenantID, appt.ClientID)
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	if client.Phone == "" {
		return nil, errNoPhone
	}
	tenant, err := d.Tenants.GetTenant(ctx, appt.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	v := &visit{appt: appt, client: client, tenant: tenant}
	if appt.ClinicID != "" {
		if c, err := d.Tenants.GetClinic(ctx, appt.TenantID, appt.ClinicID); err == nil {
			v.clinic = c
		}
	}
	return v, nil
}

func (d *Deps) logOutbound(ctx context.Context, v *visit, kind, text string) {
	err := d.Messages.Append(ctx, &messages.Message{
		TenantID: v.appt.TenantID,
		ClientID: v.appt.ClientID,
		Role:     messages.RoleAssistant,
		Content:  messages.Automated(kind, text),
	})
	if err != nil {
		d.Logger.Warn("followups: failed to log outbound message", "kind", kind, "appointment_id", v.appt.ID, "error", err)
	}
}

// runBatches processes candidates in groups of batchSize, each group
// concurrently. One item failing never affects its siblings.
func (d *Deps) runBatches(ctx context.Context, job string, candidates []appointments.Appointment, handle func(context.Context, appointments.Appointment) error) Summary {
	sum := Summary{Candidates: len(candidates)}
	var mu sync.Mutex
	for startIdx := 0; startIdx < len(candidates); startIdx += batchSize {
		end := startIdx + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		var g errgroup.Group
		for _, appt := range candidates[startIdx:end] {
			appt := appt
			g.Go(func() error {
				err := handle(ctx, appt)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					sum.Failed++
					d.Metrics.ObserveItem(job, "failed")
					d.Logger.Error("followups: item failed", "job", job, "appointment_id", appt.ID, "tenant_id", appt.TenantID, "error", err)
					d.Audit.Record(ctx, audit.Entry{
						TenantID: appt.TenantID,
						ClientID: appt.ClientID.String(),
						Step:     job,
						Level:    audit.LevelError,
						Message:  err.Error(),
						Details:  map[string]any{"appointment_id": appt.ID.String()},
					})
					return nil
				}
				sum.Sent++
				d.Metrics.ObserveItem(job, "sent")
				return nil
			})
		}
		_ = g.Wait()
	}
	return sum
}
