package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/clients"
	"github.com/wolfman30/dental-booking-agent/internal/messages"
	"github.com/wolfman30/dental-booking-agent/internal/tenancy"
)

const (
	upcomingLimit = 5
	historyLimit  = 10
)

// turnContext is the state of one inbound message, shared by the prompt and
// the tool handlers.
type turnContext struct {
	tenantID string
	tenant   *tenancy.Tenant
	client   *clients.Client
	clinics  []tenancy.Clinic
	upcoming []appointments.Appointment
	history  []messages.Message
}

// preferredClinicID picks the clinic to default to: the client's preference,
// then the tenant default, then the only clinic when there is just one.
func (tc *turnContext) preferredClinicID() string {
	if tc.client != nil && tc.client.PreferredClinicID != "" {
		return tc.client.PreferredClinicID
	}
	if tc.tenant != nil && tc.tenant.Config.DefaultClinicID != "" {
		return tc.tenant.Config.DefaultClinicID
	}
	if len(tc.clinics) == 1 {
		return tc.clinics[0].ID
	}
	return ""
}

// lookupClinic matches a model supplied clinic reference by id or name.
func (tc *turnContext) lookupClinic(ref string) (string, bool) {
	if len(tc.clinics) == 0 {
		return ref, true
	}
	for _, c := range tc.clinics {
		if c.ID == ref || equalFoldTrim(c.Name, ref) {
			return c.ID, true
		}
	}
	return "", false
}

// resolveTenantID applies explicit routing, then the stored tenant of the
// sender, then the configured default.
func (a *Agent) resolveTenantID(ctx context.Context, msg InboundMessage) (string, error) {
	if msg.TenantID != "" {
		return msg.TenantID, nil
	}
	existing, err := a.clients.FindLatestByPhone(ctx, msg.SenderID)
	switch {
	case err == nil && existing.TenantID != "":
		return existing.TenantID, nil
	case err != nil && !errors.Is(err, clients.ErrClientNotFound):
		return "", fmt.Errorf("conversation: lookup sender: %w", err)
	}
	if a.cfg.defaultTenantID == "" {
		return "", errors.New("conversation: no tenant for sender and no default tenant configured")
	}
	return a.cfg.defaultTenantID, nil
}

// loadContext resolves the client then fans out the independent reads.
func (a *Agent) loadContext(ctx context.Context, msg InboundMessage) (*turnContext, error) {
	tenantID, err := a.resolveTenantID(ctx, msg)
	if err != nil {
		return nil, err
	}
	client, err := a.clients.GetOrCreateLead(ctx, tenantID, msg.SenderID, msg.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("conversation: resolve client: %w", err)
	}

	tc := &turnContext{tenantID: tenantID, client: client}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := a.tenants.GetTenant(gctx, tenantID)
		if err != nil && !errors.Is(err, tenancy.ErrTenantNotFound) {
			return fmt.Errorf("tenant: %w", err)
		}
		tc.tenant = t
		return nil
	})
	g.Go(func() error {
		list, err := a.tenants.ListClinics(gctx, tenantID)
		if err != nil {
			return fmt.Errorf("clinics: %w", err)
		}
		tc.clinics = list
		return nil
	})
	g.Go(func() error {
		list, err := a.booking.Upcoming(gctx, tenantID, client.ID, upcomingLimit)
		if err != nil {
			return fmt.Errorf("upcoming: %w", err)
		}
		tc.upcoming = list
		return nil
	})
	g.Go(func() error {
		list, err := a.history.Recent(gctx, tenantID, client.ID, historyLimit)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		tc.history = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("conversation: load context: %w", err)
	}
	return tc, nil
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
