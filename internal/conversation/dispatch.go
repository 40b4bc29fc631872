package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
)

const slotTakenMessage = "Ese horario se acaba de ocupar. Ofrece al paciente otra hora disponible."

// AvailabilityChecker computes free hourly slots for a day.
type AvailabilityChecker interface {
	ComputeAvailableSlots(ctx context.Context, date time.Time, clinicID, tenantID string) ([]string, error)
}

// BookingService is the booking surface used by the tool handlers.
type BookingService interface {
	Clock() *appointments.Clock
	Book(ctx context.Context, req appointments.BookRequest) (*appointments.Appointment, error)
	Cancel(ctx context.Context, tenantID string, clientID uuid.UUID, date time.Time, at string) (int64, error)
	Reschedule(ctx context.Context, req appointments.RescheduleRequest) (*appointments.Appointment, error)
	Upcoming(ctx context.Context, tenantID string, clientID uuid.UUID, limit int) ([]appointments.Appointment, error)
}

// KnowledgeSearcher answers free-text questions from the clinic knowledge base.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query, tenantID string) (string, error)
}

// toolResult is the JSON object handed back to the model for one call.
type toolResult map[string]any

func success(fields toolResult) toolResult {
	fields["success"] = true
	return fields
}

func failure(msg string) toolResult {
	return toolResult{"error": msg}
}

func (r toolResult) ok() bool {
	_, failed := r["error"]
	return !failed
}

func (r toolResult) encode() string {
	body, err := json.Marshal(r)
	if err != nil {
		return `{"error":"could not encode tool result"}`
	}
	return string(body)
}

// dispatch runs one parsed tool call. Domain problems come back as error
// results for the model; a returned error means a store failure that aborts
// the turn.
func (a *Agent) dispatch(ctx context.Context, tc *turnContext, inv toolInvocation) (toolResult, error) {
	switch call := inv.(type) {
	case checkAvailabilityCall:
		return a.checkAvailability(ctx, tc, call)
	case bookAppointmentCall:
		return a.bookAppointment(ctx, tc, call)
	case searchKnowledgeCall:
		return a.searchKnowledge(ctx, tc, call), nil
	case cancelAppointmentCall:
		return a.cancelAppointment(ctx, tc, call)
	case rescheduleAppointmentCall:
		return a.rescheduleAppointment(ctx, tc, call)
	default:
		return failure(fmt.Sprintf("unsupported tool %q", inv.toolName())), nil
	}
}

func (a *Agent) resolveClinic(tc *turnContext, requested string) (string, toolResult) {
	if strings.TrimSpace(requested) == "" {
		return tc.preferredClinicID(), nil
	}
	id, ok := tc.lookupClinic(strings.TrimSpace(requested))
	if !ok {
		return "", failure(fmt.Sprintf("unknown clinicId %q; use one of the listed clinic ids", requested))
	}
	return id, nil
}

func (a *Agent) checkAvailability(ctx context.Context, tc *turnContext, call checkAvailabilityCall) (toolResult, error) {
	clock := a.booking.Clock()
	date, err := clock.ParseDate(call.Date)
	if err != nil {
		return failure("invalid date, use YYYY-MM-DD"), nil
	}
	if date.Before(clock.Today()) {
		return failure("that date is in the past"), nil
	}
	clinicID, bad := a.resolveClinic(tc, call.ClinicID)
	if bad != nil {
		return bad, nil
	}
	slots, err := a.availability.ComputeAvailableSlots(ctx, date, clinicID, tc.tenantID)
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}
	out := toolResult{"date": date.Format("2006-01-02"), "clinicId": clinicID}
	if len(slots) == 0 {
		out["available_slots"] = appointments.NoSlots
	} else {
		out["available_slots"] = slots
	}
	return success(out), nil
}

func (a *Agent) bookAppointment(ctx context.Context, tc *turnContext, call bookAppointmentCall) (toolResult, error) {
	clock := a.booking.Clock()
	start, err := clock.ParseLocal(call.StartTime)
	if err != nil {
		return failure("invalid start_time, use YYYY-MM-DDTHH:MM:SS"), nil
	}
	if !start.After(clock.Now()) {
		return failure("start_time is in the past"), nil
	}
	clinicID, bad := a.resolveClinic(tc, call.ClinicID)
	if bad != nil {
		return bad, nil
	}

	appt, err := a.booking.Book(ctx, appointments.BookRequest{
		TenantID: tc.tenantID,
		ClientID: tc.client.ID,
		Start:    start,
		Reason:   call.Reason,
		ClinicID: clinicID,
		FullName: call.FullName,
		Email:    call.Email,
		Phone:    tc.client.Phone,
	})
	switch {
	case errors.Is(err, appointments.ErrSlotTaken):
		return failure(slotTakenMessage), nil
	case errors.Is(err, appointments.ErrInvalidTime):
		return failure("invalid start_time"), nil
	case err != nil:
		return nil, fmt.Errorf("book appointment: %w", err)
	}

	tc.client.Name = strings.TrimSpace(call.FullName)
	tc.client.Email = strings.TrimSpace(call.Email)
	if clinicID != "" && clinicID != tc.client.PreferredClinicID {
		if err := a.clients.SetPreferredClinic(ctx, tc.tenantID, tc.client.ID, clinicID); err != nil {
			a.logger.Warn("failed to update preferred clinic", "tenant_id", tc.tenantID, "client_id", tc.client.ID, "error", err)
		} else {
			tc.client.PreferredClinicID = clinicID
		}
	}

	return success(toolResult{
		"appointment_id": appt.ID.String(),
		"start_time":     clock.Local(appt.StartTime).Format("2006-01-02T15:04"),
		"clinicId":       appt.ClinicID,
		"status":         string(appt.Status),
	}), nil
}

func (a *Agent) searchKnowledge(ctx context.Context, tc *turnContext, call searchKnowledgeCall) toolResult {
	info, err := a.knowledge.Search(ctx, call.Query, tc.tenantID)
	if err != nil {
		a.logger.Warn("knowledge search failed", "tenant_id", tc.tenantID, "error", err)
		return failure("knowledge search unavailable")
	}
	return toolResult{"info": info}
}

func (a *Agent) cancelAppointment(ctx context.Context, tc *turnContext, call cancelAppointmentCall) (toolResult, error) {
	date, err := a.booking.Clock().ParseDate(call.Date)
	if err != nil {
		return failure("invalid date, use YYYY-MM-DD"), nil
	}
	if at := strings.TrimSpace(call.Time); at != "" {
		if _, _, err := appointments.ParseClock(at); err != nil {
			return failure("invalid time, use HH:MM"), nil
		}
	}
	n, err := a.booking.Cancel(ctx, tc.tenantID, tc.client.ID, date, call.Time)
	switch {
	case errors.Is(err, appointments.ErrNotFound):
		return failure("no appointment found on that date"), nil
	case err != nil:
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	return success(toolResult{"cancelled": n, "date": date.Format("2006-01-02")}), nil
}

func (a *Agent) rescheduleAppointment(ctx context.Context, tc *turnContext, call rescheduleAppointmentCall) (toolResult, error) {
	clock := a.booking.Clock()
	original, err := clock.ParseDate(call.OriginalDate)
	if err != nil {
		return failure("invalid original_date, use YYYY-MM-DD"), nil
	}
	start, err := clock.ParseLocal(call.NewStartTime)
	if err != nil {
		return failure("invalid new_start_time, use YYYY-MM-DDTHH:MM:SS"), nil
	}
	if !start.After(clock.Now()) {
		return failure("new_start_time is in the past"), nil
	}
	clinicID := ""
	if strings.TrimSpace(call.ClinicID) != "" {
		var bad toolResult
		if clinicID, bad = a.resolveClinic(tc, call.ClinicID); bad != nil {
			return bad, nil
		}
	}

	moved, err := a.booking.Reschedule(ctx, appointments.RescheduleRequest{
		TenantID:     tc.tenantID,
		ClientID:     tc.client.ID,
		OriginalDate: original,
		NewStart:     start,
		ClinicID:     clinicID,
	})
	switch {
	case errors.Is(err, appointments.ErrSlotTaken):
		return failure(slotTakenMessage), nil
	case errors.Is(err, appointments.ErrNotFound):
		return failure("no appointment found on original_date"), nil
	case errors.Is(err, appointments.ErrInvalidTime):
		return failure("invalid new_start_time"), nil
	case err != nil:
		return nil, fmt.Errorf("reschedule appointment: %w", err)
	}
	return success(toolResult{
		"appointment_id": moved.ID.String(),
		"start_time":     clock.Local(moved.StartTime).Format("2006-01-02T15:04"),
		"clinicId":       moved.ClinicID,
		"status":         string(moved.Status),
	}), nil
}
