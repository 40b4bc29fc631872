package appointments

import (
	"context"
	"fmt"
	"time"
)

// NoSlots is the sentinel reported when a day has no free slot.
const NoSlots = "none"

// BusyLister returns start times of slot-occupying appointments in a window.
// An empty clinicID matches every clinic of the tenant; an empty tenantID
// matches every tenant.
type BusyLister interface {
	ListBusyStarts(ctx context.Context, tenantID, clinicID string, from, to time.Time) ([]time.Time, error)
}

// AvailabilityEngine computes advisory free slots. Its answer is never a
// booking gate: only the store constraint decides conflicts.
type AvailabilityEngine struct {
	busy      BusyLister
	clock     *Clock
	startHour int
	endHour   int
	step      time.Duration
	tolerance time.Duration
}

// AvailabilityOption customizes the engine.
type AvailabilityOption func(*AvailabilityEngine)

// WithBusinessHours overrides the default 09:00-18:00 window.
func WithBusinessHours(start, end int) AvailabilityOption {
	return func(e *AvailabilityEngine) {
		if start >= 0 && end <= 24 && start < end {
			e.startHour = start
			e.endHour = end
		}
	}
}

// NewAvailabilityEngine creates an hourly-grid engine with a ±30 minute busy tolerance.
func NewAvailabilityEngine(busy BusyLister, clock *Clock, opts ...AvailabilityOption) *AvailabilityEngine {
	e := &AvailabilityEngine{
		busy:      busy,
		clock:     clock,
		startHour: 9,
		endHour:   18,
		step:      time.Hour,
		tolerance: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputeAvailableSlots returns free slot times ("HH:MM") for the civil date.
// An empty result means the day is full; callers report NoSlots.
func (e *AvailabilityEngine) ComputeAvailableSlots(ctx context.Context, date time.Time, clinicID, tenantID string) ([]string, error) {
	y, m, d := date.Date()
	open := e.clock.Date(y, m, d, e.startHour, 0)
	closeAt := e.clock.Date(y, m, d, e.endHour, 0)

	starts, err := e.busy.ListBusyStarts(ctx, tenantID, clinicID, open.Add(-e.tolerance), closeAt.Add(e.tolerance))
	if err != nil {
		return nil, fmt.Errorf("appointments: availability: %w", err)
	}

	slots := make([]string, 0, e.endHour-e.startHour)
	for slot := open; slot.Before(closeAt); slot = slot.Add(e.step) {
		if e.isBusy(slot, starts) {
			continue
		}
		slots = append(slots, slot.Format("15:04"))
	}
	return slots, nil
}

func (e *AvailabilityEngine) isBusy(slot time.Time, starts []time.Time) bool {
	for _, s := range starts {
		diff := s.Sub(slot)
		if diff < 0 {
			diff = -diff
		}
		if diff < e.tolerance {
			return true
		}
	}
	return false
}
