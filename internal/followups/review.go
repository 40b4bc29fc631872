package followups

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-agent/internal/appointments"
	"github.com/wolfman30/dental-booking-agent/internal/messages"
)

const reviewJob = "review"

// ReviewJob asks patients for a review shortly after a completed visit.
type ReviewJob struct {
	Deps
	fallbackLink string
}

func NewReviewJob(deps Deps, fallbackLink string) (*ReviewJob, error) {
	if err := deps.validate("review"); err != nil {
		return nil, err
	}
	return &ReviewJob{Deps: deps, fallbackLink: strings.TrimSpace(fallbackLink)}, nil
}

func (j *ReviewJob) Name() string { return reviewJob }

// Run messages completed visits that ended one to two hours ago.
func (j *ReviewJob) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "followups.review.run")
	defer span.End()
	defer func() { j.Metrics.ObserveRun(reviewJob, time.Since(start).Seconds()) }()

	now := j.Clock.Now()
	candidates, err := j.Appointments.ListReviewDue(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour), maxCandidates)
	if err != nil {
		span.RecordError(err)
		return Summary{}, fmt.Errorf("review: list candidates: %w", err)
	}
	span.SetAttributes(attribute.Int("dental.followups.candidates", len(candidates)))

	sum := j.runBatches(ctx, reviewJob, candidates, j.request)
	j.Logger.Info("review: run finished", "candidates", sum.Candidates, "sent", sum.Sent, "failed", sum.Failed)
	return sum, nil
}

func (j *ReviewJob) request(ctx context.Context, appt appointments.Appointment) error {
	v, err := j.loadVisit(ctx, appt)
	if err != nil {
		return err
	}
	link := firstNonEmpty(v.tenant.Config.ReviewLink, j.fallbackLink)
	if link == "" {
		return errors.New("no review link configured")
	}

	clinic := firstNonEmpty(v.tenant.Name, "nuestra clínica")
	if v.clinic != nil {
		clinic = v.clinic.Name
	}
	text := fmt.Sprintf("¡Gracias por visitarnos en %s", clinic)
	if parts := strings.Fields(v.client.Name); len(parts) > 0 {
		text += ", " + parts[0]
	}
	text += "! Nos ayudaría mucho conocer su opinión: " + link

	if _, err := j.Sender.SendText(ctx, v.client.Phone, text, v.tenant.Config.Credentials); err != nil {
		return fmt.Errorf("send review request: %w", err)
	}
	if _, err := j.Appointments.MarkReviewSent(ctx, appt.TenantID, appt.ID); err != nil {
		return fmt.Errorf("mark review sent: %w", err)
	}
	j.logOutbound(ctx, v, messages.KindReview, text)
	return nil
}
