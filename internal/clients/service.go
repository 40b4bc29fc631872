package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Service wraps the repository with the promotion rules.
type Service struct {
	repo   Repository
	logger *logging.Logger
}

// NewService creates a client service.
func NewService(repo Repository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Repository exposes the underlying store for read paths.
func (s *Service) Repository() Repository {
	return s.repo
}

// PromoteToClient marks the client as a client, backfills identity fields and
// infers gender from the full name when one can be guessed.
func (s *Service) PromoteToClient(ctx context.Context, tenantID string, clientID uuid.UUID, profile Profile) error {
	p := Promotion{
		Name:   strings.TrimSpace(profile.FullName),
		Email:  strings.TrimSpace(profile.Email),
		Phone:  strings.TrimSpace(profile.Phone),
		Gender: InferGender(profile.FullName),
	}
	if err := s.repo.Promote(ctx, tenantID, clientID, p); err != nil {
		return fmt.Errorf("clients: promote %s: %w", clientID, err)
	}
	s.logger.Debug("client promoted", "tenant_id", tenantID, "client_id", clientID, "gender", string(p.Gender))
	return nil
}

// SetPreferredClinic records the client's default clinic.
func (s *Service) SetPreferredClinic(ctx context.Context, tenantID string, clientID uuid.UUID, clinicID string) error {
	return s.repo.SetPreferredClinic(ctx, tenantID, clientID, clinicID)
}
