package clients

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the client lifecycle stage.
type Status string

const (
	StatusLead   Status = "lead"
	StatusClient Status = "client"
)

// Gender is a best-effort personalization hint, never authoritative.
type Gender string

const (
	GenderUnknown Gender = ""
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
)

var (
	// ErrClientNotFound is returned when no client matches the lookup.
	ErrClientNotFound = errors.New("client not found")
	// ErrMissingPhone is returned when a client is created without a channel identity.
	ErrMissingPhone = errors.New("client phone is required")
)

// Client is one patient per (tenant, channel identity).
type Client struct {
	ID                uuid.UUID
	TenantID          string
	Phone             string
	Name              string
	Email             string
	Status            Status
	Gender            Gender
	PreferredClinicID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasIdentity reports whether both name and email are on file.
func (c *Client) HasIdentity() bool {
	return c != nil && c.Name != "" && c.Email != ""
}

// Profile carries the identity fields captured at booking time.
type Profile struct {
	FullName string
	Email    string
	Phone    string
}

// Promotion is the persisted form of a lead -> client transition.
// Empty fields leave the stored value untouched.
type Promotion struct {
	Name   string
	Email  string
	Phone  string
	Gender Gender
}
