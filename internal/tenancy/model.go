package tenancy

import (
	"errors"
	"strings"
)

var (
	// ErrTenantNotFound is returned when no tenant matches the lookup.
	ErrTenantNotFound = errors.New("tenancy: tenant not found")
	// ErrClinicNotFound is returned when a clinic id is unknown for the tenant.
	ErrClinicNotFound = errors.New("tenancy: clinic not found")
)

// Tenant is one clinic organization. Its Config blob is written by the admin surface.
type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RoutingID string `json:"routing_id"`
	Config    Config `json:"config"`
}

// Config is the tenant configuration blob.
type Config struct {
	CustomPrompt    string      `json:"custom_prompt,omitempty"`
	DefaultClinicID string      `json:"default_clinic_id,omitempty"`
	Credentials     Credentials `json:"credentials"`
	Templates       Templates   `json:"templates"`
	ReviewLink      string      `json:"review_link,omitempty"`
	Timezone        string      `json:"timezone,omitempty"`
}

// Credentials are the tenant-scoped channel endpoint id and access token.
type Credentials struct {
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	AccessToken   string `json:"access_token,omitempty"`
}

// Configured reports whether both halves of the credentials are present.
func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.PhoneNumberID) != "" && strings.TrimSpace(c.AccessToken) != ""
}

// Templates maps notification kinds to provider template identifiers.
type Templates struct {
	Reminder TemplateMapping `json:"reminder"`
}

// DefaultDeclinePayload is the quick-reply payload that asks for a new time
// when a template configures none.
const DefaultDeclinePayload = "RESCHEDULE"

// TemplateMapping names a provider template and the ordered fields that fill it.
// Known fields: patient_name, date, time, clinic_name, clinic_address.
// DeclinePayloads are the quick-reply button payloads meaning the patient
// cannot attend.
type TemplateMapping struct {
	Name            string   `json:"name,omitempty"`
	Language        string   `json:"language,omitempty"`
	Fields          []string `json:"fields,omitempty"`
	DeclinePayloads []string `json:"decline_payloads,omitempty"`
}

// IsDecline reports whether a button payload declines the visit.
func (m TemplateMapping) IsDecline(payload string) bool {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return false
	}
	if len(m.DeclinePayloads) == 0 {
		return strings.EqualFold(payload, DefaultDeclinePayload)
	}
	for _, p := range m.DeclinePayloads {
		if strings.EqualFold(strings.TrimSpace(p), payload) {
			return true
		}
	}
	return false
}

// Clinic is one physical location of a tenant.
type Clinic struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
}

// Doctor is a practitioner attached to a clinic.
type Doctor struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	ClinicID string `json:"clinic_id"`
	Name     string `json:"name"`
}
