package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	ToolCheckAvailability     = "check_calendar_availability"
	ToolBookAppointment       = "book_appointment"
	ToolSearchKnowledgeBase   = "search_knowledge_base"
	ToolCancelAppointment     = "cancel_appointment"
	ToolRescheduleAppointment = "reschedule_appointment"
)

var (
	errUnknownTool     = errors.New("unknown tool")
	errMissingArgument = errors.New("missing required argument")
)

// Catalog returns the fixed tool set offered to the model on every round.
func Catalog() []ToolSpec {
	str := func(desc string) jsonschema.Definition {
		return jsonschema.Definition{Type: jsonschema.String, Description: desc}
	}
	object := func(props map[string]jsonschema.Definition, required ...string) jsonschema.Definition {
		return jsonschema.Definition{
			Type:                 jsonschema.Object,
			Properties:           props,
			Required:             required,
			AdditionalProperties: false,
		}
	}

	return []ToolSpec{
		{
			Name:        ToolCheckAvailability,
			Description: "List free appointment start times for one day at a clinic.",
			Parameters: object(map[string]jsonschema.Definition{
				"date":     str("Day to check, YYYY-MM-DD."),
				"clinicId": str("Clinic id. Defaults to the patient's preferred clinic."),
			}, "date"),
		},
		{
			Name:        ToolBookAppointment,
			Description: "Book a 30 minute appointment for the patient.",
			Parameters: object(map[string]jsonschema.Definition{
				"start_time": str("Start time, ISO-8601 (YYYY-MM-DDTHH:MM:SS)."),
				"reason":     str("Reason for the visit."),
				"full_name":  str("Patient full name."),
				"email":      str("Patient email."),
				"clinicId":   str("Clinic id. Defaults to the patient's preferred clinic."),
			}, "start_time", "reason", "full_name", "email"),
		},
		{
			Name:        ToolSearchKnowledgeBase,
			Description: "Search clinic information such as prices, treatments, opening hours and policies.",
			Parameters: object(map[string]jsonschema.Definition{
				"query": str("What the patient wants to know."),
			}, "query"),
		},
		{
			Name:        ToolCancelAppointment,
			Description: "Cancel the patient's appointments on a day.",
			Parameters: object(map[string]jsonschema.Definition{
				"date": str("Day of the appointment, YYYY-MM-DD."),
				"time": str("Start time HH:MM, to cancel only that appointment."),
			}, "date"),
		},
		{
			Name:        ToolRescheduleAppointment,
			Description: "Move the patient's appointment from one day to a new start time.",
			Parameters: object(map[string]jsonschema.Definition{
				"original_date":  str("Day of the current appointment, YYYY-MM-DD."),
				"new_start_time": str("New start time, ISO-8601 (YYYY-MM-DDTHH:MM:SS)."),
				"clinicId":       str("Clinic id for the new slot. Defaults to the current clinic."),
			}, "original_date", "new_start_time"),
		},
	}
}

// toolInvocation is the closed set of parsed tool calls.
type toolInvocation interface {
	toolName() string
}

type checkAvailabilityCall struct {
	Date     string `json:"date"`
	ClinicID string `json:"clinicId"`
}

type bookAppointmentCall struct {
	StartTime string `json:"start_time"`
	Reason    string `json:"reason"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	ClinicID  string `json:"clinicId"`
}

type searchKnowledgeCall struct {
	Query string `json:"query"`
}

type cancelAppointmentCall struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type rescheduleAppointmentCall struct {
	OriginalDate string `json:"original_date"`
	NewStartTime string `json:"new_start_time"`
	ClinicID     string `json:"clinicId"`
}

func (checkAvailabilityCall) toolName() string     { return ToolCheckAvailability }
func (bookAppointmentCall) toolName() string       { return ToolBookAppointment }
func (searchKnowledgeCall) toolName() string       { return ToolSearchKnowledgeBase }
func (cancelAppointmentCall) toolName() string     { return ToolCancelAppointment }
func (rescheduleAppointmentCall) toolName() string { return ToolRescheduleAppointment }

// parseToolCall decodes a model tool call into its typed invocation.
func parseToolCall(call ToolCall) (toolInvocation, error) {
	switch call.Name {
	case ToolCheckAvailability:
		var c checkAvailabilityCall
		if err := decodeArgs(call.Arguments, &c); err != nil {
			return nil, err
		}
		return c, requireArgs(map[string]string{"date": c.Date})
	case ToolBookAppointment:
		var c bookAppointmentCall
		if err := decodeArgs(call.Arguments, &c); err != nil {
			return nil, err
		}
		return c, requireArgs(map[string]string{
			"start_time": c.StartTime,
			"reason":     c.Reason,
			"full_name":  c.FullName,
			"email":      c.Email,
		})
	case ToolSearchKnowledgeBase:
		var c searchKnowledgeCall
		if err := decodeArgs(call.Arguments, &c); err != nil {
			return nil, err
		}
		return c, requireArgs(map[string]string{"query": c.Query})
	case ToolCancelAppointment:
		var c cancelAppointmentCall
		if err := decodeArgs(call.Arguments, &c); err != nil {
			return nil, err
		}
		return c, requireArgs(map[string]string{"date": c.Date})
	case ToolRescheduleAppointment:
		var c rescheduleAppointmentCall
		if err := decodeArgs(call.Arguments, &c); err != nil {
			return nil, err
		}
		return c, requireArgs(map[string]string{
			"original_date":  c.OriginalDate,
			"new_start_time": c.NewStartTime,
		})
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownTool, call.Name)
	}
}

func decodeArgs(raw string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func requireArgs(args map[string]string) error {
	var missing []string
	for name, value := range args {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", errMissingArgument, strings.Join(missing, ", "))
}
