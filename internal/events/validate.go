package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// sourceRegex restricts source identifiers to alphanumerics, underscores,
// hyphens, and dots (e.g. quiz_engine, timer.service).
var sourceRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// PublishRequest is the inbound payload for publishing an event.
type PublishRequest struct {
	EventType string          `json:"event_type" validate:"required"`
	Source    string          `json:"source" validate:"required,min=1,max=100"`
	SessionID *string         `json:"session_id" validate:"omitempty,max=200"`
	UserID    *string         `json:"user_id" validate:"omitempty,max=200"`
	Payload   json.RawMessage `json:"payload"`
}

// Validator validates publish requests against the event type registry
// and the configured payload limits.
type Validator struct {
	validate        *validator.Validate
	maxPayloadKeys  int
	maxPayloadBytes int
}

// NewValidator creates a Validator with the given payload limits.
func NewValidator(maxPayloadKeys, maxPayloadBytes int) *Validator {
	return &Validator{
		validate:        validator.New(),
		maxPayloadKeys:  maxPayloadKeys,
		maxPayloadBytes: maxPayloadBytes,
	}
}

// ValidatePublish returns a list of validation errors (empty if valid).
func (v *Validator) ValidatePublish(req PublishRequest) []string {
	var errs []string

	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fieldError(fe))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if req.EventType != "" && !IsKnownType(req.EventType) {
		known := make([]string, 0, len(Types))
		for t := range Types {
			known = append(known, t)
		}
		sort.Strings(known)
		errs = append(errs, fmt.Sprintf("unknown event_type '%s', must be one of: %s",
			req.EventType, strings.Join(known, ", ")))
	}

	if req.Source != "" && !sourceRegex.MatchString(req.Source) {
		errs = append(errs, "source contains invalid characters (only alphanumerics, underscores, hyphens, and dots allowed)")
	}

	errs = append(errs, v.validatePayload(req.Payload)...)

	return errs
}

// validatePayload enforces that the payload is a JSON object within the
// configured size and key-count limits.
func (v *Validator) validatePayload(payload json.RawMessage) []string {
	if len(payload) == 0 {
		return nil
	}

	if len(payload) > v.maxPayloadBytes {
		return []string{fmt.Sprintf("payload is %d bytes (max %d)", len(payload), v.maxPayloadBytes)}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return []string{"payload must be a JSON object"}
	}

	if len(obj) > v.maxPayloadKeys {
		return []string{fmt.Sprintf("payload has %d keys (max %d)", len(obj), v.maxPayloadKeys)}
	}

	return nil
}

// ToEvent constructs an immutable Event from a validated request with a
// fresh id and the current UTC time.
func (req PublishRequest) ToEvent() Event {
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	return Event{
		ID:        NewEventID(),
		Type:      req.EventType,
		Source:    req.Source,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", jsonName(fe.Field()))
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", jsonName(fe.Field()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", jsonName(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", jsonName(fe.Field()))
	}
}

// jsonName maps struct field names to their wire names.
func jsonName(field string) string {
	switch field {
	case "EventType":
		return "event_type"
	case "Source":
		return "source"
	case "SessionID":
		return "session_id"
	case "UserID":
		return "user_id"
	case "Payload":
		return "payload"
	}
	return field
}
