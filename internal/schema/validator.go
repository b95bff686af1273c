package schema

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// eventTypePattern defines the valid format for event_type strings.
// Lowercase, starts with a letter, underscore or dot separated.
// Examples: "failed_login", "auth.brute_force", "data_exfiltration"
var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// Validator checks normalized records against the canonical schema.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    30 * 24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("event_type_format", func(fl validator.FieldLevel) bool {
		return eventTypePattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// ValidateEvent validates a normalized log event.
func (v *Validator) ValidateEvent(event *LogEvent) error {
	if err := v.validate.Struct(event); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()

	if event.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if event.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", event.Timestamp, v.maxAge)
	}

	if event.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", event.Timestamp, v.maxFuture)
	}

	return nil
}

// ValidateAlert validates an alert before persistence.
func (v *Validator) ValidateAlert(alert *Alert) error {
	if err := v.validate.Struct(alert); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if alert.IsSuppressed && alert.SuppressionReason == "" {
		return fmt.Errorf("suppressed alert requires a suppression reason")
	}
	if !alert.IsSuppressed && alert.SuppressionReason != "" {
		return fmt.Errorf("suppression reason set on unsuppressed alert")
	}

	return nil
}

// ValidateEventType checks if an event_type string matches the required format.
func ValidateEventType(eventType string) bool {
	return eventTypePattern.MatchString(eventType)
}
