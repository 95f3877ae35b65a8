package notification

import (
	"errors"
	"fmt"
	"time"
)

// StatusTemplate describes the notification sent when a waitlist entry
// enters a status.
type StatusTemplate struct {
	Message      string   `mapstructure:"message" json:"message"`
	Priority     Priority `mapstructure:"priority" json:"priority"`
	DelayMinutes int      `mapstructure:"delay_minutes" json:"delay_minutes"`
}

// Delay is the offset from the transition to the earliest send time.
func (t StatusTemplate) Delay() time.Duration {
	return time.Duration(t.DelayMinutes) * time.Minute
}

// Config is loaded once at startup and never modified afterwards. Services
// keep their own copy.
type Config struct {
	StatusChanges         map[string]StatusTemplate `mapstructure:"status_changes" json:"status_changes"`
	ConfirmationMessage   string                    `mapstructure:"confirmation_message" json:"confirmation_message"`
	MatchMessage          string                    `mapstructure:"match_message" json:"match_message"`
	RetryAttempts         int                       `mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryDelayMinutes     int                       `mapstructure:"retry_delay_minutes" json:"retry_delay_minutes"`
	DefaultExpirationDays int                       `mapstructure:"default_expiration_days" json:"default_expiration_days"`
}

func DefaultConfig() Config {
	return Config{
		StatusChanges: map[string]StatusTemplate{
			"contacted": {
				Message:      "A representative has tried to contact you. Please wait for their call.",
				Priority:     PriorityNormal,
				DelayMinutes: 15,
			},
			"scheduled": {
				Message:  "Good news! A slot matching your preferences has opened up.",
				Priority: PriorityHigh,
			},
			"cancelled": {
				Message:  "Your waitlist request has been cancelled.",
				Priority: PriorityHigh,
			},
			"expired": {
				Message:  "Your waitlist request has expired. Please create a new request if you still need an appointment.",
				Priority: PriorityNormal,
			},
		},
		ConfirmationMessage:   "Your request has been successfully registered on our waitlist.",
		MatchMessage:          "A time slot matching your preferences has become available.",
		RetryAttempts:         3,
		RetryDelayMinutes:     5,
		DefaultExpirationDays: 30,
	}
}

// StatusTemplate returns the template for a waitlist status, if one exists.
func (c Config) StatusTemplate(status string) (StatusTemplate, bool) {
	t, ok := c.StatusChanges[status]
	return t, ok
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMinutes) * time.Minute
}

// ExpirationAge is how long an entry may wait before the sweep expires it.
func (c Config) ExpirationAge() time.Duration {
	return time.Duration(c.DefaultExpirationDays) * 24 * time.Hour
}

func (c Config) Validate() error {
	var errs []error
	if c.RetryAttempts < 0 {
		errs = append(errs, errors.New("retry_attempts must not be negative"))
	}
	if c.RetryDelayMinutes < 0 {
		errs = append(errs, errors.New("retry_delay_minutes must not be negative"))
	}
	if c.DefaultExpirationDays <= 0 {
		errs = append(errs, errors.New("default_expiration_days must be positive"))
	}
	if c.ConfirmationMessage == "" {
		errs = append(errs, errors.New("confirmation_message is required"))
	}
	if c.MatchMessage == "" {
		errs = append(errs, errors.New("match_message is required"))
	}
	for status, t := range c.StatusChanges {
		if t.Message == "" {
			errs = append(errs, fmt.Errorf("status_changes.%s: message is required", status))
		}
		if !t.Priority.Valid() {
			errs = append(errs, fmt.Errorf("status_changes.%s: invalid priority %q", status, t.Priority))
		}
		if t.DelayMinutes < 0 {
			errs = append(errs, fmt.Errorf("status_changes.%s: delay_minutes must not be negative", status))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a copy that shares no maps with c.
func (c Config) Clone() Config {
	out := c
	out.StatusChanges = make(map[string]StatusTemplate, len(c.StatusChanges))
	for k, v := range c.StatusChanges {
		out.StatusChanges[k] = v
	}
	return out
}
