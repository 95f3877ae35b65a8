package notification

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryDelay() != 5*time.Minute {
		t.Errorf("unexpected retry settings: %d / %s", cfg.RetryAttempts, cfg.RetryDelay())
	}
	if cfg.ExpirationAge() != 30*24*time.Hour {
		t.Errorf("unexpected expiration age: %s", cfg.ExpirationAge())
	}

	contacted, ok := cfg.StatusTemplate("contacted")
	if !ok || contacted.Priority != PriorityNormal || contacted.Delay() != 15*time.Minute {
		t.Errorf("unexpected contacted template: %+v", contacted)
	}
	for _, status := range []string{"scheduled", "cancelled"} {
		tpl, ok := cfg.StatusTemplate(status)
		if !ok || tpl.Priority != PriorityHigh || tpl.DelayMinutes != 0 {
			t.Errorf("unexpected %s template: %+v", status, tpl)
		}
	}
	if _, ok := cfg.StatusTemplate("waiting"); ok {
		t.Error("waiting has no status-change template")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }},
		{"negative delay", func(c *Config) { c.RetryDelayMinutes = -5 }},
		{"zero expiration", func(c *Config) { c.DefaultExpirationDays = 0 }},
		{"empty confirmation", func(c *Config) { c.ConfirmationMessage = "" }},
		{"bad priority", func(c *Config) {
			c.StatusChanges["contacted"] = StatusTemplate{Message: "x", Priority: "urgent"}
		}},
		{"empty message", func(c *Config) {
			c.StatusChanges["expired"] = StatusTemplate{Priority: PriorityLow}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_ConfigIsFrozen(t *testing.T) {
	cfg := DefaultConfig()
	svc := NewService(NewMemoryRepo(), nil, nil, cfg)

	cfg.StatusChanges["contacted"] = StatusTemplate{Message: "changed", Priority: PriorityLow}
	got, _ := svc.Config().StatusTemplate("contacted")
	if got.Message == "changed" {
		t.Error("service config must not observe later changes to the caller's map")
	}

	view := svc.Config()
	delete(view.StatusChanges, "scheduled")
	if _, ok := svc.Config().StatusTemplate("scheduled"); !ok {
		t.Error("Config() must return a copy")
	}
}
