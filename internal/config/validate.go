package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/waveworm/pfsense-toggle/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateTopLevel()...)
	errs = append(errs, c.validatePfSense()...)
	errs = append(errs, c.validateUniFi()...)
	errs = append(errs, c.validateSubjects()...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateNotifications()...)

	return errs
}

func (c *Config) validateTopLevel() ValidationErrors {
	var errs ValidationErrors

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "listen_addr",
				Message: fmt.Sprintf("not a host:port address: %s", c.ListenAddr),
			})
		}
	}

	if c.ReconcileIntervalSeconds != 0 && c.ReconcileIntervalSeconds < 5 {
		errs = append(errs, ValidationError{
			Field:   "reconcile_interval_seconds",
			Message: fmt.Sprintf("must be at least 5 seconds, got %d", c.ReconcileIntervalSeconds),
		})
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("unknown level %q (use debug, info, warn, error)", c.LogLevel),
		})
	}

	for i, mac := range c.ExcludeMACs {
		if err := validation.ValidateMAC(mac); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("exclude_macs[%d]", i),
				Message: err.Error(),
			})
		}
	}

	if c.Monitor != nil && c.Monitor.IntervalSeconds != 0 && c.Monitor.IntervalSeconds < 5 {
		errs = append(errs, ValidationError{
			Field:   "monitor.interval_seconds",
			Message: fmt.Sprintf("must be at least 5 seconds, got %d", c.Monitor.IntervalSeconds),
		})
	}

	if c.Audit != nil && c.Audit.MaxEntries < 0 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_entries",
			Message: "must not be negative",
		})
	}

	return errs
}

func (c *Config) validatePfSense() ValidationErrors {
	var errs ValidationErrors

	if c.PfSense == nil {
		errs = append(errs, ValidationError{
			Field:   "pfsense",
			Message: "block is required",
		})
		return errs
	}

	if !isValidBaseURL(c.PfSense.BaseURL) {
		errs = append(errs, ValidationError{
			Field:   "pfsense.base_url",
			Message: fmt.Sprintf("must be an http(s) URL, got %q", c.PfSense.BaseURL),
		})
	}
	if c.PfSense.ClientID == "" {
		errs = append(errs, ValidationError{Field: "pfsense.client_id", Message: "is required"})
	}
	if c.PfSense.Token == "" {
		errs = append(errs, ValidationError{Field: "pfsense.token", Message: "is required"})
	}

	return errs
}

func (c *Config) validateUniFi() ValidationErrors {
	var errs ValidationErrors

	if c.UniFi == nil {
		return errs
	}

	if !isValidBaseURL(c.UniFi.BaseURL) {
		errs = append(errs, ValidationError{
			Field:   "unifi.base_url",
			Message: fmt.Sprintf("must be an http(s) URL, got %q", c.UniFi.BaseURL),
		})
	}
	if c.UniFi.Username == "" {
		errs = append(errs, ValidationError{Field: "unifi.username", Message: "is required"})
	}
	if c.UniFi.Password == "" {
		errs = append(errs, ValidationError{Field: "unifi.password", Message: "is required"})
	}

	return errs
}

func (c *Config) validateSubjects() ValidationErrors {
	var errs ValidationErrors

	if len(c.Subjects) == 0 {
		errs = append(errs, ValidationError{
			Field:   "subject",
			Message: "at least one subject block is required",
		})
		return errs
	}

	names := make(map[string]bool)
	trackers := make(map[int]string)

	for i, s := range c.Subjects {
		field := fmt.Sprintf("subject[%s]", s.Name)
		if s.Name == "" {
			field = fmt.Sprintf("subject[%d]", i)
		}

		if err := validation.ValidateSubjectName(s.Name); err != nil {
			errs = append(errs, ValidationError{Field: field + ".name", Message: err.Error()})
		}
		if names[s.Name] {
			errs = append(errs, ValidationError{Field: field, Message: "duplicate subject name"})
		}
		names[s.Name] = true

		if s.RuleTracker <= 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".rule_tracker",
				Message: fmt.Sprintf("must be a positive tracker ID, got %d", s.RuleTracker),
			})
		} else if owner, ok := trackers[s.RuleTracker]; ok {
			errs = append(errs, ValidationError{
				Field:   field + ".rule_tracker",
				Message: fmt.Sprintf("tracker %d already used by %s", s.RuleTracker, owner),
			})
		} else {
			trackers[s.RuleTracker] = s.Name
		}

		if s.ScheduleRuleTracker != 0 {
			if s.ScheduleRuleTracker < 0 {
				errs = append(errs, ValidationError{
					Field:   field + ".schedule_rule_tracker",
					Message: fmt.Sprintf("must be a positive tracker ID, got %d", s.ScheduleRuleTracker),
				})
			} else if owner, ok := trackers[s.ScheduleRuleTracker]; ok {
				errs = append(errs, ValidationError{
					Field:   field + ".schedule_rule_tracker",
					Message: fmt.Sprintf("tracker %d already used by %s", s.ScheduleRuleTracker, owner),
				})
			} else {
				trackers[s.ScheduleRuleTracker] = s.Name
			}
		}
	}

	return errs
}

func (c *Config) validateAPI() ValidationErrors {
	var errs ValidationErrors

	if c.API == nil {
		return errs
	}

	if c.API.RequireAuth {
		if c.API.APIKeyHash == "" {
			errs = append(errs, ValidationError{
				Field:   "api.api_key_hash",
				Message: "is required when require_auth is set (generate with the apikey subcommand)",
			})
		} else if !strings.HasPrefix(c.API.APIKeyHash, "$2") {
			errs = append(errs, ValidationError{
				Field:   "api.api_key_hash",
				Message: "must be a bcrypt hash (generate with the apikey subcommand)",
			})
		}
	}

	if c.API.RateLimitPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "api.rate_limit_per_minute",
			Message: "must not be negative",
		})
	}

	return errs
}

func (c *Config) validateNotifications() ValidationErrors {
	var errs ValidationErrors

	if c.Notifications == nil {
		return errs
	}

	names := make(map[string]bool)
	for i, ch := range c.Notifications.Channels {
		field := fmt.Sprintf("notifications.channel[%s]", ch.Name)
		if ch.Name == "" {
			field = fmt.Sprintf("notifications.channel[%d]", i)
			errs = append(errs, ValidationError{Field: field, Message: "name label is required"})
		}
		if names[ch.Name] {
			errs = append(errs, ValidationError{Field: field, Message: "duplicate channel name"})
		}
		names[ch.Name] = true

		switch strings.ToLower(ch.Type) {
		case "pushover":
			if ch.APIToken == "" || ch.UserKey == "" {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "pushover requires api_token and user_key",
				})
			}
		case "ntfy":
			if ch.Topic == "" {
				errs = append(errs, ValidationError{Field: field, Message: "ntfy requires topic"})
			}
		case "webhook", "slack", "discord":
			if ch.WebhookURL == "" {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("%s requires webhook_url", ch.Type),
				})
			}
		default:
			errs = append(errs, ValidationError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown channel type %q", ch.Type),
			})
		}

		switch strings.ToLower(ch.Level) {
		case "", "info", "warning", "critical":
		default:
			errs = append(errs, ValidationError{
				Field:   field + ".level",
				Message: fmt.Sprintf("unknown level %q (use info, warning, critical)", ch.Level),
			})
		}

		if ch.RateLimitPerMinute < 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".rate_limit_per_minute",
				Message: "must not be negative",
			})
		}
	}

	return errs
}

func isValidBaseURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
