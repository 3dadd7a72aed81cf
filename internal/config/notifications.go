package config

// NotificationsConfig enables notification dispatch and lists the channels.
type NotificationsConfig struct {
	Enabled  bool                  `hcl:"enabled,optional" json:"enabled"`
	Channels []NotificationChannel `hcl:"channel,block" json:"channels"`
}

// NotificationChannel defines a notification destination.
type NotificationChannel struct {
	Name    string `hcl:"name,label" json:"name"`
	Type    string `hcl:"type" json:"type"`            // pushover, ntfy, webhook, slack, discord
	Level   string `hcl:"level,optional" json:"level"` // critical, warning, info
	Enabled bool   `hcl:"enabled,optional" json:"enabled"`

	// Webhook/Slack/Discord settings
	WebhookURL string `hcl:"webhook_url,optional" json:"webhook_url,omitempty"`

	// Pushover settings
	APIToken string `hcl:"api_token,optional" json:"api_token,omitempty"`
	UserKey  string `hcl:"user_key,optional" json:"user_key,omitempty"`
	Priority int    `hcl:"priority,optional" json:"priority,omitempty"`
	Sound    string `hcl:"sound,optional" json:"sound,omitempty"`

	// ntfy settings
	Server string `hcl:"server,optional" json:"server,omitempty"`
	Topic  string `hcl:"topic,optional" json:"topic,omitempty"`

	// Generic auth (for ntfy, webhook)
	Username string            `hcl:"username,optional" json:"username,omitempty"`
	Password string            `hcl:"password,optional" json:"password,omitempty"`
	Headers  map[string]string `hcl:"headers,optional" json:"headers,omitempty"`

	// RateLimitPerMinute caps messages sent through this channel. Excess
	// messages are dropped, not queued. 0 means unlimited.
	RateLimitPerMinute int `hcl:"rate_limit_per_minute,optional" json:"rate_limit_per_minute,omitempty"`
}
