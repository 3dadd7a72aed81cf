// Package validation holds input validators shared by the config loader,
// the HTTP API, and the engine.
package validation

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const (
	// MinTimerMinutes and MaxTimerMinutes bound the duration of a timed
	// allow grant.
	MinTimerMinutes = 1
	MaxTimerMinutes = 120
)

var (
	// Valid subject name: alphanumeric, dash, underscore
	subjectNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Clock time in 24h HH:MM form
	clockTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

	// MAC address: six colon-separated hex octets
	macRegex = regexp.MustCompile(`^([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}$`)
)

// ValidateSubjectName validates a subject identifier.
func ValidateSubjectName(name string) error {
	if name == "" {
		return fmt.Errorf("subject name cannot be empty")
	}

	if len(name) > 64 {
		return fmt.Errorf("subject name too long (max 64 characters): %s", name)
	}

	if !subjectNameRegex.MatchString(name) {
		return fmt.Errorf("invalid subject name: %s (must be alphanumeric with -_)", name)
	}

	return nil
}

// ValidateClockTime validates a 24-hour HH:MM string.
func ValidateClockTime(s string) error {
	if s == "" {
		return fmt.Errorf("time cannot be empty")
	}

	if !clockTimeRegex.MatchString(s) {
		return fmt.Errorf("invalid time: %s (must be HH:MM, 00:00-23:59)", s)
	}

	return nil
}

// ValidateWeekday validates a weekday number (0=Sunday .. 6=Saturday).
func ValidateWeekday(day int) error {
	if day < 0 || day > 6 {
		return fmt.Errorf("invalid weekday: %d (must be 0-6, Sunday=0)", day)
	}
	return nil
}

// ValidateTimerMinutes validates a timed-allow duration.
func ValidateTimerMinutes(minutes int) error {
	if minutes < MinTimerMinutes || minutes > MaxTimerMinutes {
		return fmt.Errorf("invalid timer duration: %d minutes (must be %d-%d)",
			minutes, MinTimerMinutes, MaxTimerMinutes)
	}
	return nil
}

// ValidateMAC validates a colon-separated MAC address.
func ValidateMAC(mac string) error {
	if mac == "" {
		return fmt.Errorf("MAC address cannot be empty")
	}

	if !macRegex.MatchString(mac) {
		return fmt.Errorf("invalid MAC address: %s", mac)
	}

	return nil
}

// NormalizeMAC lowercases a MAC address so cache lookups and controller
// calls agree on one form.
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

// ValidateIPOrCIDR validates an IP address or CIDR range.
func ValidateIPOrCIDR(s string) error {
	if s == "" {
		return fmt.Errorf("IP/CIDR cannot be empty")
	}

	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		if err != nil {
			return fmt.Errorf("invalid CIDR: %w", err)
		}
		return nil
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return fmt.Errorf("invalid IP address: %s", s)
	}

	return nil
}

// ValidatePortNumber validates a port number.
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", port)
	}
	return nil
}
