package pfsense

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Rule is a firewall rule as returned by the rule endpoint. Only the fields
// the daemon acts on are decoded.
type Rule struct {
	Tracker     int
	Description string
	Disabled    bool
	Source      AddressSpec
}

// RuleAllows reports whether the subject governed by a block rule is
// currently allowed. Block rules invert: a disabled rule stops blocking.
func RuleAllows(r Rule) bool {
	return r.Disabled
}

// UnmarshalJSON tolerates the shapes the firewall emits: tracker as string
// or number, disabled as bool or presence-style empty string.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tracker     json.RawMessage `json:"tracker"`
		Description string          `json:"descr"`
		Disabled    json.RawMessage `json:"disabled"`
		Source      AddressSpec     `json:"source"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	tracker, err := flexInt(raw.Tracker)
	if err != nil {
		return fmt.Errorf("rule tracker: %w", err)
	}
	disabled, err := flexBool(raw.Disabled)
	if err != nil {
		return fmt.Errorf("rule disabled flag: %w", err)
	}

	r.Tracker = tracker
	r.Description = raw.Description
	r.Disabled = disabled
	r.Source = raw.Source
	return nil
}

// AddressSpec is a rule source: "any", a literal IP/CIDR, or an alias name.
type AddressSpec struct {
	Any     bool   `json:"any,omitempty"`
	Address string `json:"address,omitempty"`
}

// UnmarshalJSON accepts both the bare-string form ("10.0.0.5", "any") and
// the object form ({"address": "..."}, {"network": "..."}, {"any": ""}).
func (a *AddressSpec) UnmarshalJSON(data []byte) error {
	*a = AddressSpec{}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "any" || s == "" {
			a.Any = s == "any"
			return nil
		}
		a.Address = s
		return nil
	}

	var obj struct {
		Any     json.RawMessage `json:"any"`
		Address string          `json:"address"`
		Network string          `json:"network"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("address spec: %w", err)
	}

	if obj.Any != nil {
		a.Any = true
		return nil
	}
	if obj.Address != "" {
		a.Address = obj.Address
	} else {
		a.Address = obj.Network
	}
	return nil
}

// Alias is a named address group.
type Alias struct {
	Name        string
	Type        string
	Description string
	Addresses   []string
}

// UnmarshalJSON normalizes the membership list, which the firewall emits as
// a space-joined string, an array of strings, or an array of objects. All
// shapes collapse to an ordered []string here so nothing downstream
// branches on wire format.
func (a *Alias) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        string          `json:"name"`
		Type        string          `json:"type"`
		Description string          `json:"descr"`
		Address     json.RawMessage `json:"address"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Name = raw.Name
	a.Type = raw.Type
	a.Description = raw.Description

	addrs, err := normalizeAddresses(raw.Address)
	if err != nil {
		return fmt.Errorf("alias %s: %w", raw.Name, err)
	}
	a.Addresses = addrs
	return nil
}

func normalizeAddresses(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	// space-joined string
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.Fields(s), nil
	}

	// array of strings
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	// array of objects with an address field
	var objs []struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, fmt.Errorf("unrecognized address list shape: %s", string(raw))
	}
	addrs := make([]string, 0, len(objs))
	for _, o := range objs {
		if o.Address != "" {
			addrs = append(addrs, o.Address)
		}
	}
	return addrs, nil
}

func flexInt(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("neither number nor string: %s", string(raw))
	}
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not numeric: %q", s)
	}
	return n, nil
}

// flexBool decodes a flag that arrives as a JSON bool, a number, or a
// presence-style string (the firewall renders set flags as ""). A present
// string counts as true unless it spells a negative.
func flexBool(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("unrecognized flag value: %s", string(raw))
	}
	switch strings.ToLower(s) {
	case "no", "false", "0":
		return false, nil
	default:
		return true, nil
	}
}
