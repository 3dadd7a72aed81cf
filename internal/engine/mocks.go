package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/unifi"
)

// MockFirewall is a stateful mock of the Firewall interface. Rules live
// in an in-memory map so a patch is visible to later list calls, the
// way the real firewall behaves across a tick. Expectations control
// error injection; with a nil first return value the in-memory state
// answers.
type MockFirewall struct {
	mock.Mock
	mu sync.Mutex

	rules   map[int]pfsense.Rule
	aliases map[string][]string
	killed  []string
}

// NewMockFirewall seeds the mock with the given rules.
func NewMockFirewall(rules ...pfsense.Rule) *MockFirewall {
	m := &MockFirewall{
		rules:   make(map[int]pfsense.Rule),
		aliases: make(map[string][]string),
	}
	for _, r := range rules {
		m.rules[r.Tracker] = r
	}
	return m
}

// SetAlias registers an alias resolvable through ResolveSource.
func (m *MockFirewall) SetAlias(name string, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[name] = members
}

func (m *MockFirewall) ListRules(ctx context.Context) ([]pfsense.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	if args.Get(0) != nil {
		return args.Get(0).([]pfsense.Rule), args.Error(1)
	}
	if err := args.Error(1); err != nil {
		return nil, err
	}
	out := make([]pfsense.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tracker < out[j].Tracker })
	return out, nil
}

func (m *MockFirewall) PatchRuleDisabled(ctx context.Context, tracker int, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(tracker, disabled)
	if err := args.Error(0); err != nil {
		return err
	}
	r := m.rules[tracker]
	r.Tracker = tracker
	r.Disabled = disabled
	m.rules[tracker] = r
	return nil
}

func (m *MockFirewall) Apply(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockFirewall) ResolveSource(ctx context.Context, spec pfsense.AddressSpec) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(spec)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if spec.Any || spec.Address == "" {
		return nil, nil
	}
	if members, ok := m.aliases[spec.Address]; ok {
		return members, nil
	}
	return []string{spec.Address}, nil
}

func (m *MockFirewall) KillStatesForAddress(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(addr)
	if err := args.Error(0); err != nil {
		return err
	}
	m.killed = append(m.killed, addr)
	return nil
}

// Rule returns the current in-memory rule for a tracker.
func (m *MockFirewall) Rule(tracker int) pfsense.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[tracker]
}

// Killed returns the addresses whose states were killed, in order.
func (m *MockFirewall) Killed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.killed...)
}

// MockWireless is a stateful mock of the Wireless interface with an
// in-memory client list and blocked set.
type MockWireless struct {
	mock.Mock
	mu sync.Mutex

	clients []unifi.Client
	blocked map[string]bool
}

// NewMockWireless seeds the mock with the given stations.
func NewMockWireless(clients ...unifi.Client) *MockWireless {
	return &MockWireless{
		clients: clients,
		blocked: make(map[string]bool),
	}
}

func (m *MockWireless) ClientsAtAddresses(ctx context.Context, addrs []string) ([]unifi.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(addrs)
	if args.Get(0) != nil {
		return args.Get(0).([]unifi.Client), args.Error(1)
	}
	if err := args.Error(1); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}
	var out []unifi.Client
	for _, c := range m.clients {
		if want[c.IP] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockWireless) BlockClient(ctx context.Context, mac string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(mac)
	if err := args.Error(0); err != nil {
		return err
	}
	m.blocked[mac] = true
	return nil
}

func (m *MockWireless) UnblockClient(ctx context.Context, mac string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(mac)
	if err := args.Error(0); err != nil {
		return err
	}
	delete(m.blocked, mac)
	return nil
}

// Blocked returns the currently blocked MACs, sorted.
func (m *MockWireless) Blocked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.blocked))
	for mac := range m.blocked {
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}
