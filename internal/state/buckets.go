package state

import (
	"encoding/json"
	"sort"

	"github.com/waveworm/pfsense-toggle/internal/schedule"
	"github.com/waveworm/pfsense-toggle/internal/validation"
)

// Standard bucket names
const (
	BucketSchedules      = "schedules"       // Per-subject weekly schedules
	BucketKnownDevices   = "known_devices"   // MACs ever seen per subject
	BucketBlockedDevices = "blocked_devices" // MACs currently blocked per subject
	BucketMonitorStatus  = "monitor_status"  // Collaborator probe results, TTL'd
)

// ScheduleBucket provides typed access to saved weekly schedules,
// keyed by subject name.
type ScheduleBucket struct {
	store Store
}

// NewScheduleBucket creates the schedule bucket accessor.
func NewScheduleBucket(store Store) (*ScheduleBucket, error) {
	if err := store.CreateBucket(BucketSchedules); err != nil && err != ErrBucketExists {
		return nil, err
	}
	return &ScheduleBucket{store: store}, nil
}

// Get retrieves a subject's schedule. Returns ErrNotFound when the
// subject has never saved one.
func (b *ScheduleBucket) Get(subject string) (*schedule.Weekly, error) {
	var s schedule.Weekly
	if err := b.store.GetJSON(BucketSchedules, subject, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Set stores a subject's schedule.
func (b *ScheduleBucket) Set(subject string, s *schedule.Weekly) error {
	return b.store.SetJSON(BucketSchedules, subject, s)
}

// All returns every saved schedule keyed by subject.
func (b *ScheduleBucket) All() (map[string]*schedule.Weekly, error) {
	data, err := b.store.List(BucketSchedules)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*schedule.Weekly, len(data))
	for subject, raw := range data {
		var s schedule.Weekly
		if err := unmarshalJSON(raw, &s); err != nil {
			continue
		}
		out[subject] = &s
	}
	return out, nil
}

// DeviceSetBucket stores a set of MAC addresses per subject. Two
// instances exist: the known-device cache (grows monotonically) and the
// blocked-device cache (replaced on block, cleared on unblock).
type DeviceSetBucket struct {
	store  Store
	bucket string
}

// NewKnownDeviceBucket creates the known-device accessor.
func NewKnownDeviceBucket(store Store) (*DeviceSetBucket, error) {
	return newDeviceSetBucket(store, BucketKnownDevices)
}

// NewBlockedDeviceBucket creates the blocked-device accessor.
func NewBlockedDeviceBucket(store Store) (*DeviceSetBucket, error) {
	return newDeviceSetBucket(store, BucketBlockedDevices)
}

func newDeviceSetBucket(store Store, bucket string) (*DeviceSetBucket, error) {
	if err := store.CreateBucket(bucket); err != nil && err != ErrBucketExists {
		return nil, err
	}
	return &DeviceSetBucket{store: store, bucket: bucket}, nil
}

// Get returns the subject's MAC set, sorted. A subject with no entry
// yields an empty slice.
func (b *DeviceSetBucket) Get(subject string) ([]string, error) {
	var macs []string
	err := b.store.GetJSON(b.bucket, subject, &macs)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(macs)
	return macs, nil
}

// Set replaces the subject's MAC set. MACs are normalized and
// deduplicated before storing.
func (b *DeviceSetBucket) Set(subject string, macs []string) error {
	seen := make(map[string]bool, len(macs))
	out := make([]string, 0, len(macs))
	for _, mac := range macs {
		mac = validation.NormalizeMAC(mac)
		if mac == "" || seen[mac] {
			continue
		}
		seen[mac] = true
		out = append(out, mac)
	}
	sort.Strings(out)
	return b.store.SetJSON(b.bucket, subject, out)
}

// Clear removes the subject's MAC set.
func (b *DeviceSetBucket) Clear(subject string) error {
	err := b.store.Delete(b.bucket, subject)
	if err == ErrNotFound {
		return nil
	}
	return err
}

func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
