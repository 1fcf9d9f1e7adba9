// Package directory holds the counter to device membership. It is loaded
// once at start-up and passed by pointer to whatever needs it; it is never
// mutated afterwards.
package directory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Lookup errors surface to callers as validation failures.
var (
	ErrCounterNotFound = errors.New("counter not found")
	ErrDeviceNotFound  = errors.New("device not found")
)

// Counter is a logical queue measurement point.
type Counter struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Active bool   `json:"active"`
}

// Device is a physical sensor attached to a counter.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	CounterCode  string `json:"counterCode"`
	LocationCode string `json:"locationCode,omitempty"`
	SegmentCode  string `json:"segmentCode,omitempty"`
}

// Directory indexes counters and devices. Code lookups are case-insensitive.
type Directory struct {
	counters  []Counter
	byCode    map[string]int
	devices   map[string][]Device
	byID      map[string]Device
	deviceIDs []string
}

// New validates and indexes the membership. Devices keep their input order
// within a counter.
func New(counters []Counter, devices []Device) (*Directory, error) {
	d := &Directory{
		byCode:  make(map[string]int, len(counters)),
		devices: make(map[string][]Device, len(counters)),
		byID:    make(map[string]Device, len(devices)),
	}

	for _, c := range counters {
		c.Code = strings.TrimSpace(c.Code)
		if c.Code == "" {
			return nil, fmt.Errorf("counter with empty code")
		}
		key := normalize(c.Code)
		if _, dup := d.byCode[key]; dup {
			return nil, fmt.Errorf("duplicate counter code %q", c.Code)
		}
		d.byCode[key] = len(d.counters)
		d.counters = append(d.counters, c)
	}

	for _, dev := range devices {
		dev.ID = strings.TrimSpace(dev.ID)
		if dev.ID == "" {
			return nil, fmt.Errorf("device with empty id")
		}
		if _, dup := d.byID[dev.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %q", dev.ID)
		}
		key := normalize(dev.CounterCode)
		if _, ok := d.byCode[key]; !ok {
			return nil, fmt.Errorf("device %q references %w: %q", dev.ID, ErrCounterNotFound, dev.CounterCode)
		}
		dev.CounterCode = d.counters[d.byCode[key]].Code
		d.byID[dev.ID] = dev
		d.devices[key] = append(d.devices[key], dev)
		d.deviceIDs = append(d.deviceIDs, dev.ID)
	}

	return d, nil
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Counter returns a counter by code.
func (d *Directory) Counter(code string) (Counter, error) {
	i, ok := d.byCode[normalize(code)]
	if !ok {
		return Counter{}, fmt.Errorf("%w: %q", ErrCounterNotFound, code)
	}
	return d.counters[i], nil
}

// Devices returns the devices of a counter.
func (d *Directory) Devices(code string) ([]Device, error) {
	if _, err := d.Counter(code); err != nil {
		return nil, err
	}
	devs := d.devices[normalize(code)]
	out := make([]Device, len(devs))
	copy(out, devs)
	return out, nil
}

// DeviceIDs returns the device ids of a counter.
func (d *Directory) DeviceIDs(code string) ([]string, error) {
	devs, err := d.Devices(code)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(devs))
	for i, dev := range devs {
		ids[i] = dev.ID
	}
	return ids, nil
}

// Device returns a device by id.
func (d *Directory) Device(id string) (Device, error) {
	dev, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}
	return dev, nil
}

// Counters returns every counter in load order.
func (d *Directory) Counters() []Counter {
	out := make([]Counter, len(d.counters))
	copy(out, d.counters)
	return out
}

// ActiveCounters returns active counters in load order.
func (d *Directory) ActiveCounters() []Counter {
	var out []Counter
	for _, c := range d.counters {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

// AllDeviceIDs returns every device id in load order.
func (d *Directory) AllDeviceIDs() []string {
	out := make([]string, len(d.deviceIDs))
	copy(out, d.deviceIDs)
	return out
}

// Area selects devices by location or segment code.
type Area struct {
	Location string
	Segment  string
}

// DevicesIn returns devices matching every non-empty field of a, sorted by id.
func (d *Directory) DevicesIn(a Area) []Device {
	var out []Device
	for _, dev := range d.byID {
		if a.Location != "" && !strings.EqualFold(dev.LocationCode, a.Location) {
			continue
		}
		if a.Segment != "" && !strings.EqualFold(dev.SegmentCode, a.Segment) {
			continue
		}
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
