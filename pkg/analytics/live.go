package analytics

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/directory"
	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/stats"
)

// Device and counter status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// DeviceStatus is a device's most recent reading.
type DeviceStatus struct {
	DeviceID    string     `json:"deviceId"`
	DeviceName  string     `json:"deviceName,omitempty"`
	Occupancy   float64    `json:"occupancy"`
	QueueLength float64    `json:"queueLength"`
	WaitTime    float64    `json:"waitTime"`
	Status      string     `json:"status"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

// CounterStatus sums the latest readings of a counter's devices.
type CounterStatus struct {
	CounterInfo
	Occupancy         float64        `json:"occupancy"`
	QueueLength       float64        `json:"queueLength"`
	WaitTime          float64        `json:"waitTime"`
	EstimatedWaitTime float64        `json:"estimatedWaitTime"`
	MaxWaitTime       float64        `json:"maxWaitTime"`
	DeviceCount       int            `json:"deviceCount"`
	ActiveDeviceCount int            `json:"activeDeviceCount"`
	Devices           []DeviceStatus `json:"devices"`
	Status            string         `json:"status"`
	LastUpdated       *time.Time     `json:"lastUpdated"`
}

// Live is the current status of several counters.
type Live struct {
	Timestamp    time.Time       `json:"timestamp"`
	CounterCount int             `json:"counterCount"`
	Counters     []CounterStatus `json:"counters"`
}

// LiveStatus reads every device's latest reading. With no codes all active
// counters are reported; unknown codes and counters without devices are
// left out.
func (e *Engine) LiveStatus(ctx context.Context, codes []string) (*Live, error) {
	if e.latest == nil {
		return nil, ErrNoSource
	}

	var counters []directory.Counter
	if len(codes) == 0 {
		counters = e.dir.ActiveCounters()
	} else {
		for _, code := range codes {
			c, err := e.dir.Counter(code)
			if err != nil {
				log.Printf("Skipping live status for %s: %v", code, err)
				continue
			}
			counters = append(counters, c)
		}
	}

	out := &Live{Timestamp: e.now(), Counters: []CounterStatus{}}
	for _, c := range counters {
		devices, err := e.dir.Devices(c.Code)
		if err != nil || len(devices) == 0 {
			continue
		}
		out.Counters = append(out.Counters, e.counterStatus(ctx, c, devices))
	}
	out.CounterCount = len(out.Counters)
	return out, nil
}

type deviceLatest struct {
	status       DeviceStatus
	hasOccupancy bool
}

func (e *Engine) counterStatus(ctx context.Context, c directory.Counter, devices []directory.Device) CounterStatus {
	latest := make([]deviceLatest, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, d := range devices {
		g.Go(func() error {
			latest[i] = e.deviceStatus(gctx, d)
			return nil
		})
	}
	_ = g.Wait()

	cs := CounterStatus{
		CounterInfo: infoOf(c),
		DeviceCount: len(devices),
		Devices:     make([]DeviceStatus, len(devices)),
		Status:      StatusInactive,
	}
	var waits []float64
	for i, l := range latest {
		cs.Devices[i] = l.status
		if l.status.Status != StatusActive {
			continue
		}
		if l.hasOccupancy {
			cs.Occupancy += l.status.Occupancy
			cs.ActiveDeviceCount++
		}
		cs.QueueLength += l.status.QueueLength
		if w := l.status.WaitTime; w > 0 {
			waits = append(waits, w)
			if w > cs.MaxWaitTime {
				cs.MaxWaitTime = w
			}
		}
		if t := l.status.LastUpdated; t != nil && (cs.LastUpdated == nil || t.After(*cs.LastUpdated)) {
			cs.LastUpdated = t
		}
	}

	cs.EstimatedWaitTime = cs.Occupancy * config.MinutesPerQueuedPerson
	cs.WaitTime = cs.EstimatedWaitTime
	if avg := stats.Mean(waits); avg > 0 {
		cs.WaitTime = avg
	}
	if cs.ActiveDeviceCount > 0 {
		cs.Status = StatusActive
	}
	return cs
}

// deviceStatus treats a failed fetch, a missing reading and a status marker
// alike: the device is inactive.
func (e *Engine) deviceStatus(ctx context.Context, d directory.Device) deviceLatest {
	st := DeviceStatus{DeviceID: d.ID, DeviceName: d.Name, Status: StatusInactive}
	r, ok, err := e.latest.Latest(ctx, d.ID)
	if err != nil {
		log.Printf("Latest reading of %s unavailable: %v", d.ID, err)
		return deviceLatest{status: st}
	}
	if !ok {
		return deviceLatest{status: st}
	}

	st.Status = StatusActive
	occupancy, hasOccupancy := reading.Number(r, "occupancy")
	st.Occupancy = occupancy
	st.QueueLength, _ = reading.Number(r, "inCount")
	st.WaitTime, _ = reading.WaitTime(r)
	if !r.Timestamp.IsZero() {
		ts := r.Timestamp.In(e.loc)
		st.LastUpdated = &ts
	}
	return deviceLatest{status: st, hasOccupancy: hasOccupancy}
}
