// internal/flapping/detector.go

// Package flapping implements the flapping detector: a per-device,
// per-interface ring buffer of recent speed and operational-status changes,
// derived by comparing each reading with the previous one, used to detect
// oscillation, with debounced event emission.
package flapping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"
)

const (
	ringSize           = 100
	windowMinutes      = 10
	changeThreshold    = 5
	minSpeedChangeMbps = 10.0
	emitCooldown       = 5 * time.Minute
)

// Options configures a Detector. Zero fields default to the constants
// above; config.MonitorConfig's Flapping* fields feed this directly so
// an operator can retune detection without a rebuild.
type Options struct {
	RingSize        int
	Window          time.Duration
	ChangeThreshold int
	MinSpeedChange  float64
	EmitCooldown    time.Duration
	Now             func() time.Time
}

func (o *Options) withDefaults() {
	if o.RingSize == 0 {
		o.RingSize = ringSize
	}
	if o.Window == 0 {
		o.Window = windowMinutes * time.Minute
	}
	if o.ChangeThreshold == 0 {
		o.ChangeThreshold = changeThreshold
	}
	if o.MinSpeedChange == 0 {
		o.MinSpeedChange = minSpeedChangeMbps
	}
	if o.EmitCooldown == 0 {
		o.EmitCooldown = emitCooldown
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// change is one recorded transition in a ring buffer.
type change struct {
	at        time.Time
	eventType models.FlappingEventType
	from, to  string
}

type key struct {
	deviceID string
	ifIndex  int
}

func (k key) String() string { return fmt.Sprintf("%s:%d", k.deviceID, k.ifIndex) }

type ifState struct {
	lastReading *models.InterfaceReading
	changes     []change // ring buffer, oldest first, capped at ringSize
	lastEmit    time.Time
}

// Sink persists and publishes a FlappingEvent (history store + cache
// pub/sub).
type Sink interface {
	Emit(ctx context.Context, evt models.FlappingEvent)
}

// Detector tracks flapping state per (deviceId, ifIndex). Now is
// injectable so tests can fast-forward without real sleeps.
type Detector struct {
	sink Sink
	log  *logger.Logger
	opts Options

	mu     sync.Mutex
	states map[key]*ifState
}

func New(sink Sink, log *logger.Logger, opts Options) *Detector {
	opts.withDefaults()
	return &Detector{sink: sink, log: log, opts: opts, states: make(map[key]*ifState)}
}

// Observe records one new InterfaceReading and emits a FlappingEvent if
// the device crosses the flapping threshold and the debounce window has
// elapsed.
func (d *Detector) Observe(ctx context.Context, reading models.InterfaceReading) {
	k := key{deviceID: reading.DeviceID, ifIndex: reading.IfIndex}
	now := d.opts.Now()

	d.mu.Lock()
	st, ok := d.states[k]
	if !ok {
		st = &ifState{}
		d.states[k] = st
	}

	var detected *change
	if st.lastReading != nil {
		if speedDelta(st.lastReading.SpeedMbps, reading.SpeedMbps) >= d.opts.MinSpeedChange {
			detected = &change{at: now, eventType: models.FlappingSpeedChange,
				from: fmt.Sprintf("%.0f", st.lastReading.SpeedMbps), to: fmt.Sprintf("%.0f", reading.SpeedMbps)}
		} else if st.lastReading.OperStatus != reading.OperStatus {
			detected = &change{at: now, eventType: models.FlappingStatusChange,
				from: fmt.Sprintf("%d", st.lastReading.OperStatus), to: fmt.Sprintf("%d", reading.OperStatus)}
		}
	}
	st.lastReading = &reading

	if detected != nil {
		st.changes = append(st.changes, *detected)
		if len(st.changes) > d.opts.RingSize {
			st.changes = st.changes[len(st.changes)-d.opts.RingSize:]
		}
	}

	windowStart := now.Add(-d.opts.Window)
	count := 0
	for _, c := range st.changes {
		if c.at.After(windowStart) {
			count++
		}
	}

	isFlapping := count >= d.opts.ChangeThreshold
	canEmit := isFlapping && now.Sub(st.lastEmit) >= d.opts.EmitCooldown

	var toEmit *models.FlappingEvent
	if canEmit && detected != nil {
		severity := models.FlappingWarning
		if count >= 2*d.opts.ChangeThreshold {
			severity = models.FlappingCritical
		}
		toEmit = &models.FlappingEvent{
			DeviceID:  reading.DeviceID,
			IfIndex:   reading.IfIndex,
			IfName:    reading.IfName,
			EventType: detected.eventType,
			From:      detected.from,
			To:        detected.to,
			Severity:  severity,
			Timestamp: now.UnixMilli(),
		}
		st.lastEmit = now
	}
	d.mu.Unlock()

	if toEmit != nil {
		d.sink.Emit(ctx, *toEmit)
	}
}

func speedDelta(a, b float64) float64 {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d
}
