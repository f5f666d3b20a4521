// internal/scheduler/scheduler.go

// Package scheduler implements the probe scheduler: a single cooperative
// tick loop that dispatches device probes at their criticality interval,
// bounded by a worker pool and a per-device circuit breaker.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"
)

const (
	tickInterval       = 10 * time.Second
	maxConcurrentPings = 5
	staggerDelay       = 50 * time.Millisecond
	inFlightWatchdog   = 5 * time.Second

	breakerFailureThreshold = 5
	breakerOpenTimeout      = 60 * time.Second
)

// Prober executes one probe. The production implementation is
// internal/prober.Prober; tests inject a fake.
type Prober interface {
	Probe(ctx context.Context, device models.Device, thresholds models.Thresholds) models.ProbeResult
}

// ConfigProvider supplies the current topology snapshot.
type ConfigProvider interface {
	Current() models.Snapshot
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type devState struct {
	device models.Device

	ticksNeeded    int
	ticksRemaining int

	lastPing time.Time

	inFlight      bool
	inFlightSince time.Time

	breaker       breakerState
	failures      int
	lastFailureAt time.Time
}

// Options configures a Scheduler. Tick/Breaker timings default to
// spec-exact values when zero; tests override Now to fast-forward.
type Options struct {
	TickInterval            time.Duration
	MaxConcurrentPings      int
	StaggerDelay            time.Duration
	InFlightWatchdog        time.Duration
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	Now                     func() time.Time
}

func (o *Options) withDefaults() {
	if o.TickInterval == 0 {
		o.TickInterval = tickInterval
	}
	if o.MaxConcurrentPings == 0 {
		o.MaxConcurrentPings = maxConcurrentPings
	}
	if o.StaggerDelay == 0 {
		o.StaggerDelay = staggerDelay
	}
	if o.InFlightWatchdog == 0 {
		o.InFlightWatchdog = inFlightWatchdog
	}
	if o.BreakerFailureThreshold == 0 {
		o.BreakerFailureThreshold = breakerFailureThreshold
	}
	if o.BreakerOpenTimeout == 0 {
		o.BreakerOpenTimeout = breakerOpenTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Scheduler owns the tick timer and per-device schedule state. Probe
// execution happens on a bounded worker pool; the tick loop itself never
// performs network or disk I/O.
type Scheduler struct {
	cfg     ConfigProvider
	prober  Prober
	log     *logger.Logger
	opts    Options
	onResult func(models.ProbeResult)

	mu      sync.Mutex
	devices map[string]*devState

	startTime time.Time
	tickCount int64

	sem     chan struct{}
	paused  int32
}

func New(cfg ConfigProvider, prober Prober, log *logger.Logger, onResult func(models.ProbeResult), opts Options) *Scheduler {
	opts.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		prober:   prober,
		log:      log,
		opts:     opts,
		onResult: onResult,
		devices:  make(map[string]*devState),
		sem:      make(chan struct{}, opts.MaxConcurrentPings),
	}
}

// Reload applies a new device set: new devices get fresh schedule state,
// removed devices are dropped, existing devices keep their in-flight and
// breaker state (criticality changes take effect on the next reset).
func (s *Scheduler) Reload(snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(snap.Devices))
	for _, d := range snap.Devices {
		seen[d.ID] = true
		ticksNeeded := ticksNeededFor(d.Criticality, s.opts.TickInterval)

		if existing, ok := s.devices[d.ID]; ok {
			existing.device = d
			existing.ticksNeeded = ticksNeeded
			if existing.ticksRemaining > ticksNeeded {
				existing.ticksRemaining = ticksNeeded
			}
			continue
		}

		s.devices[d.ID] = &devState{
			device:         d,
			ticksNeeded:    ticksNeeded,
			ticksRemaining: ticksNeeded,
		}
	}

	for id := range s.devices {
		if !seen[id] {
			delete(s.devices, id)
		}
	}
}

func ticksNeededFor(c models.Criticality, tick time.Duration) int {
	n := int(time.Duration(c.IntervalSeconds())*time.Second/tick)
	if n < 1 {
		n = 1
	}
	return n
}

// Run drives the tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.startTime = s.opts.Now()
	s.mu.Unlock()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Pause suspends all dispatch; used while an import replaces the config
// and history files. Ticks are skipped entirely until Resume.
func (s *Scheduler) Pause() { atomic.StoreInt32(&s.paused, 1) }

// Resume lifts a prior Pause.
func (s *Scheduler) Resume() { atomic.StoreInt32(&s.paused, 0) }

// Tick performs one scheduling pass: decrement counters, select dispatch
// candidates, and hand them to the worker pool with staggered delays.
// Exported so tests can drive ticks deterministically without real sleeps.
func (s *Scheduler) Tick(ctx context.Context) {
	if atomic.LoadInt32(&s.paused) == 1 {
		return
	}

	s.mu.Lock()
	s.tickCount++
	now := s.opts.Now()

	var candidates []*devState
	for _, st := range s.devices {
		s.maybeReleaseInFlight(st, now)
		s.maybeHalfOpen(st, now)

		st.ticksRemaining--
		if st.ticksRemaining > 0 {
			continue
		}

		if st.breaker == breakerOpen {
			st.ticksRemaining = st.ticksNeeded
			continue
		}
		if st.inFlight {
			continue
		}

		candidates = append(candidates, st)
		st.ticksRemaining = st.ticksNeeded
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].device.Criticality.Priority() > candidates[j].device.Criticality.Priority()
	})

	if len(candidates) > s.opts.MaxConcurrentPings {
		candidates = candidates[:s.opts.MaxConcurrentPings]
	}

	for _, st := range candidates {
		st.inFlight = true
		st.inFlightSince = now
	}

	snap := s.cfg.Current()
	s.mu.Unlock()

	for i, st := range candidates {
		delay := time.Duration(i) * s.opts.StaggerDelay
		device := st.device
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			s.dispatch(ctx, device, snap)
		}()
	}
}

func (s *Scheduler) maybeReleaseInFlight(st *devState, now time.Time) {
	if st.inFlight && now.Sub(st.inFlightSince) >= s.opts.InFlightWatchdog {
		st.inFlight = false
	}
}

func (s *Scheduler) maybeHalfOpen(st *devState, now time.Time) {
	if st.breaker == breakerOpen && now.Sub(st.lastFailureAt) >= s.opts.BreakerOpenTimeout {
		st.breaker = breakerHalfOpen
	}
}

func (s *Scheduler) dispatch(ctx context.Context, device models.Device, snap models.Snapshot) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	thresholds := snap.ThresholdsFor(device)
	result := s.prober.Probe(ctx, device, thresholds)

	s.mu.Lock()
	st, ok := s.devices[device.ID]
	if ok {
		st.inFlight = false
		st.lastPing = s.opts.Now()
		s.applyResult(st, result)
	}
	s.mu.Unlock()

	if s.onResult != nil {
		s.onResult(result)
	}
}

// applyResult updates the circuit breaker for st. Caller holds s.mu.
func (s *Scheduler) applyResult(st *devState, result models.ProbeResult) {
	success := result.Status != models.StatusDown

	switch st.breaker {
	case breakerHalfOpen:
		if success {
			st.breaker = breakerClosed
			st.failures = 0
		} else {
			st.breaker = breakerOpen
			st.lastFailureAt = s.opts.Now()
		}
	default:
		if success {
			st.failures = 0
		} else {
			st.failures++
			st.lastFailureAt = s.opts.Now()
			if st.failures >= s.opts.BreakerFailureThreshold {
				st.breaker = breakerOpen
			}
		}
	}
}

// Stats is the scheduler slice of /api/system/stats.
type Stats struct {
	StartTime           time.Time `json:"startTime"`
	TickCount           int64     `json:"tickCount"`
	DeviceCount         int       `json:"deviceCount"`
	CircuitBreakersOpen int       `json:"circuitBreakersOpen"`
	InFlightCount       int       `json:"inFlightCount"`
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{StartTime: s.startTime, TickCount: s.tickCount, DeviceCount: len(s.devices)}
	for _, st := range s.devices {
		if st.breaker == breakerOpen {
			stats.CircuitBreakersOpen++
		}
		if st.inFlight {
			stats.InFlightCount++
		}
	}
	return stats
}
