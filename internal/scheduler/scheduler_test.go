package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeConfig struct{ snap models.Snapshot }

func (f fakeConfig) Current() models.Snapshot { return f.snap }

type fakeProber struct {
	mu      sync.Mutex
	calls   int32
	outcome func(deviceID string) models.Status
}

func (f *fakeProber) Probe(_ context.Context, device models.Device, _ models.Thresholds) models.ProbeResult {
	atomic.AddInt32(&f.calls, 1)
	status := models.StatusUp
	if f.outcome != nil {
		status = f.outcome(device.ID)
	}
	return models.ProbeResult{DeviceID: device.ID, Status: status, Timestamp: time.Now().UnixMilli()}
}

func (f *fakeProber) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

func testLogger() *logger.Logger {
	l, _ := logger.New(logger.Config{Level: logger.FATAL, Mode: logger.MINIMAL})
	return l
}

func snapshotWithDevices(devices ...models.Device) models.Snapshot {
	return models.Snapshot{
		Devices: devices,
		Settings: models.Settings{Thresholds: models.Thresholds{
			Latency:    models.LatencyThreshold{Good: 50, Degraded: 150},
			PacketLoss: models.PacketLossThreshold{Good: 1, Degraded: 5},
		}},
	}
}

// waitForCalls blocks until the fake prober has seen at least n calls
// or the timeout elapses, since Tick() dispatches asynchronously.
func waitForCalls(t *testing.T, p *fakeProber, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Calls() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d probe calls, got %d", n, p.Calls())
}

func TestScheduler_DispatchRateWithinWindow(t *testing.T) {
	clock := newFakeClock()
	device := models.Device{ID: "dev-a", Criticality: models.CriticalityNormal}
	cfg := fakeConfig{snap: snapshotWithDevices(device)}
	prober := &fakeProber{}
	s := New(cfg, prober, testLogger(), nil, Options{Now: clock.Now})
	s.Reload(cfg.snap)

	ticksNeeded := ticksNeededFor(models.CriticalityNormal, tickInterval)
	totalTicks := ticksNeeded * 10

	for i := 0; i < totalTicks; i++ {
		clock.Advance(tickInterval)
		s.Tick(context.Background())
	}

	waitForCalls(t, prober, 9)
	assert.GreaterOrEqual(t, prober.Calls(), 9)
	assert.LessOrEqual(t, prober.Calls(), 11)
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	clock := newFakeClock()
	var devices []models.Device
	for i := 0; i < 20; i++ {
		devices = append(devices, models.Device{ID: string(rune('a' + i)), Criticality: models.CriticalityCritical})
	}
	cfg := fakeConfig{snap: snapshotWithDevices(devices...)}

	var concurrent int32
	var maxSeen int32
	prober := &fakeProber{}
	blocking := &blockingProber{fake: prober, concurrent: &concurrent, maxSeen: &maxSeen, release: make(chan struct{})}

	s := New(cfg, blocking, testLogger(), nil, Options{Now: clock.Now})
	s.Reload(cfg.snap)

	// Critical devices first become due after ticksNeeded ticks.
	ticksNeeded := ticksNeededFor(models.CriticalityCritical, tickInterval)
	for i := 0; i < ticksNeeded; i++ {
		clock.Advance(tickInterval)
		s.Tick(context.Background())
	}
	time.Sleep(200 * time.Millisecond)
	close(blocking.release)

	waitForCalls(t, prober, 5)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), maxConcurrentPings)
}

type blockingProber struct {
	fake       *fakeProber
	concurrent *int32
	maxSeen    *int32
	release    chan struct{}
}

func (b *blockingProber) Probe(ctx context.Context, device models.Device, th models.Thresholds) models.ProbeResult {
	cur := atomic.AddInt32(b.concurrent, 1)
	for {
		old := atomic.LoadInt32(b.maxSeen)
		if cur <= old || atomic.CompareAndSwapInt32(b.maxSeen, old, cur) {
			break
		}
	}
	<-b.release
	atomic.AddInt32(b.concurrent, -1)
	return b.fake.Probe(ctx, device, th)
}

func TestScheduler_BreakerOpensAfterFiveFailures(t *testing.T) {
	clock := newFakeClock()
	device := models.Device{ID: "dev-dark", Criticality: models.CriticalityCritical}
	cfg := fakeConfig{snap: snapshotWithDevices(device)}
	prober := &fakeProber{outcome: func(string) models.Status { return models.StatusDown }}
	s := New(cfg, prober, testLogger(), nil, Options{Now: clock.Now})
	s.Reload(cfg.snap)

	ticksNeeded := ticksNeededFor(models.CriticalityCritical, tickInterval)
	for i := 0; i < ticksNeeded*5; i++ {
		clock.Advance(tickInterval)
		s.Tick(context.Background())
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return s.Stats().CircuitBreakersOpen >= 1
	}, time.Second, 10*time.Millisecond)

	// Stay inside the open window: after breakerOpenTimeout the breaker
	// goes half-open and a probe is dispatched again.
	callsAtOpen := prober.Calls()
	for i := 0; i < int(breakerOpenTimeout/tickInterval)-1; i++ {
		clock.Advance(tickInterval)
		s.Tick(context.Background())
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, callsAtOpen, prober.Calls(), "no dispatch should occur while breaker is open")
}

func TestScheduler_HalfOpenAllowsExactlyOneProbe(t *testing.T) {
	clock := newFakeClock()
	device := models.Device{ID: "dev-dark", Criticality: models.CriticalityCritical}
	cfg := fakeConfig{snap: snapshotWithDevices(device)}
	prober := &fakeProber{outcome: func(string) models.Status { return models.StatusDown }}
	s := New(cfg, prober, testLogger(), nil, Options{Now: clock.Now})
	s.Reload(cfg.snap)

	ticksNeeded := ticksNeededFor(models.CriticalityCritical, tickInterval)
	for i := 0; i < ticksNeeded*6; i++ {
		clock.Advance(tickInterval)
		s.Tick(context.Background())
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return s.Stats().CircuitBreakersOpen >= 1 }, time.Second, 10*time.Millisecond)

	callsBefore := prober.Calls()
	clock.Advance(breakerOpenTimeout + time.Second)
	for i := 0; i < ticksNeeded+1; i++ {
		clock.Advance(tickInterval)
		s.Tick(context.Background())
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, callsBefore+1, prober.Calls(), "half-open breaker dispatches exactly one probe")
	assert.Equal(t, breakerOpen, s.devices["dev-dark"].breaker)
}
