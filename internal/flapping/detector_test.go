package flapping

import (
	"context"
	"sync"
	"testing"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	events []models.FlappingEvent
}

func (f *fakeSink) Emit(_ context.Context, evt models.FlappingEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeSink) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func testLogger() *logger.Logger {
	l, _ := logger.New(logger.Config{Level: logger.FATAL, Mode: logger.MINIMAL})
	return l
}

func TestDetector_FiveStatusChangesEmitExactlyOneEvent(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	sink := &fakeSink{}
	d := New(sink, testLogger(), Options{Now: func() time.Time { return clock() }})

	status := 1
	for i := 0; i < 6; i++ {
		status = 1 - status
		d.Observe(context.Background(), models.InterfaceReading{DeviceID: "dev-a", IfIndex: 5, OperStatus: status})
		now = now.Add(90 * time.Second)
	}

	require.Equal(t, 1, sink.Count())
}

func TestDetector_SixthTransitionWithinFiveMinutesProducesNoAdditionalEvent(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	sink := &fakeSink{}
	d := New(sink, testLogger(), Options{Now: func() time.Time { return clock() }})

	status := 1
	for i := 0; i < 6; i++ {
		status = 1 - status
		d.Observe(context.Background(), models.InterfaceReading{DeviceID: "dev-a", IfIndex: 5, OperStatus: status})
		now = now.Add(90 * time.Second)
	}
	require.Equal(t, 1, sink.Count())

	now = now.Add(2 * time.Minute)
	status = 1 - status
	d.Observe(context.Background(), models.InterfaceReading{DeviceID: "dev-a", IfIndex: 5, OperStatus: status})

	assert.Equal(t, 1, sink.Count(), "repeat within 5 minute cooldown must not emit again")
}

func TestDetector_SpeedChangeAboveThresholdCounted(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	sink := &fakeSink{}
	d := New(sink, testLogger(), Options{Now: func() time.Time { return clock() }})

	speeds := []float64{1000, 100, 1000, 100, 1000, 100}
	for _, sp := range speeds {
		d.Observe(context.Background(), models.InterfaceReading{DeviceID: "dev-b", IfIndex: 1, SpeedMbps: sp})
		now = now.Add(30 * time.Second)
	}

	assert.GreaterOrEqual(t, sink.Count(), 1)
}

func TestDetector_NoEventBelowThreshold(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	sink := &fakeSink{}
	d := New(sink, testLogger(), Options{Now: func() time.Time { return clock() }})

	status := 1
	for i := 0; i < 3; i++ {
		status = 1 - status
		d.Observe(context.Background(), models.InterfaceReading{DeviceID: "dev-a", IfIndex: 5, OperStatus: status})
		now = now.Add(90 * time.Second)
	}
	assert.Equal(t, 0, sink.Count())
}
