package batch

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
	mu       sync.Mutex
	batches  [][]models.ProbeResult
	failNext int
}

func (f *fakeSink) InsertMany(_ context.Context, probes []models.ProbeResult, _ []models.InterfaceReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return assertErr
	}
	cp := append([]models.ProbeResult(nil), probes...)
	f.batches = append(f.batches, cp)
	return nil
}

var assertErr = &writerTestError{"flush failed"}

type writerTestError struct{ msg string }

func (e *writerTestError) Error() string { return e.msg }

func testLogger() *logger.Logger {
	l, _ := logger.New(logger.Config{Level: logger.FATAL, Mode: logger.MINIMAL})
	return l
}

func TestWriter_FlushesOnMaxBatch(t *testing.T) {
	sink := &fakeSink{}
	w := New(sink, testLogger(), 100, time.Hour, 400)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	for i := 0; i < 250; i++ {
		w.AddProbe(models.ProbeResult{DeviceID: "dev-a", Timestamp: int64(i)})
	}

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		total := 0
		for _, b := range sink.batches {
			total += len(b)
		}
		return total == 200
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-w.Done()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	total := 0
	for _, b := range sink.batches {
		total += len(b)
	}
	assert.Equal(t, 250, total)
}

func TestWriter_RetainsOnFailureAndMergesNextFlush(t *testing.T) {
	sink := &fakeSink{failNext: 1}
	w := New(sink, testLogger(), 10, time.Hour, 400)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	for i := 0; i < 10; i++ {
		w.AddProbe(models.ProbeResult{DeviceID: "dev-a", Timestamp: int64(i)})
	}

	require.Eventually(t, func() bool { return w.QueueDepth() == 10 }, time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		w.AddProbe(models.ProbeResult{DeviceID: "dev-a", Timestamp: int64(100 + i)})
	}

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		total := 0
		for _, b := range sink.batches {
			require.LessOrEqual(t, len(b), 10, "flushed batch must not exceed maxBatch")
			total += len(b)
		}
		return total == 20
	}, time.Second, 10*time.Millisecond)
}

func TestWriter_DropsOldestBeyondMaxRetained(t *testing.T) {
	sink := &fakeSink{failNext: 1000}
	w := New(sink, testLogger(), 5, time.Hour, 12)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 20; i++ {
		w.AddProbe(models.ProbeResult{DeviceID: "dev-a", Timestamp: int64(i)})
	}

	require.Eventually(t, func() bool { return w.Dropped() > 0 }, time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, w.QueueDepth(), 12)
}
