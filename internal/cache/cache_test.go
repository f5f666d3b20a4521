package cache

import (
	"context"
	"testing"
	"time"

	"netwatch/internal/logger"
	"netwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	l, _ := logger.New(logger.Config{Level: logger.FATAL, Mode: logger.MINIMAL})
	return l
}

func TestLocalCache_SetGetRoundtrip(t *testing.T) {
	c := newLocalCache(testLogger())
	ctx := context.Background()

	status := models.DeviceStatus{DeviceID: "dev-a", Status: models.StatusUp}
	require.NoError(t, c.Set(ctx, DeviceStatusKey("dev-a"), status, time.Hour))

	var got models.DeviceStatus
	found, err := c.Get(ctx, DeviceStatusKey("dev-a"), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.StatusUp, got.Status)
}

func TestLocalCache_GetMissingKeyReturnsFalse(t *testing.T) {
	c := newLocalCache(testLogger())
	var got models.DeviceStatus
	found, err := c.Get(context.Background(), "no-such-key", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocalCache_ExpiredEntryNotReturned(t *testing.T) {
	c := newLocalCache(testLogger())
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", -time.Second))

	var got string
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocalCache_PublishFansOutToSubscribers(t *testing.T) {
	c := newLocalCache(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1 := c.Subscribe(ctx, ChannelDeviceUpdate)
	sub2 := c.Subscribe(ctx, ChannelDeviceUpdate)

	require.NoError(t, c.Publish(ctx, ChannelDeviceUpdate, models.DeviceStatus{DeviceID: "dev-a"}))

	for _, sub := range []<-chan Event{sub1, sub2} {
		select {
		case evt := <-sub:
			assert.Equal(t, ChannelDeviceUpdate, evt.Channel)
		case <-time.After(time.Second):
			t.Fatal("expected event delivery")
		}
	}
}

func TestLocalCache_PublishIgnoresOtherChannels(t *testing.T) {
	c := newLocalCache(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := c.Subscribe(ctx, ChannelAlertFlapping)
	require.NoError(t, c.Publish(ctx, ChannelDeviceUpdate, "x"))

	select {
	case <-sub:
		t.Fatal("unexpected delivery on unsubscribed channel")
	case <-time.After(50 * time.Millisecond):
	}
}
