package prober

import (
	"testing"

	"netwatch/internal/models"

	"github.com/stretchr/testify/assert"
)

func thresholds() models.Thresholds {
	return models.Thresholds{
		Latency:    models.LatencyThreshold{Good: 50, Degraded: 150},
		PacketLoss: models.PacketLossThreshold{Good: 1, Degraded: 5},
	}
}

func TestClassify_MatchesSpecExamples(t *testing.T) {
	th := thresholds()
	assert.Equal(t, models.StatusUp, classify(30, 0, th))
	assert.Equal(t, models.StatusDegraded, classify(100, 0, th))
	assert.Equal(t, models.StatusDown, classify(200, 0, th))
	assert.Equal(t, models.StatusDown, classify(10, 6, th))
}

func TestIsValidIPv4(t *testing.T) {
	assert.True(t, isValidIPv4("8.8.8.8"))
	assert.True(t, isValidIPv4("255.255.255.255"))
	assert.False(t, isValidIPv4("8.8.8.8.9"))
	assert.False(t, isValidIPv4("256.1.1.1"))
	assert.False(t, isValidIPv4("not-an-ip"))
	assert.False(t, isValidIPv4("::1"))
}

func TestStripPort(t *testing.T) {
	assert.Equal(t, "8.8.8.8", stripPort("8.8.8.8:0"))
	assert.Equal(t, "8.8.8.8", stripPort("8.8.8.8"))
}
