package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimalTier(t *testing.T) {
	tests := []struct {
		name          string
		bandwidthKbps float64
		cpuUsagePct   float64
		expected      Tier
	}{
		{"slow link", 300, 10, TierLow},
		{"loaded cpu caps fast link", 10000, 95, TierLow},
		{"moderate link", 1500, 10, TierMedium},
		{"busy cpu caps to medium", 10000, 70, TierMedium},
		{"good link", 4000, 10, TierHigh},
		{"fast link idle cpu", 8000, 5, TierUltra},
		{"boundary 500", 500, 0, TierMedium},
		{"boundary 2000", 2000, 0, TierHigh},
		{"boundary 5000", 5000, 0, TierUltra},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, OptimalTier(tt.bandwidthKbps, tt.cpuUsagePct))
		})
	}
}

func TestConstraintsFor(t *testing.T) {
	c := ConstraintsFor(TierHigh)
	assert.Equal(t, 1920, c.Width)
	assert.Equal(t, 1080, c.Height)
	assert.Equal(t, 2500, c.VideoBitrateKbps)

	fallback := ConstraintsFor(Tier("bogus"))
	assert.Equal(t, ConstraintsFor(TierMedium), fallback)
}
