package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEpochFor(t *testing.T) {
	var tests = []struct {
		name      string
		timestamp float64
		period    float64
		expected  float64
	}{
		{
			name:      "rounds up to the end of the window",
			timestamp: 103,
			period:    10,
			expected:  110,
		},
		{
			name:      "timestamp on the boundary keeps its own epoch",
			timestamp: 100,
			period:    10,
			expected:  100,
		},
		{
			name:      "sub-second window",
			timestamp: 100.25,
			period:    0.5,
			expected:  100.5,
		},
		{
			name:      "sub-second arrival in whole-second window",
			timestamp: 100.001,
			period:    1,
			expected:  101,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, epochFor(tt.timestamp, tt.period), 1e-9)
		})
	}
}

func TestEpochForBounds(t *testing.T) {
	periods := []float64{0.25, 1, 7, 10, 3600}
	for ts := 1.0; ts < 100; ts += 3.7 {
		for _, period := range periods {
			epoch := epochFor(ts, period)
			assert.GreaterOrEqual(t, epoch, ts)
			assert.LessOrEqual(t, epoch-ts, period)
		}
	}
}

func TestEpochForWindowSharing(t *testing.T) {
	// Two arrivals inside (epoch-period, epoch] must map to the same epoch.
	assert.Equal(t, epochFor(100.001, 10), epochFor(110, 10))
	assert.NotEqual(t, epochFor(110, 10), epochFor(110.001, 10))
}

func TestUnixSecondsRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 15, 250_000_000, time.UTC)
	assert.InDelta(t, 0.25, unixSeconds(at)-float64(at.Unix()), 1e-6)
	// float64 seconds carry microsecond precision for current dates
	assert.WithinDuration(t, at, epochTime(unixSeconds(at)), time.Microsecond)
}
