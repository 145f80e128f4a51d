package ratelimit

import (
	"math"
	"time"
)

// epochFor maps a timestamp to the end of the fixed window containing it.
// All requests arriving inside the half-open interval (epoch-period, epoch]
// share the same epoch and therefore the same counter key. Both arguments
// and the result are real-valued seconds so sub-second windows work.
func epochFor(timestamp, period float64) float64 {
	return period * math.Ceil(timestamp/period)
}

// unixSeconds converts a time.Time to real-valued seconds since the Unix
// epoch. Summing whole seconds and the nanosecond fraction keeps timestamps
// on exact second boundaries exact, which float64(UnixNano()) would not.
func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// epochTime converts a real-valued epoch back into a time.Time.
func epochTime(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
