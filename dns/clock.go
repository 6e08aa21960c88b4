package dns

import "time"

// Clock is the tick source of a client. Both counters are free running and
// wrap around; only differences between readings are used.
type Clock interface {
	// Ticks counts milliseconds.
	Ticks() uint32
	// Seconds counts seconds.
	Seconds() uint32
}

type systemClock struct {
	start time.Time
}

func newSystemClock() Clock {
	return systemClock{start: time.Now()}
}

func (c systemClock) Ticks() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

func (c systemClock) Seconds() uint32 {
	return uint32(time.Since(c.start) / time.Second)
}

// ticksToDuration converts a tick difference into a duration.
func ticksToDuration(ticks uint32) time.Duration {
	return time.Duration(ticks) * time.Millisecond
}

// durationToTicks converts d to ticks, saturating at the counter range.
func durationToTicks(d time.Duration) uint32 {
	ms := d.Milliseconds()
	switch {
	case ms <= 0:
		return 0
	case ms > int64(^uint32(0)>>1):
		return ^uint32(0) >> 1
	}
	return uint32(ms)
}
