package clock

import "time"

// Clock abstracts wall-clock time so the tick loop can run under test
// without real time passing.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// System returns the real wall clock.
func System() Clock {
	return systemClock{}
}
