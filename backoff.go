package arq

import (
	"math"
	"time"
)

// BackOff spaces out poll attempts while the store keeps failing.
type BackOff struct {
	Attempts int
	Factor   float64
	Delay    time.Duration
	Max      time.Duration
}

func newBackOff(delay, max time.Duration, factor float64) *BackOff {
	return &BackOff{
		Attempts: 0,
		Factor:   factor,
		Delay:    delay,
		Max:      max,
	}
}

func (bo *BackOff) NextAttempt() time.Duration {
	next := bo.getNextAttempt(bo.Delay, bo.Factor, bo.Attempts)
	bo.Attempts++
	return next
}

func (bo *BackOff) Reset() {
	bo.Attempts = 0
}

func (bo *BackOff) getNextAttempt(delay time.Duration, factor float64, attempts int) time.Duration {
	d := time.Duration(float64(delay) * math.Pow(factor, float64(attempts+1)))
	if d <= 0 || d > bo.Max {
		return bo.Max
	}
	return d
}
