package monitor

import (
	"math"
	"time"
)

// DurationStats keeps running statistics of cycle durations using Welford's
// online algorithm.
type DurationStats struct {
	Count int
	Last  time.Duration
	Max   time.Duration

	mean float64 // seconds
	m2   float64
}

func (s *DurationStats) Update(d time.Duration) {
	s.Count++
	s.Last = d
	if d > s.Max {
		s.Max = d
	}
	x := d.Seconds()
	delta := x - s.mean
	s.mean += delta / float64(s.Count)
	delta2 := x - s.mean
	s.m2 += delta * delta2
}

func (s DurationStats) Mean() time.Duration {
	return secondsToDuration(s.mean)
}

// StdDev is the sample standard deviation; zero until two samples exist.
func (s DurationStats) StdDev() time.Duration {
	if s.Count < 2 {
		return 0
	}
	return secondsToDuration(math.Sqrt(s.m2 / float64(s.Count-1)))
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
