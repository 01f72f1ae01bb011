package service

import (
	"errors"
	"sync"
	"time"
)

const (
	defaultWindow      = 5 * time.Minute
	defaultShortWindow = time.Minute
)

// ErrStaleSample is returned when a sample falls outside the window it was recorded into.
var ErrStaleSample = errors.New("sample is older than the averaging window")

// AverageService keeps one bounded time window of samples per named series.
type AverageService struct {
	window time.Duration
	short  time.Duration
	now    func() time.Time

	mu     sync.Mutex
	series map[string]*series
}

// series holds samples keyed by timestamp; a repeated timestamp overwrites.
type series struct {
	mu      sync.Mutex
	samples map[int64]float64
}

func NewAverageService(window, short time.Duration) *AverageService {
	if window <= 0 {
		window = defaultWindow
	}
	if short <= 0 || short > window {
		short = defaultShortWindow
	}
	return &AverageService{
		window: window,
		short:  short,
		now:    time.Now,
		series: make(map[string]*series),
	}
}

// Record inserts the sample, evicts everything older than the window and
// returns both window means. The series lock is held across all three steps.
func (s *AverageService) Record(name string, at time.Time, value float64) (WindowAverages, error) {
	sr := s.get(name)

	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.samples[at.UnixNano()] = value

	now := s.now()
	oldest := now.Add(-s.window).UnixNano()
	recent := now.Add(-s.short).UnixNano()

	out := WindowAverages{Series: name, At: at}
	var sum, shortSum float64
	for ts, v := range sr.samples {
		if ts < oldest {
			delete(sr.samples, ts)
			continue
		}
		sum += v
		out.Samples++
		if ts > recent {
			shortSum += v
			out.ShortSamples++
		}
	}

	if out.Samples == 0 {
		return out, ErrStaleSample
	}
	out.Window = sum / float64(out.Samples)
	if out.ShortSamples == 0 {
		out.Short = out.Window
		out.ShortFallback = true
	} else {
		out.Short = shortSum / float64(out.ShortSamples)
	}
	return out, nil
}

// Len reports how many samples the series currently retains.
func (s *AverageService) Len(name string) int {
	s.mu.Lock()
	sr, ok := s.series[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.samples)
}

func (s *AverageService) get(name string) *series {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.series[name]
	if !ok {
		sr = &series{samples: make(map[int64]float64)}
		s.series[name] = sr
	}
	return sr
}
