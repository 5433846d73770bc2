package logger

import (
	"strconv"
	"strings"
	"sync"
)

// ratioSampler passes the first allow events of every window of size window,
// then suppresses the rest. Webhook bursts produce long runs of near-identical
// debug lines; keeping a fixed slice of each run is enough to see what the
// dispatcher is doing without drowning the sinks.
type ratioSampler struct {
	mu     sync.Mutex
	allow  int
	window int
	seen   int
}

func newRatioSampler(allow, window int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(allow, window)
	return s
}

// Set reconfigures the ratio. Non-positive values disable sampling, so every
// event passes.
func (s *ratioSampler) Set(allow, window int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allow <= 0 || window <= 0 {
		s.allow, s.window, s.seen = 0, 0, 0
		return
	}
	if allow > window {
		allow = window
	}
	s.allow = allow
	s.window = window
	s.seen = 0
}

// Allow reports whether the current event falls inside the passing slice of
// its window.
func (s *ratioSampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window <= 0 {
		return true
	}
	s.seen++
	if s.seen > s.window {
		s.seen = 1
	}
	return s.seen <= s.allow
}

// parseRatioSpec understands "N/M" (N of every M) and a bare "M" shorthand
// for 1/M. Anything else disables sampling.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if num, den, ok := strings.Cut(spec, "/"); ok {
		a, errA := strconv.Atoi(strings.TrimSpace(num))
		w, errW := strconv.Atoi(strings.TrimSpace(den))
		if errA == nil && errW == nil {
			return a, w
		}
		return 0, 0
	}
	if w, err := strconv.Atoi(spec); err == nil && w > 0 {
		return 1, w
	}
	return 0, 0
}
