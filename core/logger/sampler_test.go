package logger

import "testing"

func TestRatioSamplerWindow(t *testing.T) {
	s := newRatioSampler(2, 5)
	want := []bool{true, true, false, false, false, true, true, false, false, false}
	for i, exp := range want {
		if got := s.Allow(); got != exp {
			t.Fatalf("event %d: Allow() = %v, want %v", i+1, got, exp)
		}
	}
}

func TestRatioSamplerDisabled(t *testing.T) {
	s := newRatioSampler(0, 0)
	for i := 0; i < 10; i++ {
		if !s.Allow() {
			t.Fatalf("event %d suppressed with sampling disabled", i+1)
		}
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := []struct {
		spec  string
		allow int
		win   int
	}{
		{"1/50", 1, 50},
		{" 2 / 5 ", 2, 5},
		{"25", 1, 25},
		{"", 0, 0},
		{"0", 0, 0},
		{"x/y", 0, 0},
		{"garbage", 0, 0},
	}
	for _, c := range cases {
		allow, win := parseRatioSpec(c.spec)
		if allow != c.allow || win != c.win {
			t.Errorf("parseRatioSpec(%q) = %d/%d, want %d/%d", c.spec, allow, win, c.allow, c.win)
		}
	}
}
