package sim

import "testing"

func TestClockEnabledWindow(t *testing.T) {
	c := NewClock(360, 3)

	if got := c.Current(); got != 360 {
		t.Fatalf("Current() = %d, want 360", got)
	}

	enabled := c.Enabled()
	want := []int64{361, 362, 363}
	if len(enabled) != len(want) {
		t.Fatalf("Enabled() = %v, want %v", enabled, want)
	}
	for i := range want {
		if enabled[i] != want[i] {
			t.Fatalf("Enabled() = %v, want %v", enabled, want)
		}
	}
}

func TestClockTickAdvancesWindow(t *testing.T) {
	c := NewClock(360, 2)

	if got := c.Tick(); got != 361 {
		t.Fatalf("Tick() = %d, want 361", got)
	}

	enabled := c.Enabled()
	if enabled[0] != 362 || enabled[1] != 363 {
		t.Fatalf("Enabled() after tick = %v, want [362 363]", enabled)
	}
}
