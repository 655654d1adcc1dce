package engine

import "testing"

func TestBlinkStateObserve(t *testing.T) {
	tests := []struct {
		name       string
		state      BlinkState
		closed     bool
		minConsec  int
		wantFrames int
		wantBlink  bool
	}{
		{name: "closed frame extends run", state: BlinkState{ClosedFrames: 1}, closed: true, minConsec: 2, wantFrames: 2},
		{name: "open frame after long enough run", state: BlinkState{ClosedFrames: 2}, closed: false, minConsec: 2, wantBlink: true},
		{name: "open frame after short run resets", state: BlinkState{ClosedFrames: 1}, closed: false, minConsec: 2},
		{name: "open frame with no run", state: BlinkState{}, closed: false, minConsec: 2},
		{name: "zero minimum treated as one", state: BlinkState{ClosedFrames: 1}, closed: false, minConsec: 0, wantBlink: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, blinked := tt.state.Observe(tt.closed, tt.minConsec)
			if got.ClosedFrames != tt.wantFrames {
				t.Errorf("ClosedFrames = %d, want %d", got.ClosedFrames, tt.wantFrames)
			}
			if blinked != tt.wantBlink {
				t.Errorf("blinked = %v, want %v", blinked, tt.wantBlink)
			}
		})
	}
}
