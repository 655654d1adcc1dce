package engine

// BlinkState is the rolling debounce state for blink detection. It is
// carried inside the attendance session and threaded through each call,
// so concurrent sessions never share blink counters.
type BlinkState struct {
	// ClosedFrames is the current run of consecutive eyes-closed frames.
	ClosedFrames int `json:"closed_frames"`
}

// Observe folds one frame observation into the state. A blink is
// signaled only when at least minConsecutive closed frames are followed
// by an open frame; a single closed frame is never enough, which keeps
// motion blur from registering as a blink.
func (s BlinkState) Observe(closed bool, minConsecutive int) (BlinkState, bool) {
	if minConsecutive < 1 {
		minConsecutive = 1
	}

	if closed {
		s.ClosedFrames++
		return s, false
	}

	blinked := s.ClosedFrames >= minConsecutive
	s.ClosedFrames = 0
	return s, blinked
}
