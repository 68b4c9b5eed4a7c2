package sequencer

// HandleKey applies a keyboard command. Keys are ignored unless a run is
// active. It reports whether the key was recognised and applied.
//
//	ArrowRight     next step
//	ArrowLeft      previous step
//	Space          toggle auto-play
//	Escape         reset
func (s *Sequencer) HandleKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.run.running {
		return false
	}

	switch key {
	case "ArrowRight", "Right":
		s.goTo(s.run.current + 1)
	case "ArrowLeft", "Left":
		s.goTo(s.run.current - 1)
	case " ", "Space", "Spacebar":
		s.toggleAutoPlay()
	case "Escape", "Esc":
		s.reset()
	default:
		return false
	}
	return true
}
