package consent

import "sync/atomic"

// SimulatedButton is an in-memory ButtonReader for tests and for boards
// with no physical button wired. Press and Release are safe to call from a
// separate goroutine while a Gate is polling.
type SimulatedButton struct {
	pressed atomic.Bool
}

// Press marks the button as held down.
func (b *SimulatedButton) Press() { b.pressed.Store(true) }

// Release marks the button as not held.
func (b *SimulatedButton) Release() { b.pressed.Store(false) }

// Pressed implements ButtonReader.
func (b *SimulatedButton) Pressed() (bool, error) {
	return b.pressed.Load(), nil
}

// NullLED discards all Set calls. Used on boards with no LED wired.
type NullLED struct{}

// Set implements LEDIndicator.
func (NullLED) Set(bool) error { return nil }

// RecordingLED is an LEDIndicator that remembers its last state and every
// transition, for asserting LED discipline in tests.
type RecordingLED struct {
	History []bool
}

// Set implements LEDIndicator.
func (l *RecordingLED) Set(on bool) error {
	l.History = append(l.History, on)
	return nil
}

// On reports the most recently set state, or false if Set was never called.
func (l *RecordingLED) On() bool {
	if len(l.History) == 0 {
		return false
	}
	return l.History[len(l.History)-1]
}
