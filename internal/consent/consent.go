// Package consent implements ConsentGate: a bounded wait for a physical
// button press, matching the poll loop in
// original_source/libraries/HSM/HSM.cpp's rejected() (50ms samples, 5s
// ceiling), generalized to any ButtonReader/LEDIndicator implementation.
package consent

import (
	"context"
	"time"
)

// PollInterval is the sampling granularity for a pending press. It is a
// var, not a const, so tests can shorten it.
var PollInterval = 50 * time.Millisecond

// Deadline is the maximum time a caller may wait for consent. It is a var,
// not a const, so tests can shorten it.
var Deadline = 5 * time.Second

// ButtonReader reports the instantaneous state of a physical consent
// button. Pressed returns true exactly while the button is held down.
type ButtonReader interface {
	Pressed() (bool, error)
}

// LEDIndicator drives the side-channel LED that lights while a
// consent-gated operation is pending (spec.md §4.9).
type LEDIndicator interface {
	Set(on bool) error
}

// Gate wraps a ButtonReader and LEDIndicator into the probe-then-poll
// protocol spec.md §4.4 describes. A Gate with no wired button is
// permanently disabled and every Await call returns granted immediately.
type Gate struct {
	button  ButtonReader
	led     LEDIndicator
	enabled bool
}

// New probes button for a press within Deadline, exactly like the HSM
// constructor's own rejected() probe. If the probe itself errors or times
// out, the gate is disabled: subsequent Await calls are vacuously granted,
// matching a board with no button wired.
func New(button ButtonReader, led LEDIndicator) *Gate {
	g := &Gate{button: button, led: led}
	if button == nil {
		return g
	}
	if led != nil {
		_ = led.Set(true)
	}
	granted := poll(context.Background(), button)
	if led != nil {
		_ = led.Set(false)
	}
	g.enabled = granted
	return g
}

// Enabled reports whether a button was detected at construction time.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Await blocks until the button is pressed or Deadline elapses, lighting
// the LED for the duration of the wait. It returns true when consent was
// granted. A disabled gate (no button wired) always returns true without
// waiting. ctx cancellation ends the wait early and reports not granted.
func (g *Gate) Await(ctx context.Context) bool {
	if !g.enabled {
		return true
	}
	if g.led != nil {
		_ = g.led.Set(true)
		defer func() { _ = g.led.Set(false) }()
	}
	return poll(ctx, g.button)
}

// poll samples reader every PollInterval until it reports pressed, the
// Deadline elapses, or ctx is cancelled. It mirrors rejected()'s loop
// structure: sleep first, then sample, so a press held from before the
// call is still observed on the first tick.
func poll(ctx context.Context, reader ButtonReader) bool {
	deadline := time.NewTimer(Deadline)
	defer deadline.Stop()
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			pressed, err := reader.Pressed()
			if err != nil {
				continue
			}
			if pressed {
				return true
			}
		}
	}
}
