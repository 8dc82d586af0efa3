//go:build !linux

package consent

import "errors"

// errGPIOUnsupported is returned by the Linux GPIO constructors on
// platforms with no character-device GPIO ABI.
var errGPIOUnsupported = errors.New("consent: linux gpio is not supported on this platform")

// LinuxGPIOButton is unavailable outside Linux; use SimulatedButton instead.
type LinuxGPIOButton struct{}

// OpenLinuxGPIOButton always fails on non-Linux platforms.
func OpenLinuxGPIOButton(chipPath string, line uint32) (*LinuxGPIOButton, error) {
	return nil, errGPIOUnsupported
}

// Pressed implements ButtonReader; always errors.
func (b *LinuxGPIOButton) Pressed() (bool, error) { return false, errGPIOUnsupported }

// Close is a no-op.
func (b *LinuxGPIOButton) Close() error { return nil }

// LinuxGPIOLED is unavailable outside Linux; use NullLED instead.
type LinuxGPIOLED struct{}

// OpenLinuxGPIOLED always fails on non-Linux platforms.
func OpenLinuxGPIOLED(chipPath string, line uint32) (*LinuxGPIOLED, error) {
	return nil, errGPIOUnsupported
}

// Set implements LEDIndicator; always errors.
func (l *LinuxGPIOLED) Set(bool) error { return errGPIOUnsupported }

// Close is a no-op.
func (l *LinuxGPIOLED) Close() error { return nil }
