//go:build linux

package consent

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The Linux GPIO character-device ABI (linux/gpio.h) isn't exposed by
// golang.org/x/sys/unix, so the handful of ioctl structs actually used here
// are reproduced locally, matching the kernel's v1 GPIOHANDLE layout.

const (
	gpioGetLineHandleIOCTL = 0xc16cb403
	gpioHandleGetLineValuesIOCTL = 0xc040b408
	gpioHandleSetLineValuesIOCTL = 0xc040b409

	gpioHandleRequestInput  = 1 << 0
	gpioHandleRequestOutput = 1 << 1

	gpioMaxNameSize = 32
)

type gpioHandleRequest struct {
	lineOffsets   [64]uint32
	flags         uint32
	defaultValues [64]uint8
	consumerLabel [gpioMaxNameSize]byte
	lines         uint32
	fd            int32
}

type gpioHandleData struct {
	values [64]uint8
}

func openLineHandle(chip *os.File, line uint32, flags uint32) (*os.File, error) {
	var req gpioHandleRequest
	req.lineOffsets[0] = line
	req.flags = flags
	req.lines = 1
	copy(req.consumerLabel[:], "hsmd")

	if err := ioctl(chip.Fd(), gpioGetLineHandleIOCTL, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("consent: request gpio line %d: %w", line, err)
	}
	return os.NewFile(uintptr(req.fd), fmt.Sprintf("gpio-line-%d", line)), nil
}

func ioctl(fd uintptr, request uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// LinuxGPIOButton reads a consent button wired to a GPIO line on a Linux
// GPIO character device (e.g. /dev/gpiochip0), pulled up so LOW means
// pressed — the same polarity original_source's INPUT_PULLUP button used.
type LinuxGPIOButton struct {
	handle *os.File
}

// OpenLinuxGPIOButton opens chipPath and requests line as an input.
func OpenLinuxGPIOButton(chipPath string, line uint32) (*LinuxGPIOButton, error) {
	chip, err := os.Open(chipPath)
	if err != nil {
		return nil, fmt.Errorf("consent: open %s: %w", chipPath, err)
	}
	defer chip.Close()

	handle, err := openLineHandle(chip, line, gpioHandleRequestInput)
	if err != nil {
		return nil, err
	}
	return &LinuxGPIOButton{handle: handle}, nil
}

// Pressed implements ButtonReader. It reports true when the line reads LOW.
func (b *LinuxGPIOButton) Pressed() (bool, error) {
	var data gpioHandleData
	if err := ioctl(b.handle.Fd(), gpioHandleGetLineValuesIOCTL, unsafe.Pointer(&data)); err != nil {
		return false, fmt.Errorf("consent: read gpio line: %w", err)
	}
	return data.values[0] == 0, nil
}

// Close releases the line handle.
func (b *LinuxGPIOButton) Close() error {
	return b.handle.Close()
}

// LinuxGPIOLED drives a consent LED wired to a GPIO line, active high.
type LinuxGPIOLED struct {
	handle *os.File
}

// OpenLinuxGPIOLED opens chipPath and requests line as an output, initially low.
func OpenLinuxGPIOLED(chipPath string, line uint32) (*LinuxGPIOLED, error) {
	chip, err := os.Open(chipPath)
	if err != nil {
		return nil, fmt.Errorf("consent: open %s: %w", chipPath, err)
	}
	defer chip.Close()

	handle, err := openLineHandle(chip, line, gpioHandleRequestOutput)
	if err != nil {
		return nil, err
	}
	led := &LinuxGPIOLED{handle: handle}
	_ = led.Set(false)
	return led, nil
}

// Set implements LEDIndicator.
func (l *LinuxGPIOLED) Set(on bool) error {
	var data gpioHandleData
	if on {
		data.values[0] = 1
	}
	if err := ioctl(l.handle.Fd(), gpioHandleSetLineValuesIOCTL, unsafe.Pointer(&data)); err != nil {
		return fmt.Errorf("consent: write gpio line: %w", err)
	}
	return nil
}

// Close releases the line handle.
func (l *LinuxGPIOLED) Close() error {
	return l.handle.Close()
}
