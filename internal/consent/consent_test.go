package consent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateWithNoButtonIsDisabledAndGrantsImmediately(t *testing.T) {
	g := New(nil, nil)
	require.False(t, g.Enabled())

	start := time.Now()
	granted := g.Await(context.Background())
	require.True(t, granted)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGateProbeDetectsHeldButton(t *testing.T) {
	btn := &SimulatedButton{}
	btn.Press()
	led := &RecordingLED{}

	g := New(btn, led)
	require.True(t, g.Enabled())
	require.True(t, led.On() == false, "LED must be off again once the probe completes")
}

func TestGateAwaitGrantsOnPress(t *testing.T) {
	btn := &SimulatedButton{}
	led := &RecordingLED{}
	g := &Gate{button: btn, led: led, enabled: true}

	done := make(chan bool, 1)
	go func() {
		done <- g.Await(context.Background())
	}()

	time.Sleep(150 * time.Millisecond)
	btn.Press()

	select {
	case granted := <-done:
		require.True(t, granted)
	case <-time.After(Deadline):
		t.Fatal("Await never returned")
	}
	require.True(t, led.On() == false, "LED must be extinguished once consent resolves")
}

func TestGateAwaitTimesOutWithoutPress(t *testing.T) {
	origDeadline, origPoll := Deadline, PollInterval
	Deadline, PollInterval = 150*time.Millisecond, 10*time.Millisecond
	defer func() { Deadline, PollInterval = origDeadline, origPoll }()

	btn := &SimulatedButton{}
	g := &Gate{button: btn, led: NullLED{}, enabled: true}

	granted := g.Await(context.Background())
	require.False(t, granted)
}

func TestGateAwaitRespectsContextCancellation(t *testing.T) {
	btn := &SimulatedButton{}
	g := &Gate{button: btn, led: NullLED{}, enabled: true}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	granted := g.Await(ctx)
	require.False(t, granted)
}
