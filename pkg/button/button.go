// Package button abstracts the authenticator's single user-presence input:
// whatever physical or virtual control the host asks the user to touch
// before a privileged operation completes (spec.md §5's "test of user
// presence"). The core only ever needs to ask "has it been pressed since I
// last looked", so the interface is a single edge-triggered method rather
// than a raw level or an event channel.
package button

import (
	"context"
	"time"
)

// Button reports whether the user-presence control has been actuated since
// the last call to IsPressed. Implementations must clear the edge on read:
// two consecutive calls with no intervening physical press return
// (true, false), not (true, true).
type Button interface {
	IsPressed() bool
}

// Wait busy-polls b at interval until it reports pressed (returning nil) or
// ctx is done (returning ctx.Err()). This is the one call in the main loop allowed
// to block past a single iteration (spec.md §5, §9) — every other step of
// the loop is non-blocking.
func Wait(ctx context.Context, b Button, interval time.Duration) error {
	if b.IsPressed() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.IsPressed() {
				return nil
			}
		}
	}
}

// AutoApprove always reports pressed — used by tests and the virtual demo
// driver where there is no human in the loop to actuate anything.
type AutoApprove struct{}

// IsPressed always returns true.
func (AutoApprove) IsPressed() bool { return true }

// Latch is a software button a test or demo driver can actuate
// programmatically: Press sets the edge; IsPressed reads and clears it.
type Latch struct {
	pressed bool
}

// Press arms the edge so the next IsPressed call returns true.
func (l *Latch) Press() { l.pressed = true }

// IsPressed reports and clears the armed edge.
func (l *Latch) IsPressed() bool {
	p := l.pressed
	l.pressed = false
	return p
}

// ManualButton actuates on a line of input from an external reader (stdin in
// practice), for interactive demo sessions where a human approves each
// operation by pressing Enter. Reads happen on a background goroutine so
// IsPressed never blocks the main loop; see cmd/ctap2-authenticator.
type ManualButton struct {
	presses chan struct{}
}

// NewManualButton returns a ManualButton fed by the given presses channel.
// The caller owns the goroutine that sends on it (typically a line-reader
// loop over os.Stdin).
func NewManualButton(presses chan struct{}) *ManualButton {
	return &ManualButton{presses: presses}
}

// IsPressed reports whether a press has arrived since the last call,
// draining at most one pending press per call.
func (m *ManualButton) IsPressed() bool {
	select {
	case <-m.presses:
		return true
	default:
		return false
	}
}

// GPIOButton is a placeholder for a real GPIO-backed button: reading an
// actual pin needs a platform-specific library (e.g.
// github.com/warthog618/go-gpiocdev on Linux) that is out of scope for this core and absent from the dependency
// set this authenticator was built against — see DESIGN.md. Wire a real
// implementation in here when targeting hardware.
type GPIOButton struct {
	Pin int
}

// IsPressed always returns false; replace with a real GPIO read.
func (GPIOButton) IsPressed() bool { return false }
