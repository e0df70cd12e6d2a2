package ethercat

import (
	"encoding/binary"
	"time"
)

// Link is the NIC driver interface the Port drives frames through. A real
// implementation wraps a raw AF_PACKET socket bound to an interface; tests
// use the in-process LoopbackLink paired with a simulated slave ring.
//
// Receive must be non-blocking: it returns ErrNoFrame immediately if no
// frame is queued, so the Port's poll loop can apply its own timeout instead
// of blocking inside the driver.
type Link interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// macMarker is stamped into the second word of a frame's source MAC (bytes
// 8-9 of the 14-byte Ethernet header) before it goes out one port of a
// RedundantLink, so that whichever port the frame reappears on can be told
// apart from the port it left on.
type macMarker uint16

const (
	markerPrimary   macMarker = 0xca11
	markerSecondary macMarker = 0xca22
)

func stampSrcMAC(frame []byte, marker macMarker) {
	if len(frame) >= 10 {
		binary.BigEndian.PutUint16(frame[8:10], uint16(marker))
	}
}

func readSrcMACMarker(frame []byte) macMarker {
	if len(frame) < 10 {
		return 0
	}
	return macMarker(binary.BigEndian.Uint16(frame[8:10]))
}

// RedundantLink pairs a primary and a secondary Link for cable redundancy:
// the same frame is sent out both ports every cycle (the real frame leaves
// on the primary, a dummy copy leaves on the secondary), and Receive
// reconstructs which port the ring actually delivered it back on by
// comparing the recorded source-MAC marker against what each port sent.
type RedundantLink struct {
	Primary   Link
	Secondary Link
}

// Send stamps and transmits independent copies of frame on both ports. It
// only fails if both ports reject the frame outright; a send error on one
// port still lets the other carry the cycle, consistent with Receive's
// ring-break recovery.
func (r *RedundantLink) Send(frame []byte) error {
	primaryFrame := append([]byte(nil), frame...)
	stampSrcMAC(primaryFrame, markerPrimary)
	errPrimary := r.Primary.Send(primaryFrame)

	secondaryFrame := append([]byte(nil), frame...)
	stampSrcMAC(secondaryFrame, markerSecondary)
	errSecondary := r.Secondary.Send(secondaryFrame)

	if errPrimary != nil && errSecondary != nil {
		return errPrimary
	}
	return nil
}

// Receive implements the redundant ring's break detection and recovery:
// after both ports have had a chance to answer, it reads the second MAC
// word each recorded. If the primary's frame shows up carrying the
// secondary's marker and vice versa, the ring is intact and the secondary's
// buffer (having completed the full loop) is authoritative. If only the
// primary answered with its own marker and the secondary saw its own dummy
// reflected back unrouted, the ring is broken between the two slave
// segments: the primary's result is spliced into a resend on the secondary
// port so the caller still gets one consistent buffer. Anything else is
// treated as no frame at all.
func (r *RedundantLink) Receive() ([]byte, error) {
	primaryFrame, primaryErr := r.Primary.Receive()
	secondaryFrame, secondaryErr := r.Secondary.Receive()

	var primaryMarker, secondaryMarker macMarker
	if primaryErr == nil {
		primaryMarker = readSrcMACMarker(primaryFrame)
	}
	if secondaryErr == nil {
		secondaryMarker = readSrcMACMarker(secondaryFrame)
	}

	switch {
	case primaryErr == nil && secondaryErr == nil &&
		primaryMarker == markerSecondary && secondaryMarker == markerPrimary:
		return secondaryFrame, nil

	case secondaryErr == nil && secondaryMarker == markerSecondary &&
		(primaryErr != nil || primaryMarker == markerPrimary):
		if primaryErr == nil && primaryMarker == markerPrimary {
			resend := append([]byte(nil), primaryFrame...)
			stampSrcMAC(resend, markerSecondary)
			if err := r.Secondary.Send(resend); err == nil {
				if frame, err := r.Secondary.Receive(); err == nil {
					return frame, nil
				}
			}
		}
		return secondaryFrame, nil

	default:
		return nil, ErrNoFrame
	}
}

func (r *RedundantLink) Close() error {
	err1 := r.Primary.Close()
	err2 := r.Secondary.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Clock abstracts wall-clock and sleep so the Port's receive deadline and
// polling sleep can be driven by a fake clock under test instead of
// depending on a real timer. Start's cyclic loops and the state and mailbox
// polls use the time package directly.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	SleepUntil(t time.Time)
}

// systemClock is the default Clock backed by the real wall clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
func (systemClock) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
func (systemClock) SleepUntil(t time.Time) {
	if d := time.Until(t); d > 0 {
		time.Sleep(d)
	}
}

// SystemClock is the shared real-time Clock instance.
var SystemClock Clock = systemClock{}
