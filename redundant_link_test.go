package ethercat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeLink is a scripted Link: Receive replays a queued sequence of frames
// (each flagged with whether that slot errors), Send just records what it
// was handed so a test can assert on the bytes a RedundantLink forwarded.
type fakeLink struct {
	recvFrames [][]byte
	recvErrs   []error
	recvAt     int
	sendErr    error
	sent       [][]byte
}

func (f *fakeLink) Send(frame []byte) error {
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return f.sendErr
}

func (f *fakeLink) Receive() ([]byte, error) {
	if f.recvAt >= len(f.recvFrames) {
		return nil, ErrNoFrame
	}
	frame, err := f.recvFrames[f.recvAt], f.recvErrs[f.recvAt]
	f.recvAt++
	return frame, err
}

func (f *fakeLink) Close() error { return nil }

func (f *fakeLink) queue(frame []byte, err error) {
	f.recvFrames = append(f.recvFrames, frame)
	f.recvErrs = append(f.recvErrs, err)
}

func markedFrame(marker macMarker) []byte {
	frame := make([]byte, 14)
	stampSrcMAC(frame, marker)
	return frame
}

// TestRedundantLinkReceiveIntactRing covers the normal case: the frame
// completed the full loop, so it comes back on the primary port carrying
// the secondary's marker and on the secondary port carrying the primary's.
// The secondary's copy (having traversed the whole ring) is authoritative.
func TestRedundantLinkReceiveIntactRing(t *testing.T) {
	primary := &fakeLink{}
	secondary := &fakeLink{}
	primary.queue(markedFrame(markerSecondary), nil)
	secondary.queue(markedFrame(markerPrimary), nil)

	r := &RedundantLink{Primary: primary, Secondary: secondary}
	frame, err := r.Receive()
	require.NoError(t, err)
	require.Equal(t, secondary.recvFrames[0], frame)
}

// TestRedundantLinkReceiveBrokenRingSplice covers a break between the two
// slave segments: the primary's own dummy reflects back to it unrouted,
// and so does the secondary's, so Receive splices the primary's result
// into a resend on the secondary port to recover one consistent buffer.
func TestRedundantLinkReceiveBrokenRingSplice(t *testing.T) {
	primary := &fakeLink{}
	secondary := &fakeLink{}
	primary.queue(markedFrame(markerPrimary), nil)
	secondary.queue(markedFrame(markerSecondary), nil)
	resendReply := markedFrame(markerSecondary)
	secondary.queue(resendReply, nil)

	r := &RedundantLink{Primary: primary, Secondary: secondary}
	frame, err := r.Receive()
	require.NoError(t, err)
	require.Equal(t, resendReply, frame)
	require.Len(t, secondary.sent, 1)
}

// TestRedundantLinkReceiveBrokenRingNoPrimary covers the same break, but
// the primary port never answered at all: the secondary's own dummy is
// the only thing that came back, so it is returned as-is with no resend.
func TestRedundantLinkReceiveBrokenRingNoPrimary(t *testing.T) {
	primary := &fakeLink{}
	secondary := &fakeLink{}
	primary.queue(nil, ErrNoFrame)
	secondary.queue(markedFrame(markerSecondary), nil)

	r := &RedundantLink{Primary: primary, Secondary: secondary}
	frame, err := r.Receive()
	require.NoError(t, err)
	require.Equal(t, secondary.recvFrames[0], frame)
	require.Empty(t, secondary.sent)
}

// TestRedundantLinkReceiveNoFrame covers the case neither port has
// anything usable queued: Receive reports ErrNoFrame rather than a stale
// or mismatched buffer.
func TestRedundantLinkReceiveNoFrame(t *testing.T) {
	primary := &fakeLink{}
	secondary := &fakeLink{}
	primary.queue(nil, ErrNoFrame)
	secondary.queue(nil, ErrNoFrame)

	r := &RedundantLink{Primary: primary, Secondary: secondary}
	_, err := r.Receive()
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestRedundantLinkSendStampsBothPorts(t *testing.T) {
	primary := &fakeLink{}
	secondary := &fakeLink{}
	r := &RedundantLink{Primary: primary, Secondary: secondary}

	require.NoError(t, r.Send(make([]byte, 14)))
	require.Len(t, primary.sent, 1)
	require.Len(t, secondary.sent, 1)
	require.Equal(t, markerPrimary, readSrcMACMarker(primary.sent[0]))
	require.Equal(t, markerSecondary, readSrcMACMarker(secondary.sent[0]))
}

// TestRedundantLinkSendOnePortDown covers a port outright failing to
// transmit: the cycle still gets through on the other port instead of
// failing the whole exchange.
func TestRedundantLinkSendOnePortDown(t *testing.T) {
	primary := &fakeLink{sendErr: ErrTimeout}
	secondary := &fakeLink{}
	r := &RedundantLink{Primary: primary, Secondary: secondary}

	require.NoError(t, r.Send(make([]byte, 14)))
}
