package ethercat

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Port is the indexed TX/RX frame engine: it hands out frame indices,
// tracks in-flight datagrams per index, and matches received frames back to
// the caller that sent them. It is the Go analogue of SOEM's ecx_portt.
//
// One Port drives one Link (or a RedundantLink). Concurrent callers each
// reserve a slot, send, and wait on their own slot instead of serializing
// through a single send/receive pair.
type Port struct {
	link  Link
	clock Clock

	mu    sync.Mutex
	slots [MaxBuffers]slot
	free  []uint8
}

type slot struct {
	inUse    bool
	dgrams   []datagram
	views    []datagramView
	received []byte
	done     chan struct{}
}

// NewPort creates a Port driving the given Link.
func NewPort(link Link, clock Clock) *Port {
	if clock == nil {
		clock = SystemClock
	}
	p := &Port{link: link, clock: clock}
	for i := range p.slots {
		p.free = append(p.free, uint8(i))
	}
	return p
}

// reserve claims a free index, or returns ErrPortBusy if all MaxBuffers
// slots are in flight.
func (p *Port) reserve() (uint8, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, ErrPortBusy
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.slots[idx] = slot{inUse: true, done: make(chan struct{})}
	return idx, nil
}

func (p *Port) release(idx uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[idx] = slot{}
	p.free = append(p.free, idx)
}

// Exchange sends the given datagrams as a single frame under one index and
// blocks until the echoed frame is received or timeout elapses. On success
// it updates each datagram's data (for read commands) and wkc in place.
func (p *Port) Exchange(dgrams []datagram, timeout time.Duration) error {
	idx, err := p.reserve()
	if err != nil {
		return err
	}
	defer p.release(idx)

	fb := newFrameBuilder()
	for i := range dgrams {
		dgrams[i].idx = idx
		if err := fb.add(dgrams[i]); err != nil {
			return err
		}
	}
	frame := fb.bytes()

	p.mu.Lock()
	p.slots[idx].dgrams = dgrams
	p.mu.Unlock()

	if err := p.link.Send(frame); err != nil {
		return err
	}

	deadline := p.clock.Now().Add(timeout)
	for {
		rx, err := p.link.Receive()
		if err == nil {
			if p.handleFrame(rx) {
				break
			}
			continue
		}
		if p.clock.Now().After(deadline) {
			log.Debugf("[PORT][x%x] timeout waiting for echo", idx)
			return ErrTimeout
		}
		p.clock.Sleep(time.Microsecond * 100)
	}

	p.mu.Lock()
	views := p.slots[idx].views
	received := p.slots[idx].received
	p.mu.Unlock()

	for i, v := range views {
		if i >= len(dgrams) {
			break
		}
		copy(dgrams[i].data, v.payload(received))
		dgrams[i].wkc = v.wkc(received)
	}
	return nil
}

// handleFrame tries to match a received frame to the slot encoded in its
// first datagram's index; returns true if the frame belonged to an
// in-flight slot (whether or not it satisfied the caller is immaterial
// here, Exchange is the only caller and only one index is outstanding per
// call in the current single-request-per-slot model).
func (p *Port) handleFrame(frame []byte) bool {
	views, err := parseDatagrams(frame)
	if err != nil || len(views) == 0 {
		return false
	}
	idx := frame[ethHeaderLen+ecHeaderLen+1]
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &p.slots[idx]
	if !s.inUse {
		return false
	}
	s.views = views
	s.received = frame
	return true
}

// Close releases the underlying Link.
func (p *Port) Close() error {
	return p.link.Close()
}
