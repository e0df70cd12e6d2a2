package ethercat

import (
	"encoding/binary"
	"time"
)

// idxStackEntry records one pushed segment's bookkeeping for the process
// data receive phase: how long its payload is, whether its working-counter
// contribution must be doubled in software (the LRD+LWR fallback, see
// Quirks.NoLRW), and whether the cycle's embedded FRMW DC datagram rides
// along behind it.
type idxStackEntry struct {
	mapOffset int
	length    int
	doubleWKC bool
	hasDC     bool
}

// idxStack is the push/pop record SendReceiveProcessData uses to
// reassemble one cycle's results: one entry pushed per segment in send
// order, popped back in the same order once the echoed frame returns,
// mirroring SOEM's ecx_contextt.idxstack.
type idxStack struct {
	entries []idxStackEntry
}

func (st *idxStack) push(e idxStackEntry) { st.entries = append(st.entries, e) }
func (st *idxStack) reset()               { st.entries = st.entries[:0] }

// SendReceiveProcessData exchanges the group's IO map in one round trip:
// one LRW datagram per segment (or a single LRW if the map fits in one
// datagram), outputs first then inputs at the same logical addresses. If
// Quirks.NoLRW is set, each segment is instead split into an LRD followed
// by an LWR, for slaves whose ESC can't service a combined read+write pass.
// The first segment additionally carries an FRMW on the reference DC
// slave's system time register, piggybacked onto the same frame so the
// cycle's DC latch doesn't cost a separate round trip.
func (m *Master) SendReceiveProcessData(timeout time.Duration) error {
	g := m.group
	if g.IOMap == nil {
		return ErrNotConfigured
	}

	segs := g.Segments
	if len(segs) == 0 {
		segs = []ioSegment{{logicalAddr: 0, length: len(g.IOMap)}}
	}

	var stack idxStack
	var dgrams []datagram

	for i, seg := range segs {
		data := g.IOMap[int(seg.logicalAddr) : int(seg.logicalAddr)+seg.length]
		adp := uint16(seg.logicalAddr & 0xffff)
		ado := uint16(seg.logicalAddr >> 16)
		entry := idxStackEntry{mapOffset: int(seg.logicalAddr), length: seg.length}

		if m.Quirks.NoLRW {
			// The LRD runs against its own scratch copy rather than data
			// directly: issuing it first would otherwise let a slow slave
			// race the LWR that follows over the same bytes. Its result is
			// copied back into data once the exchange completes, after the
			// LWR has already captured what to send.
			rdData := append([]byte(nil), data...)
			dgrams = append(dgrams, datagram{cmd: cmdLRD, adp: adp, ado: ado, data: rdData})
			dgrams = append(dgrams, datagram{cmd: cmdLWR, adp: adp, ado: ado, data: data})
			entry.doubleWKC = true
		} else {
			dgrams = append(dgrams, datagram{cmd: cmdLRW, adp: adp, ado: ado, data: data})
		}

		if i == 0 && g.DCNext >= 0 {
			if ref, err := m.Slave(g.DCNext); err == nil {
				dgrams = append(dgrams, datagram{cmd: cmdFRMW, adp: ref.ConfigAddr, ado: regDCSysTime, data: make([]byte, 8)})
				entry.hasDC = true
			}
		}

		stack.push(entry)
	}

	if err := m.port.Exchange(dgrams, timeout); err != nil {
		return err
	}

	var total uint16
	di := 0
	for _, entry := range stack.entries {
		if entry.doubleWKC {
			rd, wr := dgrams[di], dgrams[di+1]
			di += 2
			total += rd.wkc + wr.wkc*2
			copy(g.IOMap[entry.mapOffset:entry.mapOffset+entry.length], rd.data)
		} else {
			d := dgrams[di]
			di++
			total += d.wkc
		}
		if entry.hasDC {
			dc := dgrams[di]
			di++
			if dc.wkc > 0 {
				m.mu.Lock()
				m.lastDCTime = binary.LittleEndian.Uint64(dc.data)
				m.mu.Unlock()
			}
		}
	}
	stack.reset()

	return m.checkWKC(total)
}

// LastDCTime returns the reference slave's system time as latched by the
// most recent process-data cycle's embedded FRMW, or 0 if no DC slave has
// been configured yet.
func (m *Master) LastDCTime() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDCTime
}

// checkWKC compares the working counter from the last exchange against the
// group's expected value; a short count is recorded on the error ring and
// returned as ErrBadWorkCounter.
func (m *Master) checkWKC(wkc uint16) error {
	if wkc < m.group.ExpectedWKC {
		m.PushError(ErrorRecord{Kind: ErrorKindPacket, Code: uint32(wkc)})
		return ErrBadWorkCounter
	}
	return nil
}
