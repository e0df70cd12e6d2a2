package ethercat

import (
	"encoding/binary"
	"time"

	log "github.com/sirupsen/logrus"
)

// ConfigDC measures propagation delay to every DC-capable slave relative to
// the first DC slave (the reference clock) and writes it into each
// downstream DC slave's system time delay register, after SOEM's
// ecx_configdc. The system time offset register is not written. It must
// run after ConfigMapGroup has fixed ring order.
func (m *Master) ConfigDC() error {
	m.mu.RLock()
	slaves := m.slaves
	m.mu.RUnlock()

	refPos := -1
	for pos := 1; pos < len(slaves); pos++ {
		if slaves[pos] != nil && slaves[pos].HasDC {
			refPos = pos
			break
		}
	}
	if refPos < 0 {
		log.Debugf("[DC] no DC-capable slave found, skipping")
		return nil
	}
	m.group.DCNext = refPos

	// Latch every DC slave's local clock via a single FRMW pass: FRMW
	// writes the first responder's time and every subsequent DC slave
	// reads back what the previous one wrote, so their receive-time
	// registers end up comparable without a separate round trip per slave.
	if err := m.dcLatch(slaves, refPos); err != nil {
		return err
	}

	for pos := refPos + 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil || !s.HasDC {
			continue
		}
		delay, err := m.dcPropDelay(slaves, refPos, pos)
		if err != nil {
			return err
		}
		s.PropDelay = delay
		if err := m.dcWriteDelay(s, delay); err != nil {
			return err
		}
	}
	return nil
}

// dcLatch issues one FRMW on the reference slave's system time register so
// every DC slave downstream latches a comparable receive timestamp.
func (m *Master) dcLatch(slaves []*Slave, refPos int) error {
	ref := slaves[refPos]
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 0)
	d := datagram{cmd: cmdFRMW, adp: ref.ConfigAddr, ado: regDCSysTime, data: buf[:]}
	return m.port.Exchange([]datagram{d}, defaultTimeout)
}

// dcPropDelay estimates the cable delay from the reference slave to the
// slave at pos as the difference between the two slaves' port-0
// receive-time registers, clamped to 0. Intervening slaves' registers are
// not read and the difference is not halved. This is a simplified
// single-segment estimate: it assumes a daisy-chain topology without
// branches, which covers the discovery model this package builds
// (ConfigInit walks one ring).
func (m *Master) dcPropDelay(slaves []*Slave, refPos, pos int) (uint32, error) {
	ref := slaves[refPos]
	s := slaves[pos]

	refBuf, _, err := m.fprd(ref.ConfigAddr, regDCRecvTime, 4)
	if err != nil {
		return 0, err
	}
	sBuf, _, err := m.fprd(s.ConfigAddr, regDCRecvTime, 4)
	if err != nil {
		return 0, err
	}
	refTime := binary.LittleEndian.Uint32(refBuf)
	sTime := binary.LittleEndian.Uint32(sBuf)

	delay := sTime - refTime
	if int32(delay) < 0 {
		delay = 0
	}
	return delay, nil
}

// dcWriteDelay writes the measured propagation delay into the slave's
// system time delay register (0x0928).
func (m *Master) dcWriteDelay(s *Slave, delay uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], delay)
	_, err := m.fpwr(s.ConfigAddr, regDCSysDelay, buf[:])
	return err
}

// ConfigSync0 programs a slave's SYNC0 pulse to fire every cycle starting
// at startTime, the last step before switching a DC segment into OP.
func (m *Master) ConfigSync0(s *Slave, cycleTime time.Duration, startTime time.Time) error {
	if !s.HasDC {
		return ErrWrongState
	}
	var cycleBuf [4]byte
	binary.LittleEndian.PutUint32(cycleBuf[:], uint32(cycleTime.Nanoseconds()))
	if _, err := m.fpwr(s.ConfigAddr, regDCSync0Cycle, cycleBuf[:]); err != nil {
		return err
	}

	var startBuf [8]byte
	binary.LittleEndian.PutUint64(startBuf[:], uint64(startTime.UnixNano()))
	if _, err := m.fpwr(s.ConfigAddr, regDCSync0Start, startBuf[:]); err != nil {
		return err
	}

	var actBuf [2]byte
	actBuf[0] = 1 // enable SYNC0 generation
	_, err := m.fpwr(s.ConfigAddr, regDCActivation, actBuf[:])
	return err
}

// ConfigSync01 configures both SYNC0 and SYNC1 pulses: SYNC0 as ConfigSync0
// does, plus a second pulse train offset from it by sync1Shift within each
// cycle, for slaves whose application needs two distinct sync edges (e.g. a
// servo drive latching position on one edge and updating output on the
// other).
func (m *Master) ConfigSync01(s *Slave, cycleTime, sync1Shift time.Duration, startTime time.Time) error {
	if err := m.ConfigSync0(s, cycleTime, startTime); err != nil {
		return err
	}
	var shiftBuf [4]byte
	binary.LittleEndian.PutUint32(shiftBuf[:], uint32(sync1Shift.Nanoseconds()))
	if _, err := m.fpwr(s.ConfigAddr, regDCSync1Cycle, shiftBuf[:]); err != nil {
		return err
	}
	var actBuf [2]byte
	actBuf[0] = 1 | 1<<1 // enable both SYNC0 and SYNC1 generation
	_, err := m.fpwr(s.ConfigAddr, regDCActivation, actBuf[:])
	return err
}
