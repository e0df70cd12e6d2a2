package ethercat

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// mailboxCyclicTick is called once per tick by Start's mailbox goroutine (or
// by direct MbxHandler calls). It runs an inbound pass, draining unsolicited
// traffic and recovering lost mailbox reads via the robust-mailbox
// repeat-request handshake, then an outbound pass, draining every slave's
// queued async ticket. Neither pass blocks the separate process-data loop:
// they run on their own goroutine entirely.
func (m *Master) mailboxCyclicTick() {
	m.mu.RLock()
	slaves := m.slaves
	m.mu.RUnlock()

	for pos := 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil || s.MailboxInLength == 0 {
			continue
		}
		m.mailboxInboundPass(s)
		m.mailboxOutboundPass(s)
	}
}

// mailboxInboundPass checks SM1 for unsolicited data and dispatches it. If
// the slave is mid-recovery from a previously lost mailbox read (
// s.mbxRecovery), it instead runs the toggle-repeat handshake to force the
// ESC to re-latch its last mailbox content before retrying the read.
func (m *Master) mailboxInboundPass(s *Slave) {
	if s.mbxRecovery {
		if err := m.mailboxRepeatRequest(s); err != nil {
			log.Debugf("[MBX][x%x] repeat-request recovery failed: %v", s.ConfigAddr, err)
			return
		}
		s.mbxRecovery = false
	}

	status, _, err := m.readUint16(s.ConfigAddr, regSMBase+1*8+6)
	if err != nil || status&smStatusMailboxFull == 0 {
		return
	}
	frame, err := m.mailboxReceive(s, 50*time.Millisecond)
	if err != nil {
		if err == ErrSlaveLost {
			s.mbxRecovery = true
			m.mbxQueue.expire(s.ConfigAddr, ErrSlaveLost)
		}
		return
	}
	m.handleUnsolicited(s, frame)
}

// mailboxRepeatRequest toggles SM1's repeat-request control bit and waits
// for the slave's ESC to mirror it back in the status word's ack bit,
// confirming it re-latched the mailbox content a prior read lost in
// transit (ETG.1000.4 §5.6.2's "robust mailbox" protocol).
func (m *Master) mailboxRepeatRequest(s *Slave) error {
	ctrl, _, err := m.readUint8(s.ConfigAddr, regSMBase+1*8+4)
	if err != nil {
		return err
	}
	toggled := ctrl ^ smControlRepeatReq
	if _, err := m.writeUint8(s.ConfigAddr, regSMBase+1*8+4, toggled); err != nil {
		return err
	}

	deadline := time.Now().Add(50 * time.Millisecond)
	for {
		status, _, err := m.readUint16(s.ConfigAddr, regSMBase+1*8+6)
		if err != nil {
			return err
		}
		gotAck := status&smStatusRepeatAck != 0
		wantAck := toggled&smControlRepeatReq != 0
		if gotAck == wantAck {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(200 * time.Microsecond)
	}
}

// mailboxOutboundPass drains every ticket MailboxSendAsync queued for s,
// running the exchange on the cyclic handler's own goroutine so the caller
// that queued it never blocks on the wire.
func (m *Master) mailboxOutboundPass(s *Slave) {
	for _, t := range m.mbxQueue.pending(s.ConfigAddr) {
		m.mbxQueue.acquire(s.ConfigAddr)
		reply, err := m.mailboxExchange(s, t.typ, t.counter, t.payload, defaultTimeout)
		m.mbxQueue.release(s.ConfigAddr)
		m.mbxQueue.complete(s.ConfigAddr, t.slot, reply, err)
	}
}

// handleUnsolicited dispatches an unsolicited mailbox frame (one the cyclic
// poll picked up rather than a blocking request waiting on it) by protocol.
func (m *Master) handleUnsolicited(s *Slave, frame mailboxFrame) {
	switch frame.typ {
	case mbxTypeCoE:
		m.handleUnsolicitedCoE(s, frame)
	case mbxTypeEoE:
		m.handleUnsolicitedEoE(s, frame)
	default:
		log.Debugf("[MBX][x%x] dropped unsolicited %v frame", s.ConfigAddr, frame.typ)
	}
}
