package ethercat

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// EoE frame types (ETG.1000.6 §5.6.6 table 50).
const (
	eoeTypeFrameFragment = 0
	eoeTypeTimestamp     = 1
	eoeTypeSetIP         = 2
	eoeTypeSetIPResp     = 3
)

const eoeFragmentSize = 1490 - mailboxHeaderLen - 4

// eoeReassembly tracks in-progress fragment reassembly for one slave's EoE
// tunnel, since fragments can arrive interleaved with other unsolicited
// mailbox traffic across multiple mailboxCyclicTick calls.
type eoeReassembly struct {
	mu      sync.Mutex
	buf     []byte
	nextNo  uint8
	started bool
}

// eoeState holds every piece of per-slave EoE state a Master tracks:
// reassembly buffers, the reassembled-frame inbox consumed by EoERecv, and
// the IP configuration last pushed by EoESetIP. It is owned one-per-Master
// (Master.eoe) rather than package-global, so two Masters with overlapping
// ConfigAddrs never share state.
type eoeState struct {
	reassemblyMu sync.Mutex
	reassembly   map[uint16]*eoeReassembly

	inboxMu sync.Mutex
	inbox   map[uint16]chan []byte

	ipMu  sync.Mutex
	ipCfg map[uint16]EoEIPConfig
}

func newEoEState() *eoeState {
	return &eoeState{
		reassembly: make(map[uint16]*eoeReassembly),
		inbox:      make(map[uint16]chan []byte),
		ipCfg:      make(map[uint16]EoEIPConfig),
	}
}

func (e *eoeState) reassemblyFor(configAddr uint16) *eoeReassembly {
	e.reassemblyMu.Lock()
	defer e.reassemblyMu.Unlock()
	r, ok := e.reassembly[configAddr]
	if !ok {
		r = &eoeReassembly{}
		e.reassembly[configAddr] = r
	}
	return r
}

func (e *eoeState) inboxFor(configAddr uint16) chan []byte {
	e.inboxMu.Lock()
	defer e.inboxMu.Unlock()
	ch, ok := e.inbox[configAddr]
	if !ok {
		ch = make(chan []byte, 16)
		e.inbox[configAddr] = ch
	}
	return ch
}

func (e *eoeState) setIP(configAddr uint16, cfg EoEIPConfig) {
	e.ipMu.Lock()
	defer e.ipMu.Unlock()
	e.ipCfg[configAddr] = cfg
}

func (e *eoeState) getIP(configAddr uint16) (EoEIPConfig, bool) {
	e.ipMu.Lock()
	defer e.ipMu.Unlock()
	cfg, ok := e.ipCfg[configAddr]
	return cfg, ok
}

// EoESendFrame tunnels one Ethernet frame to the slave, fragmenting it into
// eoeFragmentSize chunks if it doesn't fit in a single mailbox payload.
func (m *Master) EoESendFrame(ringPos int, frame []byte) error {
	s, err := m.Slave(ringPos)
	if err != nil {
		return err
	}
	if s.MailboxProtocols&ProtoEoE == 0 {
		return ErrMailboxNotSupp
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	fragNo := uint8(0)
	for off := 0; off < len(frame); {
		n := eoeFragmentSize
		last := false
		if off+n >= len(frame) {
			n = len(frame) - off
			last = true
		}
		pkt := make([]byte, 4+n)
		header := uint16(eoeTypeFrameFragment)
		header |= uint16(fragNo&0x3f) << 8
		if last {
			header |= 1 << 14 // last fragment marker
		}
		binary.LittleEndian.PutUint16(pkt[0:2], header)
		binary.LittleEndian.PutUint16(pkt[2:4], uint16(off/32))
		copy(pkt[4:], frame[off:off+n])

		counter := m.counterFor(s.ConfigAddr).nextCounter()
		if err := m.mailboxSend(s, mbxTypeEoE, counter, pkt); err != nil {
			return err
		}
		off += n
		fragNo++
	}
	return nil
}

// handleUnsolicitedEoE reassembles incoming EoE fragments and delivers a
// completed frame to the registered handler, if any: this package tunnels
// Ethernet frames, it doesn't terminate a TCP/IP stack itself.
func (m *Master) handleUnsolicitedEoE(s *Slave, frame mailboxFrame) {
	if len(frame.data) < 4 {
		return
	}
	header := binary.LittleEndian.Uint16(frame.data[0:2])
	typ := header & 0x0f
	if typ != eoeTypeFrameFragment {
		log.Debugf("[EOE][x%x] dropped non-fragment EoE frame type %d", s.ConfigAddr, typ)
		return
	}
	last := header&(1<<14) != 0

	r := m.eoe.reassemblyFor(s.ConfigAddr)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, frame.data[4:]...)
	if last {
		log.Debugf("[EOE][x%x] reassembled %d byte frame", s.ConfigAddr, len(r.buf))
		m.deliverEoEFrame(s, r.buf)
		r.buf = nil
	}
}

// eoeFrameHandler, if set, receives fully reassembled EoE frames instead of
// just being logged; exposed so callers that do wire up an IP stack (or a
// pcap dump) can hook in without this package depending on one.
type eoeFrameHandler func(ringPos int, frame []byte)

func (m *Master) deliverEoEFrame(s *Slave, frame []byte) {
	m.mu.RLock()
	handler := m.onEoEFrame
	m.mu.RUnlock()
	if handler != nil {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		handler(int(s.RingPos), cp)
	}

	select {
	case m.eoe.inboxFor(s.ConfigAddr) <- append([]byte(nil), frame...):
	default:
		log.Debugf("[EOE][x%x] inbox full, dropping frame for EoERecv", s.ConfigAddr)
	}
}

// SetEoEFrameHandler registers a callback invoked with every fully
// reassembled EoE frame received from any slave.
func (m *Master) SetEoEFrameHandler(h func(ringPos int, frame []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEoEFrame = h
}

// EoERecv blocks until a reassembled EoE frame for the given slave arrives
// or timeout elapses. Something must be driving the mailbox poll for
// frames to arrive at all: StartCyclic's background loop, or repeated
// manual MbxHandler calls.
func (m *Master) EoERecv(ringPos int, timeout time.Duration) ([]byte, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return nil, err
	}
	select {
	case frame := <-m.eoe.inboxFor(s.ConfigAddr):
		return frame, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// EoEReadFragment reads one EoE mailbox message without reassembling it,
// for callers that want fragment-level control instead of the whole-frame
// reassembly handleUnsolicitedEoE performs automatically.
func (m *Master) EoEReadFragment(ringPos int, timeout time.Duration) (data []byte, last bool, err error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return nil, false, err
	}
	frame, err := m.mailboxReceive(s, timeout)
	if err != nil {
		return nil, false, err
	}
	if frame.typ != mbxTypeEoE || len(frame.data) < 4 {
		return nil, false, fmt.Errorf("ethercat: expected EoE fragment, got mailbox type %d", frame.typ)
	}
	header := binary.LittleEndian.Uint16(frame.data[0:2])
	last = header&(1<<14) != 0
	return frame.data[4:], last, nil
}

// EoEIPConfig carries the IP parameters set on a slave's EoE endpoint
// (ETG.1000.6 §5.6.6.3's "Set IP parameter" fields).
type EoEIPConfig struct {
	IP      net.IP
	Netmask net.IP
	Gateway net.IP
	DNS     net.IP
	DNSName string
}

// EoESetIP sends an EoE "Set IP parameter" request to the slave's embedded
// switch and waits for the response.
func (m *Master) EoESetIP(ringPos int, cfg EoEIPConfig) error {
	s, err := m.Slave(ringPos)
	if err != nil {
		return err
	}
	if s.MailboxProtocols&ProtoEoE == 0 {
		return ErrMailboxNotSupp
	}

	pkt := make([]byte, 4+4*4+32)
	binary.LittleEndian.PutUint16(pkt[0:2], eoeTypeSetIP)
	putIPv4(pkt[4:8], cfg.IP)
	putIPv4(pkt[8:12], cfg.Netmask)
	putIPv4(pkt[12:16], cfg.Gateway)
	putIPv4(pkt[16:20], cfg.DNS)
	copy(pkt[20:], cfg.DNSName)

	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeEoE, counter, pkt, defaultTimeout)
	if err != nil {
		return err
	}
	if len(reply.data) < 2 || binary.LittleEndian.Uint16(reply.data[0:2])&0x0f != eoeTypeSetIPResp {
		return fmt.Errorf("ethercat: unexpected EoE set-IP reply from slave x%x", s.ConfigAddr)
	}

	m.eoe.setIP(s.ConfigAddr, cfg)
	return nil
}

// EoEGetIP returns the IP configuration last applied via EoESetIP.
func (m *Master) EoEGetIP(ringPos int) (EoEIPConfig, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return EoEIPConfig{}, err
	}
	cfg, ok := m.eoe.getIP(s.ConfigAddr)
	if !ok {
		return EoEIPConfig{}, fmt.Errorf("ethercat: no IP configured for slave x%x", s.ConfigAddr)
	}
	return cfg, nil
}

func putIPv4(dst []byte, ip net.IP) {
	v4 := ip.To4()
	if v4 == nil {
		return
	}
	copy(dst, v4)
}
