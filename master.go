package ethercat

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Quirks toggles opt-in workarounds for known slave-firmware deviations
// from standard ESC behavior, see quirks.go.
type Quirks struct {
	// SM2TypeWorkaround re-reads SM2 type from SII rather than trusting
	// the value already cached, for slaves whose firmware reports a stale
	// SyncManager type on the first read after power-up. Off by default:
	// it costs one extra SII round trip per slave during mapping and only
	// a minority of firmware actually needs it.
	SM2TypeWorkaround bool

	// NoLRW forces every process-data cycle to use an LRD followed by an
	// LWR instead of a combined LRW, for ESCs whose logical address
	// decoder can't service a read and a write in the same pass. Off by
	// default: it costs a second datagram, and doubles the working
	// counter bookkeeping, every cycle.
	NoLRW bool
}

// Master is the root handle for one EtherCAT segment: discovery, mapping,
// state control, mailbox protocols, and the cyclic process-data exchange
// all hang off it. It mirrors SOEM's ecx_context in being the one struct
// every other file's methods are declared against.
type Master struct {
	port *Port
	clock Clock

	mu     sync.RWMutex
	slaves []*Slave // index 0 unused, ring positions are 1-based per SOEM convention
	group  *Group

	mbxPool  *mailboxPool
	mbxQueue *mailboxQueue
	errRing  *errorRing

	// mbxCounters tracks the free-running 1..7 mailbox counter per slave
	// (coe.go's mbxCounterState), scoped to this Master instance rather
	// than process-global so two Masters with overlapping ConfigAddrs
	// (e.g. two independent test segments in one process) never share
	// state.
	mbxCountersMu sync.Mutex
	mbxCounters   map[uint16]*mbxCounterState

	// eoe tracks per-slave EoE reassembly/inbox/IP-config state, scoped to
	// this Master instance for the same reason as mbxCounters.
	eoe *eoeState

	Quirks Quirks

	onEoEFrame eoeFrameHandler

	configured bool

	// lastDCTime is the reference slave's system time latched by the most
	// recent process-data cycle's embedded FRMW (processdata.go).
	lastDCTime uint64

	stopCh      chan struct{}
	mbxStopCh   chan struct{}
	wg          sync.WaitGroup
}

// NewMaster creates a Master driving the given Link. The Link is typically
// a rawLink for production use or a LoopbackLink in tests.
func NewMaster(link Link, clock Clock) *Master {
	if clock == nil {
		clock = SystemClock
	}
	m := &Master{
		port:        NewPort(link, clock),
		clock:       clock,
		mbxPool:     newMailboxPool(MailboxPoolSize),
		mbxQueue:    newMailboxQueue(),
		errRing:     newErrorRing(MaxErrorList),
		group:       newGroup(0),
		mbxCounters: make(map[uint16]*mbxCounterState),
		eoe:         newEoEState(),
	}
	return m
}

// NewMasterRedundant creates a Master driving a RedundantLink built from
// the given primary and secondary links, for segments wired with a cable
// redundancy loop.
func NewMasterRedundant(primary, secondary Link, clock Clock) *Master {
	return NewMaster(&RedundantLink{Primary: primary, Secondary: secondary}, clock)
}

// MbxHandler runs one pass of the cyclic mailbox handler (inbound
// unsolicited drain plus outbound ticket-queue drain) against every
// configured slave. Start's mailbox goroutine calls this on its own
// schedule; callers driving their own loop instead of Start can call it
// directly from any cooperative thread.
func (m *Master) MbxHandler() {
	m.mailboxCyclicTick()
}

// Close releases the underlying link and stops any background loops
// started by Start/StartCyclic.
func (m *Master) Close() error {
	m.StopCyclic()
	return m.port.Close()
}

// counterFor returns this Master's mailbox counter state for a slave,
// creating it on first use. Scoped to the Master instance rather than
// process-global so two Masters sharing a ConfigAddr space (e.g. two
// independent test segments) never corrupt each other's counters.
func (m *Master) counterFor(configAddr uint16) *mbxCounterState {
	m.mbxCountersMu.Lock()
	defer m.mbxCountersMu.Unlock()
	c, ok := m.mbxCounters[configAddr]
	if !ok {
		c = &mbxCounterState{}
		m.mbxCounters[configAddr] = c
	}
	return c
}

// SlaveCount returns the number of slaves found by the last ConfigInit.
func (m *Master) SlaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slaves) - 1
}

// Slave returns the slave at the given 1-based ring position.
func (m *Master) Slave(ringPos int) (*Slave, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ringPos < 1 || ringPos >= len(m.slaves) {
		return nil, fmt.Errorf("ethercat: no slave at ring position %d", ringPos)
	}
	return m.slaves[ringPos], nil
}

// Group returns the master's single IO group (MaxGroups is pinned to 1).
func (m *Master) Group() *Group {
	return m.group
}

// PushError records an error on the bounded error ring, dropping the
// oldest entry if full, mirroring SOEM's ecx_context.elist behavior.
func (m *Master) PushError(rec ErrorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errRing.push(rec)
	log.WithFields(log.Fields{"kind": rec.Kind, "slave": rec.Slave}).Debugf("%s", rec.Error())
}

// PopError returns and removes the oldest queued error, if any.
func (m *Master) PopError() (ErrorRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errRing.pop()
}

// IsError reports whether any error is queued.
func (m *Master) IsError() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errRing.isError()
}

// Start launches two independent background goroutines: one real-time loop
// running the cyclic process-data engine at period, and one cooperative
// loop running the mailbox handler at mbxPeriod. They never share work: the
// process-data loop only ever calls SendReceiveProcessData, so a slow or
// recovering mailbox never stalls a cycle. Both stop when StopCyclic is
// called.
func (m *Master) Start(period, mbxPeriod time.Duration) error {
	if !m.configured {
		return ErrNotConfigured
	}
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return fmt.Errorf("ethercat: cyclic loop already running")
	}
	m.stopCh = make(chan struct{})
	m.mbxStopCh = make(chan struct{})
	stop := m.stopCh
	mbxStop := m.mbxStopCh
	m.mu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.SendReceiveProcessData(defaultTimeout); err != nil {
					log.Debugf("[CYCLIC] process data exchange failed: %v", err)
				}
			}
		}
	}()
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(mbxPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-mbxStop:
				return
			case <-ticker.C:
				m.mailboxCyclicTick()
			}
		}
	}()
	return nil
}

// StartCyclic is Start with the same period driving both the process-data
// and mailbox loops, kept for callers that don't need to decouple the two
// schedules.
func (m *Master) StartCyclic(period time.Duration) error {
	return m.Start(period, period)
}

// StopCyclic stops the background loops started by Start/StartCyclic, if
// running.
func (m *Master) StopCyclic() {
	m.mu.Lock()
	stop := m.stopCh
	mbxStop := m.mbxStopCh
	m.stopCh = nil
	m.mbxStopCh = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if mbxStop != nil {
		close(mbxStop)
	}
	if stop != nil || mbxStop != nil {
		m.wg.Wait()
	}
}
