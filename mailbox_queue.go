package ethercat

import "sync"

// mailboxGate serializes direct mailbox requests to one slave: a slave's
// SM0/SM1 pair is single-buffered, so two concurrent SDO/FoE/EoE/SoE calls
// to the same slave must queue rather than race on the same mailbox
// registers.
type mailboxGate struct {
	ch chan struct{}
}

// ticketState is where one queued outbound mailbox send sits in its
// lifecycle: requested by a caller, handed to the wire by the cyclic
// handler's outbound pass, and finally either failed or done.
type ticketState int

const (
	ticketNone ticketState = iota
	ticketRequested
	ticketFailed
	ticketDone
)

// mailboxTicket is one slot in a slave's outbound ticket ring: a send
// request queued by MailboxSendAsync, drained by mailboxCyclicTick's
// outbound pass without the caller's goroutine blocking on the wire
// exchange itself.
type mailboxTicket struct {
	slot    int
	state   ticketState
	target  uint16 // slave ConfigAddr
	typ     mbxType
	counter uint8
	payload []byte
	reply   mailboxFrame
	err     error
}

// mailboxQueue owns both the per-slave synchronous gate (used by the direct
// CoE/FoE/EoE/SoE calls in coe.go/foe.go/eoe.go/soe.go) and the outbound
// ticket ring drained by the cyclic mailbox handler.
type mailboxQueue struct {
	mu     sync.Mutex
	gates  map[uint16]*mailboxGate
	ring   map[uint16][]*mailboxTicket
	nextID int
}

func newMailboxQueue() *mailboxQueue {
	return &mailboxQueue{
		gates: make(map[uint16]*mailboxGate),
		ring:  make(map[uint16][]*mailboxTicket),
	}
}

func (q *mailboxQueue) gateFor(configAddr uint16) *mailboxGate {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.gates[configAddr]
	if !ok {
		g = &mailboxGate{ch: make(chan struct{}, 1)}
		g.ch <- struct{}{}
		q.gates[configAddr] = g
	}
	return g
}

// acquire blocks until the slave's mailbox is free for this caller.
func (q *mailboxQueue) acquire(configAddr uint16) {
	<-q.gateFor(configAddr).ch
}

// release returns the slave's mailbox to the queue.
func (q *mailboxQueue) release(configAddr uint16) {
	q.gateFor(configAddr).ch <- struct{}{}
}

// add queues a new outbound ticket for configAddr and returns its slot,
// used by the caller to poll for completion with donePoll.
func (q *mailboxQueue) add(configAddr uint16, typ mbxType, counter uint8, payload []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	t := &mailboxTicket{
		slot:    q.nextID,
		state:   ticketRequested,
		target:  configAddr,
		typ:     typ,
		counter: counter,
		payload: payload,
	}
	q.ring[configAddr] = append(q.ring[configAddr], t)
	return t.slot
}

// pending returns every still-requested ticket for configAddr, in FIFO
// order, for the cyclic handler's outbound pass to drain.
func (q *mailboxQueue) pending(configAddr uint16) []*mailboxTicket {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*mailboxTicket
	for _, t := range q.ring[configAddr] {
		if t.state == ticketRequested {
			out = append(out, t)
		}
	}
	return out
}

// complete marks a ticket done (or failed) with its result, for donePoll to
// pick up; donePoll removes it from the ring.
func (q *mailboxQueue) complete(configAddr uint16, slot int, reply mailboxFrame, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.ring[configAddr] {
		if t.slot == slot {
			t.reply = reply
			t.err = err
			if err != nil {
				t.state = ticketFailed
			} else {
				t.state = ticketDone
			}
			return
		}
	}
}

// donePoll reports whether the ticket at slot has finished, and if so
// removes it from the ring and returns its result.
func (q *mailboxQueue) donePoll(configAddr uint16, slot int) (reply mailboxFrame, err error, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tickets := q.ring[configAddr]
	for i, t := range tickets {
		if t.slot != slot {
			continue
		}
		if t.state != ticketDone && t.state != ticketFailed {
			return mailboxFrame{}, nil, false
		}
		q.ring[configAddr] = append(tickets[:i:i], tickets[i+1:]...)
		return t.reply, t.err, true
	}
	return mailboxFrame{}, nil, true
}

// expire marks every ticket still outstanding for configAddr failed with
// err (the tickets stay in the ring until donePoll collects them): used
// when a slave is declared lost so callers blocked in MailboxPoll don't
// wait forever.
func (q *mailboxQueue) expire(configAddr uint16, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.ring[configAddr] {
		if t.state == ticketRequested {
			t.state = ticketFailed
			t.err = err
		}
	}
}
