package ethercat

import (
	"time"
)

// MailboxSendAsync queues a mailbox send on the slave's outbound ticket
// ring and returns immediately with a ticket slot for MailboxPoll, instead
// of blocking the calling goroutine on the wire exchange the way
// mailboxExchange does. The cyclic mailbox handler's outbound pass is what
// actually drives the exchange, on its own goroutine.
func (m *Master) MailboxSendAsync(ringPos int, typ mbxType, payload []byte) (int, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return 0, err
	}
	counter := m.counterFor(s.ConfigAddr).nextCounter()
	slot := m.mbxQueue.add(s.ConfigAddr, typ, counter, payload)
	return slot, nil
}

// MailboxPoll blocks until the ticket from MailboxSendAsync completes or
// timeout elapses, returning the reply frame the outbound pass received.
func (m *Master) MailboxPoll(ringPos int, slot int, timeout time.Duration) (mailboxFrame, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return mailboxFrame{}, err
	}
	deadline := time.Now().Add(timeout)
	for {
		reply, err, done := m.mbxQueue.donePoll(s.ConfigAddr, slot)
		if done {
			return reply, err
		}
		if time.Now().After(deadline) {
			return mailboxFrame{}, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}
