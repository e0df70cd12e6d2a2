package ethercat

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// mailboxHeaderLen is the fixed 6-byte mailbox header prepended to every
// CoE/FoE/EoE/SoE frame (ETG.1000.4 §5.6): length(2) address(2)
// channel+priority(1) type(4 bits)+counter(3 bits)+reserved(1 bit).
const mailboxHeaderLen = 6

// Mailbox protocol type field values (ETG.1000.6 §5.6.1).
type mbxType uint8

const (
	mbxTypeError mbxType = 0x00
	mbxTypeAoE   mbxType = 0x01
	mbxTypeEoE   mbxType = 0x02
	mbxTypeCoE   mbxType = 0x03
	mbxTypeFoE   mbxType = 0x04
	mbxTypeSoE   mbxType = 0x05
	mbxTypeVoE   mbxType = 0x0f
)

// mailboxFrame is one parsed mailbox message.
type mailboxFrame struct {
	address uint16
	typ     mbxType
	counter uint8
	data    []byte
}

func putMailboxHeader(buf []byte, length int, address uint16, typ mbxType, counter uint8) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(length))
	binary.LittleEndian.PutUint16(buf[2:4], address)
	buf[4] = 0 // priority, unused
	buf[5] = byte(typ) | (counter&0x7)<<4
}

func parseMailboxHeader(buf []byte) (length int, address uint16, typ mbxType, counter uint8) {
	length = int(binary.LittleEndian.Uint16(buf[0:2]))
	address = binary.LittleEndian.Uint16(buf[2:4])
	typ = mbxType(buf[5] & 0x0f)
	counter = (buf[5] >> 4) & 0x7
	return
}

// mailboxSend writes one outgoing mailbox frame to the slave's SM0 (output)
// mailbox with a single FPWR and returns once that write reports a nonzero
// working counter. The SM0 "full" bit is not polled, neither before the
// write nor after it.
func (m *Master) mailboxSend(s *Slave, typ mbxType, counter uint8, payload []byte) error {
	if s.MailboxOutLength == 0 {
		return ErrMailboxNotSupp
	}
	total := mailboxHeaderLen + len(payload)
	if total > int(s.MailboxOutLength) {
		return fmt.Errorf("ethercat: mailbox payload %d exceeds SM0 length %d", total, s.MailboxOutLength)
	}

	// Framing is built in a pooled scratch buffer rather than a fresh
	// allocation per call: the frame is copied out to the wire by fpwr
	// before this function returns, so the buffer can go straight back to
	// the pool instead of outliving this call.
	pooled, err := m.mbxPool.get()
	if err != nil {
		return err
	}
	defer m.mbxPool.put(pooled)

	buf := pooled.data[:total]
	putMailboxHeader(buf, len(payload), 0, typ, counter)
	copy(buf[mailboxHeaderLen:], payload)

	wkc, err := m.fpwr(s.ConfigAddr, s.MailboxOutStart, buf)
	if err != nil {
		return err
	}
	if wkc == 0 {
		return ErrSlaveLost
	}
	return nil
}

// mailboxReceive polls the slave's SM1 (input) mailbox until it has data
// ready (SM1 status "full" bit), or timeout elapses, and returns the
// parsed frame.
func (m *Master) mailboxReceive(s *Slave, timeout time.Duration) (mailboxFrame, error) {
	if s.MailboxInLength == 0 {
		return mailboxFrame{}, ErrMailboxNotSupp
	}
	deadline := time.Now().Add(timeout)
	for {
		status, _, err := m.readUint16(s.ConfigAddr, regSMBase+1*8+6)
		if err != nil {
			return mailboxFrame{}, err
		}
		if status&smStatusMailboxFull != 0 {
			break
		}
		if time.Now().After(deadline) {
			return mailboxFrame{}, ErrTimeout
		}
		time.Sleep(200 * time.Microsecond)
	}

	buf, wkc, err := m.fprd(s.ConfigAddr, s.MailboxInStart, int(s.MailboxInLength))
	if err != nil {
		return mailboxFrame{}, err
	}
	if wkc == 0 {
		return mailboxFrame{}, ErrSlaveLost
	}
	if len(buf) < mailboxHeaderLen {
		return mailboxFrame{}, fmt.Errorf("ethercat: mailbox reply shorter than header")
	}
	length, address, typ, counter := parseMailboxHeader(buf)
	if mailboxHeaderLen+length > len(buf) {
		length = len(buf) - mailboxHeaderLen
	}
	frame := mailboxFrame{address: address, typ: typ, counter: counter, data: buf[mailboxHeaderLen : mailboxHeaderLen+length]}

	if typ == mbxTypeError && len(frame.data) >= 4 {
		code := binary.LittleEndian.Uint16(frame.data[2:4])
		m.PushError(ErrorRecord{Slave: s.ConfigAddr, Kind: ErrorKindMailbox, Code: uint32(code)})
		log.Debugf("[MBX][x%x] mailbox error code x%x", s.ConfigAddr, code)
		return frame, fmt.Errorf("ethercat: slave x%x mailbox error x%x", s.ConfigAddr, code)
	}
	return frame, nil
}

// mailboxExchange sends a request and waits for the matching reply,
// retrying the send once on a repeat-timeout (ETG.1000.4's mailbox
// resend/"robust mailbox" rule): if SM0 is still full when the master
// wants to send again, it repeats the exact same frame with the same
// counter rather than skipping ahead, since the slave may not have
// consumed the previous attempt yet.
func (m *Master) mailboxExchange(s *Slave, typ mbxType, counter uint8, payload []byte, timeout time.Duration) (mailboxFrame, error) {
	if err := m.mailboxSend(s, typ, counter, payload); err != nil {
		return mailboxFrame{}, err
	}
	frame, err := m.mailboxReceive(s, timeout)
	if err == ErrTimeout {
		log.Debugf("[MBX][x%x] reply timeout, repeating request counter=%d", s.ConfigAddr, counter)
		if err2 := m.mailboxSend(s, typ, counter, payload); err2 != nil {
			return mailboxFrame{}, err2
		}
		return m.mailboxReceive(s, timeout)
	}
	return frame, err
}
