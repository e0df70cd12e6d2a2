package ethercat

import (
	"encoding/binary"
	"fmt"
)

// SoE opcodes (IEC 61800-7-304 / ETG.1000.6 §5.6.7).
const (
	soeOpReadReq  = 1
	soeOpReadResp = 2
	soeOpWriteReq = 3
	soeOpWriteResp = 4
)

// SoE element flags selecting which part of an IDN a request targets.
const (
	soeElemDataState = 1 << 0
	soeElemName      = 1 << 1
	soeElemAttribute = 1 << 2
	soeElemUnit      = 1 << 3
	soeElemMin       = 1 << 4
	soeElemMax       = 1 << 5
	soeElemValue     = 1 << 6
)

// SoEReadIDN reads one drive parameter (IDN) value from the given servo
// drive number, e.g. drive 0 / IDN 100 for the operation mode.
func (m *Master) SoEReadIDN(ringPos int, driveNo uint8, idn uint16) ([]byte, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return nil, err
	}
	if s.MailboxProtocols&ProtoSoE == 0 {
		return nil, ErrMailboxNotSupp
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	req := make([]byte, 6)
	req[0] = byte(soeOpReadReq) | 1<<3 // opcode + "incomplete" clear, last-segment
	req[1] = driveNo
	binary.LittleEndian.PutUint16(req[2:4], idn&0x7fff)
	binary.LittleEndian.PutUint16(req[4:6], soeElemValue)

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeSoE, counter, req, defaultTimeout)
	if err != nil {
		return nil, err
	}
	return soeExtractValue(reply)
}

// SoEWriteIDN writes one drive parameter value.
func (m *Master) SoEWriteIDN(ringPos int, driveNo uint8, idn uint16, value []byte) error {
	s, err := m.Slave(ringPos)
	if err != nil {
		return err
	}
	if s.MailboxProtocols&ProtoSoE == 0 {
		return ErrMailboxNotSupp
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	req := make([]byte, 6+len(value))
	req[0] = byte(soeOpWriteReq) | 1<<3
	req[1] = driveNo
	binary.LittleEndian.PutUint16(req[2:4], idn&0x7fff)
	binary.LittleEndian.PutUint16(req[4:6], soeElemValue)
	copy(req[6:], value)

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeSoE, counter, req, defaultTimeout)
	if err != nil {
		return err
	}
	if len(reply.data) < 1 || reply.data[0]&0x07 != soeOpWriteResp {
		return fmt.Errorf("ethercat: unexpected SoE write response")
	}
	return nil
}

func soeExtractValue(frame mailboxFrame) ([]byte, error) {
	if len(frame.data) < 6 {
		return nil, fmt.Errorf("ethercat: SoE read reply too short")
	}
	if frame.data[0]&0x07 != soeOpReadResp {
		return nil, fmt.Errorf("ethercat: unexpected SoE read response opcode")
	}
	return append([]byte(nil), frame.data[6:]...), nil
}
