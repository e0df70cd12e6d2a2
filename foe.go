package ethercat

import (
	"encoding/binary"
	"fmt"
)

// FoE opcodes (ETG.1000.6 §5.6.5 table 48).
const (
	foeOpRRQ   = 1 // read request
	foeOpWRQ   = 2 // write request
	foeOpData  = 3
	foeOpAck   = 4
	foeOpError = 5
)

const foeDataChunk = 512

// FoEUpload requests fileName from the slave and returns its full content,
// acknowledging each received data packet in turn.
func (m *Master) FoEUpload(ringPos int, fileName string) ([]byte, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return nil, err
	}
	if s.MailboxProtocols&ProtoFoE == 0 {
		return nil, ErrMailboxNotSupp
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	req := make([]byte, 6+len(fileName))
	binary.LittleEndian.PutUint16(req[0:2], uint16(foeOpRRQ))
	binary.LittleEndian.PutUint32(req[2:6], 0) // password
	copy(req[6:], fileName)

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeFoE, counter, req, defaultTimeout)
	if err != nil {
		return nil, err
	}

	var out []byte
	for {
		if err := foeCheckError(reply); err != nil {
			return nil, err
		}
		if len(reply.data) < 6 || binary.LittleEndian.Uint16(reply.data[0:2]) != foeOpData {
			return nil, fmt.Errorf("ethercat: expected FoE data packet")
		}
		gotPacketNo := binary.LittleEndian.Uint32(reply.data[2:6])
		payload := reply.data[6:]
		out = append(out, payload...)

		ack := make([]byte, 6)
		binary.LittleEndian.PutUint16(ack[0:2], uint16(foeOpAck))
		binary.LittleEndian.PutUint32(ack[2:6], gotPacketNo)

		last := len(payload) < foeDataChunk
		counter = m.counterFor(s.ConfigAddr).nextCounter()
		if last {
			if err := m.mailboxSend(s, mbxTypeFoE, counter, ack); err != nil {
				return nil, err
			}
			break
		}
		reply, err = m.mailboxExchange(s, mbxTypeFoE, counter, ack, defaultTimeout)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FoEDownload writes data to fileName on the slave, chunked into
// foeDataChunk-byte packets, each acknowledged before the next is sent.
func (m *Master) FoEDownload(ringPos int, fileName string, data []byte) error {
	s, err := m.Slave(ringPos)
	if err != nil {
		return err
	}
	if s.MailboxProtocols&ProtoFoE == 0 {
		return ErrMailboxNotSupp
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	req := make([]byte, 6+len(fileName))
	binary.LittleEndian.PutUint16(req[0:2], uint16(foeOpWRQ))
	binary.LittleEndian.PutUint32(req[2:6], 0)
	copy(req[6:], fileName)

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeFoE, counter, req, defaultTimeout)
	if err != nil {
		return err
	}
	if err := foeCheckError(reply); err != nil {
		return err
	}
	if len(reply.data) < 6 || binary.LittleEndian.Uint16(reply.data[0:2]) != foeOpAck {
		return fmt.Errorf("ethercat: expected FoE ack for write request")
	}

	packetNo := uint32(1)
	for off := 0; ; {
		chunk := foeDataChunk
		if off+chunk > len(data) {
			chunk = len(data) - off
		}
		pkt := make([]byte, 6+chunk)
		binary.LittleEndian.PutUint16(pkt[0:2], uint16(foeOpData))
		binary.LittleEndian.PutUint32(pkt[2:6], packetNo)
		copy(pkt[6:], data[off:off+chunk])

		counter = m.counterFor(s.ConfigAddr).nextCounter()
		reply, err = m.mailboxExchange(s, mbxTypeFoE, counter, pkt, defaultTimeout)
		if err != nil {
			return err
		}
		if err := foeCheckError(reply); err != nil {
			return err
		}
		off += chunk
		packetNo++
		if chunk < foeDataChunk || off >= len(data) {
			break
		}
	}
	return nil
}

func foeCheckError(frame mailboxFrame) error {
	if len(frame.data) < 2 {
		return fmt.Errorf("ethercat: FoE reply too short")
	}
	if binary.LittleEndian.Uint16(frame.data[0:2]) == foeOpError {
		if len(frame.data) < 6 {
			return fmt.Errorf("ethercat: FoE error reply too short")
		}
		code := binary.LittleEndian.Uint32(frame.data[2:6])
		return fmt.Errorf("ethercat: FoE error code x%x", code)
	}
	return nil
}
