package ethercat

import (
	"encoding/binary"
	"fmt"
)

// SDO Information opcodes (ETG.1000.6 §5.6.4 table 46).
const (
	sdoInfoOpListReq    = 0x01
	sdoInfoOpListResp   = 0x02
	sdoInfoOpObjReq     = 0x03
	sdoInfoOpObjResp    = 0x04
	sdoInfoOpEntryReq   = 0x05
	sdoInfoOpEntryResp  = 0x06
	sdoInfoOpErrorResp  = 0x07
)

// ObjectDescription is one entry returned by SDOInfoObjectDescription.
type ObjectDescription struct {
	Index    uint16
	DataType uint16
	MaxSub   uint8
	ObjCode  uint8
	Name     string
}

// EntryDescription is one subindex's metadata returned by
// SDOInfoEntryDescription.
type EntryDescription struct {
	DataType  uint16
	BitLength uint16
	Access    uint16
	Name      string
}

// SDOInfoObjectList retrieves every object index present in a slave's
// object dictionary via the CoE SDO Information service, reassembling a
// fragmented reply the same way segmented SDO upload reassembles: each
// reply frame may carry only part of the list with "more follows" set.
func (m *Master) SDOInfoObjectList(ringPos int) ([]uint16, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return nil, err
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	req := make([]byte, 4)
	req[0] = coeHeaderByte(coeServiceSDOInfo) | sdoInfoOpListReq<<4
	binary.LittleEndian.PutUint16(req[2:4], 1) // list type 1: all objects

	var indices []uint16
	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeCoE, counter, req, defaultTimeout)
	if err != nil {
		return nil, err
	}
	for {
		if err := checkSDOInfoOp(reply, sdoInfoOpListResp); err != nil {
			return nil, err
		}
		payload := reply.data[4:]
		for off := 0; off+2 <= len(payload); off += 2 {
			indices = append(indices, binary.LittleEndian.Uint16(payload[off:off+2]))
		}
		if reply.data[1]&0x80 == 0 { // fragments-left bit clear
			break
		}
		counter = m.counterFor(s.ConfigAddr).nextCounter()
		reply, err = m.mailboxExchange(s, mbxTypeCoE, counter, nil, defaultTimeout)
		if err != nil {
			return nil, err
		}
	}
	return indices, nil
}

// SDOInfoObjectDescription fetches the name/datatype/object-code metadata
// for one index.
func (m *Master) SDOInfoObjectDescription(ringPos int, index uint16) (ObjectDescription, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return ObjectDescription{}, err
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	req := make([]byte, 6)
	req[0] = coeHeaderByte(coeServiceSDOInfo) | sdoInfoOpObjReq<<4
	binary.LittleEndian.PutUint16(req[2:4], index)

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeCoE, counter, req, defaultTimeout)
	if err != nil {
		return ObjectDescription{}, err
	}
	if err := checkSDOInfoOp(reply, sdoInfoOpObjResp); err != nil {
		return ObjectDescription{}, err
	}
	payload := reply.data[4:]
	if len(payload) < 6 {
		return ObjectDescription{}, fmt.Errorf("ethercat: object description reply too short")
	}
	desc := ObjectDescription{
		Index:    binary.LittleEndian.Uint16(payload[0:2]),
		DataType: binary.LittleEndian.Uint16(payload[2:4]),
		MaxSub:   payload[4],
		ObjCode:  payload[5],
	}
	if len(payload) > 6 {
		desc.Name = string(payload[6:])
	}
	return desc, nil
}

// SDOInfoEntryDescription fetches one subindex's metadata.
func (m *Master) SDOInfoEntryDescription(ringPos int, index uint16, subindex uint8) (EntryDescription, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return EntryDescription{}, err
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	req := make([]byte, 8)
	req[0] = coeHeaderByte(coeServiceSDOInfo) | sdoInfoOpEntryReq<<4
	binary.LittleEndian.PutUint16(req[2:4], index)
	req[4] = subindex
	req[5] = 1 // value info: name only

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeCoE, counter, req, defaultTimeout)
	if err != nil {
		return EntryDescription{}, err
	}
	if err := checkSDOInfoOp(reply, sdoInfoOpEntryResp); err != nil {
		return EntryDescription{}, err
	}
	payload := reply.data[4:]
	if len(payload) < 8 {
		return EntryDescription{}, fmt.Errorf("ethercat: entry description reply too short")
	}
	entry := EntryDescription{
		DataType:  binary.LittleEndian.Uint16(payload[3:5]),
		BitLength: binary.LittleEndian.Uint16(payload[5:7]),
		Access:    binary.LittleEndian.Uint16(payload[7:9]),
	}
	if len(payload) > 9 {
		entry.Name = string(payload[9:])
	}
	return entry, nil
}

func checkSDOInfoOp(frame mailboxFrame, wantOp byte) error {
	if len(frame.data) < 4 {
		return fmt.Errorf("ethercat: SDO info reply too short")
	}
	op := (frame.data[0] >> 4) & 0x7f
	if op == sdoInfoOpErrorResp {
		if len(frame.data) < 8 {
			return fmt.Errorf("ethercat: SDO info error reply too short")
		}
		code := binary.LittleEndian.Uint32(frame.data[4:8])
		return SDOAbortCode(code)
	}
	if op != wantOp {
		return fmt.Errorf("ethercat: unexpected SDO info opcode x%x, expected x%x", op, wantOp)
	}
	return nil
}
