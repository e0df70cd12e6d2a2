package ethercat

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// CoE service codes (ETG.1000.6 §5.6.3 table 42), packed into the first
// byte of a CoE mailbox payload's SDO header alongside the number-of-data
// and command-specifier fields.
type coeService uint8

const (
	coeServiceEmergency   coeService = 1
	coeServiceSDORequest  coeService = 2
	coeServiceSDOResponse coeService = 3
	coeServiceTxPDO       coeService = 4
	coeServiceRxPDO       coeService = 5
	coeServiceSDOInfo     coeService = 8
)

// SDO command specifiers (CiA 301 / ETG.1000.6 table 43).
const (
	sdoCcsDownloadSegment = 0
	sdoCcsInitDownload    = 1
	sdoCcsInitUpload      = 2
	sdoCcsUploadSegment   = 3
	sdoCcsAbort           = 4

	sdoScsUploadSegment   = 0
	sdoScsDownloadSegment = 1
	sdoScsInitUpload      = 2
	sdoScsInitDownload    = 3
)

// coeHeaderByte returns the service byte of the 2-byte CoE-specific header:
// service(4bit)+reserved.
func coeHeaderByte(svc coeService) byte {
	return byte(svc) & 0x0f
}

// mbxCounterState is a free-running 1..7 counter per slave, EtherCAT mailbox
// counters wrap within that range and 0 is reserved for "don't care".
type mbxCounterState struct {
	next uint8
}

func (c *mbxCounterState) nextCounter() uint8 {
	c.next++
	if c.next == 0 || c.next > 7 {
		c.next = 1
	}
	return c.next
}

// SDODownload writes data to index:subindex on the given slave, using
// expedited transfer for payloads of 4 bytes or less and segmented
// transfer otherwise.
func (m *Master) SDODownload(ringPos int, index uint16, subindex uint8, data []byte, complete bool) error {
	s, err := m.Slave(ringPos)
	if err != nil {
		return err
	}
	if s.MailboxProtocols&ProtoCoE == 0 {
		return ErrMailboxNotSupp
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	if len(data) <= 4 {
		return m.sdoDownloadExpedited(s, index, subindex, data)
	}
	return m.sdoDownloadSegmented(s, index, subindex, data)
}

func (m *Master) sdoDownloadExpedited(s *Slave, index uint16, subindex uint8, data []byte) error {
	buf := make([]byte, 10)
	buf[0] = coeHeaderByte(coeServiceSDORequest)
	sizeIndicated := 1
	expedited := 1
	dataSetSize := 4 - len(data)
	ccs := byte(sdoCcsInitDownload)
	buf[2] = ccs<<5 | byte(expedited)<<1 | byte(sizeIndicated) | byte(dataSetSize)<<2
	binary.LittleEndian.PutUint16(buf[3:5], index)
	buf[5] = subindex
	copy(buf[6:10], data)

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeCoE, counter, buf, defaultTimeout)
	if err != nil {
		return err
	}
	return checkSDOResponse(reply, sdoScsInitDownload, index, subindex)
}

func (m *Master) sdoDownloadSegmented(s *Slave, index uint16, subindex uint8, data []byte) error {
	header := make([]byte, 10)
	header[0] = coeHeaderByte(coeServiceSDORequest)
	header[2] = byte(sdoCcsInitDownload) << 5 // size indicated, not expedited
	header[2] |= 1
	binary.LittleEndian.PutUint16(header[3:5], index)
	header[5] = subindex
	binary.LittleEndian.PutUint32(header[6:10], uint32(len(data)))

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeCoE, counter, header, defaultTimeout)
	if err != nil {
		return err
	}
	if err := checkSDOResponse(reply, sdoScsInitDownload, index, subindex); err != nil {
		return err
	}

	toggle := byte(0)
	off := 0
	for off < len(data) {
		chunkLen := 7
		last := false
		if off+chunkLen >= len(data) {
			chunkLen = len(data) - off
			last = true
		}
		seg := make([]byte, 1+7)
		cs := byte(sdoCcsDownloadSegment) << 5
		cs |= toggle << 4
		if last {
			cs |= 1
		}
		cs |= byte(7-chunkLen) << 1
		seg[0] = cs
		copy(seg[1:1+chunkLen], data[off:off+chunkLen])

		counter = m.counterFor(s.ConfigAddr).nextCounter()
		reply, err = m.mailboxExchange(s, mbxTypeCoE, counter, seg, defaultTimeout)
		if err != nil {
			return err
		}
		if len(reply.data) < 1 || reply.data[0]>>5 != sdoScsDownloadSegment {
			return fmt.Errorf("ethercat: unexpected SDO segment ack")
		}
		toggle ^= 1
		off += chunkLen
	}
	return nil
}

// SDOUpload reads index:subindex from the given slave, handling both
// expedited and segmented replies transparently.
func (m *Master) SDOUpload(ringPos int, index uint16, subindex uint8, complete bool) ([]byte, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return nil, err
	}
	if s.MailboxProtocols&ProtoCoE == 0 {
		return nil, ErrMailboxNotSupp
	}
	m.mbxQueue.acquire(s.ConfigAddr)
	defer m.mbxQueue.release(s.ConfigAddr)

	buf := make([]byte, 8)
	buf[0] = coeHeaderByte(coeServiceSDORequest)
	buf[2] = byte(sdoCcsInitUpload) << 5
	binary.LittleEndian.PutUint16(buf[3:5], index)
	buf[5] = subindex

	counter := m.counterFor(s.ConfigAddr).nextCounter()
	reply, err := m.mailboxExchange(s, mbxTypeCoE, counter, buf, defaultTimeout)
	if err != nil {
		return nil, err
	}
	if len(reply.data) < 4 {
		return nil, fmt.Errorf("ethercat: SDO upload reply too short")
	}
	scs := reply.data[0] >> 5
	if scs != sdoScsInitUpload {
		return nil, fmt.Errorf("ethercat: unexpected SDO upload response cs=%d", scs)
	}
	if err := checkSDOResponse(reply, sdoScsInitUpload, index, subindex); err != nil {
		return nil, err
	}

	expedited := reply.data[0]&0x02 != 0
	sizeIndicated := reply.data[0]&0x01 != 0
	if expedited {
		n := 4
		if sizeIndicated {
			n = 4 - int((reply.data[0]>>2)&0x3)
		}
		return append([]byte(nil), reply.data[4:4+n]...), nil
	}

	totalLen := binary.LittleEndian.Uint32(reply.data[4:8])
	out := make([]byte, 0, totalLen)
	toggle := byte(0)
	for uint32(len(out)) < totalLen {
		seg := make([]byte, 1)
		seg[0] = byte(sdoCcsUploadSegment)<<5 | toggle<<4

		counter = m.counterFor(s.ConfigAddr).nextCounter()
		reply, err = m.mailboxExchange(s, mbxTypeCoE, counter, seg, defaultTimeout)
		if err != nil {
			return nil, err
		}
		if len(reply.data) < 1 {
			return nil, fmt.Errorf("ethercat: SDO upload segment reply too short")
		}
		last := reply.data[0]&0x01 != 0
		notFull := (reply.data[0] >> 1) & 0x7
		segLen := 7 - int(notFull)
		if len(reply.data) < 1+segLen {
			segLen = len(reply.data) - 1
		}
		out = append(out, reply.data[1:1+segLen]...)
		toggle ^= 1
		if last {
			break
		}
	}
	return out, nil
}

func checkSDOResponse(frame mailboxFrame, wantSCS byte, index uint16, subindex uint8) error {
	if len(frame.data) < 4 {
		return fmt.Errorf("ethercat: SDO response too short")
	}
	cs := frame.data[0] >> 5
	if cs == 4 { // abort
		if len(frame.data) < 8 {
			return fmt.Errorf("ethercat: SDO abort response too short")
		}
		code := SDOAbortCode(binary.LittleEndian.Uint32(frame.data[4:8]))
		return code
	}
	gotIndex := binary.LittleEndian.Uint16(frame.data[1:3])
	gotSub := frame.data[3]
	if gotIndex != index || gotSub != subindex {
		return fmt.Errorf("ethercat: SDO response for x%x:%d, expected x%x:%d", gotIndex, gotSub, index, subindex)
	}
	return nil
}

// handleUnsolicitedCoE dispatches an unsolicited CoE mailbox frame (an
// emergency message, since SDO traffic is always request/response driven
// by the master and never arrives outside a pending mailboxExchange).
func (m *Master) handleUnsolicitedCoE(s *Slave, frame mailboxFrame) {
	if len(frame.data) < 8 {
		return
	}
	svc := frame.data[0] & 0x0f
	if coeService(svc) != coeServiceEmergency {
		return
	}
	errCode := binary.LittleEndian.Uint16(frame.data[2:4])
	errReg := frame.data[4]
	m.PushError(ErrorRecord{Slave: s.ConfigAddr, Kind: ErrorKindEmergency, Code: uint32(errCode)})
	log.Debugf("[COE][x%x] emergency code=x%x register=x%x", s.ConfigAddr, errCode, errReg)
}
