package ethercat

import (
	"encoding/binary"
	"fmt"
	"time"
)

// SII word addresses for the fixed category (ETG.1000.6 §3.2 table 16).
// Addresses are 2-byte word offsets.
const (
	siiWordPDIControl  = 0x0000
	siiWordConfigAlias = 0x0004
	siiWordVendorID    = 0x0008 // 2 words (32 bit)
	siiWordProductCode = 0x000a // 2 words
	siiWordRevisionNo  = 0x000c // 2 words
	siiWordSerialNo    = 0x000e // 2 words
	siiWordMbxOutStart = 0x0018
	siiWordMbxOutLen   = 0x0019
	siiWordMbxInStart  = 0x001a
	siiWordMbxInLen    = 0x001b
	siiWordMbxProtocol = 0x001c
	siiWordSize        = 0x003e
	siiWordCatStart    = 0x0040
)

// SII category types (ETG.1000.6 §3.2 table 17).
const (
	siiCatStrings = 10
	siiCatGeneral = 30
	siiCatFMMU    = 40
	siiCatSyncM   = 41
	siiCatTxPDO   = 50
	siiCatRxPDO   = 51
	siiCatEnd     = 0xffff
)

// readSIIWords reads count 2-byte SII words starting at wordAddr through
// the slave's SII control/address/data registers (ETG.1000.4 §6.4.3), one
// 4-byte control-read per two words, and returns them concatenated.
func (m *Master) readSIIWords(s *Slave, wordAddr uint16, count int) ([]byte, error) {
	out := make([]byte, 0, count*2)
	for len(out) < count*2 {
		quad, err := m.readSIIQuad(s, wordAddr+uint16(len(out)/2))
		if err != nil {
			return nil, err
		}
		out = append(out, quad[:]...)
	}
	return out[:count*2], nil
}

// readSIIQuad issues one SII control-read and returns the 4 raw bytes the
// ESC returns, covering the word at wordAddr and the one after it.
func (m *Master) readSIIQuad(s *Slave, wordAddr uint16) ([4]byte, error) {
	var out [4]byte

	if _, err := m.writeUint16(s.ConfigAddr, regSIIControl, 0); err != nil {
		return out, err
	}

	var addrBuf [4]byte
	binary.LittleEndian.PutUint32(addrBuf[:], uint32(wordAddr))
	if _, err := m.fpwr(s.ConfigAddr, regSIIAddress, addrBuf[:]); err != nil {
		return out, err
	}
	if _, err := m.writeUint16(s.ConfigAddr, regSIIControl, siiCtrlRead); err != nil {
		return out, err
	}

	deadline := time.Now().Add(10 * time.Millisecond)
	for {
		ctrl, _, err := m.readUint16(s.ConfigAddr, regSIIControl)
		if err != nil {
			return out, err
		}
		if ctrl&siiCtrlBusy == 0 {
			break
		}
		if time.Now().After(deadline) {
			return out, fmt.Errorf("ethercat: SII read busy timeout at word x%x", wordAddr)
		}
		time.Sleep(100 * time.Microsecond)
	}

	data, _, err := m.fprd(s.ConfigAddr, regSIIData, 4)
	if err != nil {
		return out, err
	}
	copy(out[:], data)
	return out, nil
}

// writeSIIWord writes one 2-byte SII word through the control/address/data
// register dance, the write-side counterpart of readSIIQuad. EEPROM writes
// are rare (configuration tooling, not the cyclic path) so this pays the
// same busy-poll cost as a read without trying to batch words.
func (m *Master) writeSIIWord(s *Slave, wordAddr uint16, value uint16) error {
	if _, err := m.writeUint16(s.ConfigAddr, regSIIControl, 0); err != nil {
		return err
	}

	var addrBuf [4]byte
	binary.LittleEndian.PutUint32(addrBuf[:], uint32(wordAddr))
	if _, err := m.fpwr(s.ConfigAddr, regSIIAddress, addrBuf[:]); err != nil {
		return err
	}

	var dataBuf [4]byte
	binary.LittleEndian.PutUint16(dataBuf[:2], value)
	if _, err := m.fpwr(s.ConfigAddr, regSIIData, dataBuf[:]); err != nil {
		return err
	}
	if _, err := m.writeUint16(s.ConfigAddr, regSIIControl, siiCtrlWrite); err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Millisecond)
	for {
		ctrl, _, err := m.readUint16(s.ConfigAddr, regSIIControl)
		if err != nil {
			return err
		}
		if ctrl&siiCtrlBusy == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ethercat: SII write busy timeout at word x%x", wordAddr)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// EEPROMRead reads byteLen bytes from a slave's SII EEPROM starting at
// byteAddr, rounding up to whole words.
func (m *Master) EEPROMRead(ringPos int, byteAddr uint16, byteLen int) ([]byte, error) {
	s, err := m.Slave(ringPos)
	if err != nil {
		return nil, err
	}
	wordAddr := byteAddr / 2
	words := (byteLen + 1 + int(byteAddr%2)) / 2
	buf, err := m.readSIIWords(s, wordAddr, words)
	if err != nil {
		return nil, err
	}
	start := int(byteAddr % 2)
	return buf[start : start+byteLen], nil
}

// EEPROMWrite writes data to a slave's SII EEPROM starting at byteAddr.
// byteAddr and len(data) must both be even: the ESC's SII interface only
// writes whole words.
func (m *Master) EEPROMWrite(ringPos int, byteAddr uint16, data []byte) error {
	if byteAddr%2 != 0 || len(data)%2 != 0 {
		return ErrIllegalArgument
	}
	s, err := m.Slave(ringPos)
	if err != nil {
		return err
	}
	wordAddr := byteAddr / 2
	for i := 0; i < len(data); i += 2 {
		value := binary.LittleEndian.Uint16(data[i : i+2])
		if err := m.writeSIIWord(s, wordAddr+uint16(i/2), value); err != nil {
			return fmt.Errorf("ethercat: EEPROM write at word x%x: %w", wordAddr+uint16(i/2), err)
		}
	}
	return nil
}

func (m *Master) readSIIWord(s *Slave, wordAddr uint16) (uint16, error) {
	buf, err := m.readSIIWords(s, wordAddr, 1)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (m *Master) readSIIUint32(s *Slave, wordAddr uint16) (uint32, error) {
	buf, err := m.readSIIWords(s, wordAddr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// readSIIIdentity populates the fixed-category identity and mailbox fields
// of s from SII, the bare minimum needed before mailbox/mapping can run.
func (m *Master) readSIIIdentity(s *Slave) error {
	var err error
	if s.VendorID, err = m.readSIIUint32(s, siiWordVendorID); err != nil {
		return fmt.Errorf("ethercat: read SII vendor id: %w", err)
	}
	if s.ProductCode, err = m.readSIIUint32(s, siiWordProductCode); err != nil {
		return fmt.Errorf("ethercat: read SII product code: %w", err)
	}
	if s.RevisionNo, err = m.readSIIUint32(s, siiWordRevisionNo); err != nil {
		return fmt.Errorf("ethercat: read SII revision: %w", err)
	}
	if s.SerialNo, err = m.readSIIUint32(s, siiWordSerialNo); err != nil {
		return fmt.Errorf("ethercat: read SII serial: %w", err)
	}
	if s.AliasAddr, err = m.readSIIWord(s, siiWordConfigAlias); err != nil {
		return fmt.Errorf("ethercat: read SII alias: %w", err)
	}

	mbx, err := m.readSIIWords(s, siiWordMbxOutStart, 5)
	if err != nil {
		return fmt.Errorf("ethercat: read SII mailbox config: %w", err)
	}
	s.MailboxOutStart = binary.LittleEndian.Uint16(mbx[0:2])
	s.MailboxOutLength = binary.LittleEndian.Uint16(mbx[2:4])
	s.MailboxInStart = binary.LittleEndian.Uint16(mbx[4:6])
	s.MailboxInLength = binary.LittleEndian.Uint16(mbx[6:8])
	s.MailboxProtocols = MailboxProtocol(binary.LittleEndian.Uint16(mbx[8:10]))
	return nil
}
