package ethercat

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ConfigMapGroup programs every slave's SyncManagers and FMMUs from its
// already-read PDO configuration and lays out the group's logical IO map,
// mirroring SOEM's ecx_config_map_group. ConfigInit must have run first.
func (m *Master) ConfigMapGroup() (*Group, error) {
	m.mu.RLock()
	slaves := m.slaves
	m.mu.RUnlock()
	if !m.configured {
		return nil, ErrNotConfigured
	}

	g := m.group
	g.FirstSlave = 1
	g.LastSlave = len(slaves) - 1

	logAddr := uint32(0)
	for pos := 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil {
			continue
		}
		if m.Quirks.SM2TypeWorkaround {
			log.Debugf("[MAP][x%x] SM2 type workaround: re-reading SII SyncManager category", s.ConfigAddr)
			if err := m.reloadSM2Type(s); err != nil {
				log.Debugf("[MAP][x%x] SM2 workaround reload failed: %v", s.ConfigAddr, err)
			}
		}
		if err := m.programSyncManagers(s); err != nil {
			return nil, fmt.Errorf("ethercat: program sync managers for x%x: %w", s.ConfigAddr, err)
		}
		outBits, inBits := m.mapPDOBits(s)
		s.OutputBits = outBits
		s.InputBits = inBits
	}

	// Outputs first, then inputs, matching SOEM's ecx_config_map_group
	// layout so LWR/LRD segment boundaries line up with SM2/SM3 order.
	outOff := 0
	for pos := 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil || s.OutputBits == 0 {
			continue
		}
		s.OutputOffset = outOff
		if err := m.programOutputFMMU(s, logAddr, outOff); err != nil {
			return nil, fmt.Errorf("ethercat: program output FMMU for x%x: %w", s.ConfigAddr, err)
		}
		bytes := (s.OutputBits + 7) / 8
		outOff += bytes
		logAddr += uint32(bytes)
	}
	g.OutputBytes = outOff

	inOff := outOff
	for pos := 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil || s.InputBits == 0 {
			continue
		}
		s.InputOffset = inOff
		if err := m.programInputFMMU(s, logAddr, inOff-outOff); err != nil {
			return nil, fmt.Errorf("ethercat: program input FMMU for x%x: %w", s.ConfigAddr, err)
		}
		bytes := (s.InputBits + 7) / 8
		inOff += bytes
		logAddr += uint32(bytes)
	}
	g.InputBytes = inOff - outOff

	g.IOMap = make([]byte, g.OutputBytes+g.InputBytes)
	g.OutputsWKC, g.InputsWKC, g.ExpectedWKC = m.computeExpectedWKC(slaves)

	if g.OutputBytes+g.InputBytes > MaxLRWData {
		g.Segments = m.segmentIOMap(g)
	}

	return g, nil
}

// mapPDOBits sums the bit lengths of every entry across a slave's RxPDOs
// (outputs) and TxPDOs (inputs).
func (m *Master) mapPDOBits(s *Slave) (outBits, inBits int) {
	for _, pdo := range s.RxPDOs {
		for _, e := range pdo.Entries {
			outBits += int(e.BitLen)
		}
	}
	for _, pdo := range s.TxPDos {
		for _, e := range pdo.Entries {
			inBits += int(e.BitLen)
		}
	}
	return
}

// reloadSM2Type re-reads the SII SyncManager category once more for
// slaves whose firmware reports a stale SM2 control byte on the first pass
// after power-up (quirks.go).
func (m *Master) reloadSM2Type(s *Slave) error {
	cats, err := m.readSIICategories(s)
	if err != nil {
		return err
	}
	if cat, ok := findCategory(cats, siiCatSyncM); ok {
		sms := parseSyncManagers(cat)
		for i, sm := range sms {
			if i >= MaxSyncManagers {
				break
			}
			s.SyncManagers[i] = sm
		}
	}
	return nil
}

// programSyncManagers writes every slave's SyncManager table from SII to
// registers 0x0800 + n*8.
func (m *Master) programSyncManagers(s *Slave) error {
	for i := 0; i < s.NumSM && i < MaxSyncManagers; i++ {
		sm := s.SyncManagers[i]
		var buf [8]byte
		binary.LittleEndian.PutUint16(buf[0:2], sm.StartAddr)
		binary.LittleEndian.PutUint16(buf[2:4], sm.Length)
		buf[4] = sm.Control
		buf[6] = sm.Enable
		if _, err := m.fpwr(s.ConfigAddr, regSMBase+uint16(i*8), buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// fmmu register layout (ETG.1000.4 §6.5): 16 bytes per FMMU, base 0x0600.
const regFMMUBase = 0x0600

func (m *Master) programOutputFMMU(s *Slave, logAddr uint32, physOffset int) error {
	return m.programFMMU(s, 0, logAddr, s.OutputBits, uint16(physOffset), true, false)
}

func (m *Master) programInputFMMU(s *Slave, logAddr uint32, physOffset int) error {
	return m.programFMMU(s, 1, logAddr, s.InputBits, uint16(physOffset), false, true)
}

func (m *Master) programFMMU(s *Slave, fmmuIdx int, logAddr uint32, bits int, physStart uint16, write, read bool) error {
	if bits == 0 {
		return nil
	}
	f := FMMU{
		LogStart:  logAddr,
		LogLength: uint16((bits + 7) / 8),
		PhysStart: physStart,
		TypeRead:  read,
		TypeWrite: write,
		Active:    true,
	}
	if fmmuIdx < MaxFMMUs {
		s.FMMUs[fmmuIdx] = f
		if fmmuIdx+1 > s.NumFMMU {
			s.NumFMMU = fmmuIdx + 1
		}
	}

	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:4], f.LogStart)
	binary.LittleEndian.PutUint16(buf[4:6], f.LogLength)
	buf[6] = f.LogStartBit
	buf[7] = f.LogStopBit
	binary.LittleEndian.PutUint16(buf[8:10], f.PhysStart)
	buf[10] = f.PhysStartBit
	if write {
		buf[11] = 2
	} else if read {
		buf[11] = 1
	}
	buf[12] = 1 // activate
	_, err := m.fpwr(s.ConfigAddr, regFMMUBase+uint16(fmmuIdx*16), buf[:])
	return err
}

// computeExpectedWKC counts the slaves with outputs mapped and the slaves
// with inputs mapped, then combines them the way the wire protocol actually
// increments the working counter: a logical write (the output half of LRW)
// adds 2 per matching slave, a logical read (the input half) adds 1, so the
// expected total is outputsWKC*2 + inputsWKC, not their plain sum.
func (m *Master) computeExpectedWKC(slaves []*Slave) (outputsWKC, inputsWKC, expected uint16) {
	for pos := 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil {
			continue
		}
		if s.OutputBits > 0 {
			outputsWKC++
		}
		if s.InputBits > 0 {
			inputsWKC++
		}
	}
	expected = outputsWKC*2 + inputsWKC
	return
}

// segmentIOMap splits a group's IO map into MaxLRWData-sized chunks when
// the total exceeds one datagram's payload limit. The first chunk is
// trimmed by FirstDCDatagramReserve regardless of whether ConfigDC has run
// yet, so the cycle's embedded FRMW DC datagram (added once a DC slave is
// found) always has room in the same frame as the first segment.
func (m *Master) segmentIOMap(g *Group) []ioSegment {
	var segs []ioSegment
	total := g.OutputBytes + g.InputBytes
	off := 0
	for off < total {
		limit := MaxLRWData
		if off == 0 {
			limit -= FirstDCDatagramReserve
		}
		l := limit
		if off+l > total {
			l = total - off
		}
		segs = append(segs, ioSegment{
			logicalAddr: uint32(off),
			length:      l,
			isOutput:    off < g.OutputBytes,
			isInput:     off+l > g.OutputBytes,
		})
		off += l
	}
	return segs
}
