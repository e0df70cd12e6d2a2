package ethercat

import (
	"encoding/binary"
	"fmt"
)

// siiCategory is one parsed SII category header plus its raw word payload.
type siiCategory struct {
	typ     uint16
	payload []byte // bytes, not words
}

// readSIICategories walks the variable-length category list starting at
// siiWordCatStart until it hits the End category or runs past MaxEEPROMBuf.
func (m *Master) readSIICategories(s *Slave) ([]siiCategory, error) {
	var cats []siiCategory
	addr := uint16(siiWordCatStart)
	for {
		header, err := m.readSIIWords(s, addr, 2)
		if err != nil {
			return nil, fmt.Errorf("ethercat: read SII category header at x%x: %w", addr, err)
		}
		typ := binary.LittleEndian.Uint16(header[0:2])
		wordLen := binary.LittleEndian.Uint16(header[2:4])
		if typ == siiCatEnd {
			break
		}
		payload, err := m.readSIIWords(s, addr+2, int(wordLen))
		if err != nil {
			return nil, fmt.Errorf("ethercat: read SII category x%x payload: %w", typ, err)
		}
		cats = append(cats, siiCategory{typ: typ, payload: payload})
		addr += 2 + wordLen
		if int(addr) >= MaxEEPROMBuf/2 {
			return nil, fmt.Errorf("ethercat: SII category list exceeds EEPROM cache")
		}
	}
	return cats, nil
}

// findCategory returns the first category of the given type, if present.
func findCategory(cats []siiCategory, typ uint16) (siiCategory, bool) {
	for _, c := range cats {
		if c.typ == typ {
			return c, true
		}
	}
	return siiCategory{}, false
}

// parseStrings parses the Strings category (ETG.1000.6 §3.2.6): a count
// byte followed by that many Pascal-style (length-prefixed) strings.
func parseStrings(cat siiCategory) []string {
	if len(cat.payload) == 0 {
		return nil
	}
	n := int(cat.payload[0])
	strs := make([]string, 0, n)
	off := 1
	for i := 0; i < n && off < len(cat.payload); i++ {
		l := int(cat.payload[off])
		off++
		if off+l > len(cat.payload) {
			break
		}
		strs = append(strs, string(cat.payload[off:off+l]))
		off += l
	}
	return strs
}

// parseGeneral extracts the device name string index from the General
// category (ETG.1000.6 §3.2.7), so the caller can resolve it against the
// Strings category.
func parseGeneral(cat siiCategory) (nameStringIdx int, ok bool) {
	if len(cat.payload) < 2 {
		return 0, false
	}
	return int(cat.payload[0]), true
}

// applyStringName resolves s.Name from the General/Strings categories,
// falling back to a synthesized "Vendor:Product" name if absent.
func (s *Slave) applyStringName(cats []siiCategory) {
	gen, hasGen := findCategory(cats, siiCatGeneral)
	strCat, hasStr := findCategory(cats, siiCatStrings)
	if hasGen && hasStr {
		if idx, ok := parseGeneral(gen); ok {
			names := parseStrings(strCat)
			if idx >= 1 && idx <= len(names) {
				s.Name = names[idx-1]
				return
			}
		}
	}
	s.Name = fmt.Sprintf("x%08x:x%08x", s.VendorID, s.ProductCode)
	if len(s.Name) > MaxName {
		s.Name = s.Name[:MaxName]
	}
}

// parseSyncManagers parses the SyncM category (ETG.1000.6 §3.2.9): a
// sequence of fixed 8-byte entries.
func parseSyncManagers(cat siiCategory) []SyncManager {
	const entryLen = 8
	var sms []SyncManager
	for off := 0; off+entryLen <= len(cat.payload); off += entryLen {
		e := cat.payload[off : off+entryLen]
		sms = append(sms, SyncManager{
			StartAddr: binary.LittleEndian.Uint16(e[0:2]),
			Length:    binary.LittleEndian.Uint16(e[2:4]),
			Control:   e[4],
			Enable:    e[6],
		})
	}
	return sms
}

// pdoSIIEntry mirrors one raw PDO category entry before resolving names.
type pdoSIIEntry struct {
	index    uint16
	subindex uint8
	bitLen   uint8
}

// parsePDOCategory parses an RxPDO or TxPDO category (ETG.1000.6
// §3.2.11/§3.2.12): a PDO header (index, n-entries, sync manager, name
// string idx, ...) followed by n fixed 8-byte entries.
func parsePDOCategory(cat siiCategory) []PDO {
	const headerLen = 8
	const entryLen = 8
	var pdos []PDO
	off := 0
	for off+headerLen <= len(cat.payload) {
		h := cat.payload[off : off+headerLen]
		index := binary.LittleEndian.Uint16(h[0:2])
		nEntries := int(h[2])
		smIndex := int(h[3])
		off += headerLen

		pdo := PDO{Index: index, SMIndex: smIndex}
		for i := 0; i < nEntries && off+entryLen <= len(cat.payload); i++ {
			e := cat.payload[off : off+entryLen]
			pdo.Entries = append(pdo.Entries, PDOEntry{
				Index:    binary.LittleEndian.Uint16(e[0:2]),
				Subindex: e[2],
				BitLen:   e[5],
			})
			off += entryLen
		}
		pdos = append(pdos, pdo)
	}
	return pdos
}

// readSIIConfiguration fully populates a slave's identity, name, sync
// manager and PDO tables from SII, called once per slave during
// ConfigInit.
func (m *Master) readSIIConfiguration(s *Slave) error {
	if err := m.readSIIIdentity(s); err != nil {
		return err
	}
	cats, err := m.readSIICategories(s)
	if err != nil {
		return err
	}
	s.applyStringName(cats)

	if smCat, ok := findCategory(cats, siiCatSyncM); ok {
		sms := parseSyncManagers(smCat)
		s.NumSM = len(sms)
		for i, sm := range sms {
			if i >= MaxSyncManagers {
				break
			}
			s.SyncManagers[i] = sm
		}
	}
	if rx, ok := findCategory(cats, siiCatRxPDO); ok {
		s.RxPDOs = parsePDOCategory(rx)
	}
	if tx, ok := findCategory(cats, siiCatTxPDO); ok {
		s.TxPDos = parsePDOCategory(tx)
	}
	return nil
}
