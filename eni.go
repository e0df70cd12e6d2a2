package ethercat

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/ini.v1"
)

// ENI is the parsed EtherCAT Network Information configuration: the static
// description of which slaves should be on the segment and how their
// process data should be mapped, normally generated by engineering
// tooling ahead of time. Loading one is ini.v1-backed, since ENI's vendor
// variants are commonly distributed as ini-style text.
type ENI struct {
	Slaves []ENISlave
}

// ENISlave describes one expected slave entry in the ENI file.
type ENISlave struct {
	Name        string
	VendorID    uint32
	ProductCode uint32
	RingPos     int
	RxPDOIndex  uint16
	TxPDOIndex  uint16
}

// ParseENIFile loads and parses an ENI file from disk.
func ParseENIFile(path string) (*ENI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ethercat: open ENI file: %w", err)
	}
	defer f.Close()
	return ParseENI(f)
}

// ParseENI parses ENI content from r.
func ParseENI(r io.Reader) (*ENI, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ethercat: read ENI content: %w", err)
	}
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("ethercat: parse ENI: %w", err)
	}

	eni := &ENI{}
	for _, sec := range cfg.Sections() {
		if !isSlaveSection(sec.Name()) {
			continue
		}
		s := ENISlave{Name: sec.Name()}
		s.VendorID = uint32(sec.Key("VendorId").MustUint64(0))
		s.ProductCode = uint32(sec.Key("ProductCode").MustUint64(0))
		s.RingPos = sec.Key("RingPos").MustInt(0)
		s.RxPDOIndex = uint16(sec.Key("RxPdoIndex").MustUint64(0))
		s.TxPDOIndex = uint16(sec.Key("TxPdoIndex").MustUint64(0))
		eni.Slaves = append(eni.Slaves, s)
	}
	return eni, nil
}

func isSlaveSection(name string) bool {
	return len(name) > 6 && name[:6] == "Slave_"
}

// Verify checks that the discovered slaves on m match the ENI's expected
// vendor/product codes in ring-position order, the pre-OP sanity check
// tooling normally runs before trusting ConfigMapGroup's layout against a
// previously generated ENI.
func (eni *ENI) Verify(m *Master) error {
	for _, want := range eni.Slaves {
		s, err := m.Slave(want.RingPos)
		if err != nil {
			return fmt.Errorf("ethercat: ENI expects slave %q at ring pos %d, none found: %w", want.Name, want.RingPos, err)
		}
		if s.VendorID != want.VendorID || s.ProductCode != want.ProductCode {
			return fmt.Errorf("ethercat: ring pos %d is vendor x%x product x%x, ENI expects vendor x%x product x%x",
				want.RingPos, s.VendorID, s.ProductCode, want.VendorID, want.ProductCode)
		}
	}
	return nil
}
