package ethercat

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ConfigInit detects every slave on the segment, assigns each a fixed
// configured station address (0x1000+ring position, mirroring SOEM's
// ecx_config_init), and reads its SII identity and DL-status derived
// topology. It must be called before ConfigMapGroup or any mailbox/state
// operation.
func (m *Master) ConfigInit() (int, error) {
	count, err := m.broadcastDetect()
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if count > MaxSlaves {
		return 0, fmt.Errorf("ethercat: %d slaves exceeds MaxSlaves (%d)", count, MaxSlaves)
	}

	slaves := make([]*Slave, count+1) // 1-based ring positions
	for pos := 1; pos <= count; pos++ {
		s := &Slave{RingPos: uint16(pos)}
		if err := m.setAddress(pos, s); err != nil {
			return 0, fmt.Errorf("ethercat: configure station address for ring pos %d: %w", pos, err)
		}
		if err := m.forceState(s, StateInit); err != nil {
			return 0, fmt.Errorf("ethercat: force INIT for ring pos %d: %w", pos, err)
		}
		if err := m.readSIIConfiguration(s); err != nil {
			return 0, fmt.Errorf("ethercat: read SII for ring pos %d: %w", pos, err)
		}
		s.HasDC = m.probeDC(s)
		if err := m.readTopology(s); err != nil {
			return 0, fmt.Errorf("ethercat: read DL status for ring pos %d: %w", pos, err)
		}
		slaves[pos] = s
		log.Debugf("[DISCOVERY][x%x] vendor=x%x product=x%x name=%q dc=%v ports=x%x", s.ConfigAddr, s.VendorID, s.ProductCode, s.Name, s.HasDC, s.ActivePorts)
	}

	deriveTopology(slaves)

	m.mu.Lock()
	m.slaves = slaves
	m.configured = true
	m.mu.Unlock()
	return count, nil
}

// broadcastDetect issues a BRD to register 0x0000 and returns the working
// counter, which equals the number of slaves that answered (every slave
// increments the wkc on a successful broadcast read, SOEM's
// "BRD to get slavecount" trick).
func (m *Master) broadcastDetect() (int, error) {
	_, wkc, err := m.brd(regType, 1)
	if err != nil && err != ErrTimeout {
		return 0, err
	}
	return int(wkc), nil
}

// setAddress assigns s.ConfigAddr = 0x1000+ring position via APWR to the
// slave's auto-increment address, and records it on the register so later
// FPRD/FPWR calls use the fixed address.
func (m *Master) setAddress(ringPos int, s *Slave) error {
	addr := uint16(0x1000 + ringPos)
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], addr)
	wkc, err := m.apwr(ringPos, regStationAddr, buf[:])
	if err != nil {
		return err
	}
	if wkc == 0 {
		return ErrSlaveLost
	}
	s.ConfigAddr = addr
	return nil
}

// probeDC reads the DC receive-time register to check whether the ESC
// implements Distributed Clock; SOEM does the same liveness probe by
// reading 0x0910 and checking the reply actually came back with a wkc.
func (m *Master) probeDC(s *Slave) bool {
	_, wkc, err := m.fprd(s.ConfigAddr, regDCRecvTime, 4)
	return err == nil && wkc > 0
}

// readTopology reads the slave's DL-status register and derives its
// active-port bitmap and port count (1=leaf, 2=inline, 3=branch, 4=cross).
// ParentPort is filled in afterwards by deriveTopology, once every slave's
// port count is known.
func (m *Master) readTopology(s *Slave) error {
	status, wkc, err := m.readUint16(s.ConfigAddr, regDLStatus)
	if err != nil {
		return err
	}
	if wkc == 0 {
		return ErrSlaveLost
	}
	s.ActivePorts = portActiveBitmap(status)
	s.topology = topologyCount(s.ActivePorts)
	return nil
}

// portActiveBitmap extracts the 4 two-bit port-status fields packed into a
// DL-status word, setting bit k when port k's field reads 0b10 ("carrier
// detected, link up").
func portActiveBitmap(dlStatus uint16) uint8 {
	var bitmap uint8
	for k := uint(0); k < 4; k++ {
		if (dlStatus>>(k*2))&0x3 == 0x2 {
			bitmap |= 1 << k
		}
	}
	return bitmap
}

// topologyCount maps an active-port bitmap to a port count in 1..4: a
// slave always has at least its upstream port, so an empty reading still
// counts as a leaf rather than zero ports.
func topologyCount(bitmap uint8) int {
	n := 0
	for k := uint(0); k < 4; k++ {
		if bitmap&(1<<k) != 0 {
			n++
		}
	}
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

// deriveTopology assigns every slave's ParentPort by walking backward from
// its ring position and maintaining a split counter over the port counts
// already assigned to earlier slaves: a branch (topology 3) opens one net
// extra downstream port beyond the one consumed reaching it, a cross
// (topology 4) opens two, and a leaf (topology 1) consumes one without
// opening any. The first ancestor where the counter is non-negative and
// which itself isn't a leaf is the parent; slave 1's parent is the master
// (ParentPort 0).
func deriveTopology(slaves []*Slave) {
	for pos := 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil {
			continue
		}
		if pos == 1 {
			s.ParentPort = 0
			continue
		}
		split := 0
		parent := 0
		for prev := pos - 1; prev >= 1; prev-- {
			p := slaves[prev]
			if p == nil {
				continue
			}
			switch p.topology {
			case 3:
				split++
			case 4:
				split += 2
			case 1:
				split--
			}
			if split >= 0 && p.topology > 1 {
				parent = prev
				break
			}
		}
		s.ParentPort = parent
	}
}
