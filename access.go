package ethercat

import (
	"encoding/binary"
	"time"
)

const defaultTimeout = 2000 * time.Millisecond

// fprd reads length bytes from a configured-address slave's register space.
func (m *Master) fprd(configAddr uint16, reg uint16, length int) ([]byte, uint16, error) {
	data := make([]byte, length)
	d := datagram{cmd: cmdFPRD, adp: configAddr, ado: reg, data: data}
	if err := m.port.Exchange([]datagram{d}, defaultTimeout); err != nil {
		return nil, 0, err
	}
	return d.data, d.wkc, nil
}

// fpwr writes data to a configured-address slave's register space.
func (m *Master) fpwr(configAddr uint16, reg uint16, data []byte) (uint16, error) {
	d := datagram{cmd: cmdFPWR, adp: configAddr, ado: reg, data: data}
	if err := m.port.Exchange([]datagram{d}, defaultTimeout); err != nil {
		return 0, err
	}
	return d.wkc, nil
}

// aprd reads from a slave addressed by auto-increment ring position
// (used only during discovery, before ConfigAddr is assigned).
func (m *Master) aprd(ringPos int, reg uint16, length int) ([]byte, uint16, error) {
	data := make([]byte, length)
	d := datagram{cmd: cmdAPRD, adp: autoIncrAddr(ringPos), ado: reg, data: data}
	if err := m.port.Exchange([]datagram{d}, defaultTimeout); err != nil {
		return nil, 0, err
	}
	return d.data, d.wkc, nil
}

// apwr writes to a slave addressed by auto-increment ring position.
func (m *Master) apwr(ringPos int, reg uint16, data []byte) (uint16, error) {
	d := datagram{cmd: cmdAPWR, adp: autoIncrAddr(ringPos), ado: reg, data: data}
	if err := m.port.Exchange([]datagram{d}, defaultTimeout); err != nil {
		return 0, err
	}
	return d.wkc, nil
}

// brd broadcast-reads a register from every slave, ORing their replies
// together; used for the cheap "is anyone not in state X" AL check.
func (m *Master) brd(reg uint16, length int) ([]byte, uint16, error) {
	data := make([]byte, length)
	d := datagram{cmd: cmdBRD, adp: 0, ado: reg, data: data}
	if err := m.port.Exchange([]datagram{d}, defaultTimeout); err != nil {
		return nil, 0, err
	}
	return d.data, d.wkc, nil
}

// bwr broadcast-writes a register to every slave on the segment.
func (m *Master) bwr(reg uint16, data []byte) (uint16, error) {
	d := datagram{cmd: cmdBWR, adp: 0, ado: reg, data: data}
	if err := m.port.Exchange([]datagram{d}, defaultTimeout); err != nil {
		return 0, err
	}
	return d.wkc, nil
}

func (m *Master) readUint16(configAddr uint16, reg uint16) (uint16, uint16, error) {
	data, wkc, err := m.fprd(configAddr, reg, 2)
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint16(data), wkc, nil
}

func (m *Master) writeUint16(configAddr uint16, reg uint16, v uint16) (uint16, error) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return m.fpwr(configAddr, reg, buf[:])
}

func (m *Master) readUint8(configAddr uint16, reg uint16) (uint8, uint16, error) {
	data, wkc, err := m.fprd(configAddr, reg, 1)
	if err != nil {
		return 0, 0, err
	}
	return data[0], wkc, nil
}

func (m *Master) writeUint8(configAddr uint16, reg uint16, v uint8) (uint16, error) {
	return m.fpwr(configAddr, reg, []byte{v})
}
