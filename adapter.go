package ethercat

import "net"

// AdapterInfo describes one network interface usable as an EtherCAT link,
// mirroring SOEM's ec_adaptert (name + description) without the linked-list
// allocation: oshw_find_adapters/oshw_free_adapters walk the OS's adapter
// list and build one node per NIC, which net.Interfaces already returns as a
// slice, so no wrapped OSAL is needed here (byte order and sleep get the
// same treatment elsewhere for the same reason).
type AdapterInfo struct {
	Name         string // OS interface name, e.g. "eth0", passed to NewRawLink
	Description  string
	HardwareAddr string
}

// Adapters lists network interfaces that are up and carry a hardware
// address, i.e. plausible EtherCAT links. Loopback interfaces are excluded
// since EtherCAT runs over raw Ethernet frames.
func Adapters() ([]AdapterInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []AdapterInfo
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ifi.Flags&net.FlagUp == 0 {
			continue
		}
		if len(ifi.HardwareAddr) == 0 {
			continue
		}
		out = append(out, AdapterInfo{
			Name:         ifi.Name,
			Description:  ifi.Flags.String(),
			HardwareAddr: ifi.HardwareAddr.String(),
		})
	}
	return out, nil
}

// Adapters is a convenience wrapper so callers already holding a Master
// don't need a separate import of this package's free function.
func (m *Master) Adapters() ([]AdapterInfo, error) {
	return Adapters()
}
