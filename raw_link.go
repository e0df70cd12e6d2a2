//go:build linux

package ethercat

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// rawLink is a Link backed by a Linux AF_PACKET raw socket, bound to a
// single interface in promiscuous-capable SOCK_RAW mode so the master sees
// every EtherCAT frame regardless of destination MAC. This is the one place
// in the package that talks to the kernel directly, mirroring how the
// teacher's bus_manager.go reaches for golang.org/x/sys/unix around its
// socketcan descriptor instead of hand-rolling syscalls.
type rawLink struct {
	fd    int
	ifidx int
}

// NewRawLink opens a raw socket bound to the named network interface.
func NewRawLink(ifaceName string) (*rawLink, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(etherType))
	if err != nil {
		return nil, fmt.Errorf("ethercat: open raw socket: %w", err)
	}
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ethercat: lookup interface %q: %w", ifaceName, err)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(etherType),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ethercat: bind raw socket to %s: %w", ifaceName, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ethercat: set nonblocking: %w", err)
	}
	return &rawLink{fd: fd, ifidx: iface.Index}, nil
}

func (r *rawLink) Send(frame []byte) error {
	n, err := unix.Write(r.fd, frame)
	if err != nil {
		return fmt.Errorf("ethercat: write raw socket: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("ethercat: short write (%d of %d bytes)", n, len(frame))
	}
	return nil
}

func (r *rawLink) Receive() ([]byte, error) {
	buf := make([]byte, 1536)
	n, _, err := unix.Recvfrom(r.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrNoFrame
		}
		return nil, fmt.Errorf("ethercat: recvfrom: %w", err)
	}
	return buf[:n], nil
}

func (r *rawLink) Close() error {
	return unix.Close(r.fd)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
