package ethercat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMaster(t *testing.T) (*Master, *simulatedSlave) {
	t.Helper()
	masterLink, slaveLink := NewLoopbackPair()
	sim := newSimulatedSlave(slaveLink)
	go sim.run()
	t.Cleanup(sim.close)

	m := NewMaster(masterLink, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m, sim
}

func TestConfigInitDiscoversSlave(t *testing.T) {
	m, _ := newTestMaster(t)

	count, err := m.ConfigInit()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 1, m.SlaveCount())

	s, err := m.Slave(1)
	require.NoError(t, err)
	require.Equal(t, uint32(0x999), s.VendorID)
	require.Equal(t, uint32(0x1000), s.ProductCode)
	require.Equal(t, uint16(0x1001), s.ConfigAddr)
	require.Equal(t, 0, s.ParentPort)
	require.Equal(t, uint8(0x01), s.ActivePorts)
	require.Equal(t, MailboxProtocol(ProtoCoE|ProtoFoE|ProtoSoE|ProtoEoE), s.MailboxProtocols)
}

func TestRequestStateReachesPreOp(t *testing.T) {
	m, _ := newTestMaster(t)
	_, err := m.ConfigInit()
	require.NoError(t, err)

	err = m.RequestState(StatePreOp)
	require.NoError(t, err)

	state, err := m.ReadState()
	require.NoError(t, err)
	require.Equal(t, StatePreOp, state)
}

func TestSDODownloadUploadRoundTrip(t *testing.T) {
	m, _ := newTestMaster(t)
	_, err := m.ConfigInit()
	require.NoError(t, err)

	want := []byte{0x01, 0x02, 0x03, 0x04}
	err = m.SDODownload(1, 0x1018, 1, want, false)
	require.NoError(t, err)

	got, err := m.SDOUpload(1, 0x1018, 1, false)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestPortExchangeTimesOutWithoutLink(t *testing.T) {
	masterLink, _ := NewLoopbackPair() // slave side never reads/responds
	port := NewPort(masterLink, nil)
	d := datagram{cmd: cmdBRD, data: make([]byte, 1)}
	err := port.Exchange([]datagram{d}, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}
