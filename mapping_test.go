package ethercat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newMappedTestMaster(t *testing.T) (*Master, *simulatedSlave) {
	t.Helper()
	masterLink, slaveLink := NewLoopbackPair()
	sim := newSimulatedSlaveMapped(slaveLink)
	go sim.run()
	t.Cleanup(sim.close)

	m := NewMaster(masterLink, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m, sim
}

// TestConfigMapGroupExpectedWKC exercises the one-slave, 8/8-bit mapping
// scenario: one output byte and one input byte mapped through a single
// LRW, where a write FMMU match adds 2 to the working counter and a read
// FMMU match adds 1, for an expected total of 3.
func TestConfigMapGroupExpectedWKC(t *testing.T) {
	m, _ := newMappedTestMaster(t)
	_, err := m.ConfigInit()
	require.NoError(t, err)

	g, err := m.ConfigMapGroup()
	require.NoError(t, err)

	require.Equal(t, 1, g.OutputBytes)
	require.Equal(t, 1, g.InputBytes)
	require.Equal(t, uint16(1), g.OutputsWKC)
	require.Equal(t, uint16(1), g.InputsWKC)
	require.Equal(t, uint16(3), g.ExpectedWKC)
}

// TestSendReceiveProcessDataRoundTrip drives one cycle after mapping:
// outputs written by the caller reach the slave's SM2 image, and whatever
// the slave holds in SM3 comes back in the group's input bytes, with the
// embedded FRMW latching a DC timestamp along the way.
func TestSendReceiveProcessDataRoundTrip(t *testing.T) {
	m, sim := newMappedTestMaster(t)
	_, err := m.ConfigInit()
	require.NoError(t, err)
	_, err = m.ConfigMapGroup()
	require.NoError(t, err)
	require.NoError(t, m.ConfigDC())

	g := m.Group()
	g.Outputs()[0] = 0x5a
	sim.mu.Lock()
	sim.inMem[0] = 0xa5
	sim.mu.Unlock()

	err = m.SendReceiveProcessData(defaultTimeout)
	require.NoError(t, err)

	require.Equal(t, byte(0xa5), g.Inputs()[0])
	sim.mu.Lock()
	require.Equal(t, byte(0x5a), sim.outMem[0])
	sim.mu.Unlock()
	require.NotZero(t, m.LastDCTime())
}

// TestSendReceiveProcessDataNoLRWFallback exercises the LRD+LWR software
// fallback and its doubled write-half working counter accounting.
func TestSendReceiveProcessDataNoLRWFallback(t *testing.T) {
	m, sim := newMappedTestMaster(t)
	m.Quirks.NoLRW = true
	_, err := m.ConfigInit()
	require.NoError(t, err)
	_, err = m.ConfigMapGroup()
	require.NoError(t, err)

	g := m.Group()
	g.Outputs()[0] = 0x11
	sim.mu.Lock()
	sim.inMem[0] = 0x22
	sim.mu.Unlock()

	err = m.SendReceiveProcessData(defaultTimeout)
	require.NoError(t, err)

	require.Equal(t, byte(0x22), g.Inputs()[0])
	sim.mu.Lock()
	require.Equal(t, byte(0x11), sim.outMem[0])
	sim.mu.Unlock()
}
