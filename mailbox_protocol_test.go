package ethercat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFoEUploadDownloadRoundTrip(t *testing.T) {
	m, _ := newTestMaster(t)
	_, err := m.ConfigInit()
	require.NoError(t, err)

	got, err := m.FoEUpload(1, "test.bin")
	require.NoError(t, err)
	require.Equal(t, []byte("simulated file contents"), got)

	err = m.FoEDownload(1, "test.bin", []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
}

func TestSoEReadWriteIDN(t *testing.T) {
	m, _ := newTestMaster(t)
	_, err := m.ConfigInit()
	require.NoError(t, err)

	val, err := m.SoEReadIDN(1, 0, 100)
	require.NoError(t, err)
	require.Equal(t, []byte{0x2a, 0x2a}, val)

	err = m.SoEWriteIDN(1, 0, 100, []byte{0x01, 0x00})
	require.NoError(t, err)
}

// TestEoESendRecvRoundTrip exercises EoESendFrame's fragmenting send and
// EoERecv's reassembly path: the simulated slave echoes whatever fragment
// it receives back as an unsolicited frame, which MbxHandler's inbound pass
// picks up and hands to the registered EoE inbox.
func TestEoESendRecvRoundTrip(t *testing.T) {
	m, _ := newTestMaster(t)
	_, err := m.ConfigInit()
	require.NoError(t, err)

	frame := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}
	require.NoError(t, m.EoESendFrame(1, frame))

	m.MbxHandler()

	got, err := m.EoERecv(1, time.Second)
	require.NoError(t, err)
	require.Equal(t, frame, got)
}

func TestConfigSync0AndSync01(t *testing.T) {
	m, _ := newTestMaster(t)
	_, err := m.ConfigInit()
	require.NoError(t, err)

	s, err := m.Slave(1)
	require.NoError(t, err)
	require.True(t, s.HasDC)

	now := time.Now()
	require.NoError(t, m.ConfigSync0(s, time.Millisecond, now))
	require.NoError(t, m.ConfigSync01(s, time.Millisecond, 100*time.Microsecond, now))
}
