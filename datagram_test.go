package ethercat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameBuilderRoundTrip(t *testing.T) {
	fb := newFrameBuilder()
	require.NoError(t, fb.add(datagram{cmd: cmdBRD, idx: 3, adp: 0, ado: regType, data: []byte{0xaa}}))
	require.NoError(t, fb.add(datagram{cmd: cmdFPRD, idx: 3, adp: 1001, ado: regALStatus, data: []byte{0x01, 0x02}}))
	frame := fb.bytes()

	views, err := parseDatagrams(frame)
	require.NoError(t, err)
	require.Len(t, views, 2)

	require.Equal(t, []byte{0xaa}, views[0].payload(frame))
	require.Equal(t, []byte{0x01, 0x02}, views[1].payload(frame))
}

func TestFrameBuilderRejectsOversizedFrame(t *testing.T) {
	fb := newFrameBuilder()
	big := make([]byte, mtuPayload)
	require.Error(t, fb.add(datagram{cmd: cmdLRW, data: big}))
}

func TestErrorRingDropsOldestWhenFull(t *testing.T) {
	r := newErrorRing(2)
	r.push(ErrorRecord{Slave: 1})
	r.push(ErrorRecord{Slave: 2})
	r.push(ErrorRecord{Slave: 3})

	rec, ok := r.pop()
	require.True(t, ok)
	require.Equal(t, uint16(2), rec.Slave)

	rec, ok = r.pop()
	require.True(t, ok)
	require.Equal(t, uint16(3), rec.Slave)

	_, ok = r.pop()
	require.False(t, ok)
}
