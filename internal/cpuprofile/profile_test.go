package cpuprofile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jattle/pprofgo/internal/slotio"
)

func buildFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	header := slotio.Header{HdrCount: 0, HdrWords: 3, Version: 0, SamplingPeriod: 1000, Padding: 0}
	w, err := slotio.NewWriter(&buf, header, slotio.DefaultMetadata())
	require.Nil(t, err)

	require.Nil(t, w.AppendSlot(5))          // sample_count
	require.Nil(t, w.AppendSlot(2))          // num_pcs
	require.Nil(t, w.AppendSlot(0x400010))   // pc[0]
	require.Nil(t, w.AppendSlot(0x400020))   // pc[1]

	require.Nil(t, w.AppendSlot(0)) // trailer
	require.Nil(t, w.AppendSlot(1))
	require.Nil(t, w.AppendSlot(0))

	require.Nil(t, w.AppendMapsText("build=/x\n400000-500000 r-xp 00000000 08:01 1 /opt/other.so\n"))
	return buf.Bytes()
}

func TestParseRoundTrip(t *testing.T) {
	data := buildFixture(t)
	p, err := Parse(bytes.NewReader(data))
	require.Nil(t, err)
	require.EqualValues(t, 1000, p.Header.SamplingPeriod)
	require.Len(t, p.Stacks, 1)
	require.EqualValues(t, 5, p.Stacks[0].SampleCount)
	require.Equal(t, []uint64{0x400010, 0x400020}, p.Stacks[0].Pcs)
	require.EqualValues(t, 5, p.totalSampleCnt)
	require.EqualValues(t, 1, p.recordNum)
	require.EqualValues(t, 2, p.ptrNum)
	require.NotNil(t, p.MapsIndex)
}

func TestParseEmptyMapsTextIsNonFatal(t *testing.T) {
	var buf bytes.Buffer
	header := slotio.Header{HdrCount: 0, HdrWords: 3, Version: 0, SamplingPeriod: 42, Padding: 0}
	w, err := slotio.NewWriter(&buf, header, slotio.DefaultMetadata())
	require.Nil(t, err)
	require.Nil(t, w.AppendSlot(7))        // sample_count
	require.Nil(t, w.AppendSlot(1))        // num_pcs
	require.Nil(t, w.AppendSlot(0x400010)) // pc[0]
	require.Nil(t, w.AppendSlot(0))        // trailer
	require.Nil(t, w.AppendSlot(1))
	require.Nil(t, w.AppendSlot(0))
	// no maps text at all

	p, perr := Parse(bytes.NewReader(buf.Bytes()))
	require.NotNil(t, perr)
	require.Equal(t, KindEmptyMapsText, perr.Kind)
	// the binary portion must still come back fully populated.
	require.NotNil(t, p)
	require.EqualValues(t, 42, p.Header.SamplingPeriod)
	require.Len(t, p.Stacks, 1)
	require.EqualValues(t, 7, p.Stacks[0].SampleCount)
	require.Equal(t, []uint64{0x400010}, p.Stacks[0].Pcs)
	require.EqualValues(t, 7, p.totalSampleCnt)
	require.EqualValues(t, 1, p.recordNum)
	require.Empty(t, p.MapsText)
	require.Nil(t, p.MapsIndex)
}

func TestProfileString(t *testing.T) {
	data := buildFixture(t)
	p, err := Parse(bytes.NewReader(data))
	require.Nil(t, err)
	out := p.String()
	require.Contains(t, out, "hdr_count: 0")
	require.Contains(t, out, "sampling_period: 1000")
	require.Contains(t, out, "profile num: 1, total sample num: 5, call stack num: 1, ptr nums: 2")
	require.Contains(t, out, "0x0000000000400010")
	require.Contains(t, out, "distinct ptr num: 2")
}
