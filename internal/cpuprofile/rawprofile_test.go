//go:build linux

package cpuprofile

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jattle/pprofgo/internal/resolver"
)

func newTestResolver(t *testing.T) *resolver.Resolver {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Skipf("os.Executable unavailable: %v", err)
	}
	mapsText := "build=/x\n400000-500000 r-xp 00000000 08:01 1 /opt/other.so\n"
	r, rerr := resolver.New(self, mapsText)
	require.Nil(t, rerr)
	return r
}

func TestGenerateRawProfileFixedRaw(t *testing.T) {
	data := buildFixture(t)
	p, err := Parse(bytes.NewReader(data))
	require.Nil(t, err)

	r := newTestResolver(t)
	out, gerr := p.GenerateRawProfile(RawProfileMeta{ProfileType: FixedRaw, ProgramPath: "/opt/app"}, r)
	require.Nil(t, gerr)
	require.True(t, strings.HasPrefix(out, "--- symbol_fixed\n"))
	require.Contains(t, out, "binary=/opt/app\n")
	require.Contains(t, out, "---\n--- profile\n")
}

func TestGenerateRawProfilePProfCompatibleDecrementsReturnAddrs(t *testing.T) {
	data := buildFixture(t)
	p, err := Parse(bytes.NewReader(data))
	require.Nil(t, err)

	r := newTestResolver(t)
	out, gerr := p.GenerateRawProfile(RawProfileMeta{ProfileType: PProfCompatible, ProgramPath: "/opt/app"}, r)
	require.Nil(t, gerr)
	require.True(t, strings.HasPrefix(out, "--- symbol\n"))

	// re-parse the binary section back out (with no maps text attached,
	// since GenerateBinaryProfile never emits any) and confirm the leaf
	// pc is untouched while the return address was decremented by 1.
	idx := strings.Index(out, "--- profile\n")
	require.True(t, idx >= 0)
	binarySection := out[idx+len("--- profile\n"):]
	reparsed, perr := Parse(strings.NewReader(binarySection))
	require.NotNil(t, perr)
	require.Equal(t, KindEmptyMapsText, perr.Kind)
	require.NotNil(t, reparsed)
	require.Len(t, reparsed.Stacks, 1)
	require.Equal(t, uint64(0x400010), reparsed.Stacks[0].Pcs[0])
	require.Equal(t, uint64(0x400020-1), reparsed.Stacks[0].Pcs[1])
}

// TestBinaryRoundTrip exercises the "Round-trip (binary)" invariant:
// parse(write(parse(P), FixedRaw)) reproduces P's header, record_num,
// ptr_num, and stacks exactly. Maps text is dropped, since
// GenerateBinaryProfile never re-emits it.
func TestBinaryRoundTrip(t *testing.T) {
	data := buildFixture(t)
	original, err := Parse(bytes.NewReader(data))
	require.Nil(t, err)

	content, gerr := original.GenerateBinaryProfile(RawProfileMeta{ProfileType: FixedRaw})
	require.Nil(t, gerr)

	roundTripped, perr := Parse(strings.NewReader(content))
	require.NotNil(t, perr)
	require.Equal(t, KindEmptyMapsText, perr.Kind)
	require.NotNil(t, roundTripped)

	require.Equal(t, original.Header, roundTripped.Header)
	require.Equal(t, original.totalSampleCnt, roundTripped.totalSampleCnt)
	require.Equal(t, original.recordNum, roundTripped.recordNum)
	require.Equal(t, original.ptrNum, roundTripped.ptrNum)
	require.Equal(t, original.Stacks, roundTripped.Stacks)
	require.Empty(t, roundTripped.MapsText)
	require.Nil(t, roundTripped.MapsIndex)
}

func TestGenerateRawProfileNoProgramPath(t *testing.T) {
	data := buildFixture(t)
	p, err := Parse(bytes.NewReader(data))
	require.Nil(t, err)

	r := newTestResolver(t)
	_, gerr := p.GenerateRawProfile(RawProfileMeta{ProfileType: FixedRaw}, r)
	require.NotNil(t, gerr)
	require.Equal(t, KindNoProgramPath, gerr.Kind)
}

func TestGenerateSymbolMappingEmptyStackFails(t *testing.T) {
	p := &Profile{}
	r := newTestResolver(t)
	err := p.GenerateSymbolMapping(r)
	require.NotNil(t, err)
	require.Equal(t, KindEmptyStack, err.Kind)
}
