package cpuprofile

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/jattle/pprofgo/internal/resolver"
	"github.com/jattle/pprofgo/internal/slotio"
)

// ProfileType selects one of the two textual dialects a raw profile
// can be emitted in.
type ProfileType int

const (
	// FixedRaw re-encodes every return address unmodified.
	FixedRaw ProfileType = iota
	// PProfCompatible decrements every non-leaf return address by 1,
	// matching the convention `pprof --raw` expects.
	PProfCompatible
)

// RawProfileMeta carries the parameters GenerateRawProfile needs
// beyond the parsed Profile itself.
type RawProfileMeta struct {
	ProfileType ProfileType
	ProgramPath string
}

// symbolAddrs returns the deduplicated set of addresses that need
// resolving: every stack's leaf address unmodified, and every
// non-leaf return address decremented by 1 to land on the call
// instruction rather than the return site.
func symbolAddrs(stacks []CallStack) []uint64 {
	set := make(map[uint64]struct{})
	for _, s := range stacks {
		if len(s.Pcs) == 0 {
			continue
		}
		set[s.Pcs[0]] = struct{}{}
		for i := 1; i < len(s.Pcs); i++ {
			set[s.Pcs[i]-1] = struct{}{}
		}
	}
	addrs := make([]uint64, 0, len(set))
	for a := range set {
		addrs = append(addrs, a)
	}
	return addrs
}

// GenerateSymbolMapping resolves every address referenced by the
// profile's stacks and caches the result on the Profile.
func (p *Profile) GenerateSymbolMapping(r *resolver.Resolver) *Error {
	if len(p.Stacks) == 0 {
		return ErrKind(KindEmptyStack)
	}
	addrs := symbolAddrs(p.Stacks)
	results, rerr := r.SearchSymbols(addrs)
	if rerr != nil {
		return &Error{Kind: KindSearchSymbolFailed, Err: rerr}
	}
	p.symbolMapping = make(map[uint64]string, len(results))
	for addr, info := range results {
		p.symbolMapping[addr] = info.Name
	}
	return nil
}

// GenerateRawSymbols renders the symbol table section of a raw
// profile: one `<addr> <name>` line per resolved address, sorted by
// address for deterministic output. A name that failed to resolve
// falls back to its hex address.
func (p *Profile) GenerateRawSymbols(r *resolver.Resolver) (string, *Error) {
	if len(p.Stacks) > 0 && len(p.symbolMapping) == 0 {
		if err := p.GenerateSymbolMapping(r); err != nil {
			return "", err
		}
	}
	addrs := make([]uint64, 0, len(p.symbolMapping))
	for a := range p.symbolMapping {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var b strings.Builder
	for _, addr := range addrs {
		hex := fmt.Sprintf("0x%016x", addr)
		name := p.symbolMapping[addr]
		if name == "" {
			name = hex
		}
		b.WriteString(hex)
		b.WriteByte(' ')
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// GenerateBinaryProfile re-encodes the profile's stacks (header
// through trailer, no maps text) as a binary slot stream in the
// dialect meta.ProfileType selects.
func (p *Profile) GenerateBinaryProfile(meta RawProfileMeta) (string, *Error) {
	var buf bytes.Buffer
	writer, werr := slotio.NewWriter(&buf, p.Header, slotio.DefaultMetadata())
	if werr != nil {
		return "", &Error{Kind: KindGenProfileFailed, Err: werr}
	}
	for _, s := range p.Stacks {
		if err := writer.AppendSlot(s.SampleCount); err != nil {
			return "", &Error{Kind: KindGenProfileFailed, Err: err}
		}
		if err := writer.AppendSlot(uint64(len(s.Pcs))); err != nil {
			return "", &Error{Kind: KindGenProfileFailed, Err: err}
		}
		if err := writer.AppendSlot(s.Pcs[0]); err != nil {
			return "", &Error{Kind: KindGenProfileFailed, Err: err}
		}
		for i := 1; i < len(s.Pcs); i++ {
			val := s.Pcs[i]
			if meta.ProfileType == PProfCompatible {
				val--
			}
			if err := writer.AppendSlot(val); err != nil {
				return "", &Error{Kind: KindGenProfileFailed, Err: err}
			}
		}
	}
	for _, v := range []uint64{0, 1, 0} {
		if err := writer.AppendSlot(v); err != nil {
			return "", &Error{Kind: KindGenProfileFailed, Err: err}
		}
	}
	return buf.String(), nil
}

// GenerateRawProfile emits the complete textual raw profile: a
// dialect marker, the program path, the resolved symbol table, and
// the re-encoded binary stack section.
func (p *Profile) GenerateRawProfile(meta RawProfileMeta, r *resolver.Resolver) (string, *Error) {
	if meta.ProgramPath == "" {
		return "", ErrKind(KindNoProgramPath)
	}
	var b strings.Builder
	b.Grow(2 << 20)
	switch meta.ProfileType {
	case FixedRaw:
		b.WriteString("--- symbol_fixed\n")
	case PProfCompatible:
		b.WriteString("--- symbol\n")
	}
	fmt.Fprintf(&b, "binary=%s\n", meta.ProgramPath)

	symbols, serr := p.GenerateRawSymbols(r)
	if serr != nil {
		return "", serr
	}
	b.WriteString(symbols)
	b.WriteString("---\n")
	b.WriteString("--- profile\n")

	content, berr := p.GenerateBinaryProfile(meta)
	if berr != nil {
		return "", berr
	}
	b.WriteString(content)
	return b.String(), nil
}
