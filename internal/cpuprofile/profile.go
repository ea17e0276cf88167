package cpuprofile

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jattle/pprofgo/internal/procmaps"
	"github.com/jattle/pprofgo/internal/slotio"
)

// CallStack is one recorded sample: how many times it was seen, and
// the call stack's program counters, leaf first.
type CallStack struct {
	SampleCount uint64
	Pcs         []uint64
}

// Profile is a fully parsed gperftools CPU profile: its binary
// header, every recorded call stack, and the trailing maps block.
type Profile struct {
	Header slotio.Header
	Stacks []CallStack

	MapsText  string
	MapsIndex *procmaps.Index

	totalSampleCnt uint64
	recordNum      uint64
	ptrNum         uint64

	symbolMapping map[uint64]string
}

// Parse reads a complete binary profile from r: the 5-slot header,
// every variable-length call-stack record up to the (0,1,0) trailer,
// and the trailing ASCII maps block.
func Parse(r io.Reader) (*Profile, *Error) {
	reader, rerr := slotio.NewReader(r)
	if rerr != nil {
		return nil, wrapSlotErr(rerr)
	}

	p := &Profile{}
	idx := 0
	next := func() (uint64, *Error) {
		v, err := reader.GetSlot(idx)
		idx++
		if err != nil {
			return 0, wrapSlotErr(err)
		}
		return v, nil
	}

	hdrCount, err := next()
	if err != nil {
		return nil, err
	}
	hdrWords, err := next()
	if err != nil {
		return nil, err
	}
	version, err := next()
	if err != nil {
		return nil, err
	}
	samplingPeriod, err := next()
	if err != nil {
		return nil, err
	}
	padding, err := next()
	if err != nil {
		return nil, err
	}
	p.Header = slotio.Header{
		HdrCount:       hdrCount,
		HdrWords:       hdrWords,
		Version:        version,
		SamplingPeriod: samplingPeriod,
		Padding:        padding,
	}

	for {
		sampleCount, err := next()
		if err != nil {
			return nil, err
		}
		numPcs, err := next()
		if err != nil {
			return nil, err
		}
		pc, err := next()
		if err != nil {
			return nil, err
		}
		if pc == 0 {
			// binary trailer (0, 1, 0): the record loop consumes it
			// directly rather than treating it as a zero-length stack.
			break
		}
		stack := CallStack{SampleCount: sampleCount, Pcs: make([]uint64, 0, numPcs)}
		stack.Pcs = append(stack.Pcs, pc)
		for i := uint64(1); i < numPcs; i++ {
			val, err := next()
			if err != nil {
				return nil, err
			}
			stack.Pcs = append(stack.Pcs, val)
		}
		p.totalSampleCnt += sampleCount
		p.recordNum++
		p.ptrNum += uint64(len(stack.Pcs))
		p.Stacks = append(p.Stacks, stack)
	}

	mapsText, cerr := reader.ReadLeftContent()
	if cerr.Kind != slotio.KindEndOfFile {
		return nil, wrapSlotErr(cerr)
	}
	mapsIdx, merr := procmaps.Parse(mapsText)
	if merr != nil {
		// The binary portion (header, stacks, running totals) parsed
		// fine; only the trailing maps text is missing or empty. Return
		// the populated Profile alongside the status rather than
		// discarding it, per the round-trip invariant.
		werr := &Error{Kind: KindEmptyMapsText, Err: errors.Wrap(merr, "parse maps text")}
		logrus.WithError(werr).Warn("profile has no usable maps text")
		return p, werr
	}
	p.MapsText = mapsText
	p.MapsIndex = mapsIdx
	return p, nil
}

func wrapSlotErr(e *slotio.Error) *Error {
	werr := &Error{Kind: KindReadError, Err: errors.Wrap(e, "read slot")}
	logrus.WithError(werr).Error("parse profile failed")
	return werr
}

// String renders a diagnostic dump of the header, stack contents, and
// running totals, in the style of a raw profile inspector.
func (p *Profile) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "---------------Header:\n")
	fmt.Fprintf(&b, "hdr_count: %d\n", p.Header.HdrCount)
	fmt.Fprintf(&b, "hdr_words: %d\n", p.Header.HdrWords)
	fmt.Fprintf(&b, "version: %d\n", p.Header.Version)
	fmt.Fprintf(&b, "sampling_period: %d\n", p.Header.SamplingPeriod)
	fmt.Fprintf(&b, "padding: %d\n", p.Header.Padding)
	fmt.Fprintf(&b, "profile num: %d, total sample num: %d, call stack num: %d, ptr nums: %d\n",
		p.recordNum, p.totalSampleCnt, len(p.Stacks), p.ptrNum)
	fmt.Fprintf(&b, "---------------Stacks:\n")
	dedupped := make(map[uint64]struct{})
	for _, s := range p.Stacks {
		for _, pc := range s.Pcs {
			fmt.Fprintf(&b, "0x%016x ", pc)
			dedupped[pc] = struct{}{}
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "distinct ptr num: %d\n", len(dedupped))
	return b.String()
}
