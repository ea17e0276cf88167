package slotio

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Header is the 5-slot binary header preceding every profile's
// records.
type Header struct {
	HdrCount       uint64
	HdrWords       uint64
	Version        uint64
	SamplingPeriod uint64
	Padding        uint64
}

// Metadata describes the on-wire word size and endianness a Writer
// should use. NewWriter treats a zero WordSize or Endian field as
// 64-bit or little-endian respectively, the same as DefaultMetadata.
type Metadata struct {
	WordSize WordSize
	Endian   Endianness
}

// DefaultMetadata returns the 64-bit little-endian metadata used when
// re-encoding profiles for downstream consumption.
func DefaultMetadata() Metadata {
	return Metadata{WordSize: WordSize64, Endian: LittleEndian}
}

// Writer emits a bit-faithful binary profile stream: a fixed header,
// then any number of slots, then one trailing maps-text blob.
type Writer struct {
	w    io.Writer
	meta Metadata
}

// NewWriter writes the 5 header slots immediately and returns a
// Writer ready for AppendSlot/AppendMapsText.
func NewWriter(w io.Writer, header Header, meta Metadata) (*Writer, *Error) {
	if w == nil {
		return nil, ErrKind(KindInvalidStream)
	}
	if meta.WordSize == WordSizeUnknown {
		meta.WordSize = WordSize64
	}
	if meta.Endian == EndianUnknown {
		meta.Endian = LittleEndian
	}
	wr := &Writer{w: w, meta: meta}
	slots := []uint64{header.HdrCount, header.HdrWords, header.Version, header.SamplingPeriod, header.Padding}
	for _, v := range slots {
		if err := wr.AppendSlot(v); err != nil {
			return nil, err
		}
	}
	return wr, nil
}

// AppendSlot serializes val per the writer's metadata.
func (w *Writer) AppendSlot(val uint64) *Error {
	switch w.meta.WordSize {
	case WordSize32:
		var buf [4]byte
		if err := w.encode32(val, buf[:]); err != nil {
			return err
		}
		return w.writeFull(buf[:])
	case WordSize64:
		var buf [8]byte
		if err := w.encode64(val, buf[:]); err != nil {
			return err
		}
		return w.writeFull(buf[:])
	default:
		return ErrKind(KindInvalidAddressLen)
	}
}

func (w *Writer) encode32(val uint64, buf []byte) *Error {
	switch w.meta.Endian {
	case LittleEndian:
		binary.LittleEndian.PutUint32(buf, uint32(val))
	case BigEndian:
		binary.BigEndian.PutUint32(buf, uint32(val))
	default:
		return ErrKind(KindConvertErr)
	}
	return nil
}

func (w *Writer) encode64(val uint64, buf []byte) *Error {
	switch w.meta.Endian {
	case LittleEndian:
		binary.LittleEndian.PutUint64(buf, val)
	case BigEndian:
		binary.BigEndian.PutUint64(buf, val)
	default:
		return ErrKind(KindConvertErr)
	}
	return nil
}

// AppendMapsText writes the final trailing ASCII maps block. No
// further slots may be appended afterward.
func (w *Writer) AppendMapsText(s string) *Error {
	if _, err := io.WriteString(w.w, s); err != nil {
		return &Error{Kind: KindWriteError, Err: errors.Wrap(err, "append maps text")}
	}
	return nil
}

func (w *Writer) writeFull(buf []byte) *Error {
	if _, err := w.w.Write(buf); err != nil {
		return &Error{Kind: KindWriteError, Err: errors.Wrap(err, "write slot")}
	}
	return nil
}
