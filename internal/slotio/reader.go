package slotio

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// WordSize is the on-wire width of one slot, in bytes.
type WordSize int

const (
	WordSizeUnknown WordSize = 0
	WordSize32      WordSize = 4
	WordSize64      WordSize = 8
)

// Endianness is the on-wire byte order of one slot.
type Endianness int

const (
	EndianUnknown Endianness = 0
	LittleEndian  Endianness = 1
	BigEndian     Endianness = 2
)

// Reader delivers slots from a byte stream on demand, autodetecting
// word size and endianness from the first two header slots.
type Reader struct {
	r        io.Reader
	wordSize WordSize
	endian   Endianness
	slots    []uint64
}

// NewReader autodetects the profile's word size and endianness from
// the first 8 bytes of r and returns a Reader primed with slots 0 and
// 1 (hdr_count and hdr_words) already decoded.
func NewReader(r io.Reader) (*Reader, *Error) {
	if r == nil {
		return nil, ErrKind(KindInvalidStream)
	}
	rd := &Reader{r: r}
	if err := rd.init(); err != nil {
		return nil, err
	}
	return rd, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (r *Reader) init() *Error {
	var buf [8]byte
	if err := r.readFull(buf[:]); err != nil {
		return err
	}
	if allZero(buf[:]) {
		r.wordSize = WordSize64
	} else {
		r.wordSize = WordSize32
	}

	var hdrWords uint64
	switch r.wordSize {
	case WordSize64:
		var buf2 [8]byte
		if err := r.readFull(buf2[:]); err != nil {
			return err
		}
		hi, lo := buf2[0:4], buf2[4:8]
		switch {
		case allZero(hi):
			r.endian = BigEndian
			hdrWords = binary.BigEndian.Uint64(buf2[:])
		case allZero(lo):
			r.endian = LittleEndian
			hdrWords = binary.LittleEndian.Uint64(buf2[:])
		default:
			return ErrKind(KindInvalidUnpackType)
		}
	case WordSize32:
		w := buf[4:8]
		hi, lo := w[0:2], w[2:4]
		switch {
		case allZero(hi):
			r.endian = BigEndian
			hdrWords = uint64(binary.BigEndian.Uint32(w))
		case allZero(lo):
			r.endian = LittleEndian
			hdrWords = uint64(binary.LittleEndian.Uint32(w))
		default:
			return ErrKind(KindInvalidUnpackType)
		}
	}
	r.slots = append(r.slots, 0, hdrWords)
	return nil
}

// WordSize reports the detected on-wire slot width.
func (r *Reader) WordSize() WordSize { return r.wordSize }

// Endianness reports the detected on-wire byte order.
func (r *Reader) Endianness() Endianness { return r.endian }

func (r *Reader) readFull(buf []byte) *Error {
	n, err := io.ReadFull(r.r, buf)
	if err == nil {
		return nil
	}
	if err == io.EOF && n == 0 {
		return ErrKind(KindEndOfFile)
	}
	return &Error{Kind: KindReadError, Err: errors.Wrap(err, "short read")}
}

// GetSlot returns the slot at index, reading and buffering as many
// additional slots as needed. Already-read slots are served from the
// in-memory buffer, so repeated or out-of-order access is O(1) after
// the first pass.
func (r *Reader) GetSlot(index int) (uint64, *Error) {
	for len(r.slots) <= index {
		if err := r.nextSlot(); err != nil {
			return 0, err
		}
	}
	return r.slots[index], nil
}

func (r *Reader) nextSlot() *Error {
	switch r.wordSize {
	case WordSize32:
		var buf [4]byte
		if err := r.readFull(buf[:]); err != nil {
			return err
		}
		val, err := r.convert32(buf[:])
		if err != nil {
			return err
		}
		r.slots = append(r.slots, val)
		return nil
	case WordSize64:
		var buf [8]byte
		if err := r.readFull(buf[:]); err != nil {
			return err
		}
		val, err := r.convert64(buf[:])
		if err != nil {
			return err
		}
		r.slots = append(r.slots, val)
		return nil
	default:
		return ErrKind(KindInvalidAddressLen)
	}
}

func (r *Reader) convert32(buf []byte) (uint64, *Error) {
	switch r.endian {
	case LittleEndian:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case BigEndian:
		return uint64(binary.BigEndian.Uint32(buf)), nil
	default:
		return 0, ErrKind(KindConvertErr)
	}
}

func (r *Reader) convert64(buf []byte) (uint64, *Error) {
	switch r.endian {
	case LittleEndian:
		return binary.LittleEndian.Uint64(buf), nil
	case BigEndian:
		return binary.BigEndian.Uint64(buf), nil
	default:
		return 0, ErrKind(KindConvertErr)
	}
}

// ReadLeftContent drains and returns whatever bytes remain in the
// stream once slot reading is done. Per the format's contract, a
// clean drain reports KindEndOfFile rather than a nil error.
func (r *Reader) ReadLeftContent() (string, *Error) {
	data, err := io.ReadAll(r.r)
	if err != nil {
		return string(data), &Error{Kind: KindReadError, Err: errors.Wrap(err, "read left content")}
	}
	return string(data), ErrKind(KindEndOfFile)
}
