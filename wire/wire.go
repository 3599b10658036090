// Package wire implements the binary layout of one discovery ring message.
//
// The layout is fixed and symmetric across all processes so that a single
// buffer sized from the global maximum publish count fits any hop:
//
//	twoSets     1 byte   0 = sender merges source and target, 1 = both sent
//	sourceCount int32    number of source pairs following
//	destCount   int32    0 if twoSets=0
//	sourcePairs sourceCount x PairSize, ascending global order
//	destPairs   destCount x PairSize, ascending global order
//
// Only the global id and the attribute are semantically consumed by peers;
// the local id rides along to keep the record layout self-contained.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/hpcgo/parix/indexset"
)

var (
	// ErrShortBuffer is returned when a read or write would pass the end of
	// the buffer.
	ErrShortBuffer = errors.New("wire: short buffer")
)

// PairSize is the committed encoded size of one index pair:
// global (8) + attribute (1) + local id (8).
const PairSize = 8 + 1 + 8

// HeaderSize is the encoded size of the message header:
// twoSets flag (1) + two int32 counts (8).
const HeaderSize = 1 + 4 + 4

// BufferSize returns the buffer size needed for a message carrying up to
// maxPairs index pairs.
func BufferSize(maxPairs int) int {
	return HeaderSize + maxPairs*PairSize
}

// Pair is the transported form of one index record.
type Pair struct {
	Global indexset.Global
	Attr   indexset.Attribute
	Local  int64
}

// Buffer is a positional pack/unpack cursor over a fixed byte slice.
// The same buffer is used alternately for packing and unpacking; Reset
// rewinds the position.
type Buffer struct {
	buf []byte
	pos int
}

// NewBuffer wraps b for positional access starting at offset 0.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Reset rewinds the cursor to the start of the buffer.
func (b *Buffer) Reset() { b.pos = 0 }

// Pos returns the current cursor position in bytes.
func (b *Buffer) Pos() int { return b.pos }

// Bytes returns the packed prefix of the buffer.
func (b *Buffer) Bytes() []byte { return b.buf[:b.pos] }

func (b *Buffer) ensure(n int) error {
	if b.pos+n > len(b.buf) {
		return ErrShortBuffer
	}
	return nil
}

// PutByte packs a single byte.
func (b *Buffer) PutByte(v byte) error {
	if err := b.ensure(1); err != nil {
		return err
	}
	b.buf[b.pos] = v
	b.pos++
	return nil
}

// Byte unpacks a single byte.
func (b *Buffer) Byte() (byte, error) {
	if err := b.ensure(1); err != nil {
		return 0, err
	}
	v := b.buf[b.pos]
	b.pos++
	return v, nil
}

// PutInt32 packs a little-endian int32.
func (b *Buffer) PutInt32(v int32) error {
	if err := b.ensure(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.buf[b.pos:], uint32(v))
	b.pos += 4
	return nil
}

// Int32 unpacks a little-endian int32.
func (b *Buffer) Int32() (int32, error) {
	if err := b.ensure(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(b.buf[b.pos:]))
	b.pos += 4
	return v, nil
}

// PutPair packs one index pair.
func (b *Buffer) PutPair(p Pair) error {
	if err := b.ensure(PairSize); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b.buf[b.pos:], uint64(p.Global))
	b.buf[b.pos+8] = byte(p.Attr)
	binary.LittleEndian.PutUint64(b.buf[b.pos+9:], uint64(p.Local))
	b.pos += PairSize
	return nil
}

// Pair unpacks one index pair.
func (b *Buffer) Pair() (Pair, error) {
	if err := b.ensure(PairSize); err != nil {
		return Pair{}, err
	}
	p := Pair{
		Global: indexset.Global(binary.LittleEndian.Uint64(b.buf[b.pos:])),
		Attr:   indexset.Attribute(b.buf[b.pos+8]),
		Local:  int64(binary.LittleEndian.Uint64(b.buf[b.pos+9:])),
	}
	b.pos += PairSize
	return p, nil
}
