// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Endianness selects the byte order used by integer accesses.
type Endianness uint8

const (
	// UnknownEndianness means the byte order has not been set yet.
	UnknownEndianness Endianness = iota

	// LittleEndian stores the least significant byte first.
	LittleEndian

	// BigEndian stores the most significant byte first.
	BigEndian
)

// String implements Stringer.
func (e Endianness) String() string {
	switch e {
	case LittleEndian:
		return "little endian"
	case BigEndian:
		return "big endian"
	default:
		return "unknown"
	}
}

// BinaryStream is a bounds-checked, endianness-aware random access view
// over the bytes of a binary. File streams are memory mapped read-only;
// memory streams are writable.
type BinaryStream struct {
	data       []byte
	mapping    mmap.MMap
	f          *os.File
	endianness Endianness
	writable   bool
}

// NewMemoryBinaryStream returns a writable stream over the given buffer.
// The buffer is borrowed, not copied.
func NewMemoryBinaryStream(data []byte) *BinaryStream {
	return &BinaryStream{
		data:       data,
		endianness: LittleEndian,
		writable:   true,
	}
}

// NewFileBinaryStream memory maps the named file read-only.
func NewFileBinaryStream(name string) (*BinaryStream, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	// Memory map the file instead of using read/write.
	mapping, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &BinaryStream{
		data:       mapping,
		mapping:    mapping,
		f:          f,
		endianness: LittleEndian,
	}, nil
}

// Close unmaps and closes the backing file, if any.
func (bs *BinaryStream) Close() error {
	if bs.mapping != nil {
		_ = bs.mapping.Unmap()
		bs.mapping = nil
	}
	bs.data = nil

	if bs.f != nil {
		err := bs.f.Close()
		bs.f = nil
		return err
	}
	return nil
}

// Endianness returns the current byte order.
func (bs *BinaryStream) Endianness() Endianness {
	return bs.endianness
}

// SetEndianness sets the byte order used by subsequent integer accesses.
func (bs *BinaryStream) SetEndianness(e Endianness) {
	bs.endianness = e
}

// Size returns the stream length in bytes.
func (bs *BinaryStream) Size() uint64 {
	return uint64(len(bs.data))
}

// Buffer returns the underlying bytes. The slice is only valid while the
// stream stays open.
func (bs *BinaryStream) Buffer() []byte {
	return bs.data
}

// byteOrder resolves the byte order on every access, so a SetEndianness
// between two reads takes effect immediately.
func (bs *BinaryStream) byteOrder() binary.ByteOrder {
	if bs.endianness == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// inRange checks pos+width against the stream size without overflowing.
func (bs *BinaryStream) inRange(pos, width uint64) bool {
	if bs.data == nil {
		return false
	}
	size := uint64(len(bs.data))
	return width <= size && pos <= size-width
}

// ReadUint8 reads one byte at pos.
func (bs *BinaryStream) ReadUint8(pos uint64) (uint8, bool) {
	if !bs.inRange(pos, 1) {
		return 0, false
	}
	return bs.data[pos], true
}

// ReadUint16 reads a 16-bit integer at pos using the stream byte order.
func (bs *BinaryStream) ReadUint16(pos uint64) (uint16, bool) {
	if !bs.inRange(pos, 2) {
		return 0, false
	}
	return bs.byteOrder().Uint16(bs.data[pos:]), true
}

// ReadUint32 reads a 32-bit integer at pos using the stream byte order.
func (bs *BinaryStream) ReadUint32(pos uint64) (uint32, bool) {
	if !bs.inRange(pos, 4) {
		return 0, false
	}
	return bs.byteOrder().Uint32(bs.data[pos:]), true
}

// ReadUint64 reads a 64-bit integer at pos using the stream byte order.
func (bs *BinaryStream) ReadUint64(pos uint64) (uint64, bool) {
	if !bs.inRange(pos, 8) {
		return 0, false
	}
	return bs.byteOrder().Uint64(bs.data[pos:]), true
}

// ReadBuffer copies len(buf) bytes starting at pos. No byte swapping is
// performed.
func (bs *BinaryStream) ReadBuffer(pos uint64, buf []byte) bool {
	if !bs.inRange(pos, uint64(len(buf))) {
		return false
	}
	copy(buf, bs.data[pos:])
	return true
}

// WriteUint8 writes one byte at pos.
func (bs *BinaryStream) WriteUint8(pos uint64, v uint8) bool {
	if !bs.writable || !bs.inRange(pos, 1) {
		return false
	}
	bs.data[pos] = v
	return true
}

// WriteUint16 writes a 16-bit integer at pos using the stream byte order.
func (bs *BinaryStream) WriteUint16(pos uint64, v uint16) bool {
	if !bs.writable || !bs.inRange(pos, 2) {
		return false
	}
	bs.byteOrder().PutUint16(bs.data[pos:], v)
	return true
}

// WriteUint32 writes a 32-bit integer at pos using the stream byte order.
func (bs *BinaryStream) WriteUint32(pos uint64, v uint32) bool {
	if !bs.writable || !bs.inRange(pos, 4) {
		return false
	}
	bs.byteOrder().PutUint32(bs.data[pos:], v)
	return true
}

// WriteUint64 writes a 64-bit integer at pos using the stream byte order.
func (bs *BinaryStream) WriteUint64(pos uint64, v uint64) bool {
	if !bs.writable || !bs.inRange(pos, 8) {
		return false
	}
	bs.byteOrder().PutUint64(bs.data[pos:], v)
	return true
}

// WriteBuffer copies buf into the stream at pos. No byte swapping is
// performed.
func (bs *BinaryStream) WriteBuffer(pos uint64, buf []byte) bool {
	if !bs.writable || !bs.inRange(pos, uint64(len(buf))) {
		return false
	}
	copy(bs.data[pos:], buf)
	return true
}
