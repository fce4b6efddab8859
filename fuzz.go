// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

func Fuzz(data []byte) int {
	bs := NewMemoryBinaryStream(data)
	bs.SetEndianness(BigEndian)
	for pos := uint64(0); pos < 16; pos++ {
		bs.ReadUint8(pos)
		bs.ReadUint16(pos)
		bs.ReadUint32(pos)
		bs.ReadUint64(pos)
	}

	addr, err := ParseAddress(string(data))
	if err != nil {
		return 0
	}
	back, err := ParseAddress(addr.String())
	if err != nil || !back.Equal(addr) {
		panic("address round trip broken")
	}
	return 1
}
