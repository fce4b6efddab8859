// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressingType describes how an Address locates a byte.
type AddressingType uint8

const (
	// UnknownAddress is an address of unknown kind.
	UnknownAddress AddressingType = iota

	// PhysicalAddress is an offset into the raw binary stream.
	PhysicalAddress

	// LinearAddress is a flat address in the mapped image.
	LinearAddress

	// LogicalAddress is a based address, base:offset.
	LogicalAddress

	// RelativeLogicalAddress is a based address relative to a moving base.
	RelativeLogicalAddress
)

// String implements Stringer.
func (t AddressingType) String() string {
	switch t {
	case PhysicalAddress:
		return "physical"
	case LinearAddress:
		return "linear"
	case LogicalAddress:
		return "logical"
	case RelativeLogicalAddress:
		return "relative logical"
	default:
		return "unknown"
	}
}

// Address is a structured byte locator. Two addresses are equal iff they
// have the same kind, base and offset.
type Address struct {
	Type    AddressingType
	Base    uint16
	Offset  uint64
	BitSize uint8
}

// NewAddress returns an address of the given kind.
func NewAddress(t AddressingType, base uint16, offset uint64, bitSize uint8) Address {
	return Address{Type: t, Base: base, Offset: offset, BitSize: bitSize}
}

// NewLinearAddress returns a flat address of the given width.
func NewLinearAddress(offset uint64, bitSize uint8) Address {
	return Address{Type: LinearAddress, Offset: offset, BitSize: bitSize}
}

// isBased reports whether the base field takes part in formatting.
func (a Address) isBased() bool {
	return a.Type == LogicalAddress || a.Type == RelativeLogicalAddress
}

// String formats the address as [base:]offset, the offset padded to
// BitSize/4 hexadecimal digits.
func (a Address) String() string {
	digits := int(a.BitSize / 4)
	if digits == 0 {
		digits = 8
	}
	if a.isBased() {
		return fmt.Sprintf("%x:%0*x", a.Base, digits, a.Offset)
	}
	return fmt.Sprintf("%0*x", digits, a.Offset)
}

// Compare orders addresses by kind, then base, then offset.
func (a Address) Compare(other Address) int {
	if a.Type != other.Type {
		if a.Type < other.Type {
			return -1
		}
		return 1
	}
	if a.Base != other.Base {
		if a.Base < other.Base {
			return -1
		}
		return 1
	}
	if a.Offset != other.Offset {
		if a.Offset < other.Offset {
			return -1
		}
		return 1
	}
	return 0
}

// Equal reports whether both addresses have the same kind, base and
// offset. Addresses of different kinds are never equal, even when they
// map to the same byte of the image; the bit size is not compared.
func (a Address) Equal(other Address) bool {
	return a.Type == other.Type && a.Base == other.Base && a.Offset == other.Offset
}

// Add returns the address displaced by disp bytes.
func (a Address) Add(disp uint64) Address {
	next := a
	next.Offset += disp
	return next
}

// Sub returns the address displaced backwards by disp bytes.
func (a Address) Sub(disp uint64) Address {
	next := a
	next.Offset -= disp
	return next
}

// ParseAddress parses the [base:]offset form produced by String. A based
// form yields a logical address, a bare offset a linear one; the bit size
// is recovered from the offset digit count. An optional 0x prefix is
// accepted on either field.
func ParseAddress(s string) (Address, error) {
	var addr Address

	offsetPart := s
	if base, rest, found := strings.Cut(s, ":"); found {
		b, err := strconv.ParseUint(trimHexPrefix(base), 16, 16)
		if err != nil {
			return addr, fmt.Errorf("invalid address base %q: %v", base, err)
		}
		addr.Type = LogicalAddress
		addr.Base = uint16(b)
		offsetPart = rest
	} else {
		addr.Type = LinearAddress
	}

	offsetPart = trimHexPrefix(offsetPart)
	if offsetPart == "" {
		return addr, fmt.Errorf("invalid address %q: empty offset", s)
	}
	offset, err := strconv.ParseUint(offsetPart, 16, 64)
	if err != nil {
		return addr, fmt.Errorf("invalid address offset %q: %v", offsetPart, err)
	}
	addr.Offset = offset
	addr.BitSize = uint8(len(offsetPart) * 4)
	return addr, nil
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
