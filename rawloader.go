// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"strconv"

	"github.com/pkg/errors"
)

// Raw loader option names.
const (
	// RawOptionBaseAddress is the load address of the flat image, as hex.
	RawOptionBaseAddress = "base_address"

	// RawOptionBitSize is the address width of the mapping.
	RawOptionBitSize = "bit_size"

	// RawOptionWritable maps the image writable in addition to RX.
	RawOptionWritable = "writable"
)

// RawLoader maps any binary as one flat executable area. It recognizes
// every non-empty stream and therefore serves as the fallback when no
// container format matched.
type RawLoader struct {
	baseAddress uint64
	bitSize     uint8
	writable    bool
}

// NewRawLoader returns a raw loader with a zero base and 32-bit
// addresses.
func NewRawLoader() *RawLoader {
	return &RawLoader{bitSize: 32}
}

// Name implements Loader.
func (ldr *RawLoader) Name() string { return "raw" }

// Recognize implements Loader. A flat mapping fits any non-empty stream.
func (ldr *RawLoader) Recognize(stream *BinaryStream) bool {
	return stream != nil && stream.Size() > 0
}

// Map implements Loader.
func (ldr *RawLoader) Map(doc *Document) error {
	bs := doc.BinaryStream()
	if bs == nil || bs.Size() == 0 {
		return errors.Wrap(ErrNotFound, "raw loader needs an attached binary stream")
	}

	access := uint8(AccessRead | AccessExecute)
	if ldr.writable {
		access |= AccessWrite
	}

	start := NewLinearAddress(ldr.baseAddress, ldr.bitSize)
	area := &MemoryArea{
		Name:       "flat",
		Start:      start,
		Size:       bs.Size(),
		Access:     access,
		FileOffset: 0,
	}
	if err := doc.AddMemoryArea(area); err != nil {
		return err
	}

	doc.AddLabel(start, Label{Name: "start", Type: CodeLabel})
	return nil
}

// GetMainArchitecture implements Loader. A flat image carries no
// architecture hint.
func (ldr *RawLoader) GetMainArchitecture(available []Architecture) Architecture {
	return nil
}

// FillConfigurationModel implements Loader.
func (ldr *RawLoader) FillConfigurationModel(model *ConfigurationModel) {
	model.AddOption(NamedString{Name: RawOptionBaseAddress, Default: "0"})
	model.AddOption(NamedEnum{
		Name: RawOptionBitSize,
		Values: map[string]uint32{
			"16-bit": 16,
			"32-bit": 32,
			"64-bit": 64,
		},
		Default: 32,
	})
	model.AddOption(NamedBool{Name: RawOptionWritable, Default: false})
}

// Configure implements Loader.
func (ldr *RawLoader) Configure(cfg *Configuration) error {
	base, err := strconv.ParseUint(trimHexPrefix(cfg.String(RawOptionBaseAddress)), 16, 64)
	if err != nil {
		return errors.Wrapf(ErrInvalidConfiguration, "bad %s: %v", RawOptionBaseAddress, err)
	}
	bits := cfg.Enum(RawOptionBitSize)
	switch bits {
	case 16, 32, 64:
	default:
		return errors.Wrapf(ErrInvalidConfiguration, "bad %s: %d", RawOptionBitSize, bits)
	}

	ldr.baseAddress = base
	ldr.bitSize = uint8(bits)
	ldr.writable = cfg.Bool(RawOptionWritable)
	return nil
}
