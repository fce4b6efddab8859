// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

// ArchitectureTag identifies a registered architecture inside a document.
// Tags are handed out by the module manager at registration time; zero
// means no architecture.
type ArchitectureTag uint32

// Architecture is the capability contract of an instruction set back-end.
// Disassemble is pure with respect to the stream: no state is carried
// between calls, so one instance may serve several workers at once.
type Architecture interface {

	// Name returns the architecture name, e.g. "x86".
	Name() string

	// Endianness returns the byte order of the architecture.
	Endianness() Endianness

	// DefaultMode returns the decoding mode to use at addr when no other
	// context is available.
	DefaultMode(addr Address) uint8

	// Disassemble decodes one instruction at the given stream offset.
	Disassemble(stream *BinaryStream, offset uint64, mode uint8) (*Instruction, error)

	// FormatInstruction renders an instruction with highlighting marks.
	FormatInstruction(addr Address, insn *Instruction) (string, []Mark)

	// FillConfigurationModel declares the architecture options.
	FillConfigurationModel(model *ConfigurationModel)

	// UseConfiguration applies a configuration built from the model.
	UseConfiguration(cfg *Configuration) error
}
