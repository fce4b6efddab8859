// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"errors"
	"strings"
)

const (
	// MinStringLength is the fewest characters the string finder reports.
	MinStringLength = 4

	// OperandCount is the number of operand slots an instruction carries.
	OperandCount = 4
)

// Errors
var (

	// ErrOutOfRange is returned when an access lands beyond the stream or
	// the mapped image limits.
	ErrOutOfRange = errors.New("access out of range")

	// ErrOverlap is returned when a memory area insertion would intersect
	// an already mapped area.
	ErrOverlap = errors.New("memory areas overlap")

	// ErrConflict names a cell or multicell write that would overlap
	// existing content without force. Document.SetCell and
	// Document.SetMultiCell report such a rejection by returning false.
	ErrConflict = errors.New("cell write conflicts with existing content")

	// ErrNotFound is returned when a provider, cell, label or memory area
	// cannot be resolved.
	ErrNotFound = errors.New("not found")

	// ErrNotRunning is returned when a task is submitted to a stopped
	// task manager.
	ErrNotRunning = errors.New("task manager is not running")

	// ErrInvalidConfiguration is returned on a configuration value type
	// mismatch.
	ErrInvalidConfiguration = errors.New("invalid configuration value")

	// ErrNoSuchFunction is returned when a control flow graph is requested
	// at an address holding no instruction.
	ErrNoSuchFunction = errors.New("no function at the given address")

	// ErrProviderFailure is returned when an underlying loader,
	// architecture or database reported an error.
	ErrProviderFailure = errors.New("provider failure")

	// ErrClosed is returned when the database was already closed.
	ErrClosed = errors.New("database is closed")
)

// Max returns the larger of x or y.
func Max(x, y uint64) uint64 {
	if x < y {
		return y
	}
	return x
}

// Min returns the smaller of x or y.
func Min(x, y uint64) uint64 {
	if x < y {
		return x
	}
	return y
}

// IsPrintable checks whether a string is printable.
func IsPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isPrintableByte(s[i]) {
			return false
		}
	}
	return true
}

// isPrintableByte reports whether b belongs to the character set the
// string finder accepts inside a candidate string.
func isPrintableByte(b byte) bool {
	alphabet := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numerals := "0123456789"
	whitespace := " \t"
	special := "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	charset := alphabet + numerals + whitespace + special
	return strings.IndexByte(charset, b) >= 0
}

// IsValidLabelName returns true if the name only uses characters accepted
// in label identifiers.
func IsValidLabelName(name string) bool {
	if name == "" {
		return false
	}
	alphabet := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numerals := "0123456789"
	special := "_?@$."
	charset := alphabet + numerals + special
	for _, c := range name {
		if !strings.ContainsRune(charset, c) {
			return false
		}
	}
	return true
}
