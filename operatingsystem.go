// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

// OperatingSystem is the contract of an operating system convention
// back-end. It refines freshly created functions with OS specific
// knowledge (calling conventions, known entry shapes, system calls).
type OperatingSystem interface {

	// Name returns the operating system name, e.g. "linux".
	Name() string

	// IsSupported reports whether this operating system matches the
	// loader and architecture pair.
	IsSupported(ldr Loader, arch Architecture) bool

	// AnalyzeFunction runs OS specific analysis on a function entry after
	// the function multicell has been created.
	AnalyzeFunction(doc *Document, entry Address, anlz *Analyzer) error
}
