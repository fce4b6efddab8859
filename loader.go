// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

// Loader is the mapping contract of a container format back-end.
type Loader interface {

	// Name returns the loader name, e.g. "raw".
	Name() string

	// Recognize probes the stream and reports whether the loader handles
	// its container format.
	Recognize(stream *BinaryStream) bool

	// Map populates the memory map and the initial labels (entry point,
	// imports, exports) of a document carrying an attached binary stream.
	Map(doc *Document) error

	// GetMainArchitecture picks the matching architecture among the
	// available ones, or nil when none fits.
	GetMainArchitecture(available []Architecture) Architecture

	// FillConfigurationModel declares the loader options.
	FillConfigurationModel(model *ConfigurationModel)

	// Configure applies a configuration built from the model.
	Configure(cfg *Configuration) error
}
