// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"sync"
)

// Provider factories. Factories are registered once at program start;
// LoadModules instantiates them against a concrete binary.
type (
	LoaderFactory          func() Loader
	ArchitectureFactory    func() Architecture
	OperatingSystemFactory func() OperatingSystem
	DatabaseFactory        func() Database
)

// ModuleManager is the registry of discovered providers. Factory
// registrations happen before the engine starts; after LoadModules the
// getters only read immutable state.
type ModuleManager struct {
	mu sync.Mutex

	loaderFactories []LoaderFactory
	archFactories   []ArchitectureFactory
	osFactories     []OperatingSystemFactory
	dbFactories     []DatabaseFactory

	loaders       []Loader
	architectures []Architecture
	systems       []OperatingSystem
	databases     []Database

	nextTag ArchitectureTag
	byTag   map[ArchitectureTag]Architecture
	tags    map[Architecture]ArchitectureTag
}

var (
	moduleManagerOnce sync.Once
	moduleManager     *ModuleManager
)

// Instance returns the process-wide module manager, creating it lazily.
// Embedders hosting several engines should prefer NewModuleManager and
// pass the handle around.
func Instance() *ModuleManager {
	moduleManagerOnce.Do(func() {
		moduleManager = NewModuleManager()
	})
	return moduleManager
}

// NewModuleManager returns an empty registry.
func NewModuleManager() *ModuleManager {
	return &ModuleManager{
		nextTag: 1,
		byTag:   make(map[ArchitectureTag]Architecture),
		tags:    make(map[Architecture]ArchitectureTag),
	}
}

// RegisterLoaderFactory adds a loader factory.
func (mm *ModuleManager) RegisterLoaderFactory(f LoaderFactory) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.loaderFactories = append(mm.loaderFactories, f)
}

// RegisterArchitectureFactory adds an architecture factory.
func (mm *ModuleManager) RegisterArchitectureFactory(f ArchitectureFactory) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.archFactories = append(mm.archFactories, f)
}

// RegisterOperatingSystemFactory adds an operating system factory.
func (mm *ModuleManager) RegisterOperatingSystemFactory(f OperatingSystemFactory) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.osFactories = append(mm.osFactories, f)
}

// RegisterDatabaseFactory adds a database factory.
func (mm *ModuleManager) RegisterDatabaseFactory(f DatabaseFactory) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.dbFactories = append(mm.dbFactories, f)
}

// LoadModules instantiates every registered factory. Loaders are offered
// probeStream and only self-register when they recognize its container
// format. The searchPath parameter names the plugin directory; provider
// discovery from disk is delegated to the embedding program, which
// registers factories for whatever it found there.
func (mm *ModuleManager) LoadModules(searchPath string, probeStream *BinaryStream) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	_ = searchPath

	mm.loaders = mm.loaders[:0]
	for _, f := range mm.loaderFactories {
		ldr := f()
		if ldr.Recognize(probeStream) {
			mm.loaders = append(mm.loaders, ldr)
		}
	}

	mm.architectures = mm.architectures[:0]
	for _, f := range mm.archFactories {
		mm.architectures = append(mm.architectures, f())
	}

	mm.systems = mm.systems[:0]
	for _, f := range mm.osFactories {
		mm.systems = append(mm.systems, f())
	}

	mm.databases = mm.databases[:0]
	for _, f := range mm.dbFactories {
		mm.databases = append(mm.databases, f())
	}
}

// GetLoaders returns the loaders that recognized the probed binary.
func (mm *ModuleManager) GetLoaders() []Loader {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return append([]Loader(nil), mm.loaders...)
}

// GetArchitectures returns the instantiated architectures.
func (mm *ModuleManager) GetArchitectures() []Architecture {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return append([]Architecture(nil), mm.architectures...)
}

// GetDatabases returns the instantiated databases.
func (mm *ModuleManager) GetDatabases() []Database {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return append([]Database(nil), mm.databases...)
}

// GetOperatingSystem returns the first operating system supporting the
// loader and architecture pair, or nil.
func (mm *ModuleManager) GetOperatingSystem(ldr Loader, arch Architecture) OperatingSystem {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, os := range mm.systems {
		if os.IsSupported(ldr, arch) {
			return os
		}
	}
	return nil
}

// RegisterArchitecture hands out the tag used to stamp cells decoded by
// arch. Registering the same architecture twice returns the same tag.
func (mm *ModuleManager) RegisterArchitecture(arch Architecture) ArchitectureTag {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if tag, ok := mm.tags[arch]; ok {
		return tag
	}
	tag := mm.nextTag
	mm.nextTag++
	mm.byTag[tag] = arch
	mm.tags[arch] = tag
	return tag
}

// GetArchitecture resolves a cell tag back to its architecture, or nil.
func (mm *ModuleManager) GetArchitecture(tag ArchitectureTag) Architecture {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.byTag[tag]
}
