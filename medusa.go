// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package medusa

import (
	"os"

	"github.com/pkg/errors"

	"github.com/medusa-re/medusa/log"
)

// Medusa is the analysis engine facade: it owns the document, the task
// manager and the analyzer, and wires the providers together.
type Medusa struct {
	doc         *Document
	taskManager *TaskManager
	analyzer    *Analyzer
	modMgr      *ModuleManager
	binStream   *BinaryStream
	db          Database
	arch        Architecture
	archTag     ArchitectureTag
	opts        *Options
	logger      *log.Helper
}

// Options for the engine.
type Options struct {

	// The module manager holding the providers. Defaults to the process
	// wide instance.
	ModuleManager *ModuleManager

	// A custom logger.
	Logger log.Logger
}

// New instantiates an engine over the named binary file. The file is
// memory mapped read-only.
func New(name string, opts *Options) (*Medusa, error) {
	bs, err := NewFileBinaryStream(name)
	if err != nil {
		return nil, err
	}
	return newMedusa(bs, opts), nil
}

// NewBytes instantiates an engine over a memory buffer.
func NewBytes(data []byte, opts *Options) (*Medusa, error) {
	return newMedusa(NewMemoryBinaryStream(data), opts), nil
}

func newMedusa(bs *BinaryStream, opts *Options) *Medusa {
	m := &Medusa{binStream: bs}
	if opts != nil {
		m.opts = opts
	} else {
		m.opts = &Options{}
	}

	if m.opts.Logger == nil {
		logger := log.NewStdLogger(os.Stdout)
		m.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		m.logger = log.NewHelper(m.opts.Logger)
	}

	m.modMgr = m.opts.ModuleManager
	if m.modMgr == nil {
		m.modMgr = Instance()
	}

	m.doc = NewDocument(m.logger)
	m.analyzer = NewAnalyzer(m.modMgr, m.logger)
	m.taskManager = NewTaskManager(func(task *Task) {
		m.logger.Infof("task %q is done", task.Name())
	})
	m.taskManager.SetLogger(m.logger)
	m.taskManager.Start()
	return m
}

// Close tears the engine down: the task queue is drained, subscribers
// are notified, and the stream and database handles are released.
func (m *Medusa) Close() error {
	m.taskManager.Stop()
	m.doc.Quit()

	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Warnf("database close failed, reason: %v", err)
		}
	}
	if m.binStream != nil {
		return m.binStream.Close()
	}
	return nil
}

// Document returns the analyzed representation.
func (m *Medusa) Document() *Document {
	return m.doc
}

// BinaryStream returns the engine's view over the binary.
func (m *Medusa) BinaryStream() *BinaryStream {
	return m.binStream
}

// AddTask submits a task to the worker pool.
func (m *Medusa) AddTask(task *Task) error {
	return m.taskManager.AddTask(task)
}

// WaitForTasks blocks until every submitted task completed.
func (m *Medusa) WaitForTasks() {
	m.taskManager.Wait()
}

// Start wires the providers and launches the initial analysis: the
// stream takes the architecture byte order, the database binds stream
// and document, the loader maps the binary, then the disassembly and
// string finding passes are enqueued.
func (m *Medusa) Start(ldr Loader, arch Architecture, system OperatingSystem, db Database) error {
	m.arch = arch
	m.archTag = m.modMgr.RegisterArchitecture(arch)
	m.db = db

	// Set the endianness for the binary stream.
	m.binStream.SetEndianness(arch.Endianness())

	// Set the binary stream to the database.
	if err := db.SetBinaryStream(m.binStream); err != nil {
		return errors.Wrapf(ErrProviderFailure, "database %s: %v", db.Name(), err)
	}

	// Set the database to the document.
	m.doc.Use(db)

	m.analyzer.SetOperatingSystem(system)

	// Map the file to the document.
	if err := ldr.Map(m.doc); err != nil {
		return errors.Wrapf(ErrProviderFailure, "loader %s: %v", ldr.Name(), err)
	}

	// Disassemble the file with the default analyzer.
	entry, _ := m.doc.GetAddressFromLabelName("start")
	mode := arch.DefaultMode(entry)
	if err := m.AddTask(m.analyzer.CreateDisassembleAllFunctionsTask(
		m.doc, arch, m.archTag, mode)); err != nil {
		return err
	}

	// Find all strings using the previous analysis.
	return m.AddTask(m.analyzer.CreateFindAllStringTask(m.doc))
}

// Analyze enqueues a targeted disassembly at addr. A nil architecture is
// resolved from the cell tag and a zero mode from the cell then the
// architecture default; when nothing resolves the call fails with
// ErrNotFound.
func (m *Medusa) Analyze(addr Address, arch Architecture, mode uint8) error {
	var cell Cell

	if mode == 0 || arch == nil {
		cell = m.doc.GetCell(addr)
	}
	if mode == 0 && cell != nil {
		mode = cell.Mode()
	}

	if arch == nil {
		if cell == nil {
			return ErrNotFound
		}
		arch = m.modMgr.GetArchitecture(cell.ArchitectureTag())
		if arch == nil {
			return ErrNotFound
		}
	}

	if mode == 0 {
		mode = arch.DefaultMode(addr)
	}

	tag := m.modMgr.RegisterArchitecture(arch)
	return m.AddTask(m.analyzer.CreateDisassembleTask(m.doc, addr, arch, tag, mode))
}

// GetCell returns the cell at addr, or nil.
func (m *Medusa) GetCell(addr Address) Cell {
	return m.doc.GetCell(addr)
}

// GetMultiCell returns the multicell headed at addr, or nil.
func (m *Medusa) GetMultiCell(addr Address) MultiCell {
	return m.doc.GetMultiCell(addr)
}

// FormatCell renders the cell at addr with highlighting marks.
func (m *Medusa) FormatCell(addr Address, cell Cell) (string, []Mark, error) {
	return m.analyzer.FormatCell(m.doc, addr, cell)
}

// FormatMultiCell renders the multicell at addr with highlighting marks.
func (m *Medusa) FormatMultiCell(addr Address, mc MultiCell) (string, []Mark, error) {
	return m.analyzer.FormatMultiCell(m.doc, addr, mc)
}

// BuildControlFlowGraph reconstructs the basic block graph of the
// function entered at addr.
func (m *Medusa) BuildControlFlowGraph(addr Address) (*ControlFlowGraph, error) {
	return m.analyzer.BuildControlFlowGraph(m.doc, addr)
}

// CreateFunction materializes a function at addr, running the operating
// system hook when one is installed.
func (m *Medusa) CreateFunction(addr Address) bool {
	return m.analyzer.CreateFunction(m.doc, addr)
}

// TrackOperand walks forward from addr driving the tracker.
func (m *Medusa) TrackOperand(addr Address, tracker Tracker) {
	m.analyzer.TrackOperand(m.doc, addr, tracker)
}

// BacktrackOperand walks backward from addr driving the tracker.
func (m *Medusa) BacktrackOperand(addr Address, tracker Tracker) {
	m.analyzer.BacktrackOperand(m.doc, addr, tracker)
}

// MakeAddress builds an address inside the mapped image.
func (m *Medusa) MakeAddress(base uint16, offset uint64) Address {
	return m.doc.MakeAddress(base, offset)
}
