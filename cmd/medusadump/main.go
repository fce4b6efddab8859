// Copyright 2022 Medusa. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"

	medusa "github.com/medusa-re/medusa"
	"github.com/medusa-re/medusa/log"
)

var (
	verbose     bool
	baseAddress string
	bitSize     uint32
	writable    bool
	dbName      string
	modulePath  string
)

func main() {
	mm := medusa.Instance()
	mm.RegisterLoaderFactory(func() medusa.Loader { return medusa.NewRawLoader() })
	mm.RegisterDatabaseFactory(func() medusa.Database { return medusa.NewMemoryDatabase() })
	mm.RegisterDatabaseFactory(func() medusa.Database { return medusa.NewFileDatabase() })

	rootCmd := &cobra.Command{
		Use:   "medusadump",
		Short: "Analyze a binary and dump the resulting document",
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <binary>",
		Short: "Run the full analysis over a binary",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runAnalyze(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	analyzeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"Print document change notifications")
	analyzeCmd.Flags().StringVar(&baseAddress, "base", "0",
		"Load address for flat images, as hex")
	analyzeCmd.Flags().Uint32Var(&bitSize, "bits", 32,
		"Address width for flat images (16, 32 or 64)")
	analyzeCmd.Flags().BoolVar(&writable, "writable", false,
		"Map flat images writable")
	analyzeCmd.Flags().StringVar(&dbName, "database",
		env.Str("MEDUSA_DATABASE", "memory"),
		"Database provider (memory or file)")
	analyzeCmd.Flags().StringVar(&modulePath, "modules",
		env.Str("MEDUSA_MODULES", "."),
		"Provider module search path")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("medusadump 0.1.0")
		},
	}

	rootCmd.AddCommand(analyzeCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAnalyze(path string) error {
	logLevel := log.LevelError
	if verbose {
		logLevel = log.LevelDebug
	}
	logger := log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(logLevel))

	mm := medusa.Instance()
	m, err := medusa.New(path, &medusa.Options{
		ModuleManager: mm,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	mm.LoadModules(modulePath, m.BinaryStream())

	loaders := mm.GetLoaders()
	if len(loaders) == 0 {
		return fmt.Errorf("no loader recognizes %q", path)
	}
	ldr := loaders[0]
	fmt.Printf("Interpreting executable format using %q\n", ldr.Name())

	archs := mm.GetArchitectures()
	arch := ldr.GetMainArchitecture(archs)
	if arch == nil && len(archs) > 0 {
		arch = archs[0]
	}
	if arch == nil {
		return fmt.Errorf("no architecture available; register one before analyzing")
	}
	fmt.Printf("Decoding instructions using %q\n", arch.Name())

	var model medusa.ConfigurationModel
	arch.FillConfigurationModel(&model)
	ldr.FillConfigurationModel(&model)
	cfg := model.Configuration()
	if err := cfg.SetString(medusa.RawOptionBaseAddress, baseAddress); err != nil {
		return err
	}
	if err := cfg.SetEnum(medusa.RawOptionBitSize, bitSize); err != nil {
		return err
	}
	if err := cfg.SetBool(medusa.RawOptionWritable, writable); err != nil {
		return err
	}
	if err := ldr.Configure(cfg); err != nil {
		return err
	}
	if err := arch.UseConfiguration(cfg); err != nil {
		return err
	}

	db, err := pickDatabase(mm, path)
	if err != nil {
		return err
	}

	system := mm.GetOperatingSystem(ldr, arch)

	if verbose {
		mask := medusa.LabelUpdatedEvent | medusa.DocumentUpdatedEvent |
			medusa.CellUpdatedEvent | medusa.MemoryAreaUpdatedEvent |
			medusa.QuitEvent
		m.Document().Subscribe(&printView{}, mask)
	}

	if err := m.Start(ldr, arch, system, db); err != nil {
		return err
	}
	m.WaitForTasks()

	return dumpDocument(m)
}

func pickDatabase(mm *medusa.ModuleManager, path string) (medusa.Database, error) {
	for _, db := range mm.GetDatabases() {
		if db.Name() != dbName {
			continue
		}
		if ext := db.Extension(); ext != "" {
			if err := db.Create(path+ext, true); err != nil {
				return nil, err
			}
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown database %q", dbName)
}
