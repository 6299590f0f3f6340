// Package config aggregates the options one compilation run needs -
// target, optimization level, output path, cache/diagnostics wiring -
// the way the product's own internal/build.BuildConfig/ProjectManifest
// pair did: a JSON-serializable struct with defaults filled in by
// loadManifest-style fallback logic when no project file is present,
// rather than a flag-only configuration that can't be checked into a
// project.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// OptLevel is the code generator / backend optimization tier.
type OptLevel int

const (
	OptNone OptLevel = iota
	OptSpeed
)

// CompileOptions is one compilation run's full configuration: entry
// source file, target triple, optimization level, output path, and the
// ambient services (cache directory, diagnostics server address) the
// driver wires up around the pipeline.
type CompileOptions struct {
	EntryPoint  string   `json:"entry_point"`
	Target      string   `json:"target"` // e.g. "arm64-apple-darwin", "arm64-linux-gnu"
	OptLevel    OptLevel `json:"opt_level"`
	OutputPath  string   `json:"output_path"`
	CacheDir    string   `json:"cache_dir"`
	DiagAddr    string   `json:"diag_addr"` // empty disables the diagserver
	EmitLLVMIR  bool     `json:"emit_llvm_ir"`
	Verbose     bool     `json:"verbose"`
}

// Manifest is a FasterBASIC project file (fasterbasic.json), mirroring
// the product's own sentra.json project manifest: name/version metadata
// plus an embedded build configuration section.
type Manifest struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Build   CompileOptions  `json:"build"`
}

// Load reads fasterbasic.json from projectRoot, falling back to a
// manifest with sane defaults (entry point main.bas, native target, no
// optimization) when the file doesn't exist - the same
// exists-or-synthesize-defaults shape loadManifest used.
func Load(projectRoot string) (*Manifest, error) {
	path := filepath.Join(projectRoot, "fasterbasic.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultManifest(projectRoot), nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	applyDefaults(&m, projectRoot)
	return &m, nil
}

func defaultManifest(projectRoot string) *Manifest {
	m := &Manifest{Name: filepath.Base(projectRoot), Version: "0.1.0"}
	applyDefaults(m, projectRoot)
	return m
}

func applyDefaults(m *Manifest, projectRoot string) {
	if m.Build.EntryPoint == "" {
		m.Build.EntryPoint = "main.bas"
	}
	if m.Build.Target == "" {
		m.Build.Target = "arm64"
	}
	if m.Build.OutputPath == "" {
		m.Build.OutputPath = filepath.Join(projectRoot, "dist", m.Name+".s")
	}
	if m.Build.CacheDir == "" {
		m.Build.CacheDir = filepath.Join(projectRoot, ".fasterbasic", "cache")
	}
}

// Save writes m back to fasterbasic.json under projectRoot, pretty
// printed, matching the MarshalIndent convention the product's builder
// used for every manifest/bundle it wrote.
func Save(projectRoot string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(projectRoot, "fasterbasic.json"), data, 0644)
}
