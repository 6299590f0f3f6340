// cmd/fasterbasic/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/albanread/fasterbasic/internal/config"
	"github.com/albanread/fasterbasic/internal/driver"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "build":
		err = buildCommand(rest)
	case "--version", "-v", "version":
		fmt.Printf("fasterbasic %s\n", version)
	case "--help", "-h", "help":
		showUsage()
	default:
		fmt.Fprintf(os.Stderr, "fasterbasic: unknown command %q\n", cmd)
		showUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fasterbasic: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`usage: fasterbasic <command> [args]

commands:
  build [project-dir]   compile the project's entry point to AArch64 assembly
  version                print the version
  help                    show this message`)
}

// buildCommand loads the project manifest, runs the full pipeline over its
// entry point, prints any diagnostics, and writes the assembled output.
func buildCommand(args []string) error {
	projectRoot := "."
	if len(args) > 0 {
		projectRoot = args[0]
	}
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}

	manifest, err := config.Load(absRoot)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	opts := manifest.Build

	d, err := driver.New(opts)
	if err != nil {
		return fmt.Errorf("init driver: %w", err)
	}
	defer d.Close()

	entryPath := filepath.Join(absRoot, opts.EntryPoint)
	source, err := os.ReadFile(entryPath)
	if err != nil {
		return fmt.Errorf("read entry point: %w", err)
	}

	result, err := d.Run(context.Background(), opts.EntryPoint, string(source))
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	for _, diagnostic := range result.Diags.All() {
		fmt.Fprintln(os.Stderr, diagnostic.Error())
	}
	if result.Diags.HasErrors() {
		return fmt.Errorf("build failed with %d diagnostic(s)", result.Diags.Len())
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(opts.OutputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	for _, fn := range result.Module.Funcs {
		asm, ok := result.Asm[fn.Name]
		if !ok {
			continue
		}
		if _, err := fmt.Fprintln(out, asm); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	if result.Data != "" {
		if _, err := fmt.Fprintln(out, result.Data); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	if info, err := out.Stat(); err == nil {
		d.Log.Wrote(opts.OutputPath, info.Size())
	} else {
		fmt.Printf("wrote %s\n", opts.OutputPath)
	}
	return nil
}
