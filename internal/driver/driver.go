// Package driver orchestrates one full compilation run: lex, parse,
// analyze, optimize, generate IR, then hand every function to
// internal/backend in parallel. It mirrors the product's own
// internal/build.Builder.Build - a fixed sequence of named stages, each
// printing its own progress line - but fans the per-function backend
// work out across goroutines via golang.org/x/sync/errgroup instead of
// compiling one bytecode blob serially, since AArch64 codegen for
// independent functions has no cross-function ordering dependency.
package driver

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/albanread/fasterbasic/internal/astopt"
	"github.com/albanread/fasterbasic/internal/backend"
	"github.com/albanread/fasterbasic/internal/cache"
	"github.com/albanread/fasterbasic/internal/cfg"
	"github.com/albanread/fasterbasic/internal/clog"
	"github.com/albanread/fasterbasic/internal/codegen"
	"github.com/albanread/fasterbasic/internal/config"
	"github.com/albanread/fasterbasic/internal/diag"
	"github.com/albanread/fasterbasic/internal/diagserver"
	cerrors "github.com/albanread/fasterbasic/internal/errors"
	"github.com/albanread/fasterbasic/internal/ir"
	"github.com/albanread/fasterbasic/internal/lexer"
	"github.com/albanread/fasterbasic/internal/llvmemit"
	"github.com/albanread/fasterbasic/internal/parser"
	"github.com/albanread/fasterbasic/internal/sema"
)

// Result is what one Run call produces: the generated IR, per-function
// assembly keyed by function name, and any diagnostics the front end
// raised along the way (empty on a clean compile).
type Result struct {
	Module *ir.Module
	Asm    map[string]string
	Data   string // module-level .data section text, emitted once (not per function)
	Diags  *diag.Bag
}

// Driver owns the ambient services a compilation run shares: the
// console logger, the content-addressed artifact cache, and (if
// configured) the live diagnostics broadcaster.
type Driver struct {
	Log   *clog.Logger
	Cache *cache.Store
	Diag  *diagserver.Server
	Opts  config.CompileOptions
}

// New builds a Driver from opts, opening the on-disk cache and starting
// the diagnostics server when configured.
func New(opts config.CompileOptions) (*Driver, error) {
	lvl := clog.Info
	if opts.Verbose {
		lvl = clog.Debug
	}
	d := &Driver{Log: clog.New(os.Stdout, lvl), Opts: opts}

	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
			return nil, cerrors.Wrap(cerrors.StageDriver, "cache dir", err)
		}
		store, err := cache.Open(opts.CacheDir + "/artifacts.db")
		if err != nil {
			return nil, cerrors.Wrap(cerrors.StageDriver, "cache open", err)
		}
		d.Cache = store
	}

	if opts.DiagAddr != "" {
		srv := diagserver.New(opts.DiagAddr)
		if err := srv.Start(); err != nil {
			return nil, cerrors.Wrap(cerrors.StageDriver, "diagserver start", err)
		}
		d.Diag = srv
	}

	return d, nil
}

// Close tears down the services New started.
func (d *Driver) Close() error {
	if d.Diag != nil {
		d.Diag.Stop()
	}
	if d.Cache != nil {
		return d.Cache.Close()
	}
	return nil
}

// Run compiles source (one FasterBASIC program) through every stage.
// Each front-end stage stops the pipeline if it produced any Error-level
// diagnostic; the caller is expected to print Result.Diags either way.
func (d *Driver) Run(ctx context.Context, file, source string) (*Result, error) {
	stop := d.stage("lex")
	toks, bag := lexer.Tokenize(file, source)
	stop()
	if bag.HasErrors() {
		return &Result{Diags: bag}, nil
	}

	stop = d.stage("parse")
	prog, pbag := parser.Parse(file, toks)
	bag.Merge(pbag)
	stop()
	if bag.HasErrors() {
		return &Result{Diags: bag}, nil
	}

	stop = d.stage("sema")
	res, sbag := sema.Analyze(prog)
	bag.Merge(sbag)
	stop()
	if bag.HasErrors() {
		return &Result{Diags: bag}, nil
	}

	stop = d.stage("astopt")
	astopt.Optimize(prog)
	stop()

	stop = d.stage("cfg")
	cfg.Build(prog)
	stop()

	stop = d.stage("codegen")
	mod, err := codegen.Generate(prog, res)
	stop()
	if err != nil {
		return nil, cerrors.Wrap(cerrors.StageCodegen, "generate", err)
	}

	if errs := mod.Verify(); len(errs) > 0 {
		return nil, cerrors.New(cerrors.StageCodegen, "verify", errs[0].Error())
	}
	if d.Opts.Verbose {
		d.Log.Dump("ir module", mod)
	}

	if d.Opts.EmitLLVMIR {
		if _, err := llvmemit.Lower(mod); err != nil {
			d.Log.Warnf("llvm ir lowering skipped: %v", err)
		}
	}

	asmByFunc, err := d.emitBackend(ctx, mod)
	if err != nil {
		return nil, err
	}

	var dataAsm string
	if len(mod.Data) > 0 {
		// Emitted once from a Funcs-less module, not per function: the
		// parallel fan-out in emitBackend strips Data from each
		// single-function module it hands to EmitAsm, so every
		// .globl/.data block stays unique in the assembled output
		// instead of being repeated once per function.
		dataAsm, err = backend.EmitAsm(&ir.Module{Data: mod.Data}, d.Opts.Target)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.StageBackend, "data section", err)
		}
	}

	return &Result{Module: mod, Asm: asmByFunc, Data: dataAsm, Diags: bag}, nil
}

// emitBackend fans EmitAsm for every function in mod out across
// goroutines, checking the cache before assembling and populating it
// afterward, and, when a server is attached, publishing a diagserver
// event for each function it assembles (a cache hit publishes none).
func (d *Driver) emitBackend(ctx context.Context, mod *ir.Module) (map[string]string, error) {
	stop := d.stage("backend")
	defer stop()

	asm := make([]string, len(mod.Funcs))
	g, gctx := errgroup.WithContext(ctx)

	for i, fn := range mod.Funcs {
		i, fn := i, fn
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			single := &ir.Module{Funcs: []*ir.Function{fn}}
			text := single.Text()
			key := cache.HashText(text)

			if d.Cache != nil {
				if cached, ok, err := d.Cache.Get(key, "asm:"+d.Opts.Target); err == nil && ok {
					asm[i] = string(cached)
					return nil
				}
			}

			out, err := backend.EmitAsm(single, d.Opts.Target)
			if err != nil {
				return cerrors.Wrapf(cerrors.StageBackend, err, "function %s", fn.Name)
			}
			asm[i] = out

			if d.Cache != nil {
				_ = d.Cache.Put(key, "asm:"+d.Opts.Target, []byte(out))
			}
			if d.Diag != nil {
				d.Diag.Publish(diagserver.Event{Kind: diagserver.EventStageFinished, Stage: "backend:" + fn.Name})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make(map[string]string, len(mod.Funcs))
	for i, fn := range mod.Funcs {
		results[fn.Name] = asm[i]
	}
	return results, nil
}

func (d *Driver) stage(name string) func() {
	if d.Diag != nil {
		d.Diag.Publish(diagserver.Event{Kind: diagserver.EventStageStarted, Stage: name})
	}
	done := d.Log.Stage(name)
	t0 := time.Now()
	return func() {
		done()
		if d.Diag != nil {
			d.Diag.Publish(diagserver.Event{Kind: diagserver.EventStageFinished, Stage: name, ElapsedMS: time.Since(t0).Milliseconds()})
		}
	}
}
