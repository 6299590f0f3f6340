// Package jit hands machine code the backend driver assembled for a hot
// routine a page of W^X executable memory and an entry point to call it
// through. It replaces the interpreter-tier bytecode profiler the
// product used for its own VM with one that profiles native routine
// call counts and triggers the same internal/backend ARM64 encoder the
// ahead-of-time path uses, so a routine gets machine code the first time
// it looks hot rather than only at whole-program compile time.
package jit

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	cerrors "github.com/albanread/fasterbasic/internal/errors"
)

// Tier mirrors the product's own tiered-compilation vocabulary,
// narrowed to what an AOT-first compiler actually needs: routines start
// interpreted (or, here, run from the already-emitted AOT binary) and
// get a standalone JIT'd copy once they cross the hot-call threshold.
type Tier int

const (
	TierBaseline Tier = iota
	TierJIT
)

// hotThreshold is the call count, inherited from the product's own
// tiered profiler, at which a routine is recompiled instead of left to
// run through the baseline path.
const hotThreshold = 1000

// Profiler counts calls per routine name and reports when one has
// crossed the hot threshold, the same signal the product's own
// Profiler.RecordCall used to decide when to escalate a tier.
type Profiler struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewProfiler() *Profiler {
	return &Profiler{counts: make(map[string]int)}
}

// RecordCall bumps the call count for name and returns true exactly once,
// the call that brings it to hotThreshold.
func (p *Profiler) RecordCall(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[name]++
	return p.counts[name] == hotThreshold
}

// Region is one mmap'd, page-aligned block of executable memory backing
// a single JIT'd routine. Code is written while the mapping is
// read/write, then the mapping is flipped to read/exec and never
// written again: the W^X discipline the runtime's SAMM allocator is
// exempt from but machine code never is.
type Region struct {
	mem []byte
}

// Alloc copies code into a fresh executable mapping sized to the next
// page boundary and returns the Region owning it. Callers must call
// Free when the routine is retired (on REDIM-class invalidation, or
// program exit).
func Alloc(code []byte) (*Region, error) {
	if len(code) == 0 {
		return nil, cerrors.New(cerrors.StageJIT, "alloc", "empty machine code buffer")
	}
	pageSize := unix.Getpagesize()
	size := ((len(code) + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.StageJIT, "mmap", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, cerrors.Wrap(cerrors.StageJIT, "mprotect", err)
	}
	return &Region{mem: mem}, nil
}

// Free unmaps the region. Calling any entry point obtained from it after
// Free is undefined behavior - the caller owns that lifetime.
func (r *Region) Free() error {
	if r == nil || r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

// Entry returns the region's base address as a callable entry point.
func (r *Region) Entry() uintptr {
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

// CallWord invokes a Region holding a routine compiled with the
// zero-argument, word-returning entry convention the top-level program
// and every SUB/FUNCTION body share once scope_push/scope_pop and
// parameters have been baked into the machine code (the backend driver
// never emits a routine that takes raw arguments through this path; by-ref
// and by-value parameters are already materialized in the caller's own
// generated code before the call instruction). Reinterpreting a Go func
// value's code pointer this way only works for the exact signature
// declared here - it is not a general calling-convention bridge.
func CallWord(r *Region) (ret int32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = cerrors.New(cerrors.StageJIT, "call", fmt.Sprintf("recovered panic calling JIT'd entry: %v", rec))
		}
	}()
	var fn func() int32
	*(*uintptr)(unsafe.Pointer(&fn)) = r.Entry()
	return fn(), nil
}

// Engine owns every live JIT'd region, keyed by routine name, and the
// profiler deciding when a new one gets built.
type Engine struct {
	Profiler *Profiler

	mu      sync.Mutex
	regions map[string]*Region
}

func NewEngine() *Engine {
	return &Engine{Profiler: NewProfiler(), regions: make(map[string]*Region)}
}

// Install registers freshly assembled machine code for name, replacing
// (and freeing) any prior JIT'd copy.
func (e *Engine) Install(name string, code []byte) (*Region, error) {
	r, err := Alloc(code)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if old, ok := e.regions[name]; ok {
		old.Free()
	}
	e.regions[name] = r
	e.mu.Unlock()
	return r, nil
}

// Lookup returns name's installed region, if any.
func (e *Engine) Lookup(name string) (*Region, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.regions[name]
	return r, ok
}

// Close frees every region the engine owns.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for name, r := range e.regions {
		if err := r.Free(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.regions, name)
	}
	return firstErr
}
