package backend

import "github.com/albanread/fasterbasic/internal/ir"

// slotSize is the width of every stack slot. Nothing narrower than a
// double-word is handed out: ARM64 wants 8-byte SP-relative alignment for
// the str/ldr forms this package emits, and a uniform width means the
// frame layout never needs per-type padding logic.
const slotSize = 8

// savedRegsSize is the frame-pointer/link-register pair every non-leaf
// function saves in its prologue.
const savedRegsSize = 16

// FrameLayout assigns every parameter, local, and SSA-style temporary in
// a function its own SP-relative stack slot. It is deliberately a
// baseline allocator: no liveness analysis, no graph coloring, no
// register promotion. Every value that codegen gave a name lives in
// memory for its whole lifetime and is reloaded on every use. This
// trades code density for the only property this stage actually needs -
// a frame that never runs out of registers, because it barely uses any -
// and keeps the backend's first working version small enough to get
// right by reading it. A register-promoting allocator is future work,
// not attempted here.
type FrameLayout struct {
	Func *ir.Function
	// slots maps every temp/local/param name (the unprefixed name, e.g.
	// "total" or "t3") to its declared type. order holds the same names in
	// slot order; a name's position in order fixes its byte offset from
	// the frame pointer (x29), counted downward from the saved-registers
	// block (see Offset).
	slots map[string]ir.Type
	order []string
	// Size is the full, 16-byte-aligned frame size passed to `sub
	// sp, sp, #Size`.
	Size int
}

// BuildFrame scans every parameter, local declaration, and instruction
// result across all of fn's blocks and assigns each a slot. Scanning
// instruction results (rather than trusting only the declared Locals
// list) is what makes this allocator also cover the unnamed %t0, %t1...
// temporaries codegen emits for intermediate expression values - those
// never appear in Locals, only as instruction results.
func BuildFrame(fn *ir.Function) *FrameLayout {
	fr := &FrameLayout{Func: fn, slots: make(map[string]ir.Type)}

	add := func(name string, ty ir.Type) {
		if _, ok := fr.slots[name]; ok {
			return
		}
		fr.slots[name] = ty
		fr.order = append(fr.order, name)
	}

	for _, p := range fn.Params {
		add(p.Name, p.Type)
	}
	for _, l := range fn.Locals {
		add(l.Name, l.Type)
	}
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Result != "" {
				add(in.Result, in.Type)
			}
		}
	}

	raw := savedRegsSize + len(fr.order)*slotSize
	fr.Size = (raw + 15) &^ 15
	return fr
}

// Offset returns the byte offset of name below the frame pointer (x29),
// i.e. the slot is addressed as `[x29, #-Offset]`. The second return is
// false if name was never seen by BuildFrame.
func (fr *FrameLayout) Offset(name string) (int, bool) {
	for i, n := range fr.order {
		if n == name {
			return (i + 1) * slotSize, true
		}
	}
	_, ok := fr.slots[name]
	return 0, ok
}

// TypeOf returns the declared type of a known slot.
func (fr *FrameLayout) TypeOf(name string) (ir.Type, bool) {
	ty, ok := fr.slots[name]
	return ty, ok
}
