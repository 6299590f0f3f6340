// Package ir defines the typed, block-structured intermediate
// representation that sits between the code generator and the backend
// driver: a Module of Functions, each a sequence of labeled Blocks ending
// in a single terminator, plus a Data section for string and DATA
// literals. This is the compiler's own textual contract, not a
// general-purpose IR library's: the stable grammar in Text() is the one
// the backend driver parses, so the in-memory shape here exists purely
// to build that text incrementally and readably instead of via ad hoc
// string concatenation at every codegen call site.
package ir

import "fmt"

// Type is one of the IR's primitive types; aggregates (strings, arrays,
// UDTs) are always addressed through a pointer-typed (TyLong) temporary.
type Type uint8

const (
	TyByte Type = iota
	TyHalf
	TyWord
	TyLong
	TySingle
	TyDouble
)

// Letter is the one-character type code used in the text format: w/l/s/d/h/b.
func (t Type) Letter() string {
	switch t {
	case TyByte:
		return "b"
	case TyHalf:
		return "h"
	case TyWord:
		return "w"
	case TyLong:
		return "l"
	case TySingle:
		return "s"
	case TyDouble:
		return "d"
	}
	return "?"
}

func (t Type) String() string { return t.Letter() }

// Value is one operand of an instruction or terminator: a temporary
// reference, a symbol reference, or a typed constant.
type Value interface {
	value()
	String() string
}

// Temp is a reference to a previously defined SSA-like temporary. Every
// temp has exactly one defining instruction (enforced by Function.Verify).
type Temp struct {
	Name string // without the leading '%'
}

func (Temp) value()          {}
func (t Temp) String() string { return "%" + t.Name }

// Sym is a reference to a function or data symbol.
type Sym struct {
	Name string // without the leading '$'
}

func (Sym) value()          {}
func (s Sym) String() string { return "$" + s.Name }

// Local is the address of one routine-local storage slot (a scalar
// variable, a by-value UDT, or a compiler-introduced temporary holding a
// materialized base pointer). Function.Locals declares the type backing
// each name; every read/write goes through an explicit load/store against
// this address rather than treating the name itself as an SSA value; the
// backend gives each local its own stack slot and does not promote
// load/store pairs to registers.
type Local struct {
	Name string
}

func (Local) value()          {}
func (l Local) String() string { return "#" + l.Name }

// ConstInt is a typed integer constant (byte/half/word/long).
type ConstInt struct {
	Type Type
	Val  int64
}

func (ConstInt) value() {}
func (c ConstInt) String() string {
	return fmt.Sprintf("%s %d", c.Type.Letter(), c.Val)
}

// ConstFloat is a typed floating constant (single/double).
type ConstFloat struct {
	Type Type
	Val  float64
}

func (ConstFloat) value() {}
func (c ConstFloat) String() string {
	return fmt.Sprintf("%s %g", c.Type.Letter(), c.Val)
}

// Instr is one non-terminator instruction. Result is empty for
// instructions with no value (store).
type Instr struct {
	Result string // without '%'; empty if this instruction defines nothing
	Type   Type   // result type; meaningless if Result == ""
	Op     string // add, sub, mul, div, rem, udiv, urem, shl, shr, sar, and, or, xor,
	               // cmp_eq/cmp_ne/cmp_lt/cmp_le/cmp_gt/cmp_ge (with u/s signedness folded
	               // into the op name, e.g. cmp_lt_s), sitof, ftosi, sext, zext, trunc,
	               // load, store, addr, call, phi
	Args []Value
	// Phi-only: the predecessor block each argument in Args corresponds to.
	PhiPreds []string
	// Call-only: the callee, direct (Sym) or indirect (Temp).
	Callee Value
}

// TermKind is the terminator kind of a block.
type TermKind uint8

const (
	TermJmp TermKind = iota
	TermJnz
	TermRet
)

// Terminator ends every block; exactly one per block, always the last
// entry.
type Terminator struct {
	Kind   TermKind
	Cond   Value  // TermJnz only: the word temp tested for nonzero
	Then   string // TermJmp/TermJnz: the unconditional or true-branch target
	Else   string // TermJnz only: the false-branch target
	RetVal Value  // TermRet only: nil for a bare `ret`
}

// Block is one basic block: a label, a straight-line instruction list,
// and exactly one terminator.
type Block struct {
	Label string
	Instrs []Instr
	Term   Terminator
}

// Param is one function parameter.
type Param struct {
	Name string
	Type Type
}

// Function is one IR function lowered from a routine, or the implicit
// "main" function lowered from the top-level program.
type Function struct {
	Name    string
	RetType Type
	HasRet  bool // false for SUBs / the top-level program, which return nothing
	Params  []Param
	Locals  []Param // named stack slots for scalars/UDTs/compiler temporaries
	Blocks  []*Block
}

// DeclareLocal adds a named stack slot of the given type to the function
// and returns its address as a Value, ready to use as the first operand
// of a load/store instruction.
func (f *Function) DeclareLocal(name string, ty Type) Local {
	f.Locals = append(f.Locals, Param{Name: name, Type: ty})
	return Local{Name: name}
}

// DataItem is one element of a `data $name = { ... }` aggregate: either a
// typed scalar or a raw byte string payload (used for string literals,
// written `b "...".`).
type DataItem struct {
	Type  Type
	Int   int64
	Float float64
	Bytes string // used when Type == TyByte and IsString is set
	IsString bool
}

// Data is one named data-section entry.
type Data struct {
	Name  string
	Items []DataItem
}

// Module is the whole compilation unit's IR: every function plus the
// shared data section (string literals, the DATA/READ literal table).
type Module struct {
	Funcs []*Function
	Data  []*Data
}

func NewModule() *Module { return &Module{} }

func (m *Module) NewFunction(name string, retType Type, hasRet bool, params []Param) *Function {
	f := &Function{Name: name, RetType: retType, HasRet: hasRet, Params: params}
	m.Funcs = append(m.Funcs, f)
	return f
}

func (m *Module) NewData(name string) *Data {
	d := &Data{Name: name}
	m.Data = append(m.Data, d)
	return d
}

func (f *Function) NewBlock(label string) *Block {
	b := &Block{Label: label}
	f.Blocks = append(f.Blocks, b)
	return b
}

func (b *Block) Emit(i Instr) { b.Instrs = append(b.Instrs, i) }

func (b *Block) SetJmp(target string) {
	b.Term = Terminator{Kind: TermJmp, Then: target}
}

func (b *Block) SetJnz(cond Value, thenLabel, elseLabel string) {
	b.Term = Terminator{Kind: TermJnz, Cond: cond, Then: thenLabel, Else: elseLabel}
}

func (b *Block) SetRet(val Value) {
	b.Term = Terminator{Kind: TermRet, RetVal: val}
}
