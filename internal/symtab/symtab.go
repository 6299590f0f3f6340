// Package symtab implements the per-scope symbol tables: one
// scope per file, routine, or block, chained to an outer scope, holding
// variables, arrays, labels, routines, UDT/class definitions, and
// constants. Declarations are addressed by ast.SymbolID so the AST never
// holds a direct pointer into a scope.
package symtab

import "github.com/albanread/fasterbasic/internal/ast"

type StorageClass uint8

const (
	Global StorageClass = iota
	Local
	Parameter
)

// Variable is one scalar/array/UDT/class variable entry.
type Variable struct {
	Name     string
	Type     ast.TypeRef
	Storage  StorageClass
	Declared bool
	Used     bool
	IsConst  bool
	ConstVal *ast.Expr // literal value, for CONSTANT entries
	ByRef    bool
	// UID is a process-wide unique id assigned at Declare time, independent
	// of Name. Two variables named the same in sibling or nested scopes get
	// distinct UIDs, which the code generator folds into its IR local names
	// so they never collide on one stack slot.
	UID int
}

// nextUID hands out the UIDs stamped onto every declared Variable.
var nextUID int

// Label is a GOTO/GOSUB target.
type Label struct {
	Name   string
	LineNo int
}

// Routine describes a SUB/FUNCTION/WORKER signature.
type Routine struct {
	Name       string
	Kind       string // "SUB", "FUNCTION", "WORKER"
	Params     []ast.Param
	ReturnType ast.TypeRef
}

// RecordDef describes a TYPE (UDT) or CLASS, with field offsets computed
// by the semantic analyzer: a class reserves an 8-byte vtable slot before
// its first field, a plain TYPE does not.
type RecordDef struct {
	Name       string
	IsClass    bool
	Fields     []ast.Field
	Offsets    []int
	Size       int
	Superclass string
	Methods    map[string]*Routine
}

// Scope is one symbol-table level with an outer chain.
type Scope struct {
	Outer     *Scope
	Kind      string // "file", "routine", "block"
	Variables map[string]*Variable
	Labels    map[string]*Label
	Routines  map[string]*Routine
	Records   map[string]*RecordDef
	// symbol assigns each declaration a stable handle so AST nodes can
	// reference it by ast.SymbolID instead of by pointer.
	bySymbol []interface{}
}

func NewScope(outer *Scope, kind string) *Scope {
	return &Scope{
		Outer:     outer,
		Kind:      kind,
		Variables: make(map[string]*Variable),
		Labels:    make(map[string]*Label),
		Routines:  make(map[string]*Routine),
		Records:   make(map[string]*RecordDef),
	}
}

// Declare registers v in this scope and returns its stable SymbolID.
func (s *Scope) Declare(v *Variable) ast.SymbolID {
	nextUID++
	v.UID = nextUID
	s.Variables[v.Name] = v
	s.bySymbol = append(s.bySymbol, v)
	return ast.SymbolID(len(s.bySymbol) - 1)
}

// Lookup walks the outer chain, innermost scope first (lexical scoping).
func (s *Scope) Lookup(name string) (*Variable, *Scope, bool) {
	for sc := s; sc != nil; sc = sc.Outer {
		if v, ok := sc.Variables[name]; ok {
			return v, sc, true
		}
	}
	return nil, nil, false
}

func (s *Scope) LookupRoutine(name string) (*Routine, bool) {
	for sc := s; sc != nil; sc = sc.Outer {
		if r, ok := sc.Routines[name]; ok {
			return r, true
		}
	}
	return nil, false
}

func (s *Scope) LookupRecord(name string) (*RecordDef, bool) {
	for sc := s; sc != nil; sc = sc.Outer {
		if r, ok := sc.Records[name]; ok {
			return r, true
		}
	}
	return nil, false
}

func (s *Scope) LookupLabel(name string) (*Label, bool) {
	for sc := s; sc != nil; sc = sc.Outer {
		if l, ok := sc.Labels[name]; ok {
			return l, true
		}
	}
	return nil, false
}

// Symbol resolves a stable handle back to its declaration, the inverse of
// Declare — the AST never stores a *Variable, only this id.
func (s *Scope) Symbol(id ast.SymbolID) interface{} {
	if int(id) < 0 || int(id) >= len(s.bySymbol) {
		return nil
	}
	return s.bySymbol[id]
}
