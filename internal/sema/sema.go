// Package sema implements the semantic analyzer: scope and symbol-table
// construction, identifier and member resolution, expression typing and
// implicit coercion, DATA/RESTORE cursor computation, and the control-flow
// validity checks. It walks the flat arena built by
// internal/parser and annotates it in place as a dedicated pass ahead of
// code generation, rather than resolving and typing inline during lowering.
package sema

import (
	"fmt"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/diag"
	"github.com/albanread/fasterbasic/internal/symtab"
)

// DataEntry is one literal collected from a DATA statement, in program order.
type DataEntry struct {
	Value ast.ExprID
}

// Result is everything the code generator needs from analysis beyond the
// annotated AST itself: the scope tree, the flattened DATA segment, and the
// label->cursor map RESTORE targets resolve against.
type Result struct {
	Global  *symtab.Scope
	Routine map[string]*symtab.Scope // routine name -> its local scope

	Data          []DataEntry
	RestorePoints map[string]int // label/line-number text -> starting index into Data

	// ExprScope records which scope resolved each identifier/field
	// expression, so a later pass can turn Expr.Sym back into a
	// *symtab.Variable via scope.Symbol(id) without the AST holding a
	// pointer into the symbol table.
	ExprScope map[ast.ExprID]*symtab.Scope
}

type loopKind int

const (
	loopFor loopKind = iota
	loopWhile
	loopDo
)

// checker carries per-analysis mutable state; one is created per Analyze call.
type checker struct {
	prog   *ast.Program
	diags  *diag.Bag
	res    *Result
	loops  []loopKind
	retTy  ast.TypeRef // current routine's return type; Void outside any routine
	inSub  bool        // current routine is a SUB (no RETURN value permitted)
}

// Analyze resolves and types prog in place, returning the side-table Result
// and accumulated diagnostics. Callers should not proceed to code generation
// if diags.HasErrors().
func Analyze(prog *ast.Program) (*Result, *diag.Bag) {
	c := &checker{
		prog:  prog,
		diags: diag.NewBag(),
		res: &Result{
			Global:        symtab.NewScope(nil, "file"),
			Routine:       make(map[string]*symtab.Scope),
			RestorePoints: make(map[string]int),
			ExprScope:     make(map[ast.ExprID]*symtab.Scope),
		},
		retTy: ast.Void,
	}
	c.declareRoutineSignatures()
	c.declareRecords()
	c.collectData()

	// Every line number is registered before any statement is checked, so
	// a forward GOTO/GOSUB resolves the same as a backward one.
	for _, line := range prog.Lines {
		if line.Number != 0 {
			c.res.Global.Labels[fmt.Sprint(line.Number)] = &symtab.Label{Name: fmt.Sprint(line.Number), LineNo: line.Number}
		}
	}
	for _, line := range prog.Lines {
		for _, id := range line.Stmts {
			c.checkStmt(c.res.Global, id)
		}
	}
	for _, r := range prog.Routines {
		scope := symtab.NewScope(c.res.Global, "routine")
		c.res.Routine[r.Name] = scope
		for _, p := range r.Params {
			scope.Declare(&symtab.Variable{Name: p.Name, Type: p.Type, Storage: symtab.Parameter, Declared: true, ByRef: p.ByRef})
		}
		prevRet, prevSub := c.retTy, c.inSub
		c.retTy = r.RetType
		c.inSub = r.Kind == "SUB"
		for _, id := range r.Body {
			c.checkStmt(scope, id)
		}
		c.retTy, c.inSub = prevRet, prevSub
	}
	return c.res, c.diags
}

// declareRoutineSignatures registers every SUB/FUNCTION/WORKER in the global
// scope before any body is checked, so forward calls resolve.
func (c *checker) declareRoutineSignatures() {
	for _, r := range c.prog.Routines {
		c.res.Global.Routines[r.Name] = &symtab.Routine{Name: r.Name, Kind: r.Kind, Params: r.Params, ReturnType: r.RetType}
	}
}

// declareRecords walks every top-level statement for TYPE/CLASS declarations
// and computes their field layout, so member access can be
// validated and codegen can reuse the offsets without recomputation.
func (c *checker) declareRecords() {
	for _, line := range c.prog.Lines {
		for _, id := range line.Stmts {
			s := c.prog.S(id)
			switch s.Kind {
			case ast.StmtTypeDecl:
				c.res.Global.Records[s.Name] = c.layoutRecord(s.Name, false, "", s.Fields)
			case ast.StmtClassDecl:
				c.res.Global.Records[s.Name] = c.layoutRecord(s.Name, true, s.Superclass, s.Fields)
			}
		}
	}
}

func (c *checker) layoutRecord(name string, isClass bool, superclass string, fields []ast.Field) *symtab.RecordDef {
	rd := &symtab.RecordDef{Name: name, IsClass: isClass, Fields: fields, Superclass: superclass, Methods: make(map[string]*symtab.Routine)}
	offset := 0
	if isClass {
		offset = 8 // vtable pointer
	}
	for _, f := range fields {
		rd.Offsets = append(rd.Offsets, offset)
		offset += c.sizeOf(f.Type)
	}
	rd.Size = offset
	return rd
}

// sizeOf estimates a value's in-memory footprint for field-offset
// computation; strings/arrays/classes/hashmaps/lists are represented by a
// fixed-size descriptor or pointer.
func (c *checker) sizeOf(t ast.TypeRef) int {
	switch t.Kind {
	case ast.TyInteger16:
		return 2
	case ast.TyInteger32:
		return 4
	case ast.TyLong64:
		return 8
	case ast.TySingle:
		return 4
	case ast.TyDouble:
		return 8
	case ast.TyBoolean:
		return 1
	case ast.TyString:
		return 32 // { data, length, capacity, flags } rounded to 8-byte alignment
	case ast.TyArray:
		return 8 // descriptor accessed by pointer
	case ast.TyClass, ast.TyHashmap, ast.TyList:
		return 8 // opaque handle / heap pointer
	case ast.TyUDT:
		if rd, ok := c.res.Global.Records[t.Name]; ok {
			return rd.Size
		}
		return 0
	default:
		return 8
	}
}

// collectData performs the flat, program-order DATA/RESTORE prepass: every
// label or line number seen records the cursor position reached so far, and
// every DATA statement's literals are appended to the flat segment.
func (c *checker) collectData() {
	cursor := 0
	var walk func(stmts []ast.StmtID)
	walk = func(stmts []ast.StmtID) {
		for _, id := range stmts {
			s := c.prog.S(id)
			if s.Kind == ast.StmtData {
				for _, e := range s.Exprs {
					c.res.Data = append(c.res.Data, DataEntry{Value: e})
				}
				cursor += len(s.Exprs)
			}
		}
	}
	for _, line := range c.prog.Lines {
		if line.Number != 0 {
			c.res.RestorePoints[fmt.Sprint(line.Number)] = cursor
		}
		walk(line.Stmts)
	}
	for _, r := range c.prog.Routines {
		walk(r.Body)
	}
}

func (c *checker) errorf(loc diag.Location, format string, args ...interface{}) {
	c.diags.Add(diag.Diagnostic{Kind: diag.Semantic, Severity: diag.Error, Loc: loc, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) warnf(loc diag.Location, format string, args ...interface{}) {
	c.diags.Add(diag.Diagnostic{Kind: diag.Semantic, Severity: diag.Warning, Loc: loc, Message: fmt.Sprintf(format, args...)})
}
