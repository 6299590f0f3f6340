package codegen

import (
	"fmt"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/ir"
	"github.com/albanread/fasterbasic/internal/runtimeabi"
	"github.com/albanread/fasterbasic/internal/sema"
)

// emitDataSection walks every string literal in the program once, interning
// each as a named data entry holding a string descriptor's scalar fields
// followed by the UTF-8 payload, then emits the flattened DATA/READ literal
// table and its cursor global. It returns the literal->symbol map lowerExpr
// needs to turn an ExprStringLit back into the data symbol it was interned
// as, so every gen instance shares one table instead of re-interning
// per-function.
func emitDataSection(mod *ir.Module, prog *ast.Program, res *sema.Result) map[ast.ExprID]string {
	names := make(map[ast.ExprID]string)
	n := 0
	for id := range prog.Exprs {
		e := &prog.Exprs[id]
		if e.Kind != ast.ExprStringLit {
			continue
		}
		name := fmt.Sprintf("str%d", n)
		n++
		names[ast.ExprID(id)] = name
		emitStringDescriptor(mod, name, e.StrVal)
	}

	emitLiteralTable(mod, prog, res, names)

	cursor := mod.NewData("data_cursor")
	cursor.Items = append(cursor.Items, ir.DataItem{Type: ir.TyWord, Int: 0})

	return names
}

// emitStringDescriptor lays out one interned literal as { length, capacity,
// flags, payload }: two longs and a word (a 20-byte header with no
// padding) followed by the literal's bytes inline.
func emitStringDescriptor(mod *ir.Module, name string, s string) {
	d := mod.NewData(name)
	length := int64(len(s))
	d.Items = append(d.Items,
		ir.DataItem{Type: ir.TyLong, Int: length},
		ir.DataItem{Type: ir.TyLong, Int: length},
		ir.DataItem{Type: ir.TyWord, Int: 0},
		ir.DataItem{Type: ir.TyByte, IsString: true, Bytes: s},
	)
}

// emitLiteralTable flattens every DATA statement's literals, in program
// order, into one data entry ("data_table"). String literals are copied in
// as their raw bytes; they do not reference the interned descriptors in
// names, which this function does not read.
func emitLiteralTable(mod *ir.Module, prog *ast.Program, res *sema.Result, names map[ast.ExprID]string) {
	if len(res.Data) == 0 {
		return
	}
	d := mod.NewData("data_table")
	for _, entry := range res.Data {
		e := prog.E(entry.Value)
		switch e.Kind {
		case ast.ExprIntLit:
			d.Items = append(d.Items, ir.DataItem{Type: ir.TyLong, Int: e.IntVal})
		case ast.ExprDoubleLit:
			d.Items = append(d.Items, ir.DataItem{Type: ir.TyDouble, Float: e.DoubleVal})
		case ast.ExprStringLit:
			d.Items = append(d.Items, ir.DataItem{Type: ir.TyByte, IsString: true, Bytes: e.StrVal})
		default:
			d.Items = append(d.Items, ir.DataItem{Type: ir.TyLong, Int: 0})
		}
	}
}

// lowerRead emits one READ target assignment: a typed data_read_* ABI call
// advancing the shared cursor, stored into the destination, which may be a
// plain variable or an array element/field lvalue.
func (g *gen) lowerRead(destID ast.ExprID) {
	destTy := g.prog.E(destID).Type
	ty := mapType(destTy)
	reader := runtimeabi.DataReadInt
	switch {
	case destTy.Kind == ast.TyString:
		reader = runtimeabi.DataReadString
	case destTy.IsFloat():
		reader = runtimeabi.DataReadDouble
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ty, Op: "call", Callee: ir.Sym{Name: reader}})
	g.lowerAssign(destID, ir.Temp{Name: t})
}

// lowerRestore sets the shared DATA cursor to a RESTORE target's starting
// index, resolved at compile time from the analyzer's line/label->cursor
// prepass; an absent target restores to the very first literal.
func (g *gen) lowerRestore(target string) {
	idx := 0
	if target != "" {
		idx = g.res.RestorePoints[target]
	}
	g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.DataRestore}, Args: []ir.Value{ir.ConstInt{Type: ir.TyLong, Val: int64(idx)}}})
}
