package codegen

import (
	"strings"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/ir"
	"github.com/albanread/fasterbasic/internal/runtimeabi"
)

// lowerExpr emits the instructions computing id's value and returns the
// Value (a temp or constant) holding the result.
func (g *gen) lowerExpr(id ast.ExprID) ir.Value {
	e := g.prog.E(id)
	switch e.Kind {
	case ast.ExprIntLit:
		return ir.ConstInt{Type: mapType(e.Type), Val: e.IntVal}
	case ast.ExprDoubleLit:
		return ir.ConstFloat{Type: mapType(e.Type), Val: e.DoubleVal}
	case ast.ExprBoolLit:
		v := int64(0)
		if e.BoolVal {
			v = 1
		}
		return ir.ConstInt{Type: ir.TyByte, Val: v}
	case ast.ExprStringLit:
		return ir.Sym{Name: g.strNames[id]}
	case ast.ExprIdent:
		return g.lowerIdentRead(id, e)
	case ast.ExprUnary:
		return g.lowerUnary(e)
	case ast.ExprBinary:
		return g.lowerBinary(id, e)
	case ast.ExprIif:
		return g.lowerIif(e)
	case ast.ExprIndex:
		ptr := g.materializeBase(id)
		return g.loadThrough(ptr, mapType(e.Type))
	case ast.ExprField:
		ptr := g.materializeBase(id)
		return g.loadThrough(ptr, mapType(e.Type))
	case ast.ExprSlice:
		obj := g.lowerExpr(e.Obj)
		lo := g.lowerExpr(e.A)
		hi := g.lowerExpr(e.B)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyLong, Op: "call", Callee: ir.Sym{Name: runtimeabi.StringSlice}, Args: []ir.Value{obj, lo, hi}})
		return ir.Temp{Name: t}
	case ast.ExprCall:
		return g.lowerCall(e)
	case ast.ExprNewObject:
		return g.lowerNewObject(e)
	case ast.ExprMe:
		return ir.Temp{Name: "me"}
	case ast.ExprIsNothing:
		obj := g.lowerExpr(e.A)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyByte, Op: "call", Callee: ir.Sym{Name: runtimeabi.ObjectIsNothing}, Args: []ir.Value{obj}})
		return ir.Temp{Name: t}
	case ast.ExprReceive:
		src := g.lowerExpr(e.A)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyLong, Op: "call", Callee: ir.Sym{Name: runtimeabi.Receive}, Args: []ir.Value{src}})
		return ir.Temp{Name: t}
	case ast.ExprCancelled:
		src := g.lowerExpr(e.A)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyByte, Op: "call", Callee: ir.Sym{Name: runtimeabi.Cancelled}, Args: []ir.Value{src}})
		return ir.Temp{Name: t}
	case ast.ExprAwait:
		f := g.lowerExpr(e.A)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: mapType(e.Type), Op: "call", Callee: ir.Sym{Name: runtimeabi.Await}, Args: []ir.Value{f}})
		return ir.Temp{Name: t}
	}
	return ir.ConstInt{Type: ir.TyWord, Val: 0}
}

func (g *gen) lowerIdentRead(id ast.ExprID, e *ast.Expr) ir.Value {
	v, ok := g.resolveVar(id)
	if !ok {
		return ir.ConstInt{Type: ir.TyWord, Val: 0}
	}
	if v.IsConst && v.ConstVal != nil {
		cid := g.prog.NewExpr(*v.ConstVal)
		return g.lowerExpr(cid)
	}
	slot := g.localFor(v)
	return g.loadThrough(slot, mapType(v.Type))
}

func (g *gen) loadThrough(addr ir.Value, ty ir.Type) ir.Value {
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ty, Op: "load", Args: []ir.Value{addr}})
	return ir.Temp{Name: t}
}

func (g *gen) storeThrough(addr ir.Value, val ir.Value) {
	g.emit(ir.Instr{Op: "store", Args: []ir.Value{addr, val}})
}

// materializeBase computes the address a field/index expression reads
// from or writes to, as a single named temporary, so that every field
// access on the same array element reuses one base-pointer computation
// instead of recomputing `data + index*elem_size` (and, critically,
// recomputing it WITHOUT the multiplication) on each subsequent field.
// Array descriptor layout: { data: pointer, rank: word,
// element_size: word, bounds[rank]: { lo: long, hi: long } }.
const (
	arrDataOff   = 0
	arrRankOff   = 8
	arrElemOff   = 12
	arrBoundsOff = 16
	arrBoundSize = 16
)

func (g *gen) materializeBase(id ast.ExprID) ir.Value {
	e := g.prog.E(id)
	switch e.Kind {
	case ast.ExprIndex:
		desc := g.lowerExpr(e.Obj)
		data := g.loadField(desc, arrDataOff, ir.TyLong)
		elemSize := g.loadField(desc, arrElemOff, ir.TyWord)

		// Horner-combine every dimension's (index-lo) against its extent
		// (hi-lo+1) into one flat element offset, most-significant
		// dimension first, matching the descriptor's row-major bounds.
		var acc ir.Value
		for k, argID := range e.Args {
			lo := g.loadField(desc, arrBoundsOff+k*arrBoundSize, ir.TyLong)
			hi := g.loadField(desc, arrBoundsOff+k*arrBoundSize+8, ir.TyLong)
			idx := g.widenToLong(g.lowerExpr(argID))
			diff := g.newTemp()
			g.emit(ir.Instr{Result: diff, Type: ir.TyLong, Op: "sub", Args: []ir.Value{idx, lo}})
			if acc == nil {
				acc = ir.Temp{Name: diff}
				continue
			}
			extent := g.newTemp()
			g.emit(ir.Instr{Result: extent, Type: ir.TyLong, Op: "sub", Args: []ir.Value{hi, lo}})
			extentPlus1 := g.newTemp()
			g.emit(ir.Instr{Result: extentPlus1, Type: ir.TyLong, Op: "add", Args: []ir.Value{ir.Temp{Name: extent}, ir.ConstInt{Type: ir.TyLong, Val: 1}}})
			scaled := g.newTemp()
			g.emit(ir.Instr{Result: scaled, Type: ir.TyLong, Op: "mul", Args: []ir.Value{acc, ir.Temp{Name: extentPlus1}}})
			sum := g.newTemp()
			g.emit(ir.Instr{Result: sum, Type: ir.TyLong, Op: "add", Args: []ir.Value{ir.Temp{Name: scaled}, ir.Temp{Name: diff}}})
			acc = ir.Temp{Name: sum}
		}
		elemSizeLong := g.widenToLong(elemSize)
		byteOff := g.newTemp()
		g.emit(ir.Instr{Result: byteOff, Type: ir.TyLong, Op: "mul", Args: []ir.Value{acc, elemSizeLong}})
		addr := g.newTemp()
		g.emit(ir.Instr{Result: addr, Type: ir.TyLong, Op: "addr", Args: []ir.Value{data, ir.Temp{Name: byteOff}}})
		return ir.Temp{Name: addr}
	case ast.ExprField:
		base := g.materializeFieldBase(e.Obj)
		offset := g.fieldOffset(e.Obj, e.Name)
		addr := g.newTemp()
		g.emit(ir.Instr{Result: addr, Type: ir.TyLong, Op: "addr", Args: []ir.Value{base, ir.ConstInt{Type: ir.TyLong, Val: int64(offset)}}})
		return ir.Temp{Name: addr}
	}
	return g.lowerExpr(id)
}

// materializeFieldBase resolves the struct base address a field access
// chains from: either a plain variable's address, or, if the object
// itself is an index/field expression, that expression's own
// materialized (and reused) base.
func (g *gen) materializeFieldBase(id ast.ExprID) ir.Value {
	e := g.prog.E(id)
	switch e.Kind {
	case ast.ExprIndex, ast.ExprField:
		return g.materializeBase(id)
	case ast.ExprIdent:
		if v, ok := g.resolveVar(id); ok && v.Type.Kind == ast.TyUDT {
			return g.localFor(v)
		}
		if v, ok := g.resolveVar(id); ok && v.Type.Kind == ast.TyClass {
			return g.loadThrough(g.localFor(v), ir.TyLong)
		}
		return g.lowerExpr(id)
	default:
		return g.lowerExpr(id)
	}
}

// loadField reads one fixed-offset field out of a struct/descriptor
// address, as `addr base, off` followed by a typed load.
func (g *gen) loadField(base ir.Value, off int, ty ir.Type) ir.Value {
	addr := g.newTemp()
	g.emit(ir.Instr{Result: addr, Type: ir.TyLong, Op: "addr", Args: []ir.Value{base, ir.ConstInt{Type: ir.TyLong, Val: int64(off)}}})
	return g.loadThrough(ir.Temp{Name: addr}, ty)
}

func (g *gen) widenToLong(v ir.Value) ir.Value {
	ty := ir.TyLong
	switch vv := v.(type) {
	case ir.ConstInt:
		if vv.Type == ir.TyLong {
			return v
		}
		return ir.ConstInt{Type: ir.TyLong, Val: vv.Val}
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ty, Op: "sext", Args: []ir.Value{v}})
	return ir.Temp{Name: t}
}

func (g *gen) fieldOffset(objID ast.ExprID, field string) int {
	t := g.prog.E(objID).Type
	rd, ok := g.scope.LookupRecord(t.Name)
	if !ok {
		return 0
	}
	for i, f := range rd.Fields {
		if f.Name == field {
			return rd.Offsets[i]
		}
	}
	return 0
}

func (g *gen) lowerUnary(e *ast.Expr) ir.Value {
	a := g.lowerExpr(e.A)
	ty := mapType(e.Type)
	op := ""
	switch strings.ToUpper(e.Op) {
	case "-":
		op = "neg"
	case "NOT":
		op = "not"
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ty, Op: op, Args: []ir.Value{a}})
	return ir.Temp{Name: t}
}

// lowerBinary handles arithmetic/comparison/logical/concat, with explicit
// widening of the narrower operand on mixed-numeric ops, and a
// fused-multiply-add rewrite when one side of a +/- is itself a pure
// multiply over the same promoted numeric type.
func (g *gen) lowerBinary(id ast.ExprID, e *ast.Expr) ir.Value {
	op := strings.ToUpper(e.Op)

	if op == "+" || op == "-" {
		if v, ok := g.tryFMA(e, op); ok {
			return v
		}
	}

	if e.Type.Kind == ast.TyString && op == "+" {
		a := g.lowerExpr(e.A)
		b := g.lowerExpr(e.B)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyLong, Op: "call", Callee: ir.Sym{Name: runtimeabi.StringConcat}, Args: []ir.Value{a, b}})
		return ir.Temp{Name: t}
	}

	ty := mapType(e.Type)
	a := g.widen(g.lowerExpr(e.A), mapType(g.prog.E(e.A).Type), ty)
	b := g.widen(g.lowerExpr(e.B), mapType(g.prog.E(e.B).Type), ty)

	var irop string
	switch op {
	case "+":
		irop = "add"
	case "-":
		irop = "sub"
	case "*":
		irop = "mul"
	case "/":
		// floating division always; operands already widened to double
		// by the semantic analyzer's promotion rules reflected in e.Type.
		irop = "div"
	case "\\":
		irop = "div" // integer division, truncating toward zero
	case ">>":
		irop = "sar" // produced by astopt's strength reduction of `\`
	case "MOD":
		irop = "rem"
	case "=":
		irop = "cmp_eq"
	case "<>":
		irop = "cmp_ne"
	case "<":
		irop = "cmp_lt_s"
	case "<=":
		irop = "cmp_le_s"
	case ">":
		irop = "cmp_gt_s"
	case ">=":
		irop = "cmp_ge_s"
	case "AND":
		irop = "and"
	case "OR":
		irop = "or"
	case "XOR":
		irop = "xor"
	default:
		irop = "add"
	}

	resultTy := ty
	switch irop {
	case "cmp_eq", "cmp_ne", "cmp_lt_s", "cmp_le_s", "cmp_gt_s", "cmp_ge_s":
		resultTy = ir.TyByte
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: resultTy, Op: irop, Args: []ir.Value{a, b}})
	return ir.Temp{Name: t}
}

// tryFMA recognizes `acc + a*b` / `acc - a*b` (either operand order) over
// a shared numeric type and emits a single fused-multiply-add/subtract
// instead of a separate multiply and add.
func (g *gen) tryFMA(e *ast.Expr, op string) (ir.Value, bool) {
	if !e.Type.IsNumeric() {
		return nil, false
	}
	left, right := g.prog.E(e.A), g.prog.E(e.B)
	var mulExpr, accID ast.ExprID
	switch {
	case right.Kind == ast.ExprBinary && right.Op == "*":
		mulExpr, accID = e.B, e.A
	case op == "+" && left.Kind == ast.ExprBinary && left.Op == "*":
		mulExpr, accID = e.A, e.B
	default:
		return nil, false
	}
	mul := g.prog.E(mulExpr)
	ty := mapType(e.Type)
	acc := g.widen(g.lowerExpr(accID), mapType(g.prog.E(accID).Type), ty)
	a := g.widen(g.lowerExpr(mul.A), mapType(g.prog.E(mul.A).Type), ty)
	b := g.widen(g.lowerExpr(mul.B), mapType(g.prog.E(mul.B).Type), ty)
	irop := "madd"
	if op == "-" {
		irop = "msub"
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ty, Op: irop, Args: []ir.Value{acc, a, b}})
	return ir.Temp{Name: t}, true
}

// widen promotes a narrower-typed value to the binary op's common type.
// No-op when from == to.
func (g *gen) widen(v ir.Value, from, to ir.Type) ir.Value {
	if from == to {
		return v
	}
	op := "zext"
	switch {
	case isFloatType(from) && isFloatType(to):
		op = "fext"
	case !isFloatType(from) && isFloatType(to):
		op = "sitof"
	case isFloatType(from) && !isFloatType(to):
		op = "ftosi"
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: to, Op: op, Args: []ir.Value{v}})
	return ir.Temp{Name: t}
}

func isFloatType(t ir.Type) bool { return t == ir.TySingle || t == ir.TyDouble }

// retainTracked bumps the refcount of a SAMM-tracked value (string or
// class handle) about to outlive the scope_pop that would otherwise free
// it, per the single-return-value retention rule. Arrays and UDTs are not
// retained here: arrays have no by-value RETURN path in this grammar, and
// a UDT return value is copied field-by-field by the caller's assignment,
// which already retains any embedded string fields itself.
func (g *gen) retainTracked(t ast.TypeRef, v ir.Value) {
	switch t.Kind {
	case ast.TyString:
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.StringRetain}, Args: []ir.Value{v}})
	case ast.TyClass:
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ObjectRetain}, Args: []ir.Value{v}})
	}
}

func (g *gen) lowerIif(e *ast.Expr) ir.Value {
	cond := g.lowerExpr(e.A)
	ty := mapType(e.Type)
	slot := g.fn.DeclareLocal(g.newTemp(), ty)

	thenL, elseL, mergeL := g.newLabel("iift"), g.newLabel("iife"), g.newLabel("iifm")
	g.blk.SetJnz(cond, thenL, elseL)

	g.blk = g.fn.NewBlock(thenL)
	v := g.lowerExpr(e.B)
	g.storeThrough(slot, v)
	g.blk.SetJmp(mergeL)

	g.blk = g.fn.NewBlock(elseL)
	v2 := g.lowerExpr(e.C)
	g.storeThrough(slot, v2)
	g.blk.SetJmp(mergeL)

	g.blk = g.fn.NewBlock(mergeL)
	return g.loadThrough(slot, ty)
}

func (g *gen) lowerCall(e *ast.Expr) ir.Value {
	var args []ir.Value
	for _, a := range e.Args {
		args = append(args, g.lowerExpr(a))
	}
	ty := mapType(e.Type)
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ty, Op: "call", Callee: ir.Sym{Name: e.Name}, Args: args})
	return ir.Temp{Name: t}
}

func (g *gen) lowerNewObject(e *ast.Expr) ir.Value {
	rd, _ := g.scope.LookupRecord(e.Name)
	size := 8
	if rd != nil {
		size = rd.Size
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ir.TyLong, Op: "call", Callee: ir.Sym{Name: runtimeabi.ObjectNew}, Args: []ir.Value{
		ir.ConstInt{Type: ir.TyLong, Val: int64(size)},
		ir.Sym{Name: "vtable_" + e.Name},
	}})
	ctor := e.Name + ".CONSTRUCTOR" // the routine name the parser gives a class's CONSTRUCTOR block
	var args []ir.Value
	args = append(args, ir.Temp{Name: t})
	for _, a := range e.Args {
		args = append(args, g.lowerExpr(a))
	}
	g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: ctor}, Args: args})
	return ir.Temp{Name: t}
}
