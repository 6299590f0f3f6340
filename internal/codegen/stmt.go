package codegen

import (
	"fmt"
	"strings"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/ir"
	"github.com/albanread/fasterbasic/internal/runtimeabi"
)

// lowerStmts lowers a flat statement list in order, opening a fresh block
// at each line-number label so GOTO/GOSUB targets resolve by name instead
// of needing the CFG's own block shape replayed here.
func (g *gen) lowerStmts(stmts []ast.StmtID) {
	for _, id := range stmts {
		s := g.prog.S(id)
		if s.Label != "" && isJumpTargetKind(s.Kind) {
			g.startLabeledBlock(s.Label)
		}
		g.lowerStmt(id, s)
	}
}

func isJumpTargetKind(k ast.StmtKind) bool {
	return k == ast.StmtLabel
}

func (g *gen) lowerStmt(id ast.StmtID, s *ast.Stmt) {
	switch s.Kind {
	case ast.StmtDim:
		g.lowerDim(s)
	case ast.StmtRedim:
		g.lowerRedim(s)
	case ast.StmtErase:
		g.lowerErase(s)
	case ast.StmtTypeDecl, ast.StmtClassDecl, ast.StmtRoutineDecl:
		// Pure layout/signature declarations; nothing to emit.
	case ast.StmtConstDecl:
		// Constant reads are folded at the use site in lowerIdentRead.
	case ast.StmtLabel:
		// Block already opened by lowerStmts above.
	case ast.StmtLet:
		g.lowerAssign(s.LHS, g.lowerExpr(s.Expr))
	case ast.StmtSliceAssign:
		g.lowerSliceAssign(s)
	case ast.StmtPrint:
		g.lowerPrint(s)
	case ast.StmtInput, ast.StmtLineInput:
		g.lowerInput(s)
	case ast.StmtIf:
		g.lowerIf(s)
	case ast.StmtFor:
		g.lowerFor(s)
	case ast.StmtWhile:
		g.lowerWhile(s)
	case ast.StmtDo:
		g.lowerDo(s)
	case ast.StmtRepeat:
		g.lowerRepeat(s)
	case ast.StmtSelectCase:
		g.lowerSelectCase(s)
	case ast.StmtGoto:
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ScopePop}})
		g.blk.SetJmp(g.getLabelBlock(s.Label))
		g.blk = g.fn.NewBlock(g.newLabel("dead"))
	case ast.StmtGosub:
		g.lowerGosub(s.Label)
	case ast.StmtReturn:
		if s.Expr != ast.NoExpr {
			// RETURN expr inside a FUNCTION body: the returned value must
			// outlive this routine's scope_pop, so retain it before popping
			// (per the SAMM retention rule for a routine's single return
			// value), then unwind normally rather than dispatching to a
			// GOSUB call site.
			retVal := g.lowerExpr(s.Expr)
			g.retainTracked(g.prog.E(s.Expr).Type, retVal)
			g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ScopePop}})
			g.blk.SetRet(retVal)
			g.blk = g.fn.NewBlock(g.newLabel("dead"))
		} else {
			g.lowerGosubReturn()
		}
	case ast.StmtOnError:
		g.lowerOnError(s)
	case ast.StmtOnGoto:
		g.lowerOnGoto(s)
	case ast.StmtResume:
		g.lowerResume(s)
	case ast.StmtTry:
		g.lowerTry(s)
	case ast.StmtThrow:
		code := g.lowerExpr(s.Expr)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.RuntimeThrow}, Args: []ir.Value{code}})
		g.blk.SetRet(ir.ConstInt{Type: ir.TyWord, Val: 0})
		g.blk = g.fn.NewBlock(g.newLabel("dead"))
	case ast.StmtCall:
		g.lowerExpr(s.Expr)
	case ast.StmtEnd, ast.StmtStop:
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ScopePop}})
		g.blk.SetRet(ir.ConstInt{Type: ir.TyWord, Val: 0})
		g.blk = g.fn.NewBlock(g.newLabel("dead"))
	case ast.StmtExit:
		g.lowerExit(s)
	case ast.StmtData:
		// Flattened once, up front, by emitDataSection.
	case ast.StmtRead:
		for _, dest := range s.Exprs {
			g.lowerRead(dest)
		}
	case ast.StmtRestore:
		g.lowerRestore(s.Label)
	case ast.StmtOption:
		// Compile-time directive; no runtime effect.
	case ast.StmtSpawnAssign:
		g.lowerSpawnAssign(s)
	case ast.StmtSend:
		target := g.lowerExpr(s.LHS)
		val := g.lowerExpr(s.Expr)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.Send}, Args: []ir.Value{target, val}})
	case ast.StmtMatchReceive:
		g.lowerMatchReceive(s)
	case ast.StmtMarshall:
		v := g.lowerExpr(s.Expr)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.Marshall}, Args: []ir.Value{v}})
	case ast.StmtUnmarshall:
		blob := g.lowerExpr(s.Expr)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyLong, Op: "call", Callee: ir.Sym{Name: runtimeabi.Unmarshall}, Args: []ir.Value{blob}})
		g.lowerAssign(s.LHS, ir.Temp{Name: t})
	case ast.StmtAfterSend:
		n := g.lowerExpr(s.Expr)
		target := g.lowerExpr(s.LHS)
		msg := g.lowerExpr(s.Expr2)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.AfterMsSend}, Args: []ir.Value{n, target, msg}})
	case ast.StmtEverySend:
		n := g.lowerExpr(s.Expr)
		target := g.lowerExpr(s.LHS)
		msg := g.lowerExpr(s.Expr2)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.EveryMsSend}, Args: []ir.Value{n, target, msg}})
	case ast.StmtTimerStopAll:
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.TimerStopAll}})
	case ast.StmtCancel:
		target := g.lowerExpr(s.Expr)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.Cancel}, Args: []ir.Value{target}})
	case ast.StmtDeleteObj:
		target := g.lowerExpr(s.Expr)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ObjectDelete}, Args: []ir.Value{target}})
	case ast.StmtTerminal:
		g.lowerTerminal(s)
	}
}

// lowerAssign stores val into the slot/address lhs resolves to, deep-
// copying UDT-typed values field by field with a string_retain on each
// embedded string field instead of an aliasing pointer copy.
func (g *gen) lowerAssign(lhs ast.ExprID, val ir.Value) {
	e := g.prog.E(lhs)
	if e.Type.Kind == ast.TyUDT {
		g.assignUDT(lhs, val)
		return
	}
	switch e.Kind {
	case ast.ExprIdent:
		v, ok := g.resolveVar(lhs)
		if !ok {
			return
		}
		g.storeThrough(g.localFor(v), val)
	case ast.ExprIndex, ast.ExprField:
		addr := g.materializeBase(lhs)
		g.storeThrough(addr, val)
	}
}

// assignUDT copies a by-value UDT field by field, retaining every embedded
// string's descriptor instead of letting two variables alias one payload.
func (g *gen) assignUDT(lhs ast.ExprID, src ir.Value) {
	dst := g.materializeFieldBase(lhs)
	rd, ok := g.scope.LookupRecord(g.prog.E(lhs).Type.Name)
	if !ok {
		return
	}
	for i, f := range rd.Fields {
		off := rd.Offsets[i]
		srcAddr := g.newTemp()
		g.emit(ir.Instr{Result: srcAddr, Type: ir.TyLong, Op: "addr", Args: []ir.Value{src, ir.ConstInt{Type: ir.TyLong, Val: int64(off)}}})
		dstAddr := g.newTemp()
		g.emit(ir.Instr{Result: dstAddr, Type: ir.TyLong, Op: "addr", Args: []ir.Value{dst, ir.ConstInt{Type: ir.TyLong, Val: int64(off)}}})
		fv := g.loadThrough(ir.Temp{Name: srcAddr}, mapType(f.Type))
		g.storeThrough(ir.Temp{Name: dstAddr}, fv)
		if f.Type.Kind == ast.TyString {
			g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.StringRetain}, Args: []ir.Value{fv}})
		}
	}
}

func (g *gen) lowerSliceAssign(s *ast.Stmt) {
	e := g.prog.E(s.LHS)
	obj := g.lowerExpr(e.Obj)
	lo := g.lowerExpr(e.A)
	hi := g.lowerExpr(e.B)
	newVal := g.lowerExpr(s.Expr)
	g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.StringSliceAssign}, Args: []ir.Value{obj, lo, hi, newVal}})
}

func (g *gen) lowerDim(s *ast.Stmt) {
	names := append([]string{s.Name}, s.Names...)
	primaryIsShared := strings.HasPrefix(s.Name, "SHARED ")
	for i, name := range names {
		if i == 0 && primaryIsShared {
			name = strings.TrimPrefix(name, "SHARED ")
		}
		v, _, ok := g.scope.Lookup(name)
		if !ok {
			continue
		}
		slot := g.localFor(v)
		if v.Type.Kind == ast.TyArray && i == 0 && len(s.Shape) > 0 {
			g.emitArrayNew(slot, v.Type, s.Shape)
			continue
		}
		if i == 0 && s.Expr != ast.NoExpr {
			g.storeThrough(slot, g.lowerExpr(s.Expr))
		}
	}
}

func (g *gen) emitArrayNew(slot ir.Local, ty ast.TypeRef, bounds []ast.ArrayBound) {
	var args []ir.Value
	args = append(args, ir.ConstInt{Type: ir.TyWord, Val: int64(len(bounds))})
	for _, b := range bounds {
		lo := ir.Value(ir.ConstInt{Type: ir.TyLong, Val: 1})
		if b.Lo != ast.NoExpr {
			lo = g.lowerExpr(b.Lo)
		}
		hi := g.lowerExpr(b.Hi)
		args = append(args, lo, hi)
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ir.TyLong, Op: "call", Callee: ir.Sym{Name: runtimeabi.ArrayNew}, Args: args})
	g.storeThrough(slot, ir.Temp{Name: t})
}

func (g *gen) lowerRedim(s *ast.Stmt) {
	v, _, ok := g.scope.Lookup(s.Name)
	if !ok {
		return
	}
	slot := g.localFor(v)
	arr := g.loadThrough(slot, ir.TyLong)
	args := []ir.Value{arr, ir.ConstInt{Type: ir.TyWord, Val: int64(len(s.Shape))}}
	for _, b := range s.Shape {
		lo := ir.Value(ir.ConstInt{Type: ir.TyLong, Val: 1})
		if b.Lo != ast.NoExpr {
			lo = g.lowerExpr(b.Lo)
		}
		hi := g.lowerExpr(b.Hi)
		args = append(args, lo, hi)
	}
	callee := "array_redim"
	if s.Label == "PRESERVE" {
		callee = "array_redim_preserve"
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ir.TyLong, Op: "call", Callee: ir.Sym{Name: callee}, Args: args})
	g.storeThrough(slot, ir.Temp{Name: t})
}

func (g *gen) lowerErase(s *ast.Stmt) {
	for _, name := range s.Names {
		v, _, ok := g.scope.Lookup(name)
		if !ok {
			continue
		}
		arr := g.loadThrough(g.localFor(v), ir.TyLong)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ArrayErase}, Args: []ir.Value{arr}})
	}
}

// lowerPrint emits one print_* call per argument: ';' joins with no
// separator, ',' inserts a runtime tab column, and the trailing newline is
// suppressed when the statement ends with ';' or ','.
func (g *gen) lowerPrint(s *ast.Stmt) {
	for i, argID := range s.Exprs {
		arg := g.prog.E(argID)
		v := g.lowerExpr(argID)
		callee := printCallee(arg.Type)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: callee}, Args: []ir.Value{v}})
		if i < len(s.Seps) && s.Seps[i] == "," {
			g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.PrintTab}})
		}
	}
	suppress := len(s.Seps) > 0 && s.Seps[len(s.Seps)-1] != ""
	if !suppress {
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.PrintNewline}})
	}
}

func printCallee(t ast.TypeRef) string {
	switch {
	case t.Kind == ast.TyString:
		return runtimeabi.PrintString
	case t.IsFloat():
		return runtimeabi.PrintDouble
	default:
		return runtimeabi.PrintInt
	}
}

func (g *gen) lowerInput(s *ast.Stmt) {
	if s.Name != "" {
		promptSym := g.newTemp()
		// Prompt literals aren't pre-interned (they're parsed straight into
		// s.Name, not an expression), so they get their own one-off data
		// entry instead of going through the shared string table.
		d := g.mod.NewData(promptSym)
		d.Items = append(d.Items,
			ir.DataItem{Type: ir.TyLong, Int: int64(len(s.Name))},
			ir.DataItem{Type: ir.TyLong, Int: int64(len(s.Name))},
			ir.DataItem{Type: ir.TyWord, Int: 0},
			ir.DataItem{Type: ir.TyByte, IsString: true, Bytes: s.Name},
		)
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.PrintString}, Args: []ir.Value{ir.Sym{Name: promptSym}}})
	}
	targets := append([]ast.ExprID{s.LHS}, s.Exprs...)
	for _, target := range targets {
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyLong, Op: "call", Callee: ir.Sym{Name: runtimeabi.InputLine}})
		line := ir.Value(ir.Temp{Name: t})
		destTy := g.prog.E(target).Type
		if destTy.Kind != ast.TyString {
			conv := g.newTemp()
			g.emit(ir.Instr{Result: conv, Type: mapType(destTy), Op: "call", Callee: ir.Sym{Name: runtimeabi.ValFromString}, Args: []ir.Value{line}})
			line = ir.Temp{Name: conv}
		}
		g.lowerAssign(target, line)
	}
}

func (g *gen) lowerIf(s *ast.Stmt) {
	cond := g.lowerExpr(s.Expr)
	thenL, elseL := g.newLabel("if_then"), g.newLabel("if_else")
	g.blk.SetJnz(cond, thenL, elseL)

	g.blk = g.fn.NewBlock(thenL)
	g.lowerStmts(s.Body)
	thenEnd := g.blk

	g.blk = g.fn.NewBlock(elseL)
	g.lowerStmts(s.ElseBody)
	elseEnd := g.blk

	if thenEnd.Term == (ir.Terminator{}) || elseEnd.Term == (ir.Terminator{}) {
		mergeL := g.newLabel("if_end")
		merge := g.fn.NewBlock(mergeL)
		if thenEnd.Term == (ir.Terminator{}) {
			thenEnd.SetJmp(mergeL)
		}
		if elseEnd.Term == (ir.Terminator{}) {
			elseEnd.SetJmp(mergeL)
		}
		g.blk = merge
	}
}

func (g *gen) lowerFor(s *ast.Stmt) {
	v, _, ok := g.scope.Lookup(s.Name)
	if !ok {
		return
	}
	slot := g.localFor(v)
	ty := mapType(v.Type)
	g.storeThrough(slot, g.lowerExpr(s.Expr))

	limitSlot := g.fn.DeclareLocal(g.newTemp(), ty)
	g.storeThrough(limitSlot, g.lowerExpr(s.Expr2))
	step := ir.Value(ir.ConstInt{Type: ty, Val: 1})
	if s.Expr3 != ast.NoExpr {
		step = g.lowerExpr(s.Expr3)
	}
	stepSlot := g.fn.DeclareLocal(g.newTemp(), ty)
	g.storeThrough(stepSlot, step)

	headerL, bodyL, exitL := g.newLabel("for_head"), g.newLabel("for_body"), g.newLabel("for_exit")
	g.blk.SetJmp(headerL)

	g.blk = g.fn.NewBlock(headerL)
	i := g.loadThrough(slot, ty)
	limit := g.loadThrough(limitSlot, ty)
	stepV := g.loadThrough(stepSlot, ty)
	stepNonNeg := g.newTemp()
	g.emit(ir.Instr{Result: stepNonNeg, Type: ir.TyByte, Op: "cmp_ge_s", Args: []ir.Value{stepV, ir.ConstInt{Type: ty, Val: 0}}})
	ascCmp, descCmp := g.newTemp(), g.newTemp()
	g.emit(ir.Instr{Result: ascCmp, Type: ir.TyByte, Op: "cmp_le_s", Args: []ir.Value{i, limit}})
	g.emit(ir.Instr{Result: descCmp, Type: ir.TyByte, Op: "cmp_ge_s", Args: []ir.Value{i, limit}})
	cond := g.newTemp()
	g.emit(ir.Instr{Result: cond, Type: ir.TyByte, Op: "select", Args: []ir.Value{ir.Temp{Name: stepNonNeg}, ir.Temp{Name: ascCmp}, ir.Temp{Name: descCmp}}})
	g.blk.SetJnz(ir.Temp{Name: cond}, bodyL, exitL)

	g.blk = g.fn.NewBlock(bodyL)
	g.loops = append(g.loops, loopFrame{exitLabel: exitL})
	g.lowerStmts(s.Body)
	g.loops = g.loops[:len(g.loops)-1]
	if g.blk.Term == (ir.Terminator{}) {
		i2 := g.loadThrough(slot, ty)
		step2 := g.loadThrough(stepSlot, ty)
		next := g.newTemp()
		g.emit(ir.Instr{Result: next, Type: ty, Op: "add", Args: []ir.Value{i2, step2}})
		g.storeThrough(slot, ir.Temp{Name: next})
		g.blk.SetJmp(headerL)
	}

	g.blk = g.fn.NewBlock(exitL)
}

func (g *gen) lowerWhile(s *ast.Stmt) {
	headerL, bodyL, exitL := g.newLabel("while_head"), g.newLabel("while_body"), g.newLabel("while_exit")
	g.blk.SetJmp(headerL)

	g.blk = g.fn.NewBlock(headerL)
	cond := g.lowerExpr(s.Expr)
	g.blk.SetJnz(cond, bodyL, exitL)

	g.blk = g.fn.NewBlock(bodyL)
	g.loops = append(g.loops, loopFrame{exitLabel: exitL})
	g.lowerStmts(s.Body)
	g.loops = g.loops[:len(g.loops)-1]
	if g.blk.Term == (ir.Terminator{}) {
		g.blk.SetJmp(headerL)
	}

	g.blk = g.fn.NewBlock(exitL)
}

// lowerDo covers both DO WHILE|UNTIL ... LOOP (pre-test) and DO ... LOOP
// WHILE|UNTIL (post-test); s.Expr2 already carries the NOT-negated form
// for UNTIL, so codegen only ever tests for "continue".
func (g *gen) lowerDo(s *ast.Stmt) {
	bodyL, exitL := g.newLabel("do_body"), g.newLabel("do_exit")
	headerL := bodyL
	if s.Name == "pre" {
		headerL = g.newLabel("do_head")
	}
	g.blk.SetJmp(headerL)

	if s.Name == "pre" {
		g.blk = g.fn.NewBlock(headerL)
		cond := g.lowerExpr(s.Expr2)
		g.blk.SetJnz(cond, bodyL, exitL)
	}

	g.blk = g.fn.NewBlock(bodyL)
	g.loops = append(g.loops, loopFrame{exitLabel: exitL})
	g.lowerStmts(s.Body)
	g.loops = g.loops[:len(g.loops)-1]
	if g.blk.Term == (ir.Terminator{}) {
		if s.Name == "post" {
			cond := g.lowerExpr(s.Expr2)
			g.blk.SetJnz(cond, headerL, exitL)
		} else if s.Name == "pre" {
			g.blk.SetJmp(headerL)
		} else {
			// Bare DO ... LOOP with no condition: unconditional repeat.
			g.blk.SetJmp(headerL)
		}
	}

	g.blk = g.fn.NewBlock(exitL)
}

func (g *gen) lowerRepeat(s *ast.Stmt) {
	bodyL, exitL := g.newLabel("repeat_body"), g.newLabel("repeat_exit")
	g.blk.SetJmp(bodyL)

	g.blk = g.fn.NewBlock(bodyL)
	g.loops = append(g.loops, loopFrame{exitLabel: exitL})
	g.lowerStmts(s.Body)
	g.loops = g.loops[:len(g.loops)-1]
	if g.blk.Term == (ir.Terminator{}) {
		cond := g.lowerExpr(s.Expr)
		g.blk.SetJnz(cond, exitL, bodyL)
	}

	g.blk = g.fn.NewBlock(exitL)
}

// lowerSelectCase lowers CASE arms as a sequential test chain (value-list
// membership, CASE IS, or CASE lo TO hi), rather than replaying the CFG
// package's N-way branch shape, since the IR terminator is strictly binary.
func (g *gen) lowerSelectCase(s *ast.Stmt) {
	switched := g.lowerExpr(s.Expr)
	ty := mapType(g.prog.E(s.Expr).Type)
	exitL := g.newLabel("case_exit")

	for _, cc := range s.Cases {
		bodyL := g.newLabel("case_body")
		if cc.Else {
			g.lowerStmts(cc.Body)
			if g.blk.Term == (ir.Terminator{}) {
				g.blk.SetJmp(exitL)
			}
			g.blk = g.fn.NewBlock(g.newLabel("case_unreachable"))
			continue
		}
		nextL := g.newLabel("case_next")
		matched := g.caseMatches(cc, switched, ty)
		g.blk.SetJnz(matched, bodyL, nextL)

		g.blk = g.fn.NewBlock(bodyL)
		g.lowerStmts(cc.Body)
		if g.blk.Term == (ir.Terminator{}) {
			g.blk.SetJmp(exitL)
		}

		g.blk = g.fn.NewBlock(nextL)
	}
	if g.blk.Term == (ir.Terminator{}) {
		g.blk.SetJmp(exitL)
	}
	g.blk = g.fn.NewBlock(exitL)
}

func (g *gen) caseMatches(cc ast.CaseClause, switched ir.Value, ty ir.Type) ir.Value {
	if cc.IsOp != "" {
		v := g.lowerExpr(cc.IsValue)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyByte, Op: compareOp(cc.IsOp), Args: []ir.Value{switched, v}})
		return ir.Temp{Name: t}
	}
	if cc.Lo != ast.NoExpr {
		lo, hi := g.lowerExpr(cc.Lo), g.lowerExpr(cc.Hi)
		geLo := g.newTemp()
		g.emit(ir.Instr{Result: geLo, Type: ir.TyByte, Op: "cmp_ge_s", Args: []ir.Value{switched, lo}})
		leHi := g.newTemp()
		g.emit(ir.Instr{Result: leHi, Type: ir.TyByte, Op: "cmp_le_s", Args: []ir.Value{switched, hi}})
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyByte, Op: "and", Args: []ir.Value{ir.Temp{Name: geLo}, ir.Temp{Name: leHi}}})
		return ir.Temp{Name: t}
	}
	var acc ir.Value
	for _, vid := range cc.Values {
		v := g.lowerExpr(vid)
		t := g.newTemp()
		g.emit(ir.Instr{Result: t, Type: ir.TyByte, Op: "cmp_eq", Args: []ir.Value{switched, v}})
		if acc == nil {
			acc = ir.Temp{Name: t}
			continue
		}
		or := g.newTemp()
		g.emit(ir.Instr{Result: or, Type: ir.TyByte, Op: "or", Args: []ir.Value{acc, ir.Temp{Name: t}}})
		acc = ir.Temp{Name: or}
	}
	if acc == nil {
		return ir.ConstInt{Type: ir.TyByte, Val: 0}
	}
	return acc
}

func compareOp(op string) string {
	switch op {
	case "=":
		return "cmp_eq"
	case "<>":
		return "cmp_ne"
	case "<":
		return "cmp_lt_s"
	case "<=":
		return "cmp_le_s"
	case ">":
		return "cmp_gt_s"
	case ">=":
		return "cmp_ge_s"
	}
	return "cmp_eq"
}

// lowerGosub stores this call site's preassigned id into the shared
// dispatch slot, jumps to the target label, and opens the return-site
// block RETURN later dispatches back to.
func (g *gen) lowerGosub(target string) {
	id := g.gosubNext
	retLabel := g.gosubReturns[id]
	g.gosubNext++
	g.storeThrough(g.gosubSlot, ir.ConstInt{Type: ir.TyWord, Val: int64(id)})
	g.blk.SetJmp(g.getLabelBlock(target))
	g.blk = g.fn.NewBlock(retLabel)
}

// lowerGosubReturn dispatches back to whichever call site stored its id
// last: a direct jump with exactly one site, otherwise a chain of
// equality tests for every site but the last, ending in an unconditional
// jump to the last site (every id is accounted for by construction, so
// the last site needs no comparison).
func (g *gen) lowerGosubReturn() {
	switch len(g.gosubReturns) {
	case 0:
		return
	case 1:
		g.blk.SetJmp(g.gosubReturns[0])
		g.blk = g.fn.NewBlock(g.newLabel("dead"))
		return
	}
	id := g.loadThrough(g.gosubSlot, ir.TyWord)
	for i := 0; i < len(g.gosubReturns)-1; i++ {
		eq := g.newTemp()
		g.emit(ir.Instr{Result: eq, Type: ir.TyByte, Op: "cmp_eq", Args: []ir.Value{id, ir.ConstInt{Type: ir.TyWord, Val: int64(i)}}})
		nextL := g.newLabel("gret_check")
		g.blk.SetJnz(ir.Temp{Name: eq}, g.gosubReturns[i], nextL)
		g.blk = g.fn.NewBlock(nextL)
	}
	g.blk.SetJmp(g.gosubReturns[len(g.gosubReturns)-1])
	g.blk = g.fn.NewBlock(g.newLabel("dead"))
}

// lowerOnError installs a resumable handler: exception_push's return value
// is 0 on the direct path (fall through normally) and nonzero when control
// resumes here after a throw unwound back to this frame (jump straight to
// the handler label).
func (g *gen) lowerOnError(s *ast.Stmt) {
	if strings.EqualFold(s.Label, "0") {
		// ON ERROR GOTO 0 disables the active handler.
		g.resumeLabel = ""
		return
	}
	buf := g.fn.DeclareLocal(g.newTemp(), ir.TyLong)
	resumed := g.newTemp()
	g.emit(ir.Instr{Result: resumed, Type: ir.TyWord, Op: "call", Callee: ir.Sym{Name: runtimeabi.ExceptionPush}, Args: []ir.Value{buf}})
	handlerL, continueL := g.getLabelBlock(s.Label), g.newLabel("on_error_continue")
	g.blk.SetJnz(ir.Temp{Name: resumed}, handlerL, continueL)
	g.blk = g.fn.NewBlock(continueL)
	g.resumeLabel = continueL
}

func (g *gen) lowerOnGoto(s *ast.Stmt) {
	idx := g.lowerExpr(s.Expr)
	isGosub := s.Name == "gosub"
	var retLabel string
	if isGosub {
		id := g.gosubNext
		retLabel = g.gosubReturns[id]
		g.gosubNext++
		g.storeThrough(g.gosubSlot, ir.ConstInt{Type: ir.TyWord, Val: int64(id)})
	}
	for i, target := range s.Names {
		eq := g.newTemp()
		g.emit(ir.Instr{Result: eq, Type: ir.TyByte, Op: "cmp_eq", Args: []ir.Value{idx, ir.ConstInt{Type: ir.TyLong, Val: int64(i + 1)}}})
		nextL := g.newLabel("on_goto_next")
		g.blk.SetJnz(ir.Temp{Name: eq}, g.getLabelBlock(target), nextL)
		g.blk = g.fn.NewBlock(nextL)
	}
	if isGosub {
		g.blk = g.fn.NewBlock(retLabel)
	}
}

func (g *gen) lowerResume(s *ast.Stmt) {
	target := g.resumeLabel
	if s.Label != "" {
		target = g.getLabelBlock(s.Label)
	}
	if target == "" {
		return
	}
	g.blk.SetJmp(target)
	g.blk = g.fn.NewBlock(g.newLabel("dead"))
}

// lowerTry pushes an exception frame, runs the body on the direct path and
// the catch clause on the resumed (thrown) path, always runs FINALLY, and
// rethrows when no catch clause is present.
func (g *gen) lowerTry(s *ast.Stmt) {
	buf := g.fn.DeclareLocal(g.newTemp(), ir.TyLong)
	thrown := g.newTemp()
	g.emit(ir.Instr{Result: thrown, Type: ir.TyWord, Op: "call", Callee: ir.Sym{Name: runtimeabi.ExceptionPush}, Args: []ir.Value{buf}})
	bodyL, catchL, finallyL := g.newLabel("try_body"), g.newLabel("try_catch"), g.newLabel("try_finally")
	g.blk.SetJnz(ir.Temp{Name: thrown}, catchL, bodyL)

	g.blk = g.fn.NewBlock(bodyL)
	g.lowerStmts(s.Body)
	if g.blk.Term == (ir.Terminator{}) {
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ExceptionPop}})
		g.blk.SetJmp(finallyL)
	}

	g.blk = g.fn.NewBlock(catchL)
	if s.CatchVar == "" && len(s.Catch) == 0 {
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.RuntimeRethrow}})
	} else {
		if s.CatchVar != "" {
			if v, _, ok := g.scope.Lookup(s.CatchVar); ok {
				errCode := g.newTemp()
				g.emit(ir.Instr{Result: errCode, Type: ir.TyWord, Op: "call", Callee: ir.Sym{Name: runtimeabi.RuntimeErr}})
				g.storeThrough(g.localFor(v), ir.Temp{Name: errCode})
			}
		}
		g.lowerStmts(s.Catch)
	}
	if g.blk.Term == (ir.Terminator{}) {
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ExceptionPop}})
		g.blk.SetJmp(finallyL)
	}

	g.blk = g.fn.NewBlock(finallyL)
	g.lowerStmts(s.Finally)
}

func (g *gen) lowerExit(s *ast.Stmt) {
	upper := strings.ToUpper(s.Name)
	switch {
	case strings.HasPrefix(upper, "EXIT FUNCTION"), strings.HasPrefix(upper, "EXIT SUB"):
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ScopePop}})
		if g.fn.HasRet {
			g.blk.SetRet(ir.ConstInt{Type: g.fn.RetType, Val: 0})
		} else {
			g.blk.SetRet(nil)
		}
	default:
		if len(g.loops) == 0 {
			return
		}
		frame := g.loops[len(g.loops)-1]
		g.blk.SetJmp(frame.exitLabel)
	}
	g.blk = g.fn.NewBlock(g.newLabel("dead"))
}

func (g *gen) lowerSpawnAssign(s *ast.Stmt) {
	call := g.prog.E(s.Expr)
	var args []ir.Value
	args = append(args, ir.Sym{Name: call.Name})
	for _, a := range call.Args {
		args = append(args, g.lowerExpr(a))
	}
	t := g.newTemp()
	g.emit(ir.Instr{Result: t, Type: ir.TyDouble, Op: "call", Callee: ir.Sym{Name: runtimeabi.Spawn}, Args: args})
	g.lowerAssign(s.LHS, ir.Temp{Name: t})
}

// lowerMatchReceive dispatches on the runtime type tag of the mailbox
// head via match_receive_poll, then lowers each arm's body; CASE ELSE
// covers an unmatched variant.
func (g *gen) lowerMatchReceive(s *ast.Stmt) {
	src := g.lowerExpr(s.Expr)
	exitL := g.newLabel("match_exit")
	for _, cc := range s.Cases {
		bodyL := g.newLabel("match_body")
		if cc.Else {
			g.lowerStmts(cc.Body)
			if g.blk.Term == (ir.Terminator{}) {
				g.blk.SetJmp(exitL)
			}
			g.blk = g.fn.NewBlock(g.newLabel("match_unreachable"))
			continue
		}
		nextL := g.newLabel("match_next")
		tag := g.newTemp()
		g.emit(ir.Instr{Result: tag, Type: ir.TyByte, Op: "call", Callee: ir.Sym{Name: runtimeabi.MatchReceivePoll}, Args: []ir.Value{src, ir.Sym{Name: cc.TypeName}}})
		g.blk.SetJnz(ir.Temp{Name: tag}, bodyL, nextL)

		g.blk = g.fn.NewBlock(bodyL)
		if cc.BindName != "" {
			if v, _, ok := g.scope.Lookup(cc.BindName); ok {
				t := g.newTemp()
				g.emit(ir.Instr{Result: t, Type: mapType(v.Type), Op: "call", Callee: ir.Sym{Name: runtimeabi.Receive}, Args: []ir.Value{src}})
				g.storeThrough(g.localFor(v), ir.Temp{Name: t})
			}
		}
		g.lowerStmts(cc.Body)
		if g.blk.Term == (ir.Terminator{}) {
			g.blk.SetJmp(exitL)
		}

		g.blk = g.fn.NewBlock(nextL)
	}
	if g.blk.Term == (ir.Terminator{}) {
		g.blk.SetJmp(exitL)
	}
	g.blk = g.fn.NewBlock(exitL)
}

func (g *gen) lowerTerminal(s *ast.Stmt) {
	var args []ir.Value
	for _, a := range s.Exprs {
		args = append(args, g.lowerExpr(a))
	}
	g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: terminalCallee(s.Name)}, Args: args})
}

func terminalCallee(name string) string {
	switch strings.ToUpper(name) {
	case "CLS":
		return "basic_cls"
	case "LOCATE":
		return "basic_locate"
	case "COLOR":
		return "basic_color"
	default:
		return "basic_" + strings.ToLower(name)
	}
}

var _ = fmt.Sprintf
