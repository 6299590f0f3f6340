// Package codegen lowers a semantically analyzed, astopt-simplified AST
// into the typed IR module internal/ir defines: one IR function per
// SUB/FUNCTION/WORKER plus an implicit "main" function for the top-level
// program, with scope-based memory management (SAMM) scope_push/scope_pop
// bracketing every routine and control-flow exit, and calls into the
// fixed runtime ABI for everything string/array/UDT/worker/exception
// related. Control flow is lowered directly from the AST's structured
// statements (IF/WHILE/DO/FOR/SELECT CASE/TRY), the same recursive
// condition/body/merge shape internal/cfg models independently, rather
// than replaying cfg.Graph block-for-block: the backend gives every local
// and temporary of this load/store IR its own stack slot and does no
// register promotion, so codegen only needs one coherent block skeleton
// per construct, not a literal transcription of the analysis graph.
package codegen

import (
	"fmt"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/ir"
	"github.com/albanread/fasterbasic/internal/runtimeabi"
	"github.com/albanread/fasterbasic/internal/sema"
	"github.com/albanread/fasterbasic/internal/symtab"
)

// gen carries the mutable state of lowering one function: the shared
// program/analysis inputs, the IR function and block currently being
// appended to, and the per-routine scope needed to resolve identifiers.
type gen struct {
	prog  *ast.Program
	res   *sema.Result
	scope *symtab.Scope

	mod *ir.Module
	fn  *ir.Function
	blk *ir.Block

	tmp   int
	label int

	loops []loopFrame

	// locals maps a resolved *symtab.Variable to the ir.Local slot backing
	// it; declared lazily on first use within the current function, since
	// not every scope-visible variable is read in every routine.
	locals map[*symtab.Variable]ir.Local

	// strNames maps every string-literal expression to the data symbol
	// holding its descriptor+payload, built once up front by
	// emitDataSection so every gen instance shares one interned table.
	strNames map[ast.ExprID]string

	// dataCursorLabel names the mutable global RESTORE/READ advance
	// against; "data_cursor" per the fixed DATA/READ lowering contract.
	dataCursorLabel string

	// lineLabels maps a line number's text form to the block it starts,
	// built lazily so a forward GOTO can reference a line not yet lowered.
	lineLabels map[string]string

	// gosubReturns is the function-wide, deterministically ordered list of
	// synthetic return-site labels, one per GOSUB/ON...GOSUB call site,
	// assigned by a prescan ahead of lowering so a RETURN encountered
	// before a later call site can still dispatch to it. gosubNext
	// indexes into it as call sites are actually lowered, in the same
	// left-to-right order the prescan walked.
	gosubReturns []string
	gosubNext    int
	gosubSlot    ir.Local // holds the id of the call site a RETURN dispatches against

	// resumeLabel is the label RESUME/RESUME NEXT falls back to: the
	// statement right after the innermost active ON ERROR GOTO.
	resumeLabel string
}

type loopFrame struct {
	exitLabel string
}

// getLabelBlock returns the block a line-number or named label starts,
// creating an unattached placeholder if the label hasn't been reached by
// the lowering pass yet (a forward GOTO/GOSUB).
func (g *gen) getLabelBlock(name string) string {
	if lbl, ok := g.lineLabels[name]; ok {
		return lbl
	}
	lbl := g.newLabel("L" + name + "_")
	g.lineLabels[name] = lbl
	return lbl
}

// startLabeledBlock opens the block for a line-number label reached during
// normal forward lowering, reusing any placeholder a prior forward
// GOTO/GOSUB already allocated for it, and chaining fallthrough into it.
func (g *gen) startLabeledBlock(name string) {
	lbl, ok := g.lineLabels[name]
	if !ok {
		lbl = g.newLabel("L" + name + "_")
		g.lineLabels[name] = lbl
	}
	prev := g.blk
	nb := g.fn.NewBlock(lbl)
	if prev.Term == (ir.Terminator{}) {
		prev.SetJmp(lbl)
	}
	g.blk = nb
}

// countGosubSites walks a statement list (recursing into every nested
// body) and returns how many GOSUB/ON...GOSUB call sites it contains, in
// left-to-right visitation order - the same order lowerStmts walks it in,
// so the two passes assign matching ids.
func countGosubSites(prog *ast.Program, stmts []ast.StmtID) int {
	n := 0
	for _, id := range stmts {
		s := prog.S(id)
		switch s.Kind {
		case ast.StmtGosub:
			n++
		case ast.StmtOnGoto:
			if s.Name == "gosub" {
				n++
			}
		case ast.StmtIf:
			n += countGosubSites(prog, s.Body) + countGosubSites(prog, s.ElseBody)
		case ast.StmtFor, ast.StmtWhile, ast.StmtDo, ast.StmtRepeat:
			n += countGosubSites(prog, s.Body)
		case ast.StmtSelectCase, ast.StmtMatchReceive:
			for _, c := range s.Cases {
				n += countGosubSites(prog, c.Body)
			}
		case ast.StmtTry:
			n += countGosubSites(prog, s.Body) + countGosubSites(prog, s.Catch) + countGosubSites(prog, s.Finally)
		}
	}
	return n
}

// Generate lowers the whole program to an IR module: one function per
// routine, plus "main" for the top-level line sequence.
func Generate(prog *ast.Program, res *sema.Result) (*ir.Module, error) {
	mod := ir.NewModule()
	strNames := emitDataSection(mod, prog, res)

	mainFn := mod.NewFunction("main", ir.TyWord, true, nil)
	var topLevel []ast.StmtID
	for _, line := range prog.Lines {
		topLevel = append(topLevel, line.Stmts...)
	}
	g := &gen{prog: prog, res: res, scope: res.Global, mod: mod, fn: mainFn,
		locals: map[*symtab.Variable]ir.Local{}, strNames: strNames, dataCursorLabel: "data_cursor",
		lineLabels: map[string]string{}, gosubReturns: make([]string, countGosubSites(prog, topLevel))}
	for i := range g.gosubReturns {
		g.gosubReturns[i] = fmt.Sprintf("gret%d", i)
	}
	if len(g.gosubReturns) > 0 {
		g.gosubSlot = g.fn.DeclareLocal("gosub_ret", ir.TyWord)
	}
	g.blk = mainFn.NewBlock("entry")
	g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ScopePush}})

	for _, line := range prog.Lines {
		if line.Number != 0 {
			g.startLabeledBlock(fmt.Sprint(line.Number))
		}
		g.lowerStmts(line.Stmts)
	}
	if g.blk.Term == (ir.Terminator{}) {
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ScopePop}})
		g.blk.SetRet(ir.ConstInt{Type: ir.TyWord, Val: 0})
	}

	for i := range prog.Routines {
		r := &prog.Routines[i]
		if err := genRoutine(mod, prog, res, r, strNames); err != nil {
			return nil, err
		}
	}

	if errs := mod.Verify(); len(errs) > 0 {
		return nil, fmt.Errorf("codegen produced invalid IR: %v", errs[0])
	}
	return mod, nil
}

func genRoutine(mod *ir.Module, prog *ast.Program, res *sema.Result, r *ast.Routine, strNames map[ast.ExprID]string) error {
	scope, ok := res.Routine[r.Name]
	if !ok {
		return fmt.Errorf("codegen: no analyzed scope for routine %q", r.Name)
	}
	retTy, hasRet := ir.TyWord, false
	if r.Kind == "FUNCTION" {
		retTy, hasRet = mapType(r.RetType), true
	}
	var params []ir.Param
	for _, p := range r.Params {
		params = append(params, ir.Param{Name: p.Name, Type: mapType(p.Type)})
	}
	fn := mod.NewFunction(r.Name, retTy, hasRet, params)

	g := &gen{prog: prog, res: res, scope: scope, mod: mod, fn: fn,
		locals: map[*symtab.Variable]ir.Local{}, strNames: strNames, dataCursorLabel: "data_cursor",
		lineLabels: map[string]string{}, gosubReturns: make([]string, countGosubSites(prog, r.Body))}
	for i := range g.gosubReturns {
		g.gosubReturns[i] = fmt.Sprintf("%s_gret%d", r.Name, i)
	}
	if len(g.gosubReturns) > 0 {
		g.gosubSlot = g.fn.DeclareLocal("gosub_ret", ir.TyWord)
	}
	g.blk = fn.NewBlock("entry")
	g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ScopePush}})

	// Copy every by-value parameter into an addressable local so
	// reassignment inside the body goes through the same load/store path
	// as every other variable.
	for _, p := range r.Params {
		if v, _, ok := scope.Lookup(p.Name); ok && !v.ByRef {
			slot := g.localFor(v)
			g.emit(ir.Instr{Op: "store", Args: []ir.Value{slot, ir.Temp{Name: p.Name}}})
		}
	}

	g.lowerStmts(r.Body)

	if g.blk.Term == (ir.Terminator{}) {
		g.emit(ir.Instr{Op: "call", Callee: ir.Sym{Name: runtimeabi.ScopePop}})
		if hasRet {
			g.blk.SetRet(ir.ConstInt{Type: retTy, Val: 0})
		} else {
			g.blk.SetRet(nil)
		}
	}
	return nil
}

// newTemp returns a fresh temporary name, unique within the function.
func (g *gen) newTemp() string {
	g.tmp++
	return fmt.Sprintf("t%d", g.tmp)
}

func (g *gen) newLabel(prefix string) string {
	g.label++
	return fmt.Sprintf("%s%d", prefix, g.label)
}

// emit appends one instruction to the block currently being built.
func (g *gen) emit(in ir.Instr) { g.blk.Emit(in) }

// startBlock begins a new IR block, chaining the previous one into it
// with an unconditional jump unless the previous block already ended in
// a terminator (a statement that branched, returned, or jumped away).
func (g *gen) startBlock(label string) *ir.Block {
	prev := g.blk
	nb := g.fn.NewBlock(label)
	if prev.Term == (ir.Terminator{}) {
		prev.SetJmp(label)
	}
	g.blk = nb
	return nb
}

// localFor returns the stack slot backing v, declaring it on first use.
func (g *gen) localFor(v *symtab.Variable) ir.Local {
	if slot, ok := g.locals[v]; ok {
		return slot
	}
	slot := g.fn.DeclareLocal(mangle(v), mapType(v.Type))
	g.locals[v] = slot
	return slot
}

// mangle turns a declared variable into its IR local name. The bare
// identifier is not enough: two BASIC variables named the same in
// different nested scopes (a loop counter shadowed in a nested block, a
// parameter reused as a local inside a routine) are distinct
// symtab.Variable values that must not share one stack slot. Folding in
// the declaration-order UID symtab.Scope.Declare stamps on every
// variable keeps the rendered name unique per declaration, not just per
// spelling.
func mangle(v *symtab.Variable) string {
	return fmt.Sprintf("%s_%d", v.Name, v.UID)
}

// resolveVar turns an identifier/field-base expression's Sym handle back
// into the *symtab.Variable it names, via the scope sema recorded for
// that expression.
func (g *gen) resolveVar(id ast.ExprID) (*symtab.Variable, bool) {
	scope, ok := g.res.ExprScope[id]
	if !ok {
		return nil, false
	}
	e := g.prog.E(id)
	v, ok := scope.Symbol(e.Sym).(*symtab.Variable)
	return v, ok
}

// mapType converts a resolved BASIC type to its IR primitive
// representation. Aggregates (string/array/UDT/class/hashmap/list) are
// always addressed through a pointer-sized long.
func mapType(t ast.TypeRef) ir.Type {
	switch t.Kind {
	case ast.TyInteger16:
		return ir.TyHalf
	case ast.TyInteger32:
		return ir.TyWord
	case ast.TyLong64:
		return ir.TyLong
	case ast.TySingle:
		return ir.TySingle
	case ast.TyDouble:
		return ir.TyDouble
	case ast.TyBoolean:
		return ir.TyByte
	default:
		return ir.TyLong
	}
}
