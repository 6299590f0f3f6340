// Package astopt rewrites a semantically analyzed AST into an equivalent
// but cheaper one: constant folding and propagation, algebraic identities,
// strength reduction, and dead-branch/loop elimination. All rewrites
// happen in place on the arena built by internal/ast, reusing existing
// ExprID/StmtID slots wherever possible so that side tables keyed by those
// ids (sema.Result.ExprScope, the DATA segment) stay valid afterward.
package astopt

import "github.com/albanread/fasterbasic/internal/ast"

const maxPasses = 4

// Optimize rewrites prog to a fixed point (or maxPasses iterations,
// whichever comes first) by repeatedly running, per expression slot,
// propagation and then folding (algebraic identities and strength
// reduction are part of the same fold walk), then dead-branch and
// dead-loop elimination over statement lists.
func Optimize(prog *ast.Program) {
	for i := 0; i < maxPasses; i++ {
		changed := false

		consts := collectConstants(prog)

		for li := range prog.Lines {
			stmts, c := optimizeStmts(prog, prog.Lines[li].Stmts, consts)
			prog.Lines[li].Stmts = stmts
			changed = changed || c
		}
		for ri := range prog.Routines {
			stmts, c := optimizeStmts(prog, prog.Routines[ri].Body, consts)
			prog.Routines[ri].Body = stmts
			changed = changed || c
		}

		if !changed {
			return
		}
	}
}

// optimizeStmts rewrites one statement list, recursing into every nested
// body, and returns the (possibly shorter, possibly reordered) replacement
// list. Dead-branch/dead-loop elimination operate here, since replacing a
// statement with its taken branch requires splicing the parent list.
func optimizeStmts(prog *ast.Program, stmts []ast.StmtID, consts map[string]ast.Expr) ([]ast.StmtID, bool) {
	changed := false
	out := make([]ast.StmtID, 0, len(stmts))
	for _, id := range stmts {
		s := prog.S(id)
		changed = optimizeExprSlots(prog, s, consts) || changed

		switch s.Kind {
		case ast.StmtIf:
			nb, c1 := optimizeStmts(prog, s.Body, consts)
			ne, c2 := optimizeStmts(prog, s.ElseBody, consts)
			s.Body, s.ElseBody = nb, ne
			changed = changed || c1 || c2
			if lit, ok := boolLiteral(prog, s.Expr); ok {
				changed = true
				if lit {
					out = append(out, s.Body...)
				} else {
					out = append(out, s.ElseBody...)
				}
				continue
			}
		case ast.StmtWhile:
			nb, c := optimizeStmts(prog, s.Body, consts)
			s.Body = nb
			changed = changed || c
			if lit, ok := boolLiteral(prog, s.Expr); ok && !lit {
				changed = true
				continue // WHILE 0 ... WEND never runs
			}
			if len(s.Body) == 0 && isPure(prog, s.Expr) {
				changed = true
				continue // no observable effect left, and the condition is safe to stop evaluating
			}
		case ast.StmtDo:
			nb, c := optimizeStmts(prog, s.Body, consts)
			s.Body = nb
			changed = changed || c
			if len(s.Body) == 0 && isPure(prog, s.Expr) {
				changed = true
				continue
			}
		case ast.StmtRepeat:
			nb, c := optimizeStmts(prog, s.Body, consts)
			s.Body = nb
			changed = changed || c
		case ast.StmtFor:
			nb, c := optimizeStmts(prog, s.Body, consts)
			s.Body = nb
			changed = changed || c
		case ast.StmtSelectCase:
			for i := range s.Cases {
				cc := &s.Cases[i]
				nb, c := optimizeStmts(prog, cc.Body, consts)
				cc.Body = nb
				changed = changed || c
			}
		case ast.StmtTry:
			nb, c1 := optimizeStmts(prog, s.Body, consts)
			nc, c2 := optimizeStmts(prog, s.Catch, consts)
			nf, c3 := optimizeStmts(prog, s.Finally, consts)
			s.Body, s.Catch, s.Finally = nb, nc, nf
			changed = changed || c1 || c2 || c3
		}
		out = append(out, id)
	}
	return out, changed
}

// optimizeExprSlots runs fold+propagate over every expression slot a
// statement carries directly (not the nested bodies, handled by the
// caller).
func optimizeExprSlots(prog *ast.Program, s *ast.Stmt, consts map[string]ast.Expr) bool {
	changed := false
	step := func(id ast.ExprID) {
		if id == ast.NoExpr {
			return
		}
		changed = propagateExpr(prog, id, consts) || changed
		changed = foldExpr(prog, id) || changed
	}
	step(s.Expr)
	step(s.Expr2)
	step(s.Expr3)
	step(s.LHS)
	for _, e := range s.Exprs {
		step(e)
	}
	for _, b := range s.Shape {
		step(b.Lo)
		step(b.Hi)
	}
	for i := range s.Cases {
		cc := &s.Cases[i]
		for _, v := range cc.Values {
			step(v)
		}
		step(cc.IsValue)
		step(cc.Lo)
		step(cc.Hi)
	}
	return changed
}

// boolLiteral reports whether id is a compile-time-known boolean (a
// BoolLit, or a nonzero/zero numeric literal under BASIC's truthiness
// rule) after folding.
func boolLiteral(prog *ast.Program, id ast.ExprID) (bool, bool) {
	if id == ast.NoExpr {
		return false, false
	}
	e := prog.E(id)
	switch e.Kind {
	case ast.ExprBoolLit:
		return e.BoolVal, true
	case ast.ExprIntLit:
		return e.IntVal != 0, true
	case ast.ExprDoubleLit:
		return e.DoubleVal != 0, true
	}
	return false, false
}
