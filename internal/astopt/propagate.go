package astopt

import (
	"strings"

	"github.com/albanread/fasterbasic/internal/ast"
)

// collectConstants finds every variable name written exactly once in the
// whole program, with that one write a literal CONSTANT or a scalar
// `DIM x = literal`, and returns name -> literal value for substitution.
//
// This is a name-based approximation, not a scope-correct one: a name
// reused across two routines is treated as a single variable. That only
// ever suppresses a propagation opportunity (the write count comes out
// above one, or the name lands in the never-propagate set below) — it
// never substitutes a wrong value, since any second write anywhere
// disqualifies the name everywhere.
func collectConstants(prog *ast.Program) map[string]ast.Expr {
	writeCount := map[string]int{}
	litValue := map[string]ast.Expr{}
	never := map[string]bool{}

	markWrite := func(name string) {
		if name == "" {
			return
		}
		writeCount[name]++
	}
	markLiteralWrite := func(name string, lit ast.Expr) {
		if name == "" {
			return
		}
		writeCount[name]++
		if writeCount[name] == 1 {
			litValue[name] = lit
		}
	}

	var walk func(id ast.StmtID)
	walk = func(id ast.StmtID) {
		if id == ast.NoStmt {
			return
		}
		s := prog.S(id)
		switch s.Kind {
		case ast.StmtDim:
			name := strings.TrimPrefix(s.Name, "SHARED ")
			if len(s.Shape) > 0 {
				never[name] = true // arrays are never propagated as scalars
			} else if s.Expr != ast.NoExpr && isLiteral(prog, s.Expr) {
				markLiteralWrite(name, *prog.E(s.Expr))
			} else {
				markWrite(name)
				never[name] = true
			}
			for _, n := range s.Names {
				markWrite(n)
				never[n] = true // multi-name DIM line shares one initializer, if any
			}
		case ast.StmtConstDecl:
			if s.Expr != ast.NoExpr && isLiteral(prog, s.Expr) {
				markLiteralWrite(s.Name, *prog.E(s.Expr))
			} else {
				markWrite(s.Name)
				never[s.Name] = true
			}
		case ast.StmtLet:
			markWrite(identName(prog, s.LHS))
		case ast.StmtSliceAssign:
			if e := prog.E(s.LHS); e.Kind == ast.ExprSlice {
				markWrite(identName(prog, e.Obj))
			}
		case ast.StmtUnmarshall:
			markWrite(identName(prog, s.LHS))
		case ast.StmtFor:
			never[s.Name] = true // mutated every iteration
		case ast.StmtRead:
			for _, n := range s.Names {
				never[n] = true
			}
		case ast.StmtInput, ast.StmtLineInput:
			never[identName(prog, s.LHS)] = true
			for _, n := range s.Names {
				never[n] = true
			}
		case ast.StmtTry:
			if s.CatchVar != "" {
				never[s.CatchVar] = true
			}
		case ast.StmtMatchReceive:
			for _, cc := range s.Cases {
				if cc.BindName != "" {
					never[cc.BindName] = true
				}
			}
		case ast.StmtSpawnAssign:
			never[identName(prog, s.LHS)] = true
		}
		for _, b := range s.Body {
			walk(b)
		}
		for _, b := range s.ElseBody {
			walk(b)
		}
		for _, cc := range s.Cases {
			for _, b := range cc.Body {
				walk(b)
			}
		}
		for _, b := range s.Catch {
			walk(b)
		}
		for _, b := range s.Finally {
			walk(b)
		}
	}

	for _, line := range prog.Lines {
		for _, id := range line.Stmts {
			walk(id)
		}
	}
	for _, r := range prog.Routines {
		for _, p := range r.Params {
			never[p.Name] = true // parameters may shadow a propagatable global name
		}
		for _, id := range r.Body {
			walk(id)
		}
	}

	out := map[string]ast.Expr{}
	for name, lit := range litValue {
		if writeCount[name] == 1 && !never[name] {
			out[name] = lit
		}
	}
	return out
}

func isLiteral(prog *ast.Program, id ast.ExprID) bool {
	if id == ast.NoExpr {
		return false
	}
	switch prog.E(id).Kind {
	case ast.ExprIntLit, ast.ExprDoubleLit, ast.ExprStringLit, ast.ExprBoolLit:
		return true
	}
	return false
}

func identName(prog *ast.Program, id ast.ExprID) string {
	if id == ast.NoExpr {
		return ""
	}
	if e := prog.E(id); e.Kind == ast.ExprIdent {
		return e.Name
	}
	return ""
}

// propagateExpr substitutes every read of a propagatable name within id's
// subtree with its recorded literal value.
func propagateExpr(prog *ast.Program, id ast.ExprID, consts map[string]ast.Expr) bool {
	if id == ast.NoExpr || len(consts) == 0 {
		return false
	}
	e := prog.E(id)
	switch e.Kind {
	case ast.ExprIdent:
		if lit, ok := consts[e.Name]; ok {
			loc, ty := e.Loc, e.Type
			nv := lit
			nv.Loc = loc
			if ty.Kind != ast.TyUnknown {
				nv.Type = ty
			}
			*prog.E(id) = nv
			return true
		}
		return false
	case ast.ExprUnary:
		return propagateExpr(prog, e.A, consts)
	case ast.ExprBinary:
		c1 := propagateExpr(prog, e.A, consts)
		c2 := propagateExpr(prog, e.B, consts)
		return c1 || c2
	case ast.ExprIif:
		c1 := propagateExpr(prog, e.A, consts)
		c2 := propagateExpr(prog, e.B, consts)
		c3 := propagateExpr(prog, e.C, consts)
		return c1 || c2 || c3
	case ast.ExprIndex, ast.ExprSlice:
		c1 := propagateExpr(prog, e.Obj, consts)
		c2 := propagateExpr(prog, e.A, consts)
		c3 := propagateExpr(prog, e.B, consts)
		return c1 || c2 || c3
	case ast.ExprField:
		return propagateExpr(prog, e.Obj, consts)
	case ast.ExprCall:
		changed := false
		for _, a := range e.Args {
			changed = propagateExpr(prog, a, consts) || changed
		}
		return changed
	case ast.ExprIsNothing, ast.ExprAwait:
		return propagateExpr(prog, e.A, consts)
	}
	return false
}
