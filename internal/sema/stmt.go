package sema

import (
	"strings"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/symtab"
)

// checkStmt validates and type-annotates one statement and everything
// reachable from it, dispatching on Kind in a single flat switch.
func (c *checker) checkStmt(scope *symtab.Scope, id ast.StmtID) {
	if id == ast.NoStmt {
		return
	}
	s := c.prog.S(id)
	switch s.Kind {
	case ast.StmtDim:
		c.checkDim(scope, s)
	case ast.StmtRedim:
		for _, b := range s.Shape {
			c.checkBound(scope, b)
		}
		if _, _, ok := scope.Lookup(s.Name); !ok {
			c.errorf(s.Loc, "REDIM of undeclared array %q", s.Name)
		}
	case ast.StmtErase:
		for _, n := range s.Names {
			if _, _, ok := scope.Lookup(n); !ok {
				c.errorf(s.Loc, "ERASE of undeclared array %q", n)
			}
		}
	case ast.StmtTypeDecl, ast.StmtClassDecl:
		// Layout already computed in the declareRecords prepass.
	case ast.StmtConstDecl:
		val := c.checkExpr(scope, s.Expr)
		scope.Declare(&symtab.Variable{Name: s.Name, Type: val, IsConst: true, ConstVal: c.prog.E(s.Expr), Declared: true})
	case ast.StmtLet:
		c.checkAssign(scope, s)
	case ast.StmtSliceAssign:
		lt := c.checkExpr(scope, s.LHS)
		if lt.Kind != ast.TyString {
			c.errorf(s.Loc, "slice assignment target must be a string")
		}
		c.checkExpr(scope, s.Expr)
	case ast.StmtPrint:
		for _, e := range s.Exprs {
			c.checkExpr(scope, e)
		}
	case ast.StmtInput, ast.StmtLineInput:
		c.checkExpr(scope, s.LHS)
		for _, e := range s.Exprs {
			c.checkExpr(scope, e)
		}
	case ast.StmtIf:
		c.checkCondBody(scope, s)
	case ast.StmtFor:
		c.checkFor(scope, s)
	case ast.StmtWhile:
		c.checkExpr(scope, s.Expr)
		c.pushLoop(loopWhile)
		c.checkBody(scope, s.Body)
		c.popLoop()
	case ast.StmtDo:
		c.checkExpr(scope, s.Expr)
		c.pushLoop(loopDo)
		c.checkBody(scope, s.Body)
		c.popLoop()
	case ast.StmtRepeat:
		c.pushLoop(loopDo)
		c.checkBody(scope, s.Body)
		c.popLoop()
		c.checkExpr(scope, s.Expr)
	case ast.StmtSelectCase:
		c.checkSelectCase(scope, s)
	case ast.StmtGoto, ast.StmtGosub:
		c.checkLabel(scope, s)
	case ast.StmtReturn:
		c.checkReturn(scope, s)
	case ast.StmtOnError:
		c.checkLabel(scope, s)
	case ast.StmtOnGoto:
		c.checkExpr(scope, s.Expr)
		for _, l := range s.Names[1:] {
			if _, ok := scope.LookupLabel(l); !ok {
				c.warnf(s.Loc, "ON GOTO/GOSUB target %q has no matching line number", l)
			}
		}
	case ast.StmtResume:
		if s.Label != "" {
			c.checkLabel(scope, s)
		}
	case ast.StmtTry:
		c.checkTry(scope, s)
	case ast.StmtThrow:
		c.checkThrow(scope, s)
	case ast.StmtCall:
		c.checkExpr(scope, s.Expr)
	case ast.StmtEnd, ast.StmtStop:
		// no operands
	case ast.StmtExit:
		c.checkExit(s)
	case ast.StmtData:
		for _, e := range s.Exprs {
			c.checkExpr(scope, e)
		}
	case ast.StmtRead:
		for _, e := range s.Exprs {
			c.checkExpr(scope, e)
		}
	case ast.StmtRestore:
		if s.Label != "" {
			if _, ok := c.res.RestorePoints[s.Label]; !ok {
				c.warnf(s.Loc, "RESTORE target %q has no preceding line number", s.Label)
			}
		}
	case ast.StmtOption:
		// OPTION DETECTSTRING/UNICODE/SAMM ON|OFF carries no expression to check.
	case ast.StmtSpawnAssign:
		c.checkSpawnAssign(scope, s)
	case ast.StmtSend:
		c.checkExpr(scope, s.LHS)
		c.checkExpr(scope, s.Expr)
	case ast.StmtMatchReceive:
		c.checkMatchReceive(scope, s)
	case ast.StmtMarshall:
		c.checkExpr(scope, s.Expr)
	case ast.StmtUnmarshall:
		c.checkExpr(scope, s.LHS)
		c.checkExpr(scope, s.Expr)
	case ast.StmtAfterSend, ast.StmtEverySend:
		c.checkExpr(scope, s.Expr)
		c.checkExpr(scope, s.LHS)
		c.checkExpr(scope, s.Expr2)
	case ast.StmtTimerStopAll:
		// no operands
	case ast.StmtCancel, ast.StmtDeleteObj:
		c.checkExpr(scope, s.Expr)
	case ast.StmtTerminal:
		for _, e := range s.Exprs {
			c.checkExpr(scope, e)
		}
	}
}

func (c *checker) checkBody(scope *symtab.Scope, body []ast.StmtID) {
	for _, id := range body {
		c.checkStmt(scope, id)
	}
}

func (c *checker) checkCondBody(scope *symtab.Scope, s *ast.Stmt) {
	c.checkExpr(scope, s.Expr)
	c.checkBody(scope, s.Body)
	c.checkBody(scope, s.ElseBody)
}

func (c *checker) checkDim(scope *symtab.Scope, s *ast.Stmt) {
	t := s.RetType
	if t.Kind == ast.TyUnknown {
		t = ast.Double
	}
	if len(s.Shape) > 0 {
		for _, b := range s.Shape {
			c.checkBound(scope, b)
		}
		elem := t
		t = ast.TypeRef{Kind: ast.TyArray, Elem: &elem, Rank: len(s.Shape)}
	}
	name := s.Name
	if strings.HasPrefix(name, "SHARED ") {
		name = strings.TrimPrefix(name, "SHARED ")
	}
	scope.Declare(&symtab.Variable{Name: name, Type: t, Declared: true})
	for _, n := range s.Names {
		scope.Declare(&symtab.Variable{Name: n, Type: t, Declared: true})
	}
	if s.Expr != ast.NoExpr {
		vt := c.checkExpr(scope, s.Expr)
		if vt.IsNumeric() && t.IsNumeric() && vt.IsFloat() && t.IsInteger() {
			c.warnf(s.Loc, "initializing integer %q with a float literal truncates", name)
		}
	}
}

func (c *checker) checkBound(scope *symtab.Scope, b ast.ArrayBound) {
	if b.Lo != ast.NoExpr {
		c.checkExpr(scope, b.Lo)
	}
	c.checkExpr(scope, b.Hi)
}

// checkAssign validates `target = value`: numeric widening is silent,
// float->int truncation warns, UDT assignment deep-copies (implemented by
// codegen; here only type compatibility is checked).
func (c *checker) checkAssign(scope *symtab.Scope, s *ast.Stmt) {
	lt := c.checkExpr(scope, s.LHS)
	rt := c.checkExpr(scope, s.Expr)
	if lt.Kind == ast.TyUnknown || rt.Kind == ast.TyUnknown {
		return
	}
	switch {
	case lt.Equal(rt):
	case lt.IsNumeric() && rt.IsNumeric():
		if lt.IsInteger() && rt.IsFloat() {
			c.warnf(s.Loc, "assigning float value to integer %q truncates toward zero", exprName(c, s.LHS))
		}
	case lt.Kind == ast.TyString && rt.Kind == ast.TyString:
	default:
		c.errorf(s.Loc, "cannot assign %s to %s", rt.String(), lt.String())
	}
}

func exprName(c *checker, id ast.ExprID) string {
	if id == ast.NoExpr {
		return "<expr>"
	}
	e := c.prog.E(id)
	if e.Name != "" {
		return e.Name
	}
	return "<expr>"
}

func (c *checker) checkFor(scope *symtab.Scope, s *ast.Stmt) {
	v, _, ok := scope.Lookup(s.Name)
	if !ok {
		v = &symtab.Variable{Name: s.Name, Type: ast.Int32, Declared: true}
		scope.Declare(v)
	} else if !v.Type.IsNumeric() {
		c.errorf(s.Loc, "FOR loop variable %q must be numeric", s.Name)
	}
	c.checkExpr(scope, s.Expr)
	c.checkExpr(scope, s.Expr2)
	if s.Expr3 != ast.NoExpr {
		c.checkExpr(scope, s.Expr3)
	}
	c.pushLoop(loopFor)
	c.checkBody(scope, s.Body)
	c.popLoop()
}

func (c *checker) checkSelectCase(scope *symtab.Scope, s *ast.Stmt) {
	swTy := c.checkExpr(scope, s.Expr)
	for i := range s.Cases {
		cc := &s.Cases[i]
		if cc.Else {
			c.checkBody(scope, cc.Body)
			continue
		}
		if cc.IsOp != "" {
			vt := c.checkExpr(scope, cc.IsValue)
			if !compatible(swTy, vt) {
				c.errorf(s.Loc, "CASE IS value is not comparable to the SELECT CASE expression")
			}
		} else if cc.Lo != ast.NoExpr {
			c.checkExpr(scope, cc.Lo)
			c.checkExpr(scope, cc.Hi)
		} else {
			for _, v := range cc.Values {
				vt := c.checkExpr(scope, v)
				if !compatible(swTy, vt) {
					c.errorf(s.Loc, "CASE value is not comparable to the SELECT CASE expression")
				}
			}
		}
		c.checkBody(scope, cc.Body)
	}
}

func compatible(a, b ast.TypeRef) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return true
	}
	return a.Kind == b.Kind
}

func (c *checker) checkLabel(scope *symtab.Scope, s *ast.Stmt) {
	if _, ok := scope.LookupLabel(s.Label); !ok {
		c.warnf(s.Loc, "target %q has no matching line number in this file", s.Label)
	}
}

func (c *checker) checkReturn(scope *symtab.Scope, s *ast.Stmt) {
	if c.inSub {
		if s.Expr != ast.NoExpr {
			c.errorf(s.Loc, "RETURN in a SUB must not return a value")
		}
		return
	}
	if s.Expr == ast.NoExpr {
		if c.retTy.Kind == ast.TyVoid {
			return // a GOSUB return: no routine return type is in force
		}
		c.errorf(s.Loc, "RETURN in a FUNCTION/WORKER must return a value")
		return
	}
	rt := c.checkExpr(scope, s.Expr)
	if rt.Kind != ast.TyUnknown && c.retTy.Kind != ast.TyUnknown && !compatible(c.retTy, rt) {
		c.errorf(s.Loc, "RETURN value of type %s is not assignable to return type %s", rt.String(), c.retTy.String())
	}
}

func (c *checker) checkExit(s *ast.Stmt) {
	want := strings.ToUpper(s.Name)
	if strings.Contains(want, "FUNCTION") || strings.Contains(want, "SUB") {
		return // routine-level exit, not loop-scoped
	}
	if len(c.loops) == 0 {
		c.errorf(s.Loc, "%s outside any loop", want)
		return
	}
	top := c.loops[len(c.loops)-1]
	ok := false
	switch {
	case strings.Contains(want, "FOR") && top == loopFor:
		ok = true
	case strings.Contains(want, "WHILE") && top == loopWhile:
		ok = true
	case strings.Contains(want, "DO") && top == loopDo:
		ok = true
	}
	if !ok {
		c.errorf(s.Loc, "%s does not match the innermost enclosing loop", want)
	}
}

func (c *checker) pushLoop(k loopKind) { c.loops = append(c.loops, k) }
func (c *checker) popLoop()            { c.loops = c.loops[:len(c.loops)-1] }

func (c *checker) checkTry(scope *symtab.Scope, s *ast.Stmt) {
	c.checkBody(scope, s.Body)
	if s.CatchVar != "" {
		scope.Declare(&symtab.Variable{Name: s.CatchVar, Type: ast.Int32, Declared: true})
	}
	c.checkBody(scope, s.Catch)
	c.checkBody(scope, s.Finally)
}

func (c *checker) checkThrow(scope *symtab.Scope, s *ast.Stmt) {
	t := c.checkExpr(scope, s.Expr)
	if !t.IsInteger() && t.Kind != ast.TyUnknown {
		c.errorf(s.Loc, "THROW argument must be an integer error code")
	}
	if lit, ok := c.intLiteralValue(s.Expr); ok && lit <= 0 {
		c.errorf(s.Loc, "THROW argument must be a positive integer")
	}
}

// intLiteralValue evaluates a compile-time-constant integer literal,
// including a leading unary minus, ahead of the AST optimizer's constant
// folding pass (which runs after semantic analysis).
func (c *checker) intLiteralValue(id ast.ExprID) (int64, bool) {
	e := c.prog.E(id)
	if e.Kind == ast.ExprIntLit {
		return e.IntVal, true
	}
	if e.Kind == ast.ExprUnary && e.Op == "-" {
		if v, ok := c.intLiteralValue(e.A); ok {
			return -v, true
		}
	}
	return 0, false
}

func (c *checker) checkSpawnAssign(scope *symtab.Scope, s *ast.Stmt) {
	c.checkExpr(scope, s.LHS)
	callee := c.prog.E(s.Expr).Obj
	if c.exprKind(callee) == ast.ExprIdent {
		name := c.prog.E(callee).Name
		if r, ok := scope.LookupRoutine(name); ok && r.Kind != "WORKER" {
			c.errorf(s.Loc, "SPAWN target %q is not declared WORKER", name)
		}
	}
	c.checkExpr(scope, s.Expr)
}

func (c *checker) checkMatchReceive(scope *symtab.Scope, s *ast.Stmt) {
	c.checkExpr(scope, s.Expr)
	for i := range s.Cases {
		cc := &s.Cases[i]
		if cc.BindName != "" {
			scope.Declare(&symtab.Variable{Name: cc.BindName, Type: ast.TypeRef{Kind: ast.TyUDT, Name: cc.TypeName}, Declared: true})
		}
		c.checkBody(scope, cc.Body)
	}
}
