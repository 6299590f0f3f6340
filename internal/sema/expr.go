package sema

import (
	"strings"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/symtab"
)

// checkExpr types and resolves e in scope, mutating the arena slot in place
// and returning the resolved type for the caller's convenience.
func (c *checker) checkExpr(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	if id == ast.NoExpr {
		return ast.Void
	}
	e := c.prog.E(id)
	var t ast.TypeRef
	switch e.Kind {
	case ast.ExprIntLit:
		t = ast.Int32
	case ast.ExprDoubleLit:
		t = ast.Double
	case ast.ExprStringLit:
		t = ast.Str
		t.Unicode = e.Unicode
	case ast.ExprBoolLit:
		t = ast.Bool
	case ast.ExprIdent:
		t = c.resolveIdent(scope, id)
	case ast.ExprIndex:
		t = c.checkIndex(scope, id)
	case ast.ExprField:
		t = c.checkField(scope, id)
	case ast.ExprCall:
		t = c.checkCall(scope, id)
	case ast.ExprUnary:
		t = c.checkUnary(scope, id)
	case ast.ExprBinary:
		t = c.checkBinary(scope, id)
	case ast.ExprSlice:
		t = c.checkSlice(scope, id)
	case ast.ExprIif:
		c.checkExpr(scope, e.A)
		tt := c.checkExpr(scope, e.B)
		c.checkExpr(scope, e.C)
		t = tt
	case ast.ExprNewObject:
		t = c.checkNewObject(scope, id)
	case ast.ExprMe:
		t = ast.TypeRef{Kind: ast.TyClass, Name: "SELF"}
	case ast.ExprIsNothing:
		c.checkExpr(scope, e.A)
		t = ast.Bool
	case ast.ExprReceive:
		c.checkExpr(scope, e.A)
		t = ast.Unknown // static type depends on the worker's declared message type, fixed up by codegen
	case ast.ExprCancelled:
		if e.A != ast.NoExpr {
			c.checkExpr(scope, e.A)
		}
		t = ast.Bool
	case ast.ExprAwait:
		t = c.checkExpr(scope, e.A)
	default:
		t = ast.Unknown
	}
	c.prog.E(id).Type = t
	return t
}

// resolveIdent looks up a variable, auto-declaring it with a sigil-inferred
// type on first use ("auto-declared with type inferred from
// sigil" absent OPTION EXPLICIT).
func (c *checker) resolveIdent(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	e := c.prog.E(id)
	name := e.Name
	if strings.EqualFold(name, "NOTHING") {
		return ast.TypeRef{Kind: ast.TyClass, Name: "NOTHING"}
	}
	if v, sc, ok := scope.Lookup(name); ok {
		v.Used = true
		c.res.ExprScope[id] = sc
		return v.Type
	}
	ty := ast.Double
	if n := len(name); n > 0 {
		switch name[n-1] {
		case '%':
			ty = ast.Int32
		case '!':
			ty = ast.Single
		case '$':
			ty = ast.Str
		}
	}
	v := &symtab.Variable{Name: name, Type: ty, Storage: symtab.Global, Declared: false}
	sym := scope.Declare(v)
	c.prog.E(id).Sym = sym
	c.res.ExprScope[id] = scope
	return v.Type
}

func (c *checker) checkIndex(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	e := c.prog.E(id)
	baseTy := c.checkExpr(scope, e.Obj)
	for _, a := range e.Args {
		at := c.checkExpr(scope, a)
		if !at.IsNumeric() {
			c.errorf(e.Loc, "array index must be numeric")
		}
	}
	if baseTy.Kind == ast.TyArray && baseTy.Elem != nil {
		return *baseTy.Elem
	}
	return ast.Unknown
}

func (c *checker) checkField(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	e := c.prog.E(id)
	objTy := c.checkExpr(scope, e.Obj)
	if objTy.Kind != ast.TyUDT && objTy.Kind != ast.TyClass {
		c.errorf(e.Loc, "'.%s' requires a TYPE or CLASS value, got %s", e.Name, objTy.String())
		return ast.Unknown
	}
	rd, ok := scope.LookupRecord(objTy.Name)
	if !ok {
		c.errorf(e.Loc, "unknown type %q", objTy.Name)
		return ast.Unknown
	}
	for _, f := range rd.Fields {
		if f.Name == e.Name {
			return f.Type
		}
	}
	c.errorf(e.Loc, "%s has no field %q", objTy.String(), e.Name)
	return ast.Unknown
}

func (c *checker) checkCall(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	e := c.prog.E(id)
	name := ""
	if c.exprKind(e.Obj) == ast.ExprIdent {
		name = c.prog.E(e.Obj).Name
	} else {
		c.checkExpr(scope, e.Obj)
	}
	for _, a := range e.Args {
		c.checkExpr(scope, a)
	}
	if name == "" {
		return ast.Unknown
	}
	r, ok := scope.LookupRoutine(name)
	if !ok {
		// Built-in function (LEN, MID$, VAL, ...); type resolved by the
		// runtime ABI, not the user symbol table.
		return builtinReturnType(name)
	}
	if len(e.Args) != len(r.Params) {
		c.errorf(e.Loc, "%s expects %d argument(s), got %d", name, len(r.Params), len(e.Args))
	}
	return r.ReturnType
}

func (c *checker) checkUnary(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	e := c.prog.E(id)
	t := c.checkExpr(scope, e.A)
	switch strings.ToUpper(e.Op) {
	case "NOT":
		return ast.Bool
	default: // unary minus
		if !t.IsNumeric() {
			c.errorf(e.Loc, "unary '-' requires a numeric operand")
		}
		return t
	}
}

func (c *checker) checkBinary(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	e := c.prog.E(id)
	lt := c.checkExpr(scope, e.A)
	rt := c.checkExpr(scope, e.B)
	op := strings.ToUpper(e.Op)
	switch op {
	case "AND", "OR", "XOR":
		return ast.Bool
	case "=", "<>", "<", "<=", ">", ">=":
		if lt.Kind == ast.TyString || rt.Kind == ast.TyString {
			if lt.Kind != ast.TyString || rt.Kind != ast.TyString {
				c.errorf(e.Loc, "cannot compare %s to %s", lt.String(), rt.String())
			}
		}
		return ast.Bool
	case "+":
		if lt.Kind == ast.TyString || rt.Kind == ast.TyString {
			u := lt.Unicode || rt.Unicode // ASCII promotes to Unicode on mixed operands
			return ast.TypeRef{Kind: ast.TyString, Unicode: u}
		}
		return promoteNumeric(c, e, lt, rt)
	case "-", "*", "\\", "MOD":
		return promoteNumeric(c, e, lt, rt)
	case "/":
		if !lt.IsNumeric() || !rt.IsNumeric() {
			c.errorf(e.Loc, "'/' requires numeric operands")
		}
		return ast.Double // floating division always promotes
	default:
		return promoteNumeric(c, e, lt, rt)
	}
}

func promoteNumeric(c *checker, e *ast.Expr, lt, rt ast.TypeRef) ast.TypeRef {
	if !lt.IsNumeric() || !rt.IsNumeric() {
		c.errorf(e.Loc, "operator %q requires numeric operands, got %s and %s", e.Op, lt.String(), rt.String())
		return ast.Unknown
	}
	if lt.IsFloat() || rt.IsFloat() {
		return ast.WidestFloat(lt, rt)
	}
	if lt.Kind == ast.TyLong64 || rt.Kind == ast.TyLong64 {
		return ast.Long64
	}
	if lt.Kind == ast.TyInteger32 || rt.Kind == ast.TyInteger32 {
		return ast.Int32
	}
	return ast.Int16
}

func (c *checker) checkSlice(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	e := c.prog.E(id)
	objTy := c.checkExpr(scope, e.Obj)
	if objTy.Kind != ast.TyString {
		c.errorf(e.Loc, "slice '()' on a non-string requires array indexing, not TO bounds")
	}
	if e.A != ast.NoExpr {
		c.checkExpr(scope, e.A)
	}
	if e.B != ast.NoExpr {
		c.checkExpr(scope, e.B)
	}
	return objTy
}

func (c *checker) checkNewObject(scope *symtab.Scope, id ast.ExprID) ast.TypeRef {
	e := c.prog.E(id)
	for _, a := range e.Args {
		c.checkExpr(scope, a)
	}
	if _, ok := scope.LookupRecord(e.Name); !ok {
		c.errorf(e.Loc, "unknown class %q", e.Name)
	}
	return ast.TypeRef{Kind: ast.TyClass, Name: e.Name}
}

func (c *checker) exprKind(id ast.ExprID) ast.ExprKind { return c.prog.E(id).Kind }

// builtinReturnType gives the static return type of the runtime's built-in
// functions that are not user-declared routines.
func builtinReturnType(name string) ast.TypeRef {
	switch strings.ToUpper(name) {
	case "LEN", "ASC", "INSTR":
		return ast.Int32
	case "VAL":
		return ast.Double
	case "LEFT$", "RIGHT$", "MID$", "STR$", "UCASE$", "LCASE$", "TRIM$", "CHR$":
		return ast.Str
	case "INT", "CINT", "FIX":
		return ast.Int32
	case "SIN", "COS", "TAN", "SQR", "ABS", "LOG", "EXP", "ATN":
		return ast.Double
	default:
		return ast.Unknown
	}
}
