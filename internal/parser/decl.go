package parser

import (
	"strings"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/token"
)

// typeAnnotation parses the `AS <name>` suffix of a declaration, including
// the "()" array marker. Absent
// an explicit AS clause, the caller falls back to sigil-based inference.
func (p *Parser) typeAnnotation() (ast.TypeRef, bool) {
	if !p.check(token.KwAs) {
		return ast.Unknown, false
	}
	p.advance()
	name := p.advance().Lexeme
	t := typeByName(name)
	if p.check(token.LParen) {
		p.advance()
		p.expect(token.RParen, "')'")
		t = ast.TypeRef{Kind: ast.TyArray, Elem: &t, Rank: 1}
	}
	return t, true
}

func typeByName(name string) ast.TypeRef {
	switch strings.ToUpper(name) {
	case "INTEGER":
		return ast.Int16
	case "LONG":
		return ast.Int32
	case "LONG64", "LONGLONG":
		return ast.Long64
	case "SINGLE":
		return ast.Single
	case "DOUBLE":
		return ast.Double
	case "STRING":
		return ast.Str
	case "BOOLEAN":
		return ast.Bool
	case "HASHMAP":
		return ast.TypeRef{Kind: ast.TyHashmap}
	default:
		return ast.TypeRef{Kind: ast.TyUDT, Name: name}
	}
}

// sigilType infers a type from a trailing sigil when no AS clause is given
//.
func sigilType(s token.Sigil) ast.TypeRef {
	switch s {
	case token.IntegerSigil:
		return ast.Int32
	case token.SingleSigil:
		return ast.Single
	case token.DoubleSigil:
		return ast.Double
	case token.StringSigil:
		return ast.Str
	default:
		return ast.Double
	}
}

func (p *Parser) dimStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	shared := false
	if p.check(token.KwShared) || p.check(token.KwGlobal) || p.check(token.KwLocal) {
		shared = p.check(token.KwShared) || p.check(token.KwGlobal)
		p.advance()
	}
	name := p.expect(token.Ident, "variable name").Lexeme
	s := ast.Stmt{Kind: ast.StmtDim, Loc: loc, Name: name}
	if shared {
		s.Name = "SHARED " + name
	}
	if p.check(token.LParen) {
		p.advance()
		s.Shape = p.boundList()
		p.expect(token.RParen, "')'")
	}
	if t, ok := p.typeAnnotation(); ok {
		s.RetType = t
	}
	if p.check(token.Eq) {
		p.advance()
		s.Expr = p.expression()
	}
	for p.check(token.Comma) {
		p.advance()
		// Additional DIM'd names on the same statement reuse StmtDim's Names
		// slot, kept distinct from
		// the primary Name so codegen can special-case the common
		// single-variable DIM without walking a slice.
		s.Names = append(s.Names, p.expect(token.Ident, "variable name").Lexeme)
	}
	return p.newStmt(s)
}

func (p *Parser) boundList() []ast.ArrayBound {
	var bounds []ast.ArrayBound
	bounds = append(bounds, p.oneBound())
	for p.check(token.Comma) {
		p.advance()
		bounds = append(bounds, p.oneBound())
	}
	return bounds
}

func (p *Parser) oneBound() ast.ArrayBound {
	first := p.expression()
	if p.check(token.KwTo) {
		p.advance()
		hi := p.expression()
		return ast.ArrayBound{Lo: first, Hi: hi}
	}
	return ast.ArrayBound{Lo: ast.NoExpr, Hi: first}
}

func (p *Parser) redimStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	preserve := false
	if p.check(token.KwPreserve) {
		preserve = true
		p.advance()
	}
	name := p.expect(token.Ident, "array name").Lexeme
	p.expect(token.LParen, "'('")
	bounds := p.boundList()
	p.expect(token.RParen, "')'")
	s := ast.Stmt{Kind: ast.StmtRedim, Loc: loc, Name: name, Shape: bounds}
	if preserve {
		s.Label = "PRESERVE"
	}
	return p.newStmt(s)
}

func (p *Parser) constDecl() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	name := p.expect(token.Ident, "constant name").Lexeme
	p.expect(token.Eq, "'='")
	val := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtConstDecl, Loc: loc, Name: name, Expr: val})
}

// typeDecl parses `TYPE name ... field AS type ... END TYPE`, supporting
// UDT fields that are themselves UDTs.
func (p *Parser) typeDecl() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	name := p.expect(token.Ident, "type name").Lexeme
	p.consumeEOL()
	s := ast.Stmt{Kind: ast.StmtTypeDecl, Loc: loc, Name: name}
	for !p.check(token.KwEndType) && !p.atEnd() {
		p.consumeEOL()
		if p.check(token.KwEndType) {
			break
		}
		fname := p.expect(token.Ident, "field name").Lexeme
		t, ok := p.typeAnnotation()
		if !ok {
			t = ast.Double
		}
		s.Fields = append(s.Fields, ast.Field{Name: fname, Type: t})
		p.consumeEOL()
	}
	p.expect(token.KwEndType, "END TYPE")
	return p.newStmt(s)
}

// classDecl parses CLASS ... CONSTRUCTOR/methods/fields ... END CLASS
//. Methods are lowered to their own ast.Routine entries at
// name "<Class>.<Method>" so the code generator can address them uniformly
// with free-standing SUB/FUNCTION routines.
func (p *Parser) classDecl() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	name := p.expect(token.Ident, "class name").Lexeme
	s := ast.Stmt{Kind: ast.StmtClassDecl, Loc: loc, Name: name}
	if p.check(token.Colon) {
		p.advance()
		s.Superclass = p.expect(token.Ident, "superclass name").Lexeme
	}
	p.consumeEOL()
	for !p.check(token.KwEndClass) && !p.atEnd() {
		p.consumeEOL()
		if p.check(token.KwEndClass) {
			break
		}
		switch {
		case p.check(token.KwConstructor):
			p.advance()
			p.parseRoutineBody(name+".CONSTRUCTOR", "SUB")
		case p.check(token.KwFunction):
			p.advance()
			mname := p.expect(token.Ident, "method name").Lexeme
			p.parseRoutineBody(qualify(name, mname), "FUNCTION")
		case p.check(token.KwSub):
			p.advance()
			mname := p.expect(token.Ident, "method name").Lexeme
			p.parseRoutineBody(qualify(name, mname), "SUB")
		default:
			fname := p.expect(token.Ident, "field name").Lexeme
			t, ok := p.typeAnnotation()
			if !ok {
				t = ast.Double
			}
			s.Fields = append(s.Fields, ast.Field{Name: fname, Type: t})
		}
		p.consumeEOL()
	}
	p.expect(token.KwEndClass, "END CLASS")
	return p.newStmt(s)
}

func qualify(class, method string) string { return class + "." + method }

// parseRoutineDecl parses a top-level SUB/FUNCTION/WORKER.
func (p *Parser) parseRoutineDecl() {
	kindTok := p.advance()
	kind := "SUB"
	switch kindTok.Kind {
	case token.KwFunction:
		kind = "FUNCTION"
	case token.KwWorker:
		kind = "WORKER"
	}
	name := p.expect(token.Ident, "routine name").Lexeme
	p.parseRoutineBody(name, kind)
}

// parseRoutineBody parses the shared `(params) [AS type] <body> END <kw>`
// tail for SUB/FUNCTION/WORKER and class methods/constructors, appending
// the resulting ast.Routine to the program. The routine/method name has
// already been consumed by the caller.
func (p *Parser) parseRoutineBody(name, kind string) {
	loc := p.peek().Loc
	var params []ast.Param
	if p.check(token.LParen) {
		p.advance()
		if !p.check(token.RParen) {
			params = append(params, p.oneParam())
			for p.check(token.Comma) {
				p.advance()
				params = append(params, p.oneParam())
			}
		}
		p.expect(token.RParen, "')'")
	}
	retType := ast.Void
	if t, ok := p.typeAnnotation(); ok {
		retType = t
	}
	p.consumeEOL()
	var endKind token.Kind
	switch kind {
	case "FUNCTION":
		endKind = token.KwEndFunction
	case "WORKER":
		endKind = token.KwEndWorker
	default:
		endKind = token.KwEndSub
	}
	body := p.stmtsUntil(endKind)
	p.expect(endKind, "END "+kind)
	p.prog.Routines = append(p.prog.Routines, ast.Routine{
		Name: name, Kind: kind, Params: params, RetType: retType, Body: body, Loc: loc,
	})
}

func (p *Parser) oneParam() ast.Param {
	byref := false
	if p.check(token.KwByref) {
		byref = true
		p.advance()
	}
	name := p.expect(token.Ident, "parameter name").Lexeme
	t, ok := p.typeAnnotation()
	if !ok {
		t = ast.Double
	}
	if t.Kind == ast.TyUDT || t.Kind == ast.TyArray || t.Kind == ast.TyClass {
		byref = true
	}
	return ast.Param{Name: name, Type: t, ByRef: byref}
}
