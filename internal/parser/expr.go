package parser

import (
	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/token"
)

// expression parses the full precedence chain starting at OR/XOR, the
// lowest-precedence level
func (p *Parser) expression() ast.ExprID {
	return p.binary(0)
}

func (p *Parser) binary(minPrec int) ast.ExprID {
	left := p.unary()
	for {
		k := p.peek().Kind
		prec, ok := precedence[k]
		if !ok || prec < minPrec {
			return left
		}
		op := p.advance()
		right := p.binary(prec + 1)
		kind := ast.ExprBinary
		loc := op.Loc
		left = p.newExpr(ast.Expr{Kind: kind, Loc: loc, Op: op.Lexeme, A: left, B: right})
	}
}

// unary handles NOT and unary minus, then power (right-associative '^'),
// then the postfix chain (call/index/field): unary '-' binds looser than
// '^', which binds looser than a bare primary.
func (p *Parser) unary() ast.ExprID {
	if p.check(token.KwNot) || p.check(token.Minus) {
		op := p.advance()
		operand := p.unary()
		return p.newExpr(ast.Expr{Kind: ast.ExprUnary, Loc: op.Loc, Op: op.Lexeme, A: operand})
	}
	return p.power()
}

func (p *Parser) power() ast.ExprID {
	base := p.postfix()
	if p.check(token.Caret) {
		op := p.advance()
		exp := p.unary() // right-assoc: x^y^z == x^(y^z)
		return p.newExpr(ast.Expr{Kind: ast.ExprBinary, Loc: op.Loc, Op: "^", A: base, B: exp})
	}
	return base
}

// postfix handles member access '.' and indexing '()' which bind tighter
// than every other operator.
func (p *Parser) postfix() ast.ExprID {
	e := p.primary()
	for {
		switch {
		case p.check(token.Dot):
			p.advance()
			name := p.expect(token.Ident, "field name").Lexeme
			e = p.newExpr(ast.Expr{Kind: ast.ExprField, Loc: p.peek().Loc, Name: name, Obj: e})
		case p.check(token.LParen):
			e = p.finishCallOrIndexOrSlice(e)
		default:
			return e
		}
	}
}

// finishCallOrIndexOrSlice disambiguates f(args), a(i), and s$(a TO b) by
// scanning for a bare TO token before the matching ')'.
func (p *Parser) finishCallOrIndexOrSlice(callee ast.ExprID) ast.ExprID {
	loc := p.peek().Loc
	p.advance() // '('
	if p.check(token.RParen) {
		p.advance()
		return p.newExpr(ast.Expr{Kind: ast.ExprCall, Loc: loc, Obj: callee})
	}
	// S$(TO b) : leading TO means an open-start slice.
	if p.check(token.KwTo) {
		p.advance()
		end := p.expression()
		p.expect(token.RParen, "')'")
		return p.newExpr(ast.Expr{Kind: ast.ExprSlice, Loc: loc, Obj: callee, A: ast.NoExpr, B: end})
	}
	first := p.expression()
	if p.check(token.KwTo) {
		p.advance()
		var end ast.ExprID = ast.NoExpr
		if !p.check(token.RParen) {
			end = p.expression()
		}
		p.expect(token.RParen, "')'")
		return p.newExpr(ast.Expr{Kind: ast.ExprSlice, Loc: loc, Obj: callee, A: first, B: end})
	}
	args := []ast.ExprID{first}
	for p.check(token.Comma) {
		p.advance()
		args = append(args, p.expression())
	}
	p.expect(token.RParen, "')'")
	if p.exprKind(callee) == ast.ExprIdent {
		return p.newExpr(ast.Expr{Kind: ast.ExprIndex, Loc: loc, Obj: callee, Args: args})
	}
	return p.newExpr(ast.Expr{Kind: ast.ExprCall, Loc: loc, Obj: callee, Args: args})
}

func (p *Parser) exprKind(id ast.ExprID) ast.ExprKind { return p.prog.E(id).Kind }

func (p *Parser) primary() ast.ExprID {
	tok := p.peek()
	switch tok.Kind {
	case token.IntLiteral:
		p.advance()
		return p.newExpr(ast.Expr{Kind: ast.ExprIntLit, Loc: tok.Loc, IntVal: int64(atoi(tok.Lexeme))})
	case token.DoubleLiteral:
		p.advance()
		return p.newExpr(ast.Expr{Kind: ast.ExprDoubleLit, Loc: tok.Loc, DoubleVal: parseFloat(tok.Lexeme)})
	case token.StringLiteral:
		p.advance()
		return p.newExpr(ast.Expr{Kind: ast.ExprStringLit, Loc: tok.Loc, StrVal: tok.Lexeme, Unicode: tok.Unicode})
	case token.KwMe:
		p.advance()
		return p.newExpr(ast.Expr{Kind: ast.ExprMe, Loc: tok.Loc})
	case token.KwNothing:
		p.advance()
		return p.newExpr(ast.Expr{Kind: ast.ExprIdent, Loc: tok.Loc, Name: "NOTHING"})
	case token.KwNew:
		return p.newObjectExpr()
	case token.KwIif:
		return p.iifExpr()
	case token.KwReceive:
		return p.receiveExpr()
	case token.KwCancelled:
		return p.cancelledExpr()
	case token.KwAwait:
		p.advance()
		target := p.unary()
		return p.newExpr(ast.Expr{Kind: ast.ExprAwait, Loc: tok.Loc, A: target})
	case token.LParen:
		p.advance()
		e := p.expression()
		p.expect(token.RParen, "')'")
		return e
	case token.Ident:
		p.advance()
		id := p.newExpr(ast.Expr{Kind: ast.ExprIdent, Loc: tok.Loc, Name: tok.Lexeme})
		if p.check(token.KwIs) {
			p.advance()
			p.expect(token.KwNothing, "NOTHING")
			return p.newExpr(ast.Expr{Kind: ast.ExprIsNothing, Loc: tok.Loc, A: id})
		}
		return id
	default:
		p.errorf("unexpected token %q in expression", tok.Lexeme)
		p.advance()
		return p.newExpr(ast.Expr{Kind: ast.ExprIntLit, Loc: tok.Loc})
	}
}

func (p *Parser) newObjectExpr() ast.ExprID {
	loc := p.peek().Loc
	p.advance() // NEW
	name := p.expect(token.Ident, "class name").Lexeme
	var args []ast.ExprID
	if p.match(token.LParen) {
		if !p.check(token.RParen) {
			args = append(args, p.expression())
			for p.check(token.Comma) {
				p.advance()
				args = append(args, p.expression())
			}
		}
		p.expect(token.RParen, "')'")
	}
	return p.newExpr(ast.Expr{Kind: ast.ExprNewObject, Loc: loc, Name: name, Args: args})
}

func (p *Parser) iifExpr() ast.ExprID {
	loc := p.peek().Loc
	p.advance()
	p.expect(token.LParen, "'('")
	cond := p.expression()
	p.expect(token.Comma, "','")
	then := p.expression()
	p.expect(token.Comma, "','")
	els := p.expression()
	p.expect(token.RParen, "')'")
	return p.newExpr(ast.Expr{Kind: ast.ExprIif, Loc: loc, A: cond, B: then, C: els})
}

func (p *Parser) receiveExpr() ast.ExprID {
	loc := p.peek().Loc
	p.advance()
	p.expect(token.LParen, "'('")
	src := p.expression()
	p.expect(token.RParen, "')'")
	return p.newExpr(ast.Expr{Kind: ast.ExprReceive, Loc: loc, A: src})
}

func (p *Parser) cancelledExpr() ast.ExprID {
	loc := p.peek().Loc
	p.advance()
	p.expect(token.LParen, "'('")
	var src ast.ExprID = ast.NoExpr
	if p.check(token.KwParent) {
		p.advance()
	} else {
		src = p.expression()
	}
	p.expect(token.RParen, "')'")
	return p.newExpr(ast.Expr{Kind: ast.ExprCancelled, Loc: loc, A: src})
}

func parseFloat(s string) float64 {
	var intPart, fracPart float64
	var fracDiv float64 = 1
	i := 0
	neg := false
	if i < len(s) && s[i] == '-' {
		neg = true
		i++
	}
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		intPart = intPart*10 + float64(s[i]-'0')
		i++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			fracPart = fracPart*10 + float64(s[i]-'0')
			fracDiv *= 10
			i++
		}
	}
	val := intPart + fracPart/fracDiv
	exp := 0
	expNeg := false
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			expNeg = s[i] == '-'
			i++
		}
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			exp = exp*10 + int(s[i]-'0')
			i++
		}
	}
	for j := 0; j < exp; j++ {
		if expNeg {
			val /= 10
		} else {
			val *= 10
		}
	}
	if neg {
		val = -val
	}
	return val
}
