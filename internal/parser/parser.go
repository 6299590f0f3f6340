// Package parser builds a typed-but-not-yet-resolved AST (internal/ast)
// from a token stream using recursive descent with operator-precedence
// climbing for expressions: match/check/advance/peek cursor helpers over
// the token slice, and a precedence table driving a Pratt-style expression
// loop, generalized to the BASIC grammar
package parser

import (
	"fmt"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/diag"
	"github.com/albanread/fasterbasic/internal/token"
)

// precedence is the binary-operator precedence table, low to high, per
// the language grammar: OR XOR ; AND ; comparisons ; + - ; * / \ MOD. NOT and unary
// minus are handled outside this table, as is right-associative '^'.
var precedence = map[token.Kind]int{
	token.KwOr: 1, token.KwXor: 1,
	token.KwAnd: 2,
	token.Eq: 3, token.Neq: 3, token.Lt: 3, token.Le: 3, token.Gt: 3, token.Ge: 3,
	token.Plus: 4, token.Minus: 4,
	token.Star: 5, token.Slash: 5, token.Backslash: 5, token.KwMod: 5,
}

type Parser struct {
	toks  []token.Token
	cur   int
	file  string
	prog  *ast.Program
	diags *diag.Bag
}

// Parse implements the parser's contract: tokens -> (*ast.Program, diagnostics).
func Parse(file string, toks []token.Token) (*ast.Program, *diag.Bag) {
	p := &Parser{toks: toks, file: file, prog: ast.New(), diags: diag.NewBag()}
	p.parseProgram()
	return p.prog, p.diags
}

func (p *Parser) parseProgram() {
	for !p.atEnd() {
		p.skipBlankLines()
		if p.atEnd() {
			break
		}
		line := ast.Line{Loc: p.peek().Loc}
		if p.check(token.LineNumber) {
			n := p.advance()
			line.Number = atoi(n.Lexeme)
			line.Loc = n.Loc
		}
		if p.check(token.KwFunction) || p.check(token.KwSub) || p.check(token.KwWorker) {
			p.parseRoutineDecl()
			continue
		}
		for {
			if p.check(token.EOL) || p.check(token.EOF) {
				break
			}
			stmt := p.statement()
			if stmt != ast.NoStmt {
				line.Stmts = append(line.Stmts, stmt)
			}
			if !p.check(token.EOL) {
				break
			}
			if p.peek().Lexeme != ":" {
				break
			}
			p.advance() // consume ':' separator, stay on the same line
		}
		p.prog.Lines = append(p.prog.Lines, line)
		p.consumeEOL()
	}
}

func (p *Parser) skipBlankLines() {
	for p.check(token.EOL) && p.peek().Lexeme == "\n" {
		p.advance()
	}
}

func (p *Parser) consumeEOL() {
	for p.check(token.EOL) {
		p.advance()
	}
}

// ---- token cursor helpers: match/check/advance/peek ----

func (p *Parser) peek() token.Token { return p.toks[p.cur] }

func (p *Parser) peekAt(n int) token.Token {
	if p.cur+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.cur+n]
}

func (p *Parser) atEnd() bool { return p.peek().Kind == token.EOF }

func (p *Parser) check(k token.Kind) bool { return p.peek().Kind == k }

func (p *Parser) advance() token.Token {
	t := p.toks[p.cur]
	if !p.atEnd() {
		p.cur++
	}
	return t
}

func (p *Parser) match(kinds ...token.Kind) bool {
	for _, k := range kinds {
		if p.check(k) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) expect(k token.Kind, what string) token.Token {
	if p.check(k) {
		return p.advance()
	}
	p.errorf("expected %s, found %q", what, p.peek().Lexeme)
	return p.peek()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.diags.Add(diag.Diagnostic{
		Kind: diag.Syntax, Severity: diag.Error, Loc: p.peek().Loc,
		Message: fmt.Sprintf(format, args...),
	})
}

// recover implements panic-mode recovery: skip to the next EOL (or the
// end of input).
func (p *Parser) recover() {
	for !p.atEnd() && !p.check(token.EOL) {
		p.advance()
	}
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func (p *Parser) newExpr(e ast.Expr) ast.ExprID { return p.prog.NewExpr(e) }
func (p *Parser) newStmt(s ast.Stmt) ast.StmtID { return p.prog.NewStmt(s) }
