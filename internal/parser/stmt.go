package parser

import (
	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/diag"
	"github.com/albanread/fasterbasic/internal/token"
)

// statement dispatches one statement by its leading keyword in a flat
// switch, so adding a new statement kind never requires touching existing
// cases.
func (p *Parser) statement() ast.StmtID {
	tok := p.peek()
	var id ast.StmtID
	switch tok.Kind {
	case token.KwLet:
		p.advance()
		id = p.assignmentLike()
	case token.KwDim:
		id = p.dimStmt()
	case token.KwRedim:
		id = p.redimStmt()
	case token.KwErase:
		id = p.eraseStmt()
	case token.KwConst:
		id = p.constDecl()
	case token.KwType:
		id = p.typeDecl()
	case token.KwClass:
		id = p.classDecl()
	case token.KwPrint:
		id = p.printStmt()
	case token.KwInput:
		id = p.inputStmt(false)
	case token.KwLineInput:
		id = p.inputStmt(true)
	case token.KwIf:
		id = p.ifStmt()
	case token.KwFor:
		id = p.forStmt()
	case token.KwWhile:
		id = p.whileStmt()
	case token.KwDo:
		id = p.doStmt()
	case token.KwRepeat:
		id = p.repeatStmt()
	case token.KwSelect:
		id = p.selectCaseStmt()
	case token.KwGoto:
		id = p.gotoStmt()
	case token.KwGosub:
		id = p.gosubStmt()
	case token.KwReturn:
		id = p.returnStmt()
	case token.KwOnError:
		id = p.onErrorStmt()
	case token.KwOn:
		id = p.onGotoStmt()
	case token.KwResume, token.KwResumeNext:
		id = p.resumeStmt()
	case token.KwTry:
		id = p.tryStmt()
	case token.KwThrow:
		id = p.throwStmt()
	case token.KwCall:
		id = p.callStmt()
	case token.KwEnd:
		p.advance()
		id = p.newStmt(ast.Stmt{Kind: ast.StmtEnd, Loc: tok.Loc})
	case token.KwStop:
		p.advance()
		id = p.newStmt(ast.Stmt{Kind: ast.StmtStop, Loc: tok.Loc})
	case token.KwExitFor, token.KwExitWhile, token.KwExitDo, token.KwExitFunction, token.KwExitSub:
		p.advance()
		id = p.newStmt(ast.Stmt{Kind: ast.StmtExit, Loc: tok.Loc, Name: tok.Lexeme})
	case token.KwData:
		id = p.dataStmt()
	case token.KwRead:
		id = p.readStmt()
	case token.KwRestore:
		id = p.restoreStmt()
	case token.KwOption:
		id = p.optionStmt()
	case token.KwWorker:
		p.errorf("nested WORKER declarations are not permitted")
		p.recover()
		return ast.NoStmt
	case token.KwSpawn:
		p.errorf("SPAWN must be used as f = SPAWN routine(args)")
		p.recover()
		return ast.NoStmt
	case token.KwSend:
		id = p.sendStmt()
	case token.KwMatchReceive:
		id = p.matchReceiveStmt()
	case token.KwMarshall:
		id = p.marshallStmt()
	case token.KwUnmarshall:
		id = p.unmarshallStmt()
	case token.KwAfter:
		id = p.afterSendStmt()
	case token.KwEvery:
		id = p.everySendStmt()
	case token.KwTimerStopAll:
		p.advance()
		id = p.newStmt(ast.Stmt{Kind: ast.StmtTimerStopAll, Loc: tok.Loc})
	case token.KwCancel:
		id = p.cancelStmt()
	case token.KwDelete:
		id = p.deleteStmt()
	case token.KwCls, token.KwLocate, token.KwColor, token.KwCursorSave,
		token.KwCursorRestore, token.KwStyle, token.KwScreen, token.KwScreenAlternate:
		id = p.terminalStmt()
	case token.Ident:
		id = p.identLedStmt()
	default:
		p.errorf("unexpected token %q at start of statement", tok.Lexeme)
		p.recover()
		return ast.NoStmt
	}
	return id
}

// identLedStmt disambiguates LET-less assignment, slice assignment, index
// assignment, field assignment, and a bare CALL from a leading identifier.
func (p *Parser) identLedStmt() ast.StmtID {
	return p.assignmentLike()
}

// assignmentLike parses `x = expr`, `a(i) = expr`, `obj.field = expr`, and
// the string slice assignment `s$(a TO b) = expr`.
func (p *Parser) assignmentLike() ast.StmtID {
	loc := p.peek().Loc
	target := p.postfix()
	if p.exprKind(target) == ast.ExprSlice {
		p.expect(token.Eq, "'='")
		val := p.expression()
		return p.newStmt(ast.Stmt{Kind: ast.StmtSliceAssign, Loc: loc, LHS: target, Expr: val})
	}
	if p.check(token.Eq) {
		p.advance()
		if p.check(token.KwSpawn) {
			p.advance()
			call := p.postfix()
			return p.newStmt(ast.Stmt{Kind: ast.StmtSpawnAssign, Loc: loc, LHS: target, Expr: call})
		}
		val := p.expression()
		return p.newStmt(ast.Stmt{Kind: ast.StmtLet, Loc: loc, LHS: target, Expr: val})
	}
	// No '=' follows: a bare call expression used as a statement.
	return p.newStmt(ast.Stmt{Kind: ast.StmtCall, Loc: loc, Expr: target})
}

func (p *Parser) printStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	s := ast.Stmt{Kind: ast.StmtPrint, Loc: loc}
	if p.check(token.EOL) || p.check(token.EOF) {
		return p.newStmt(s)
	}
	for {
		s.Exprs = append(s.Exprs, p.expression())
		if p.check(token.Semicolon) {
			p.advance()
			s.Seps = append(s.Seps, ";")
			if p.check(token.EOL) || p.check(token.EOF) {
				break
			}
			continue
		}
		if p.check(token.Comma) {
			p.advance()
			s.Seps = append(s.Seps, ",")
			if p.check(token.EOL) || p.check(token.EOF) {
				break
			}
			continue
		}
		s.Seps = append(s.Seps, "")
		break
	}
	return p.newStmt(s)
}

func (p *Parser) inputStmt(isLine bool) ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	s := ast.Stmt{Kind: ast.StmtInput, Loc: loc}
	if isLine {
		s.Kind = ast.StmtLineInput
	}
	if p.check(token.StringLiteral) {
		prompt := p.advance()
		s.Name = prompt.Lexeme
		p.expect(token.Semicolon, "';'")
	}
	s.LHS = p.postfix()
	for p.check(token.Comma) {
		p.advance()
		s.Exprs = append(s.Exprs, p.postfix())
	}
	return p.newStmt(s)
}

func (p *Parser) ifStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	cond := p.expression()
	p.expect(token.KwThen, "THEN")
	s := ast.Stmt{Kind: ast.StmtIf, Loc: loc, Expr: cond}
	if !p.check(token.EOL) {
		// Single-line form: IF cond THEN stmt [ELSE stmt]
		s.Body = append(s.Body, p.statement())
		for p.check(token.EOL) && p.peek().Lexeme == ":" {
			p.advance()
			s.Body = append(s.Body, p.statement())
		}
		if p.check(token.KwElse) {
			p.advance()
			s.ElseBody = append(s.ElseBody, p.statement())
			for p.check(token.EOL) && p.peek().Lexeme == ":" {
				p.advance()
				s.ElseBody = append(s.ElseBody, p.statement())
			}
		}
		return p.newStmt(s)
	}
	// Multi-line form. Each ELSEIF nests one level deeper into ElseBody,
	// so `IF a THEN .. ELSEIF b THEN .. ELSEIF c THEN .. ELSE .. END IF`
	// becomes IF a {ELSE [IF b {ELSE [IF c {ELSE [...]}]}]}; a single
	// trailing END IF closes the whole chain. Clauses are collected first
	// and the chain is built innermost-out, since each ast.Stmt must be
	// committed to the arena (and its StmtID known) before it can be
	// referenced from the ElseBody of the clause enclosing it.
	p.consumeEOL()
	s.Body = p.stmtsUntil(token.KwElseif, token.KwElse, token.KwEndIf)
	type clause struct {
		loc  diag.Location
		cond ast.ExprID
		body []ast.StmtID
	}
	var elseifs []clause
	for p.check(token.KwElseif) {
		elseifLoc := p.peek().Loc
		p.advance()
		econd := p.expression()
		p.expect(token.KwThen, "THEN")
		p.consumeEOL()
		ebody := p.stmtsUntil(token.KwElseif, token.KwElse, token.KwEndIf)
		elseifs = append(elseifs, clause{loc: elseifLoc, cond: econd, body: ebody})
	}
	var elseBody []ast.StmtID
	if p.check(token.KwElse) {
		p.advance()
		p.consumeEOL()
		elseBody = p.stmtsUntil(token.KwEndIf)
	}
	p.expect(token.KwEndIf, "END IF")

	// Build from the last ELSEIF backward: each nested IF's ElseBody is
	// either the trailing ELSE body (innermost) or the StmtID of the
	// clause already committed one level in.
	tail := elseBody
	for i := len(elseifs) - 1; i >= 0; i-- {
		c := elseifs[i]
		nested := ast.Stmt{Kind: ast.StmtIf, Loc: c.loc, Expr: c.cond, Body: c.body, ElseBody: tail}
		id := p.newStmt(nested)
		tail = []ast.StmtID{id}
	}
	s.ElseBody = tail
	return p.newStmt(s)
}

// stmtsUntil parses statements/lines until one of the given terminator
// keywords is the next token, consuming the terminating EOLs but not the
// terminator itself.
func (p *Parser) stmtsUntil(terms ...token.Kind) []ast.StmtID {
	var out []ast.StmtID
	for {
		p.consumeEOL()
		if p.atEnd() {
			return out
		}
		for _, t := range terms {
			if p.check(t) {
				return out
			}
		}
		if p.check(token.LineNumber) {
			tok := p.advance()
			out = append(out, p.newStmt(ast.Stmt{Kind: ast.StmtLabel, Loc: tok.Loc, Label: tok.Lexeme}))
		}
		stmt := p.statement()
		if stmt != ast.NoStmt {
			out = append(out, stmt)
		}
		for p.check(token.EOL) && p.peek().Lexeme == ":" {
			p.advance()
			stmt := p.statement()
			if stmt != ast.NoStmt {
				out = append(out, stmt)
			}
		}
	}
}

func (p *Parser) forStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	name := p.expect(token.Ident, "loop variable").Lexeme
	p.expect(token.Eq, "'='")
	from := p.expression()
	p.expect(token.KwTo, "TO")
	to := p.expression()
	var step ast.ExprID = ast.NoExpr
	if p.check(token.KwStep) {
		p.advance()
		step = p.expression()
	}
	s := ast.Stmt{Kind: ast.StmtFor, Loc: loc, Name: name, Expr: from, Expr2: to, Expr3: step}
	if p.check(token.EOL) {
		p.consumeEOL()
		s.Body = p.stmtsUntil(token.KwNext)
		p.expect(token.KwNext, "NEXT")
	} else {
		s.Body = []ast.StmtID{p.statement()}
		p.expect(token.KwNext, "NEXT")
	}
	if p.check(token.Ident) {
		p.advance() // optional loop variable after NEXT
	}
	return p.newStmt(s)
}

func (p *Parser) whileStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	cond := p.expression()
	p.consumeEOL()
	body := p.stmtsUntil(token.KwWend)
	p.expect(token.KwWend, "WEND")
	return p.newStmt(ast.Stmt{Kind: ast.StmtWhile, Loc: loc, Expr: cond, Body: body})
}

// doStmt covers both pre-test (DO WHILE|UNTIL cond ... LOOP) and post-test
// (DO ... LOOP WHILE|UNTIL cond) forms.
func (p *Parser) doStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	s := ast.Stmt{Kind: ast.StmtDo, Loc: loc}
	negated := false
	if p.check(token.KwWhile) || p.check(token.KwUntil) {
		negated = p.check(token.KwUntil)
		p.advance()
		s.Expr = p.expression()
		s.Name = "pre"
	}
	p.consumeEOL()
	s.Body = p.stmtsUntil(token.KwLoop)
	p.expect(token.KwLoop, "LOOP")
	if s.Name != "pre" && (p.check(token.KwWhile) || p.check(token.KwUntil)) {
		negated = p.check(token.KwUntil)
		p.advance()
		s.Expr = p.expression()
		s.Name = "post"
	}
	if negated {
		s.Expr2 = p.newExpr(ast.Expr{Kind: ast.ExprUnary, Loc: loc, Op: "NOT", A: s.Expr})
	} else {
		s.Expr2 = s.Expr
	}
	return p.newStmt(s)
}

func (p *Parser) repeatStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	p.consumeEOL()
	body := p.stmtsUntil(token.KwUntil)
	p.expect(token.KwUntil, "UNTIL")
	cond := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtRepeat, Loc: loc, Expr: cond, Body: body})
}

func (p *Parser) selectCaseStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	p.expect(token.KwCase, "CASE")
	switched := p.expression()
	p.consumeEOL()
	s := ast.Stmt{Kind: ast.StmtSelectCase, Loc: loc, Expr: switched}
	for p.check(token.KwCase) || p.check(token.KwCaseElse) {
		isElse := p.check(token.KwCaseElse)
		p.advance()
		cc := ast.CaseClause{IsValue: ast.NoExpr, Lo: ast.NoExpr, Hi: ast.NoExpr}
		if isElse {
			cc.Else = true
		} else if p.check(token.KwIs) {
			p.advance()
			op := p.advance().Lexeme
			cc.IsOp = op
			cc.IsValue = p.expression()
		} else {
			v := p.expression()
			if p.check(token.KwTo) {
				p.advance()
				hi := p.expression()
				cc.Lo, cc.Hi = v, hi
			} else {
				cc.Values = append(cc.Values, v)
				for p.check(token.Comma) {
					p.advance()
					cc.Values = append(cc.Values, p.expression())
				}
			}
		}
		p.consumeEOL()
		cc.Body = p.stmtsUntil(token.KwCase, token.KwCaseElse, token.KwEndSelect)
		s.Cases = append(s.Cases, cc)
	}
	p.expect(token.KwEndSelect, "END SELECT")
	return p.newStmt(s)
}

func (p *Parser) gotoStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	target := p.labelTarget()
	return p.newStmt(ast.Stmt{Kind: ast.StmtGoto, Loc: loc, Label: target})
}

func (p *Parser) gosubStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	target := p.labelTarget()
	return p.newStmt(ast.Stmt{Kind: ast.StmtGosub, Loc: loc, Label: target})
}

func (p *Parser) labelTarget() string {
	if p.check(token.IntLiteral) || p.check(token.LineNumber) {
		return p.advance().Lexeme
	}
	return p.expect(token.Ident, "label").Lexeme
}

func (p *Parser) returnStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	s := ast.Stmt{Kind: ast.StmtReturn, Loc: loc, Expr: ast.NoExpr}
	if !p.check(token.EOL) && !p.check(token.EOF) {
		s.Expr = p.expression()
	}
	return p.newStmt(s)
}

func (p *Parser) onErrorStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	p.expect(token.KwGoto, "GOTO")
	target := p.labelTarget()
	return p.newStmt(ast.Stmt{Kind: ast.StmtOnError, Loc: loc, Label: target})
}

// onGotoStmt covers `ON expr GOTO l1, l2, ...` and `ON expr GOSUB l1, l2, ...`.
func (p *Parser) onGotoStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	idx := p.expression()
	isGosub := p.check(token.KwGosub)
	if !isGosub {
		p.expect(token.KwGoto, "GOTO or GOSUB")
	} else {
		p.advance()
	}
	s := ast.Stmt{Kind: ast.StmtOnGoto, Loc: loc, Expr: idx, Name: "goto"}
	if isGosub {
		s.Name = "gosub"
	}
	s.Names = append(s.Names, p.labelTarget())
	for p.check(token.Comma) {
		p.advance()
		s.Names = append(s.Names, p.labelTarget())
	}
	return p.newStmt(s)
}

func (p *Parser) resumeStmt() ast.StmtID {
	loc := p.peek().Loc
	t := p.advance()
	s := ast.Stmt{Kind: ast.StmtResume, Loc: loc}
	if t.Kind == token.KwResumeNext {
		s.Name = "next"
	} else if p.check(token.Ident) || p.check(token.IntLiteral) || p.check(token.LineNumber) {
		s.Label = p.labelTarget()
	}
	return p.newStmt(s)
}

func (p *Parser) tryStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	p.consumeEOL()
	s := ast.Stmt{Kind: ast.StmtTry, Loc: loc}
	s.Body = p.stmtsUntil(token.KwCatch, token.KwFinally, token.KwEndTry)
	if p.check(token.KwCatch) {
		p.advance()
		if p.check(token.Ident) {
			s.CatchVar = p.advance().Lexeme
		}
		p.consumeEOL()
		s.Catch = p.stmtsUntil(token.KwFinally, token.KwEndTry)
	}
	if p.check(token.KwFinally) {
		p.advance()
		p.consumeEOL()
		s.Finally = p.stmtsUntil(token.KwEndTry)
	}
	p.expect(token.KwEndTry, "END TRY")
	return p.newStmt(s)
}

func (p *Parser) throwStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	code := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtThrow, Loc: loc, Expr: code})
}

func (p *Parser) callStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	target := p.postfix()
	return p.newStmt(ast.Stmt{Kind: ast.StmtCall, Loc: loc, Expr: target})
}

func (p *Parser) dataStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	s := ast.Stmt{Kind: ast.StmtData, Loc: loc}
	s.Exprs = append(s.Exprs, p.expression())
	for p.check(token.Comma) {
		p.advance()
		s.Exprs = append(s.Exprs, p.expression())
	}
	return p.newStmt(s)
}

func (p *Parser) readStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	s := ast.Stmt{Kind: ast.StmtRead, Loc: loc}
	s.Exprs = append(s.Exprs, p.postfix())
	for p.check(token.Comma) {
		p.advance()
		s.Exprs = append(s.Exprs, p.postfix())
	}
	return p.newStmt(s)
}

func (p *Parser) restoreStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	s := ast.Stmt{Kind: ast.StmtRestore, Loc: loc}
	if p.check(token.Ident) || p.check(token.IntLiteral) || p.check(token.LineNumber) {
		s.Label = p.labelTarget()
	}
	return p.newStmt(s)
}

func (p *Parser) optionStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	name := p.advance()
	s := ast.Stmt{Kind: ast.StmtOption, Loc: loc, Name: name.Lexeme}
	if p.check(token.KwOn) || p.check(token.KwOff) {
		s.Name = s.Name + " " + p.advance().Lexeme
	}
	return p.newStmt(s)
}

func (p *Parser) sendStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	target := p.expression()
	p.expect(token.Comma, "','")
	val := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtSend, Loc: loc, LHS: target, Expr: val})
}

func (p *Parser) matchReceiveStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	p.expect(token.LParen, "'('")
	src := p.expression()
	p.expect(token.RParen, "')'")
	p.consumeEOL()
	s := ast.Stmt{Kind: ast.StmtMatchReceive, Loc: loc, Expr: src}
	for p.check(token.KwCase) || p.check(token.KwCaseElse) {
		isElse := p.check(token.KwCaseElse)
		p.advance()
		var cc ast.CaseClause
		if isElse {
			cc.Else = true
		} else {
			cc.TypeName = p.expect(token.Ident, "type name").Lexeme
			if p.check(token.Ident) {
				cc.BindName = p.advance().Lexeme
			}
		}
		p.consumeEOL()
		cc.Body = p.stmtsUntil(token.KwCase, token.KwCaseElse, token.KwEndMatch)
		s.Cases = append(s.Cases, cc)
	}
	p.expect(token.KwEndMatch, "END MATCH")
	return p.newStmt(s)
}

func (p *Parser) marshallStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	val := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtMarshall, Loc: loc, Expr: val})
}

func (p *Parser) unmarshallStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	target := p.postfix()
	p.expect(token.Comma, "','")
	blob := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtUnmarshall, Loc: loc, LHS: target, Expr: blob})
}

func (p *Parser) afterSendStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	n := p.expression()
	p.expect(token.KwMs, "MS")
	p.expect(token.KwSend, "SEND")
	target := p.expression()
	p.expect(token.Comma, "','")
	msg := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtAfterSend, Loc: loc, Expr: n, LHS: target, Expr2: msg})
}

func (p *Parser) everySendStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	n := p.expression()
	p.expect(token.KwMs, "MS")
	p.expect(token.KwSend, "SEND")
	target := p.expression()
	p.expect(token.Comma, "','")
	msg := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtEverySend, Loc: loc, Expr: n, LHS: target, Expr2: msg})
}

func (p *Parser) cancelStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	target := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtCancel, Loc: loc, Expr: target})
}

func (p *Parser) deleteStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	target := p.expression()
	return p.newStmt(ast.Stmt{Kind: ast.StmtDeleteObj, Loc: loc, Expr: target})
}

func (p *Parser) terminalStmt() ast.StmtID {
	loc := p.peek().Loc
	name := p.advance().Lexeme
	s := ast.Stmt{Kind: ast.StmtTerminal, Loc: loc, Name: name}
	if !p.check(token.EOL) && !p.check(token.EOF) {
		s.Exprs = append(s.Exprs, p.expression())
		for p.check(token.Comma) {
			p.advance()
			s.Exprs = append(s.Exprs, p.expression())
		}
	}
	return p.newStmt(s)
}

func (p *Parser) eraseStmt() ast.StmtID {
	loc := p.peek().Loc
	p.advance()
	s := ast.Stmt{Kind: ast.StmtErase, Loc: loc}
	s.Names = append(s.Names, p.expect(token.Ident, "array name").Lexeme)
	for p.check(token.Comma) {
		p.advance()
		s.Names = append(s.Names, p.expect(token.Ident, "array name").Lexeme)
	}
	return p.newStmt(s)
}
