// Package lexer tokenizes FasterBASIC source text into a token stream with
// precise source locations. A start/current/line cursor advances over a
// byte slice, extended for line-number prefixes, type sigils, and the
// BASIC comment forms.
package lexer

import (
	"strings"

	"github.com/albanread/fasterbasic/internal/diag"
	"github.com/albanread/fasterbasic/internal/token"
)

// Lexer turns one source file into a token stream. It is restartable only
// by constructing a fresh Lexer over the same bytes.
type Lexer struct {
	file    string
	src     string
	start   int
	current int
	line    int
	column  int
	lineStart int // true at the first non-space position of a physical line
	tokens  []token.Token
	diags   *diag.Bag
}

// Tokenize implements the lexer's contract: tokenize(source) -> (tokens,
// diagnostics).
func Tokenize(file, source string) ([]token.Token, *diag.Bag) {
	l := &Lexer{file: file, src: source, line: 1, column: 1, lineStart: 0, diags: diag.NewBag()}
	return l.run(), l.diags
}

func (l *Lexer) run() []token.Token {
	atBOL := true
	for !l.atEnd() {
		l.skipBlankAndComments()
		if l.atEnd() {
			break
		}
		l.start = l.current
		if atBOL && isDigit(l.peek()) {
			l.lineNumber()
			atBOL = false
			continue
		}
		atBOL = false
		c := l.advance()
		switch {
		case c == '\n':
			l.emit(token.EOL, "\n")
			l.line++
			l.column = 1
			atBOL = true
		case c == ':':
			l.emit(token.EOL, ":")
		case c == '"':
			l.stringLiteral()
		case isDigit(c):
			l.number()
		case isAlpha(c):
			l.identifier()
		default:
			l.symbol(c)
		}
	}
	l.start = l.current
	l.emit(token.EOF, "")
	return l.tokens
}

func (l *Lexer) skipBlankAndComments() {
	for !l.atEnd() {
		switch l.peek() {
		case ' ', '\t', '\r':
			l.advance()
		case '\'':
			for !l.atEnd() && l.peek() != '\n' {
				l.advance()
			}
		default:
			if l.matchWordCI("rem") && (l.atEnd() || !isAlphaNumeric(l.peek())) {
				for !l.atEnd() && l.peek() != '\n' {
					l.advance()
				}
				continue
			}
			return
		}
	}
}

// matchWordCI consumes the given case-insensitive keyword if it begins at
// the current position, leaving the cursor unchanged on failure.
func (l *Lexer) matchWordCI(word string) bool {
	if l.current+len(word) > len(l.src) {
		return false
	}
	if !strings.EqualFold(l.src[l.current:l.current+len(word)], word) {
		return false
	}
	l.current += len(word)
	return true
}

func (l *Lexer) lineNumber() {
	for isDigit(l.peek()) {
		l.advance()
	}
	l.tokens = append(l.tokens, token.Token{
		Kind: token.LineNumber, Lexeme: l.src[l.start:l.current], Loc: l.loc(), IsInteger: true,
	})
}

func (l *Lexer) number() {
	isFloat := false
	for isDigit(l.peek()) {
		l.advance()
	}
	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		isFloat = true
		l.advance()
		for isDigit(l.peek()) {
			l.advance()
		}
	}
	if l.peek() == 'e' || l.peek() == 'E' {
		save := l.current
		l.advance()
		if l.peek() == '+' || l.peek() == '-' {
			l.advance()
		}
		if isDigit(l.peek()) {
			isFloat = true
			for isDigit(l.peek()) {
				l.advance()
			}
		} else {
			l.current = save
		}
	}
	kind := token.IntLiteral
	if isFloat {
		kind = token.DoubleLiteral
	}
	l.tokens = append(l.tokens, token.Token{
		Kind: kind, Lexeme: l.src[l.start:l.current], Loc: l.loc(), IsInteger: !isFloat,
	})
}

func (l *Lexer) stringLiteral() {
	var b strings.Builder
	unicode := false
	for {
		if l.atEnd() {
			l.diags.Errorf(diag.Lexical, l.loc(), "unterminated string literal")
			return
		}
		c := l.peek()
		if c == '"' {
			l.advance()
			if l.peek() == '"' { // embedded "" -> one "
				b.WriteByte('"')
				l.advance()
				continue
			}
			break
		}
		if c == '\n' {
			l.diags.Errorf(diag.Lexical, l.loc(), "unterminated string literal")
			return
		}
		if c > 127 {
			unicode = true
		}
		b.WriteByte(c)
		l.advance()
	}
	l.tokens = append(l.tokens, token.Token{
		Kind: token.StringLiteral, Lexeme: b.String(), Loc: l.loc(), Unicode: unicode,
	})
}

func (l *Lexer) identifier() {
	for isAlphaNumeric(l.peek()) {
		l.advance()
	}
	text := l.src[l.start:l.current]
	sigil := token.NoSigil
	switch l.peek() {
	case '%':
		sigil = token.IntegerSigil
		l.advance()
	case '!':
		sigil = token.SingleSigil
		l.advance()
	case '#':
		sigil = token.DoubleSigil
		l.advance()
	case '$':
		sigil = token.StringSigil
		l.advance()
	}
	lexeme := l.src[l.start:l.current]
	if kind, ok := token.LookupIdent(text); ok && sigil == token.NoSigil {
		if joined, ok2 := l.tryJoinKeyword(kind, text); ok2 {
			l.tokens = append(l.tokens, joined)
			return
		}
		l.tokens = append(l.tokens, token.Token{Kind: kind, Lexeme: lexeme, Loc: l.loc()})
		return
	}
	if sigil == token.NoSigil && (strings.EqualFold(text, "exit") || strings.EqualFold(text, "cursor")) {
		// EXIT and CURSOR are not keywords on their own, only as the first
		// word of a joined construct (EXIT FOR, CURSOR SAVE, ...).
		if joined, ok := l.tryJoinKeyword(token.Ident, text); ok {
			l.tokens = append(l.tokens, joined)
			return
		}
	}
	l.tokens = append(l.tokens, token.Token{Kind: token.Ident, Lexeme: lexeme, Loc: l.loc(), Sigil: sigil})
}

// joinable lists the multi-word constructs that are
// pre-joined into a single token kind, keyed by the first word's kind and
// the lowercase second word.
var joinable = map[token.Kind]map[string]token.Kind{
	token.KwEnd: {
		"if": token.KwEndIf, "select": token.KwEndSelect, "sub": token.KwEndSub,
		"function": token.KwEndFunction, "type": token.KwEndType, "class": token.KwEndClass,
		"try": token.KwEndTry, "worker": token.KwEndWorker, "match": token.KwEndMatch,
	},
	token.KwOn:           {"error": token.KwOnError},
	token.KwResume:       {"next": token.KwResumeNext},
	token.KwScreen:       {"alternate": token.KwScreenAlternate},
	token.KwMatch:        {"receive": token.KwMatchReceive},
	token.KwCase:         {"else": token.KwCaseElse},
}

func (l *Lexer) tryJoinKeyword(kind token.Kind, text string) (token.Token, bool) {
	if kind == token.KwIf || kind == token.KwEnd || kind == token.KwOn || kind == token.KwResume ||
		kind == token.KwScreen || kind == token.KwMatch || kind == token.KwCase {
		save := l.current
		saveLine := l.line
		l.skipBlankAndComments()
		startWord := l.current
		for isAlpha(l.peek()) {
			l.advance()
		}
		second := strings.ToLower(l.src[startWord:l.current])
		if m, ok := joinable[kind]; ok && m != nil {
			if joinedKind, ok2 := m[second]; ok2 {
				lex := text + " " + l.src[startWord:l.current]
				return token.Token{Kind: joinedKind, Lexeme: lex, Loc: l.loc()}, true
			}
		}
		l.current = save
		l.line = saveLine
	}
	if strings.EqualFold(text, "exit") {
		save := l.current
		saveLine := l.line
		l.skipBlankAndComments()
		startWord := l.current
		for isAlpha(l.peek()) {
			l.advance()
		}
		second := strings.ToLower(l.src[startWord:l.current])
		var joinedKind token.Kind
		switch second {
		case "for":
			joinedKind = token.KwExitFor
		case "while":
			joinedKind = token.KwExitWhile
		case "do":
			joinedKind = token.KwExitDo
		case "function":
			joinedKind = token.KwExitFunction
		case "sub":
			joinedKind = token.KwExitSub
		}
		if joinedKind != 0 {
			lex := text + " " + l.src[startWord:l.current]
			return token.Token{Kind: joinedKind, Lexeme: lex, Loc: l.loc()}, true
		}
		l.current = save
		l.line = saveLine
	}
	if strings.EqualFold(text, "timer") {
		save := l.current
		saveLine := l.line
		l.skipBlankAndComments()
		if l.matchWordCI("stop") {
			l.skipBlankAndComments()
			if l.matchWordCI("all") {
				return token.Token{Kind: token.KwTimerStopAll, Lexeme: "TIMER STOP ALL", Loc: l.loc()}, true
			}
		}
		l.current = save
		l.line = saveLine
	}
	if strings.EqualFold(text, "cursor") {
		save := l.current
		saveLine := l.line
		l.skipBlankAndComments()
		if l.matchWordCI("save") {
			return token.Token{Kind: token.KwCursorSave, Lexeme: "CURSOR SAVE", Loc: l.loc()}, true
		}
		if l.matchWordCI("restore") {
			return token.Token{Kind: token.KwCursorRestore, Lexeme: "CURSOR RESTORE", Loc: l.loc()}, true
		}
		l.current = save
		l.line = saveLine
	}
	return token.Token{}, false
}

func (l *Lexer) symbol(c byte) {
	switch c {
	case '+':
		l.emit1(token.Plus)
	case '-':
		l.emit1(token.Minus)
	case '*':
		l.emit1(token.Star)
	case '/':
		l.emit1(token.Slash)
	case '\\':
		l.emit1(token.Backslash)
	case '^':
		l.emit1(token.Caret)
	case '=':
		if l.match('>') { // reserved for future arrow use; treated as '=' otherwise
			l.current--
		}
		l.emit1(token.Eq)
	case '<':
		if l.match('>') {
			l.emit(token.Neq, "<>")
		} else if l.match('=') {
			l.emit(token.Le, "<=")
		} else {
			l.emit1(token.Lt)
		}
	case '>':
		if l.match('=') {
			l.emit(token.Ge, ">=")
		} else {
			l.emit1(token.Gt)
		}
	case '(':
		l.emit1(token.LParen)
	case ')':
		l.emit1(token.RParen)
	case ',':
		l.emit1(token.Comma)
	case '.':
		l.emit1(token.Dot)
	case ';':
		l.emit1(token.Semicolon)
	case '$':
		l.emit1(token.Dollar)
	default:
		l.diags.Errorf(diag.Lexical, l.loc(), "unexpected character %q", c)
	}
}

func (l *Lexer) emit1(k token.Kind) {
	l.tokens = append(l.tokens, token.Token{Kind: k, Lexeme: l.src[l.start:l.current], Loc: l.loc()})
}

func (l *Lexer) emit(k token.Kind, lexeme string) {
	l.tokens = append(l.tokens, token.Token{Kind: k, Lexeme: lexeme, Loc: l.loc()})
}

func (l *Lexer) loc() diag.Location {
	return diag.Location{File: l.file, Line: l.line, Column: l.column}
}

func (l *Lexer) advance() byte {
	c := l.src[l.current]
	l.current++
	l.column++
	return c
}

func (l *Lexer) match(expected byte) bool {
	if l.atEnd() || l.src[l.current] != expected {
		return false
	}
	l.current++
	l.column++
	return true
}

func (l *Lexer) peek() byte {
	if l.atEnd() {
		return 0
	}
	return l.src[l.current]
}

func (l *Lexer) peekAt(n int) byte {
	if l.current+n >= len(l.src) {
		return 0
	}
	return l.src[l.current+n]
}

func (l *Lexer) atEnd() bool { return l.current >= len(l.src) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}
func isAlphaNumeric(c byte) bool { return isAlpha(c) || isDigit(c) }
