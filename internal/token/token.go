// Package token defines the closed token-kind enumeration produced by the
// lexer and consumed by the parser, extended with the sigils, line-number
// labels, and multi-word keywords the BASIC grammar requires.
package token

import "github.com/albanread/fasterbasic/internal/diag"

type Kind int

const (
	Illegal Kind = iota
	EOF
	EOL // statement separator: newline or ':'

	Ident
	IntLiteral
	DoubleLiteral
	StringLiteral
	LineNumber // a bare integer at beginning-of-line

	// Operators & punctuation
	Plus
	Minus
	Star
	Slash
	Backslash // integer division '\'
	Caret
	Eq
	Neq
	Lt
	Le
	Gt
	Ge
	LParen
	RParen
	Comma
	Dot
	Colon
	Semicolon
	Dollar // '$' sigil, only when standalone (slice context)

	keywordBegin
	KwAnd
	KwOr
	KwXor
	KwNot
	KwMod
	KwLet
	KwDim
	KwRedim
	KwPreserve
	KwErase
	KwShared
	KwLocal
	KwGlobal
	KwConst
	KwType
	KwEndType
	KwClass
	KwEndClass
	KwConstructor
	KwMe
	KwNew
	KwIs
	KwNothing
	KwDelete
	KwAs
	KwByref
	KwSub
	KwEndSub
	KwFunction
	KwEndFunction
	KwReturn
	KwCall
	KwIf
	KwThen
	KwElseif
	KwElse
	KwEndIf
	KwFor
	KwTo
	KwStep
	KwNext
	KwWhile
	KwWend
	KwDo
	KwLoop
	KwUntil
	KwRepeat
	KwExitFor
	KwExitWhile
	KwExitDo
	KwExitFunction
	KwExitSub
	KwSelect
	KwCase
	KwCaseElse
	KwEndSelect
	KwGoto
	KwGosub
	KwOnError
	KwResume
	KwResumeNext
	KwOn
	KwTry
	KwCatch
	KwFinally
	KwEndTry
	KwThrow
	KwData
	KwRead
	KwRestore
	KwOption
	KwDetectString
	KwUnicode
	KwSamm
	KwOff
	KwPrint
	KwInput
	KwLineInput
	KwEnd
	KwStop
	KwIif
	KwWorker
	KwEndWorker
	KwSpawn
	KwAwait
	KwSend
	KwReceive
	KwMatch
	KwMatchReceive
	KwEndMatch
	KwMarshall
	KwUnmarshall
	KwAfter
	KwEvery
	KwMs
	KwTimer
	KwTimerStopAll
	KwCancel
	KwCancelled
	KwParent
	KwCls
	KwLocate
	KwColor
	KwCursorSave
	KwCursorRestore
	KwStyle
	KwScreen
	KwScreenAlternate
	keywordEnd
)

// Sigil marks the type-suffix character attached to the preceding
// identifier token.
type Sigil byte

const (
	NoSigil      Sigil = 0
	IntegerSigil Sigil = '%'
	SingleSigil  Sigil = '!'
	DoubleSigil  Sigil = '#'
	StringSigil  Sigil = '$'
)

// Token is a kind, lexeme, source location, and optional sigil.
type Token struct {
	Kind   Kind
	Lexeme string
	Loc    diag.Location
	Sigil  Sigil

	// IsInteger distinguishes integer from double numeric literals
	//.
	IsInteger bool
	// Unicode marks a string literal containing a byte > 127.
	Unicode bool
}

func (t Token) String() string {
	return t.Lexeme
}

// keywords is the closed keyword table, looked up case-insensitively.
// Multi-word constructs (END IF, EXIT FOR, ON ERROR, RESUME NEXT, ...) are
// pre-joined here: the lexer recognizes them as a single lexeme via
// lookahead, simplifying the parser at the cost of lexer complexity. This
// keeps statement() in the parser a flat keyword switch instead of a
// lookahead-aware recursive structure.
var keywords = map[string]Kind{
	"and": KwAnd, "or": KwOr, "xor": KwXor, "not": KwNot, "mod": KwMod,
	"let": KwLet, "dim": KwDim, "redim": KwRedim, "preserve": KwPreserve,
	"erase": KwErase, "shared": KwShared, "local": KwLocal, "global": KwGlobal,
	"constant": KwConst, "const": KwConst,
	"type": KwType, "class": KwClass, "constructor": KwConstructor,
	"me": KwMe, "new": KwNew, "is": KwIs, "nothing": KwNothing, "delete": KwDelete,
	"as": KwAs, "byref": KwByref,
	"sub": KwSub, "function": KwFunction, "return": KwReturn, "call": KwCall,
	"if": KwIf, "then": KwThen, "elseif": KwElseif, "else": KwElse,
	"for": KwFor, "to": KwTo, "step": KwStep, "next": KwNext,
	"while": KwWhile, "wend": KwWend, "do": KwDo, "loop": KwLoop, "until": KwUntil,
	"repeat": KwRepeat,
	"select": KwSelect, "case": KwCase,
	"goto": KwGoto, "gosub": KwGosub, "resume": KwResume, "on": KwOn,
	"try": KwTry, "catch": KwCatch, "finally": KwFinally, "throw": KwThrow,
	"data": KwData, "read": KwRead, "restore": KwRestore,
	"option": KwOption, "detectstring": KwDetectString, "unicode": KwUnicode,
	"samm": KwSamm, "off": KwOff,
	"print": KwPrint, "input": KwInput,
	"end": KwEnd, "stop": KwStop, "iif": KwIif,
	"worker": KwWorker, "spawn": KwSpawn, "await": KwAwait, "send": KwSend,
	"receive": KwReceive, "match": KwMatch, "marshall": KwMarshall,
	"unmarshall": KwUnmarshall, "after": KwAfter, "every": KwEvery, "ms": KwMs,
	"timer": KwTimer, "cancel": KwCancel, "cancelled": KwCancelled, "parent": KwParent,
	"cls": KwCls, "locate": KwLocate, "color": KwColor, "style": KwStyle,
	"screen": KwScreen,
}

// LookupIdent classifies text as a keyword (case-insensitive) or a plain
// identifier.
func LookupIdent(text string) (Kind, bool) {
	k, ok := keywords[toLower(text)]
	return k, ok
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (k Kind) IsKeyword() bool { return k > keywordBegin && k < keywordEnd }
