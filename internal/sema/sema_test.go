package sema

import (
	"testing"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/lexer"
	"github.com/albanread/fasterbasic/internal/parser"
)

func analyzeSource(t *testing.T, src string) (*ast.Program, *Result, []string) {
	t.Helper()
	toks, lexDiags := lexer.Tokenize("test.bas", src)
	if lexDiags.HasErrors() {
		t.Fatalf("lex errors: %v", lexDiags.All())
	}
	prog, parseDiags := parser.Parse("test.bas", toks)
	if parseDiags.HasErrors() {
		t.Fatalf("parse errors: %v", parseDiags.All())
	}
	res, diags := Analyze(prog)
	var msgs []string
	for _, d := range diags.All() {
		msgs = append(msgs, d.Message)
	}
	return prog, res, msgs
}

func TestAssignInfersSigilType(t *testing.T) {
	_, _, errs := analyzeSource(t, "X% = 5\nPRINT X%\n")
	if len(errs) != 0 {
		t.Fatalf("unexpected diagnostics: %v", errs)
	}
}

func TestForLoopVariableMustBeNumeric(t *testing.T) {
	prog, _, errs := analyzeSource(t, "DIM S AS STRING\nFOR S = 1 TO 5\nNEXT S\n")
	if len(errs) == 0 {
		t.Fatalf("expected a diagnostic for non-numeric FOR loop variable")
	}
	_ = prog
}

func TestExitForOutsideLoopIsError(t *testing.T) {
	_, _, errs := analyzeSource(t, "EXIT FOR\n")
	if len(errs) == 0 {
		t.Fatalf("expected EXIT FOR outside a loop to be flagged")
	}
}

func TestExitForInsideWhileIsError(t *testing.T) {
	_, _, errs := analyzeSource(t, "WHILE 1\nEXIT FOR\nWEND\n")
	if len(errs) == 0 {
		t.Fatalf("expected EXIT FOR inside a WHILE loop to be flagged")
	}
}

func TestThrowRequiresPositiveInteger(t *testing.T) {
	_, _, errs := analyzeSource(t, "THROW -1\n")
	if len(errs) == 0 {
		t.Fatalf("expected THROW with a non-positive literal to be flagged")
	}
}

func TestDataRestoreCursorByLineNumber(t *testing.T) {
	src := "10 DATA 1, 2, 3\n20 DATA 4, 5\nRESTORE 20\n"
	_, res, errs := analyzeSource(t, src)
	if len(errs) != 0 {
		t.Fatalf("unexpected diagnostics: %v", errs)
	}
	if len(res.Data) != 5 {
		t.Fatalf("expected 5 flattened DATA values, got %d", len(res.Data))
	}
	if idx, ok := res.RestorePoints["20"]; !ok || idx != 3 {
		t.Fatalf("expected RESTORE 20 to resolve to cursor 3, got %d (ok=%v)", idx, ok)
	}
}

func TestUDTFieldAccessResolvesType(t *testing.T) {
	src := "TYPE POINT\nX AS INTEGER\nY AS INTEGER\nEND TYPE\nDIM P AS POINT\nP.X = 5\nPRINT P.X\n"
	_, _, errs := analyzeSource(t, src)
	if len(errs) != 0 {
		t.Fatalf("unexpected diagnostics: %v", errs)
	}
}

func TestUnknownFieldIsError(t *testing.T) {
	src := "TYPE POINT\nX AS INTEGER\nEND TYPE\nDIM P AS POINT\nPRINT P.Z\n"
	_, _, errs := analyzeSource(t, src)
	if len(errs) == 0 {
		t.Fatalf("expected an unknown-field diagnostic")
	}
}

func TestFunctionReturnTypeMismatch(t *testing.T) {
	src := "FUNCTION F() AS INTEGER\nRETURN \"oops\"\nEND FUNCTION\n"
	_, _, errs := analyzeSource(t, src)
	if len(errs) == 0 {
		t.Fatalf("expected a RETURN type-mismatch diagnostic")
	}
}

func TestSubCannotReturnValue(t *testing.T) {
	src := "SUB P()\nRETURN 1\nEND SUB\n"
	_, _, errs := analyzeSource(t, src)
	if len(errs) == 0 {
		t.Fatalf("expected a SUB-returns-value diagnostic")
	}
}

func TestMultiElseifChainResolvesElseBodies(t *testing.T) {
	src := "X = 2\nIF X = 1 THEN\nPRINT 1\nELSEIF X = 2 THEN\nPRINT 2\nELSEIF X = 3 THEN\nPRINT 3\nELSE\nPRINT 4\nEND IF\n"
	prog, _, errs := analyzeSource(t, src)
	if len(errs) != 0 {
		t.Fatalf("unexpected diagnostics: %v", errs)
	}
	// Walk the nested ElseBody chain built by ifStmt: outer -> elseif 2 -> elseif 3 -> final else.
	var outer *ast.Stmt
	for i := range prog.Lines {
		for _, id := range prog.Lines[i].Stmts {
			s := prog.S(id)
			if s.Kind == ast.StmtIf {
				outer = s
			}
		}
	}
	if outer == nil {
		t.Fatalf("no top-level IF statement found")
	}
	if len(outer.ElseBody) != 1 {
		t.Fatalf("expected outer IF's ElseBody to hold exactly one nested IF, got %d", len(outer.ElseBody))
	}
	mid := prog.S(outer.ElseBody[0])
	if mid.Kind != ast.StmtIf {
		t.Fatalf("expected nested ELSEIF to be a StmtIf")
	}
	if len(mid.ElseBody) != 1 {
		t.Fatalf("expected middle ELSEIF's ElseBody to hold the next ELSEIF, got %d", len(mid.ElseBody))
	}
	inner := prog.S(mid.ElseBody[0])
	if inner.Kind != ast.StmtIf {
		t.Fatalf("expected second nested ELSEIF to be a StmtIf")
	}
	if len(inner.ElseBody) != 1 {
		t.Fatalf("expected innermost ELSEIF's ElseBody to hold the trailing ELSE body, got %d", len(inner.ElseBody))
	}
}
