package codegen

import (
	"strings"
	"testing"

	"github.com/albanread/fasterbasic/internal/astopt"
	"github.com/albanread/fasterbasic/internal/lexer"
	"github.com/albanread/fasterbasic/internal/parser"
	"github.com/albanread/fasterbasic/internal/sema"
)

func generate(t *testing.T, src string) string {
	t.Helper()
	toks, lexDiags := lexer.Tokenize("test.bas", src)
	if lexDiags.HasErrors() {
		t.Fatalf("lex errors: %v", lexDiags.All())
	}
	prog, parseDiags := parser.Parse("test.bas", toks)
	if parseDiags.HasErrors() {
		t.Fatalf("parse errors: %v", parseDiags.All())
	}
	res, semaDiags := sema.Analyze(prog)
	if semaDiags.HasErrors() {
		t.Fatalf("sema errors: %v", semaDiags.All())
	}
	astopt.Optimize(prog)

	mod, err := Generate(prog, res)
	if err != nil {
		t.Fatalf("codegen error: %v", err)
	}
	return mod.Text()
}

func TestArithmeticAssignment(t *testing.T) {
	text := generate(t, "X = (Y + 1) * Z\nPRINT X\n")
	if !strings.Contains(text, "mul") || !strings.Contains(text, "add") {
		t.Fatalf("expected mul/add instructions, got:\n%s", text)
	}
}

func TestIfElseMerges(t *testing.T) {
	text := generate(t, "X = 1\nIF X > 0 THEN\nPRINT 1\nELSE\nPRINT 2\nEND IF\nPRINT 3\n")
	if !strings.Contains(text, "jnz") {
		t.Fatalf("expected a jnz terminator for the IF, got:\n%s", text)
	}
}

func TestWhileLoop(t *testing.T) {
	text := generate(t, "X = 0\nWHILE X < 10\nX = X + 1\nWEND\nPRINT X\n")
	if strings.Count(text, "jnz") < 1 {
		t.Fatalf("expected at least one jnz for the loop header, got:\n%s", text)
	}
}

func TestForLoopStepSign(t *testing.T) {
	text := generate(t, "FOR I = 1 TO 10 STEP 2\nPRINT I\nNEXT I\n")
	if !strings.Contains(text, "select") {
		t.Fatalf("expected the step-sign select op in a FOR loop, got:\n%s", text)
	}
}

func TestGosubReturnDispatch(t *testing.T) {
	text := generate(t, "GOSUB 100\nPRINT \"back\"\nEND\n100 PRINT \"in sub\"\nRETURN\n")
	if !strings.Contains(text, "gosub_ret") {
		t.Fatalf("expected a gosub_ret dispatch slot, got:\n%s", text)
	}
}

func TestSelectCaseValueList(t *testing.T) {
	text := generate(t, "X = 2\nSELECT CASE X\nCASE 1, 2\nPRINT \"low\"\nCASE ELSE\nPRINT \"other\"\nEND SELECT\n")
	if !strings.Contains(text, "cmp_eq") {
		t.Fatalf("expected cmp_eq comparisons for the CASE value list, got:\n%s", text)
	}
}

func TestTryCatchRethrowsWithoutClause(t *testing.T) {
	text := generate(t, "TRY\nTHROW 5\nEND TRY\n")
	if !strings.Contains(text, "runtime_rethrow") {
		t.Fatalf("expected a rethrow when no CATCH clause is present, got:\n%s", text)
	}
}

func TestDataReadRestore(t *testing.T) {
	text := generate(t, "DATA 1, 2, 3\nDIM X AS INTEGER\nREAD X\nRESTORE\nREAD X\n")
	if !strings.Contains(text, "data_read_int") || !strings.Contains(text, "data_restore") {
		t.Fatalf("expected data_read_int and data_restore calls, got:\n%s", text)
	}
}

func TestArrayIndexAddressing(t *testing.T) {
	text := generate(t, "DIM A(10) AS INTEGER\nA(3) = 7\nPRINT A(3)\n")
	if !strings.Contains(text, "array_new") {
		t.Fatalf("expected an array_new call from DIM, got:\n%s", text)
	}
}
