package astopt

import (
	"testing"

	"github.com/albanread/fasterbasic/internal/ast"
	"github.com/albanread/fasterbasic/internal/lexer"
	"github.com/albanread/fasterbasic/internal/parser"
	"github.com/albanread/fasterbasic/internal/sema"
)

func optimizeSource(t *testing.T, src string) *ast.Program {
	t.Helper()
	toks, lexDiags := lexer.Tokenize("test.bas", src)
	if lexDiags.HasErrors() {
		t.Fatalf("lex errors: %v", lexDiags.All())
	}
	prog, parseDiags := parser.Parse("test.bas", toks)
	if parseDiags.HasErrors() {
		t.Fatalf("parse errors: %v", parseDiags.All())
	}
	_, semaDiags := sema.Analyze(prog)
	if semaDiags.HasErrors() {
		t.Fatalf("sema errors: %v", semaDiags.All())
	}
	Optimize(prog)
	return prog
}

// firstLetExpr returns the expression on the right-hand side of the first
// top-level LET/assignment statement found.
func firstLetExpr(t *testing.T, prog *ast.Program) *ast.Expr {
	t.Helper()
	for _, line := range prog.Lines {
		for _, id := range line.Stmts {
			s := prog.S(id)
			if s.Kind == ast.StmtLet {
				return prog.E(s.Expr)
			}
		}
	}
	t.Fatalf("no LET statement found")
	return nil
}

func TestConstantFoldingArithmetic(t *testing.T) {
	prog := optimizeSource(t, "X = 2 + 3 * 4\n")
	e := firstLetExpr(t, prog)
	if e.Kind != ast.ExprIntLit || e.IntVal != 14 {
		t.Fatalf("expected folded literal 14, got kind=%v intval=%d", e.Kind, e.IntVal)
	}
}

func TestConstantFoldingStringConcat(t *testing.T) {
	prog := optimizeSource(t, `X$ = "foo" + "bar"` + "\n")
	e := firstLetExpr(t, prog)
	if e.Kind != ast.ExprStringLit || e.StrVal != "foobar" {
		t.Fatalf("expected folded string \"foobar\", got kind=%v strval=%q", e.Kind, e.StrVal)
	}
}

func TestAlgebraicIdentityAddZero(t *testing.T) {
	prog := optimizeSource(t, "X = Y + 0\n")
	e := firstLetExpr(t, prog)
	if e.Kind != ast.ExprIdent || e.Name != "Y" {
		t.Fatalf("expected Y+0 to reduce to bare identifier Y, got kind=%v name=%q", e.Kind, e.Name)
	}
}

func TestAlgebraicIdentityMulZeroDropsPureOperand(t *testing.T) {
	prog := optimizeSource(t, "X = Y * 0\n")
	e := firstLetExpr(t, prog)
	if e.Kind != ast.ExprIntLit || e.IntVal != 0 {
		t.Fatalf("expected Y*0 to fold to literal 0, got kind=%v intval=%d", e.Kind, e.IntVal)
	}
}

func TestStrengthReductionSquare(t *testing.T) {
	prog := optimizeSource(t, "X = Y ^ 2\n")
	e := firstLetExpr(t, prog)
	if e.Kind != ast.ExprBinary || e.Op != "*" {
		t.Fatalf("expected Y^2 to reduce to a multiply, got kind=%v op=%q", e.Kind, e.Op)
	}
	a, b := prog.E(e.A), prog.E(e.B)
	if a.Kind != ast.ExprIdent || b.Kind != ast.ExprIdent || a.Name != "Y" || b.Name != "Y" {
		t.Fatalf("expected Y*Y, got %v*%v", a, b)
	}
}

func TestStrengthReductionModPowerOfTwo(t *testing.T) {
	prog := optimizeSource(t, "X = Y MOD 8\n")
	e := firstLetExpr(t, prog)
	if e.Kind != ast.ExprBinary || e.Op != "AND" {
		t.Fatalf("expected Y MOD 8 to reduce to a bitwise AND, got kind=%v op=%q", e.Kind, e.Op)
	}
	mask := prog.E(e.B)
	if mask.Kind != ast.ExprIntLit || mask.IntVal != 7 {
		t.Fatalf("expected mask literal 7, got %v", mask)
	}
}

func TestIifSimplification(t *testing.T) {
	prog := optimizeSource(t, "X = IIF(1 = 1, 10, 20)\n")
	e := firstLetExpr(t, prog)
	if e.Kind != ast.ExprIntLit || e.IntVal != 10 {
		t.Fatalf("expected IIF with a true literal condition to fold to 10, got kind=%v intval=%d", e.Kind, e.IntVal)
	}
}

func TestConstantPropagation(t *testing.T) {
	prog := optimizeSource(t, "CONSTANT PI = 3\nX = PI * 2\n")
	e := firstLetExpr(t, prog)
	if e.Kind != ast.ExprIntLit || e.IntVal != 6 {
		t.Fatalf("expected CONSTANT PI propagated and folded to 6, got kind=%v intval=%d", e.Kind, e.IntVal)
	}
}

func TestConstantPropagationSkipsReassignedName(t *testing.T) {
	prog := optimizeSource(t, "DIM N = 5\nN = N + 1\nX = N\n")
	var e *ast.Expr
	for _, line := range prog.Lines {
		for _, id := range line.Stmts {
			s := prog.S(id)
			if s.Kind == ast.StmtLet && identName(prog, s.LHS) == "X" {
				e = prog.E(s.Expr)
			}
		}
	}
	if e == nil {
		t.Fatalf("no X = N statement found")
	}
	if e.Kind == ast.ExprIntLit {
		t.Fatalf("N is reassigned, so X = N must not be propagated to a literal")
	}
}

func TestDeadBranchEliminationTrueCondition(t *testing.T) {
	src := "IF 1 THEN\nX = 1\nELSE\nX = 2\nEND IF\n"
	toks, lexDiags := lexer.Tokenize("test.bas", src)
	if lexDiags.HasErrors() {
		t.Fatalf("lex errors: %v", lexDiags.All())
	}
	prog, parseDiags := parser.Parse("test.bas", toks)
	if parseDiags.HasErrors() {
		t.Fatalf("parse errors: %v", parseDiags.All())
	}
	if _, diags := sema.Analyze(prog); diags.HasErrors() {
		t.Fatalf("sema errors: %v", diags.All())
	}
	Optimize(prog)
	if len(prog.Lines) == 0 {
		t.Fatalf("expected at least one line after optimization")
	}
	for _, line := range prog.Lines {
		for _, id := range line.Stmts {
			if prog.S(id).Kind == ast.StmtIf {
				t.Fatalf("expected the IF to be eliminated in favor of its true branch")
			}
		}
	}
}

func TestDeadLoopEliminationWhileZero(t *testing.T) {
	src := "WHILE 0\nX = 1\nWEND\nY = 2\n"
	toks, _ := lexer.Tokenize("test.bas", src)
	prog, _ := parser.Parse("test.bas", toks)
	sema.Analyze(prog)
	Optimize(prog)
	for _, line := range prog.Lines {
		for _, id := range line.Stmts {
			if prog.S(id).Kind == ast.StmtWhile {
				t.Fatalf("expected WHILE 0 ... WEND to be eliminated entirely")
			}
		}
	}
}
