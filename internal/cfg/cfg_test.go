package cfg

import (
	"testing"

	"github.com/albanread/fasterbasic/internal/lexer"
	"github.com/albanread/fasterbasic/internal/parser"
	"github.com/albanread/fasterbasic/internal/sema"
)

func buildGraph(t *testing.T, src string) *Graph {
	t.Helper()
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
	return Build(prog)
}

// noImplicitFallthrough fails the test if some non-empty block other than
// the entry has neither an incoming nor an outgoing edge: a block the
// builder forgot to wire into the graph.
func noImplicitFallthrough(t *testing.T, g *Graph) {
	t.Helper()
	for _, b := range g.Blocks {
		if len(b.Stmts) == 0 {
			continue // merge/exit placeholder blocks may be legitimately empty and unreached
		}
		if len(b.Succs) == 0 && len(b.Preds) == 0 && b.ID != g.Entry {
			t.Fatalf("block %d is disconnected from the graph", b.ID)
		}
	}
}

func TestWhileLoopHasHeaderAndBackEdge(t *testing.T) {
	g := buildGraph(t, "X = 0\nWHILE X < 10\nX = X + 1\nWEND\nPRINT X\n")
	noImplicitFallthrough(t, g)

	var headers []*Block
	for _, b := range g.Blocks {
		if b.IsLoopHeader {
			headers = append(headers, b)
		}
	}
	if len(headers) != 1 {
		t.Fatalf("expected exactly one loop header block, got %d", len(headers))
	}
	header := headers[0]

	hasBack := false
	for _, b := range g.Blocks {
		for _, e := range b.Succs {
			if e.Kind == EdgeBack && e.To == header.ID {
				hasBack = true
			}
		}
	}
	if !hasBack {
		t.Fatalf("expected a back-edge into the loop header")
	}
}

func TestForLoopHasHeaderAndBackEdge(t *testing.T) {
	g := buildGraph(t, "FOR I = 1 TO 10\nPRINT I\nNEXT I\n")
	var headers []*Block
	for _, b := range g.Blocks {
		if b.IsLoopHeader {
			headers = append(headers, b)
		}
	}
	if len(headers) != 1 {
		t.Fatalf("expected exactly one loop header block, got %d", len(headers))
	}
	header := headers[0]
	hasBack := false
	for _, b := range g.Blocks {
		for _, e := range b.Succs {
			if e.Kind == EdgeBack && e.To == header.ID {
				hasBack = true
			}
		}
	}
	if !hasBack {
		t.Fatalf("expected a back-edge into the FOR loop header")
	}
}

func TestNestedLoopInsideIfBranch(t *testing.T) {
	src := "IF 1 = 1 THEN\nFOR I = 1 TO 5\nPRINT I\nNEXT I\nEND IF\n"
	g := buildGraph(t, src)
	noImplicitFallthrough(t, g)

	headerCount := 0
	for _, b := range g.Blocks {
		if b.IsLoopHeader {
			headerCount++
		}
	}
	if headerCount != 1 {
		t.Fatalf("expected exactly one loop header nested inside the IF branch, got %d", headerCount)
	}
}

func TestExitForJumpsPastLoopExit(t *testing.T) {
	src := "FOR I = 1 TO 10\nIF I = 5 THEN\nEXIT FOR\nEND IF\nNEXT I\nPRINT I\n"
	g := buildGraph(t, src)

	hasExitEdge := false
	for _, b := range g.Blocks {
		for _, e := range b.Succs {
			if e.Kind == EdgeExit {
				hasExitEdge = true
			}
		}
	}
	if !hasExitEdge {
		t.Fatalf("expected EXIT FOR to produce an exit edge past the loop")
	}
}

func TestGotoCreatesEdgeToLineLabel(t *testing.T) {
	src := "10 PRINT 1\n20 GOTO 10\n"
	g := buildGraph(t, src)

	found := false
	for _, b := range g.Blocks {
		for _, e := range b.Succs {
			if e.Kind == EdgeGoto {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected a GOTO edge between line-numbered blocks")
	}
}

func TestOnErrorGotoAddsExceptionEdge(t *testing.T) {
	src := "10 ON ERROR GOTO 100\n20 PRINT 1\n100 PRINT \"err\"\n"
	g := buildGraph(t, src)

	found := false
	for _, b := range g.Blocks {
		for _, e := range b.Succs {
			if e.Kind == EdgeException {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected ON ERROR GOTO to produce an exception edge")
	}
}

func TestGosubReturnPairsCallWithReturnEdge(t *testing.T) {
	src := "10 GOSUB 100\n20 END\n100 PRINT \"sub\"\n110 RETURN\n"
	g := buildGraph(t, src)

	hasCall, hasReturn := false, false
	for _, b := range g.Blocks {
		for _, e := range b.Succs {
			if e.Kind == EdgeCall {
				hasCall = true
			}
			if e.Kind == EdgeReturn {
				hasReturn = true
			}
		}
	}
	if !hasCall {
		t.Fatalf("expected a call edge for GOSUB")
	}
	if !hasReturn {
		t.Fatalf("expected a return edge for RETURN")
	}
}

func TestRoutineGraphHasSingleEntry(t *testing.T) {
	toks, _ := lexer.Tokenize("test.bas", "SUB Greet(name AS STRING)\nPRINT name\nEND SUB\n")
	prog, diags := parser.Parse("test.bas", toks)
	if diags.HasErrors() {
		t.Fatalf("parse errors: %v", diags.All())
	}
	if _, diags := sema.Analyze(prog); diags.HasErrors() {
		t.Fatalf("sema errors: %v", diags.All())
	}
	if len(prog.Routines) != 1 {
		t.Fatalf("expected one routine, got %d", len(prog.Routines))
	}
	g := BuildRoutine(prog, &prog.Routines[0])
	if g.Entry != 0 {
		t.Fatalf("expected routine graph entry to be block 0, got %d", g.Entry)
	}
	if len(g.Blocks[g.Entry].Preds) != 0 {
		t.Fatalf("entry block should have no predecessors")
	}
}
