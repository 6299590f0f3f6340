// Package cfg builds a control-flow graph over a routine's (or the main
// program's) flat statement list: explicit basic blocks and edges instead
// of the jump-and-patch bytecode offsets a stack-machine compiler would
// emit. Blocks start at a routine entry, a GOTO/GOSUB/ON ERROR/ON...GOTO
// target, the statement right after any terminator, and every structured
// control-flow boundary (IF/WHILE/DO/FOR/SELECT CASE/TRY). Loops get a
// dedicated header block carrying a back-edge; EXIT FOR/WHILE/DO resolves
// to a forward edge past the innermost enclosing loop's exit.
package cfg

import (
	"fmt"

	"github.com/albanread/fasterbasic/internal/ast"
)

// EdgeKind classifies how control reaches a successor block.
type EdgeKind int

const (
	EdgeFallthrough EdgeKind = iota // falls off the end of a block into the next
	EdgeBranchTrue                  // IF/WHILE/DO condition true
	EdgeBranchFalse                 // IF/WHILE/DO condition false
	EdgeBack                        // loop body back to its header
	EdgeGoto                        // GOTO/GOSUB/ON...GOTO/RESUME target
	EdgeCall                        // GOSUB call edge (paired with an EdgeReturn back)
	EdgeReturn                      // RETURN from a GOSUB, or falling out of a routine
	EdgeException                   // ON ERROR GOTO handler edge
	EdgeExit                        // EXIT FOR/WHILE/DO past a loop's back edge
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeFallthrough:
		return "fallthrough"
	case EdgeBranchTrue:
		return "true"
	case EdgeBranchFalse:
		return "false"
	case EdgeBack:
		return "back"
	case EdgeGoto:
		return "goto"
	case EdgeCall:
		return "call"
	case EdgeReturn:
		return "return"
	case EdgeException:
		return "except"
	case EdgeExit:
		return "exit"
	}
	return "?"
}

// Edge is one directed control-flow edge out of a block.
type Edge struct {
	To   int
	Kind EdgeKind
}

// Block is a maximal straight-line run of statements: no statement in
// Stmts other than the last can transfer control anywhere but the next
// statement in the slice.
type Block struct {
	ID         int
	Label      string // the line number or named label this block starts at, if any
	Stmts      []ast.StmtID
	Succs      []Edge
	Preds      []int
	IsLoopHeader bool
}

// Graph is the control-flow graph for one routine or the main program.
type Graph struct {
	Name   string // routine name, or "" for the main program
	Blocks []*Block
	Entry  int
}

func (g *Graph) newBlock(label string) *Block {
	b := &Block{ID: len(g.Blocks), Label: label}
	g.Blocks = append(g.Blocks, b)
	return b
}

func (g *Graph) addEdge(from, to int, kind EdgeKind) {
	g.Blocks[from].Succs = append(g.Blocks[from].Succs, Edge{To: to, Kind: kind})
	g.Blocks[to].Preds = append(g.Blocks[to].Preds, from)
}

// loopCtx tracks the header/exit blocks of the loop currently being built,
// so EXIT FOR/WHILE/DO and a loop's implicit back-edge know where to land.
type loopCtx struct {
	header int
	exit   int // resolved lazily: patched once the block after the loop exists
	parent *loopCtx
}

// builder accumulates blocks while walking one flat statement list. cur is
// the block currently being appended to; it is re-pointed whenever a
// structured construct forces a new block to start.
type builder struct {
	prog *ast.Program
	g    *Graph
	cur  *Block
	loop *loopCtx

	// labels maps a line-number/named label string to the block that
	// should be the target of a GOTO/GOSUB/RESUME naming it. Populated as
	// blocks are created for main-program lines (labels are line-number
	// only at routine scope, since routines have no Line wrapper).
	labels map[string]int
	// pendingGotos holds (fromBlock, targetLabel, kind) edges to wire once
	// every label in the statement list has been seen, since a GOTO can
	// jump forward to a line not yet visited.
	pendingGotos []pendingGoto

	// returnTargets are the blocks right after a GOSUB/ON...GOSUB call
	// site; returnBlocks are the blocks ending in RETURN. GOSUB/RETURN are
	// dynamically paired at runtime, not lexically, so every RETURN gets a
	// conservative edge to every known call site instead of one exact
	// match.
	returnTargets []int
	returnBlocks  []int
}

type pendingGoto struct {
	from int
	to   string
	kind EdgeKind
}

// Build constructs the control-flow graph for the main program (top-level
// Lines), keyed by line-number labels for GOTO/GOSUB/ON ERROR/RESUME.
func Build(prog *ast.Program) *Graph {
	g := &Graph{Name: ""}
	b := &builder{prog: prog, g: g, labels: map[string]int{}}
	entry := g.newBlock("")
	g.Entry = entry.ID
	b.cur = entry

	for _, line := range prog.Lines {
		if line.Number != 0 {
			start := b.startNewBlock(fmt.Sprint(line.Number))
			b.labels[fmt.Sprint(line.Number)] = start.ID
		}
		b.walkStmts(line.Stmts)
	}
	b.resolveGotos()
	return g
}

// BuildRoutine constructs the control-flow graph for one SUB/FUNCTION/
// WORKER body. Routine-local GOTO targets are named labels rather than
// line numbers, carried on StmtLabel markers within Body.
func BuildRoutine(prog *ast.Program, r *ast.Routine) *Graph {
	g := &Graph{Name: r.Name}
	b := &builder{prog: prog, g: g, labels: map[string]int{}}
	entry := g.newBlock("entry")
	g.Entry = entry.ID
	b.cur = entry

	b.walkStmts(r.Body)
	b.resolveGotos()
	return g
}

// startNewBlock closes the block in progress (falling through to the new
// one unless the last statement already terminated it) and returns the
// fresh block.
func (b *builder) startNewBlock(label string) *Block {
	prev := b.cur
	nb := b.g.newBlock(label)
	if !endsInTerminator(b.prog, prev) {
		b.g.addEdge(prev.ID, nb.ID, EdgeFallthrough)
	}
	b.cur = nb
	return nb
}

// endsInTerminator reports whether control can never fall off the end of
// blk (it always branches, jumps, or returns instead).
func endsInTerminator(prog *ast.Program, blk *Block) bool {
	if len(blk.Stmts) == 0 {
		return false
	}
	last := prog.S(blk.Stmts[len(blk.Stmts)-1])
	switch last.Kind {
	case ast.StmtGoto, ast.StmtOnGoto, ast.StmtReturn, ast.StmtEnd, ast.StmtStop, ast.StmtExit, ast.StmtResume:
		return true
	}
	return false
}

func (b *builder) resolveGotos() {
	for _, pg := range b.pendingGotos {
		if to, ok := b.labels[pg.to]; ok {
			b.g.addEdge(pg.from, to, pg.kind)
		}
		// An unresolved label draws a sema-time warning (checked elsewhere
		// via scope.LookupLabel); the CFG silently drops the edge rather
		// than failing the build.
	}
	for _, from := range b.returnBlocks {
		for _, to := range b.returnTargets {
			b.g.addEdge(from, to, EdgeReturn)
		}
	}
}

// walkStmts appends stmts to the block in progress, splitting into new
// blocks at every construct that needs its own header/merge block.
func (b *builder) walkStmts(stmts []ast.StmtID) {
	for _, id := range stmts {
		s := b.prog.S(id)
		switch s.Kind {
		case ast.StmtLabel:
			if s.Label != "" {
				start := b.startNewBlock(s.Label)
				b.labels[s.Label] = start.ID
			}
			continue
		case ast.StmtIf:
			b.buildIf(id, s)
			continue
		case ast.StmtWhile:
			b.buildWhile(id, s)
			continue
		case ast.StmtDo:
			b.buildDo(id, s)
			continue
		case ast.StmtRepeat:
			b.buildRepeat(id, s)
			continue
		case ast.StmtFor:
			b.buildFor(id, s)
			continue
		case ast.StmtSelectCase:
			b.buildSelectCase(id, s)
			continue
		case ast.StmtTry:
			b.buildTry(id, s)
			continue
		case ast.StmtExit:
			b.cur.Stmts = append(b.cur.Stmts, id)
			b.buildExit(s)
			continue
		case ast.StmtGoto:
			b.cur.Stmts = append(b.cur.Stmts, id)
			b.pendingGotos = append(b.pendingGotos, pendingGoto{from: b.cur.ID, to: s.Label, kind: EdgeGoto})
			b.cur = b.g.newBlock("")
			continue
		case ast.StmtGosub:
			b.cur.Stmts = append(b.cur.Stmts, id)
			b.pendingGotos = append(b.pendingGotos, pendingGoto{from: b.cur.ID, to: s.Label, kind: EdgeCall})
			after := b.startNewBlock("")
			b.returnTargets = append(b.returnTargets, after.ID)
			continue
		case ast.StmtOnGoto:
			b.cur.Stmts = append(b.cur.Stmts, id)
			kind := EdgeGoto
			if s.Name == "gosub" {
				kind = EdgeCall
			}
			for _, target := range s.Names {
				b.pendingGotos = append(b.pendingGotos, pendingGoto{from: b.cur.ID, to: target, kind: kind})
			}
			if kind == EdgeCall {
				after := b.startNewBlock("")
				b.returnTargets = append(b.returnTargets, after.ID)
			} else {
				b.cur = b.g.newBlock("")
			}
			continue
		case ast.StmtOnError:
			b.cur.Stmts = append(b.cur.Stmts, id)
			b.pendingGotos = append(b.pendingGotos, pendingGoto{from: b.cur.ID, to: s.Label, kind: EdgeException})
			continue
		case ast.StmtResume:
			b.cur.Stmts = append(b.cur.Stmts, id)
			if s.Label != "" {
				b.pendingGotos = append(b.pendingGotos, pendingGoto{from: b.cur.ID, to: s.Label, kind: EdgeGoto})
			}
			b.cur = b.g.newBlock("")
			continue
		case ast.StmtReturn:
			b.cur.Stmts = append(b.cur.Stmts, id)
			b.returnBlocks = append(b.returnBlocks, b.cur.ID)
			b.cur = b.g.newBlock("")
			continue
		case ast.StmtEnd, ast.StmtStop:
			b.cur.Stmts = append(b.cur.Stmts, id)
			b.cur = b.g.newBlock("")
			continue
		}
		b.cur.Stmts = append(b.cur.Stmts, id)
	}
}

// buildIf splits into a condition block (already b.cur, the IF statement
// itself lives there so codegen can read its Expr), a then-block, an
// optional else-block, and a merge block both branches fall into unless
// they already terminate.
func (b *builder) buildIf(id ast.StmtID, s *ast.Stmt) {
	condBlock := b.cur
	condBlock.Stmts = append(condBlock.Stmts, id)

	thenBlock := b.g.newBlock("")
	b.g.addEdge(condBlock.ID, thenBlock.ID, EdgeBranchTrue)
	b.cur = thenBlock
	b.walkStmts(s.Body)
	thenEnd := b.cur

	var elseBlock *Block
	if len(s.ElseBody) > 0 {
		elseBlock = b.g.newBlock("")
		b.g.addEdge(condBlock.ID, elseBlock.ID, EdgeBranchFalse)
		b.cur = elseBlock
		b.walkStmts(s.ElseBody)
	}
	elseEnd := b.cur

	merge := b.g.newBlock("")
	if !endsInTerminator(b.prog, thenEnd) {
		b.g.addEdge(thenEnd.ID, merge.ID, EdgeFallthrough)
	}
	if elseBlock != nil {
		if !endsInTerminator(b.prog, elseEnd) {
			b.g.addEdge(elseEnd.ID, merge.ID, EdgeFallthrough)
		}
	} else {
		b.g.addEdge(condBlock.ID, merge.ID, EdgeBranchFalse)
	}
	b.cur = merge
}

// buildWhile emits a dedicated header block (the condition, re-evaluated
// every iteration), a body block with a back-edge to the header, and an
// exit block the header's false branch lands on.
func (b *builder) buildWhile(id ast.StmtID, s *ast.Stmt) {
	header := b.startNewBlock("")
	header.IsLoopHeader = true
	header.Stmts = append(header.Stmts, id)

	body := b.g.newBlock("")
	b.g.addEdge(header.ID, body.ID, EdgeBranchTrue)

	exit := b.g.newBlock("")
	b.g.addEdge(header.ID, exit.ID, EdgeBranchFalse)

	outer := b.loop
	b.loop = &loopCtx{header: header.ID, exit: exit.ID, parent: outer}
	b.cur = body
	b.walkStmts(s.Body)
	if !endsInTerminator(b.prog, b.cur) {
		b.g.addEdge(b.cur.ID, header.ID, EdgeBack)
	}
	b.loop = outer
	b.cur = exit
}

// buildDo mirrors buildWhile: DO WHILE/DO UNTIL test before the body, the
// same header+back-edge+exit shape as WHILE.
func (b *builder) buildDo(id ast.StmtID, s *ast.Stmt) {
	b.buildWhile(id, s)
}

// buildRepeat builds REPEAT...UNTIL: the body runs at least once, the
// condition is tested at the bottom, so the header carries only the loop
// entry and the back-edge test lives in the tail block.
func (b *builder) buildRepeat(id ast.StmtID, s *ast.Stmt) {
	header := b.startNewBlock("")
	header.IsLoopHeader = true

	exit := b.g.newBlock("")

	outer := b.loop
	b.loop = &loopCtx{header: header.ID, exit: exit.ID, parent: outer}
	b.cur = header
	b.walkStmts(s.Body)
	tail := b.cur
	tail.Stmts = append(tail.Stmts, id)
	if !endsInTerminator(b.prog, tail) {
		b.g.addEdge(tail.ID, header.ID, EdgeBranchFalse) // UNTIL cond false: loop again
		b.g.addEdge(tail.ID, exit.ID, EdgeBranchTrue)     // UNTIL cond true: done
	}
	b.loop = outer
	b.cur = exit
}

// buildFor treats the FOR header as the loop header (bounds check plus
// the implicit STEP increment happen there in codegen), with the same
// body/back-edge/exit shape as WHILE.
func (b *builder) buildFor(id ast.StmtID, s *ast.Stmt) {
	header := b.startNewBlock("")
	header.IsLoopHeader = true
	header.Stmts = append(header.Stmts, id)

	body := b.g.newBlock("")
	b.g.addEdge(header.ID, body.ID, EdgeBranchTrue)

	exit := b.g.newBlock("")
	b.g.addEdge(header.ID, exit.ID, EdgeBranchFalse)

	outer := b.loop
	b.loop = &loopCtx{header: header.ID, exit: exit.ID, parent: outer}
	b.cur = body
	b.walkStmts(s.Body)
	if !endsInTerminator(b.prog, b.cur) {
		b.g.addEdge(b.cur.ID, header.ID, EdgeBack) // back-edge re-enters at the increment/bounds check
	}
	b.loop = outer
	b.cur = exit
}

// buildSelectCase gives every CASE arm its own block, all merging into one
// block after, the same shape as an IF/ELSE IF chain.
func (b *builder) buildSelectCase(id ast.StmtID, s *ast.Stmt) {
	dispatch := b.cur
	dispatch.Stmts = append(dispatch.Stmts, id)

	merge := b.g.newBlock("")
	hasElse := false
	for i := range s.Cases {
		cc := &s.Cases[i]
		if cc.Else {
			hasElse = true
		}
		caseBlock := b.g.newBlock("")
		b.g.addEdge(dispatch.ID, caseBlock.ID, EdgeBranchTrue)
		b.cur = caseBlock
		b.walkStmts(cc.Body)
		if !endsInTerminator(b.prog, b.cur) {
			b.g.addEdge(b.cur.ID, merge.ID, EdgeFallthrough)
		}
	}
	if !hasElse {
		b.g.addEdge(dispatch.ID, merge.ID, EdgeBranchFalse) // no CASE matched, and no CASE ELSE
	}
	b.cur = merge
}

// buildTry wires the body's every statement as a potential exception
// source flowing to the catch block, since any statement inside TRY may
// trap, not only the last one.
func (b *builder) buildTry(id ast.StmtID, s *ast.Stmt) {
	entry := b.cur
	entry.Stmts = append(entry.Stmts, id)

	bodyBlock := b.g.newBlock("")
	b.g.addEdge(entry.ID, bodyBlock.ID, EdgeFallthrough)
	b.cur = bodyBlock
	b.walkStmts(s.Body)
	bodyEnd := b.cur
	lastBody := len(b.g.Blocks) - 1

	var catchBlock *Block
	if len(s.Catch) > 0 {
		catchBlock = b.g.newBlock("")
		for bid := bodyBlock.ID; bid <= lastBody; bid++ {
			b.g.addEdge(bid, catchBlock.ID, EdgeException)
		}
		b.cur = catchBlock
		b.walkStmts(s.Catch)
	}
	catchEnd := b.cur

	finallyBlock := b.g.newBlock("")
	if !endsInTerminator(b.prog, bodyEnd) {
		b.g.addEdge(bodyEnd.ID, finallyBlock.ID, EdgeFallthrough)
	}
	if catchBlock != nil && !endsInTerminator(b.prog, catchEnd) {
		b.g.addEdge(catchEnd.ID, finallyBlock.ID, EdgeFallthrough)
	}
	b.cur = finallyBlock
	b.walkStmts(s.Finally)
}

// buildExit resolves EXIT FOR/WHILE/DO to a forward edge past the
// innermost enclosing loop's back-edge, landing on that loop's exit
// block, then starts a fresh (unreachable unless something else jumps to
// it) block for any statements textually following the EXIT.
func (b *builder) buildExit(s *ast.Stmt) {
	if b.loop != nil {
		b.g.addEdge(b.cur.ID, b.loop.exit, EdgeExit)
	}
	b.cur = b.g.newBlock("")
}
