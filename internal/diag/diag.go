// Package diag implements the compiler's diagnostic model: a closed
// severity/kind enumeration, source locations, and a bag that accumulates
// diagnostics across a compilation unit and flushes them at pipeline exit.
package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Severity distinguishes diagnostics that block codegen from advisory ones.
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Kind classifies a diagnostic by the pipeline stage that raised it.
type Kind string

const (
	Lexical    Kind = "lexical"
	Syntax     Kind = "syntax"
	Semantic   Kind = "semantic"
	Internal   Kind = "internal"
)

// Location is a file id + line + column. Line numbers cover both explicit
// BASIC line numbers and synthetic ordinals assigned to unlabeled lines.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Diagnostic is one lexical, syntax, semantic, or internal-consistency
// finding. Internal diagnostics are always Error severity and indicate a
// compiler bug rather than a malformed program.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	Message  string
	Loc      Location
	Source   string // the offending source line, if available
	Expected []string // expected-token set, for Syntax diagnostics
}

func (d Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: %s", d.Loc, d.Severity, d.Message)
	if len(d.Expected) > 0 {
		fmt.Fprintf(&b, " (expected one of: %s)", strings.Join(d.Expected, ", "))
	}
	if d.Source != "" {
		fmt.Fprintf(&b, "\n  %d | %s", d.Loc.Line, d.Source)
		if d.Loc.Column > 0 {
			pad := strings.Repeat(" ", len(fmt.Sprintf("  %d | ", d.Loc.Line))+d.Loc.Column-1)
			fmt.Fprintf(&b, "\n%s^", pad)
		}
	}
	return b.String()
}

// Bag accumulates diagnostics for a single compilation unit. It is not
// safe for concurrent use from multiple goroutines without external
// synchronization; each pipeline stage owns the bag sequentially.
type Bag struct {
	items []Diagnostic
}

func NewBag() *Bag { return &Bag{} }

func (b *Bag) Add(d Diagnostic) { b.items = append(b.items, d) }

// Merge appends every diagnostic in other to b, so a driver that calls a
// separate Bag-returning stage (lexer.Tokenize, parser.Parse, ...) can
// fold its result into one running bag for the whole compilation.
func (b *Bag) Merge(other *Bag) {
	if other == nil {
		return
	}
	b.items = append(b.items, other.items...)
}

func (b *Bag) Errorf(kind Kind, loc Location, format string, args ...interface{}) {
	b.Add(Diagnostic{Kind: kind, Severity: Error, Loc: loc, Message: fmt.Sprintf(format, args...)})
}

func (b *Bag) Warnf(kind Kind, loc Location, format string, args ...interface{}) {
	b.Add(Diagnostic{Kind: kind, Severity: Warning, Loc: loc, Message: fmt.Sprintf(format, args...)})
}

func (b *Bag) HasErrors() bool {
	for _, d := range b.items {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// All returns diagnostics sorted by location, the stable order the CLI
// driver and the diagnostics websocket feed both depend on.
func (b *Bag) All() []Diagnostic {
	out := make([]Diagnostic, len(b.items))
	copy(out, b.items)
	sort.SliceStable(out, func(i, j int) bool {
		a, c := out[i].Loc, out[j].Loc
		if a.File != c.File {
			return a.File < c.File
		}
		if a.Line != c.Line {
			return a.Line < c.Line
		}
		return a.Column < c.Column
	})
	return out
}

func (b *Bag) Len() int { return len(b.items) }
