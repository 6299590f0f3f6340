package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Text renders the whole module in the stable text format the backend
// driver parses: functions in declaration order, then the data section.
func (m *Module) Text() string {
	var b strings.Builder
	for i, f := range m.Funcs {
		if i > 0 {
			b.WriteByte('\n')
		}
		f.writeTo(&b)
	}
	for _, d := range m.Data {
		b.WriteByte('\n')
		d.writeTo(&b)
	}
	return b.String()
}

func (f *Function) writeTo(b *strings.Builder) {
	retty := "void"
	if f.HasRet {
		retty = f.RetType.Letter()
	}
	b.WriteString("function ")
	b.WriteString(retty)
	b.WriteString(" $")
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Type.Letter())
		b.WriteString(" %")
		b.WriteString(p.Name)
	}
	b.WriteString(")\n")
	for _, l := range f.Locals {
		b.WriteString("  local ")
		b.WriteString(l.Type.Letter())
		b.WriteString(" #")
		b.WriteString(l.Name)
		b.WriteByte('\n')
	}
	for _, blk := range f.Blocks {
		blk.writeTo(b)
	}
}

func (blk *Block) writeTo(b *strings.Builder) {
	b.WriteByte('@')
	b.WriteString(blk.Label)
	b.WriteByte('\n')
	for _, in := range blk.Instrs {
		b.WriteString("  ")
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	b.WriteString("  ")
	b.WriteString(blk.Term.String())
	b.WriteByte('\n')
}

func (d *Data) writeTo(b *strings.Builder) {
	b.WriteString("data $")
	b.WriteString(d.Name)
	b.WriteString(" = { ")
	for i, it := range d.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(it.String())
	}
	b.WriteString(" }\n")
}

func (it DataItem) String() string {
	if it.IsString {
		return fmt.Sprintf("b %q", it.Bytes)
	}
	switch it.Type {
	case TySingle, TyDouble:
		return fmt.Sprintf("%s %s", it.Type.Letter(), strconv.FormatFloat(it.Float, 'g', -1, 64))
	default:
		return fmt.Sprintf("%s %d", it.Type.Letter(), it.Int)
	}
}

// String renders one instruction. Instructions with no Result (store)
// omit the `%name type =` prefix.
func (in Instr) String() string {
	var b strings.Builder
	if in.Result != "" {
		b.WriteByte('%')
		b.WriteString(in.Result)
		b.WriteByte(' ')
		b.WriteString(in.Type.Letter())
		b.WriteString(" = ")
	}
	b.WriteString(in.Op)

	if in.Op == "call" {
		b.WriteByte(' ')
		b.WriteString(in.Callee.String())
		b.WriteByte('(')
		for i, a := range in.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.String())
		}
		b.WriteByte(')')
		return b.String()
	}

	if in.Op == "phi" {
		for i, a := range in.Args {
			pred := ""
			if i < len(in.PhiPreds) {
				pred = in.PhiPreds[i]
			}
			b.WriteString(fmt.Sprintf(" [ %s @%s ]", a.String(), pred))
		}
		return b.String()
	}

	for i, a := range in.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte(' ')
		b.WriteString(a.String())
	}
	return b.String()
}

// String renders one block terminator, exactly matching the grammar the
// backend driver parses: `jmp @L`, `jnz %t, @L1, @L2`, `ret [%t]`.
func (t Terminator) String() string {
	switch t.Kind {
	case TermJmp:
		return "jmp @" + t.Then
	case TermJnz:
		return fmt.Sprintf("jnz %s, @%s, @%s", t.Cond.String(), t.Then, t.Else)
	case TermRet:
		if t.RetVal == nil {
			return "ret"
		}
		return "ret " + t.RetVal.String()
	}
	return "?"
}
