// Package backend is the pipeline stage after code generation: it parses
// the stable IR text internal/ir.Module.Text() renders back into a
// *ir.Module (the driver's input is text, not the in-memory value, so a
// backend invoked as a separate process or fed a cached build artifact
// works the same as one handed the module directly from codegen), then
// lowers every function to ARM64 - either assembly text (EmitAsm, the
// ahead-of-time path) or raw machine code ready for internal/jit
// (Encode).
package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/albanread/fasterbasic/internal/ir"
)

// ParseModule reconstructs a *ir.Module from the text internal/ir.Module.Text
// produces. It is deliberately a line-oriented recursive-descent parser,
// not a general tokenizer, because the grammar it accepts is exactly the
// one writeTo/String in internal/ir emit: one statement per line, fixed
// leading sigils ('%' temp, '$' symbol, '#' local, '@' label).
func ParseModule(text string) (*ir.Module, error) {
	mod := ir.NewModule()
	lines := strings.Split(text, "\n")

	var fn *ir.Function
	var blk *ir.Block

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "function "):
			f, err := parseFunctionHeader(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			fn = mod.NewFunction(f.name, f.retType, f.hasRet, f.params)
			blk = nil
		case strings.HasPrefix(line, "local "):
			if fn == nil {
				return nil, fmt.Errorf("line %d: local declaration outside a function", i+1)
			}
			name, ty, err := parseLocal(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			fn.DeclareLocal(name, ty)
		case strings.HasPrefix(line, "@"):
			if fn == nil {
				return nil, fmt.Errorf("line %d: block label outside a function", i+1)
			}
			blk = fn.NewBlock(strings.TrimPrefix(line, "@"))
		case strings.HasPrefix(line, "data $"):
			d, err := parseData(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			mod.Data = append(mod.Data, d)
		default:
			if blk == nil {
				return nil, fmt.Errorf("line %d: instruction %q outside any block", i+1, line)
			}
			if err := parseInstrOrTerm(blk, line); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		}
	}
	return mod, nil
}

type funcHeader struct {
	name    string
	retType ir.Type
	hasRet  bool
	params  []ir.Param
}

// parseFunctionHeader parses `function <rettype> $name(<type> %p, ...)`.
func parseFunctionHeader(line string) (funcHeader, error) {
	rest := strings.TrimPrefix(line, "function ")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return funcHeader{}, fmt.Errorf("malformed function header %q", line)
	}
	retStr, rest := rest[:sp], strings.TrimSpace(rest[sp+1:])
	if !strings.HasPrefix(rest, "$") {
		return funcHeader{}, fmt.Errorf("malformed function header %q: expected $name", line)
	}
	rest = rest[1:]
	paren := strings.IndexByte(rest, '(')
	if paren < 0 || !strings.HasSuffix(rest, ")") {
		return funcHeader{}, fmt.Errorf("malformed function header %q: expected (params)", line)
	}
	name := rest[:paren]
	paramStr := rest[paren+1 : len(rest)-1]

	h := funcHeader{name: name}
	if retStr == "void" {
		h.hasRet = false
	} else {
		ty, err := parseTypeLetter(retStr)
		if err != nil {
			return funcHeader{}, err
		}
		h.retType, h.hasRet = ty, true
	}
	for _, p := range splitTopLevel(paramStr, ',') {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields := strings.Fields(p)
		if len(fields) != 2 || !strings.HasPrefix(fields[1], "%") {
			return funcHeader{}, fmt.Errorf("malformed parameter %q", p)
		}
		ty, err := parseTypeLetter(fields[0])
		if err != nil {
			return funcHeader{}, err
		}
		h.params = append(h.params, ir.Param{Name: fields[1][1:], Type: ty})
	}
	return h, nil
}

// parseLocal parses `local <type> #name`.
func parseLocal(line string) (string, ir.Type, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "local "))
	if len(fields) != 2 || !strings.HasPrefix(fields[1], "#") {
		return "", 0, fmt.Errorf("malformed local %q", line)
	}
	ty, err := parseTypeLetter(fields[0])
	if err != nil {
		return "", 0, err
	}
	return fields[1][1:], ty, nil
}

// parseData parses `data $name = { item, item, ... }`.
func parseData(line string) (*ir.Data, error) {
	rest := strings.TrimPrefix(line, "data $")
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return nil, fmt.Errorf("malformed data entry %q", line)
	}
	name := strings.TrimSpace(rest[:eq])
	body := strings.TrimSpace(rest[eq+1:])
	open, close := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if open < 0 || close < 0 || close < open {
		return nil, fmt.Errorf("malformed data entry %q: expected { ... }", line)
	}
	d := &ir.Data{Name: name}
	for _, item := range splitTopLevel(body[open+1:close], ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		di, err := parseDataItem(item)
		if err != nil {
			return nil, err
		}
		d.Items = append(d.Items, di)
	}
	return d, nil
}

func parseDataItem(s string) (ir.DataItem, error) {
	sp := strings.IndexByte(s, ' ')
	if sp < 0 {
		return ir.DataItem{}, fmt.Errorf("malformed data item %q", s)
	}
	letter, rest := s[:sp], strings.TrimSpace(s[sp+1:])
	if letter == "b" && strings.HasPrefix(rest, "\"") {
		unquoted, err := strconv.Unquote(rest)
		if err != nil {
			return ir.DataItem{}, fmt.Errorf("malformed string literal %q: %w", s, err)
		}
		return ir.DataItem{Type: ir.TyByte, IsString: true, Bytes: unquoted}, nil
	}
	ty, err := parseTypeLetter(letter)
	if err != nil {
		return ir.DataItem{}, err
	}
	switch ty {
	case ir.TySingle, ir.TyDouble:
		f, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return ir.DataItem{}, fmt.Errorf("malformed float data item %q: %w", s, err)
		}
		return ir.DataItem{Type: ty, Float: f}, nil
	default:
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return ir.DataItem{}, fmt.Errorf("malformed int data item %q: %w", s, err)
		}
		return ir.DataItem{Type: ty, Int: n}, nil
	}
}

func parseTypeLetter(s string) (ir.Type, error) {
	switch s {
	case "b":
		return ir.TyByte, nil
	case "h":
		return ir.TyHalf, nil
	case "w":
		return ir.TyWord, nil
	case "l":
		return ir.TyLong, nil
	case "s":
		return ir.TySingle, nil
	case "d":
		return ir.TyDouble, nil
	}
	return 0, fmt.Errorf("unknown type letter %q", s)
}

// parseInstrOrTerm parses one non-blank, non-label, non-declaration line
// within a block: a terminator (jmp/jnz/ret) or an instruction, appending
// it to blk.
func parseInstrOrTerm(blk *ir.Block, line string) error {
	switch {
	case strings.HasPrefix(line, "jmp @"):
		blk.SetJmp(strings.TrimPrefix(line, "jmp @"))
		return nil
	case strings.HasPrefix(line, "jnz "):
		rest := strings.TrimPrefix(line, "jnz ")
		parts := splitTopLevel(rest, ',')
		if len(parts) != 3 {
			return fmt.Errorf("malformed jnz %q", line)
		}
		cond, err := parseValue(strings.TrimSpace(parts[0]))
		if err != nil {
			return err
		}
		then := strings.TrimPrefix(strings.TrimSpace(parts[1]), "@")
		els := strings.TrimPrefix(strings.TrimSpace(parts[2]), "@")
		blk.SetJnz(cond, then, els)
		return nil
	case line == "ret":
		blk.SetRet(nil)
		return nil
	case strings.HasPrefix(line, "ret "):
		v, err := parseValue(strings.TrimSpace(strings.TrimPrefix(line, "ret ")))
		if err != nil {
			return err
		}
		blk.SetRet(v)
		return nil
	}

	in, err := parseInstr(line)
	if err != nil {
		return err
	}
	blk.Emit(in)
	return nil
}

// parseInstr parses one instruction line, with or without a `%result
// type = ` prefix.
func parseInstr(line string) (ir.Instr, error) {
	var in ir.Instr
	rest := line
	if strings.HasPrefix(line, "%") {
		eq := strings.Index(line, " = ")
		if eq < 0 {
			return ir.Instr{}, fmt.Errorf("malformed instruction %q: expected ' = '", line)
		}
		head := strings.Fields(line[:eq])
		if len(head) != 2 {
			return ir.Instr{}, fmt.Errorf("malformed instruction result %q", line[:eq])
		}
		in.Result = strings.TrimPrefix(head[0], "%")
		ty, err := parseTypeLetter(head[1])
		if err != nil {
			return ir.Instr{}, err
		}
		in.Type = ty
		rest = line[eq+3:]
	}

	sp := strings.IndexByte(rest, ' ')
	var op, tail string
	if sp < 0 {
		op, tail = rest, ""
	} else {
		op, tail = rest[:sp], strings.TrimSpace(rest[sp+1:])
	}
	in.Op = op

	switch op {
	case "call":
		paren := strings.IndexByte(tail, '(')
		if paren < 0 || !strings.HasSuffix(tail, ")") {
			return ir.Instr{}, fmt.Errorf("malformed call %q", line)
		}
		callee, err := parseValue(tail[:paren])
		if err != nil {
			return ir.Instr{}, err
		}
		in.Callee = callee
		argStr := tail[paren+1 : len(tail)-1]
		for _, a := range splitTopLevel(argStr, ',') {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			v, err := parseValue(a)
			if err != nil {
				return ir.Instr{}, err
			}
			in.Args = append(in.Args, v)
		}
	case "phi":
		for _, clause := range splitTopLevel(tail, ',') {
			clause = strings.TrimSpace(clause)
			clause = strings.TrimPrefix(clause, "[")
			clause = strings.TrimSuffix(clause, "]")
			clause = strings.TrimSpace(clause)
			at := strings.LastIndexByte(clause, '@')
			if at < 0 {
				return ir.Instr{}, fmt.Errorf("malformed phi clause %q", clause)
			}
			v, err := parseValue(strings.TrimSpace(clause[:at]))
			if err != nil {
				return ir.Instr{}, err
			}
			in.Args = append(in.Args, v)
			in.PhiPreds = append(in.PhiPreds, clause[at+1:])
		}
	default:
		for _, a := range splitTopLevel(tail, ',') {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			v, err := parseValue(a)
			if err != nil {
				return ir.Instr{}, err
			}
			in.Args = append(in.Args, v)
		}
	}
	return in, nil
}

// parseValue parses one operand: a sigil-prefixed reference (%temp,
// $symbol, #local) or a typed constant ("w 5", "d 3.14").
func parseValue(s string) (ir.Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty operand")
	}
	switch s[0] {
	case '%':
		return ir.Temp{Name: s[1:]}, nil
	case '$':
		return ir.Sym{Name: s[1:]}, nil
	case '#':
		return ir.Local{Name: s[1:]}, nil
	}
	sp := strings.IndexByte(s, ' ')
	if sp < 0 {
		return nil, fmt.Errorf("malformed constant operand %q", s)
	}
	ty, err := parseTypeLetter(s[:sp])
	if err != nil {
		return nil, err
	}
	val := strings.TrimSpace(s[sp+1:])
	switch ty {
	case ir.TySingle, ir.TyDouble:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed float constant %q: %w", s, err)
		}
		return ir.ConstFloat{Type: ty, Val: f}, nil
	default:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed int constant %q: %w", s, err)
		}
		return ir.ConstInt{Type: ty, Val: n}, nil
	}
}

// splitTopLevel splits s on sep, ignoring occurrences inside a quoted
// string or nested brackets/parens, since data payloads and phi clauses
// can themselves contain the separator.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			inQuote = !inQuote
		case inQuote:
			// skip
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
