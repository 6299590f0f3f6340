package ir

import "fmt"

// Verify checks the internal-consistency invariants codegen is
// responsible for: every jump/branch target is a block
// that actually exists in the function, every temporary has exactly one
// defining instruction, no non-phi instruction reads a temporary before
// an earlier instruction (in block order) defines it, and every phi
// argument is defined somewhere in the function. A violation
// here is always a code generator bug, not a user error, so callers
// should treat a non-nil result as fatal rather than a diagnostic to
// surface to the BASIC programmer.
func (m *Module) Verify() []error {
	var errs []error
	for _, f := range m.Funcs {
		errs = append(errs, f.Verify()...)
	}
	return errs
}

func (f *Function) Verify() []error {
	var errs []error

	labels := map[string]bool{}
	for _, b := range f.Blocks {
		if labels[b.Label] {
			errs = append(errs, fmt.Errorf("function %s: duplicate block label @%s", f.Name, b.Label))
		}
		labels[b.Label] = true
	}

	defined := map[string]bool{}
	for _, p := range f.Params {
		defined[p.Name] = true
	}

	checkTarget := func(label string) {
		if !labels[label] {
			errs = append(errs, fmt.Errorf("function %s: terminator targets undefined block @%s", f.Name, label))
		}
	}
	checkVal := func(instrDesc string, v Value) {
		if t, ok := v.(Temp); ok && !defined[t.Name] {
			errs = append(errs, fmt.Errorf("function %s: %s uses %%%s before it is defined", f.Name, instrDesc, t.Name))
		}
	}

	type phiArg struct {
		desc string
		v    Value
	}
	var phiArgs []phiArg

	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			desc := fmt.Sprintf("@%s: %s", b.Label, in.Op)
			if in.Op == "phi" {
				// phi arguments are read along the named predecessor edge, not
				// the current block's linear order, so they are exempt from the
				// before-definition check here; once the whole function has been
				// walked, each is checked for a definition anywhere in it.
				for _, a := range in.Args {
					phiArgs = append(phiArgs, phiArg{desc, a})
				}
			} else {
				if in.Callee != nil {
					checkVal(desc, in.Callee)
				}
				for _, a := range in.Args {
					checkVal(desc, a)
				}
			}
			if in.Result != "" {
				if defined[in.Result] {
					errs = append(errs, fmt.Errorf("function %s: %%%s is defined more than once", f.Name, in.Result))
				}
				defined[in.Result] = true
			}
		}
		switch b.Term.Kind {
		case TermJmp:
			checkTarget(b.Term.Then)
		case TermJnz:
			checkVal(fmt.Sprintf("@%s: jnz", b.Label), b.Term.Cond)
			checkTarget(b.Term.Then)
			checkTarget(b.Term.Else)
		case TermRet:
			if b.Term.RetVal != nil {
				checkVal(fmt.Sprintf("@%s: ret", b.Label), b.Term.RetVal)
			}
		}
	}
	for _, pa := range phiArgs {
		checkVal(pa.desc, pa.v)
	}

	return errs
}
