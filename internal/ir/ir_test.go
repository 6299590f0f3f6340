package ir

import (
	"strings"
	"testing"
)

func TestTextFormatSimpleFunction(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("add2", TyLong, true, []Param{{Name: "x", Type: TyLong}})
	entry := f.NewBlock("entry")
	entry.Emit(Instr{Result: "t1", Type: TyLong, Op: "add", Args: []Value{Temp{Name: "x"}, ConstInt{Type: TyLong, Val: 2}}})
	entry.SetRet(Temp{Name: "t1"})

	text := m.Text()
	want := "function l $add2(l %x)\n@entry\n  %t1 l = add %x, l 2\n  ret %t1\n"
	if text != want {
		t.Fatalf("unexpected IR text:\n got: %q\nwant: %q", text, want)
	}
}

func TestLocalSlotRendersDeclarationAndAddress(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("counter", TyWord, false, nil)
	slot := f.DeclareLocal("n", TyWord)
	entry := f.NewBlock("entry")
	entry.Emit(Instr{Op: "store", Args: []Value{slot, ConstInt{Type: TyWord, Val: 0}}})
	entry.SetRet(nil)

	text := m.Text()
	if !strings.Contains(text, "local w #n") {
		t.Fatalf("expected a local slot declaration, got: %q", text)
	}
	if !strings.Contains(text, "store #n, w 0") {
		t.Fatalf("expected a store through the local's address, got: %q", text)
	}
}

func TestTextFormatVoidFunctionAndBranch(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("loop", TyWord, false, nil)
	entry := f.NewBlock("entry")
	entry.Emit(Instr{Result: "c", Type: TyWord, Op: "cmp_lt_s", Args: []Value{Temp{Name: "i"}, ConstInt{Type: TyWord, Val: 10}}})
	entry.SetJnz(Temp{Name: "c"}, "body", "exit")
	body := f.NewBlock("body")
	body.SetJmp("entry")
	exit := f.NewBlock("exit")
	exit.SetRet(nil)

	text := m.Text()
	if !strings.Contains(text, "function void $loop()") {
		t.Fatalf("expected void return type in signature, got: %q", text)
	}
	if !strings.Contains(text, "jnz %c, @body, @exit") {
		t.Fatalf("expected jnz terminator, got: %q", text)
	}
	if !strings.Contains(text, "jmp @entry") {
		t.Fatalf("expected jmp terminator, got: %q", text)
	}
}

func TestTextFormatDataSection(t *testing.T) {
	m := NewModule()
	d := m.NewData("S")
	d.Items = append(d.Items, DataItem{Type: TyByte, IsString: true, Bytes: "hi"})
	d.Items = append(d.Items, DataItem{Type: TyByte, Int: 0})

	text := m.Text()
	if !strings.Contains(text, `data $S = { b "hi", b 0 }`) {
		t.Fatalf("unexpected data section: %q", text)
	}
}

func TestVerifyCatchesUndefinedBlockTarget(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("bad", TyWord, false, nil)
	entry := f.NewBlock("entry")
	entry.SetJmp("nowhere")

	errs := m.Verify()
	if len(errs) == 0 {
		t.Fatalf("expected a verification error for a jump to an undefined block")
	}
}

func TestVerifyCatchesUseBeforeDefine(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("bad", TyWord, false, nil)
	entry := f.NewBlock("entry")
	entry.Emit(Instr{Result: "t1", Type: TyWord, Op: "add", Args: []Value{Temp{Name: "undefined"}, ConstInt{Type: TyWord, Val: 1}}})
	entry.SetRet(nil)

	errs := m.Verify()
	if len(errs) == 0 {
		t.Fatalf("expected a verification error for using %%undefined before it is defined")
	}
}

func TestVerifyAcceptsWellFormedFunction(t *testing.T) {
	m := NewModule()
	f := m.NewFunction("ok", TyLong, true, []Param{{Name: "x", Type: TyLong}})
	entry := f.NewBlock("entry")
	entry.Emit(Instr{Result: "t1", Type: TyLong, Op: "add", Args: []Value{Temp{Name: "x"}, ConstInt{Type: TyLong, Val: 1}}})
	entry.SetRet(Temp{Name: "t1"})

	if errs := m.Verify(); len(errs) != 0 {
		t.Fatalf("expected no verification errors, got: %v", errs)
	}
}
