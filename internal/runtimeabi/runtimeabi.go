// Package runtimeabi names the fixed calling-convention surface between
// generated code and the support runtime linked into every compiled
// program: scope/memory management, string and array descriptors,
// exceptions, worker messaging, and DATA/READ. The code generator and the
// backend driver both need the exact same symbol spelling, so it lives
// here once instead of as string literals scattered across both
// packages.
package runtimeabi

// Sig describes one runtime entry point's calling shape: whether it takes
// a variable number of arguments and whether it returns a value. It
// records no argument count, and the backend does not consult it; a
// `call` instruction's arguments come from the IR alone.
type Sig struct {
	Name    string
	HasRet  bool
	Varargs bool
}

// Scope and object lifetime (SAMM).
const (
	ScopePush    = "scope_push"
	ScopePop     = "scope_pop"
	StringRetain = "string_retain"
	ObjectRetain = "object_retain"
	ObjectNew    = "object_new"
	ObjectDelete = "object_delete"
	ObjectIsNothing = "object_is_nothing"
)

// Strings.
const (
	StringConcat     = "string_concat"
	StringSlice      = "string_slice"
	StringSliceAssign = "string_slice_assign"
	ValFromString    = "val_from_string"
)

// Arrays.
const (
	ArrayNew   = "array_new"
	ArrayErase = "array_erase"
)

// Exceptions and ON ERROR.
const (
	RuntimeThrow   = "runtime_throw"
	RuntimeRethrow = "runtime_rethrow"
	RuntimeErr     = "runtime_err"
	ExceptionPush  = "exception_push"
	ExceptionPop   = "exception_pop"
)

// Terminal I/O.
const (
	PrintString  = "basic_print_string"
	PrintInt     = "basic_print_int"
	PrintDouble  = "basic_print_double"
	PrintTab     = "basic_print_tab"
	PrintNewline = "basic_print_newline"
	InputLine    = "basic_input_line"
)

// DATA / READ / RESTORE.
const (
	DataReadInt    = "data_read_int"
	DataReadDouble = "data_read_double"
	DataReadString = "data_read_string"
	DataRestore    = "data_restore"
)

// Workers, messaging, and timers.
const (
	Spawn        = "spawn"
	Send         = "send"
	Receive      = "receive"
	MatchReceivePoll = "match_receive_poll"
	Await        = "await"
	Cancel       = "cancel"
	Cancelled    = "cancelled"
	AfterMsSend  = "after_ms_send"
	EveryMsSend  = "every_ms_send"
	TimerStopAll = "timer_stop_all"
	Marshall     = "marshall"
	Unmarshall   = "unmarshall"
)

// Signatures is the full runtime surface, keyed by symbol name, in the
// shape the backend driver needs to resolve a `call` instruction's
// argument registers and whether it leaves a live return value. Entries
// absent here (e.g. the per-class vtable thunks codegen names with a
// "vtable_" prefix) are resolved structurally by the backend instead of
// by a fixed table lookup.
var Signatures = map[string]Sig{
	ScopePush:         {Name: ScopePush},
	ScopePop:          {Name: ScopePop},
	StringRetain:      {Name: StringRetain},
	ObjectRetain:      {Name: ObjectRetain},
	ObjectNew:         {Name: ObjectNew, HasRet: true},
	ObjectDelete:      {Name: ObjectDelete},
	ObjectIsNothing:   {Name: ObjectIsNothing, HasRet: true},
	StringConcat:      {Name: StringConcat, HasRet: true},
	StringSlice:       {Name: StringSlice, HasRet: true},
	StringSliceAssign: {Name: StringSliceAssign},
	ValFromString:     {Name: ValFromString, HasRet: true},
	ArrayNew:          {Name: ArrayNew, HasRet: true, Varargs: true},
	ArrayErase:        {Name: ArrayErase},
	RuntimeThrow:      {Name: RuntimeThrow},
	RuntimeRethrow:    {Name: RuntimeRethrow},
	RuntimeErr:        {Name: RuntimeErr, HasRet: true},
	ExceptionPush:     {Name: ExceptionPush},
	ExceptionPop:      {Name: ExceptionPop},
	PrintString:       {Name: PrintString},
	PrintInt:          {Name: PrintInt},
	PrintDouble:       {Name: PrintDouble},
	PrintTab:          {Name: PrintTab},
	PrintNewline:      {Name: PrintNewline},
	InputLine:         {Name: InputLine, HasRet: true},
	DataReadInt:       {Name: DataReadInt, HasRet: true},
	DataReadDouble:    {Name: DataReadDouble, HasRet: true},
	DataReadString:    {Name: DataReadString, HasRet: true},
	DataRestore:       {Name: DataRestore},
	Spawn:             {Name: Spawn, HasRet: true, Varargs: true},
	Send:              {Name: Send},
	Receive:           {Name: Receive, HasRet: true},
	MatchReceivePoll:  {Name: MatchReceivePoll, HasRet: true},
	Await:             {Name: Await, HasRet: true},
	Cancel:            {Name: Cancel},
	Cancelled:         {Name: Cancelled, HasRet: true},
	AfterMsSend:       {Name: AfterMsSend, HasRet: true},
	EveryMsSend:       {Name: EveryMsSend, HasRet: true},
	TimerStopAll:      {Name: TimerStopAll},
	Marshall:          {Name: Marshall, HasRet: true},
	Unmarshall:        {Name: Unmarshall, HasRet: true},
}

// Lookup returns the known signature for a runtime symbol, and whether
// one is registered at all.
func Lookup(name string) (Sig, bool) {
	s, ok := Signatures[name]
	return s, ok
}
