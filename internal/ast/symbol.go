package ast

// SymbolID is the integer handle an Expr/Stmt uses to reference a
// declaration, replacing bidirectional AST<->symbol-table pointers with
// an arena-and-handle indirection.
type SymbolID int32

const NoSymbol SymbolID = -1
