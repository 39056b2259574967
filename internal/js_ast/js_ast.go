package js_ast

import (
	"github.com/esmerge/esmerge/internal/logger"
)

// Every module is parsed into a separate AST. The scope analyzer then binds
// every identifier in the tree to a Ref, which is an index into the symbol
// table for the file. The symbol table is stored as a top-level field in the
// AST so it can be accessed without traversing the tree.
//
// Analyzed trees are immutable. That makes it possible to reuse a module for
// several bundling runs. Any pass that operates on an AST after analysis
// (linking, merging, renaming) must create a copy of the parts of the tree it
// changes instead of mutating the original.

type L int

// https://developer.mozilla.org/en-US/docs/Web/JavaScript/Reference/Operators/Operator_Precedence
const (
	LLowest L = iota
	LComma
	LSpread
	LYield
	LAssign
	LConditional
	LNullishCoalescing
	LLogicalOr
	LLogicalAnd
	LBitwiseOr
	LBitwiseXor
	LBitwiseAnd
	LEquals
	LCompare
	LShift
	LAdd
	LMultiply
	LExponentiation
	LPrefix
	LPostfix
	LNew
	LCall
	LMember
)

type OpCode int

func (op OpCode) IsPrefix() bool {
	return op < UnOpPostDec
}

func (op OpCode) IsLeftAssociative() bool {
	return op >= BinOpAdd && op < BinOpComma && op != BinOpPow
}

func (op OpCode) IsRightAssociative() bool {
	return op >= BinOpAssign || op == BinOpPow
}

func (op OpCode) BinaryAssignTarget() AssignTarget {
	if op == BinOpAssign {
		return AssignTargetReplace
	}
	if op > BinOpAssign {
		return AssignTargetUpdate
	}
	return AssignTargetNone
}

func (op OpCode) UnaryAssignTarget() AssignTarget {
	if op >= UnOpPreDec && op <= UnOpPostInc {
		return AssignTargetUpdate
	}
	return AssignTargetNone
}

type AssignTarget uint8

const (
	AssignTargetNone    AssignTarget = iota
	AssignTargetReplace              // "a = b"
	AssignTargetUpdate               // "a += b"
)

// If you add a new token, remember to add it to "OpTable" too
const (
	// Prefix
	UnOpPos OpCode = iota
	UnOpNeg
	UnOpCpl
	UnOpNot
	UnOpVoid
	UnOpTypeof
	UnOpDelete

	// Prefix update
	UnOpPreDec
	UnOpPreInc

	// Postfix update
	UnOpPostDec
	UnOpPostInc

	// Left-associative
	BinOpAdd
	BinOpSub
	BinOpMul
	BinOpDiv
	BinOpRem
	BinOpPow
	BinOpLt
	BinOpLe
	BinOpGt
	BinOpGe
	BinOpIn
	BinOpInstanceof
	BinOpShl
	BinOpShr
	BinOpUShr
	BinOpLooseEq
	BinOpLooseNe
	BinOpStrictEq
	BinOpStrictNe
	BinOpNullishCoalescing
	BinOpLogicalOr
	BinOpLogicalAnd
	BinOpBitwiseOr
	BinOpBitwiseAnd
	BinOpBitwiseXor

	// Non-associative
	BinOpComma

	// Right-associative
	BinOpAssign
	BinOpAddAssign
	BinOpSubAssign
	BinOpMulAssign
	BinOpDivAssign
	BinOpRemAssign
	BinOpPowAssign
	BinOpShlAssign
	BinOpShrAssign
	BinOpUShrAssign
	BinOpBitwiseOrAssign
	BinOpBitwiseAndAssign
	BinOpBitwiseXorAssign
	BinOpNullishCoalescingAssign
	BinOpLogicalOrAssign
	BinOpLogicalAndAssign
)

type opTableEntry struct {
	Text      string
	Level     L
	IsKeyword bool
}

var OpTable = []opTableEntry{
	// Prefix
	{"+", LPrefix, false},
	{"-", LPrefix, false},
	{"~", LPrefix, false},
	{"!", LPrefix, false},
	{"void", LPrefix, true},
	{"typeof", LPrefix, true},
	{"delete", LPrefix, true},

	// Prefix update
	{"--", LPrefix, false},
	{"++", LPrefix, false},

	// Postfix update
	{"--", LPostfix, false},
	{"++", LPostfix, false},

	// Left-associative
	{"+", LAdd, false},
	{"-", LAdd, false},
	{"*", LMultiply, false},
	{"/", LMultiply, false},
	{"%", LMultiply, false},
	{"**", LExponentiation, false}, // Right-associative
	{"<", LCompare, false},
	{"<=", LCompare, false},
	{">", LCompare, false},
	{">=", LCompare, false},
	{"in", LCompare, true},
	{"instanceof", LCompare, true},
	{"<<", LShift, false},
	{">>", LShift, false},
	{">>>", LShift, false},
	{"==", LEquals, false},
	{"!=", LEquals, false},
	{"===", LEquals, false},
	{"!==", LEquals, false},
	{"??", LNullishCoalescing, false},
	{"||", LLogicalOr, false},
	{"&&", LLogicalAnd, false},
	{"|", LBitwiseOr, false},
	{"&", LBitwiseAnd, false},
	{"^", LBitwiseXor, false},

	// Non-associative
	{",", LComma, false},

	// Right-associative
	{"=", LAssign, false},
	{"+=", LAssign, false},
	{"-=", LAssign, false},
	{"*=", LAssign, false},
	{"/=", LAssign, false},
	{"%=", LAssign, false},
	{"**=", LAssign, false},
	{"<<=", LAssign, false},
	{">>=", LAssign, false},
	{">>>=", LAssign, false},
	{"|=", LAssign, false},
	{"&=", LAssign, false},
	{"^=", LAssign, false},
	{"??=", LAssign, false},
	{"||=", LAssign, false},
	{"&&=", LAssign, false},
}

// A binding site with a name. The name is filled in by the parser and the ref
// is filled in by the scope analyzer.
type LocRef struct {
	Loc  logger.Loc
	Ref  Ref
	Name string
}

type Span struct {
	Text  string
	Range logger.Range
}

type PropertyKind int

const (
	PropertyNormal PropertyKind = iota
	PropertyGet
	PropertySet
	PropertySpread
)

type Property struct {
	Key Expr

	// This is omitted for class fields
	ValueOrNil Expr

	// This is used when parsing a pattern that uses default values:
	//
	//   [a = 1] = [];
	//   ({a = 1} = {});
	//
	// It's also used for class fields:
	//
	//   class Foo { a = 1 }
	//
	InitializerOrNil Expr

	Kind         PropertyKind
	IsComputed   bool
	IsMethod     bool
	IsStatic     bool
	WasShorthand bool
}

type PropertyBinding struct {
	Key               Expr
	Value             Binding
	DefaultValueOrNil Expr
	IsComputed        bool
	IsSpread          bool
}

type Arg struct {
	Binding      Binding
	DefaultOrNil Expr
}

type Fn struct {
	Name         *LocRef
	Args         []Arg
	Body         FnBody
	ArgumentsRef Ref
	IsAsync      bool
	HasRestArg   bool
}

type FnBody struct {
	Loc   logger.Loc
	Stmts []Stmt
}

type Class struct {
	Name         *LocRef
	ExtendsOrNil Expr
	BodyLoc      logger.Loc
	Properties   []Property
}

type ArrayBinding struct {
	Binding           Binding
	DefaultValueOrNil Expr
}

type Binding struct {
	Data B
	Loc  logger.Loc
}

// This interface is never called. Its purpose is to encode a variant type in
// Go's type system.
type B interface{ isBinding() }

func (*BMissing) isBinding()    {}
func (*BIdentifier) isBinding() {}
func (*BArray) isBinding()      {}
func (*BObject) isBinding()     {}

type BMissing struct{}

type BIdentifier struct {
	Ref  Ref
	Name string
}

type BArray struct {
	Items     []ArrayBinding
	HasSpread bool
}

type BObject struct {
	Properties []PropertyBinding
}

type Expr struct {
	Data E
	Loc  logger.Loc
}

// This interface is never called. Its purpose is to encode a variant type in
// Go's type system.
type E interface{ isExpr() }

type EArray struct {
	Items []Expr
}

// An array hole such as the middle item in "[a, , b]"
type EMissing struct{}

type EUnary struct {
	Op    OpCode
	Value Expr
}

type EBinary struct {
	Left  Expr
	Right Expr
	Op    OpCode
}

type EBoolean struct{ Value bool }

type ESuper struct{}

type ENull struct{}

type EUndefined struct{}

type EThis struct{}

type ENew struct {
	Target Expr
	Args   []Expr
}

type ECall struct {
	Target        Expr
	Args          []Expr
	OptionalChain bool // "a?.()"
}

type EDot struct {
	Target        Expr
	Name          string
	NameLoc       logger.Loc
	OptionalChain bool // "a?.b"
}

type EIndex struct {
	Target        Expr
	Index         Expr
	OptionalChain bool // "a?.[b]"
}

type EArrow struct {
	Args       []Arg
	Body       FnBody
	IsAsync    bool
	HasRestArg bool
	PreferExpr bool // Use shorthand if true and "Body" is a single return statement
}

type EFunction struct{ Fn Fn }

type EClass struct{ Class Class }

// The parser fills in the name. The scope analyzer fills in the ref, after
// which the name is only used for debugging.
type EIdentifier struct {
	Ref  Ref
	Name string
}

type ENumber struct{ Value float64 }

type EString struct{ Value string }

type ESpread struct{ Value Expr }

type EObject struct {
	Properties []Property
}

type EIf struct {
	Test Expr
	Yes  Expr
	No   Expr
}

type EAwait struct {
	Value Expr
}

// A "require()" call with a string literal argument
type ERequireString struct {
	ImportRecordIndex uint32
}

// An "import()" expression with a string literal argument
type EImportString struct {
	ImportRecordIndex uint32
}

// An "import()" expression with any other argument
type EImportCall struct {
	Expr Expr
}

func (*EArray) isExpr()         {}
func (*EMissing) isExpr()       {}
func (*EUnary) isExpr()         {}
func (*EBinary) isExpr()        {}
func (*EBoolean) isExpr()       {}
func (*ESuper) isExpr()         {}
func (*ENull) isExpr()          {}
func (*EUndefined) isExpr()     {}
func (*EThis) isExpr()          {}
func (*ENew) isExpr()           {}
func (*ECall) isExpr()          {}
func (*EDot) isExpr()           {}
func (*EIndex) isExpr()         {}
func (*EArrow) isExpr()         {}
func (*EFunction) isExpr()      {}
func (*EClass) isExpr()         {}
func (*EIdentifier) isExpr()    {}
func (*ENumber) isExpr()        {}
func (*EString) isExpr()        {}
func (*ESpread) isExpr()        {}
func (*EObject) isExpr()        {}
func (*EIf) isExpr()            {}
func (*EAwait) isExpr()         {}
func (*ERequireString) isExpr() {}
func (*EImportString) isExpr()  {}
func (*EImportCall) isExpr()    {}

type Stmt struct {
	Data S
	Loc  logger.Loc
}

// This interface is never called. Its purpose is to encode a variant type in
// Go's type system.
type S interface{ isStmt() }

type SBlock struct {
	Stmts []Stmt
}

type SEmpty struct{}

// This is only generated by the merger to label the code of each module
type SComment struct {
	Text string
}

type SExportClause struct {
	Items []ClauseItem
}

type SExportFrom struct {
	Items             []ClauseItem
	NamespaceRef      Ref
	ImportRecordIndex uint32
}

type SExportDefault struct {
	DefaultName LocRef
	Value       Stmt // May be a SExpr or SFunction or SClass
}

type SExportStar struct {
	Alias             *ClauseItem
	NamespaceRef      Ref
	ImportRecordIndex uint32
}

// This is an "import" statement. The "NamespaceRef" symbol is the namespace
// of the imported module: either the name after "* as" or a generated symbol.
// The parser only fills in "NamespaceName" when "StarNameLoc" is present.
type SImport struct {
	NamespaceRef      Ref
	NamespaceName     string
	DefaultName       *LocRef
	Items             *[]ClauseItem
	StarNameLoc       *logger.Loc
	ImportRecordIndex uint32
}

type SExpr struct {
	Value Expr
}

type LocalKind uint8

const (
	LocalVar LocalKind = iota
	LocalLet
	LocalConst
)

type SLocal struct {
	Decls    []Decl
	Kind     LocalKind
	IsExport bool
}

type SFunction struct {
	Fn       Fn
	IsExport bool
}

type SClass struct {
	Class    Class
	IsExport bool
}

type SReturn struct {
	ValueOrNil Expr
}

type SThrow struct {
	Value Expr
}

type SIf struct {
	Test    Expr
	Yes     Stmt
	NoOrNil Stmt
}

type SFor struct {
	InitOrNil   Stmt // May be a SLocal or SExpr
	TestOrNil   Expr
	UpdateOrNil Expr
	Body        Stmt
}

type SForIn struct {
	Init  Stmt
	Value Expr
	Body  Stmt
}

type SForOf struct {
	Init  Stmt
	Value Expr
	Body  Stmt
}

type SWhile struct {
	Test Expr
	Body Stmt
}

type SDoWhile struct {
	Body Stmt
	Test Expr
}

type Catch struct {
	BindingOrNil Binding
	Block        []Stmt
	Loc          logger.Loc
}

type Finally struct {
	Block []Stmt
	Loc   logger.Loc
}

type STry struct {
	Block   []Stmt
	Catch   *Catch
	Finally *Finally
}

type Case struct {
	ValueOrNil Expr // If this is nil, this is "default" instead of "case"
	Body       []Stmt
}

type SSwitch struct {
	Test  Expr
	Cases []Case
}

type SBreak struct{}

type SContinue struct{}

func (*SBlock) isStmt()         {}
func (*SEmpty) isStmt()         {}
func (*SComment) isStmt()       {}
func (*SExportClause) isStmt()  {}
func (*SExportFrom) isStmt()    {}
func (*SExportDefault) isStmt() {}
func (*SExportStar) isStmt()    {}
func (*SImport) isStmt()        {}
func (*SExpr) isStmt()          {}
func (*SLocal) isStmt()         {}
func (*SFunction) isStmt()      {}
func (*SClass) isStmt()         {}
func (*SReturn) isStmt()        {}
func (*SThrow) isStmt()         {}
func (*SIf) isStmt()            {}
func (*SFor) isStmt()           {}
func (*SForIn) isStmt()         {}
func (*SForOf) isStmt()         {}
func (*SWhile) isStmt()         {}
func (*SDoWhile) isStmt()       {}
func (*STry) isStmt()           {}
func (*SSwitch) isStmt()        {}
func (*SBreak) isStmt()         {}
func (*SContinue) isStmt()      {}

type ClauseItem struct {
	Alias    string
	AliasLoc logger.Loc
	Name     LocRef
}

type Decl struct {
	Binding    Binding
	ValueOrNil Expr
}
