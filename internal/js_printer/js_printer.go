package js_printer

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/renamer"
	"github.com/esmerge/esmerge/internal/sourcemap"
)

var positiveInfinity = math.Inf(1)
var negativeInfinity = math.Inf(-1)

const hexChars = "0123456789ABCDEF"

type printer struct {
	symbols            js_ast.SymbolMap
	renamer            renamer.Renamer
	importRecords      []ast.ImportRecord
	importAliases      map[js_ast.Ref]js_ast.NamespaceAlias
	sourceIndex        ast.Index32
	js                 []byte
	options            Options
	stmtStart          int
	exportDefaultStart int
	arrowExprStart     int
	forOfInitStart     int
	prevOpEnd          int
	prevNumEnd         int
	prevOp             js_ast.OpCode
}

func (p *printer) print(text string) {
	p.js = append(p.js, text...)
}

func (p *printer) printIndent() {
	for i := 0; i < p.options.Indent; i++ {
		p.print("  ")
	}
}

func (p *printer) printSymbol(ref js_ast.Ref) {
	p.printSpaceBeforeIdentifier()
	p.print(p.renamer.NameForSymbol(ref))
}

func (p *printer) printClauseAlias(alias string) {
	if js_ast.IsIdentifier(alias) {
		p.printSpaceBeforeIdentifier()
		p.print(alias)
	} else {
		p.printQuotedUTF8(alias)
	}
}

// Strings are always printed with double quotes. Only the characters that
// can't appear in a string literal are escaped.
func (p *printer) printQuotedUTF8(text string) {
	p.js = append(p.js, '"')
	for _, c := range text {
		switch c {
		case '"':
			p.print("\\\"")
		case '\\':
			p.print("\\\\")
		case '\n':
			p.print("\\n")
		case '\r':
			p.print("\\r")
		case '\t':
			p.print("\\t")
		case '\b':
			p.print("\\b")
		case '\f':
			p.print("\\f")
		case '\v':
			p.print("\\v")
		case '\u2028', '\u2029':
			p.js = append(p.js, '\\', 'u', hexChars[c>>12], hexChars[(c>>8)&15], hexChars[(c>>4)&15], hexChars[c&15])
		default:
			if c < 0x20 || c == 0x7F {
				p.js = append(p.js, '\\', 'x', hexChars[c>>4], hexChars[c&15])
				continue
			}
			p.js = utf8.AppendRune(p.js, c)
		}
	}
	p.js = append(p.js, '"')
}

func (p *printer) printNumber(value float64, level js_ast.L) {
	absValue := math.Abs(value)

	if value != value {
		p.printSpaceBeforeIdentifier()
		p.print("NaN")
	} else if value == positiveInfinity || value == negativeInfinity {
		wrap := value == negativeInfinity && level >= js_ast.LPrefix
		if wrap {
			p.print("(")
		}
		if value == negativeInfinity {
			p.printSpaceBeforeOperator(js_ast.UnOpNeg)
			p.print("-")
		} else {
			p.printSpaceBeforeIdentifier()
		}
		p.print("Infinity")
		if wrap {
			p.print(")")
		}
	} else {
		if !math.Signbit(value) {
			p.printSpaceBeforeIdentifier()
			p.printNonNegativeFloat(absValue)

			// Remember the end of the latest number
			p.prevNumEnd = len(p.js)
		} else if level >= js_ast.LPrefix {
			// Expressions such as "(-1).toString" need to wrap negative numbers.
			// Instead of testing for "value < 0" we test for "signbit(value)" and
			// "!isNaN(value)" because we need this to be true for "-0" and "-0 < 0"
			// is false.
			p.print("(-")
			p.printNonNegativeFloat(absValue)
			p.print(")")
		} else {
			p.printSpaceBeforeOperator(js_ast.UnOpNeg)
			p.print("-")
			p.printNonNegativeFloat(absValue)

			// Remember the end of the latest number
			p.prevNumEnd = len(p.js)
		}
	}
}

func (p *printer) printNonNegativeFloat(absValue float64) {
	if absValue < 1000 {
		if asInt := int64(absValue); absValue == float64(asInt) {
			p.js = strconv.AppendInt(p.js, asInt, 10)
			return
		}
	}

	result := []byte(strconv.FormatFloat(absValue, 'g', -1, 64))

	// Simplify the exponent
	// "e+05" => "e5"
	// "e-05" => "e-5"
	if e := bytes.LastIndexByte(result, 'e'); e != -1 {
		from := e + 1
		to := from

		switch result[from] {
		case '+':
			// Strip off the leading "+"
			from++

		case '-':
			// Skip past the leading "-"
			to++
			from++
		}

		// Strip off leading zeros
		for from < len(result) && result[from] == '0' {
			from++
		}

		result = append(result[:to], result[from:]...)
	}

	p.js = append(p.js, result...)
}

func (p *printer) printBinding(binding js_ast.Binding) {
	switch b := binding.Data.(type) {
	case *js_ast.BMissing:

	case *js_ast.BIdentifier:
		p.printSymbol(b.Ref)

	case *js_ast.BArray:
		p.print("[")
		for i, item := range b.Items {
			if i != 0 {
				p.print(", ")
			}
			if b.HasSpread && i+1 == len(b.Items) {
				p.print("...")
			}
			p.printBinding(item.Binding)

			if item.DefaultValueOrNil.Data != nil {
				p.print(" = ")
				p.printExpr(item.DefaultValueOrNil, js_ast.LComma, 0)
			}

			// Make sure there's a comma after trailing missing items
			if _, ok := item.Binding.Data.(*js_ast.BMissing); ok && i == len(b.Items)-1 {
				p.print(",")
			}
		}
		p.print("]")

	case *js_ast.BObject:
		p.print("{")
		for i, property := range b.Properties {
			if i != 0 {
				p.print(",")
			}
			p.print(" ")

			if property.IsSpread {
				p.print("...")
			} else {
				if !property.IsComputed {
					// Use shorthand syntax when the binding keeps the key's name
					if str, ok := property.Key.Data.(*js_ast.EString); ok {
						if id, ok := property.Value.Data.(*js_ast.BIdentifier); ok && p.renamer.NameForSymbol(id.Ref) == str.Value {
							p.printSymbol(id.Ref)
							if property.DefaultValueOrNil.Data != nil {
								p.print(" = ")
								p.printExpr(property.DefaultValueOrNil, js_ast.LComma, 0)
							}
							continue
						}
					}
				}
				p.printPropertyKey(property.Key, property.IsComputed)
				p.print(": ")
			}
			p.printBinding(property.Value)

			if property.DefaultValueOrNil.Data != nil {
				p.print(" = ")
				p.printExpr(property.DefaultValueOrNil, js_ast.LComma, 0)
			}
		}
		if len(b.Properties) > 0 {
			p.print(" ")
		}
		p.print("}")

	default:
		panic(fmt.Sprintf("Unexpected binding of type %T", binding.Data))
	}
}

func (p *printer) printSpaceBeforeOperator(next js_ast.OpCode) {
	if p.prevOpEnd == len(p.js) {
		prev := p.prevOp

		// "+ + y" => "+ +y"
		// "+ ++ y" => "+ ++y"
		// "x + + y" => "x+ +y"
		// "x ++ + y" => "x+++y"
		// "x + ++ y" => "x+ ++y"
		// "-- >" => "-- >"
		// "< ! --" => "<! --"
		if ((prev == js_ast.BinOpAdd || prev == js_ast.UnOpPos) && (next == js_ast.BinOpAdd || next == js_ast.UnOpPos || next == js_ast.UnOpPreInc)) ||
			((prev == js_ast.BinOpSub || prev == js_ast.UnOpNeg) && (next == js_ast.BinOpSub || next == js_ast.UnOpNeg || next == js_ast.UnOpPreDec)) ||
			(prev == js_ast.UnOpPostDec && next == js_ast.BinOpGt) ||
			(prev == js_ast.UnOpNot && next == js_ast.UnOpPreDec && len(p.js) > 1 && p.js[len(p.js)-2] == '<') {
			p.print(" ")
		}
	}
}

func (p *printer) printSemicolonAfterStatement() {
	p.print(";\n")
}

func (p *printer) printSpaceBeforeIdentifier() {
	buffer := p.js
	n := len(buffer)
	if n > 0 && js_ast.IsIdentifierContinue(rune(buffer[n-1])) {
		p.print(" ")
	}
}

func (p *printer) printFnArgs(args []js_ast.Arg, hasRestArg bool) {
	p.print("(")
	for i, arg := range args {
		if i != 0 {
			p.print(", ")
		}
		if hasRestArg && i+1 == len(args) {
			p.print("...")
		}
		p.printBinding(arg.Binding)

		if arg.DefaultOrNil.Data != nil {
			p.print(" = ")
			p.printExpr(arg.DefaultOrNil, js_ast.LComma, 0)
		}
	}
	p.print(")")
}

func (p *printer) printFn(fn js_ast.Fn) {
	p.printFnArgs(fn.Args, fn.HasRestArg)
	p.print(" ")
	p.printBlock(fn.Body.Stmts)
}

func (p *printer) printClass(class js_ast.Class) {
	if class.ExtendsOrNil.Data != nil {
		p.print(" extends ")
		p.printExpr(class.ExtendsOrNil, js_ast.LNew-1, 0)
	}
	p.print(" {")
	if len(class.Properties) == 0 {
		p.print("}")
		return
	}
	p.print("\n")
	p.options.Indent++

	for _, item := range class.Properties {
		p.printIndent()
		p.printProperty(item)

		// Need semicolons after class fields
		if !item.IsMethod {
			p.printSemicolonAfterStatement()
		} else {
			p.print("\n")
		}
	}

	p.options.Indent--
	p.printIndent()
	p.print("}")
}

func (p *printer) printPropertyKey(key js_ast.Expr, isComputed bool) {
	if isComputed {
		p.print("[")
		p.printExpr(key, js_ast.LComma, 0)
		p.print("]")
		return
	}

	switch k := key.Data.(type) {
	case *js_ast.EString:
		if js_ast.IsIdentifier(k.Value) {
			p.printSpaceBeforeIdentifier()
			p.print(k.Value)
		} else {
			p.printQuotedUTF8(k.Value)
		}

	case *js_ast.ENumber:
		p.printNumber(k.Value, js_ast.LLowest)

	default:
		panic("Internal error")
	}
}

func (p *printer) printProperty(item js_ast.Property) {
	if item.Kind == js_ast.PropertySpread {
		p.print("...")
		p.printExpr(item.ValueOrNil, js_ast.LComma, 0)
		return
	}

	if item.IsStatic {
		p.print("static ")
	}

	switch item.Kind {
	case js_ast.PropertyGet:
		p.printSpaceBeforeIdentifier()
		p.print("get ")

	case js_ast.PropertySet:
		p.printSpaceBeforeIdentifier()
		p.print("set ")
	}

	if item.IsMethod {
		fn := item.ValueOrNil.Data.(*js_ast.EFunction)
		if fn.Fn.IsAsync {
			p.printSpaceBeforeIdentifier()
			p.print("async ")
		}
		p.printPropertyKey(item.Key, item.IsComputed)
		p.printFn(fn.Fn)
		return
	}

	// Use shorthand syntax when the value keeps the key's name
	if str, ok := item.Key.Data.(*js_ast.EString); ok && !item.IsComputed && item.ValueOrNil.Data != nil {
		if id, ok := item.ValueOrNil.Data.(*js_ast.EIdentifier); ok && p.canPrintShorthand(str.Value, id.Ref) {
			p.printSymbol(id.Ref)
			if item.InitializerOrNil.Data != nil {
				p.print(" = ")
				p.printExpr(item.InitializerOrNil, js_ast.LComma, 0)
			}
			return
		}
	}

	p.printPropertyKey(item.Key, item.IsComputed)

	if item.ValueOrNil.Data != nil {
		p.print(": ")
		p.printExpr(item.ValueOrNil, js_ast.LComma, 0)
	}

	if item.InitializerOrNil.Data != nil {
		p.print(" = ")
		p.printExpr(item.InitializerOrNil, js_ast.LComma, 0)
	}
}

func (p *printer) canPrintShorthand(key string, ref js_ast.Ref) bool {
	ref = js_ast.FollowSymbols(p.symbols, ref)
	symbol := p.symbols.Get(ref)
	if symbol.NamespaceAlias != nil || symbol.ImportItemStatus == js_ast.ImportItemMissing {
		return false
	}
	if _, ok := p.importAliases[ref]; ok {
		return false
	}
	return p.renamer.NameForSymbol(ref) == key
}

func (p *printer) printRequireOrImportExpr(importRecordIndex uint32, isDynamic bool, level js_ast.L, flags printExprFlags) {
	record := &p.importRecords[importRecordIndex]
	wrap := level >= js_ast.LNew || (flags&forbidCall) != 0
	if wrap {
		p.print("(")
	}

	// Imports of modules outside of the bundle are left alone
	if !record.SourceIndex.IsValid() || p.options.RequireOrImportMetaForSource == nil {
		p.printSpaceBeforeIdentifier()
		if isDynamic {
			p.print("import(")
		} else {
			p.print("require(")
		}
		p.printQuotedUTF8(record.Path.Text)
		p.print(")")
		if wrap {
			p.print(")")
		}
		return
	}

	meta := p.options.RequireOrImportMetaForSource(record.SourceIndex.GetIndex())

	// "import()" of a bundled module resolves to its namespace object
	if isDynamic {
		p.printSpaceBeforeIdentifier()
		p.print("Promise.resolve().then(() => ")
	}

	if meta.ExportsRef != js_ast.InvalidRef {
		// "(init_foo(), __toCommonJS(foo_exports))"
		// "(init_foo(), foo_exports)"
		p.print("(")
		p.printIdentifier(meta.WrapperRef, js_ast.LPostfix, isCallTarget)
		p.print("(), ")
		if isDynamic {
			p.printIdentifier(meta.ExportsRef, js_ast.LComma, 0)
		} else {
			p.printIdentifier(p.options.ToCommonJSRef, js_ast.LPostfix, isCallTarget)
			p.print("(")
			p.printIdentifier(meta.ExportsRef, js_ast.LComma, 0)
			p.print(")")
		}
		p.print(")")
	} else {
		// "require_foo()"
		// "__toESM(require_foo())"
		if isDynamic {
			p.printIdentifier(p.options.ToESMRef, js_ast.LPostfix, isCallTarget)
			p.print("(")
		}
		p.printIdentifier(meta.WrapperRef, js_ast.LPostfix, isCallTarget)
		p.print("()")
		if isDynamic {
			if p.options.NodeInterop {
				p.print(", 1")
			}
			p.print(")")
		}
	}

	if isDynamic {
		p.print(")")
	}
	if wrap {
		p.print(")")
	}
}

// Prints a reference to a symbol, which may have been merged with a symbol
// from another module or another chunk
func (p *printer) printIdentifier(ref js_ast.Ref, level js_ast.L, flags printExprFlags) {
	ref = js_ast.FollowSymbols(p.symbols, ref)
	symbol := p.symbols.Get(ref)

	if symbol.ImportItemStatus == js_ast.ImportItemMissing {
		p.printUndefined(level)
	} else if alias, ok := p.importAliases[ref]; ok {
		p.printNamespaceAlias(alias, flags)
	} else if symbol.NamespaceAlias != nil {
		p.printNamespaceAlias(*symbol.NamespaceAlias, flags)
	} else {
		p.printSymbol(ref)
	}
}

func (p *printer) printNamespaceAlias(alias js_ast.NamespaceAlias, flags printExprFlags) {
	// Calling a property of a namespace must not pass the namespace as "this"
	wrap := (flags & isCallTarget) != 0
	if wrap {
		p.print("(0, ")
	}
	p.printIdentifier(alias.NamespaceRef, js_ast.LPostfix, 0)
	if js_ast.IsIdentifier(alias.Alias) {
		p.print(".")
		p.print(alias.Alias)
	} else {
		p.print("[")
		p.printQuotedUTF8(alias.Alias)
		p.print("]")
	}
	if wrap {
		p.print(")")
	}
}

func (p *printer) printUndefined(level js_ast.L) {
	if level >= js_ast.LPrefix {
		p.print("(void 0)")
	} else {
		p.printSpaceBeforeIdentifier()
		p.print("void 0")
	}
}

type printExprFlags uint8

const (
	forbidCall printExprFlags = 1 << iota
	forbidIn
	isCallTarget
)

func (p *printer) printArgs(args []js_ast.Expr) {
	p.print("(")
	for i, arg := range args {
		if i != 0 {
			p.print(", ")
		}
		p.printExpr(arg, js_ast.LComma, 0)
	}
	p.print(")")
}

func (p *printer) printExpr(expr js_ast.Expr, level js_ast.L, flags printExprFlags) {
	switch e := expr.Data.(type) {
	case *js_ast.EMissing:

	case *js_ast.EUndefined:
		p.printUndefined(level)

	case *js_ast.ESuper:
		p.printSpaceBeforeIdentifier()
		p.print("super")

	case *js_ast.ENull:
		p.printSpaceBeforeIdentifier()
		p.print("null")

	case *js_ast.EThis:
		p.printSpaceBeforeIdentifier()
		p.print("this")

	case *js_ast.ESpread:
		p.print("...")
		p.printExpr(e.Value, js_ast.LComma, 0)

	case *js_ast.ENew:
		wrap := level >= js_ast.LCall
		if wrap {
			p.print("(")
		}
		p.printSpaceBeforeIdentifier()
		p.print("new ")
		p.printExpr(e.Target, js_ast.LNew, forbidCall)
		p.printArgs(e.Args)
		if wrap {
			p.print(")")
		}

	case *js_ast.ECall:
		wrap := level >= js_ast.LNew || (flags&forbidCall) != 0
		if wrap {
			p.print("(")
		}
		p.printExpr(e.Target, js_ast.LPostfix, isCallTarget)
		if e.OptionalChain {
			p.print("?.")
		}
		p.printArgs(e.Args)
		if wrap {
			p.print(")")
		}

	case *js_ast.ERequireString:
		p.printRequireOrImportExpr(e.ImportRecordIndex, false, level, flags)

	case *js_ast.EImportString:
		p.printRequireOrImportExpr(e.ImportRecordIndex, true, level, flags)

	case *js_ast.EImportCall:
		wrap := level >= js_ast.LNew || (flags&forbidCall) != 0
		if wrap {
			p.print("(")
		}
		p.printSpaceBeforeIdentifier()
		p.print("import(")
		p.printExpr(e.Expr, js_ast.LComma, 0)
		p.print(")")
		if wrap {
			p.print(")")
		}

	case *js_ast.EDot:
		p.printExpr(e.Target, js_ast.LPostfix, flags&forbidCall)
		if js_ast.IsIdentifier(e.Name) {
			if !e.OptionalChain && p.prevNumEnd == len(p.js) {
				// "1.toString" is a syntax error, so print "1 .toString" instead
				p.print(" ")
			}
			if e.OptionalChain {
				p.print("?.")
			} else {
				p.print(".")
			}
			p.print(e.Name)
		} else {
			if e.OptionalChain {
				p.print("?.")
			}
			p.print("[")
			p.printQuotedUTF8(e.Name)
			p.print("]")
		}

	case *js_ast.EIndex:
		p.printExpr(e.Target, js_ast.LPostfix, flags&forbidCall)
		if e.OptionalChain {
			p.print("?.")
		}
		p.print("[")
		p.printExpr(e.Index, js_ast.LLowest, 0)
		p.print("]")

	case *js_ast.EIf:
		wrap := level >= js_ast.LConditional
		if wrap {
			p.print("(")
			flags &= ^forbidIn
		}
		p.printExpr(e.Test, js_ast.LConditional, flags&forbidIn)
		p.print(" ? ")
		p.printExpr(e.Yes, js_ast.LYield, 0)
		p.print(" : ")
		p.printExpr(e.No, js_ast.LYield, flags&forbidIn)
		if wrap {
			p.print(")")
		}

	case *js_ast.EArrow:
		wrap := level >= js_ast.LAssign

		if wrap {
			p.print("(")
		}
		if e.IsAsync {
			p.printSpaceBeforeIdentifier()
			p.print("async ")
		}

		p.printFnArgs(e.Args, e.HasRestArg)
		p.print(" => ")

		wasPrinted := false
		if len(e.Body.Stmts) == 1 && e.PreferExpr {
			if s, ok := e.Body.Stmts[0].Data.(*js_ast.SReturn); ok && s.ValueOrNil.Data != nil {
				p.arrowExprStart = len(p.js)
				p.printExpr(s.ValueOrNil, js_ast.LComma, flags&forbidIn)
				wasPrinted = true
			}
		}
		if !wasPrinted {
			p.printBlock(e.Body.Stmts)
		}
		if wrap {
			p.print(")")
		}

	case *js_ast.EFunction:
		n := len(p.js)
		wrap := p.stmtStart == n || p.exportDefaultStart == n
		if wrap {
			p.print("(")
		}
		p.printSpaceBeforeIdentifier()
		if e.Fn.IsAsync {
			p.print("async ")
		}
		p.print("function")
		if e.Fn.Name != nil {
			p.printSymbol(e.Fn.Name.Ref)
		}
		p.printFn(e.Fn)
		if wrap {
			p.print(")")
		}

	case *js_ast.EClass:
		n := len(p.js)
		wrap := p.stmtStart == n || p.exportDefaultStart == n
		if wrap {
			p.print("(")
		}
		p.printSpaceBeforeIdentifier()
		p.print("class")
		if e.Class.Name != nil {
			p.printSymbol(e.Class.Name.Ref)
		}
		p.printClass(e.Class)
		if wrap {
			p.print(")")
		}

	case *js_ast.EArray:
		p.print("[")
		for i, item := range e.Items {
			if i != 0 {
				p.print(", ")
			}
			p.printExpr(item, js_ast.LComma, 0)

			// Make sure there's a comma after trailing missing items
			if _, ok := item.Data.(*js_ast.EMissing); ok && i == len(e.Items)-1 {
				p.print(",")
			}
		}
		p.print("]")

	case *js_ast.EObject:
		n := len(p.js)
		wrap := p.stmtStart == n || p.arrowExprStart == n
		if wrap {
			p.print("(")
		}
		p.print("{")
		for i, item := range e.Properties {
			if i != 0 {
				p.print(",")
			}
			p.print(" ")
			p.printProperty(item)
		}
		if len(e.Properties) > 0 {
			p.print(" ")
		}
		p.print("}")
		if wrap {
			p.print(")")
		}

	case *js_ast.EBoolean:
		p.printSpaceBeforeIdentifier()
		if e.Value {
			p.print("true")
		} else {
			p.print("false")
		}

	case *js_ast.EString:
		p.printQuotedUTF8(e.Value)

	case *js_ast.ENumber:
		p.printNumber(e.Value, level)

	case *js_ast.EIdentifier:
		p.printIdentifier(e.Ref, level, flags)

	case *js_ast.EAwait:
		wrap := level >= js_ast.LPrefix

		if wrap {
			p.print("(")
		}

		p.printSpaceBeforeIdentifier()
		p.print("await ")
		p.printExpr(e.Value, js_ast.LPrefix-1, 0)

		if wrap {
			p.print(")")
		}

	case *js_ast.EUnary:
		entry := js_ast.OpTable[e.Op]
		wrap := level >= entry.Level

		if wrap {
			p.print("(")
		}

		if !e.Op.IsPrefix() {
			p.printExpr(e.Value, js_ast.LPostfix-1, 0)
		}

		if entry.IsKeyword {
			p.printSpaceBeforeIdentifier()
			p.print(entry.Text)
			p.print(" ")
		} else {
			p.printSpaceBeforeOperator(e.Op)
			p.print(entry.Text)
			p.prevOp = e.Op
			p.prevOpEnd = len(p.js)
		}

		if e.Op.IsPrefix() {
			p.printExpr(e.Value, js_ast.LPrefix-1, 0)
		}

		if wrap {
			p.print(")")
		}

	case *js_ast.EBinary:
		entry := js_ast.OpTable[e.Op]
		wrap := level >= entry.Level || (e.Op == js_ast.BinOpIn && (flags&forbidIn) != 0)

		// Destructuring assignments must be parenthesized
		if n := len(p.js); p.stmtStart == n || p.arrowExprStart == n {
			if _, ok := e.Left.Data.(*js_ast.EObject); ok {
				wrap = true
			}
		}

		if wrap {
			p.print("(")
			flags &= ^forbidIn
		}

		leftLevel := entry.Level - 1
		rightLevel := entry.Level - 1

		if e.Op.IsRightAssociative() {
			leftLevel = entry.Level
		}
		if e.Op.IsLeftAssociative() {
			rightLevel = entry.Level
		}

		switch e.Op {
		case js_ast.BinOpNullishCoalescing:
			// "??" can't directly contain "||" or "&&" without being wrapped in parentheses
			if left, ok := e.Left.Data.(*js_ast.EBinary); ok && (left.Op == js_ast.BinOpLogicalOr || left.Op == js_ast.BinOpLogicalAnd) {
				leftLevel = js_ast.LPrefix
			}
			if right, ok := e.Right.Data.(*js_ast.EBinary); ok && (right.Op == js_ast.BinOpLogicalOr || right.Op == js_ast.BinOpLogicalAnd) {
				rightLevel = js_ast.LPrefix
			}

		case js_ast.BinOpPow:
			// "**" can't contain certain unary expressions
			if left, ok := e.Left.Data.(*js_ast.EUnary); ok && left.Op.UnaryAssignTarget() == js_ast.AssignTargetNone {
				leftLevel = js_ast.LCall
			} else if _, ok := e.Left.Data.(*js_ast.EAwait); ok {
				leftLevel = js_ast.LCall
			} else if _, ok := e.Left.Data.(*js_ast.EUndefined); ok {
				// Undefined is printed as "void 0"
				leftLevel = js_ast.LCall
			} else if _, ok := e.Left.Data.(*js_ast.ENumber); ok {
				// Negative numbers are printed using a unary operator
				leftLevel = js_ast.LCall
			}
		}

		p.printExpr(e.Left, leftLevel, flags&forbidIn)

		if e.Op != js_ast.BinOpComma {
			p.print(" ")
		}

		if entry.IsKeyword {
			p.printSpaceBeforeIdentifier()
			p.print(entry.Text)
		} else {
			p.printSpaceBeforeOperator(e.Op)
			p.print(entry.Text)
			p.prevOp = e.Op
			p.prevOpEnd = len(p.js)
		}

		p.print(" ")
		p.printExpr(e.Right, rightLevel, flags&forbidIn)

		if wrap {
			p.print(")")
		}

	default:
		panic(fmt.Sprintf("Unexpected expression of type %T", expr.Data))
	}
}

func (p *printer) printDeclStmt(isExport bool, keyword string, decls []js_ast.Decl) {
	p.printIndent()
	if isExport {
		p.print("export ")
	}
	p.printDecls(keyword, decls, 0)
	p.printSemicolonAfterStatement()
}

func (p *printer) printForLoopInit(init js_ast.Stmt, flags printExprFlags) {
	switch s := init.Data.(type) {
	case *js_ast.SExpr:
		p.printExpr(s.Value, js_ast.LLowest, flags)
	case *js_ast.SLocal:
		p.printDecls(localKeyword(s.Kind), s.Decls, flags)
	default:
		panic("Internal error")
	}
}

func localKeyword(kind js_ast.LocalKind) string {
	switch kind {
	case js_ast.LocalLet:
		return "let"
	case js_ast.LocalConst:
		return "const"
	default:
		return "var"
	}
}

func (p *printer) printDecls(keyword string, decls []js_ast.Decl, flags printExprFlags) {
	p.print(keyword)
	p.print(" ")

	for i, decl := range decls {
		if i != 0 {
			p.print(", ")
		}
		p.printBinding(decl.Binding)

		if decl.ValueOrNil.Data != nil {
			p.print(" = ")
			p.printExpr(decl.ValueOrNil, js_ast.LComma, flags)
		}
	}
}

func (p *printer) printBody(body js_ast.Stmt) {
	if block, ok := body.Data.(*js_ast.SBlock); ok {
		p.print(" ")
		p.printBlock(block.Stmts)
		p.print("\n")
	} else {
		p.print("\n")
		p.options.Indent++
		p.printStmt(body)
		p.options.Indent--
	}
}

func (p *printer) printBlock(stmts []js_ast.Stmt) {
	p.print("{")
	if len(stmts) == 0 {
		p.print("}")
		return
	}
	p.print("\n")

	p.options.Indent++
	for _, stmt := range stmts {
		p.printStmt(stmt)
	}
	p.options.Indent--

	p.printIndent()
	p.print("}")
}

func wrapToAvoidAmbiguousElse(s js_ast.S) bool {
	for {
		switch current := s.(type) {
		case *js_ast.SIf:
			if current.NoOrNil.Data == nil {
				return true
			}
			s = current.NoOrNil.Data

		case *js_ast.SFor:
			s = current.Body.Data

		case *js_ast.SForIn:
			s = current.Body.Data

		case *js_ast.SForOf:
			s = current.Body.Data

		case *js_ast.SWhile:
			s = current.Body.Data

		default:
			return false
		}
	}
}

func (p *printer) printIf(s *js_ast.SIf) {
	p.print("if (")
	p.printExpr(s.Test, js_ast.LLowest, 0)
	p.print(")")

	if yes, ok := s.Yes.Data.(*js_ast.SBlock); ok {
		p.print(" ")
		p.printBlock(yes.Stmts)

		if s.NoOrNil.Data != nil {
			p.print(" ")
		} else {
			p.print("\n")
		}
	} else if s.NoOrNil.Data != nil && wrapToAvoidAmbiguousElse(s.Yes.Data) {
		p.print(" {\n")
		p.options.Indent++
		p.printStmt(s.Yes)
		p.options.Indent--
		p.printIndent()
		p.print("} ")
	} else {
		p.print("\n")
		p.options.Indent++
		p.printStmt(s.Yes)
		p.options.Indent--

		if s.NoOrNil.Data != nil {
			p.printIndent()
		}
	}

	if s.NoOrNil.Data != nil {
		p.print("else")

		if no, ok := s.NoOrNil.Data.(*js_ast.SBlock); ok {
			p.print(" ")
			p.printBlock(no.Stmts)
			p.print("\n")
		} else if no, ok := s.NoOrNil.Data.(*js_ast.SIf); ok {
			p.print(" ")
			p.printIf(no)
		} else {
			p.print("\n")
			p.options.Indent++
			p.printStmt(s.NoOrNil)
			p.options.Indent--
		}
	}
}

func (p *printer) printIndentedComment(text string) {
	p.printIndent()
	p.print("// ")
	p.print(text)
	p.print("\n")
}

func (p *printer) printPath(importRecordIndex uint32) {
	p.print(" from ")
	p.printQuotedUTF8(p.importRecords[importRecordIndex].Path.Text)
}

func (p *printer) printClauseItems(items []js_ast.ClauseItem, isExport bool) {
	p.print("{")
	for i, item := range items {
		if i != 0 {
			p.print(",")
		}
		p.print(" ")

		if isExport {
			// "export { local as alias }"
			name := p.renamer.NameForSymbol(item.Name.Ref)
			p.print(name)
			if name != item.Alias {
				p.print(" as ")
				p.printClauseAlias(item.Alias)
			}
		} else {
			// "import { alias as local }"
			name := p.renamer.NameForSymbol(item.Name.Ref)
			p.printClauseAlias(item.Alias)
			if name != item.Alias {
				p.print(" as ")
				p.print(name)
			}
		}
	}
	if len(items) > 0 {
		p.print(" ")
	}
	p.print("}")
}

func (p *printer) addSourceMapping(loc logger.Loc) {
	if p.options.SourceMap != nil && p.sourceIndex.IsValid() {
		p.options.SourceMap.AddMapping(p.sourceIndex.GetIndex(), loc, p.js)
	}
}

func (p *printer) printStmt(stmt js_ast.Stmt) {
	if _, ok := stmt.Data.(*js_ast.SComment); !ok {
		p.addSourceMapping(stmt.Loc)
	}

	switch s := stmt.Data.(type) {
	case *js_ast.SComment:
		p.printIndentedComment(s.Text)

	case *js_ast.SFunction:
		p.printIndent()
		if s.IsExport {
			p.print("export ")
		}
		if s.Fn.IsAsync {
			p.print("async ")
		}
		p.print("function")
		p.printSymbol(s.Fn.Name.Ref)
		p.printFn(s.Fn)
		p.print("\n")

	case *js_ast.SClass:
		p.printIndent()
		if s.IsExport {
			p.print("export ")
		}
		p.print("class")
		p.printSymbol(s.Class.Name.Ref)
		p.printClass(s.Class)
		p.print("\n")

	case *js_ast.SEmpty:
		p.printIndent()
		p.print(";\n")

	case *js_ast.SExportDefault:
		p.printIndent()
		p.print("export default ")

		switch s2 := s.Value.Data.(type) {
		case *js_ast.SExpr:
			p.exportDefaultStart = len(p.js)
			p.printExpr(s2.Value, js_ast.LComma, 0)
			p.printSemicolonAfterStatement()
			return

		case *js_ast.SFunction:
			if s2.Fn.IsAsync {
				p.print("async ")
			}
			p.print("function")
			if s2.Fn.Name != nil {
				p.printSymbol(s2.Fn.Name.Ref)
			}
			p.printFn(s2.Fn)
			p.print("\n")

		case *js_ast.SClass:
			p.print("class")
			if s2.Class.Name != nil {
				p.printSymbol(s2.Class.Name.Ref)
			}
			p.printClass(s2.Class)
			p.print("\n")

		default:
			panic("Internal error")
		}

	case *js_ast.SExportStar:
		p.printIndent()
		p.print("export *")
		if s.Alias != nil {
			p.print(" as ")
			p.printClauseAlias(s.Alias.Alias)
		}
		p.printPath(s.ImportRecordIndex)
		p.printSemicolonAfterStatement()

	case *js_ast.SExportClause:
		p.printIndent()
		p.print("export ")
		p.printClauseItems(s.Items, true)
		p.printSemicolonAfterStatement()

	case *js_ast.SExportFrom:
		p.printIndent()
		p.print("export {")
		for i, item := range s.Items {
			if i != 0 {
				p.print(",")
			}
			p.print(" ")
			p.printClauseAlias(item.Name.Name)
			if item.Name.Name != item.Alias {
				p.print(" as ")
				p.printClauseAlias(item.Alias)
			}
		}
		if len(s.Items) > 0 {
			p.print(" ")
		}
		p.print("}")
		p.printPath(s.ImportRecordIndex)
		p.printSemicolonAfterStatement()

	case *js_ast.SLocal:
		p.printDeclStmt(s.IsExport, localKeyword(s.Kind), s.Decls)

	case *js_ast.SIf:
		p.printIndent()
		p.printIf(s)

	case *js_ast.SDoWhile:
		p.printIndent()
		p.print("do")
		if block, ok := s.Body.Data.(*js_ast.SBlock); ok {
			p.print(" ")
			p.printBlock(block.Stmts)
			p.print(" ")
		} else {
			p.print("\n")
			p.options.Indent++
			p.printStmt(s.Body)
			p.options.Indent--
			p.printIndent()
		}
		p.print("while (")
		p.printExpr(s.Test, js_ast.LLowest, 0)
		p.print(")")
		p.printSemicolonAfterStatement()

	case *js_ast.SForIn:
		p.printIndent()
		p.print("for (")
		p.printForLoopInit(s.Init, forbidIn)
		p.print(" in ")
		p.printExpr(s.Value, js_ast.LLowest, 0)
		p.print(")")
		p.printBody(s.Body)

	case *js_ast.SForOf:
		p.printIndent()
		p.print("for (")
		p.forOfInitStart = len(p.js)
		p.printForLoopInit(s.Init, 0)
		p.print(" of ")
		p.printExpr(s.Value, js_ast.LComma, 0)
		p.print(")")
		p.printBody(s.Body)

	case *js_ast.SWhile:
		p.printIndent()
		p.print("while (")
		p.printExpr(s.Test, js_ast.LLowest, 0)
		p.print(")")
		p.printBody(s.Body)

	case *js_ast.SFor:
		p.printIndent()
		p.print("for (")
		if s.InitOrNil.Data != nil {
			p.printForLoopInit(s.InitOrNil, forbidIn)
		}
		p.print(";")
		if s.TestOrNil.Data != nil {
			p.print(" ")
			p.printExpr(s.TestOrNil, js_ast.LLowest, 0)
		}
		p.print(";")
		if s.UpdateOrNil.Data != nil {
			p.print(" ")
			p.printExpr(s.UpdateOrNil, js_ast.LLowest, 0)
		}
		p.print(")")
		p.printBody(s.Body)

	case *js_ast.STry:
		p.printIndent()
		p.print("try ")
		p.printBlock(s.Block)

		if s.Catch != nil {
			p.print(" catch")
			if s.Catch.BindingOrNil.Data != nil {
				p.print(" (")
				p.printBinding(s.Catch.BindingOrNil)
				p.print(")")
			}
			p.print(" ")
			p.printBlock(s.Catch.Block)
		}

		if s.Finally != nil {
			p.print(" finally ")
			p.printBlock(s.Finally.Block)
		}

		p.print("\n")

	case *js_ast.SSwitch:
		p.printIndent()
		p.print("switch (")
		p.printExpr(s.Test, js_ast.LLowest, 0)
		p.print(") {\n")
		p.options.Indent++

		for _, c := range s.Cases {
			p.printIndent()
			if c.ValueOrNil.Data != nil {
				p.print("case ")
				p.printExpr(c.ValueOrNil, js_ast.LLowest, 0)
				p.print(":")
			} else {
				p.print("default:")
			}

			if len(c.Body) == 1 {
				if block, ok := c.Body[0].Data.(*js_ast.SBlock); ok {
					p.print(" ")
					p.printBlock(block.Stmts)
					p.print("\n")
					continue
				}
			}

			p.print("\n")
			p.options.Indent++
			for _, stmt := range c.Body {
				p.printStmt(stmt)
			}
			p.options.Indent--
		}

		p.options.Indent--
		p.printIndent()
		p.print("}\n")

	case *js_ast.SImport:
		itemCount := 0

		p.printIndent()
		p.print("import ")

		if s.DefaultName != nil {
			p.printSymbol(s.DefaultName.Ref)
			itemCount++
		}

		if s.StarNameLoc != nil {
			if itemCount > 0 {
				p.print(", ")
			}
			p.print("* as ")
			p.printSymbol(s.NamespaceRef)
			itemCount++
		}

		if s.Items != nil {
			if itemCount > 0 {
				p.print(", ")
			}
			p.printClauseItems(*s.Items, false)
			itemCount++
		}

		if itemCount > 0 {
			p.print(" from ")
		}

		p.printQuotedUTF8(p.importRecords[s.ImportRecordIndex].Path.Text)
		p.printSemicolonAfterStatement()

	case *js_ast.SBlock:
		p.printIndent()
		p.printBlock(s.Stmts)
		p.print("\n")

	case *js_ast.SBreak:
		p.printIndent()
		p.print("break")
		p.printSemicolonAfterStatement()

	case *js_ast.SContinue:
		p.printIndent()
		p.print("continue")
		p.printSemicolonAfterStatement()

	case *js_ast.SReturn:
		p.printIndent()
		p.print("return")
		if s.ValueOrNil.Data != nil {
			p.print(" ")
			p.printExpr(s.ValueOrNil, js_ast.LLowest, 0)
		}
		p.printSemicolonAfterStatement()

	case *js_ast.SThrow:
		p.printIndent()
		p.print("throw ")
		p.printExpr(s.Value, js_ast.LLowest, 0)
		p.printSemicolonAfterStatement()

	case *js_ast.SExpr:
		p.printIndent()
		p.stmtStart = len(p.js)
		p.printExpr(s.Value, js_ast.LLowest, 0)
		p.printSemicolonAfterStatement()

	default:
		panic(fmt.Sprintf("Unexpected statement of type %T", stmt.Data))
	}
}

// What a "require()" or an inlined "import()" of a bundled module turns into
type RequireOrImportMeta struct {
	// "require_foo" or "init_foo"
	WrapperRef js_ast.Ref

	// Valid if the module is an ES module, in which case its namespace object
	// is used after calling the wrapper
	ExportsRef js_ast.Ref
}

type Options struct {
	Indent int

	// If nil, "require()" and "import()" are always printed as written
	RequireOrImportMetaForSource func(uint32) RequireOrImportMeta

	// The runtime helpers used by "require()" and "import()" of bundled
	// modules
	ToCommonJSRef js_ast.Ref
	ToESMRef      js_ast.Ref

	// If true, the default export of a CommonJS module loaded with "import()"
	// is always "module.exports"
	NodeInterop bool

	// Receives the original location of every statement printed from a part
	// with a source index
	SourceMap *sourcemap.Builder
}

func Print(tree js_ast.MergedAST, r renamer.Renamer, options Options) []byte {
	p := &printer{
		symbols:            tree.Symbols,
		renamer:            r,
		importAliases:      tree.ImportAliases,
		options:            options,
		stmtStart:          -1,
		exportDefaultStart: -1,
		arrowExprStart:     -1,
		forOfInitStart:     -1,
		prevOpEnd:          -1,
		prevNumEnd:         -1,
	}

	if tree.Hashbang != "" {
		p.print(tree.Hashbang)
		p.print("\n")
	}

	for _, part := range tree.Parts {
		p.importRecords = part.ImportRecords
		p.sourceIndex = part.SourceIndex
		for _, stmt := range part.Stmts {
			p.printStmt(stmt)
		}
	}

	return p.js
}
