package js_parser

import (
	"fmt"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/js_lexer"
	"github.com/esmerge/esmerge/internal/logger"
)

// This parser produces a syntax tree only. Identifiers carry their names and
// an invalid ref. The scope analyzer binds them to symbols, splits the module
// into parts, and converts "require()" and "import()" calls into import
// records afterward. Import records for import and export statements are
// created here since those are purely syntactic.
type parser struct {
	log           logger.Log
	source        logger.Source
	lexer         js_lexer.Lexer
	importRecords []ast.ImportRecord

	hasES6Imports bool
	hasES6Exports bool

	// Controls whether "in" is parsed as an operator, which it isn't in the
	// initializer of a "for" loop
	allowIn bool

	fnDepth int
	isAsync bool
}

type parseStmtOpts struct {
	isModuleScope bool
	isExport      bool
}

func Parse(log logger.Log, source logger.Source, hint js_ast.ModuleFormat) (result js_ast.AST, ok bool) {
	ok = true
	defer func() {
		r := recover()
		if _, isLexerPanic := r.(js_lexer.LexerPanic); isLexerPanic {
			ok = false
		} else if r != nil {
			panic(r)
		}
	}()

	p := newParser(log, source)

	// Consume a leading hashbang comment
	hashbang := ""
	if p.lexer.Token == js_lexer.THashbang {
		hashbang = p.lexer.Identifier
		p.lexer.Next()
	}

	stmts := p.parseStmtsUpTo(js_lexer.TEndOfFile, parseStmtOpts{isModuleScope: true})

	// Stop now if there were errors that didn't panic
	if log.HasErrors() {
		ok = false
	}

	result = js_ast.AST{
		Hashbang:      hashbang,
		Parts:         []js_ast.Part{{Stmts: stmts}},
		ImportRecords: p.importRecords,
		HasES6Imports: p.hasES6Imports,
		HasES6Exports: p.hasES6Exports,
		ExportsRef:    js_ast.InvalidRef,
		ModuleRef:     js_ast.InvalidRef,
		WrapperRef:    js_ast.InvalidRef,
	}
	return
}

func newParser(log logger.Log, source logger.Source) *parser {
	p := &parser{
		log:     log,
		source:  source,
		allowIn: true,
	}
	p.lexer = js_lexer.NewLexer(log, source)
	return p
}

func (p *parser) addError(loc logger.Loc, text string) {
	p.log.AddID(logger.MsgID_Bundler_ParseFailure, logger.Error, &p.source, logger.Range{Loc: loc}, text)
}

func (p *parser) addRangeError(r logger.Range, text string) {
	p.log.AddID(logger.MsgID_Bundler_ParseFailure, logger.Error, &p.source, r, text)
}

func (p *parser) addImportRecord(kind ast.ImportKind, r logger.Range, text string) uint32 {
	index := uint32(len(p.importRecords))
	p.importRecords = append(p.importRecords, ast.ImportRecord{
		Kind:  kind,
		Range: r,
		Path:  logger.Path{Text: text},
	})
	return index
}

// Returns the token after the current one without consuming anything
func (p *parser) peek() js_lexer.Lexer {
	lookahead := p.lexer
	lookahead.Next()
	return lookahead
}

func (p *parser) parseStmtsUpTo(end js_lexer.T, opts parseStmtOpts) []js_ast.Stmt {
	stmts := []js_ast.Stmt{}
	for p.lexer.Token != end {
		stmt := p.parseStmt(opts)

		// Skip empty statements
		if _, ok := stmt.Data.(*js_ast.SEmpty); ok {
			continue
		}

		stmts = append(stmts, stmt)
	}
	return stmts
}

func (p *parser) parseStmt(opts parseStmtOpts) js_ast.Stmt {
	loc := p.lexer.Loc()

	switch p.lexer.Token {
	case js_lexer.TSemicolon:
		p.lexer.Next()
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SEmpty{}}

	case js_lexer.TExport:
		if !opts.isModuleScope {
			p.lexer.Unexpected()
		}
		return p.parseExportStmt(loc)

	case js_lexer.TImport:
		// "import()" and "import.meta" are expressions
		if next := p.peek(); next.Token == js_lexer.TOpenParen || next.Token == js_lexer.TDot {
			return p.parseExprStmt(loc)
		}
		if !opts.isModuleScope {
			p.lexer.Unexpected()
		}
		return p.parseImportStmt(loc)

	case js_lexer.TFunction:
		p.lexer.Next()
		return p.parseFnStmt(loc, opts, false)

	case js_lexer.TClass:
		return p.parseClassStmt(loc, opts)

	case js_lexer.TVar:
		p.lexer.Next()
		decls := p.parseAndDeclareDecls()
		p.lexer.ExpectOrInsertSemicolon()
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SLocal{Kind: js_ast.LocalVar, Decls: decls, IsExport: opts.isExport}}

	case js_lexer.TConst:
		p.lexer.Next()
		decls := p.parseAndDeclareDecls()
		p.lexer.ExpectOrInsertSemicolon()
		p.requireInitializers(decls)
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SLocal{Kind: js_ast.LocalConst, Decls: decls, IsExport: opts.isExport}}

	case js_lexer.TIf:
		p.lexer.Next()
		p.lexer.Expect(js_lexer.TOpenParen)
		test := p.parseExpr(js_ast.LLowest)
		p.lexer.Expect(js_lexer.TCloseParen)
		yes := p.parseStmt(parseStmtOpts{})
		var no js_ast.Stmt
		if p.lexer.Token == js_lexer.TElse {
			p.lexer.Next()
			no = p.parseStmt(parseStmtOpts{})
		}
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SIf{Test: test, Yes: yes, NoOrNil: no}}

	case js_lexer.TDo:
		p.lexer.Next()
		body := p.parseStmt(parseStmtOpts{})
		p.lexer.Expect(js_lexer.TWhile)
		p.lexer.Expect(js_lexer.TOpenParen)
		test := p.parseExpr(js_ast.LLowest)
		p.lexer.Expect(js_lexer.TCloseParen)

		// This is a weird corner case where automatic semicolon insertion applies
		// even without a newline present
		if p.lexer.Token == js_lexer.TSemicolon {
			p.lexer.Next()
		}
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SDoWhile{Body: body, Test: test}}

	case js_lexer.TWhile:
		p.lexer.Next()
		p.lexer.Expect(js_lexer.TOpenParen)
		test := p.parseExpr(js_ast.LLowest)
		p.lexer.Expect(js_lexer.TCloseParen)
		body := p.parseStmt(parseStmtOpts{})
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SWhile{Test: test, Body: body}}

	case js_lexer.TWith:
		p.addRangeError(p.lexer.Range(), "With statements cannot be used in strict mode")
		panic(js_lexer.LexerPanic{})

	case js_lexer.TDebugger:
		p.addRangeError(p.lexer.Range(), "Debugger statements are not supported")
		panic(js_lexer.LexerPanic{})

	case js_lexer.TFor:
		return p.parseForStmt(loc)

	case js_lexer.TSwitch:
		p.lexer.Next()
		p.lexer.Expect(js_lexer.TOpenParen)
		test := p.parseExpr(js_ast.LLowest)
		p.lexer.Expect(js_lexer.TCloseParen)
		p.lexer.Expect(js_lexer.TOpenBrace)
		cases := []js_ast.Case{}
		foundDefault := false

		for p.lexer.Token != js_lexer.TCloseBrace {
			var value js_ast.Expr
			body := []js_ast.Stmt{}

			if p.lexer.Token == js_lexer.TDefault {
				if foundDefault {
					p.addRangeError(p.lexer.Range(), "Multiple default clauses are not allowed")
					panic(js_lexer.LexerPanic{})
				}
				foundDefault = true
				p.lexer.Next()
				p.lexer.Expect(js_lexer.TColon)
			} else {
				p.lexer.Expect(js_lexer.TCase)
				value = p.parseExpr(js_ast.LLowest)
				p.lexer.Expect(js_lexer.TColon)
			}

		caseBody:
			for {
				switch p.lexer.Token {
				case js_lexer.TCloseBrace, js_lexer.TCase, js_lexer.TDefault:
					break caseBody

				default:
					body = append(body, p.parseStmt(parseStmtOpts{}))
				}
			}

			cases = append(cases, js_ast.Case{ValueOrNil: value, Body: body})
		}

		p.lexer.Expect(js_lexer.TCloseBrace)
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SSwitch{Test: test, Cases: cases}}

	case js_lexer.TTry:
		p.lexer.Next()
		block := p.parseBlockBody()
		var catch *js_ast.Catch
		var finally *js_ast.Finally

		if p.lexer.Token == js_lexer.TCatch {
			catchLoc := p.lexer.Loc()
			p.lexer.Next()
			var binding js_ast.Binding

			// The catch binding is optional
			if p.lexer.Token == js_lexer.TOpenParen {
				p.lexer.Next()
				binding = p.parseBinding()
				p.lexer.Expect(js_lexer.TCloseParen)
			}

			catch = &js_ast.Catch{Loc: catchLoc, BindingOrNil: binding, Block: p.parseBlockBody()}
		}

		if p.lexer.Token == js_lexer.TFinally || catch == nil {
			finallyLoc := p.lexer.Loc()
			p.lexer.Expect(js_lexer.TFinally)
			finally = &js_ast.Finally{Loc: finallyLoc, Block: p.parseBlockBody()}
		}

		return js_ast.Stmt{Loc: loc, Data: &js_ast.STry{Block: block, Catch: catch, Finally: finally}}

	case js_lexer.TOpenBrace:
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SBlock{Stmts: p.parseBlockBody()}}

	case js_lexer.TReturn:
		p.lexer.Next()
		var value js_ast.Expr
		if p.lexer.Token != js_lexer.TSemicolon &&
			!p.lexer.HasNewlineBefore &&
			p.lexer.Token != js_lexer.TCloseBrace &&
			p.lexer.Token != js_lexer.TEndOfFile {
			value = p.parseExpr(js_ast.LLowest)
		}
		p.lexer.ExpectOrInsertSemicolon()
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SReturn{ValueOrNil: value}}

	case js_lexer.TThrow:
		p.lexer.Next()
		if p.lexer.HasNewlineBefore {
			p.addError(logger.Loc{Start: loc.Start + 5}, "Unexpected newline after \"throw\"")
			panic(js_lexer.LexerPanic{})
		}
		expr := p.parseExpr(js_ast.LLowest)
		p.lexer.ExpectOrInsertSemicolon()
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SThrow{Value: expr}}

	case js_lexer.TBreak, js_lexer.TContinue:
		isBreak := p.lexer.Token == js_lexer.TBreak
		p.lexer.Next()
		if p.lexer.Token == js_lexer.TIdentifier && !p.lexer.HasNewlineBefore {
			p.addRangeError(p.lexer.Range(), "Labels are not supported")
			panic(js_lexer.LexerPanic{})
		}
		p.lexer.ExpectOrInsertSemicolon()
		if isBreak {
			return js_ast.Stmt{Loc: loc, Data: &js_ast.SBreak{}}
		}
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SContinue{}}

	case js_lexer.TIdentifier:
		switch p.lexer.Identifier {
		case "let":
			// "let" is only a keyword when it's followed by a binding
			switch p.peek().Token {
			case js_lexer.TIdentifier, js_lexer.TOpenBracket, js_lexer.TOpenBrace:
				p.lexer.Next()
				decls := p.parseAndDeclareDecls()
				p.lexer.ExpectOrInsertSemicolon()
				return js_ast.Stmt{Loc: loc, Data: &js_ast.SLocal{Kind: js_ast.LocalLet, Decls: decls, IsExport: opts.isExport}}
			}

		case "async":
			if next := p.peek(); next.Token == js_lexer.TFunction && !next.HasNewlineBefore {
				p.lexer.Next()
				p.lexer.Next()
				return p.parseFnStmt(loc, opts, true)
			}
		}
	}

	if opts.isExport {
		p.lexer.Unexpected()
	}
	return p.parseExprStmt(loc)
}

func (p *parser) parseExprStmt(loc logger.Loc) js_ast.Stmt {
	expr := p.parseExpr(js_ast.LLowest)

	if p.lexer.Token == js_lexer.TColon {
		if _, ok := expr.Data.(*js_ast.EIdentifier); ok {
			p.addRangeError(p.lexer.Range(), "Labels are not supported")
			panic(js_lexer.LexerPanic{})
		}
	}

	p.lexer.ExpectOrInsertSemicolon()
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SExpr{Value: expr}}
}

func (p *parser) parseBlockBody() []js_ast.Stmt {
	p.lexer.Expect(js_lexer.TOpenBrace)
	stmts := p.parseStmtsUpTo(js_lexer.TCloseBrace, parseStmtOpts{})
	p.lexer.Next()
	return stmts
}

func (p *parser) requireInitializers(decls []js_ast.Decl) {
	for _, d := range decls {
		if d.ValueOrNil.Data == nil {
			if id, ok := d.Binding.Data.(*js_ast.BIdentifier); ok {
				p.addError(d.Binding.Loc, fmt.Sprintf("The constant %q must be initialized", id.Name))
			} else {
				p.addError(d.Binding.Loc, "This constant must be initialized")
			}
		}
	}
}

func (p *parser) parseAndDeclareDecls() []js_ast.Decl {
	decls := []js_ast.Decl{}

	for {
		var value js_ast.Expr
		binding := p.parseBinding()

		if p.lexer.Token == js_lexer.TEquals {
			p.lexer.Next()
			value = p.parseExpr(js_ast.LComma)
		}

		decls = append(decls, js_ast.Decl{Binding: binding, ValueOrNil: value})

		if p.lexer.Token != js_lexer.TComma {
			break
		}
		p.lexer.Next()
	}

	return decls
}

func (p *parser) parseForStmt(loc logger.Loc) js_ast.Stmt {
	p.lexer.Next()

	if p.lexer.IsContextualKeyword("await") {
		p.addRangeError(p.lexer.Range(), "For-await loops are not supported")
		panic(js_lexer.LexerPanic{})
	}

	p.lexer.Expect(js_lexer.TOpenParen)

	var init js_ast.Stmt
	var test js_ast.Expr
	var update js_ast.Expr

	// "in" expressions aren't allowed here
	oldAllowIn := p.allowIn
	p.allowIn = false

	isLocal := false
	initLoc := p.lexer.Loc()
	switch p.lexer.Token {
	case js_lexer.TVar:
		p.lexer.Next()
		init = js_ast.Stmt{Loc: initLoc, Data: &js_ast.SLocal{Kind: js_ast.LocalVar, Decls: p.parseAndDeclareDecls()}}
		isLocal = true

	case js_lexer.TConst:
		p.lexer.Next()
		init = js_ast.Stmt{Loc: initLoc, Data: &js_ast.SLocal{Kind: js_ast.LocalConst, Decls: p.parseAndDeclareDecls()}}
		isLocal = true

	case js_lexer.TSemicolon:

	default:
		if p.lexer.IsContextualKeyword("let") {
			switch p.peek().Token {
			case js_lexer.TIdentifier, js_lexer.TOpenBracket, js_lexer.TOpenBrace:
				p.lexer.Next()
				init = js_ast.Stmt{Loc: initLoc, Data: &js_ast.SLocal{Kind: js_ast.LocalLet, Decls: p.parseAndDeclareDecls()}}
				isLocal = true
			}
		}
		if init.Data == nil {
			init = js_ast.Stmt{Loc: initLoc, Data: &js_ast.SExpr{Value: p.parseExpr(js_ast.LLowest)}}
		}
	}

	p.allowIn = oldAllowIn

	// Detect for-of loops
	if p.lexer.IsContextualKeyword("of") {
		p.checkForLoopInit(init, isLocal, "of")
		p.lexer.Next()
		value := p.parseExpr(js_ast.LComma)
		p.lexer.Expect(js_lexer.TCloseParen)
		body := p.parseStmt(parseStmtOpts{})
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SForOf{Init: init, Value: value, Body: body}}
	}

	// Detect for-in loops
	if p.lexer.Token == js_lexer.TIn {
		p.checkForLoopInit(init, isLocal, "in")
		p.lexer.Next()
		value := p.parseExpr(js_ast.LLowest)
		p.lexer.Expect(js_lexer.TCloseParen)
		body := p.parseStmt(parseStmtOpts{})
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SForIn{Init: init, Value: value, Body: body}}
	}

	if local, ok := init.Data.(*js_ast.SLocal); ok && local.Kind == js_ast.LocalConst {
		p.requireInitializers(local.Decls)
	}

	p.lexer.Expect(js_lexer.TSemicolon)
	if p.lexer.Token != js_lexer.TSemicolon {
		test = p.parseExpr(js_ast.LLowest)
	}

	p.lexer.Expect(js_lexer.TSemicolon)
	if p.lexer.Token != js_lexer.TCloseParen {
		update = p.parseExpr(js_ast.LLowest)
	}

	p.lexer.Expect(js_lexer.TCloseParen)
	body := p.parseStmt(parseStmtOpts{})
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SFor{InitOrNil: init, TestOrNil: test, UpdateOrNil: update, Body: body}}
}

func (p *parser) checkForLoopInit(init js_ast.Stmt, isLocal bool, kind string) {
	if init.Data == nil {
		p.lexer.Unexpected()
	}
	if isLocal {
		local := init.Data.(*js_ast.SLocal)
		if len(local.Decls) != 1 {
			p.addError(init.Loc, fmt.Sprintf("for-%s loops must have a single declaration", kind))
		} else if local.Decls[0].ValueOrNil.Data != nil {
			p.addError(init.Loc, fmt.Sprintf("for-%s loop variables cannot have an initializer", kind))
		}
		return
	}
	p.checkAssignTarget(init.Data.(*js_ast.SExpr).Value)
}

func (p *parser) checkAssignTarget(expr js_ast.Expr) {
	if !isValidAssignTarget(expr) {
		p.addError(expr.Loc, "Invalid assignment target")
	}
}

// Destructuring assignments may also assign to properties, unlike
// destructuring declarations
func isValidAssignTarget(expr js_ast.Expr) bool {
	switch e := expr.Data.(type) {
	case *js_ast.EIdentifier:
		return true

	case *js_ast.EDot:
		return !e.OptionalChain

	case *js_ast.EIndex:
		return !e.OptionalChain

	case *js_ast.EArray:
		for i, item := range e.Items {
			if spread, ok := item.Data.(*js_ast.ESpread); ok {
				if i+1 != len(e.Items) {
					return false
				}
				item = spread.Value
			} else if assign, ok := item.Data.(*js_ast.EBinary); ok && assign.Op == js_ast.BinOpAssign {
				item = assign.Left
			}
			if _, ok := item.Data.(*js_ast.EMissing); ok {
				continue
			}
			if !isValidAssignTarget(item) {
				return false
			}
		}
		return true

	case *js_ast.EObject:
		for _, property := range e.Properties {
			if property.IsMethod || property.Kind == js_ast.PropertyGet || property.Kind == js_ast.PropertySet {
				return false
			}
			value := property.ValueOrNil
			if assign, ok := value.Data.(*js_ast.EBinary); ok && assign.Op == js_ast.BinOpAssign {
				value = assign.Left
			}
			if !isValidAssignTarget(value) {
				return false
			}
		}
		return true
	}

	return false
}

func (p *parser) parseFnStmt(loc logger.Loc, opts parseStmtOpts, isAsync bool) js_ast.Stmt {
	if p.lexer.Token == js_lexer.TAsterisk {
		p.addRangeError(p.lexer.Range(), "Generator functions are not supported")
		panic(js_lexer.LexerPanic{})
	}

	nameLoc := p.lexer.Loc()
	name := p.lexer.Identifier
	p.lexer.Expect(js_lexer.TIdentifier)

	fn := p.parseFn(&js_ast.LocRef{Loc: nameLoc, Ref: js_ast.InvalidRef, Name: name}, isAsync)
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SFunction{Fn: fn, IsExport: opts.isExport}}
}

func (p *parser) parseClassStmt(loc logger.Loc, opts parseStmtOpts) js_ast.Stmt {
	p.lexer.Expect(js_lexer.TClass)
	nameLoc := p.lexer.Loc()
	name := p.lexer.Identifier
	p.lexer.Expect(js_lexer.TIdentifier)

	class := p.parseClass(&js_ast.LocRef{Loc: nameLoc, Ref: js_ast.InvalidRef, Name: name})
	return js_ast.Stmt{Loc: loc, Data: &js_ast.SClass{Class: class, IsExport: opts.isExport}}
}

func (p *parser) parseFn(name *js_ast.LocRef, isAsync bool) (fn js_ast.Fn) {
	fn.Name = name
	fn.IsAsync = isAsync
	fn.ArgumentsRef = js_ast.InvalidRef

	// The arguments can contain "await" expressions in an async function
	oldIsAsync := p.isAsync
	p.isAsync = isAsync
	fn.Args, fn.HasRestArg = p.parseFnArgs()
	fn.Body = p.parseFnBody()
	p.isAsync = oldIsAsync
	return
}

func (p *parser) parseFnArgs() (args []js_ast.Arg, hasRestArg bool) {
	p.lexer.Expect(js_lexer.TOpenParen)
	oldAllowIn := p.allowIn
	p.allowIn = true

	for p.lexer.Token != js_lexer.TCloseParen {
		if hasRestArg {
			p.lexer.Expected(js_lexer.TCloseParen)
		}
		if p.lexer.Token == js_lexer.TDotDotDot {
			p.lexer.Next()
			hasRestArg = true
		}

		arg := js_ast.Arg{Binding: p.parseBinding()}
		if !hasRestArg && p.lexer.Token == js_lexer.TEquals {
			p.lexer.Next()
			arg.DefaultOrNil = p.parseExpr(js_ast.LComma)
		}
		args = append(args, arg)

		if p.lexer.Token != js_lexer.TComma {
			break
		}
		p.lexer.Next()
	}

	p.allowIn = oldAllowIn
	p.lexer.Expect(js_lexer.TCloseParen)
	return
}

func (p *parser) parseFnBody() js_ast.FnBody {
	loc := p.lexer.Loc()
	oldAllowIn := p.allowIn
	p.allowIn = true
	p.fnDepth++
	stmts := p.parseBlockBody()
	p.fnDepth--
	p.allowIn = oldAllowIn
	return js_ast.FnBody{Loc: loc, Stmts: stmts}
}

func (p *parser) parseClass(name *js_ast.LocRef) js_ast.Class {
	var extends js_ast.Expr

	if p.lexer.Token == js_lexer.TExtends {
		p.lexer.Next()
		extends = p.parseExpr(js_ast.LNew)
	}

	bodyLoc := p.lexer.Loc()
	p.lexer.Expect(js_lexer.TOpenBrace)
	properties := []js_ast.Property{}

	// Class bodies are always parsed with "in" allowed
	oldAllowIn := p.allowIn
	p.allowIn = true

	for p.lexer.Token != js_lexer.TCloseBrace {
		if p.lexer.Token == js_lexer.TSemicolon {
			p.lexer.Next()
			continue
		}
		properties = append(properties, p.parseProperty(true))
	}

	p.allowIn = oldAllowIn
	p.lexer.Expect(js_lexer.TCloseBrace)
	return js_ast.Class{Name: name, ExtendsOrNil: extends, BodyLoc: bodyLoc, Properties: properties}
}

// Returns true if the current token can start a property key. This is used to
// tell "get x() {}" apart from a method named "get".
func (p *parser) startsPropertyKey(lexer js_lexer.Lexer) bool {
	switch lexer.Token {
	case js_lexer.TStringLiteral, js_lexer.TNumericLiteral, js_lexer.TOpenBracket:
		return true
	}
	return lexer.IsIdentifierOrKeyword()
}

func (p *parser) parseProperty(isClass bool) js_ast.Property {
	property := js_ast.Property{Kind: js_ast.PropertyNormal}

	if !isClass && p.lexer.Token == js_lexer.TDotDotDot {
		p.lexer.Next()
		property.Kind = js_ast.PropertySpread
		property.ValueOrNil = p.parseExpr(js_ast.LComma)
		return property
	}

	if isClass && p.lexer.IsContextualKeyword("static") && p.startsPropertyKey(p.peek()) {
		p.lexer.Next()
		property.IsStatic = true
	}

	isAsync := false
	if p.lexer.Token == js_lexer.TIdentifier {
		switch p.lexer.Identifier {
		case "get", "set":
			if next := p.peek(); p.startsPropertyKey(next) {
				if p.lexer.Identifier == "get" {
					property.Kind = js_ast.PropertyGet
				} else {
					property.Kind = js_ast.PropertySet
				}
				p.lexer.Next()
			}

		case "async":
			if next := p.peek(); p.startsPropertyKey(next) && !next.HasNewlineBefore {
				isAsync = true
				p.lexer.Next()
			}
		}
	}

	if p.lexer.Token == js_lexer.TAsterisk {
		p.addRangeError(p.lexer.Range(), "Generator methods are not supported")
		panic(js_lexer.LexerPanic{})
	}

	// Parse the key
	keyLoc := p.lexer.Loc()
	keyIsIdentifier := false
	keyIsKeyword := false
	keyName := ""
	switch p.lexer.Token {
	case js_lexer.TStringLiteral:
		property.Key = js_ast.Expr{Loc: keyLoc, Data: &js_ast.EString{Value: p.lexer.StringLiteral}}
		p.lexer.Next()

	case js_lexer.TNumericLiteral:
		property.Key = js_ast.Expr{Loc: keyLoc, Data: &js_ast.ENumber{Value: p.lexer.Number}}
		p.lexer.Next()

	case js_lexer.TOpenBracket:
		p.lexer.Next()
		property.IsComputed = true
		property.Key = p.parseExpr(js_ast.LComma)
		p.lexer.Expect(js_lexer.TCloseBracket)

	default:
		if !p.lexer.IsIdentifierOrKeyword() {
			p.lexer.Expect(js_lexer.TIdentifier)
		}
		keyName = p.lexer.Identifier
		keyIsIdentifier = true
		keyIsKeyword = p.lexer.Token != js_lexer.TIdentifier
		property.Key = js_ast.Expr{Loc: keyLoc, Data: &js_ast.EString{Value: keyName}}
		p.lexer.Next()
	}

	// Methods
	if p.lexer.Token == js_lexer.TOpenParen || property.Kind != js_ast.PropertyNormal || isAsync {
		fnLoc := p.lexer.Loc()
		fn := p.parseFn(nil, isAsync)
		property.IsMethod = true
		property.ValueOrNil = js_ast.Expr{Loc: fnLoc, Data: &js_ast.EFunction{Fn: fn}}
		return property
	}

	if isClass {
		// Class fields
		if p.lexer.Token == js_lexer.TEquals {
			p.lexer.Next()
			property.InitializerOrNil = p.parseExpr(js_ast.LComma)
		}
		p.lexer.ExpectOrInsertSemicolon()
		return property
	}

	if p.lexer.Token == js_lexer.TColon {
		p.lexer.Next()
		property.ValueOrNil = p.parseExpr(js_ast.LComma)
		return property
	}

	// Shorthand properties
	if !keyIsIdentifier || keyIsKeyword {
		p.lexer.Expect(js_lexer.TColon)
	}
	property.WasShorthand = true
	property.ValueOrNil = js_ast.Expr{Loc: keyLoc, Data: &js_ast.EIdentifier{Ref: js_ast.InvalidRef, Name: keyName}}

	// This is only valid in a destructuring assignment
	if p.lexer.Token == js_lexer.TEquals {
		p.lexer.Next()
		property.InitializerOrNil = p.parseExpr(js_ast.LComma)
	}
	return property
}

func (p *parser) parseBinding() js_ast.Binding {
	loc := p.lexer.Loc()

	switch p.lexer.Token {
	case js_lexer.TIdentifier:
		name := p.lexer.Identifier
		p.lexer.Next()
		return js_ast.Binding{Loc: loc, Data: &js_ast.BIdentifier{Ref: js_ast.InvalidRef, Name: name}}

	case js_lexer.TOpenBracket:
		p.lexer.Next()
		items := []js_ast.ArrayBinding{}
		hasSpread := false

		for p.lexer.Token != js_lexer.TCloseBracket {
			if p.lexer.Token == js_lexer.TComma {
				items = append(items, js_ast.ArrayBinding{Binding: js_ast.Binding{Loc: p.lexer.Loc(), Data: &js_ast.BMissing{}}})
			} else {
				if p.lexer.Token == js_lexer.TDotDotDot {
					p.lexer.Next()
					hasSpread = true
				}

				binding := p.parseBinding()
				var defaultValue js_ast.Expr
				if !hasSpread && p.lexer.Token == js_lexer.TEquals {
					p.lexer.Next()
					defaultValue = p.parseExpr(js_ast.LComma)
				}
				items = append(items, js_ast.ArrayBinding{Binding: binding, DefaultValueOrNil: defaultValue})

				// The spread must be the last item
				if hasSpread {
					break
				}
			}

			if p.lexer.Token != js_lexer.TComma {
				break
			}
			p.lexer.Next()
		}

		p.lexer.Expect(js_lexer.TCloseBracket)
		return js_ast.Binding{Loc: loc, Data: &js_ast.BArray{Items: items, HasSpread: hasSpread}}

	case js_lexer.TOpenBrace:
		p.lexer.Next()
		properties := []js_ast.PropertyBinding{}

		for p.lexer.Token != js_lexer.TCloseBrace {
			properties = append(properties, p.parsePropertyBinding())

			// The spread must be the last item
			if properties[len(properties)-1].IsSpread {
				break
			}

			if p.lexer.Token != js_lexer.TComma {
				break
			}
			p.lexer.Next()
		}

		p.lexer.Expect(js_lexer.TCloseBrace)
		return js_ast.Binding{Loc: loc, Data: &js_ast.BObject{Properties: properties}}
	}

	p.lexer.Expect(js_lexer.TIdentifier)
	return js_ast.Binding{}
}

func (p *parser) parsePropertyBinding() js_ast.PropertyBinding {
	var key js_ast.Expr
	isComputed := false

	switch p.lexer.Token {
	case js_lexer.TDotDotDot:
		p.lexer.Next()
		value := js_ast.Binding{Loc: p.lexer.Loc(), Data: &js_ast.BIdentifier{Ref: js_ast.InvalidRef, Name: p.lexer.Identifier}}
		p.lexer.Expect(js_lexer.TIdentifier)
		return js_ast.PropertyBinding{IsSpread: true, Value: value}

	case js_lexer.TNumericLiteral:
		key = js_ast.Expr{Loc: p.lexer.Loc(), Data: &js_ast.ENumber{Value: p.lexer.Number}}
		p.lexer.Next()

	case js_lexer.TStringLiteral:
		key = js_ast.Expr{Loc: p.lexer.Loc(), Data: &js_ast.EString{Value: p.lexer.StringLiteral}}
		p.lexer.Next()

	case js_lexer.TOpenBracket:
		isComputed = true
		p.lexer.Next()
		key = p.parseExpr(js_ast.LComma)
		p.lexer.Expect(js_lexer.TCloseBracket)

	default:
		name := p.lexer.Identifier
		loc := p.lexer.Loc()
		isKeyword := p.lexer.Token != js_lexer.TIdentifier
		if !p.lexer.IsIdentifierOrKeyword() {
			p.lexer.Expect(js_lexer.TIdentifier)
		}
		p.lexer.Next()
		key = js_ast.Expr{Loc: loc, Data: &js_ast.EString{Value: name}}

		if p.lexer.Token != js_lexer.TColon {
			if isKeyword {
				p.lexer.Expect(js_lexer.TColon)
			}
			value := js_ast.Binding{Loc: loc, Data: &js_ast.BIdentifier{Ref: js_ast.InvalidRef, Name: name}}

			var defaultValue js_ast.Expr
			if p.lexer.Token == js_lexer.TEquals {
				p.lexer.Next()
				defaultValue = p.parseExpr(js_ast.LComma)
			}

			return js_ast.PropertyBinding{Key: key, Value: value, DefaultValueOrNil: defaultValue}
		}
	}

	p.lexer.Expect(js_lexer.TColon)
	value := p.parseBinding()

	var defaultValue js_ast.Expr
	if p.lexer.Token == js_lexer.TEquals {
		p.lexer.Next()
		defaultValue = p.parseExpr(js_ast.LComma)
	}

	return js_ast.PropertyBinding{Key: key, Value: value, DefaultValueOrNil: defaultValue, IsComputed: isComputed}
}

func (p *parser) convertExprToBinding(expr js_ast.Expr) (js_ast.Binding, bool) {
	switch e := expr.Data.(type) {
	case *js_ast.EMissing:
		return js_ast.Binding{Loc: expr.Loc, Data: &js_ast.BMissing{}}, true

	case *js_ast.EIdentifier:
		return js_ast.Binding{Loc: expr.Loc, Data: &js_ast.BIdentifier{Ref: js_ast.InvalidRef, Name: e.Name}}, true

	case *js_ast.EArray:
		items := []js_ast.ArrayBinding{}
		hasSpread := false
		for i, item := range e.Items {
			if spread, ok := item.Data.(*js_ast.ESpread); ok {
				if i+1 != len(e.Items) {
					return js_ast.Binding{}, false
				}
				hasSpread = true
				item = spread.Value
			}
			var defaultValue js_ast.Expr
			if assign, ok := item.Data.(*js_ast.EBinary); ok && assign.Op == js_ast.BinOpAssign && !hasSpread {
				item = assign.Left
				defaultValue = assign.Right
			}
			binding, ok := p.convertExprToBinding(item)
			if !ok {
				return js_ast.Binding{}, false
			}
			items = append(items, js_ast.ArrayBinding{Binding: binding, DefaultValueOrNil: defaultValue})
		}
		return js_ast.Binding{Loc: expr.Loc, Data: &js_ast.BArray{Items: items, HasSpread: hasSpread}}, true

	case *js_ast.EObject:
		properties := []js_ast.PropertyBinding{}
		for i, property := range e.Properties {
			if property.IsMethod || property.Kind == js_ast.PropertyGet || property.Kind == js_ast.PropertySet {
				return js_ast.Binding{}, false
			}
			if property.Kind == js_ast.PropertySpread && i+1 != len(e.Properties) {
				return js_ast.Binding{}, false
			}
			value := property.ValueOrNil
			defaultValue := property.InitializerOrNil
			if assign, ok := value.Data.(*js_ast.EBinary); ok && assign.Op == js_ast.BinOpAssign && defaultValue.Data == nil {
				value = assign.Left
				defaultValue = assign.Right
			}
			binding, ok := p.convertExprToBinding(value)
			if !ok {
				return js_ast.Binding{}, false
			}
			properties = append(properties, js_ast.PropertyBinding{
				Key:               property.Key,
				Value:             binding,
				DefaultValueOrNil: defaultValue,
				IsComputed:        property.IsComputed,
				IsSpread:          property.Kind == js_ast.PropertySpread,
			})
		}
		return js_ast.Binding{Loc: expr.Loc, Data: &js_ast.BObject{Properties: properties}}, true
	}

	return js_ast.Binding{}, false
}

func (p *parser) parseStringPath() (logger.Range, string) {
	r := p.lexer.Range()
	text := p.lexer.StringLiteral
	p.lexer.Expect(js_lexer.TStringLiteral)
	return r, text
}

// Import and export clauses may name exports with a string literal, and both
// may use keywords as export names
func (p *parser) parseClauseAlias() (string, logger.Loc, bool) {
	loc := p.lexer.Loc()
	if p.lexer.Token == js_lexer.TStringLiteral {
		alias := p.lexer.StringLiteral
		p.lexer.Next()
		return alias, loc, false
	}
	if !p.lexer.IsIdentifierOrKeyword() {
		p.lexer.Expect(js_lexer.TIdentifier)
	}
	alias := p.lexer.Identifier
	isIdentifier := p.lexer.Token == js_lexer.TIdentifier
	p.lexer.Next()
	return alias, loc, isIdentifier
}

func (p *parser) parseImportClause() []js_ast.ClauseItem {
	items := []js_ast.ClauseItem{}
	p.lexer.Expect(js_lexer.TOpenBrace)

	for p.lexer.Token != js_lexer.TCloseBrace {
		alias, aliasLoc, isIdentifier := p.parseClauseAlias()
		name := js_ast.LocRef{Loc: aliasLoc, Ref: js_ast.InvalidRef, Name: alias}

		// "import { a as b } from 'path'"
		if p.lexer.IsContextualKeyword("as") {
			p.lexer.Next()
			name = js_ast.LocRef{Loc: p.lexer.Loc(), Ref: js_ast.InvalidRef, Name: p.lexer.Identifier}
			p.lexer.Expect(js_lexer.TIdentifier)
		} else if !isIdentifier {
			// "import { default } from 'path'" is invalid
			p.lexer.ExpectedString("\"as\"")
		}

		items = append(items, js_ast.ClauseItem{Alias: alias, AliasLoc: aliasLoc, Name: name})

		if p.lexer.Token != js_lexer.TComma {
			break
		}
		p.lexer.Next()
	}

	p.lexer.Expect(js_lexer.TCloseBrace)
	return items
}

func (p *parser) parseImportStmt(loc logger.Loc) js_ast.Stmt {
	p.lexer.Next()
	p.hasES6Imports = true
	stmt := js_ast.SImport{NamespaceRef: js_ast.InvalidRef}
	var flags ast.ImportRecordFlags

	switch p.lexer.Token {
	case js_lexer.TStringLiteral:
		// "import 'path'"
		flags |= ast.WasOriginallyBareImport

	case js_lexer.TAsterisk:
		// "import * as ns from 'path'"
		p.lexer.Next()
		p.lexer.ExpectContextualKeyword("as")
		starLoc := p.lexer.Loc()
		stmt.StarNameLoc = &starLoc
		stmt.NamespaceName = p.lexer.Identifier
		p.lexer.Expect(js_lexer.TIdentifier)
		p.lexer.ExpectContextualKeyword("from")
		flags |= ast.ContainsImportStar

	case js_lexer.TOpenBrace:
		// "import {item1, item2} from 'path'"
		items := p.parseImportClause()
		stmt.Items = &items
		p.lexer.ExpectContextualKeyword("from")

	case js_lexer.TIdentifier:
		// "import defaultItem from 'path'"
		stmt.DefaultName = &js_ast.LocRef{Loc: p.lexer.Loc(), Ref: js_ast.InvalidRef, Name: p.lexer.Identifier}
		p.lexer.Next()
		flags |= ast.ContainsDefaultAlias

		if p.lexer.Token == js_lexer.TComma {
			p.lexer.Next()
			switch p.lexer.Token {
			case js_lexer.TAsterisk:
				// "import defaultItem, * as ns from 'path'"
				p.lexer.Next()
				p.lexer.ExpectContextualKeyword("as")
				starLoc := p.lexer.Loc()
				stmt.StarNameLoc = &starLoc
				stmt.NamespaceName = p.lexer.Identifier
				p.lexer.Expect(js_lexer.TIdentifier)
				flags |= ast.ContainsImportStar

			case js_lexer.TOpenBrace:
				// "import defaultItem, {item1, item2} from 'path'"
				items := p.parseImportClause()
				stmt.Items = &items

			default:
				p.lexer.Unexpected()
			}
		}

		p.lexer.ExpectContextualKeyword("from")

	default:
		p.lexer.Unexpected()
	}

	if stmt.Items != nil {
		for _, item := range *stmt.Items {
			if item.Alias == "default" {
				flags |= ast.ContainsDefaultAlias
			}
		}
	}

	pathRange, pathText := p.parseStringPath()
	stmt.ImportRecordIndex = p.addImportRecord(ast.ImportStmt, pathRange, pathText)
	p.importRecords[stmt.ImportRecordIndex].Flags |= flags
	p.lexer.ExpectOrInsertSemicolon()
	return js_ast.Stmt{Loc: loc, Data: &stmt}
}

func (p *parser) parseExportStmt(loc logger.Loc) js_ast.Stmt {
	p.lexer.Next()
	p.hasES6Exports = true

	switch p.lexer.Token {
	case js_lexer.TVar, js_lexer.TConst, js_lexer.TFunction, js_lexer.TClass:
		return p.parseStmt(parseStmtOpts{isModuleScope: true, isExport: true})

	case js_lexer.TIdentifier:
		if p.lexer.IsContextualKeyword("let") || p.lexer.IsContextualKeyword("async") {
			return p.parseStmt(parseStmtOpts{isModuleScope: true, isExport: true})
		}
		p.lexer.Unexpected()

	case js_lexer.TDefault:
		defaultLoc := p.lexer.Loc()
		p.lexer.Next()
		defaultName := js_ast.LocRef{Loc: defaultLoc, Ref: js_ast.InvalidRef, Name: p.source.IdentifierName + "_default"}

		// "export default async function() {}"
		isAsync := false
		if p.lexer.IsContextualKeyword("async") {
			if next := p.peek(); next.Token == js_lexer.TFunction && !next.HasNewlineBefore {
				p.lexer.Next()
				isAsync = true
			}
		}

		switch p.lexer.Token {
		case js_lexer.TFunction:
			fnLoc := p.lexer.Loc()
			p.lexer.Next()
			if p.lexer.Token == js_lexer.TAsterisk {
				p.addRangeError(p.lexer.Range(), "Generator functions are not supported")
				panic(js_lexer.LexerPanic{})
			}
			var name *js_ast.LocRef
			if p.lexer.Token == js_lexer.TIdentifier {
				name = &js_ast.LocRef{Loc: p.lexer.Loc(), Ref: js_ast.InvalidRef, Name: p.lexer.Identifier}
				p.lexer.Next()
			}
			fn := p.parseFn(name, isAsync)
			value := js_ast.Stmt{Loc: fnLoc, Data: &js_ast.SFunction{Fn: fn}}
			return js_ast.Stmt{Loc: loc, Data: &js_ast.SExportDefault{DefaultName: defaultName, Value: value}}

		case js_lexer.TClass:
			classLoc := p.lexer.Loc()
			p.lexer.Next()
			var name *js_ast.LocRef
			if p.lexer.Token == js_lexer.TIdentifier {
				name = &js_ast.LocRef{Loc: p.lexer.Loc(), Ref: js_ast.InvalidRef, Name: p.lexer.Identifier}
				p.lexer.Next()
			}
			class := p.parseClass(name)
			value := js_ast.Stmt{Loc: classLoc, Data: &js_ast.SClass{Class: class}}
			return js_ast.Stmt{Loc: loc, Data: &js_ast.SExportDefault{DefaultName: defaultName, Value: value}}
		}

		exprLoc := p.lexer.Loc()
		expr := p.parseExpr(js_ast.LComma)
		p.lexer.ExpectOrInsertSemicolon()
		value := js_ast.Stmt{Loc: exprLoc, Data: &js_ast.SExpr{Value: expr}}
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SExportDefault{DefaultName: defaultName, Value: value}}

	case js_lexer.TAsterisk:
		p.lexer.Next()
		var alias *js_ast.ClauseItem
		var flags ast.ImportRecordFlags

		if p.lexer.IsContextualKeyword("as") {
			// "export * as ns from 'path'"
			p.lexer.Next()
			name, nameLoc, _ := p.parseClauseAlias()
			alias = &js_ast.ClauseItem{Alias: name, AliasLoc: nameLoc, Name: js_ast.LocRef{Loc: nameLoc, Ref: js_ast.InvalidRef, Name: name}}
			flags |= ast.ContainsImportStar | ast.IsReExport
		} else {
			// "export * from 'path'"
			flags |= ast.IsExportStar
		}

		p.lexer.ExpectContextualKeyword("from")
		pathRange, pathText := p.parseStringPath()
		importRecordIndex := p.addImportRecord(ast.ImportStmt, pathRange, pathText)
		p.importRecords[importRecordIndex].Flags |= flags
		p.lexer.ExpectOrInsertSemicolon()
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SExportStar{
			Alias:             alias,
			NamespaceRef:      js_ast.InvalidRef,
			ImportRecordIndex: importRecordIndex,
		}}

	case js_lexer.TOpenBrace:
		p.lexer.Next()
		items := []js_ast.ClauseItem{}
		var firstNonIdentifier *logger.Loc

		for p.lexer.Token != js_lexer.TCloseBrace {
			name, nameLoc, isIdentifier := p.parseClauseAlias()
			if !isIdentifier && firstNonIdentifier == nil {
				firstNonIdentifier = &nameLoc
			}
			alias, aliasLoc := name, nameLoc

			if p.lexer.IsContextualKeyword("as") {
				p.lexer.Next()
				alias, aliasLoc, _ = p.parseClauseAlias()
			}

			items = append(items, js_ast.ClauseItem{
				Alias:    alias,
				AliasLoc: aliasLoc,
				Name:     js_ast.LocRef{Loc: nameLoc, Ref: js_ast.InvalidRef, Name: name},
			})

			if p.lexer.Token != js_lexer.TComma {
				break
			}
			p.lexer.Next()
		}

		p.lexer.Expect(js_lexer.TCloseBrace)

		// "export {a, b} from 'path'"
		if p.lexer.IsContextualKeyword("from") {
			p.lexer.Next()
			pathRange, pathText := p.parseStringPath()
			importRecordIndex := p.addImportRecord(ast.ImportStmt, pathRange, pathText)
			p.importRecords[importRecordIndex].Flags |= ast.IsReExport
			for _, item := range items {
				if item.Name.Name == "default" {
					p.importRecords[importRecordIndex].Flags |= ast.ContainsDefaultAlias
				}
			}
			p.lexer.ExpectOrInsertSemicolon()
			return js_ast.Stmt{Loc: loc, Data: &js_ast.SExportFrom{
				Items:             items,
				NamespaceRef:      js_ast.InvalidRef,
				ImportRecordIndex: importRecordIndex,
			}}
		}

		// Local exports must name local bindings
		if firstNonIdentifier != nil {
			p.addError(*firstNonIdentifier, "Expected identifier")
			panic(js_lexer.LexerPanic{})
		}

		p.lexer.ExpectOrInsertSemicolon()
		return js_ast.Stmt{Loc: loc, Data: &js_ast.SExportClause{Items: items}}
	}

	p.lexer.Unexpected()
	return js_ast.Stmt{}
}

var binaryOps = map[js_lexer.T]js_ast.OpCode{
	js_lexer.TPlus:                              js_ast.BinOpAdd,
	js_lexer.TMinus:                             js_ast.BinOpSub,
	js_lexer.TAsterisk:                          js_ast.BinOpMul,
	js_lexer.TSlash:                             js_ast.BinOpDiv,
	js_lexer.TPercent:                           js_ast.BinOpRem,
	js_lexer.TAsteriskAsterisk:                  js_ast.BinOpPow,
	js_lexer.TLessThan:                          js_ast.BinOpLt,
	js_lexer.TLessThanEquals:                    js_ast.BinOpLe,
	js_lexer.TGreaterThan:                       js_ast.BinOpGt,
	js_lexer.TGreaterThanEquals:                 js_ast.BinOpGe,
	js_lexer.TIn:                                js_ast.BinOpIn,
	js_lexer.TInstanceof:                        js_ast.BinOpInstanceof,
	js_lexer.TLessThanLessThan:                  js_ast.BinOpShl,
	js_lexer.TGreaterThanGreaterThan:            js_ast.BinOpShr,
	js_lexer.TGreaterThanGreaterThanGreaterThan: js_ast.BinOpUShr,
	js_lexer.TEqualsEquals:                      js_ast.BinOpLooseEq,
	js_lexer.TExclamationEquals:                 js_ast.BinOpLooseNe,
	js_lexer.TEqualsEqualsEquals:                js_ast.BinOpStrictEq,
	js_lexer.TExclamationEqualsEquals:           js_ast.BinOpStrictNe,
	js_lexer.TQuestionQuestion:                  js_ast.BinOpNullishCoalescing,
	js_lexer.TBarBar:                            js_ast.BinOpLogicalOr,
	js_lexer.TAmpersandAmpersand:                js_ast.BinOpLogicalAnd,
	js_lexer.TBar:                               js_ast.BinOpBitwiseOr,
	js_lexer.TAmpersand:                         js_ast.BinOpBitwiseAnd,
	js_lexer.TCaret:                             js_ast.BinOpBitwiseXor,
}

var assignOps = map[js_lexer.T]js_ast.OpCode{
	js_lexer.TEquals:                                  js_ast.BinOpAssign,
	js_lexer.TPlusEquals:                              js_ast.BinOpAddAssign,
	js_lexer.TMinusEquals:                             js_ast.BinOpSubAssign,
	js_lexer.TAsteriskEquals:                          js_ast.BinOpMulAssign,
	js_lexer.TSlashEquals:                             js_ast.BinOpDivAssign,
	js_lexer.TPercentEquals:                           js_ast.BinOpRemAssign,
	js_lexer.TAsteriskAsteriskEquals:                  js_ast.BinOpPowAssign,
	js_lexer.TLessThanLessThanEquals:                  js_ast.BinOpShlAssign,
	js_lexer.TGreaterThanGreaterThanEquals:            js_ast.BinOpShrAssign,
	js_lexer.TGreaterThanGreaterThanGreaterThanEquals: js_ast.BinOpUShrAssign,
	js_lexer.TBarEquals:                               js_ast.BinOpBitwiseOrAssign,
	js_lexer.TAmpersandEquals:                         js_ast.BinOpBitwiseAndAssign,
	js_lexer.TCaretEquals:                             js_ast.BinOpBitwiseXorAssign,
	js_lexer.TQuestionQuestionEquals:                  js_ast.BinOpNullishCoalescingAssign,
	js_lexer.TBarBarEquals:                            js_ast.BinOpLogicalOrAssign,
	js_lexer.TAmpersandAmpersandEquals:                js_ast.BinOpLogicalAndAssign,
}

var prefixOps = map[js_lexer.T]js_ast.OpCode{
	js_lexer.TPlus:        js_ast.UnOpPos,
	js_lexer.TMinus:       js_ast.UnOpNeg,
	js_lexer.TTilde:       js_ast.UnOpCpl,
	js_lexer.TExclamation: js_ast.UnOpNot,
	js_lexer.TVoid:        js_ast.UnOpVoid,
	js_lexer.TTypeof:      js_ast.UnOpTypeof,
	js_lexer.TDelete:      js_ast.UnOpDelete,
	js_lexer.TMinusMinus:  js_ast.UnOpPreDec,
	js_lexer.TPlusPlus:    js_ast.UnOpPreInc,
}

func (p *parser) parseExpr(level js_ast.L) js_ast.Expr {
	return p.parseSuffix(p.parsePrefix(level), level)
}

func (p *parser) startsExpression() bool {
	if p.lexer.HasNewlineBefore {
		return false
	}
	switch p.lexer.Token {
	case js_lexer.TIdentifier, js_lexer.TStringLiteral, js_lexer.TNumericLiteral,
		js_lexer.TOpenParen, js_lexer.TOpenBracket, js_lexer.TOpenBrace,
		js_lexer.TNew, js_lexer.TThis, js_lexer.TFunction, js_lexer.TClass,
		js_lexer.TTrue, js_lexer.TFalse, js_lexer.TNull, js_lexer.TImport,
		js_lexer.TTypeof, js_lexer.TVoid, js_lexer.TDelete, js_lexer.TExclamation,
		js_lexer.TTilde, js_lexer.TPlusPlus, js_lexer.TMinusMinus:
		return true
	}
	return false
}

func (p *parser) parsePrefix(level js_ast.L) js_ast.Expr {
	loc := p.lexer.Loc()

	switch p.lexer.Token {
	case js_lexer.TSuper:
		p.lexer.Next()
		return js_ast.Expr{Loc: loc, Data: &js_ast.ESuper{}}

	case js_lexer.TOpenParen:
		return p.parseParenExpr(loc, false)

	case js_lexer.TFalse:
		p.lexer.Next()
		return js_ast.Expr{Loc: loc, Data: &js_ast.EBoolean{Value: false}}

	case js_lexer.TTrue:
		p.lexer.Next()
		return js_ast.Expr{Loc: loc, Data: &js_ast.EBoolean{Value: true}}

	case js_lexer.TNull:
		p.lexer.Next()
		return js_ast.Expr{Loc: loc, Data: &js_ast.ENull{}}

	case js_lexer.TThis:
		p.lexer.Next()
		return js_ast.Expr{Loc: loc, Data: &js_ast.EThis{}}

	case js_lexer.TIdentifier:
		name := p.lexer.Identifier
		p.lexer.Next()

		switch name {
		case "async":
			if !p.lexer.HasNewlineBefore {
				switch p.lexer.Token {
				case js_lexer.TFunction:
					// "async function() {}"
					return p.parseFnExpr(loc, true)

				case js_lexer.TOpenParen:
					// "async () => {}" or a call to a function named "async"
					return p.parseParenExpr(loc, true)

				case js_lexer.TIdentifier:
					// "async x => {}"
					argLoc := p.lexer.Loc()
					argName := p.lexer.Identifier
					p.lexer.Next()
					if p.lexer.Token != js_lexer.TEqualsGreaterThan || p.lexer.HasNewlineBefore {
						p.lexer.Expected(js_lexer.TEqualsGreaterThan)
					}
					args := []js_ast.Arg{{Binding: js_ast.Binding{Loc: argLoc, Data: &js_ast.BIdentifier{Ref: js_ast.InvalidRef, Name: argName}}}}
					return p.parseArrowBody(loc, args, false, true)
				}
			}

		case "await":
			if p.isAsync || (p.fnDepth == 0 && p.startsExpression()) {
				value := p.parseExpr(js_ast.LPrefix - 1)
				return js_ast.Expr{Loc: loc, Data: &js_ast.EAwait{Value: value}}
			}
		}

		// "x => {}"
		if p.lexer.Token == js_lexer.TEqualsGreaterThan && !p.lexer.HasNewlineBefore {
			args := []js_ast.Arg{{Binding: js_ast.Binding{Loc: loc, Data: &js_ast.BIdentifier{Ref: js_ast.InvalidRef, Name: name}}}}
			return p.parseArrowBody(loc, args, false, false)
		}

		return js_ast.Expr{Loc: loc, Data: &js_ast.EIdentifier{Ref: js_ast.InvalidRef, Name: name}}

	case js_lexer.TStringLiteral:
		value := p.lexer.StringLiteral
		p.lexer.Next()
		return js_ast.Expr{Loc: loc, Data: &js_ast.EString{Value: value}}

	case js_lexer.TNumericLiteral:
		value := p.lexer.Number
		p.lexer.Next()
		return js_ast.Expr{Loc: loc, Data: &js_ast.ENumber{Value: value}}

	case js_lexer.TPlus, js_lexer.TMinus, js_lexer.TTilde, js_lexer.TExclamation,
		js_lexer.TVoid, js_lexer.TTypeof, js_lexer.TDelete:
		op := prefixOps[p.lexer.Token]
		p.lexer.Next()
		value := p.parseExpr(js_ast.LPrefix - 1)
		if p.lexer.Token == js_lexer.TAsteriskAsterisk {
			p.addRangeError(p.lexer.Range(), "Unparenthesized unary expression cannot appear on the left-hand side of \"**\"")
			panic(js_lexer.LexerPanic{})
		}
		return js_ast.Expr{Loc: loc, Data: &js_ast.EUnary{Op: op, Value: value}}

	case js_lexer.TMinusMinus, js_lexer.TPlusPlus:
		op := prefixOps[p.lexer.Token]
		p.lexer.Next()
		value := p.parseExpr(js_ast.LPrefix - 1)
		p.checkUpdateTarget(value)
		return js_ast.Expr{Loc: loc, Data: &js_ast.EUnary{Op: op, Value: value}}

	case js_lexer.TFunction:
		return p.parseFnExpr(loc, false)

	case js_lexer.TClass:
		p.lexer.Next()
		var name *js_ast.LocRef
		if p.lexer.Token == js_lexer.TIdentifier {
			name = &js_ast.LocRef{Loc: p.lexer.Loc(), Ref: js_ast.InvalidRef, Name: p.lexer.Identifier}
			p.lexer.Next()
		}
		class := p.parseClass(name)
		return js_ast.Expr{Loc: loc, Data: &js_ast.EClass{Class: class}}

	case js_lexer.TNew:
		p.lexer.Next()
		if p.lexer.Token == js_lexer.TDot {
			p.addRangeError(p.lexer.Range(), "\"new.target\" is not supported")
			panic(js_lexer.LexerPanic{})
		}

		target := p.parseExpr(js_ast.LMember)
		args := []js_ast.Expr{}
		if p.lexer.Token == js_lexer.TOpenParen {
			args = p.parseCallArgs()
		}
		return js_ast.Expr{Loc: loc, Data: &js_ast.ENew{Target: target, Args: args}}

	case js_lexer.TOpenBracket:
		p.lexer.Next()
		items := []js_ast.Expr{}
		oldAllowIn := p.allowIn
		p.allowIn = true

		for p.lexer.Token != js_lexer.TCloseBracket {
			switch p.lexer.Token {
			case js_lexer.TComma:
				items = append(items, js_ast.Expr{Loc: p.lexer.Loc(), Data: &js_ast.EMissing{}})

			case js_lexer.TDotDotDot:
				dotsLoc := p.lexer.Loc()
				p.lexer.Next()
				item := p.parseExpr(js_ast.LComma)
				items = append(items, js_ast.Expr{Loc: dotsLoc, Data: &js_ast.ESpread{Value: item}})

			default:
				items = append(items, p.parseExpr(js_ast.LComma))
			}

			if p.lexer.Token != js_lexer.TComma {
				break
			}
			p.lexer.Next()
		}

		p.allowIn = oldAllowIn
		p.lexer.Expect(js_lexer.TCloseBracket)
		return js_ast.Expr{Loc: loc, Data: &js_ast.EArray{Items: items}}

	case js_lexer.TOpenBrace:
		p.lexer.Next()
		properties := []js_ast.Property{}
		oldAllowIn := p.allowIn
		p.allowIn = true

		for p.lexer.Token != js_lexer.TCloseBrace {
			properties = append(properties, p.parseProperty(false))

			if p.lexer.Token != js_lexer.TComma {
				break
			}
			p.lexer.Next()
		}

		p.allowIn = oldAllowIn
		p.lexer.Expect(js_lexer.TCloseBrace)
		return js_ast.Expr{Loc: loc, Data: &js_ast.EObject{Properties: properties}}

	case js_lexer.TImport:
		p.lexer.Next()
		if p.lexer.Token == js_lexer.TDot {
			p.addRangeError(logger.Range{Loc: loc, Len: 6}, "\"import.meta\" is not supported")
			panic(js_lexer.LexerPanic{})
		}

		p.lexer.Expect(js_lexer.TOpenParen)
		oldAllowIn := p.allowIn
		p.allowIn = true
		value := p.parseExpr(js_ast.LComma)
		p.allowIn = oldAllowIn
		p.lexer.Expect(js_lexer.TCloseParen)
		return js_ast.Expr{Loc: loc, Data: &js_ast.EImportCall{Expr: value}}
	}

	p.lexer.Unexpected()
	return js_ast.Expr{}
}

func (p *parser) parseFnExpr(loc logger.Loc, isAsync bool) js_ast.Expr {
	p.lexer.Expect(js_lexer.TFunction)
	if p.lexer.Token == js_lexer.TAsterisk {
		p.addRangeError(p.lexer.Range(), "Generator functions are not supported")
		panic(js_lexer.LexerPanic{})
	}

	var name *js_ast.LocRef
	if p.lexer.Token == js_lexer.TIdentifier {
		name = &js_ast.LocRef{Loc: p.lexer.Loc(), Ref: js_ast.InvalidRef, Name: p.lexer.Identifier}
		p.lexer.Next()
	}

	fn := p.parseFn(name, isAsync)
	return js_ast.Expr{Loc: loc, Data: &js_ast.EFunction{Fn: fn}}
}

// This assumes the caller has already checked for the "(" token. The result
// is either an arrow function or a parenthesized expression.
func (p *parser) parseParenExpr(loc logger.Loc, isAsync bool) js_ast.Expr {
	p.lexer.Expect(js_lexer.TOpenParen)
	items := []js_ast.Expr{}
	var spreadLoc *logger.Loc

	oldAllowIn := p.allowIn
	p.allowIn = true

	for p.lexer.Token != js_lexer.TCloseParen {
		if p.lexer.Token == js_lexer.TDotDotDot {
			dotsLoc := p.lexer.Loc()
			if spreadLoc == nil {
				spreadLoc = &dotsLoc
			}
			p.lexer.Next()
			item := p.parseExpr(js_ast.LComma)
			items = append(items, js_ast.Expr{Loc: dotsLoc, Data: &js_ast.ESpread{Value: item}})
		} else {
			items = append(items, p.parseExpr(js_ast.LComma))
		}

		if p.lexer.Token != js_lexer.TComma {
			break
		}
		p.lexer.Next()
	}

	p.allowIn = oldAllowIn
	p.lexer.Expect(js_lexer.TCloseParen)

	// Arrow functions
	if p.lexer.Token == js_lexer.TEqualsGreaterThan {
		if p.lexer.HasNewlineBefore {
			p.lexer.Unexpected()
		}
		args := []js_ast.Arg{}
		hasRestArg := false
		for i, item := range items {
			if spread, ok := item.Data.(*js_ast.ESpread); ok {
				if i+1 != len(items) {
					p.addError(item.Loc, "Unexpected \"...\"")
					panic(js_lexer.LexerPanic{})
				}
				hasRestArg = true
				item = spread.Value
			}

			var defaultValue js_ast.Expr
			if assign, ok := item.Data.(*js_ast.EBinary); ok && assign.Op == js_ast.BinOpAssign && !hasRestArg {
				item = assign.Left
				defaultValue = assign.Right
			}

			binding, ok := p.convertExprToBinding(item)
			if !ok {
				p.addError(item.Loc, "Invalid binding pattern")
				panic(js_lexer.LexerPanic{})
			}
			args = append(args, js_ast.Arg{Binding: binding, DefaultOrNil: defaultValue})
		}
		return p.parseArrowBody(loc, args, hasRestArg, isAsync)
	}

	// A call to a function named "async"
	if isAsync {
		return js_ast.Expr{Loc: loc, Data: &js_ast.ECall{
			Target: js_ast.Expr{Loc: loc, Data: &js_ast.EIdentifier{Ref: js_ast.InvalidRef, Name: "async"}},
			Args:   items,
		}}
	}

	if spreadLoc != nil {
		p.addError(*spreadLoc, "Unexpected \"...\"")
		panic(js_lexer.LexerPanic{})
	}

	if len(items) == 0 {
		p.lexer.Expected(js_lexer.TEqualsGreaterThan)
	}

	return js_ast.JoinAllWithComma(items)
}

func (p *parser) parseArrowBody(loc logger.Loc, args []js_ast.Arg, hasRestArg bool, isAsync bool) js_ast.Expr {
	p.lexer.Expect(js_lexer.TEqualsGreaterThan)

	oldIsAsync := p.isAsync
	p.isAsync = isAsync
	defer func() { p.isAsync = oldIsAsync }()

	arrow := &js_ast.EArrow{Args: args, HasRestArg: hasRestArg, IsAsync: isAsync}

	if p.lexer.Token == js_lexer.TOpenBrace {
		arrow.Body = p.parseFnBody()
		return js_ast.Expr{Loc: loc, Data: arrow}
	}

	p.fnDepth++
	value := p.parseExpr(js_ast.LComma)
	p.fnDepth--
	arrow.PreferExpr = true
	arrow.Body = js_ast.FnBody{Loc: value.Loc, Stmts: []js_ast.Stmt{{Loc: value.Loc, Data: &js_ast.SReturn{ValueOrNil: value}}}}
	return js_ast.Expr{Loc: loc, Data: arrow}
}

func (p *parser) parseCallArgs() []js_ast.Expr {
	// Allow "in" inside call arguments
	oldAllowIn := p.allowIn
	p.allowIn = true

	args := []js_ast.Expr{}
	p.lexer.Expect(js_lexer.TOpenParen)

	for p.lexer.Token != js_lexer.TCloseParen {
		loc := p.lexer.Loc()
		isSpread := p.lexer.Token == js_lexer.TDotDotDot
		if isSpread {
			p.lexer.Next()
		}
		arg := p.parseExpr(js_ast.LComma)
		if isSpread {
			arg = js_ast.Expr{Loc: loc, Data: &js_ast.ESpread{Value: arg}}
		}
		args = append(args, arg)
		if p.lexer.Token != js_lexer.TComma {
			break
		}
		p.lexer.Next()
	}

	p.lexer.Expect(js_lexer.TCloseParen)
	p.allowIn = oldAllowIn
	return args
}

func (p *parser) checkUpdateTarget(expr js_ast.Expr) {
	switch expr.Data.(type) {
	case *js_ast.EIdentifier, *js_ast.EDot, *js_ast.EIndex:
	default:
		p.addError(expr.Loc, "Invalid assignment target")
	}
}

func (p *parser) parseSuffix(left js_ast.Expr, level js_ast.L) js_ast.Expr {
	for {
		switch p.lexer.Token {
		case js_lexer.TDot:
			p.lexer.Next()
			nameLoc := p.lexer.Loc()
			name := p.lexer.Identifier
			if !p.lexer.IsIdentifierOrKeyword() {
				p.lexer.Expect(js_lexer.TIdentifier)
			}
			p.lexer.Next()
			left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EDot{Target: left, Name: name, NameLoc: nameLoc}}

		case js_lexer.TQuestionDot:
			if level >= js_ast.LCall {
				return left
			}
			p.lexer.Next()

			switch p.lexer.Token {
			case js_lexer.TOpenBracket:
				p.lexer.Next()
				oldAllowIn := p.allowIn
				p.allowIn = true
				index := p.parseExpr(js_ast.LLowest)
				p.allowIn = oldAllowIn
				p.lexer.Expect(js_lexer.TCloseBracket)
				left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EIndex{Target: left, Index: index, OptionalChain: true}}

			case js_lexer.TOpenParen:
				args := p.parseCallArgs()
				left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.ECall{Target: left, Args: args, OptionalChain: true}}

			default:
				nameLoc := p.lexer.Loc()
				name := p.lexer.Identifier
				if !p.lexer.IsIdentifierOrKeyword() {
					p.lexer.Expect(js_lexer.TIdentifier)
				}
				p.lexer.Next()
				left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EDot{Target: left, Name: name, NameLoc: nameLoc, OptionalChain: true}}
			}

		case js_lexer.TOpenBracket:
			p.lexer.Next()
			oldAllowIn := p.allowIn
			p.allowIn = true
			index := p.parseExpr(js_ast.LLowest)
			p.allowIn = oldAllowIn
			p.lexer.Expect(js_lexer.TCloseBracket)
			left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EIndex{Target: left, Index: index}}

		case js_lexer.TOpenParen:
			if level >= js_ast.LCall {
				return left
			}
			args := p.parseCallArgs()
			left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.ECall{Target: left, Args: args}}

		case js_lexer.TQuestion:
			if level >= js_ast.LConditional {
				return left
			}
			p.lexer.Next()

			// Allow "in" inside the conditional
			oldAllowIn := p.allowIn
			p.allowIn = true
			yes := p.parseExpr(js_ast.LComma)
			p.allowIn = oldAllowIn

			p.lexer.Expect(js_lexer.TColon)
			no := p.parseExpr(js_ast.LComma)
			left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EIf{Test: left, Yes: yes, No: no}}

		case js_lexer.TMinusMinus, js_lexer.TPlusPlus:
			if p.lexer.HasNewlineBefore || level >= js_ast.LPostfix {
				return left
			}
			op := js_ast.UnOpPostDec
			if p.lexer.Token == js_lexer.TPlusPlus {
				op = js_ast.UnOpPostInc
			}
			p.checkUpdateTarget(left)
			p.lexer.Next()
			left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EUnary{Op: op, Value: left}}

		case js_lexer.TComma:
			if level >= js_ast.LComma {
				return left
			}
			p.lexer.Next()
			right := p.parseExpr(js_ast.LComma)
			left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EBinary{Op: js_ast.BinOpComma, Left: left, Right: right}}

		default:
			if op, ok := binaryOps[p.lexer.Token]; ok {
				opLevel := js_ast.OpTable[op].Level
				if level >= opLevel || (op == js_ast.BinOpIn && !p.allowIn) {
					return left
				}
				p.lexer.Next()

				// "**" is right-associative
				rightLevel := opLevel
				if op == js_ast.BinOpPow {
					rightLevel--
				}
				right := p.parseExpr(rightLevel)
				left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EBinary{Op: op, Left: left, Right: right}}
				continue
			}

			if op, ok := assignOps[p.lexer.Token]; ok {
				if level >= js_ast.LAssign {
					return left
				}
				if op == js_ast.BinOpAssign {
					p.checkAssignTarget(left)
				} else {
					p.checkUpdateTarget(left)
				}
				p.lexer.Next()
				right := p.parseExpr(js_ast.LAssign - 1)
				left = js_ast.Expr{Loc: left.Loc, Data: &js_ast.EBinary{Op: op, Left: left, Right: right}}
				continue
			}

			return left
		}
	}
}
