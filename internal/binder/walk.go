package binder

import (
	"fmt"

	"github.com/esmerge/esmerge/internal/ast"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/logger"
)

// Both passes share this traversal so they push scopes in the same order.
// Anything that declares a symbol only runs in the declare pass and anything
// that resolves a name or rewrites an expression only runs in the visit pass.

func (b *binder) walkStmts(stmts []js_ast.Stmt) {
	for _, stmt := range stmts {
		b.walkStmt(stmt)
	}
}

func (b *binder) walkBlock(stmts []js_ast.Stmt) {
	b.pushScope(js_ast.ScopeBlock)
	b.walkStmts(stmts)
	b.popScope()
}

func (b *binder) walkStmt(stmt js_ast.Stmt) {
	switch s := stmt.Data.(type) {
	case *js_ast.SEmpty, *js_ast.SComment, *js_ast.SBreak, *js_ast.SContinue:

	case *js_ast.SImport:
		b.walkImport(s)

	case *js_ast.SExportClause:
		if b.isVisitPass {
			for i, item := range s.Items {
				ref, ok := b.findSymbol(item.Name.Name)
				if !ok {
					b.addError(b.rangeOfName(item.Name.Loc), fmt.Sprintf("%q is not declared in this file", item.Name.Name))
					continue
				}
				s.Items[i].Name.Ref = ref
				b.addExport(item.Alias, item.AliasLoc, ref)
			}
		}

	case *js_ast.SExportFrom:
		if !b.isVisitPass {
			s.NamespaceRef = b.newGeneratedSymbol(js_ast.SymbolOther, b.namespaceNameForRecord(s.ImportRecordIndex))
			for i, item := range s.Items {
				// Re-exported names do not create local bindings
				ref := b.newGeneratedSymbol(js_ast.SymbolImport, item.Name.Name)
				s.Items[i].Name.Ref = ref
				b.tree.NamedImports[ref] = js_ast.NamedImport{
					Alias:             item.Name.Name,
					AliasLoc:          item.Name.Loc,
					NamespaceRef:      s.NamespaceRef,
					ImportRecordIndex: s.ImportRecordIndex,
					IsExported:        true,
				}
			}
		} else {
			b.recordImportRecord(s.ImportRecordIndex)
			for _, item := range s.Items {
				b.addExport(item.Alias, item.AliasLoc, item.Name.Ref)
			}
		}

	case *js_ast.SExportStar:
		if !b.isVisitPass {
			if s.Alias != nil {
				s.NamespaceRef = b.newGeneratedSymbol(js_ast.SymbolImport, s.Alias.Alias)
				s.Alias.Name.Ref = s.NamespaceRef
				b.tree.NamedImports[s.NamespaceRef] = js_ast.NamedImport{
					Alias:             "*",
					AliasLoc:          s.Alias.AliasLoc,
					NamespaceRef:      s.NamespaceRef,
					ImportRecordIndex: s.ImportRecordIndex,
					AliasIsStar:       true,
					IsExported:        true,
				}
			} else {
				s.NamespaceRef = b.newGeneratedSymbol(js_ast.SymbolOther, b.namespaceNameForRecord(s.ImportRecordIndex))
			}
		} else {
			b.recordImportRecord(s.ImportRecordIndex)
			if s.Alias != nil {
				b.addExport(s.Alias.Alias, s.Alias.AliasLoc, s.NamespaceRef)
			} else {
				b.tree.ExportStarImportRecords = append(b.tree.ExportStarImportRecords, s.ImportRecordIndex)
			}
		}

	case *js_ast.SExportDefault:
		b.walkExportDefault(s)

	case *js_ast.SExpr:
		s.Value = b.visitExpr(s.Value)

	case *js_ast.SLocal:
		kind := js_ast.SymbolOther
		switch s.Kind {
		case js_ast.LocalVar:
			kind = js_ast.SymbolHoisted
		case js_ast.LocalConst:
			kind = js_ast.SymbolConst
		}
		b.walkDecls(s.Decls, kind)
		if s.IsExport && b.isVisitPass {
			for _, decl := range s.Decls {
				js_ast.ForEachIdentifierBinding(decl.Binding, func(loc logger.Loc, id *js_ast.BIdentifier) {
					b.addExport(id.Name, loc, id.Ref)
				})
			}
		}

	case *js_ast.SFunction:
		s.Fn.Name.Ref = b.bindName(js_ast.SymbolHoistedFunction, s.Fn.Name.Loc, s.Fn.Name.Name)
		b.walkFn(&s.Fn, false)
		if s.IsExport && b.isVisitPass {
			b.addExport(s.Fn.Name.Name, s.Fn.Name.Loc, s.Fn.Name.Ref)
		}

	case *js_ast.SClass:
		s.Class.Name.Ref = b.bindName(js_ast.SymbolClass, s.Class.Name.Loc, s.Class.Name.Name)
		b.walkClass(&s.Class, false)
		if s.IsExport && b.isVisitPass {
			b.addExport(s.Class.Name.Name, s.Class.Name.Loc, s.Class.Name.Ref)
		}

	case *js_ast.SReturn:
		if s.ValueOrNil.Data != nil {
			s.ValueOrNil = b.visitExpr(s.ValueOrNil)
		}

	case *js_ast.SThrow:
		s.Value = b.visitExpr(s.Value)

	case *js_ast.SIf:
		s.Test = b.visitExpr(s.Test)
		b.walkStmt(s.Yes)
		if s.NoOrNil.Data != nil {
			b.walkStmt(s.NoOrNil)
		}

	case *js_ast.SFor:
		b.pushScope(js_ast.ScopeBlock)
		if s.InitOrNil.Data != nil {
			b.walkStmt(s.InitOrNil)
		}
		if s.TestOrNil.Data != nil {
			s.TestOrNil = b.visitExpr(s.TestOrNil)
		}
		if s.UpdateOrNil.Data != nil {
			s.UpdateOrNil = b.visitExpr(s.UpdateOrNil)
		}
		b.walkStmt(s.Body)
		b.popScope()

	case *js_ast.SForIn:
		b.pushScope(js_ast.ScopeBlock)
		b.walkForInit(s.Init)
		s.Value = b.visitExpr(s.Value)
		b.walkStmt(s.Body)
		b.popScope()

	case *js_ast.SForOf:
		b.pushScope(js_ast.ScopeBlock)
		b.walkForInit(s.Init)
		s.Value = b.visitExpr(s.Value)
		b.walkStmt(s.Body)
		b.popScope()

	case *js_ast.SWhile:
		s.Test = b.visitExpr(s.Test)
		b.walkStmt(s.Body)

	case *js_ast.SDoWhile:
		b.walkStmt(s.Body)
		s.Test = b.visitExpr(s.Test)

	case *js_ast.SBlock:
		b.walkBlock(s.Stmts)

	case *js_ast.STry:
		b.tryDepth++
		b.walkBlock(s.Block)
		b.tryDepth--

		if s.Catch != nil {
			b.pushScope(js_ast.ScopeCatchBinding)
			if s.Catch.BindingOrNil.Data != nil {
				kind := js_ast.SymbolOther
				if _, ok := s.Catch.BindingOrNil.Data.(*js_ast.BIdentifier); ok {
					kind = js_ast.SymbolCatchIdentifier
				}
				b.walkBinding(s.Catch.BindingOrNil, kind)
			}
			b.walkBlock(s.Catch.Block)
			b.popScope()
		}

		if s.Finally != nil {
			b.walkBlock(s.Finally.Block)
		}

	case *js_ast.SSwitch:
		s.Test = b.visitExpr(s.Test)
		b.pushScope(js_ast.ScopeBlock)
		for i, c := range s.Cases {
			if c.ValueOrNil.Data != nil {
				s.Cases[i].ValueOrNil = b.visitExpr(c.ValueOrNil)
			}
			b.walkStmts(c.Body)
		}
		b.popScope()

	default:
		panic("Internal error")
	}
}

// A for-in or for-of initializer is either a declaration or an assignment
// target
func (b *binder) walkForInit(init js_ast.Stmt) {
	if expr, ok := init.Data.(*js_ast.SExpr); ok {
		expr.Value = b.visitAssignTarget(expr.Value)
		return
	}
	b.walkStmt(init)
}

func (b *binder) walkImport(s *js_ast.SImport) {
	if b.isVisitPass {
		b.recordImportRecord(s.ImportRecordIndex)
		if s.DefaultName != nil {
			s.DefaultName.Ref = b.bindName(js_ast.SymbolImport, s.DefaultName.Loc, s.DefaultName.Name)
		}
		if s.Items != nil {
			for i, item := range *s.Items {
				(*s.Items)[i].Name.Ref = b.bindName(js_ast.SymbolImport, item.Name.Loc, item.Name.Name)
			}
		}
		return
	}

	if s.StarNameLoc != nil {
		s.NamespaceRef = b.declareSymbol(js_ast.SymbolImport, *s.StarNameLoc, s.NamespaceName)
		b.starNamespaces[s.NamespaceRef] = starNamespace{
			importRecordIndex: s.ImportRecordIndex,
			partIndex:         uint32(b.partIndex),
		}
	} else {
		s.NamespaceRef = b.newGeneratedSymbol(js_ast.SymbolOther, b.namespaceNameForRecord(s.ImportRecordIndex))
	}

	if s.DefaultName != nil {
		ref := b.declareSymbol(js_ast.SymbolImport, s.DefaultName.Loc, s.DefaultName.Name)
		s.DefaultName.Ref = ref
		b.tree.NamedImports[ref] = js_ast.NamedImport{
			Alias:             "default",
			AliasLoc:          s.DefaultName.Loc,
			NamespaceRef:      s.NamespaceRef,
			ImportRecordIndex: s.ImportRecordIndex,
		}
	}

	if s.Items != nil {
		for i, item := range *s.Items {
			ref := b.declareSymbol(js_ast.SymbolImport, item.Name.Loc, item.Name.Name)
			(*s.Items)[i].Name.Ref = ref
			b.tree.NamedImports[ref] = js_ast.NamedImport{
				Alias:             item.Alias,
				AliasLoc:          item.AliasLoc,
				NamespaceRef:      s.NamespaceRef,
				ImportRecordIndex: s.ImportRecordIndex,
			}
		}
	}
}

func (b *binder) walkExportDefault(s *js_ast.SExportDefault) {
	switch v := s.Value.Data.(type) {
	case *js_ast.SFunction:
		if v.Fn.Name != nil {
			v.Fn.Name.Ref = b.bindName(js_ast.SymbolHoistedFunction, v.Fn.Name.Loc, v.Fn.Name.Name)
			s.DefaultName.Ref = v.Fn.Name.Ref
		} else if !b.isVisitPass {
			s.DefaultName.Ref = b.newGeneratedSymbol(js_ast.SymbolHoistedFunction, s.DefaultName.Name)
		}
		b.walkFn(&v.Fn, false)

	case *js_ast.SClass:
		if v.Class.Name != nil {
			v.Class.Name.Ref = b.bindName(js_ast.SymbolClass, v.Class.Name.Loc, v.Class.Name.Name)
			s.DefaultName.Ref = v.Class.Name.Ref
		} else if !b.isVisitPass {
			s.DefaultName.Ref = b.newGeneratedSymbol(js_ast.SymbolClass, s.DefaultName.Name)
		}
		b.walkClass(&v.Class, false)

	case *js_ast.SExpr:
		if !b.isVisitPass {
			s.DefaultName.Ref = b.newGeneratedSymbol(js_ast.SymbolOther, s.DefaultName.Name)
		}
		v.Value = b.visitExpr(v.Value)

	default:
		panic("Internal error")
	}

	if b.isVisitPass {
		b.addExport("default", s.DefaultName.Loc, s.DefaultName.Ref)
	}
}

func (b *binder) walkDecls(decls []js_ast.Decl, kind js_ast.SymbolKind) {
	for i, decl := range decls {
		b.walkBinding(decl.Binding, kind)
		if decl.ValueOrNil.Data != nil {
			decls[i].ValueOrNil = b.visitExpr(decl.ValueOrNil)
		}
	}
}

func (b *binder) walkBinding(binding js_ast.Binding, kind js_ast.SymbolKind) {
	switch d := binding.Data.(type) {
	case *js_ast.BMissing:

	case *js_ast.BIdentifier:
		d.Ref = b.bindName(kind, binding.Loc, d.Name)

	case *js_ast.BArray:
		for i, item := range d.Items {
			b.walkBinding(item.Binding, kind)
			if item.DefaultValueOrNil.Data != nil {
				d.Items[i].DefaultValueOrNil = b.visitExpr(item.DefaultValueOrNil)
			}
		}

	case *js_ast.BObject:
		for i, property := range d.Properties {
			if property.IsComputed {
				d.Properties[i].Key = b.visitExpr(property.Key)
			}
			b.walkBinding(property.Value, kind)
			if property.DefaultValueOrNil.Data != nil {
				d.Properties[i].DefaultValueOrNil = b.visitExpr(property.DefaultValueOrNil)
			}
		}

	default:
		panic("Internal error")
	}
}

func (b *binder) walkFn(fn *js_ast.Fn, isExpr bool) {
	scope := b.pushScope(js_ast.ScopeFunction)

	// The name of a function expression is only visible inside the function
	if isExpr && fn.Name != nil {
		fn.Name.Ref = b.bindName(js_ast.SymbolHoistedFunction, fn.Name.Loc, fn.Name.Name)
	}

	b.walkArgs(fn.Args)

	// Every non-arrow function has its own "arguments" variable
	if !b.isVisitPass {
		if _, ok := scope.Members["arguments"]; !ok {
			ref := b.newSymbol(js_ast.SymbolArguments, "arguments")
			b.symbols[ref.InnerIndex].MustNotBeRenamed = true
			scope.Members["arguments"] = js_ast.ScopeMember{Ref: ref, Loc: fn.Body.Loc}
		}
	} else if member, ok := scope.Members["arguments"]; ok && b.symbols[member.Ref.InnerIndex].Kind == js_ast.SymbolArguments {
		fn.ArgumentsRef = member.Ref
	}

	// A fresh try depth applies to the function body
	oldTryDepth := b.tryDepth
	b.tryDepth = 0
	b.walkStmts(fn.Body.Stmts)
	b.tryDepth = oldTryDepth

	b.popScope()
}

func (b *binder) walkArgs(args []js_ast.Arg) {
	for i, arg := range args {
		b.walkBinding(arg.Binding, js_ast.SymbolHoisted)
		if arg.DefaultOrNil.Data != nil {
			args[i].DefaultOrNil = b.visitExpr(arg.DefaultOrNil)
		}
	}
}

func (b *binder) walkArrow(arrow *js_ast.EArrow) {
	b.pushScope(js_ast.ScopeFunction)
	b.walkArgs(arrow.Args)
	oldTryDepth := b.tryDepth
	b.tryDepth = 0
	b.walkStmts(arrow.Body.Stmts)
	b.tryDepth = oldTryDepth
	b.popScope()
}

func (b *binder) walkClass(class *js_ast.Class, isExpr bool) {
	if class.ExtendsOrNil.Data != nil {
		class.ExtendsOrNil = b.visitExpr(class.ExtendsOrNil)
	}

	b.pushScope(js_ast.ScopeClassBody)

	// The name of a class expression is only visible inside the class
	if isExpr && class.Name != nil {
		class.Name.Ref = b.bindName(js_ast.SymbolClass, class.Name.Loc, class.Name.Name)
	}

	for i, property := range class.Properties {
		if property.IsComputed {
			class.Properties[i].Key = b.visitExpr(property.Key)
		}
		if property.ValueOrNil.Data != nil {
			class.Properties[i].ValueOrNil = b.visitExpr(property.ValueOrNil)
		}
		if property.InitializerOrNil.Data != nil {
			class.Properties[i].InitializerOrNil = b.visitExpr(property.InitializerOrNil)
		}
	}

	b.popScope()
}

func (b *binder) visitIdentifier(loc logger.Loc, e *js_ast.EIdentifier, isAssigned bool) {
	if !b.isVisitPass {
		return
	}
	e.Ref = b.resolveIdentifier(loc, e.Name)
	if isAssigned && b.symbols[e.Ref.InnerIndex].Kind == js_ast.SymbolImport {
		b.addError(logger.Range{Loc: loc, Len: int32(len(e.Name))}, fmt.Sprintf("Cannot assign to import %q", e.Name))
	}
	b.recordUsage(e.Ref, isAssigned)
}

// Assignment targets are visited separately since they are never rewritten
// into generated import items
func (b *binder) visitAssignTarget(expr js_ast.Expr) js_ast.Expr {
	switch e := expr.Data.(type) {
	case *js_ast.EIdentifier:
		b.visitIdentifier(expr.Loc, e, true)

	case *js_ast.EDot:
		e.Target = b.visitExpr(e.Target)

	case *js_ast.EIndex:
		e.Target = b.visitExpr(e.Target)
		e.Index = b.visitExpr(e.Index)

	case *js_ast.EArray:
		for i, item := range e.Items {
			e.Items[i] = b.visitAssignTarget(item)
		}

	case *js_ast.EMissing:

	case *js_ast.ESpread:
		e.Value = b.visitAssignTarget(e.Value)

	case *js_ast.EBinary:
		// A default value in a destructuring assignment
		if e.Op == js_ast.BinOpAssign {
			e.Left = b.visitAssignTarget(e.Left)
			e.Right = b.visitExpr(e.Right)
		} else {
			return b.visitExpr(expr)
		}

	case *js_ast.EObject:
		for i, property := range e.Properties {
			if property.IsComputed {
				e.Properties[i].Key = b.visitExpr(property.Key)
			}
			if property.ValueOrNil.Data != nil {
				e.Properties[i].ValueOrNil = b.visitAssignTarget(property.ValueOrNil)
			}
			if property.InitializerOrNil.Data != nil {
				e.Properties[i].InitializerOrNil = b.visitExpr(property.InitializerOrNil)
			}
		}

	default:
		return b.visitExpr(expr)
	}

	return expr
}

func (b *binder) visitExprs(exprs []js_ast.Expr) {
	for i, expr := range exprs {
		exprs[i] = b.visitExpr(expr)
	}
}

func (b *binder) visitExpr(expr js_ast.Expr) js_ast.Expr {
	switch e := expr.Data.(type) {
	case *js_ast.ENull, *js_ast.EUndefined, *js_ast.EMissing, *js_ast.EBoolean, *js_ast.ENumber,
		*js_ast.EString, *js_ast.EThis, *js_ast.ESuper, *js_ast.ERequireString, *js_ast.EImportString:

	case *js_ast.EIdentifier:
		b.visitIdentifier(expr.Loc, e, false)

	case *js_ast.EArray:
		b.visitExprs(e.Items)

	case *js_ast.ESpread:
		e.Value = b.visitExpr(e.Value)

	case *js_ast.EObject:
		for i, property := range e.Properties {
			if property.IsComputed {
				e.Properties[i].Key = b.visitExpr(property.Key)
			}
			if property.ValueOrNil.Data != nil {
				e.Properties[i].ValueOrNil = b.visitExpr(property.ValueOrNil)
			}
			if property.InitializerOrNil.Data != nil {
				e.Properties[i].InitializerOrNil = b.visitExpr(property.InitializerOrNil)
			}
		}

	case *js_ast.EUnary:
		if e.Op.UnaryAssignTarget() != js_ast.AssignTargetNone || e.Op == js_ast.UnOpDelete {
			e.Value = b.visitAssignTarget(e.Value)
		} else {
			e.Value = b.visitExpr(e.Value)
		}

	case *js_ast.EBinary:
		if e.Op.BinaryAssignTarget() != js_ast.AssignTargetNone {
			e.Left = b.visitAssignTarget(e.Left)
		} else {
			e.Left = b.visitExpr(e.Left)
		}
		e.Right = b.visitExpr(e.Right)

	case *js_ast.EIf:
		e.Test = b.visitExpr(e.Test)
		e.Yes = b.visitExpr(e.Yes)
		e.No = b.visitExpr(e.No)

	case *js_ast.ENew:
		e.Target = b.visitExpr(e.Target)
		b.visitExprs(e.Args)

	case *js_ast.ECall:
		if replacement, ok := b.maybeRewriteCall(expr, e); ok {
			return replacement
		}
		e.Target = b.visitExpr(e.Target)
		b.visitExprs(e.Args)

	case *js_ast.EDot:
		// "ns.foo" where "ns" is from "import * as ns"
		if id, ok := e.Target.Data.(*js_ast.EIdentifier); ok && b.isVisitPass && !e.OptionalChain {
			if ref, ok := b.findSymbol(id.Name); ok {
				if _, ok := b.starNamespaces[ref]; ok {
					itemRef := b.importItemForNamespace(ref, e.Name, e.NameLoc)
					b.recordUsage(itemRef, false)
					return js_ast.Expr{Loc: expr.Loc, Data: &js_ast.EIdentifier{Ref: itemRef, Name: e.Name}}
				}
			}
		}
		e.Target = b.visitExpr(e.Target)

	case *js_ast.EIndex:
		e.Target = b.visitExpr(e.Target)
		e.Index = b.visitExpr(e.Index)

	case *js_ast.EArrow:
		b.walkArrow(e)

	case *js_ast.EFunction:
		b.walkFn(&e.Fn, true)

	case *js_ast.EClass:
		b.walkClass(&e.Class, true)

	case *js_ast.EAwait:
		e.Value = b.visitExpr(e.Value)

	case *js_ast.EImportCall:
		if str, ok := e.Expr.Data.(*js_ast.EString); ok {
			if b.isVisitPass {
				index := b.addImportRecord(ast.ImportDynamic, b.rangeOfName(e.Expr.Loc), str.Value)
				return js_ast.Expr{Loc: expr.Loc, Data: &js_ast.EImportString{ImportRecordIndex: index}}
			}
			return expr
		}
		if b.isVisitPass {
			b.tree.UnsupportedSyntax = append(b.tree.UnsupportedSyntax, js_ast.Span{
				Text:  "import() with a non-string argument",
				Range: logger.Range{Loc: expr.Loc, Len: 6},
			})
		}
		e.Expr = b.visitExpr(e.Expr)

	default:
		panic("Internal error")
	}

	return expr
}

// Handles "require()" and direct "eval()" calls. Both only apply when the
// callee is an unbound identifier.
func (b *binder) maybeRewriteCall(expr js_ast.Expr, call *js_ast.ECall) (js_ast.Expr, bool) {
	if !b.isVisitPass || call.OptionalChain {
		return js_ast.Expr{}, false
	}
	id, ok := call.Target.Data.(*js_ast.EIdentifier)
	if !ok {
		return js_ast.Expr{}, false
	}
	if _, ok := b.findSymbol(id.Name); ok {
		return js_ast.Expr{}, false
	}

	switch id.Name {
	case "require":
		if len(call.Args) == 1 {
			if str, ok := call.Args[0].Data.(*js_ast.EString); ok {
				index := b.addImportRecord(ast.ImportRequire, b.rangeOfName(call.Args[0].Loc), str.Value)
				return js_ast.Expr{Loc: expr.Loc, Data: &js_ast.ERequireString{ImportRecordIndex: index}}, true
			}
		}
		b.log.AddID(logger.MsgID_JS_UnsupportedRequireCall, logger.Warning, &b.source, logger.Range{Loc: call.Target.Loc, Len: 7},
			"This call to \"require\" will not be bundled because the argument is not a string literal")

	case "eval":
		for scope := b.currentScope; scope != nil; scope = scope.Parent {
			scope.ContainsDirectEval = true
		}
		b.log.AddID(logger.MsgID_JS_DirectEval, logger.Warning, &b.source, logger.Range{Loc: call.Target.Loc, Len: 4},
			"Using direct eval prevents this module from being merged with other modules")
		b.tree.UnsupportedSyntax = append(b.tree.UnsupportedSyntax, js_ast.Span{
			Text:  "direct eval",
			Range: logger.Range{Loc: call.Target.Loc, Len: 4},
		})
	}

	return js_ast.Expr{}, false
}
