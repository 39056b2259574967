package js_ast

import (
	"github.com/esmerge/esmerge/internal/logger"
)

func Assign(a Expr, b Expr) Expr {
	return Expr{Loc: a.Loc, Data: &EBinary{Op: BinOpAssign, Left: a, Right: b}}
}

func AssignStmt(a Expr, b Expr) Stmt {
	return Stmt{Loc: a.Loc, Data: &SExpr{Value: Assign(a, b)}}
}

func JoinWithComma(a Expr, b Expr) Expr {
	if a.Data == nil {
		return b
	}
	if b.Data == nil {
		return a
	}
	return Expr{Loc: a.Loc, Data: &EBinary{Op: BinOpComma, Left: a, Right: b}}
}

func JoinAllWithComma(all []Expr) (result Expr) {
	for _, value := range all {
		result = JoinWithComma(result, value)
	}
	return
}

// This turns a declaration pattern into an assignment target. It's used when
// the declarations of a lazily-initialized module are hoisted out of its
// initializer and the initializer assigns to them instead.
func ConvertBindingToExpr(binding Binding, wrapIdentifier func(logger.Loc, Ref) Expr) Expr {
	loc := binding.Loc

	switch b := binding.Data.(type) {
	case *BMissing:
		return Expr{Loc: loc, Data: &EMissing{}}

	case *BIdentifier:
		if wrapIdentifier != nil {
			return wrapIdentifier(loc, b.Ref)
		}
		return Expr{Loc: loc, Data: &EIdentifier{Ref: b.Ref, Name: b.Name}}

	case *BArray:
		exprs := make([]Expr, len(b.Items))
		for i, item := range b.Items {
			expr := ConvertBindingToExpr(item.Binding, wrapIdentifier)
			if b.HasSpread && i+1 == len(b.Items) {
				expr = Expr{Loc: expr.Loc, Data: &ESpread{Value: expr}}
			} else if item.DefaultValueOrNil.Data != nil {
				expr = Assign(expr, item.DefaultValueOrNil)
			}
			exprs[i] = expr
		}
		return Expr{Loc: loc, Data: &EArray{Items: exprs}}

	case *BObject:
		properties := make([]Property, len(b.Properties))
		for i, property := range b.Properties {
			value := ConvertBindingToExpr(property.Value, wrapIdentifier)
			kind := PropertyNormal
			if property.IsSpread {
				kind = PropertySpread
			}
			properties[i] = Property{
				Kind:             kind,
				IsComputed:       property.IsComputed,
				Key:              property.Key,
				ValueOrNil:       value,
				InitializerOrNil: property.DefaultValueOrNil,
			}
		}
		return Expr{Loc: loc, Data: &EObject{Properties: properties}}

	default:
		panic("Internal error")
	}
}

// Calls the callback for every identifier declared by the binding
func ForEachIdentifierBinding(binding Binding, callback func(loc logger.Loc, b *BIdentifier)) {
	switch b := binding.Data.(type) {
	case *BMissing:

	case *BIdentifier:
		callback(binding.Loc, b)

	case *BArray:
		for _, item := range b.Items {
			ForEachIdentifierBinding(item.Binding, callback)
		}

	case *BObject:
		for _, property := range b.Properties {
			ForEachIdentifierBinding(property.Value, callback)
		}

	default:
		panic("Internal error")
	}
}

// Returns true if evaluating this expression can be skipped entirely without
// changing the behavior of the program. The callback reports whether a ref is
// unbound, since reading an unbound identifier may throw.
func ExprCanBeRemovedIfUnused(expr Expr, isUnbound func(Ref) bool) bool {
	switch e := expr.Data.(type) {
	case *ENull, *EUndefined, *EMissing, *EBoolean, *ENumber, *EString, *EThis, *EFunction, *EArrow:
		return true

	case *EClass:
		return ClassCanBeRemovedIfUnused(e.Class, isUnbound)

	case *EIdentifier:
		// Unbound identifiers cannot be removed because they can have side effects.
		// One possible side effect is throwing a ReferenceError if they don't exist.
		// Another one is a getter with side effects on the global object.
		if e.Ref != InvalidRef && !isUnbound(e.Ref) {
			return true
		}
		switch e.Name {
		case "undefined", "NaN", "Infinity":
			return true
		}

	case *EIf:
		return ExprCanBeRemovedIfUnused(e.Test, isUnbound) &&
			ExprCanBeRemovedIfUnused(e.Yes, isUnbound) &&
			ExprCanBeRemovedIfUnused(e.No, isUnbound)

	case *EArray:
		for _, item := range e.Items {
			if _, ok := item.Data.(*ESpread); ok {
				return false
			}
			if !ExprCanBeRemovedIfUnused(item, isUnbound) {
				return false
			}
		}
		return true

	case *EObject:
		for _, property := range e.Properties {
			// The key must still be evaluated if it's computed or a spread
			if property.Kind == PropertySpread || property.IsComputed {
				return false
			}
			if property.ValueOrNil.Data != nil && !ExprCanBeRemovedIfUnused(property.ValueOrNil, isUnbound) {
				return false
			}
		}
		return true

	case *EUnary:
		switch e.Op {
		// These operators must not have any type conversions that can execute code
		// such as "toString" or "valueOf". They must also never throw any exceptions.
		case UnOpVoid, UnOpNot:
			return ExprCanBeRemovedIfUnused(e.Value, isUnbound)

		// The "typeof" operator doesn't do any type conversions so it can be removed
		// if the result is unused and the operand has no side effects. It also
		// doesn't throw for a missing identifier.
		case UnOpTypeof:
			if _, ok := e.Value.Data.(*EIdentifier); ok {
				return true
			}
			return ExprCanBeRemovedIfUnused(e.Value, isUnbound)
		}

	case *EBinary:
		switch e.Op {
		// These operators must not have any type conversions that can execute code
		// such as "toString" or "valueOf". They must also never throw any exceptions.
		case BinOpStrictEq, BinOpStrictNe, BinOpComma, BinOpNullishCoalescing,
			BinOpLogicalOr, BinOpLogicalAnd:
			return ExprCanBeRemovedIfUnused(e.Left, isUnbound) && ExprCanBeRemovedIfUnused(e.Right, isUnbound)
		}
	}

	return false
}

func ClassCanBeRemovedIfUnused(class Class, isUnbound func(Ref) bool) bool {
	if class.ExtendsOrNil.Data != nil && !ExprCanBeRemovedIfUnused(class.ExtendsOrNil, isUnbound) {
		return false
	}

	for _, property := range class.Properties {
		if property.IsComputed && !ExprCanBeRemovedIfUnused(property.Key, isUnbound) {
			return false
		}
		if property.IsMethod {
			continue
		}
		if property.IsStatic {
			if property.ValueOrNil.Data != nil && !ExprCanBeRemovedIfUnused(property.ValueOrNil, isUnbound) {
				return false
			}
			if property.InitializerOrNil.Data != nil && !ExprCanBeRemovedIfUnused(property.InitializerOrNil, isUnbound) {
				return false
			}
		}
	}

	return true
}
