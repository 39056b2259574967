package js_ast

import (
	"testing"

	"github.com/esmerge/esmerge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSymbols(names ...string) SymbolMap {
	symbols := NewSymbolMap(1)
	for _, name := range names {
		symbols.Outer[0] = append(symbols.Outer[0], Symbol{OriginalName: name, Link: InvalidRef, Kind: SymbolOther})
	}
	return symbols
}

func TestMergeAndFollowSymbols(t *testing.T) {
	symbols := newTestSymbols("a", "b", "c")
	a, b, c := Ref{0, 0}, Ref{0, 1}, Ref{0, 2}
	symbols.Get(a).UseCountEstimate = 2
	symbols.Get(a).MustNotBeRenamed = true

	assert.Equal(t, b, MergeSymbols(symbols, a, b))
	assert.Equal(t, c, MergeSymbols(symbols, b, c))

	assert.Equal(t, c, FollowSymbols(symbols, a))
	assert.Equal(t, c, FollowSymbols(symbols, b))
	assert.Equal(t, c, FollowSymbols(symbols, c))

	// Following compresses the chain
	assert.Equal(t, c, symbols.Get(a).Link)
	assert.True(t, symbols.Get(c).MustNotBeRenamed)
	assert.Equal(t, uint32(2), symbols.Get(c).UseCountEstimate)

	// Merging a symbol into itself is a no-op
	assert.Equal(t, c, MergeSymbols(symbols, c, c))
	assert.Equal(t, InvalidRef, symbols.Get(c).Link)
}

func TestExprCanBeRemovedIfUnused(t *testing.T) {
	symbols := newTestSymbols("bound", "global")
	symbols.Get(Ref{0, 1}).Kind = SymbolUnbound
	isUnbound := func(ref Ref) bool { return symbols.Get(ref).Kind == SymbolUnbound }

	bound := Expr{Data: &EIdentifier{Ref: Ref{0, 0}, Name: "bound"}}
	global := Expr{Data: &EIdentifier{Ref: Ref{0, 1}, Name: "global"}}
	call := Expr{Data: &ECall{Target: bound}}

	assert.True(t, ExprCanBeRemovedIfUnused(bound, isUnbound))
	assert.False(t, ExprCanBeRemovedIfUnused(global, isUnbound))
	assert.False(t, ExprCanBeRemovedIfUnused(call, isUnbound))
	assert.True(t, ExprCanBeRemovedIfUnused(Expr{Data: &EUnary{Op: UnOpTypeof, Value: global}}, isUnbound))
	assert.True(t, ExprCanBeRemovedIfUnused(Expr{Data: &EArray{Items: []Expr{bound, {Data: &ENumber{Value: 1}}}}}, isUnbound))
	assert.False(t, ExprCanBeRemovedIfUnused(Expr{Data: &EArray{Items: []Expr{call}}}, isUnbound))
	assert.False(t, ExprCanBeRemovedIfUnused(Expr{Data: &EBinary{Op: BinOpAdd, Left: bound, Right: bound}}, isUnbound))
	assert.True(t, ExprCanBeRemovedIfUnused(Expr{Data: &EBinary{Op: BinOpLogicalOr, Left: bound, Right: bound}}, isUnbound))

	class := Class{Properties: []Property{{IsStatic: true, Key: Expr{Data: &EString{Value: "x"}}, InitializerOrNil: call}}}
	assert.False(t, ClassCanBeRemovedIfUnused(class, isUnbound))
	class.Properties[0].IsStatic = false
	assert.True(t, ClassCanBeRemovedIfUnused(class, isUnbound))
}

func TestConvertBindingToExpr(t *testing.T) {
	binding := Binding{Data: &BObject{Properties: []PropertyBinding{
		{Key: Expr{Data: &EString{Value: "a"}}, Value: Binding{Data: &BIdentifier{Ref: Ref{0, 0}, Name: "a"}}},
		{Key: Expr{Data: &EString{Value: "b"}}, Value: Binding{Data: &BArray{Items: []ArrayBinding{
			{Binding: Binding{Data: &BIdentifier{Ref: Ref{0, 1}, Name: "c"}}, DefaultValueOrNil: Expr{Data: &ENumber{Value: 1}}},
		}}}},
	}}}

	expr := ConvertBindingToExpr(binding, nil)
	object, ok := expr.Data.(*EObject)
	require.True(t, ok)
	require.Len(t, object.Properties, 2)
	assert.Equal(t, Ref{0, 0}, object.Properties[0].ValueOrNil.Data.(*EIdentifier).Ref)

	array := object.Properties[1].ValueOrNil.Data.(*EArray)
	assign := array.Items[0].Data.(*EBinary)
	assert.Equal(t, BinOpAssign, assign.Op)
	assert.Equal(t, Ref{0, 1}, assign.Left.Data.(*EIdentifier).Ref)

	var names []string
	ForEachIdentifierBinding(binding, func(_ logger.Loc, b *BIdentifier) { names = append(names, b.Name) })
	assert.Equal(t, []string{"a", "c"}, names)
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, IsIdentifier("foo"))
	assert.True(t, IsIdentifier("$_0"))
	assert.True(t, IsIdentifier("café"))
	assert.False(t, IsIdentifier(""))
	assert.False(t, IsIdentifier("0a"))
	assert.False(t, IsIdentifier("a-b"))
}
