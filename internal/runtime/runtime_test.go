package runtime_test

import (
	"testing"

	"github.com/esmerge/esmerge/internal/binder"
	"github.com/esmerge/esmerge/internal/js_ast"
	"github.com/esmerge/esmerge/internal/js_parser"
	"github.com/esmerge/esmerge/internal/logger"
	"github.com/esmerge/esmerge/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeParses(t *testing.T) {
	log := logger.NewDeferLog()
	source := runtime.Source()
	tree, ok := js_parser.Parse(log, source, js_ast.FormatESM)
	require.True(t, ok, "%v", log.Done())
	tree, ok = binder.Bind(log, source, tree, js_ast.FormatESM)
	require.True(t, ok, "%v", log.Done())
	assert.Empty(t, log.Done())

	assert.Equal(t, js_ast.ExportsESM, tree.ExportsKind)
	assert.Empty(t, tree.ImportRecords)
	for _, name := range runtime.Helpers {
		member, ok := tree.ModuleScope.Members[name]
		if assert.True(t, ok, name) {
			assert.NotEmpty(t, tree.TopLevelSymbolToParts[member.Ref], name)
		}
		assert.Contains(t, tree.NamedExports, name)
	}

	// Every helper is declared in its own part
	assert.Len(t, tree.Parts, 11)
}
