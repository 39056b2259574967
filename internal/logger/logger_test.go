package logger_test

import (
	"testing"

	"github.com/esmerge/esmerge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgIDs(t *testing.T) {
	for id := logger.MsgID_None + 1; id < logger.MsgID_END; id++ {
		str := logger.MsgIDToString(id)
		require.NotEmpty(t, str, "message id %d has no name", id)

		back, ok := logger.StringToMsgID(str)
		require.True(t, ok)
		assert.Equal(t, id, back)
	}
}

func TestMsgString(t *testing.T) {
	source := logger.Source{
		PrettyPath: "src/entry.js",
		Contents:   "import { a } from './a'\nlet x = missing\n",
	}
	log := logger.NewDeferLog()
	log.AddRangeError(&source, logger.Range{Loc: logger.Loc{Start: 32}, Len: 7}, "Could not find \"missing\"")
	msgs := log.Done()
	require.Len(t, msgs, 1)

	assert.Equal(t, "src/entry.js:2:8: error: Could not find \"missing\"\nlet x = missing\n        ~~~~~~~\n",
		msgs[0].String(logger.OutputOptions{IncludeSource: true}))
	assert.Equal(t, "src/entry.js:2:8: error: Could not find \"missing\"\n",
		msgs[0].String(logger.OutputOptions{}))
}

func TestDeferLogSortsMessages(t *testing.T) {
	b := logger.Source{PrettyPath: "b.js", Contents: "x"}
	a := logger.Source{PrettyPath: "a.js", Contents: "x"}

	log := logger.NewDeferLog()
	log.AddWarning(&b, logger.Loc{}, "second")
	assert.False(t, log.HasErrors())
	log.AddError(&a, logger.Loc{}, "first")
	log.AddMsg(logger.Msg{Kind: logger.Warning, Text: "no location"})
	assert.True(t, log.HasErrors())

	msgs := log.Done()
	require.Len(t, msgs, 3)
	assert.Equal(t, "no location", msgs[0].Text)
	assert.Equal(t, "first", msgs[1].Text)
	assert.Equal(t, "second", msgs[2].Text)
	assert.Equal(t, "1 warning and 1 error", logger.ErrorAndWarningSummary(msgs[1:]))
}
