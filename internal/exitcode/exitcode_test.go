package exitcode_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/esmerge/esmerge/internal/exitcode"
	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	base := exitcode.Set(errors.New(""), 4)
	wrapped := fmt.Errorf("wrapping: %w", base)

	testCases := map[string]struct {
		err  error
		code int
	}{
		"nil":       {nil, exitcode.Success},
		"default":   {errors.New(""), exitcode.BuildFailed},
		"cancelled": {fmt.Errorf("bundle: %w", context.Canceled), exitcode.Interrupted},
		"set":       {exitcode.Set(errors.New(""), exitcode.Usage), exitcode.Usage},
		"wrapped":   {wrapped, 4},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.code, exitcode.Get(tc.err), "%v", tc.err)
		})
	}
}

func TestSet(t *testing.T) {
	t.Run("same-message", func(t *testing.T) {
		err := errors.New("hello")
		assert.Equal(t, err.Error(), exitcode.Set(err, 2).Error())
	})
	t.Run("keep-chain", func(t *testing.T) {
		err := errors.New("hello")
		assert.ErrorIs(t, exitcode.Set(err, 3), err)
	})
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, exitcode.Set(nil, 3))
	})
}
