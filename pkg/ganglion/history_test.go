package ganglion

import (
	"fmt"
	"testing"

	"github.com/srg/ganglion/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameHistory(t *testing.T) {
	logger := testutils.QuietLogger()

	t.Run("keeps frames in arrival order", func(t *testing.T) {
		h := newFrameHistory(16, logger)
		h.add([]byte{1})
		h.add([]byte{2})

		assert.Equal(t, [][]byte{{1}, {2}}, h.drain())
		assert.Empty(t, h.drain())
		assert.Zero(t, h.overwrites())
	})

	t.Run("stores a copy", func(t *testing.T) {
		h := newFrameHistory(4, logger)
		frame := []byte{1, 2}
		h.add(frame)
		frame[0] = 9

		assert.Equal(t, [][]byte{{1, 2}}, h.drain())
	})

	t.Run("overwrites the oldest when full", func(t *testing.T) {
		h := newFrameHistory(8, logger)
		for i := 0; i < 100; i++ {
			h.add([]byte(fmt.Sprintf("%d", i)))
		}

		got := h.drain()
		require.NotEmpty(t, got)
		assert.LessOrEqual(t, len(got), 8)
		assert.Equal(t, []byte("99"), got[len(got)-1])
		assert.Positive(t, h.overwrites())
	})

	t.Run("zero size disables history", func(t *testing.T) {
		h := newFrameHistory(0, logger)
		h.add([]byte{1})

		assert.Nil(t, h)
		assert.Nil(t, h.drain())
		assert.Zero(t, h.overwrites())
	})
}
