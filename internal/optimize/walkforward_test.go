package optimize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindows(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("standard slide", func(t *testing.T) {
		end := start.AddDate(0, 0, 380)
		windows := Windows(start, end, 252, 63, 21)
		// Test windows end at day 315, 336, 357, 378; day 399 runs past end.
		require.Len(t, windows, 4)

		first := windows[0]
		assert.Equal(t, start, first.TrainStart)
		assert.Equal(t, start.AddDate(0, 0, 252), first.TrainEnd)
		assert.Equal(t, first.TrainEnd, first.TestStart)
		assert.Equal(t, start.AddDate(0, 0, 315), first.TestEnd)

		for i := 1; i < len(windows); i++ {
			assert.Equal(t, windows[i-1].TrainStart.AddDate(0, 0, 21), windows[i].TrainStart)
			assert.False(t, windows[i].TestEnd.After(end))
		}
	})

	t.Run("504 day range", func(t *testing.T) {
		end := start.AddDate(0, 0, 504)
		windows := Windows(start, end, 252, 63, 21)
		// 504-315 = 189 days of slack, sliding 21 days at a time: 10 windows.
		require.Len(t, windows, 10)
		last := windows[len(windows)-1]
		assert.Equal(t, end, last.TestEnd)
	})

	t.Run("range too short for one window", func(t *testing.T) {
		end := start.AddDate(0, 0, 100)
		assert.Empty(t, Windows(start, end, 252, 63, 21))
	})

	t.Run("exact single window", func(t *testing.T) {
		end := start.AddDate(0, 0, 315)
		windows := Windows(start, end, 252, 63, 21)
		require.Len(t, windows, 1)
		assert.Equal(t, end, windows[0].TestEnd)
	})
}
