package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSweepNow(t *testing.T) {
	wall := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)

	t.Run("empty uses wall clock", func(t *testing.T) {
		now, err := parseSweepNow("", wall)
		require.NoError(t, err)
		assert.Equal(t, wall, now)
	})

	t.Run("past instant", func(t *testing.T) {
		now, err := parseSweepNow("2026-03-07T10:00:00Z", wall)
		require.NoError(t, err)
		assert.True(t, now.Equal(wall.Add(-24*time.Hour)))
	})

	t.Run("wall clock instant", func(t *testing.T) {
		now, err := parseSweepNow("2026-03-08T11:00:00+01:00", wall)
		require.NoError(t, err)
		assert.True(t, now.Equal(wall))
	})

	t.Run("future instant rejected", func(t *testing.T) {
		_, err := parseSweepNow("2026-03-08T10:00:01Z", wall)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after the current time")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseSweepNow("yesterday", wall)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--now")
	})
}
