package chart

import (
	"bytes"
	"testing"
	"time"

	"gas-tracker-bot/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(at time.Time, low, avg, high int64) types.GasReading {
	return types.GasReading{
		Low:       decimal.NewFromInt(low),
		Average:   decimal.NewFromInt(avg),
		High:      decimal.NewFromInt(high),
		FetchedAt: at,
	}
}

func TestRenderReadings(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	readings := []types.GasReading{
		reading(start, 10, 12, 15),
		reading(start.Add(30*time.Second), 11, 14, 18),
		reading(start.Add(time.Minute), 9, 11, 13),
	}

	png, err := RenderReadings(readings, types.MustThresholds("20", "50"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestRenderReadingsFlatPrices(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	readings := []types.GasReading{
		reading(start, 5, 5, 5),
		reading(start.Add(time.Minute), 5, 5, 5),
	}

	_, err := RenderReadings(readings, types.MustThresholds("5", "6"))
	require.NoError(t, err)
}

func TestRenderReadingsNotEnoughData(t *testing.T) {
	_, err := RenderReadings([]types.GasReading{reading(time.Now(), 1, 2, 3)}, types.MustThresholds("1", "2"))
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestValueRange(t *testing.T) {
	readings := []types.GasReading{reading(time.Now(), 10, 20, 30)}
	lo, hi := valueRange(readings, types.MustThresholds("20", "50"))
	assert.InDelta(t, 6, lo, 1e-9)
	assert.InDelta(t, 54, hi, 1e-9)
}
