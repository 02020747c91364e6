package pollen_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollenindex/pollenindex/internal/pollen"
)

func TestLevel_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected pollen.Level
	}{
		{`"Low"`, pollen.LevelLow},
		{`"Moderate"`, pollen.LevelModerate},
		{`"High"`, pollen.LevelHigh},
		{`"Very High"`, pollen.LevelVeryHigh},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var l pollen.Level
			require.NoError(t, json.Unmarshal([]byte(tt.input), &l))
			assert.Equal(t, tt.expected, l)
		})
	}
}

func TestLevel_UnmarshalJSON_Rejects(t *testing.T) {
	for _, input := range []string{`"Extreme"`, `"high"`, `""`} {
		t.Run(input, func(t *testing.T) {
			var l pollen.Level
			err := json.Unmarshal([]byte(input), &l)
			require.Error(t, err)
			assert.True(t, errors.Is(err, pollen.ErrUnknownLevel))
		})
	}

	var l pollen.Level
	err := json.Unmarshal([]byte(`3`), &l)
	require.Error(t, err)
	assert.False(t, errors.Is(err, pollen.ErrUnknownLevel))
}

func TestLevel_Color(t *testing.T) {
	assert.Equal(t, pollen.ColorGreen, pollen.LevelLow.Color())
	assert.Equal(t, pollen.ColorYellow, pollen.LevelModerate.Color())
	assert.Equal(t, pollen.ColorOrange, pollen.LevelHigh.Color())
	assert.Equal(t, pollen.ColorRed, pollen.LevelVeryHigh.Color())
}

func TestAllLevels(t *testing.T) {
	levels := pollen.AllLevels()
	require.Len(t, levels, 4)
	for _, l := range levels {
		parsed, err := pollen.ParseLevel(string(l))
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
}
