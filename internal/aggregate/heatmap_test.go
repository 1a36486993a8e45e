package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-monitor/internal/detect"
)

func TestHeatmapSinglePositionNormalizesToOne(t *testing.T) {
	h := NewHeatmapGenerator()
	h.Record("cam-1", 0.5, 0.5)

	data := h.Data("cam-1")
	assert.Equal(t, HeatmapCols, data.Cols)
	assert.Equal(t, HeatmapRows, data.Rows)

	maxVal := 0.0
	for _, row := range data.Normalized {
		for _, v := range row {
			assert.LessOrEqual(t, v, 1.0)
			if v > maxVal {
				maxVal = v
			}
		}
	}
	assert.Equal(t, 1.0, maxVal)
}

func TestHeatmapAdjacentBump(t *testing.T) {
	h := NewHeatmapGenerator()
	h.Record("cam-1", 0.5, 0.5)

	data := h.Data("cam-1")
	row, col := HeatmapRows/2, HeatmapCols/2
	assert.Equal(t, 1.0, data.Raw[row][col])
	assert.Equal(t, adjacentBump, data.Raw[row-1][col])
	assert.Equal(t, adjacentBump, data.Raw[row+1][col])
	assert.Equal(t, adjacentBump, data.Raw[row][col-1])
	assert.Equal(t, adjacentBump, data.Raw[row][col+1])
}

func TestHeatmapCornerClamping(t *testing.T) {
	h := NewHeatmapGenerator()
	// Out-of-range positions clamp to the edge cells instead of panicking.
	h.Record("cam-1", -0.5, -0.5)
	h.Record("cam-1", 1.5, 1.5)

	data := h.Data("cam-1")
	assert.Equal(t, 1.0, data.Raw[0][0])
	assert.Equal(t, 1.0, data.Raw[HeatmapRows-1][HeatmapCols-1])
}

func TestHeatmapResetReturnsZeroGrid(t *testing.T) {
	h := NewHeatmapGenerator()
	h.Record("cam-1", 0.5, 0.5)
	h.Reset("cam-1")

	data := h.Data("cam-1")
	assert.Len(t, data.Raw, HeatmapRows)
	for _, row := range data.Raw {
		assert.Len(t, row, HeatmapCols)
		for _, v := range row {
			assert.Zero(t, v)
		}
	}
}

func TestHeatmapRecordDetectionsOnlyPersons(t *testing.T) {
	h := NewHeatmapGenerator()
	h.RecordDetections("cam-1", []detect.Detection{
		{Label: "person", BBox: detect.BBox{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.2}},
		{Label: "car", BBox: detect.BBox{X: 0.0, Y: 0.0, Width: 0.1, Height: 0.1}},
	})

	data := h.Data("cam-1")
	assert.Equal(t, 1.0, data.Raw[HeatmapRows/2][HeatmapCols/2])
	assert.Zero(t, data.Raw[0][0])
}
