// Package aggregate holds the bounded in-memory stores derived from
// detection output: occupancy heatmaps, people counts, audio history,
// shelf fullness and cross-camera trajectories. Everything here is
// best-effort telemetry; nothing is persisted.
package aggregate

import (
	"sync"

	"github.com/technosupport/ts-monitor/internal/detect"
)

const (
	HeatmapCols = 20
	HeatmapRows = 15

	// adjacentBump is the fractional increment applied to the four cells
	// neighboring a recorded position. Cheap spatial smoothing.
	adjacentBump = 0.25
)

// HeatmapData is one camera's grid in both raw and min-max normalized form.
type HeatmapData struct {
	CameraID   string      `json:"camera_id"`
	Cols       int         `json:"cols"`
	Rows       int         `json:"rows"`
	Raw        [][]float64 `json:"raw"`
	Normalized [][]float64 `json:"normalized"`
}

// HeatmapGenerator accumulates person positions into a fixed-size grid per
// camera.
type HeatmapGenerator struct {
	mu    sync.Mutex
	grids map[string][][]float64
}

func NewHeatmapGenerator() *HeatmapGenerator {
	return &HeatmapGenerator{grids: make(map[string][][]float64)}
}

// Record adds one normalized position (0..1) to the camera's grid. The hit
// cell gets a full increment, its four neighbors a fractional one.
func (h *HeatmapGenerator) Record(cameraID string, x, y float64) {
	col := clampIndex(int(x*HeatmapCols), HeatmapCols)
	row := clampIndex(int(y*HeatmapRows), HeatmapRows)

	h.mu.Lock()
	defer h.mu.Unlock()

	grid := h.grids[cameraID]
	if grid == nil {
		grid = emptyGrid()
		h.grids[cameraID] = grid
	}

	grid[row][col]++
	if row > 0 {
		grid[row-1][col] += adjacentBump
	}
	if row < HeatmapRows-1 {
		grid[row+1][col] += adjacentBump
	}
	if col > 0 {
		grid[row][col-1] += adjacentBump
	}
	if col < HeatmapCols-1 {
		grid[row][col+1] += adjacentBump
	}
}

// RecordDetections records the center of every person box.
func (h *HeatmapGenerator) RecordDetections(cameraID string, detections []detect.Detection) {
	for _, d := range detections {
		if d.IsPerson() {
			h.Record(cameraID, d.BBox.CenterX(), d.BBox.CenterY())
		}
	}
}

// Data returns the camera's grid. Cameras never recorded return an all-zero
// grid of the configured dimensions.
func (h *HeatmapGenerator) Data(cameraID string) *HeatmapData {
	h.mu.Lock()
	grid := h.grids[cameraID]
	raw := copyGrid(grid)
	h.mu.Unlock()

	if raw == nil {
		raw = emptyGrid()
	}
	return &HeatmapData{
		CameraID:   cameraID,
		Cols:       HeatmapCols,
		Rows:       HeatmapRows,
		Raw:        raw,
		Normalized: normalizeGrid(raw),
	}
}

// Reset clears a camera's grid.
func (h *HeatmapGenerator) Reset(cameraID string) {
	h.mu.Lock()
	delete(h.grids, cameraID)
	h.mu.Unlock()
}

func emptyGrid() [][]float64 {
	grid := make([][]float64, HeatmapRows)
	for i := range grid {
		grid[i] = make([]float64, HeatmapCols)
	}
	return grid
}

func copyGrid(grid [][]float64) [][]float64 {
	if grid == nil {
		return nil
	}
	out := make([][]float64, len(grid))
	for i, row := range grid {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// normalizeGrid min-max scales the grid to 0..1. An all-equal grid (including
// all-zero) normalizes to all-zero.
func normalizeGrid(grid [][]float64) [][]float64 {
	min, max := grid[0][0], grid[0][0]
	for _, row := range grid {
		for _, v := range row {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	out := emptyGrid()
	if max == min {
		return out
	}
	for i, row := range grid {
		for j, v := range row {
			out[i][j] = (v - min) / (max - min)
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
