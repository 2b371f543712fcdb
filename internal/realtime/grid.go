package realtime

import "dilag/internal/types"

const (
	gridColumns = 4
	gridCellX   = 480
	gridCellY   = 960
	gridOriginX = 40
	gridOriginY = 40
)

// gridPosition returns the canvas slot for the n-th screen of a session.
func gridPosition(n int) types.ScreenPosition {
	col := n % gridColumns
	row := n / gridColumns
	return types.ScreenPosition{
		X: float64(gridOriginX + col*gridCellX),
		Y: float64(gridOriginY + row*gridCellY),
	}
}
