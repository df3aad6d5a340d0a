// File: internal/device/coords.go
package device

import (
	"fmt"
	"math"
)

// NormalizedMax is the upper bound of the resolution-independent coordinate
// space. Planner decisions use [0,NormalizedMax] on both axes; pixels exist
// only past this boundary.
const NormalizedMax = 1000

// Scale converts a normalized coordinate pair to device pixels:
// px = round(norm/1000 * dimension). Out-of-range input is rejected rather
// than clamped so that planning errors stay visible.
func Scale(normX, normY float64, screenW, screenH int) (int, int, error) {
	if err := validateNorm("x", normX); err != nil {
		return 0, 0, err
	}
	if err := validateNorm("y", normY); err != nil {
		return 0, 0, err
	}
	if screenW <= 0 || screenH <= 0 {
		return 0, 0, fmt.Errorf("invalid screen dimensions %dx%d", screenW, screenH)
	}

	px := int(math.Round(normX / NormalizedMax * float64(screenW)))
	py := int(math.Round(normY / NormalizedMax * float64(screenH)))
	return px, py, nil
}

func validateNorm(axis string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > NormalizedMax {
		return fmt.Errorf("normalized %s coordinate %v outside [0,%d]", axis, v, NormalizedMax)
	}
	return nil
}
