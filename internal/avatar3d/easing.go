package avatar3d

import (
	"math"
	"time"
)

func easeInCubic(t float64) float64 {
	return t * t * t
}

func easeOutCubic(t float64) float64 {
	return 1 - math.Pow(1-t, 3)
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// progress is elapsed/total clamped to [0,1]; a zero total is already complete.
func progress(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return clamp(float64(elapsed)/float64(total), 0, 1)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
