package utils

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

// ModAngDeg maps ang into [0, 360).
func ModAngDeg(ang float64) float64 {
	m := math.Mod(math.Mod(ang, 360)+360, 360)
	if m >= 360 {
		return 0
	}
	return m
}

// Float64AlmostEqual reports whether a and b are within epsilon of each other.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return scalar.EqualWithinAbs(a, b, epsilon)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
