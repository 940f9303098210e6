package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

func EqualWithEpsilon(a float32, b float32, epsilon float64) bool {
	return math.Abs((float64)(a-b)) <= epsilon
}

func InRangeWithEpsilon(value float32, min float32, max float32, epsilon float32) bool {
	return value+epsilon >= min && value-epsilon <= max
}

func Vec3EqualWithEpsilon(a, b mgl32.Vec3, epsilon float64) bool {
	return EqualWithEpsilon(a.X(), b.X(), epsilon) &&
		EqualWithEpsilon(a.Y(), b.Y(), epsilon) &&
		EqualWithEpsilon(a.Z(), b.Z(), epsilon)
}

// FloorVec3 returns the integer coordinate of the cell containing v.
func FloorVec3(v mgl32.Vec3) Index3 {
	return Index3{
		int32(math.Floor(float64(v.X()))),
		int32(math.Floor(float64(v.Y()))),
		int32(math.Floor(float64(v.Z()))),
	}
}

// RoundVec3 returns the integer coordinate nearest to v.
func RoundVec3(v mgl32.Vec3) Index3 {
	return Index3{
		int32(math.Round(float64(v.X()))),
		int32(math.Round(float64(v.Y()))),
		int32(math.Round(float64(v.Z()))),
	}
}

func (a Index3) Vec3() mgl32.Vec3 {
	return mgl32.Vec3{float32(a.X), float32(a.Y), float32(a.Z)}
}

// Ray is a half line starting at Origin. Dir is not required to be
// normalized; distances along the ray are expressed in units of Dir.
type Ray struct {
	Origin mgl32.Vec3 `json:"origin"`
	Dir    mgl32.Vec3 `json:"dir"`
}

func (r Ray) At(t float32) mgl32.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}
