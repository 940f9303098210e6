package tsdf

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// intersectionLinear returns the root of the line through (t1, d1) and
// (t2, d2).
func intersectionLinear(t1, t2, d1, d2 float32) float32 {
	return t1 + (d1/(d1-d2))*(t2-t1)
}

// findIntersectionBisection refines a sign change of the distance between
// t1 and t2 with regula falsi steps.
func (f *Field) findIntersectionBisection(origin, dir mgl32.Vec3, t1, t2, d1, d2 float32, iterations int) (float32, bool) {
	a, b := t1, t2
	aDist, bDist := d1, d2
	c := intersectionLinear(a, b, aDist, bDist)

	for i := 0; i < iterations; i++ {
		sample, ok := f.TrilinearAccess(origin.Add(dir.Mul(c)))
		if !ok {
			return 0, false
		}

		cDist := sample.Distance
		if aDist*cDist > 0 {
			a, aDist = c, cDist
		} else {
			b, bDist = c, cDist
		}
		c = intersectionLinear(a, b, aDist, bDist)
	}

	return c, true
}

// RaySurfaceIntersection marches the ray origin + t*dir from tMin to tMax
// in fixed steps. When two consecutive successful samples go from outside
// (positive) to inside (negative), the crossing is refined with
// bisectIterations regula falsi steps and its t is returned.
//
// tMax is returned when no crossing is found. It is not a hit location.
func (f *Field) RaySurfaceIntersection(origin, dir mgl32.Vec3, tMin, tMax, step float32, bisectIterations int) float32 {
	t, hit := f.raySurfaceIntersection(origin, dir, tMin, tMax, step, bisectIterations)
	instrumentRaycast(hit)
	return t
}

// RaySteps returns how many samples a march from tMin to tMax takes with
// the given step. It is -1 when the count is not finite.
func RaySteps(tMin, tMax, step float32) int64 {
	if !(step > 0) || !(tMax > tMin) {
		return 0
	}
	n := math.Ceil((float64(tMax) - float64(tMin)) / float64(step))
	if math.IsInf(n, 0) || math.IsNaN(n) || n > math.MaxInt64/2 {
		return -1
	}
	return int64(n)
}

func (f *Field) raySurfaceIntersection(origin, dir mgl32.Vec3, tMin, tMax, step float32, bisectIterations int) (float32, bool) {
	steps := RaySteps(tMin, tMax, step)
	if steps <= 0 {
		return tMax, false
	}

	var (
		last   Voxel
		lastT  float32
		lastOK bool
	)

	// t is derived from the step counter since adding a step smaller than
	// the spacing of floats around t would leave t unchanged.
	for k := int64(0); k < steps; k++ {
		currentT := tMin + float32(k)*step
		if currentT >= tMax {
			break
		}

		current, ok := f.TrilinearAccess(origin.Add(dir.Mul(currentT)))
		if ok && lastOK && last.Distance > 0 && current.Distance < 0 {
			if t, found := f.findIntersectionBisection(origin, dir, lastT, currentT, last.Distance, current.Distance, bisectIterations); found {
				return t, true
			}
		}

		last, lastT, lastOK = current, currentT, ok
	}

	return tMax, false
}
