package tsdf

import (
	"github.com/aukilabs/tsdf/geometry"
	"github.com/go-gl/mathgl/mgl32"
)

// normalEpsilon is the gradient length below which TrilinearNormal returns
// the gradient unnormalized.
const normalEpsilon = 1e-5

type trilinearCorner struct {
	voxel  geometry.Index3
	weight float32
}

// trilinearCorners returns the 8 voxels surrounding p and their trilinear
// weights.
func (f *Field) trilinearCorners(p mgl32.Vec3) [8]trilinearCorner {
	normalized := p.Mul(f.voxelSizeInv)
	corner := geometry.FloorVec3(normalized)
	frac := normalized.Sub(corner.Vec3())

	fx, fy, fz := frac.X(), frac.Y(), frac.Z()
	gx, gy, gz := 1-fx, 1-fy, 1-fz

	return [8]trilinearCorner{
		{corner.Add(geometry.NewIndex3(0, 0, 0)), gx * gy * gz},
		{corner.Add(geometry.NewIndex3(0, 0, 1)), gx * gy * fz},
		{corner.Add(geometry.NewIndex3(0, 1, 0)), gx * fy * gz},
		{corner.Add(geometry.NewIndex3(0, 1, 1)), gx * fy * fz},
		{corner.Add(geometry.NewIndex3(1, 0, 0)), fx * gy * gz},
		{corner.Add(geometry.NewIndex3(1, 0, 1)), fx * gy * fz},
		{corner.Add(geometry.NewIndex3(1, 1, 0)), fx * fy * gz},
		{corner.Add(geometry.NewIndex3(1, 1, 1)), fx * fy * fz},
	}
}

// TrilinearAccess interpolates distance and weight at a world position.
// It fails when any of the 8 surrounding voxels has weight 0: partial
// neighborhoods are never extrapolated.
func (f *Field) TrilinearAccess(p mgl32.Vec3) (Voxel, bool) {
	var result Voxel
	for _, c := range f.trilinearCorners(p) {
		v := f.GetVoxel(c.voxel)
		if v.Weight == 0 {
			return Voxel{}, false
		}
		result.Distance += v.Distance * c.weight
		result.Weight += v.Weight * c.weight
	}
	return result, true
}

// TrilinearGradient estimates the distance gradient at p with central
// differences half a voxel apart. Near the surface it points along the
// surface normal.
func (f *Field) TrilinearGradient(p mgl32.Vec3) (mgl32.Vec3, bool) {
	h := f.voxelSize * 0.5

	var grad mgl32.Vec3
	for axis := 0; axis < 3; axis++ {
		var offset mgl32.Vec3
		offset[axis] = h

		lo, ok := f.TrilinearAccess(p.Sub(offset))
		if !ok {
			return mgl32.Vec3{}, false
		}
		hi, ok := f.TrilinearAccess(p.Add(offset))
		if !ok {
			return mgl32.Vec3{}, false
		}
		grad[axis] = (hi.Distance - lo.Distance) / f.voxelSize
	}
	return grad, true
}

// TrilinearNormal returns the normalized gradient at p. Only meaningful
// close to the surface.
func (f *Field) TrilinearNormal(p mgl32.Vec3) (mgl32.Vec3, bool) {
	grad, ok := f.TrilinearGradient(p)
	if !ok {
		return grad, false
	}

	l := grad.Len()
	if l < normalEpsilon {
		return grad, true
	}
	return grad.Mul(1 / l), true
}
