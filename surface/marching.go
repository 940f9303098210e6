// Package surface turns a TSDF into triangles with marching cubes and
// assembles the triangles into renderable meshes.
package surface

import (
	"github.com/aukilabs/tsdf/geometry"
	"github.com/aukilabs/tsdf/tsdf"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/go-gl/mathgl/mgl32"
)

// Sampler is the read access to a TSDF that surface extraction needs.
type Sampler interface {
	TrilinearAccess(p mgl32.Vec3) (tsdf.Voxel, bool)
	GlobalBlockOffset(block geometry.Index3) mgl32.Vec3
	VoxelSize() float32
}

// blockSDF exposes the region of one voxel block as an sdfx SDF3.
type blockSDF struct {
	sampler Sampler
	iso     float32
	box     sdf.Box3
	outside float64
}

func (s *blockSDF) Evaluate(p v3.Vec) float64 {
	v, ok := s.sampler.TrilinearAccess(toVec3(p))
	if !ok {
		return s.outside
	}
	return float64(v.Distance - s.iso)
}

func (s *blockSDF) BoundingBox() sdf.Box3 {
	return s.box
}

func toVec3(p v3.Vec) mgl32.Vec3 {
	return mgl32.Vec3{float32(p.X), float32(p.Y), float32(p.Z)}
}

func toV3(p mgl32.Vec3) v3.Vec {
	return v3.Vec{X: float64(p.X()), Y: float64(p.Y()), Z: float64(p.Z())}
}

// NewBlockExtractor returns a marching cubes triangulation of single
// blocks, with the given number of cells along a block edge.
//
// Voxels without data evaluate as outside. Triangles are kept only when
// every vertex can be sampled and lies within one voxel of the iso level,
// which drops the walls marching cubes would build against unset space.
// A triangle belongs to the block holding its centroid, so neighbouring
// blocks never emit the same triangle.
func NewBlockExtractor(s Sampler, cells int) tsdf.BlockSurfaceFunc {
	if cells <= 0 {
		cells = tsdf.BlockSize
	}
	cells = max(cells, 2)
	voxelSize := s.VoxelSize()
	voxelSizeInv := 1 / voxelSize
	extent := voxelSize * tsdf.BlockSize

	// sdfx grows the bounding box by one cell around its center. Shrinking
	// it by half a cell on each side first puts the lattice on
	// [origin, origin+extent].
	inset := extent / float32(2*cells)
	renderer := render.NewMarchingCubesUniform(cells - 1)

	return func(b *tsdf.VoxelBlock, iso float32) []tsdf.Triangle {
		origin := s.GlobalBlockOffset(b.Index)
		block := &blockSDF{
			sampler: s,
			iso:     iso,
			box: sdf.Box3{
				Min: toV3(origin.Add(mgl32.Vec3{inset, inset, inset})),
				Max: toV3(origin.Add(mgl32.Vec3{extent - inset, extent - inset, extent - inset})),
			},
			outside: float64(voxelSize),
		}

		var triangles []tsdf.Triangle
		for _, tri := range render.ToTriangles(block, renderer) {
			var t tsdf.Triangle
			keep := true
			for j := 0; j < 3; j++ {
				t[j] = toVec3(tri[j])

				v, ok := s.TrilinearAccess(t[j])
				if !ok || !geometry.InRangeWithEpsilon(v.Distance, iso, iso, voxelSize) {
					keep = false
					break
				}
			}
			if keep && ownerBlock(t, voxelSizeInv) == b.Index {
				triangles = append(triangles, t)
			}
		}
		return triangles
	}
}

// ownerBlock returns the block whose half-open region holds the centroid
// of t.
func ownerBlock(t tsdf.Triangle, voxelSizeInv float32) geometry.Index3 {
	centroid := t[0].Add(t[1]).Add(t[2]).Mul(voxelSizeInv / 3)
	return geometry.FloorVec3(centroid).FloorDiv(tsdf.BlockSize)
}

// Extract triangulates every block of f at the given iso level using
// threads workers.
func Extract(f *tsdf.Field, iso float32, threads int) [][]tsdf.Triangle {
	return f.ExtractSurface(iso, threads, NewBlockExtractor(f, tsdf.BlockSize))
}
