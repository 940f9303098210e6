package tsdf

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/tsdf/geometry"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"
)

// Triangle is a surface triangle in world coordinates.
type Triangle [3]mgl32.Vec3

// BlockSurfaceFunc triangulates a single block at the given iso level. It
// must only read from the field.
type BlockSurfaceFunc func(b *VoxelBlock, iso float32) []Triangle

// InsertBlocksParallel inserts coords from the given number of workers
// with InsertBlockLock. Capacity must already hold every coordinate that
// is not in the field yet; the check happens before any worker starts.
func (f *Field) InsertBlocksParallel(coords []geometry.Index3, threads int) error {
	missing := make(map[geometry.Index3]struct{})
	for _, c := range coords {
		if f.GetBlock(c) == nil {
			missing[c] = struct{}{}
		}
	}
	if required := f.Size() + len(missing); required > f.Capacity() {
		capacityOverflows.Inc()
		return errors.New("not enough reserved blocks for parallel insertion").
			WithType(ErrTypeCapacityExceeded).
			WithTag("required", required).
			WithTag("capacity", f.Capacity())
	}

	start := time.Now()
	f.parallelFor(len(coords), threads, func(begin, end int) {
		for _, c := range coords[begin:end] {
			f.InsertBlockLock(c)
		}
	})

	logs.WithTag("coords", len(coords)).
		WithTag("threads", threads).
		WithTag("blocks", f.Size()).
		WithTag("duration", time.Since(start)).
		Debug("parallel block insertion done")
	return nil
}

// ExtractSurface triangulates every live block with extract, spreading the
// blocks over the given number of workers. The result holds one triangle
// list per live block, in slot order.
//
// Blocks must not be inserted or erased while extraction runs.
func (f *Field) ExtractSurface(iso float32, threads int, extract BlockSurfaceFunc) [][]Triangle {
	start := time.Now()
	blocks := f.Blocks()
	result := make([][]Triangle, len(blocks))

	f.parallelFor(len(blocks), threads, func(begin, end int) {
		for i := begin; i < end; i++ {
			result[i] = extract(&blocks[i], iso)
		}
	})

	instrumentExtraction(start, len(blocks))
	return result
}

// parallelFor splits [0, n) into one contiguous chunk per worker and
// returns when every chunk is done.
func (f *Field) parallelFor(n, threads int, fn func(begin, end int)) {
	if n == 0 {
		return
	}
	threads = max(1, min(threads, n))
	chunk := (n + threads - 1) / threads

	var g errgroup.Group
	g.SetLimit(threads)
	for begin := 0; begin < n; begin += chunk {
		end := min(begin+chunk, n)
		g.Go(func() error {
			fn(begin, end)
			return nil
		})
	}
	g.Wait()
}
