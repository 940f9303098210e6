package surface

import (
	"math"

	"github.com/aukilabs/tsdf/tsdf"
	"github.com/go-gl/mathgl/mgl32"
)

// weldTolerance is the distance, in world units, under which two vertices
// are merged by post processing.
const weldTolerance = 1e-5

// Mesh is an indexed triangle mesh. The arrays are flat: 3 floats per
// vertex in Vertices and Normals, 3 indices per triangle in Indices.
type Mesh struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
}

func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// Vertex returns the position of vertex i.
func (m *Mesh) Vertex(i int) mgl32.Vec3 {
	return mgl32.Vec3{m.Vertices[3*i], m.Vertices[3*i+1], m.Vertices[3*i+2]}
}

// Normal returns the normal of vertex i.
func (m *Mesh) Normal(i int) mgl32.Vec3 {
	return mgl32.Vec3{m.Normals[3*i], m.Normals[3*i+1], m.Normals[3*i+2]}
}

// CreateMesh concatenates per block triangle lists into a single mesh.
//
// Without post processing every triangle gets its own three vertices
// carrying the face normal. With post processing, vertices closer than
// weldTolerance are merged, triangles that collapse are dropped and every
// vertex gets the area weighted average of its face normals.
func CreateMesh(lists [][]tsdf.Triangle, postProcess bool) *Mesh {
	if postProcess {
		return createWeldedMesh(lists)
	}

	var count int
	for _, l := range lists {
		count += len(l)
	}

	m := &Mesh{
		Vertices: make([]float32, 0, count*9),
		Normals:  make([]float32, 0, count*9),
		Indices:  make([]uint32, 0, count*3),
	}
	for _, l := range lists {
		for _, tri := range l {
			n := faceNormal(tri)
			if l := n.Len(); l > 0 {
				n = n.Mul(1 / l)
			}

			for _, v := range tri {
				m.Indices = append(m.Indices, uint32(m.VertexCount()))
				m.Vertices = append(m.Vertices, v.X(), v.Y(), v.Z())
				m.Normals = append(m.Normals, n.X(), n.Y(), n.Z())
			}
		}
	}
	return m
}

type weldKey [3]int64

func weldKeyOf(v mgl32.Vec3) weldKey {
	return weldKey{
		int64(math.Round(float64(v.X()) / weldTolerance)),
		int64(math.Round(float64(v.Y()) / weldTolerance)),
		int64(math.Round(float64(v.Z()) / weldTolerance)),
	}
}

func createWeldedMesh(lists [][]tsdf.Triangle) *Mesh {
	m := &Mesh{}
	ids := make(map[weldKey]uint32)
	var normals []mgl32.Vec3

	vertexID := func(v mgl32.Vec3) uint32 {
		k := weldKeyOf(v)
		if id, ok := ids[k]; ok {
			return id
		}

		id := uint32(len(normals))
		ids[k] = id
		m.Vertices = append(m.Vertices, v.X(), v.Y(), v.Z())
		normals = append(normals, mgl32.Vec3{})
		return id
	}

	for _, l := range lists {
		for _, tri := range l {
			a, b, c := vertexID(tri[0]), vertexID(tri[1]), vertexID(tri[2])
			if a == b || b == c || a == c {
				continue
			}

			// The cross product length is twice the triangle area.
			n := faceNormal(tsdf.Triangle{m.Vertex(int(a)), m.Vertex(int(b)), m.Vertex(int(c))})
			if n.Len() == 0 {
				continue
			}

			m.Indices = append(m.Indices, a, b, c)
			normals[a] = normals[a].Add(n)
			normals[b] = normals[b].Add(n)
			normals[c] = normals[c].Add(n)
		}
	}

	m.Normals = make([]float32, 0, len(normals)*3)
	for _, n := range normals {
		if l := n.Len(); l > 0 {
			n = n.Mul(1 / l)
		}
		m.Normals = append(m.Normals, n.X(), n.Y(), n.Z())
	}
	return m
}

func faceNormal(tri tsdf.Triangle) mgl32.Vec3 {
	return tri[1].Sub(tri[0]).Cross(tri[2].Sub(tri[0]))
}
