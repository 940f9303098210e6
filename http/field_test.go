package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aukilabs/tsdf/codec"
	"github.com/aukilabs/tsdf/featureflag"
	"github.com/aukilabs/tsdf/geometry"
	"github.com/aukilabs/tsdf/surface"
	"github.com/aukilabs/tsdf/tsdf"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

// newPlaneField returns two blocks of 0.01 voxels along x holding the
// distance to the plane x = 0.075, positive on the origin side.
func newPlaneField() *tsdf.Field {
	f := tsdf.New(tsdf.Config{VoxelSize: 0.01, ReservedBlocks: 4, HashSize: 97})
	for _, i := range []geometry.Index3{geometry.NewIndex3(0, 0, 0), geometry.NewIndex3(1, 0, 0)} {
		origin := i.Mul(tsdf.BlockSize)
		f.InsertBlock(i).ForEach(func(z, y, x int, v *tsdf.Voxel) {
			v.Distance = 0.075 - float32(origin.X+int32(x))*0.01
			v.Weight = 1
		})
	}
	return f
}

func newTestServer(f *tsdf.Field, opts FieldHandlerOptions) (*FieldHandler, *http.ServeMux) {
	h := NewFieldHandler(f, opts)
	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux
}

func do(t *testing.T, mux http.Handler, method, target, body string, res any) int {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(clientIDHeader, "test-client")

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if res != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), res))
	}
	return w.Code
}

func TestFieldQueries(t *testing.T) {
	_, mux := newTestServer(newPlaneField(), FieldHandlerOptions{})

	t.Run("stats", func(t *testing.T) {
		var stats tsdf.Stats
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/stats", "", &stats))
		require.Equal(t, 2, stats.Blocks)
		require.Equal(t, 2*tsdf.BlockSize*tsdf.BlockSize*tsdf.BlockSize, stats.Voxels)
		require.Zero(t, stats.ZeroVoxels)
	})

	t.Run("voxel", func(t *testing.T) {
		var res voxelResponse
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/voxel?x=3&y=0&z=0", "", &res))
		require.True(t, res.BlockExists)
		require.Equal(t, geometry.NewIndex3(0, 0, 0), res.Block)
		require.InDelta(t, 0.045, res.Voxel.Distance, 1e-6)
		require.Equal(t, float32(1), res.Voxel.Weight)

		require.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/voxel?x=-1&y=0&z=0", "", &res))
		require.False(t, res.BlockExists)
		require.Equal(t, geometry.NewIndex3(-1, 0, 0), res.Block)
	})

	t.Run("voxel with invalid coordinates", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/voxel?x=1.5&y=0&z=0", "", nil))
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/voxel?x=1", "", nil))
	})

	t.Run("sample", func(t *testing.T) {
		var res sampleResponse
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/sample?x=0.035&y=0.035&z=0.035", "", &res))
		require.True(t, res.Valid)
		require.InDelta(t, 0.04, res.Voxel.Distance, 1e-5)
		require.NotNil(t, res.Normal)
		require.True(t, geometry.Vec3EqualWithEpsilon(mgl32.Vec3{-1, 0, 0}, *res.Normal, 1e-4))
	})

	t.Run("sample outside of the field", func(t *testing.T) {
		var res sampleResponse
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/sample?x=1&y=1&z=1", "", &res))
		require.False(t, res.Valid)
		require.Nil(t, res.Gradient)
		require.Nil(t, res.Normal)
	})

	t.Run("raycast hit", func(t *testing.T) {
		var res raycastResponse
		body := `{"origin":[0.0025,0.035,0.035],"dir":[2,0,0],"t_min":0,"t_max":0.14,"step":0.005,"iterations":5}`
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/raycast", body, &res))
		require.True(t, res.Hit)
		require.InDelta(t, 0.0725, res.T, 0.001)
		require.NotNil(t, res.Position)
		require.InDelta(t, 0.075, res.Position.X(), 0.001)
	})

	t.Run("raycast miss", func(t *testing.T) {
		var res raycastResponse
		body := `{"origin":[0.0025,1,1],"dir":[1,0,0],"t_max":0.14,"iterations":5}`
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/raycast", body, &res))
		require.False(t, res.Hit)
		require.Equal(t, float32(0.14), res.T)
		require.Nil(t, res.Position)
	})

	t.Run("invalid raycast", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/raycast", `{"dir":[0,0,0],"t_max":1}`, nil))
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/raycast", `{"dir":[1,0,0],"t_min":2,"t_max":1}`, nil))
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/raycast", `{"dir":`, nil))
	})

	t.Run("raycast work is bounded", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/raycast", `{"dir":[1,0,0],"t_min":1000000,"t_max":1000001,"step":1e-9}`, nil))
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/raycast", `{"dir":[1,0,0],"t_max":1,"iterations":1000000000}`, nil))
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/raycast", `{"dir":[1,0,0],"t_max":1,"iterations":-1}`, nil))

		var res raycastResponse
		body := `{"origin":[0,0,0],"dir":[1,0,0],"t_min":1000000,"t_max":1000001,"step":0.01,"iterations":5}`
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/raycast", body, &res))
		require.False(t, res.Hit)
		require.Equal(t, float32(1000001), res.T)
	})

	t.Run("wrong method", func(t *testing.T) {
		require.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodPost, "/stats", "", nil))
	})
}

func TestFieldMesh(t *testing.T) {
	t.Run("mesh of the plane", func(t *testing.T) {
		_, mux := newTestServer(newPlaneField(), FieldHandlerOptions{Threads: 2})

		var mesh surface.Mesh
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/mesh?iso=0&threads=4&post=true", "", &mesh))
		require.NotZero(t, mesh.TriangleCount())
		require.Len(t, mesh.Normals, len(mesh.Vertices))

		var raw surface.Mesh
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/mesh?post=false", "", &raw))
		require.Equal(t, 3*raw.TriangleCount(), raw.VertexCount())
		require.GreaterOrEqual(t, raw.VertexCount(), mesh.VertexCount())
	})

	t.Run("invalid parameters", func(t *testing.T) {
		_, mux := newTestServer(newPlaneField(), FieldHandlerOptions{})
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/mesh?iso=abc", "", nil))
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/mesh?threads=many", "", nil))
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/mesh?post=maybe", "", nil))
	})

	t.Run("mesh extraction disabled", func(t *testing.T) {
		_, mux := newTestServer(newPlaneField(), FieldHandlerOptions{
			FeatureFlags: featureflag.New([]string{string(featureflag.FlagDisableMeshExtraction)}),
		})
		require.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/mesh", "", nil))
	})
}

func TestFieldMutations(t *testing.T) {
	t.Run("allocate", func(t *testing.T) {
		_, mux := newTestServer(tsdf.New(tsdf.Config{VoxelSize: 0.01, ReservedBlocks: 1, HashSize: 97}), FieldHandlerOptions{})

		var res blocksResponse
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/allocate", `{"position":[0.5,0.5,0.5],"radius":1}`, &res))
		require.Equal(t, 27, res.Blocks)

		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/allocate", `{"radius":-1}`, nil))
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/allocate", `{"radius":100}`, nil))
	})

	t.Run("prune", func(t *testing.T) {
		f := newPlaneField()
		f.InsertBlock(geometry.NewIndex3(5, 5, 5))
		_, mux := newTestServer(f, FieldHandlerOptions{})

		var res blocksResponse
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/maintenance/prune", "", &res))
		require.Equal(t, blocksResponse{Blocks: 2, Erased: 1}, res)
	})

	t.Run("compact", func(t *testing.T) {
		_, mux := newTestServer(newPlaneField(), FieldHandlerOptions{})

		var stats tsdf.Stats
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/maintenance/compact", "", &stats))
		require.Equal(t, 2, stats.Capacity)
	})

	t.Run("crop", func(t *testing.T) {
		f := newPlaneField()
		_, mux := newTestServer(f, FieldHandlerOptions{})

		var res blocksResponse
		body := `{"begin":{"x":0,"y":0,"z":0},"end":{"x":0,"y":0,"z":0}}`
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/maintenance/crop", body, &res))
		require.Equal(t, blocksResponse{Blocks: 1, Erased: 1}, res)
		require.Nil(t, f.GetBlock(geometry.NewIndex3(1, 0, 0)))

		empty := `{"begin":{"x":1,"y":0,"z":0},"end":{"x":0,"y":0,"z":0}}`
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/maintenance/crop", empty, nil))
	})

	t.Run("clamp", func(t *testing.T) {
		f := newPlaneField()
		_, mux := newTestServer(f, FieldHandlerOptions{})

		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/maintenance/clamp", `{"distance":0.02}`, nil))
		require.Equal(t, float32(0.02), f.GetVoxel(geometry.NewIndex3(0, 0, 0)).Distance)
		require.Equal(t, float32(-0.02), f.GetVoxel(geometry.NewIndex3(15, 0, 0)).Distance)

		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/maintenance/clamp", `{"distance":0}`, nil))
	})

	t.Run("read only server rejects mutations", func(t *testing.T) {
		f := newPlaneField()
		f.InsertBlock(geometry.NewIndex3(5, 5, 5))
		_, mux := newTestServer(f, FieldHandlerOptions{
			FeatureFlags: featureflag.New([]string{string(featureflag.FlagReadOnly)}),
		})

		require.Equal(t, http.StatusForbidden, do(t, mux, http.MethodPost, "/maintenance/prune", "", nil))
		require.Equal(t, http.StatusForbidden, do(t, mux, http.MethodPost, "/allocate", `{"radius":1}`, nil))
		require.Equal(t, 3, f.Size())

		require.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/stats", "", nil))
	})
}

func TestFieldSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field.tsdf")
	opts := FieldHandlerOptions{
		SnapshotPath: path,
		SaveOptions:  tsdf.SaveOptions{Compression: codec.Zstd, Precision: tsdf.Float32},
	}

	t.Run("loading a missing snapshot keeps the field", func(t *testing.T) {
		h, _ := newTestServer(newPlaneField(), opts)
		require.False(t, h.Ready())
		require.NoError(t, h.LoadSnapshot())
		require.True(t, h.Ready())
		require.Equal(t, 2, h.CloneField().Size())
	})

	t.Run("saving and loading", func(t *testing.T) {
		f := newPlaneField()
		_, mux := newTestServer(f, opts)

		var res snapshotResponse
		require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/snapshot", "", &res))
		require.Equal(t, snapshotResponse{Path: path, Compression: "zstd", Precision: "float32"}, res)

		loaded, _ := newTestServer(tsdf.New(tsdf.Config{VoxelSize: 1, ReservedBlocks: 1, HashSize: 3}), opts)
		require.NoError(t, loaded.LoadSnapshot())
		require.True(t, loaded.Ready())
		require.True(t, loaded.CloneField().Equal(f))
	})

	t.Run("without snapshot path", func(t *testing.T) {
		h, mux := newTestServer(newPlaneField(), FieldHandlerOptions{})
		require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/snapshot", "", nil))
		require.Error(t, h.SaveSnapshot())

		require.NoError(t, h.LoadSnapshot())
		require.True(t, h.Ready())
	})
}

func TestHandlers(t *testing.T) {
	t.Run("cors preflight", func(t *testing.T) {
		called := false
		h := HandleWithCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/stats", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		require.False(t, called)

		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
		require.True(t, called)
	})

	t.Run("ready check", func(t *testing.T) {
		ready := false
		h := HandleReadyCheck(func() bool { return ready })

		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		ready = true
		w = httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("version", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleVersion("v1.2.3")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
		require.Equal(t, "v1.2.3", w.Body.String())
	})

	t.Run("metrics path", func(t *testing.T) {
		require.Equal(t, "/stats", MetricsPathFormatter(http.StatusOK, "/stats"))
		require.Empty(t, MetricsPathFormatter(http.StatusNotFound, "/wp-admin"))
		require.Empty(t, MetricsPathFormatter(http.StatusMethodNotAllowed, "/stats"))
	})

	t.Run("request body limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/raycast", bytes.NewReader(make([]byte, maxRequestBodySize+1)))
		var v raycastRequest
		require.Error(t, decodeJSON(req, &v))
	})
}
