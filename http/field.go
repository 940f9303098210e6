package http

import (
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/aukilabs/tsdf/featureflag"
	"github.com/aukilabs/tsdf/geometry"
	"github.com/aukilabs/tsdf/surface"
	"github.com/aukilabs/tsdf/tsdf"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	clientIDHeader = httpcmn.HeaderPosemeshClientID

	// maxAllocationRadius bounds POST /allocate to 33^3 blocks.
	maxAllocationRadius = 16

	// POST /raycast runs under the read lock, so its work is bounded.
	maxRaycastSteps      = 1 << 20
	maxRaycastIterations = 64
)

// FieldHandlerOptions configures a FieldHandler.
type FieldHandlerOptions struct {
	// The file used by LoadSnapshot, SaveSnapshot and POST /snapshot.
	// Snapshots are disabled when empty.
	SnapshotPath string
	SaveOptions  tsdf.SaveOptions

	// The number of workers used for mesh extraction. Defaults to the
	// number of CPUs.
	Threads int

	FeatureFlags featureflag.FeatureFlag
}

// FieldHandler serves a field over HTTP. The field is guarded by a
// read-write lock: queries share it and mutations get it exclusively.
type FieldHandler struct {
	mu    sync.RWMutex
	field *tsdf.Field
	opts  FieldHandlerOptions
	ready atomic.Bool
}

func NewFieldHandler(f *tsdf.Field, opts FieldHandlerOptions) *FieldHandler {
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}
	if opts.FeatureFlags == nil {
		opts.FeatureFlags = featureflag.New(nil)
	}

	return &FieldHandler{
		field: f,
		opts:  opts,
	}
}

// Register adds the field routes to mux.
func (h *FieldHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /stats", HandleWithCORS(http.HandlerFunc(h.handleStats)))
	mux.Handle("GET /voxel", HandleWithCORS(http.HandlerFunc(h.handleVoxel)))
	mux.Handle("GET /sample", HandleWithCORS(http.HandlerFunc(h.handleSample)))
	mux.Handle("POST /raycast", HandleWithCORS(http.HandlerFunc(h.handleRaycast)))

	h.opts.FeatureFlags.IfNotSet(featureflag.FlagDisableMeshExtraction, func() {
		mux.Handle("GET /mesh", HandleWithCORS(http.HandlerFunc(h.handleMesh)))
	})

	mux.Handle("POST /allocate", HandleWithCORS(h.mutation(h.handleAllocate)))
	mux.Handle("POST /maintenance/prune", HandleWithCORS(h.mutation(h.handlePrune)))
	mux.Handle("POST /maintenance/compact", HandleWithCORS(h.mutation(h.handleCompact)))
	mux.Handle("POST /maintenance/crop", HandleWithCORS(h.mutation(h.handleCrop)))
	mux.Handle("POST /maintenance/clamp", HandleWithCORS(h.mutation(h.handleClamp)))
	mux.Handle("POST /snapshot", HandleWithCORS(http.HandlerFunc(h.handleSnapshot)))
}

// Ready reports whether the startup snapshot has been loaded.
func (h *FieldHandler) Ready() bool {
	return h.ready.Load()
}

// CloneField returns a deep copy of the field.
func (h *FieldHandler) CloneField() *tsdf.Field {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.field.Clone()
}

// LoadSnapshot replaces the field with the snapshot file when it exists,
// then marks the handler as ready. A missing file leaves the field as is.
func (h *FieldHandler) LoadSnapshot() error {
	defer h.ready.Store(true)

	if h.opts.SnapshotPath == "" {
		return nil
	}
	if _, err := os.Stat(h.opts.SnapshotPath); os.IsNotExist(err) {
		logs.WithTag("path", h.opts.SnapshotPath).Info("no snapshot to load")
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.field.LoadFile(h.opts.SnapshotPath)
}

// SaveSnapshot writes the field to the snapshot file.
func (h *FieldHandler) SaveSnapshot() error {
	if h.opts.SnapshotPath == "" {
		return errors.New("no snapshot path configured")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.field.SaveFile(h.opts.SnapshotPath, h.opts.SaveOptions)
}

// mutation rejects the request when the server is read only and runs
// handle otherwise.
func (h *FieldHandler) mutation(handle http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.FeatureFlags.IsSet(featureflag.FlagReadOnly) {
			logs.WithClientID(r.Header.Get(clientIDHeader)).
				WithTag("path", r.URL.Path).
				Info("mutation rejected on read only server")
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "server is read only"})
			return
		}
		handle(w, r)
	}
}

func (h *FieldHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	stats := h.field.Stats()
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, stats)
}

type voxelResponse struct {
	Index       geometry.Index3 `json:"index"`
	Block       geometry.Index3 `json:"block"`
	BlockExists bool            `json:"block_exists"`
	Voxel       tsdf.Voxel      `json:"voxel"`
}

func (h *FieldHandler) handleVoxel(w http.ResponseWriter, r *http.Request) {
	i, err := parseIndex3(r.URL.Query())
	if err != nil {
		httpcmn.BadRequest(w, err)
		return
	}

	res := voxelResponse{
		Index: i,
		Block: tsdf.BlockIndexOf(i),
	}

	h.mu.RLock()
	res.BlockExists = h.field.GetBlock(res.Block) != nil
	res.Voxel = h.field.GetVoxel(i)
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, res)
}

type sampleResponse struct {
	Position mgl32.Vec3  `json:"position"`
	Valid    bool        `json:"valid"`
	Voxel    tsdf.Voxel  `json:"voxel"`
	Gradient *mgl32.Vec3 `json:"gradient,omitempty"`
	Normal   *mgl32.Vec3 `json:"normal,omitempty"`
}

func (h *FieldHandler) handleSample(w http.ResponseWriter, r *http.Request) {
	p, err := parseVec3(r.URL.Query())
	if err != nil {
		httpcmn.BadRequest(w, err)
		return
	}

	res := sampleResponse{Position: p}

	h.mu.RLock()
	res.Voxel, res.Valid = h.field.TrilinearAccess(p)
	if grad, ok := h.field.TrilinearGradient(p); ok {
		normal, _ := h.field.TrilinearNormal(p)
		res.Gradient = &grad
		res.Normal = &normal
	}
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, res)
}

type raycastRequest struct {
	Origin     mgl32.Vec3 `json:"origin"`
	Dir        mgl32.Vec3 `json:"dir"`
	TMin       float32    `json:"t_min"`
	TMax       float32    `json:"t_max"`
	Step       float32    `json:"step"`
	Iterations int        `json:"iterations"`
}

type raycastResponse struct {
	Hit      bool        `json:"hit"`
	T        float32     `json:"t"`
	Position *mgl32.Vec3 `json:"position,omitempty"`
	Normal   *mgl32.Vec3 `json:"normal,omitempty"`
}

func (h *FieldHandler) handleRaycast(w http.ResponseWriter, r *http.Request) {
	var req raycastRequest
	if err := decodeJSON(r, &req); err != nil {
		httpcmn.BadRequest(w, err)
		return
	}
	if req.Dir.Len() == 0 {
		httpcmn.BadRequest(w, errors.New("ray direction is zero"))
		return
	}
	if req.TMax < req.TMin {
		httpcmn.BadRequest(w, errors.New("t_max is lower than t_min").
			WithTag("t_min", req.TMin).
			WithTag("t_max", req.TMax))
		return
	}
	if req.Iterations < 0 || req.Iterations > maxRaycastIterations {
		httpcmn.BadRequest(w, errors.New("invalid refinement iterations").
			WithTag("iterations", req.Iterations).
			WithTag("max", maxRaycastIterations))
		return
	}
	dir := req.Dir.Normalize()

	h.mu.RLock()
	defer h.mu.RUnlock()

	step := req.Step
	if step == 0 {
		step = h.field.VoxelSize()
	}
	if steps := tsdf.RaySteps(req.TMin, req.TMax, step); steps < 0 || steps > maxRaycastSteps {
		httpcmn.BadRequest(w, errors.New("too many ray steps").
			WithTag("step", step).
			WithTag("max_steps", maxRaycastSteps))
		return
	}

	var res raycastResponse
	res.T = h.field.RaySurfaceIntersection(req.Origin, dir, req.TMin, req.TMax, step, req.Iterations)
	if res.T < req.TMax {
		res.Hit = true
		position := req.Origin.Add(dir.Mul(res.T))
		res.Position = &position
		if normal, ok := h.field.TrilinearNormal(position); ok {
			res.Normal = &normal
		}
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *FieldHandler) handleMesh(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	iso, err := parseFloat(q, "iso", 0)
	if err != nil {
		httpcmn.BadRequest(w, err)
		return
	}
	threads, err := parseInt(q, "threads", h.opts.Threads)
	if err != nil {
		httpcmn.BadRequest(w, err)
		return
	}
	postProcess, err := parseBool(q, "post", true)
	if err != nil {
		httpcmn.BadRequest(w, err)
		return
	}

	h.mu.RLock()
	triangles := surface.Extract(h.field, iso, max(1, threads))
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, surface.CreateMesh(triangles, postProcess))
}

type allocateRequest struct {
	Position mgl32.Vec3 `json:"position"`
	Radius   int        `json:"radius"`
}

type blocksResponse struct {
	Blocks int `json:"blocks"`
	Erased int `json:"erased,omitempty"`
}

func (h *FieldHandler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := decodeJSON(r, &req); err != nil {
		httpcmn.BadRequest(w, err)
		return
	}
	if req.Radius < 0 || req.Radius > maxAllocationRadius {
		httpcmn.BadRequest(w, errors.New("allocation radius out of range").
			WithTag("radius", req.Radius).
			WithTag("max", maxAllocationRadius))
		return
	}

	h.mu.Lock()
	h.field.AllocateAroundPoint(req.Position, req.Radius)
	res := blocksResponse{Blocks: h.field.Size()}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, res)
}

func (h *FieldHandler) handlePrune(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	erased := h.field.EraseEmptyBlocks()
	res := blocksResponse{Blocks: h.field.Size(), Erased: erased}
	h.mu.Unlock()

	logs.WithClientID(r.Header.Get(clientIDHeader)).
		WithTag("erased", erased).
		Info("empty blocks pruned")
	writeJSON(w, http.StatusOK, res)
}

func (h *FieldHandler) handleCompact(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.field.Compact()
	stats := h.field.Stats()
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, stats)
}

func (h *FieldHandler) handleCrop(w http.ResponseWriter, r *http.Request) {
	var rect geometry.Rect
	if err := decodeJSON(r, &rect); err != nil {
		httpcmn.BadRequest(w, err)
		return
	}
	if rect.Empty() {
		httpcmn.BadRequest(w, errors.New("empty crop rect").WithTag("rect", rect))
		return
	}

	h.mu.Lock()
	erased := h.field.CropToRect(rect)
	res := blocksResponse{Blocks: h.field.Size(), Erased: erased}
	h.mu.Unlock()

	logs.WithClientID(r.Header.Get(clientIDHeader)).
		WithTag("rect", rect).
		WithTag("erased", erased).
		Info("field cropped")
	writeJSON(w, http.StatusOK, res)
}

type clampRequest struct {
	Distance float32 `json:"distance"`
}

func (h *FieldHandler) handleClamp(w http.ResponseWriter, r *http.Request) {
	var req clampRequest
	if err := decodeJSON(r, &req); err != nil {
		httpcmn.BadRequest(w, err)
		return
	}
	if req.Distance <= 0 {
		httpcmn.BadRequest(w, errors.New("clamp distance must be positive").
			WithTag("distance", req.Distance))
		return
	}

	h.mu.Lock()
	h.field.ClampDistance(req.Distance)
	res := blocksResponse{Blocks: h.field.Size()}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, res)
}

type snapshotResponse struct {
	Path        string `json:"path"`
	Compression string `json:"compression"`
	Precision   string `json:"precision"`
}

func (h *FieldHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.opts.SnapshotPath == "" {
		httpcmn.BadRequest(w, errors.New("no snapshot path configured"))
		return
	}

	if err := h.SaveSnapshot(); err != nil {
		logs.WithClientID(r.Header.Get(clientIDHeader)).Error(err)
		httpcmn.InternalServerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshotResponse{
		Path:        h.opts.SnapshotPath,
		Compression: h.opts.SaveOptions.Compression.String(),
		Precision:   h.opts.SaveOptions.Precision.String(),
	})
}
