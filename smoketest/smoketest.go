// Package smoketest checks that a copy of the live field survives a
// snapshot round trip with every codec and precision.
package smoketest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/aukilabs/tsdf/codec"
	"github.com/aukilabs/tsdf/tsdf"
	"github.com/segmentio/encoding/json"
)

// Request selects the combinations to run. Empty lists run them all.
type Request struct {
	Compressions []string `json:"compressions,omitempty"`
	Precisions   []string `json:"precisions,omitempty"`
}

// Result is the outcome of one round trip.
type Result struct {
	Compression string  `json:"compression"`
	Precision   string  `json:"precision"`
	Bytes       int     `json:"bytes"`
	DurationMs  float64 `json:"duration_ms"`
	Passed      bool    `json:"passed"`
	Error       string  `json:"error,omitempty"`
}

type Results struct {
	Blocks  int      `json:"blocks"`
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

// Options lists the combinations Run goes through.
type Options struct {
	Compressions []codec.Compression
	Precisions   []tsdf.Precision
}

// Run saves f and loads it back once per combination. Float32 snapshots
// must reload to an equal field; float16 ones must reload the same blocks.
// It stops early with the context error when ctx is done.
func Run(ctx context.Context, f *tsdf.Field, opts Options) (Results, error) {
	if len(opts.Compressions) == 0 {
		opts.Compressions = codec.All
	}
	if len(opts.Precisions) == 0 {
		opts.Precisions = []tsdf.Precision{tsdf.Float32, tsdf.Float16}
	}

	res := Results{
		Blocks: f.Size(),
		Passed: true,
	}

	for _, c := range opts.Compressions {
		for _, p := range opts.Precisions {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			start := time.Now()
			r := roundTrip(f, tsdf.SaveOptions{Compression: c, Precision: p})
			r.DurationMs = float64(time.Since(start).Microseconds()) / 1000

			res.Passed = res.Passed && r.Passed
			res.Results = append(res.Results, r)
		}
	}
	return res, nil
}

func roundTrip(f *tsdf.Field, opts tsdf.SaveOptions) Result {
	res := Result{
		Compression: opts.Compression.String(),
		Precision:   opts.Precision.String(),
	}

	var buf bytes.Buffer
	if err := f.Save(&buf, opts); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Bytes = buf.Len()

	loaded := newScratchField(f)
	if err := loaded.Load(&buf); err != nil {
		res.Error = err.Error()
		return res
	}

	switch opts.Precision {
	case tsdf.Float32:
		res.Passed = loaded.Equal(f)
	default:
		res.Passed = sameBlocks(f, loaded)
	}
	if !res.Passed {
		res.Error = "reloaded field differs"
	}
	return res
}

// newScratchField returns the smallest field a snapshot of f can be
// loaded into. Loading replaces its storage with the snapshot's.
func newScratchField(f *tsdf.Field) *tsdf.Field {
	return tsdf.New(tsdf.Config{
		VoxelSize:      f.VoxelSize(),
		ReservedBlocks: 1,
		HashSize:       1,
	})
}

func sameBlocks(a, b *tsdf.Field) bool {
	if a.Size() != b.Size() {
		return false
	}
	blocks := a.Blocks()
	for i := range blocks {
		if b.GetBlock(blocks[i].Index) == nil {
			return false
		}
	}
	return true
}

func parseRequest(req Request) (Options, error) {
	var opts Options
	for _, s := range req.Compressions {
		c, err := codec.ParseCompression(s)
		if err != nil {
			return Options{}, err
		}
		opts.Compressions = append(opts.Compressions, c)
	}
	for _, s := range req.Precisions {
		p, err := tsdf.ParsePrecision(s)
		if err != nil {
			return Options{}, err
		}
		opts.Precisions = append(opts.Precisions, p)
	}
	return opts, nil
}

// HandleSmokeTest runs the smoke test on the field returned by source. The
// field is never written back, so source should hand out a copy.
func HandleSmokeTest(source func() *tsdf.Field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("reading body failed").Wrap(err))
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				httpcmn.BadRequest(w, httpcmn.ErrBadRequest)
				return
			}
		}

		opts, err := parseRequest(req)
		if err != nil {
			httpcmn.BadRequest(w, err)
			return
		}

		res, err := Run(r.Context(), source(), opts)
		if err != nil {
			logs.Warn(errors.New("smoke test interrupted").Wrap(err))
			httpcmn.InternalServerError(w, err)
			return
		}

		logs.WithTag("blocks", res.Blocks).
			WithTag("runs", len(res.Results)).
			WithTag("passed", res.Passed).
			Info("smoke test done")

		body, err := json.Marshal(res)
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("encoding smoke test results failed").Wrap(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}
