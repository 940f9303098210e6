package tsdf

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	codecLabel     = "codec"
	operationLabel = "operation"
	resultLabel    = "result"
	errTypeLabel   = "error_type"
)

var (
	blocksGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsdf_blocks",
		Help: "The number of live voxel blocks of the instrumented field.",
	})

	blocksInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsdf_blocks_inserted",
		Help: "The number of voxel blocks inserted.",
	})

	blocksErased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsdf_blocks_erased",
		Help: "The number of voxel blocks erased.",
	})

	capacityOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsdf_capacity_overflows",
		Help: "The number of parallel insertions that did not fit the reserved capacity.",
	})

	raycasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsdf_raycasts",
		Help: "The number of ray surface intersections by result.",
	}, []string{
		resultLabel,
	})

	extractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsdf_extraction_duration_seconds",
		Help:    "The time spent extracting the surface of the whole field.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	extractedBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsdf_extracted_blocks",
		Help: "The number of voxel blocks triangulated.",
	})

	snapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsdf_snapshot_duration_seconds",
		Help:    "The time spent saving or loading snapshots.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{
		operationLabel,
		codecLabel,
	})

	snapshotBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsdf_snapshot_bytes",
		Help: "The number of encoded snapshot bytes written or read.",
	}, []string{
		operationLabel,
		codecLabel,
	})

	snapshotErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsdf_snapshot_errors",
		Help: "The errors that occurred while saving or loading snapshots.",
	}, []string{
		operationLabel,
		errTypeLabel,
	})
)

func instrumentRaycast(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	raycasts.WithLabelValues(result).Inc()
}

func instrumentExtraction(start time.Time, blocks int) {
	extractionDuration.Observe(time.Since(start).Seconds())
	extractedBlocks.Add(float64(blocks))
}

func instrumentSnapshot(operation, codec string, start time.Time, size int, err error) {
	if err != nil {
		snapshotErrors.With(prometheus.Labels{
			operationLabel: operation,
			errTypeLabel:   errors.Type(err),
		}).Inc()
		return
	}

	snapshotDuration.With(prometheus.Labels{
		operationLabel: operation,
		codecLabel:     codec,
	}).Observe(time.Since(start).Seconds())

	snapshotBytes.With(prometheus.Labels{
		operationLabel: operation,
		codecLabel:     codec,
	}).Add(float64(size))
}
