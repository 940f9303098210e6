package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/tsdf/codec"
	tsdfconfig "github.com/aukilabs/tsdf/config"
	"github.com/aukilabs/tsdf/featureflag"
	tsdfhttp "github.com/aukilabs/tsdf/http"
	"github.com/aukilabs/tsdf/smoketest"
	"github.com/aukilabs/tsdf/tsdf"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The server version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "tsdf_info",
		Help:        "TSDF server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr                string       `cli:""        env:"TSDF_ADDR"                 help:"Listening address for API requests."`
	AdminAddr           string       `cli:""        env:"TSDF_ADMIN_ADDR"           help:"Admin listening address."`
	LogLevel            string       `cli:""        env:"TSDF_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent           bool         `cli:""        env:"TSDF_LOG_INDENT"           help:"Indent logs."`
	ConfigFile          string       `cli:""        env:"TSDF_CONFIG_FILE"          help:"TOML or YAML file with field and snapshot settings."`
	VoxelSize           float64      `cli:""        env:"TSDF_VOXEL_SIZE"           help:"Voxel edge length in meters."`
	ReservedBlocks      int          `cli:""        env:"TSDF_RESERVED_BLOCKS"      help:"Number of voxel blocks allocated up front."`
	HashSize            int          `cli:""        env:"TSDF_HASH_SIZE"            help:"Number of spatial hash buckets."`
	Threads             int          `cli:""        env:"TSDF_THREADS"              help:"Number of workers used for mesh extraction."`
	SnapshotPath        string       `cli:""        env:"TSDF_SNAPSHOT_PATH"        help:"File the field is loaded from on start and saved to on shutdown."`
	SnapshotCompression string       `cli:""        env:"TSDF_SNAPSHOT_COMPRESSION" help:"Snapshot compression (none|zlib|zstd|snappy|lz4)."`
	SnapshotPrecision   string       `cli:""        env:"TSDF_SNAPSHOT_PRECISION"   help:"Snapshot voxel precision (float32|float16)."`
	Events              eventsConfig `cli:",hidden" env:"-"                         help:"Event pusher configuration."`
	FeatureFlags        []string     `cli:",hidden" env:"TSDF_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version             bool         `cli:""        env:"-"                         help:"Show version."`
	Help                bool         `cli:""        env:"-"                         help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"TSDF_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"TSDF_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"TSDF_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"TSDF_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:      ":4100",
		AdminAddr: ":18290",
		LogLevel:  logs.InfoLevel.String(),
		Threads:   runtime.NumCPU(),
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the TSDF server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "tsdf",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	settings, err := resolveSettings(conf)
	if err != nil {
		logs.Fatal(errors.New("invalid configuration").Wrap(err))
	}

	featureFlags := featureflag.New(conf.FeatureFlags)
	field := tsdf.New(settings.Field)
	field.Instrument()
	fieldHandler := tsdfhttp.NewFieldHandler(field, tsdfhttp.FieldHandlerOptions{
		SnapshotPath: settings.SnapshotPath,
		SaveOptions:  settings.SaveOptions,
		Threads:      conf.Threads,
		FeatureFlags: featureFlags,
	})

	var service http.ServeMux
	fieldHandler.Register(&service)
	service.Handle("/health", tsdfhttp.HandleWithCORS(http.HandlerFunc(tsdfhttp.HandleHealthCheck)))
	service.Handle("/version", tsdfhttp.HandleWithCORS(http.HandlerFunc(tsdfhttp.HandleVersion(version))))
	service.Handle("/ready", tsdfhttp.HandleWithCORS(http.HandlerFunc(tsdfhttp.HandleReadyCheck(fieldHandler.Ready))))
	service.Handle("POST /smoke-test", tsdfhttp.HandleWithCORS(smoketest.HandleSmokeTest(fieldHandler.CloneField)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fieldHandler.LoadSnapshot(); err != nil {
			logs.Fatal(errors.New("loading snapshot failed").
				WithTag("path", settings.SnapshotPath).
				Wrap(err))
		}
	}()

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", tsdfhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", tsdfhttp.HandleReadyCheck(fieldHandler.Ready))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("voxel_size", settings.Field.VoxelSize).
		WithTag("reserved_blocks", humanize.Comma(int64(settings.Field.ReservedBlocks))).
		WithTag("hash_size", humanize.Comma(int64(settings.Field.HashSize))).
		WithTag("snapshot_path", settings.SnapshotPath).
		WithTag("feature_flags", featureFlags.Strings()).
		Info("starting tsdf server")

	tsdfhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			tsdfhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	wg.Wait()
	if settings.SnapshotPath == "" {
		return
	}
	featureFlags.IfNotSet(featureflag.FlagSkipSnapshotOnShutdown, func() {
		if err := fieldHandler.SaveSnapshot(); err != nil {
			logs.Warn(errors.New("saving snapshot on shutdown failed").Wrap(err))
		}
	})
}

// settings is the resolved field and snapshot configuration.
type settings struct {
	Field        tsdf.Config
	SnapshotPath string
	SaveOptions  tsdf.SaveOptions
}

// resolveSettings merges the defaults, the optional config file and the
// command line, in that order. Zero command line values leave the earlier
// ones in place.
func resolveSettings(conf config) (settings, error) {
	s := settings{Field: tsdf.DefaultConfig()}
	snapshot := tsdfconfig.Snapshot{}

	if conf.ConfigFile != "" {
		file, err := tsdfconfig.Load(conf.ConfigFile)
		if err != nil {
			return settings{}, err
		}
		s.Field = file.Field
		snapshot = file.Snapshot
	}

	if conf.VoxelSize < 0 || conf.ReservedBlocks < 0 || conf.HashSize < 0 {
		return settings{}, errors.New("negative field parameter").
			WithTag("voxel_size", conf.VoxelSize).
			WithTag("reserved_blocks", conf.ReservedBlocks).
			WithTag("hash_size", conf.HashSize)
	}
	if conf.VoxelSize > 0 {
		s.Field.VoxelSize = float32(conf.VoxelSize)
	}
	if conf.ReservedBlocks > 0 {
		s.Field.ReservedBlocks = conf.ReservedBlocks
	}
	if conf.HashSize > 0 {
		s.Field.HashSize = conf.HashSize
	}

	if conf.SnapshotPath != "" {
		snapshot.Path = conf.SnapshotPath
	}
	if conf.SnapshotCompression != "" {
		snapshot.Compression = conf.SnapshotCompression
	}
	if conf.SnapshotPrecision != "" {
		snapshot.Precision = conf.SnapshotPrecision
	}

	opts, err := snapshot.SaveOptions()
	if err != nil {
		return settings{}, err
	}
	if snapshot.Compression == "" {
		opts.Compression = codec.Zstd
	}

	s.SnapshotPath = snapshot.Path
	s.SaveOptions = opts
	return s, nil
}
