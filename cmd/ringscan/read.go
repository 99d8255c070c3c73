package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pithecene-io/ringscan/export"
	exports3 "github.com/pithecene-io/ringscan/export/s3"
	"github.com/pithecene-io/ringscan/internal/config"
	"github.com/pithecene-io/ringscan/internal/logging"
	"github.com/pithecene-io/ringscan/internal/metrics"
	"github.com/pithecene-io/ringscan/internal/pipeline"
	"github.com/pithecene-io/ringscan/ringscan"
	"github.com/pithecene-io/ringscan/ringscan/cql"
	"github.com/pithecene-io/ringscan/ringscan/otel"
)

func newReadCmd(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Export a table, optionally restricted to token ranges",
		Long: `Read every row of a table, or only the rows in the token ranges listed in
a JSON file ([{"start":"-9223372036854775808","end":"0"}, ...]), and export
them as part files plus a manifest to a directory or an S3 bucket.

Ranges are read as given. A range whose start is greater than its end wraps
around the ring. An empty range list reads nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			logger := logging.New(os.Stderr, logging.Config{
				Level:     cfg.Log.Level,
				Format:    cfg.Log.Format,
				AddSource: cfg.Log.AddSource,
			})
			man, err := runRead(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d rows in %d files\n", man.RunID, man.RowCount, len(man.Files))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSlice("hosts", nil, "Cassandra contact points")
	f.String("consistency", "", "read consistency level, e.g. LOCAL_QUORUM")
	f.String("keyspace", "", "keyspace to read")
	f.String("table", "", "table to read")
	f.String("query", "", "custom SELECT used instead of SELECT *")
	f.String("ranges", "", "JSON file of token ranges; omit to read the whole table")
	f.String("out", "", "export directory")
	f.String("bucket", "", "export S3 bucket")
	f.String("prefix", "", "export prefix; defaults to <keyspace>/<table>/<run-id>")
	f.String("codec", "", "record codec: jsonl or parquet")
	f.String("compressor", "", "part compressor: noop, gzip or zstd")
	f.StringSlice("columns", nil, "parquet columns as name:type, '?' suffix for nullable")
	f.Int("max-records", 0, "records per part file")
	f.Int("workers", 0, "concurrent read units")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	bindFlags(v, f, map[string]string{
		"cassandra.hosts":       "hosts",
		"cassandra.consistency": "consistency",
		"read.keyspace":         "keyspace",
		"read.table":            "table",
		"read.query":            "query",
		"read.ranges_file":      "ranges",
		"export.dir":            "out",
		"s3.bucket":             "bucket",
		"export.prefix":         "prefix",
		"export.codec":          "codec",
		"export.compressor":     "compressor",
		"export.columns":        "columns",
		"export.max_records":    "max-records",
		"workers":               "workers",
		"metrics.addr":          "metrics-addr",
	})
	return cmd
}

// runRead executes one export and returns its committed manifest.
func runRead(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*export.Manifest, error) {
	spec, err := readSpec(cfg.Read)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer stop()
	}

	provider, err := cql.NewProvider(cql.ClientConfig{
		Hosts:          cfg.Cassandra.Hosts,
		Port:           cfg.Cassandra.Port,
		Username:       cfg.Cassandra.Username,
		Password:       cfg.Cassandra.Password,
		Consistency:    cfg.Cassandra.Consistency,
		Timeout:        cfg.Cassandra.Timeout,
		ConnectTimeout: cfg.Cassandra.ConnectTimeout,
		ProtoVersion:   cfg.Cassandra.ProtoVersion,
		PageSize:       cfg.Cassandra.PageSize,
		Partitioner:    cfg.Cassandra.Partitioner,
		CAPath:         cfg.Cassandra.CAPath,
	})
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	reader, err := ringscan.NewReader(otel.NewProvider(provider), ringscan.RowMapper(),
		ringscan.WithLogger(logger),
		ringscan.WithObserver(m),
	)
	if err != nil {
		return nil, err
	}
	return exportTo(ctx, cfg, spec, reader, m, logger)
}

// exportTo runs reader over spec into a new export and commits it. The
// export is aborted when the read fails.
func exportTo(
	ctx context.Context,
	cfg *config.Config,
	spec ringscan.ReadSpec,
	reader *ringscan.Reader[map[string]any],
	m *metrics.Metrics,
	logger *slog.Logger,
) (*export.Manifest, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	codec, err := newCodec(cfg.Export)
	if err != nil {
		return nil, err
	}
	comp, err := export.CompressorByName(cfg.Export.Compressor)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	prefix := exportPrefix(cfg.Export.Prefix, spec, runID)
	w, err := export.NewWriter[map[string]any](ctx, store, prefix,
		export.WithCodec(codec),
		export.WithCompressor(comp),
		export.WithMaxRecords(cfg.Export.MaxRecords),
		export.WithRunID(runID),
		export.WithSource(spec.Keyspace, spec.Table),
		export.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	runner, err := pipeline.New(reader,
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithLogger(logger),
		pipeline.WithUnitDone(func(r pipeline.UnitResult) { m.ReadDone(r.Err) }),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("export started", "table", spec.String(), "prefix", prefix, "run_id", runID,
		"ranges", len(spec.RingRanges), "whole_table", !spec.HasRingRanges())
	if err := runner.Run(ctx, spec, w); err != nil {
		// The context may be canceled already; cleanup gets its own.
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if aerr := w.Abort(abortCtx); aerr != nil {
			logger.Warn("export abort incomplete", "prefix", prefix, "error", aerr)
		}
		return nil, err
	}
	return w.Close(ctx)
}

func readSpec(cfg config.Read) (ringscan.ReadSpec, error) {
	spec := ringscan.ReadSpec{Keyspace: cfg.Keyspace, Table: cfg.Table, Query: cfg.Query}
	if cfg.RangesFile == "" {
		return spec, nil
	}
	f, err := os.Open(cfg.RangesFile)
	if err != nil {
		return spec, fmt.Errorf("open ranges: %w", err)
	}
	defer func() { _ = f.Close() }()

	spec.RingRanges, err = ringscan.DecodeRingRanges(f)
	if err != nil {
		return spec, fmt.Errorf("%s: %w", cfg.RangesFile, err)
	}
	return spec, nil
}

func openStore(ctx context.Context, cfg *config.Config) (export.Store, error) {
	if cfg.Export.Dir != "" {
		return export.NewFS(cfg.Export.Dir)
	}
	return exports3.NewStore(ctx, exports3.ClientConfig{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		UsePathStyle:    cfg.S3.UsePathStyle,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	}, exports3.Config{Bucket: cfg.S3.Bucket, Prefix: cfg.S3.Prefix})
}

func newCodec(cfg config.Export) (export.Codec, error) {
	switch cfg.Codec {
	case "", "jsonl":
		return export.NewJSONLCodec(), nil
	case "parquet":
		schema, err := export.ParseSchema(cfg.Columns)
		if err != nil {
			return nil, err
		}
		return export.NewParquetCodec(schema)
	default:
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
}

func exportPrefix(prefix string, spec ringscan.ReadSpec, runID string) string {
	if prefix != "" {
		return prefix
	}
	return path.Join(spec.Keyspace, spec.Table, runID)
}

// serveMetrics serves /metrics in the background and returns a function
// that shuts the server down.
func serveMetrics(addr string, g prometheus.Gatherer, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
