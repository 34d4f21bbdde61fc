// Package main provides the rango CLI: radius-bounded range search over a
// delimited point-cloud file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/rango"
	"github.com/hupe1980/rango/blobstore"
	"github.com/hupe1980/rango/config"
	"github.com/hupe1980/rango/launch"
	"github.com/hupe1980/rango/pointcloud"
	"github.com/hupe1980/rango/resource"
	"github.com/hupe1980/rango/snapshot"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := newRootCmd()

	if err := rootCmd.Execute(); err != nil {
		// The dimensionality bound is user-facing-invalid input, yet the
		// usage-and-success path is the long-standing behavior of the tool
		// this derives from. Kept as is.
		var dim *rango.ErrInvalidDimension
		if errors.As(err, &dim) {
			fmt.Fprintln(os.Stderr, err)
			_ = rootCmd.Usage()
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, "rango:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		filePath    string
		radius      float32
		knn         int
		deviceIndex int
		configPath  string
		snapshotDir string
	)

	cmd := &cobra.Command{
		Use:           "rango",
		Short:         "Radius-bounded range search over a point cloud",
		Long: `rango builds an acceleration structure over every 3-D projection of a
point cloud and answers, for each point, which other points lie within the
search radius. Results go to stdout, one line of neighbor indices per query;
diagnostics go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configPath, filePath, radius, knn, deviceIndex, snapshotDir)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "", "point-cloud source file (required)")
	cmd.Flags().Float32VarP(&radius, "radius", "r", config.Default().Radius, "search radius")
	cmd.Flags().IntVarP(&knn, "knn", "k", config.Default().KNN, "max neighbors per query")
	cmd.Flags().IntVar(&deviceIndex, "device", 0, "device index")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML run configuration file")
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "save/restore built structures here")
	_ = cmd.MarkFlagRequired("file")

	// An unknown flag prints usage and exits 0, matching the tool this
	// derives from.
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		fmt.Fprintln(os.Stderr, err)
		_ = c.Usage()
		os.Exit(0)
		return nil
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rango %s (%s)\n", version, commit)
		},
	})

	return cmd
}

// resolveConfig layers flags over the optional config file over defaults.
func resolveConfig(cmd *cobra.Command, configPath, filePath string, radius float32, knn, deviceIndex int, snapshotDir string) (config.Config, error) {
	cfg := config.Default()

	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("file") || cfg.File == "" {
		cfg.File = filePath
	}
	if flags.Changed("radius") {
		cfg.Radius = radius
	}
	if flags.Changed("knn") {
		cfg.KNN = knn
	}
	if flags.Changed("device") {
		cfg.Device = deviceIndex
	}
	if flags.Changed("snapshot-dir") {
		cfg.SnapshotDir = snapshotDir
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}

	var logger *rango.Logger
	if cfg.Log.Format == "json" {
		logger = rango.NewJSONLogger(level)
	} else {
		logger = rango.NewTextLogger(level)
	}

	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := loadGeometry(ctx, e, cfg, logger); err != nil {
		return err
	}

	logger.WithRadius(cfg.Radius).WithK(cfg.KNN).Info("search configured",
		"dim", e.NumBatches()*3,
		"batches", e.NumBatches(),
		"prims", e.NumPoints(),
	)

	if err := e.LinkPipeline(ctx); err != nil {
		return err
	}
	if err := e.BuildBindingTable(ctx); err != nil {
		return err
	}

	// Batch 0 carries the first three coordinates; it is the one the tool
	// reports, as in the system this derives from.
	res, err := e.Run(ctx, 0)
	if err != nil {
		return err
	}

	printResult(res)

	sum, err := e.Validate(ctx, res)
	if err != nil {
		return err
	}
	logger.Info("neighbor summary",
		"avg_neighbors_per_query", sum.AvgNeighbors(),
		"avg_wrong_per_query", sum.AvgWrongNeighbors(),
		"avg_wrong_distance", sum.AvgWrongDistance(),
	)

	return nil
}

// newEngine opens an engine with every knob the run configuration carries,
// including the device resource limits.
func newEngine(cfg config.Config, logger *rango.Logger) (*rango.Engine, error) {
	compression, err := snapshot.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	return rango.Search(cfg.Radius).
		KNN(cfg.KNN).
		Device(cfg.Device).
		Lanes(cfg.Lanes).
		Resources(resource.Config{
			DeviceMemoryBytes:   cfg.Resources.DeviceMemoryBytes,
			MaxConcurrentBuilds: cfg.Resources.MaxConcurrentBuilds,
			CopyBytesPerSec:     cfg.Resources.CopyBytesPerSec,
		}).
		Epsilon(cfg.Epsilon).
		MaxTrace(cfg.MaxTrace).
		SnapshotOptions(func(o *snapshot.Options) { o.Compression = compression }).
		Logger(logger).
		Build()
}

// loadGeometry restores from the snapshot directory when one is configured
// and already populated; otherwise it builds from the input file and, with a
// snapshot directory configured, saves the result for the next run.
func loadGeometry(ctx context.Context, e *rango.Engine, cfg config.Config, logger *rango.Logger) error {
	var store blobstore.BlobStore
	var commit blobstore.CommitStore
	if cfg.SnapshotDir != "" {
		store = blobstore.NewLocalStore(cfg.SnapshotDir)
		commit = blobstore.NewFileCommitStore(cfg.SnapshotDir)

		err := e.RestoreGeometry(ctx, store, commit)
		if err == nil {
			return nil
		}
		if !errors.Is(err, blobstore.ErrNotFound) {
			return err
		}
		logger.Debug("no snapshot to restore, building from input")
	}

	f, err := os.Open(cfg.File)
	if err != nil {
		return err
	}
	defer f.Close()

	cloud, err := pointcloud.Read(f)
	if err != nil {
		return translateInput(err)
	}

	if err := e.BuildGeometry(ctx, cloud); err != nil {
		return err
	}

	if store != nil {
		if _, err := e.SaveSnapshot(ctx, store, commit); err != nil {
			return err
		}
	}

	return nil
}

// translateInput maps reader errors onto the facade taxonomy so main can
// route the dimensionality bound to the usage path.
func translateInput(err error) error {
	var de *pointcloud.DimensionError
	if errors.As(err, &de) {
		return &rango.ErrInvalidDimension{Dimension: de.Dim}
	}
	return err
}

func printResult(res *launch.Result) {
	var sb strings.Builder
	for q := 0; q < res.NumQueries; q++ {
		sb.Reset()
		for i, id := range res.Neighbors(q) {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%d", id)
		}
		fmt.Println(sb.String())
	}
}
