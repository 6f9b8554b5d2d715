package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/framealloc"
	"github.com/hupe1980/framealloc/config"
	"github.com/hupe1980/framealloc/internal/stress"
	"github.com/hupe1980/framealloc/resource"
)

type runOptions struct {
	frameBytes  int
	frames      int
	workers     int
	cycles      int
	hold        int
	ops         int64
	memoryLimit int64
	configPath  string
	section     string
}

var runOpts runOptions

func init() {
	cmd := newRunCmd(&runOpts)
	rootCmd.AddCommand(cmd)
}

func newRunCmd(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a stress test",
		Long: `The run command creates an allocator per configured frame size and
drives it from concurrent workers.

Example:
  framestress run --frame-bytes 64 --frames 1024 --workers 16
  framestress run --config stress.yaml --section allocator --json

A config file lists frame sizes and, optionally, the stress parameters:

  allocator:
    frame_bytes: [64, 512]
    frame_count: 4096
  stress:
    workers: 8
    cycles: 100000
    hold: 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), jsonOut, verbose)
			return runStress(cmd.Context(), *opts, logger, cmd.OutOrStdout(), jsonOut)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.frameBytes, "frame-bytes", 64, "Requested frame size in bytes")
	f.IntVar(&opts.frames, "frames", 1024, "Number of frames")
	f.IntVar(&opts.workers, "workers", 8, "Concurrent workers")
	f.IntVar(&opts.cycles, "cycles", 10000, "Allocate/free rounds per worker")
	f.IntVar(&opts.hold, "hold", 2, "Frames held per round")
	f.Int64Var(&opts.ops, "ops", 0, "Operations per second across all workers (0 = unlimited)")
	f.Int64Var(&opts.memoryLimit, "memory-limit", 0, "Region memory budget in bytes (0 = unlimited)")
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.StringVar(&opts.section, "section", "allocator", "Config section holding frame_bytes and frame_count")

	return cmd
}

func newLogger(w io.Writer, jsonOut, verbose bool) *framealloc.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if jsonOut {
		return framealloc.NewLogger(slog.NewJSONHandler(w, hopts))
	}
	return framealloc.NewLogger(slog.NewTextHandler(w, hopts))
}

// runResult is one line of run output.
type runResult struct {
	FrameBytes     int    `json:"frame_bytes"`
	FrameSize      int    `json:"frame_size"`
	FrameCount     int    `json:"frame_count"`
	Allocs         uint64 `json:"allocs"`
	Frees          uint64 `json:"frees"`
	Exhausted      uint64 `json:"exhausted"`
	MaxOutstanding uint64 `json:"max_outstanding"`
	Retries        uint64 `json:"cas_retries"`
	DurationMS     int64  `json:"duration_ms"`
}

func runStress(ctx context.Context, opts runOptions, logger *framealloc.Logger, out io.Writer, jsonOut bool) error {
	cfgs, scfg, err := loadConfigs(opts)
	if err != nil {
		return err
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes: opts.memoryLimit,
		OpsPerSecond:     opts.ops,
	})
	scfg.Pacer = rc

	enc := json.NewEncoder(out)
	for _, cfg := range cfgs {
		res, err := runOne(ctx, cfg, scfg, rc, logger)
		if err != nil {
			return err
		}
		if jsonOut {
			if err := enc.Encode(res); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "frame_bytes=%d frame_size=%d frames=%d allocs=%d frees=%d exhausted=%d max_outstanding=%d cas_retries=%d duration=%dms\n",
			res.FrameBytes, res.FrameSize, res.FrameCount, res.Allocs, res.Frees,
			res.Exhausted, res.MaxOutstanding, res.Retries, res.DurationMS)
	}
	return nil
}

func runOne(ctx context.Context, cfg framealloc.Config, scfg stress.Config, rc *resource.Controller, logger *framealloc.Logger) (runResult, error) {
	mc := &framealloc.BasicMetricsCollector{}
	a, err := framealloc.NewFromConfig(cfg,
		framealloc.WithLogger(logger),
		framealloc.WithMetricsCollector(mc),
		framealloc.WithMemoryAcquirer(rc),
	)
	if err != nil {
		return runResult{}, fmt.Errorf("create allocator (%d x %d bytes): %w", cfg.FrameCount, cfg.FrameBytes, err)
	}

	report, runErr := stress.Run(ctx, a, scfg)
	stats := a.Stats()
	closeErr := a.Close()

	logger.InfoContext(ctx, "stress run complete",
		"frame_size", stats.FrameSize,
		"frames", stats.FrameCount,
		"allocs", report.Allocs,
		"frees", report.Frees,
		"exhausted", report.Exhausted,
		"max_outstanding", report.MaxOutstanding,
		"cas_retries", stats.Retries,
		"duration", report.Duration,
		"mapped_bytes", mc.GetStats().MappedBytes,
	)

	if runErr != nil {
		return runResult{}, fmt.Errorf("stress run (%d x %d bytes): %w", cfg.FrameCount, cfg.FrameBytes, runErr)
	}
	if closeErr != nil {
		return runResult{}, closeErr
	}
	if stats.Allocs != stats.Frees || stats.Allocs != report.Allocs {
		return runResult{}, fmt.Errorf("counter mismatch: allocator allocs=%d frees=%d, workers allocs=%d",
			stats.Allocs, stats.Frees, report.Allocs)
	}

	return runResult{
		FrameBytes:     cfg.FrameBytes,
		FrameSize:      stats.FrameSize,
		FrameCount:     stats.FrameCount,
		Allocs:         report.Allocs,
		Frees:          report.Frees,
		Exhausted:      report.Exhausted,
		MaxOutstanding: report.MaxOutstanding,
		Retries:        stats.Retries,
		DurationMS:     report.Duration.Milliseconds(),
	}, nil
}

// loadConfigs returns the allocators to test and the stress parameters,
// from the config file if one is given and from flags otherwise.
func loadConfigs(opts runOptions) ([]framealloc.Config, stress.Config, error) {
	scfg := stress.Config{Workers: opts.workers, Cycles: opts.cycles, Hold: opts.hold}

	if opts.configPath == "" {
		return []framealloc.Config{{FrameBytes: opts.frameBytes, FrameCount: opts.frames}}, scfg, nil
	}

	tree, err := config.Load(opts.configPath)
	if err != nil {
		return nil, scfg, err
	}
	cfgs, err := framealloc.ConfigsFromTree(tree, opts.section)
	if err != nil {
		return nil, scfg, err
	}

	for name, dst := range map[string]*int{
		"stress.workers": &scfg.Workers,
		"stress.cycles":  &scfg.Cycles,
		"stress.hold":    &scfg.Hold,
	} {
		if !tree.Has(name) {
			continue
		}
		v, err := tree.Int(name)
		if err != nil {
			return nil, scfg, err
		}
		*dst = v
	}

	return cfgs, scfg, nil
}
