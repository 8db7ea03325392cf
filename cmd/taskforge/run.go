package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskforge/internal/cache"
	"taskforge/internal/checkpoint"
	"taskforge/internal/config"
	"taskforge/internal/engine"
	"taskforge/internal/goalfile"
	"taskforge/internal/node"
	"taskforge/internal/obslog"
	"taskforge/internal/scheduler"
	"taskforge/internal/storage"
	"taskforge/internal/trace"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var traceOut string
	var checkpointDir string
	var goals []string

	cmd := &cobra.Command{
		Use:   "run <goalfile>",
		Short: "Execute a goal file's declared goals (or a subset via --goal)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := obslog.New(obslog.Level(cfg.LogLevel))
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			sched, err := goalfile.Load(args[0])
			if err != nil {
				return err
			}
			requestedGoals := goals
			if len(requestedGoals) == 0 {
				requestedGoals = sched.Goals
			}

			store, err := buildStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			c, err := cache.New(store, 0, nil)
			if err != nil {
				return err
			}

			eng, err := buildEngine(cfg, sched, c)
			if err != nil {
				return err
			}

			var recorder *trace.Recorder
			if traceOut != "" {
				recorder = trace.NewRecorder()
			}
			if setter, ok := eng.(interface {
				SetTraceSink(trace.Sink)
			}); ok && recorder != nil {
				setter.SetTraceSink(recorder)
			}

			if checkpointDir != "" {
				if setter, ok := eng.(interface {
					SetObserver(runID string, observer checkpoint.Observer)
				}); ok {
					checkpointStore, err := checkpoint.NewStore(checkpointDir)
					if err != nil {
						return err
					}
					runID, err := checkpoint.NewRunID()
					if err != nil {
						return err
					}
					setter.SetObserver(runID, checkpoint.NewRecorder(checkpointStore))
				}
			}

			if err := eng.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}
			defer func() {
				if err := eng.Close(); err != nil {
					logger.Warnw("engine close failed", "error", err)
				}
			}()

			result := eng.Execute(cmd.Context(), scheduler.Request{RootNames: requestedGoals})
			if traceOut != "" {
				if err := writeTrace(recorder, args[0], traceOut); err != nil {
					logger.Warnw("writing trace failed", "error", err)
				}
			}
			if result.Failed() {
				return result.Err
			}

			for _, name := range requestedGoals {
				res := result.RootProducts[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n%s\n", name, res.Value)
			}
			stats := eng.CacheStats()
			logger.Infow("run complete", "hits", stats.Hits, "misses", stats.Misses, "puts", stats.Puts)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to in-memory, serial engine)")
	cmd.Flags().StringVar(&traceOut, "trace-out", "", "write a canonical execution trace to this path")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "journal incremental run progress under this directory for post-mortem diagnosis of a crashed run")
	cmd.Flags().StringSliceVar(&goals, "goal", nil, "run only these goals instead of the goal file's declared defaults")
	return cmd
}

func buildStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	if cfg.Storage.InMemory {
		return storage.NewMemory(goalfile.Codec{}), nil
	}
	return storage.NewPostgres(ctx, cfg.Storage.PostgresDSN, goalfile.Codec{})
}

func buildEngine(cfg config.Config, sched scheduler.Scheduler, c *cache.Cache) (engine.Engine, error) {
	switch cfg.Engine {
	case config.EngineModeSerial:
		return engine.NewLocalSerialEngine(sched, c), nil
	case config.EngineModeThreadHybrid:
		return engine.NewThreadHybridEngine(sched, c,
			engine.WithPoolSize(cfg.PoolSize),
			engine.WithAsyncClassifier(node.NewKindSet(cfg.ThreadedNodeTypes...)),
		), nil
	case config.EngineModeMultiprocess:
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving self for worker subprocesses: %w", err)
		}
		return engine.NewMultiprocessParallelEngine(sched, c,
			engine.WithMultiprocessPoolSize(cfg.PoolSize),
			engine.WithDebugSerialization(cfg.Debug),
			engine.WithWorkerCommand(self, "__worker"),
		), nil
	default:
		return nil, fmt.Errorf("unrecognized engine mode %q", cfg.Engine)
	}
}

func writeTrace(recorder *trace.Recorder, runKey, path string) error {
	tr := recorder.Trace(runKey)
	b, err := tr.CanonicalJSON()
	if err != nil {
		return err
	}
	var pretty map[string]any
	if err := json.Unmarshal(b, &pretty); err == nil {
		if indented, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			b = indented
		}
	}
	return os.WriteFile(path, b, 0o644)
}
