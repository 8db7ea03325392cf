package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskforge/internal/goalfile"
	"taskforge/internal/node"
	"taskforge/internal/storage"
	"taskforge/internal/workerwire"
)

// newWorkerCmd is the hidden process-isolated worker entry point
// workerwire's doc comment anticipates: spawned once per pool slot,
// initialized with an InitEnvelope, then driven by a RequestEnvelope/
// ResponseEnvelope loop over stdin/stdout until the pipe closes.
//
// internal/pool.StatefulPool spawns one such process per pool slot when
// the multiprocess engine starts: buildEngine points it at this binary
// re-invoked as taskforge __worker.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "__worker",
		Short:  "Run as a process-isolated step worker, speaking workerwire over stdio",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	return cmd
}

func runWorker(ctx context.Context, in *os.File, out *os.File) error {
	dec := workerwire.NewDecoder(in)
	enc := workerwire.NewEncoder(out)

	init, err := dec.DecodeInit()
	if err != nil {
		return fmt.Errorf("worker: reading init envelope: %w", err)
	}

	builder, err := resolveBuilder(init.BuilderName)
	if err != nil {
		return err
	}

	store, err := resolveWorkerStorage(ctx, init)
	if err != nil {
		return err
	}
	defer store.Close()

	for {
		req, err := dec.DecodeRequest()
		if err != nil {
			return nil // peer closed the pipe; a clean shutdown, not an error
		}

		resp := workerwire.ResponseEnvelope{RequestID: req.RequestID}
		st, err := store.ResolveRequest(req.RequestKey)
		if err != nil {
			resp.Err = err.Error()
		} else if result, err := st.Call(ctx, builder); err != nil {
			resp.Err = err.Error()
		} else if serErr := debugSerializationCheck(init.Debug, result); serErr != nil {
			resp.Err = serErr.Error()
		} else if resultKey, err := store.Put(result.Value); err != nil {
			resp.Err = err.Error()
		} else {
			resp.ResultKey = resultKey
		}

		if err := enc.EncodeResponse(resp); err != nil {
			return fmt.Errorf("worker: writing response envelope: %w", err)
		}
	}
}

// resolveBuilder looks a builder up by name, never by shipping a closure
// across the process boundary (spec.md §9). goalfile is presently the
// only host this binary knows how to reconstruct.
func resolveBuilder(name string) (node.Builder, error) {
	switch name {
	case goalfile.ShellBuilder{}.Name():
		return goalfile.ShellBuilder{}, nil
	default:
		return nil, fmt.Errorf("worker: unknown builder %q", name)
	}
}

// debugSerializationCheck catches non-serializable results inside the
// worker, before a resultKey is ever handed back to the main process
// (spec.md §4.3 step 3), when the engine requested debug mode.
func debugSerializationCheck(debug bool, result node.Result) error {
	if !debug {
		return nil
	}
	return node.CheckSerializable(result)
}

func resolveWorkerStorage(ctx context.Context, init workerwire.InitEnvelope) (storage.Storage, error) {
	if init.StorageInMem {
		return nil, fmt.Errorf("worker: in-memory storage cannot be shared across a process boundary; use storage.postgres_dsn")
	}
	return storage.NewPostgres(ctx, init.PostgresDSN, goalfile.Codec{})
}
