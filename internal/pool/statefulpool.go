package pool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"taskforge/internal/key"
	"taskforge/internal/workerwire"
)

// ProcessSpec describes one worker subprocess: the command and arguments
// to exec — re-invoking the running binary as "taskforge __worker" by
// default, per spec.md §5's "N worker processes, each the same binary
// re-invoked in a special worker mode" — plus the InitEnvelope fed to it
// once over stdin before any Task reaches it (spec.md §9's WorkerInit,
// re-cast as a serializable payload instead of a Python callable).
type ProcessSpec struct {
	Command string
	Args    []string
	Env     []string
	Init    workerwire.InitEnvelope
}

// Task is one unit of work submitted to a StatefulPool. Payload carries
// only keys (hashes), never raw values, per spec.md §5's IPC-bandwidth
// invariant: "All values crossing process boundaries are keys... never raw
// ...values."
type Task struct {
	ID      uint64
	Payload []byte
}

// TaskResult is what a worker reports back for a Task. Err, when non-nil,
// is the exception-as-value discipline spec.md §9 mandates: worker-side
// failures are returned as data, never as a panic across the pool
// boundary.
type TaskResult struct {
	ID      uint64
	Payload []byte
	Err     error
}

// StatefulPool runs a fixed number of worker subprocesses, each spawned
// once via os/exec and sent exactly one InitEnvelope over its stdin
// before any Task is submitted. Every Task and TaskResult crosses the
// pool boundary as a workerwire Request/Response envelope over the
// worker's stdin/stdout pipe: this is the real process isolation spec.md
// §5 describes, with Go's exec.Cmd plus pipes standing in for the
// source's multiprocessing.Pool.
type StatefulPool struct {
	tasks   chan Task
	results chan TaskResult
	workers errgroup.Group
	conns   []*workerConn
}

// workerConn is one live worker subprocess and the envelope codec wired
// to its pipes.
type workerConn struct {
	cmd   *exec.Cmd
	stdin io.Closer
	enc   *workerwire.Encoder
	dec   *workerwire.Decoder
}

// NewStatefulPool starts size worker subprocesses from spec, each sent one
// InitEnvelope before NewStatefulPool returns.
func NewStatefulPool(size int, spec ProcessSpec) (*StatefulPool, error) {
	if size <= 0 {
		size = 1
	}
	if spec.Command == "" {
		return nil, errors.New("pool: ProcessSpec.Command is required")
	}

	p := &StatefulPool{
		tasks:   make(chan Task),
		results: make(chan TaskResult, size),
	}
	for i := 0; i < size; i++ {
		conn, err := startWorker(spec)
		if err != nil {
			p.killStarted()
			return nil, fmt.Errorf("starting worker %d: %w", i, err)
		}
		p.conns = append(p.conns, conn)
	}
	for _, conn := range p.conns {
		conn := conn
		p.workers.Go(func() error {
			p.runWorker(conn)
			return nil
		})
	}
	return p, nil
}

// startWorker execs spec.Command and sends the one InitEnvelope every
// worker needs before it can answer a RequestEnvelope.
func startWorker(spec ProcessSpec) (*workerConn, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	enc := workerwire.NewEncoder(stdin)
	if err := enc.EncodeInit(spec.Init); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("sending init envelope: %w", err)
	}

	return &workerConn{cmd: cmd, stdin: stdin, enc: enc, dec: workerwire.NewDecoder(stdout)}, nil
}

// runWorker drains p.tasks against one worker subprocess until the
// channel closes, translating each Task to a RequestEnvelope and each
// ResponseEnvelope back to a TaskResult.
func (p *StatefulPool) runWorker(conn *workerConn) {
	for t := range p.tasks {
		var reqKey key.Key
		copy(reqKey[:], t.Payload)
		req := workerwire.NewRequest(reqKey)

		if err := conn.enc.EncodeRequest(req); err != nil {
			p.results <- TaskResult{ID: t.ID, Err: fmt.Errorf("sending request to worker: %w", err)}
			continue
		}
		resp, err := conn.dec.DecodeResponse()
		if err != nil {
			p.results <- TaskResult{ID: t.ID, Err: fmt.Errorf("reading response from worker: %w", err)}
			continue
		}
		if resp.Err != "" {
			p.results <- TaskResult{ID: t.ID, Err: errors.New(resp.Err)}
			continue
		}
		resultKey := resp.ResultKey
		p.results <- TaskResult{ID: t.ID, Payload: resultKey[:]}
	}
}

// Submit hands t to whichever worker next becomes free.
func (p *StatefulPool) Submit(t Task) {
	p.tasks <- t
}

// AwaitOneResult blocks for the next completed TaskResult, in whatever
// order workers finish them.
func (p *StatefulPool) AwaitOneResult() TaskResult {
	return <-p.results
}

// Close signals every worker to stop taking tasks, waits for in-flight
// requests to drain, then closes each worker's stdin — the EOF that tells
// cmd/taskforge's __worker loop to exit cleanly — and reaps the process.
func (p *StatefulPool) Close() {
	close(p.tasks)
	p.workers.Wait()
	close(p.results)
	for _, conn := range p.conns {
		_ = conn.stdin.Close()
		_ = conn.cmd.Wait()
	}
}

// killStarted is used when NewStatefulPool fails partway through spawning
// workers: it kills whatever subprocesses already started rather than
// leaking them.
func (p *StatefulPool) killStarted() {
	for _, conn := range p.conns {
		if conn.cmd.Process != nil {
			_ = conn.cmd.Process.Kill()
		}
		_ = conn.cmd.Wait()
	}
}
