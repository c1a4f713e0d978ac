package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrJobNotStarted = errors.New("job not started")
	ErrJobInProgress = errors.New("job in progress")
)

const (
	readSize   = 32 * 1024
	maxPending = 64 * 1024
)

// Stream identifies the origin of a Chunk.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is a line aligned piece of process output. Data is never reused by
// the runner.
type Chunk struct {
	Stream Stream
	Data   []byte
}

type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
	// KillAfter forces a kill when the process outlives a termination
	// request by this long. Zero never kills.
	KillAfter time.Duration
}

type Result struct {
	Path      string
	Args      []string
	EnvKeys   []string
	Dir       string
	Started   time.Time
	Stopped   time.Time
	State     *os.ProcessState
	Cancelled bool
	Err       error
}

// ExitCode returns the process exit code or -1 when it did not exit normally.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Runner ensures at most one process is active at a time.
type Runner struct {
	mx     sync.Mutex
	active *Process
	result Result
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrJobNotStarted},
	}
}

// Process is a running command. Consume Chunks, then call Wait.
type Process struct {
	cmd         *exec.Cmd
	cancel      context.CancelFunc
	chunks      chan Chunk
	abandon     chan struct{}
	abandonOnce sync.Once
	cancelled   atomic.Bool
	done        chan struct{}
	result      Result
}

// Start spawns the command. It returns ErrJobInProgress while a previous
// process has not been fully waited for, or the exec error.
// Cancelling ctx or calling Process.Cancel asks the process to terminate.
func (r *Runner) Start(ctx context.Context, proto Command) (*Process, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.active != nil {
		return nil, ErrJobInProgress
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Process{
		cancel:  cancel,
		chunks:  make(chan Chunk),
		abandon: make(chan struct{}),
		done:    make(chan struct{}),
		result: Result{
			Path:    proto.Path,
			Args:    slices.Clone(proto.Args),
			EnvKeys: envKeys(proto.Env),
			Dir:     proto.Dir,
		},
	}

	// #nosec G204 -- path and args are assembled from the local configuration
	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Env = proto.Env
	cmd.Dir = proto.Dir
	cmd.Cancel = func() error {
		p.cancelled.Store(true)
		slog.DebugContext(ctx, "terminating job process", "pid", cmd.Process.Pid)
		return terminate(cmd.Process)
	}
	cmd.WaitDelay = proto.KillAfter
	detach(cmd)
	p.cmd = cmd

	fail := func(err error) (*Process, error) {
		cancel()
		r.result = p.result
		r.result.Started = time.Now().UTC()
		r.result.Stopped = r.result.Started
		r.result.Err = err
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(err)
	}

	slog.DebugContext(ctx, "starting job process", "path", proto.Path, "dir", proto.Dir, "env_keys", p.result.EnvKeys)
	p.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		return fail(err)
	}

	r.active = p
	r.result = Result{Err: ErrJobInProgress}
	go r.supervise(ctx, p, stdout, stderr)
	return p, nil
}

func (r *Runner) supervise(ctx context.Context, p *Process, stdout, stderr io.Reader) {
	var g errgroup.Group
	g.Go(func() error { return p.read(Stdout, stdout) })
	g.Go(func() error { return p.read(Stderr, stderr) })
	readErr := g.Wait()
	close(p.chunks)

	// exit is observed only once both streams reached EOF
	waitErr := p.cmd.Wait()
	p.cancel()

	p.result.Stopped = time.Now().UTC()
	p.result.State = p.cmd.ProcessState
	p.result.Cancelled = p.cancelled.Load()
	p.result.Err = waitErr
	if readErr != nil && waitErr == nil {
		p.result.Err = readErr
	}
	slog.DebugContext(ctx, "job process finished",
		"exit_code", p.result.ExitCode(),
		"cancelled", p.result.Cancelled,
		"duration", p.result.Stopped.Sub(p.result.Started),
	)

	r.mx.Lock()
	r.result = p.result
	r.active = nil
	r.mx.Unlock()
	close(p.done)
}

// read forwards complete lines from rd. A partial line is held back until it
// is completed, grows past maxPending or the stream ends.
func (p *Process) read(stream Stream, rd io.Reader) error {
	buf := make([]byte, readSize)
	var pending []byte
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			if i := bytes.LastIndexByte(pending, '\n'); i >= 0 {
				p.send(Chunk{Stream: stream, Data: slices.Clone(pending[:i+1])})
				pending = append(pending[:0], pending[i+1:]...)
			} else if len(pending) >= maxPending {
				p.send(Chunk{Stream: stream, Data: slices.Clone(pending)})
				pending = pending[:0]
			}
		}
		if err != nil {
			if len(pending) > 0 {
				p.send(Chunk{Stream: stream, Data: slices.Clone(pending)})
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", stream, err)
		}
	}
}

// send blocks until the consumer takes the chunk. Once the consumer has gone
// away chunks are dropped so the pipes keep draining.
func (p *Process) send(c Chunk) {
	select {
	case <-p.abandon:
		return
	default:
	}
	select {
	case p.chunks <- c:
	case <-p.abandon:
	}
}

func (p *Process) stopConsuming() {
	p.abandonOnce.Do(func() { close(p.abandon) })
}

// Chunks yields output in arrival order until both streams are closed.
// Breaking out of the loop discards the remaining output.
func (p *Process) Chunks() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for c := range p.chunks {
			if !yield(c) {
				p.stopConsuming()
				return
			}
		}
	}
}

// Cancel requests termination. Only the first call signals the process.
func (p *Process) Cancel() {
	p.cancel()
}

// Wait blocks until the process exited and returns its terminal result.
// Output not consumed via Chunks is discarded.
func (p *Process) Wait() Result {
	p.stopConsuming()
	<-p.done
	return p.result
}

// Done is closed once the result is available.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// LastResult returns the result of the last process, or a result
// with ErrJobNotStarted/ErrJobInProgress.
func (r *Runner) LastResult() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result
}

// Close terminates the active process, if any, and waits for it.
func (r *Runner) Close() {
	r.mx.Lock()
	p := r.active
	r.mx.Unlock()
	if p == nil {
		return
	}
	p.Cancel()
	p.Wait()
}

func envKeys(env []string) []string {
	keys := make([]string, 0, len(env))
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		keys = append(keys, k)
	}
	return keys
}
