// Package lifecycle selects and runs one of the four supervisor modes and
// guarantees that temporary-store cleanup fires exactly once on every exit
// path, including interruption and termination signals.
package lifecycle

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/programme-lv/orchestrator/internal/environment"
	"github.com/programme-lv/orchestrator/internal/supervisor"
)

const (
	// ExitInterrupted and ExitTerminated distinguish signal-triggered
	// shutdowns from child exit codes.
	ExitInterrupted = 130
	ExitTerminated  = 143

	// MarkerFile records how many workers were actually started, for
	// downstream tooling. Written even by modes that start none, so a
	// previous run's value never goes stale.
	MarkerFile = "nworkers"

	// ReadinessDelay is the best-effort pause before workers are launched
	// in combined mode, giving the server time to start listening. There is
	// no real readiness handshake; this is deliberately just a delay.
	ReadinessDelay = 2 * time.Second

	// JoinBound limits how long the coordinator waits for the worker
	// launcher after the server exits before terminating stragglers.
	JoinBound = 1 * time.Second
)

type Coordinator struct {
	cfg     *environment.Config
	sup     *supervisor.Supervisor
	log     *slog.Logger
	workers int

	// Overridable for tests.
	MarkerPath string
	Readiness  time.Duration
	Join       time.Duration
	Exit       func(code int)
}

func New(cfg *environment.Config, sup *supervisor.Supervisor, log *slog.Logger, workers int) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		sup:        sup,
		log:        log,
		workers:    workers,
		MarkerPath: MarkerFile,
		Readiness:  ReadinessDelay,
		Join:       JoinBound,
		Exit:       os.Exit,
	}
}

// cleanupScope runs its action exactly once across every exit path.
type cleanupScope struct {
	once sync.Once
	fn   func()
}

func (c *cleanupScope) Run() {
	c.once.Do(c.fn)
}

// Run executes the configured mode under the guaranteed-cleanup scope and
// returns the process exit code. On SIGINT or SIGTERM it cleans up and
// exits with the distinguishing code instead of the kernel default.
func (c *Coordinator) Run() int {
	scope := &cleanupScope{fn: c.sup.Cleanup}
	defer scope.Run()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case sig := <-sigc:
			c.log.Warn("received signal, shutting down", "signal", sig.String())
			scope.Run()
			if sig == syscall.SIGTERM {
				c.Exit(ExitTerminated)
			} else {
				c.Exit(ExitInterrupted)
			}
		}
	}()

	code, err := c.runMode()
	if err != nil {
		c.log.Error("supervisor failed", "err", err)
		return 1
	}
	return code
}

func (c *Coordinator) runMode() (int, error) {
	c.log.Info("resolved configuration",
		"jobs", c.workers,
		"server", c.cfg.SpawnServer,
		"workers", c.cfg.SpawnWorkers,
		"addr", c.cfg.ServerAddr,
		"log_level", c.cfg.LogLevel)

	if err := c.writeMarker(0); err != nil {
		return 0, err
	}

	var stores []string
	if c.cfg.SpawnWorkers {
		var err error
		stores, err = c.sup.MakeWorkerStores(c.workers)
		if err != nil {
			return 0, err
		}
		if err := c.writeMarker(c.workers); err != nil {
			return 0, err
		}
	}

	switch {
	case !c.cfg.SpawnServer && c.cfg.SpawnWorkers:
		c.log.Info("mode: workers only")
		pool, err := c.sup.SpawnWorkers(stores)
		if err != nil {
			return 0, err
		}
		return pool.Wait(), nil

	case c.cfg.SpawnServer && !c.cfg.SpawnWorkers:
		c.log.Info("mode: server only")
		return c.sup.SpawnServer()

	case c.cfg.SpawnServer && c.cfg.SpawnWorkers:
		c.log.Info("mode: server + workers")
		return c.runCombined(stores)

	default:
		c.log.Info("mode: nothing to spawn, opening interactive shell")
		return c.runShell()
	}
}

// runCombined runs the server on the calling thread. A launcher goroutine
// starts the workers after the readiness delay and waits for the fleet;
// once the server exits, the coordinator joins the launcher within the
// bound, then politely terminates any workers still running. The server's
// exit code wins.
func (c *Coordinator) runCombined(stores []string) (int, error) {
	var (
		mu   sync.Mutex
		pool *supervisor.WorkerPool
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		c.log.Debug("delaying worker launch", "delay", c.Readiness)
		time.Sleep(c.Readiness)
		p, err := c.sup.SpawnWorkers(stores)
		if err != nil {
			c.log.Error("failed to spawn workers", "err", err)
			return
		}
		mu.Lock()
		pool = p
		mu.Unlock()
		p.Wait()
	}()

	code, err := c.sup.SpawnServer()
	if err != nil {
		return 0, err
	}

	c.log.Debug("server finished, joining worker launcher", "code", code)
	select {
	case <-done:
	case <-time.After(c.Join):
		mu.Lock()
		p := pool
		mu.Unlock()
		if p != nil {
			p.TerminateStragglers()
		}
	}
	return code, nil
}

// runShell launches the configured interactive shell and reports its exit
// code. A missing shell binary is benign and maps to exit 0.
func (c *Coordinator) runShell() (int, error) {
	cmd := exec.Command(c.cfg.Shell)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, exec.ErrNotFound):
		c.log.Error("shell not found, exiting", "shell", c.cfg.Shell)
		return 0, nil
	default:
		return 0, fmt.Errorf("start shell %s: %w", c.cfg.Shell, err)
	}
}

func (c *Coordinator) writeMarker(n int) error {
	if err := os.WriteFile(c.MarkerPath, fmt.Appendf(nil, "%d\n", n), 0o644); err != nil {
		return fmt.Errorf("write worker-count marker: %w", err)
	}
	return nil
}
