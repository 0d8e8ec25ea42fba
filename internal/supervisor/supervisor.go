// Package supervisor spawns the compute server and worker processes and
// owns the lifecycle of their ephemeral store directories.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/programme-lv/orchestrator/internal/cmdline"
	"github.com/programme-lv/orchestrator/internal/environment"
)

const (
	serverStorePrefix = "judgeserver."
	workerStorePrefix = "judgeworker."
)

type Supervisor struct {
	cfg *environment.Config
	log *slog.Logger

	// TempRoot is the namespace all store directories live under. It
	// defaults to the system temp directory; tests point it elsewhere.
	TempRoot string
}

func New(cfg *environment.Config, log *slog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log, TempRoot: os.TempDir()}
}

// MakeWorkerStores allocates count sibling store directories sharing one
// random base name, suffixed -01, -02, … so a fleet is recognizable at a
// glance in /tmp listings.
func (s *Supervisor) MakeWorkerStores(count int) ([]string, error) {
	base := filepath.Join(s.TempRoot, workerStorePrefix+uuid.NewString())
	stores := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		dir := fmt.Sprintf("%s-%02d", base, i)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create worker store: %w", err)
		}
		stores = append(stores, dir)
	}
	s.log.Debug("created worker stores", "count", count, "base", base)
	return stores, nil
}

func (s *Supervisor) makeServerStore() (string, error) {
	dir, err := os.MkdirTemp(s.TempRoot, serverStorePrefix)
	if err != nil {
		return "", fmt.Errorf("create server store: %w", err)
	}
	s.log.Debug("created server store", "path", dir)
	return dir, nil
}

// SpawnServer creates a fresh server store, runs the server synchronously
// with inherited stdio, and returns its exit code. A failure to start the
// process at all (binary missing, not executable) is returned as an error.
func (s *Supervisor) SpawnServer() (int, error) {
	store, err := s.makeServerStore()
	if err != nil {
		return 0, err
	}
	argv, err := cmdline.ServerCommand(s.cfg.ToolsBin, s.cfg.LogLevel, store, s.cfg.ServerArgs)
	if err != nil {
		return 0, err
	}

	s.log.Debug("exec", "argv", strings.Join(argv, " "))
	s.log.Info("starting server", "store", store)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err = cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		s.log.Info("server exited", "code", 0)
		return 0, nil
	case errors.As(err, &exitErr):
		s.log.Info("server exited", "code", exitErr.ExitCode())
		return exitErr.ExitCode(), nil
	default:
		return 0, fmt.Errorf("start server %s: %w", s.cfg.ToolsBin, err)
	}
}

// SpawnWorkers launches one worker per store directory against the
// configured server address and returns the live pool. Stores must exist
// before this is called.
func (s *Supervisor) SpawnWorkers(stores []string) (*WorkerPool, error) {
	pool := newWorkerPool(s.log)
	for _, store := range stores {
		argv, err := cmdline.WorkerCommand(
			s.cfg.ToolsBin, s.cfg.LogLevel, store, s.cfg.WorkerArgs, s.cfg.ServerAddr)
		if err != nil {
			return nil, err
		}

		s.log.Debug("exec", "argv", strings.Join(argv, " "))
		s.log.Info("starting worker", "store", store, "addr", s.cfg.ServerAddr)

		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start worker %s: %w", s.cfg.ToolsBin, err)
		}
		pool.add(&WorkerHandle{store: store, cmd: cmd, log: s.log})
	}
	return pool, nil
}

// Cleanup removes every store directory under the temp namespace, best
// effort: removal failures are logged and never abort the exit sequence.
func (s *Supervisor) Cleanup() {
	s.log.Debug("cleaning up temporary stores")
	for _, prefix := range []string{serverStorePrefix, workerStorePrefix} {
		matches, err := filepath.Glob(filepath.Join(s.TempRoot, prefix+"*"))
		if err != nil {
			continue
		}
		for _, path := range matches {
			s.log.Debug("removing store", "path", path)
			if err := os.RemoveAll(path); err != nil {
				s.log.Warn("failed to remove store", "path", path, "err", err)
			}
		}
	}
	s.log.Debug("cleanup complete")
}
