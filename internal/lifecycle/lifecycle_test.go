package lifecycle_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/programme-lv/orchestrator/internal/environment"
	"github.com/programme-lv/orchestrator/internal/lifecycle"
	"github.com/programme-lv/orchestrator/internal/supervisor"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tools")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// newCoordinator wires a coordinator whose store namespace and marker file
// live under temp dirs, with short delays suitable for tests.
func newCoordinator(t *testing.T, cfg *environment.Config, jobs int) (*lifecycle.Coordinator, *supervisor.Supervisor) {
	t.Helper()
	log := discardLog()
	sup := supervisor.New(cfg, log)
	sup.TempRoot = t.TempDir()
	c := lifecycle.New(cfg, sup, log, jobs)
	c.MarkerPath = filepath.Join(t.TempDir(), "nworkers")
	c.Readiness = 50 * time.Millisecond
	c.Join = 2 * time.Second
	return c, sup
}

func readMarker(t *testing.T, c *lifecycle.Coordinator) string {
	t.Helper()
	data, err := os.ReadFile(c.MarkerPath)
	require.NoError(t, err)
	return string(data)
}

func requireNoStoresLeft(t *testing.T, sup *supervisor.Supervisor) {
	t.Helper()
	for _, pat := range []string{"judgeserver.*", "judgeworker.*"} {
		matches, err := filepath.Glob(filepath.Join(sup.TempRoot, pat))
		require.NoError(t, err)
		require.Empty(t, matches, "leftover stores after exit")
	}
}

func TestServerOnlyMode(t *testing.T) {
	cfg := &environment.Config{
		ToolsBin:    writeScript(t, "exit 5"),
		LogLevel:    "error",
		SpawnServer: true,
	}
	c, sup := newCoordinator(t, cfg, 3)

	require.Equal(t, 5, c.Run())
	require.Equal(t, "0\n", readMarker(t, c), "marker must report zero workers")
	requireNoStoresLeft(t, sup)
}

func TestWorkersOnlyMode(t *testing.T) {
	cfg := &environment.Config{
		ToolsBin:     writeScript(t, `case "$3" in *-02) exit 6 ;; *) exit 0 ;; esac`),
		LogLevel:     "error",
		ServerAddr:   "127.0.0.1:27183",
		SpawnWorkers: true,
	}
	c, sup := newCoordinator(t, cfg, 2)

	require.Equal(t, 6, c.Run(), "workers-only reports the maximum worker exit code")
	require.Equal(t, "2\n", readMarker(t, c))
	requireNoStoresLeft(t, sup)
}

func TestCombinedModeServerCodeWins(t *testing.T) {
	script := writeScript(t, `
case "$1" in
  server) sleep 1; exit 3 ;;
  worker) exit 0 ;;
esac`)
	cfg := &environment.Config{
		ToolsBin:     script,
		LogLevel:     "error",
		ServerAddr:   "127.0.0.1:27183",
		SpawnServer:  true,
		SpawnWorkers: true,
	}
	c, sup := newCoordinator(t, cfg, 2)

	require.Equal(t, 3, c.Run())
	require.Equal(t, "2\n", readMarker(t, c))
	requireNoStoresLeft(t, sup)
}

func TestCombinedModeTerminatesLingeringWorkers(t *testing.T) {
	script := writeScript(t, `
case "$1" in
  server) exit 0 ;;
  worker) exec sleep 30 ;;
esac`)
	cfg := &environment.Config{
		ToolsBin:     script,
		LogLevel:     "error",
		ServerAddr:   "127.0.0.1:27183",
		SpawnServer:  true,
		SpawnWorkers: true,
	}
	c, sup := newCoordinator(t, cfg, 2)
	c.Join = 300 * time.Millisecond

	start := time.Now()
	require.Equal(t, 0, c.Run())
	require.Less(t, time.Since(start), 10*time.Second,
		"lingering workers must be asked to stop, not waited out")
	requireNoStoresLeft(t, sup)
}

func TestFallbackShellMode(t *testing.T) {
	cfg := &environment.Config{
		Shell:    writeScript(t, "exit 0"),
		LogLevel: "error",
	}
	c, sup := newCoordinator(t, cfg, 4)

	require.Equal(t, 0, c.Run())
	require.Equal(t, "0\n", readMarker(t, c))
	requireNoStoresLeft(t, sup)
}

func TestFallbackShellMissingIsBenign(t *testing.T) {
	cfg := &environment.Config{
		Shell:    filepath.Join(t.TempDir(), "no-such-shell"),
		LogLevel: "error",
	}
	c, _ := newCoordinator(t, cfg, 1)
	require.Equal(t, 0, c.Run())
}

func TestMissingServerBinaryIsFatal(t *testing.T) {
	cfg := &environment.Config{
		ToolsBin:    filepath.Join(t.TempDir(), "absent"),
		LogLevel:    "error",
		SpawnServer: true,
	}
	c, sup := newCoordinator(t, cfg, 1)
	require.Equal(t, 1, c.Run())
	requireNoStoresLeft(t, sup)
}

func TestRunDoesNotLeakSignalWatcher(t *testing.T) {
	cfg := &environment.Config{
		ToolsBin:    writeScript(t, "exit 0"),
		LogLevel:    "error",
		SpawnServer: true,
	}
	c, _ := newCoordinator(t, cfg, 1)

	before := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		require.Equal(t, 0, c.Run())
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.LessOrEqual(t, runtime.NumGoroutine(), before,
		"signal watcher goroutines survived Run")
}

func TestInterruptSignalCleansUpAndExits130(t *testing.T) {
	cfg := &environment.Config{
		ToolsBin:    writeScript(t, "exec sleep 2"),
		LogLevel:    "error",
		SpawnServer: true,
	}
	c, sup := newCoordinator(t, cfg, 1)

	exited := make(chan int, 1)
	c.Exit = func(code int) { exited <- code }

	go func() {
		time.Sleep(150 * time.Millisecond)
		syscall.Kill(os.Getpid(), syscall.SIGINT)
	}()

	finished := make(chan struct{})
	go func() {
		c.Run()
		close(finished)
	}()

	select {
	case code := <-exited:
		require.Equal(t, lifecycle.ExitInterrupted, code)
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}

	// Cleanup ran before the exit code was produced.
	requireNoStoresLeft(t, sup)
	<-finished
}
