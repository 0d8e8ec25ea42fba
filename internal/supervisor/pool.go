package supervisor

import (
	"log/slog"
	"os/exec"
	"syscall"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// WorkerHandle is one live, non-blocking worker process.
type WorkerHandle struct {
	store string
	cmd   *exec.Cmd
	log   *slog.Logger
}

func (h *WorkerHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *WorkerHandle) Store() string {
	return h.store
}

// Wait blocks until the worker exits and returns its exit code.
func (h *WorkerHandle) Wait() int {
	err := h.cmd.Wait()
	code := h.cmd.ProcessState.ExitCode()
	h.log.Info("worker exited", "pid", h.PID(), "code", code, "err", err)
	return code
}

// Terminate asks the worker to stop with SIGTERM. It never force-kills.
func (h *WorkerHandle) Terminate() {
	h.log.Debug("terminating lingering worker", "pid", h.PID())
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		h.log.Warn("failed to terminate worker", "pid", h.PID(), "err", err)
	}
}

// WorkerPool tracks a fleet of workers. The running map is shared between
// the delayed launcher goroutine that waits on the fleet and the
// coordinator thread that terminates stragglers after the server exits.
type WorkerPool struct {
	log     *slog.Logger
	workers []*WorkerHandle
	running *xsync.MapOf[int, *WorkerHandle]
}

func newWorkerPool(log *slog.Logger) *WorkerPool {
	return &WorkerPool{
		log:     log,
		running: xsync.NewMapOf[int, *WorkerHandle](),
	}
}

func (p *WorkerPool) add(h *WorkerHandle) {
	p.workers = append(p.workers, h)
	p.running.Store(h.PID(), h)
}

func (p *WorkerPool) Size() int {
	return len(p.workers)
}

// Wait blocks until every worker has exited and returns the maximum exit
// code observed across the fleet.
func (p *WorkerPool) Wait() int {
	codes := make([]int, len(p.workers))
	var g errgroup.Group
	for i, w := range p.workers {
		g.Go(func() error {
			codes[i] = w.Wait()
			p.running.Delete(w.PID())
			return nil
		})
	}
	g.Wait() // workers report exit codes, not errors

	max := 0
	for _, c := range codes {
		if c > max {
			max = c
		}
	}
	p.log.Info("all workers exited", "max_code", max)
	return max
}

// TerminateStragglers politely asks every still-running worker to stop.
func (p *WorkerPool) TerminateStragglers() {
	p.running.Range(func(_ int, h *WorkerHandle) bool {
		h.Terminate()
		return true
	})
}
