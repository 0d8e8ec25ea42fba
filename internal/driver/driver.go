// Package driver runs a batch of black-box judge executions over a
// directory of task subdirectories, recording every outcome durably so an
// interrupted batch can be resumed without redoing completed work.
package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fatih/color"

	"github.com/programme-lv/orchestrator/internal/cmdline"
	"github.com/programme-lv/orchestrator/internal/resultstore"
)

// Batch describes one driver invocation. Tasks run strictly sequentially;
// one judge process fully terminates before the next starts.
type Batch struct {
	Judge     string // path to the judge binary
	TaskRoot  string // directory whose subdirectories are the tasks
	Cores     int    // core count passed to the judge
	Timeout   time.Duration
	SessionID int64
	Store     *resultstore.Store
	Log       *slog.Logger
	Out       io.Writer // terminal progress notices; defaults to stdout
	WorkDir   string    // judge working dir; defaults to the parent of the executable's dir
	ExtraArgs []string  // extra judge arguments from the batch config file
}

var (
	noticeSkip = color.New(color.FgYellow)
	noticeRun  = color.New(color.FgCyan)
	noticeDone = color.New(color.FgGreen)
)

// Run executes every not-yet-recorded task in lexicographic order. Timeouts
// and non-zero judge exits are recorded and the batch continues; a judge
// that cannot be spawned at all aborts the batch without recording anything,
// since a driver failure must not masquerade as a task failure.
func (b *Batch) Run(ctx context.Context) error {
	out := b.Out
	if out == nil {
		out = os.Stdout
	}
	workDir, err := b.workDir()
	if err != nil {
		return err
	}
	// The judge runs with workDir as its cwd; a judge given relative to the
	// caller's cwd must be pinned down before that.
	judge, err := filepath.Abs(b.Judge)
	if err != nil {
		return fmt.Errorf("resolve judge path %s: %w", b.Judge, err)
	}

	tasks, err := listTasks(b.TaskRoot)
	if err != nil {
		return err
	}

	skipped := mapset.NewSet[string]()
	executed := mapset.NewSet[string]()
	killed := mapset.NewSet[string]()

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := b.Store.HasResult(b.SessionID, task)
		if err != nil {
			return err
		}
		if done {
			skipped.Add(task)
			noticeSkip.Fprintf(out, "Task %s already done, skipping\n", task)
			continue
		}

		startTime := time.Now()
		noticeRun.Fprintf(out, "Starting %s at %s\n", task, startTime.Format(time.RFC3339))
		res, err := b.runTask(ctx, task, workDir, judge)
		if err != nil {
			return err
		}
		res.StartTime = startTime

		if err := b.Store.RecordResult(res); err != nil {
			return err
		}
		executed.Add(task)
		if res.Killed {
			killed.Add(task)
			noticeDone.Fprintf(out, "Killed %s after %.3fs\n", task, res.Duration)
		} else {
			noticeDone.Fprintf(out, "Completed %s after %.3fs\n", task, res.Duration)
		}
	}

	b.Log.Info("batch finished",
		"session", b.SessionID,
		"executed", executed.Cardinality(),
		"skipped", skipped.Cardinality(),
		"killed", killed.Cardinality())
	return nil
}

// runTask invokes the judge once under the wall-clock timeout. On timeout
// the whole process group is killed and the sentinel result is returned;
// duration is measured with the monotonic clock either way.
func (b *Batch) runTask(ctx context.Context, task, workDir, judge string) (resultstore.TestResult, error) {
	res := resultstore.TestResult{TaskName: task, SessionID: b.SessionID}

	argv := cmdline.JudgeCommand(judge, filepath.Join(b.TaskRoot, task), b.Cores, b.ExtraArgs)

	runCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "RUST_BACKTRACE=1")
	// The judge forks helpers; a timeout has to take the whole group down.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start).Seconds()

	deadlineHit := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	signalDeath := cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == -1
	if killedByTimeout(deadlineHit, err, signalDeath) {
		res.Killed = true
		res.ReturnCode = resultstore.KilledReturnCode
		res.Stdout = ""
		res.Stderr = ""
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		// The batch itself was canceled; do not account this as a task outcome.
		return res, err
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.As(err, &exitErr):
		res.ReturnCode = cmd.ProcessState.ExitCode()
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		return res, nil
	default:
		return res, fmt.Errorf("run judge %s on task %s: %w", judge, task, err)
	}
}

// killedByTimeout decides whether a run is recorded with the kill sentinel.
// An expired deadline alone is not enough: a judge that exited on its own in
// the same instant the deadline fired keeps its real exit code and output.
func killedByTimeout(deadlineExceeded bool, runErr error, signalDeath bool) bool {
	return deadlineExceeded && runErr != nil && signalDeath
}

func (b *Batch) workDir() (string, error) {
	if b.WorkDir != "" {
		return b.WorkDir, nil
	}
	// Relative paths inside task content resolve against the deployment
	// root, not the caller's current directory.
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return filepath.Dir(filepath.Dir(exe)), nil
}

// listTasks returns the immediate subdirectories of root sorted by name,
// so batches are deterministic and reproducible.
func listTasks(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list tasks in %s: %w", root, err)
	}
	var tasks []string
	for _, e := range entries {
		if e.IsDir() {
			tasks = append(tasks, e.Name())
		}
	}
	sort.Strings(tasks)
	return tasks, nil
}

// JudgeVersion reports the version string of the judge binary under test.
func JudgeVersion(judge string) (string, error) {
	out, err := exec.Command(judge, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("query judge version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
