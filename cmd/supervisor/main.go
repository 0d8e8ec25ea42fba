// Command supervisor is the container entrypoint: it launches the compute
// server and/or a worker fleet according to the environment, and tears
// their temporary stores down on exit or signal.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/programme-lv/orchestrator/internal/environment"
	"github.com/programme-lv/orchestrator/internal/lifecycle"
	"github.com/programme-lv/orchestrator/internal/logging"
	"github.com/programme-lv/orchestrator/internal/supervisor"
)

func main() {
	cmd := &cli.Command{
		Name:  "supervisor",
		Usage: "launch and supervise the compute server and worker fleet",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Value:   defaultJobs(),
				Usage:   "number of workers to launch",
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "supervisor: %v\n", err)
		if coder, ok := err.(cli.ExitCoder); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(_ context.Context, cmd *cli.Command) error {
	jobs := int(cmd.Int("jobs"))
	if jobs < 1 {
		return cli.Exit(fmt.Sprintf("please specify a positive number of jobs, not %d", jobs), 2)
	}

	cfg := environment.Read()
	log := logging.Setup(cfg.LogLevel)

	sup := supervisor.New(cfg, log)
	coord := lifecycle.New(cfg, sup, log, jobs)
	os.Exit(coord.Run())
	return nil
}

// defaultJobs leaves one core for the server process.
func defaultJobs() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}
