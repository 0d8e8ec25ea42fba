// Command batchtest drives a resumable batch of judge executions over a
// directory of task subdirectories, recording each outcome in the shared
// results database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/programme-lv/orchestrator/internal/driver"
	"github.com/programme-lv/orchestrator/internal/environment"
	"github.com/programme-lv/orchestrator/internal/logging"
	"github.com/programme-lv/orchestrator/internal/resultstore"
)

const (
	defaultDB      = "db.sqlite3"
	defaultTimeout = 3 * time.Minute
	defaultCores   = 7
)

func main() {
	cmd := &cli.Command{
		Name:      "batchtest",
		Usage:     "run every task under a directory against a judge binary",
		ArgsUsage: "<judge-binary> <task-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Value: defaultDB,
				Usage: "results database file",
			},
			&cli.IntFlag{
				Name:  "session",
				Usage: "continue an existing session instead of starting a new one",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: defaultTimeout,
				Usage: "wall-clock limit per task",
			},
			&cli.IntFlag{
				Name:  "cores",
				Value: defaultCores,
				Usage: "core count passed to the judge",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "TOML file with batch defaults (flags take precedence)",
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "batchtest: %v\n", err)
		if coder, ok := err.(cli.ExitCoder); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 2 {
		return cli.Exit("expected exactly two arguments: <judge-binary> <task-dir>", 2)
	}
	judge := cmd.Args().Get(0)
	taskRoot := cmd.Args().Get(1)

	log := logging.Setup(environment.Read().LogLevel)

	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}

	store, err := resultstore.Open(cmd.String("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	var sessionID int64
	if cmd.IsSet("session") {
		sess, err := store.ResumeSession(int64(cmd.Int("session")))
		if errors.Is(err, resultstore.ErrSessionNotFound) {
			return cli.Exit(err.Error(), 1)
		}
		if err != nil {
			return err
		}
		sessionID = sess.ID
		log.Info("resuming session", "id", sessionID, "version", sess.Version)
	} else {
		version, err := driver.JudgeVersion(judge)
		if err != nil {
			return err
		}
		sessionID, err = store.BeginSession(version, time.Now())
		if err != nil {
			return err
		}
		log.Info("started session", "id", sessionID, "version", version)
	}

	batch := &driver.Batch{
		Judge:     judge,
		TaskRoot:  taskRoot,
		Cores:     settings.cores,
		Timeout:   settings.timeout,
		SessionID: sessionID,
		Store:     store,
		Log:       log,
		ExtraArgs: settings.judgeArgs,
	}
	return batch.Run(ctx)
}
