package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"

	"github.com/programme-lv/orchestrator/internal/cmdline"
)

// fileConfig is the optional TOML batch configuration. Explicitly set flags
// override file values, which override built-in defaults.
type fileConfig struct {
	TimeoutSec int    `toml:"timeout_sec"`
	Cores      int    `toml:"cores"`
	JudgeArgs  string `toml:"judge_args"`
}

type settings struct {
	timeout   time.Duration
	cores     int
	judgeArgs []string
}

func resolveSettings(cmd *cli.Command) (settings, error) {
	s := settings{
		timeout: cmd.Duration("timeout"),
		cores:   int(cmd.Int("cores")),
	}

	path := cmd.String("config")
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read batch config: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return s, fmt.Errorf("parse batch config %s: %w", path, err)
	}

	if fc.TimeoutSec > 0 && !cmd.IsSet("timeout") {
		s.timeout = time.Duration(fc.TimeoutSec) * time.Second
	}
	if fc.Cores > 0 && !cmd.IsSet("cores") {
		s.cores = fc.Cores
	}
	if fc.JudgeArgs != "" {
		s.judgeArgs, err = cmdline.SplitArgs(fc.JudgeArgs)
		if err != nil {
			return s, fmt.Errorf("parse judge_args in %s: %w", path, err)
		}
	}
	return s, nil
}
