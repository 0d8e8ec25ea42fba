package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func resolveWith(t *testing.T, args ...string) (settings, error) {
	t.Helper()
	var (
		got    settings
		resErr error
	)
	cmd := &cli.Command{
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout},
			&cli.IntFlag{Name: "cores", Value: defaultCores},
			&cli.StringFlag{Name: "config"},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			got, resErr = resolveSettings(c)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"batchtest"}, args...)))
	return got, resErr
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestResolveSettingsDefaults(t *testing.T) {
	s, err := resolveWith(t)
	require.NoError(t, err)
	require.Equal(t, defaultTimeout, s.timeout)
	require.Equal(t, defaultCores, s.cores)
	require.Empty(t, s.judgeArgs)
}

func TestResolveSettingsFileValues(t *testing.T) {
	cfg := writeConfig(t, `
timeout_sec = 60
cores = 4
judge_args = "--dry-run --copy-exe"
`)
	s, err := resolveWith(t, "--config", cfg)
	require.NoError(t, err)
	require.Equal(t, time.Minute, s.timeout)
	require.Equal(t, 4, s.cores)
	require.Equal(t, []string{"--dry-run", "--copy-exe"}, s.judgeArgs)
}

func TestResolveSettingsFlagsBeatFile(t *testing.T) {
	cfg := writeConfig(t, "timeout_sec = 60\ncores = 4\n")
	s, err := resolveWith(t, "--config", cfg, "--timeout", "10s", "--cores", "2")
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, s.timeout)
	require.Equal(t, 2, s.cores)
}

func TestResolveSettingsBadTOML(t *testing.T) {
	cfg := writeConfig(t, "timeout_sec = [broken")
	_, err := resolveWith(t, "--config", cfg)
	require.Error(t, err)
}
