// Package environment resolves the supervisor's configuration from the
// process environment (optionally seeded from a .env file) into a single
// immutable value constructed once at startup.
package environment

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultServerAddr = "127.0.0.1:27183"
	DefaultToolsBin   = "task-maker-tools"
	DefaultShell      = "/bin/bash"
)

// Config is the resolved run configuration. It is never mutated after Read
// returns; components receive it explicitly instead of consulting the
// environment themselves.
type Config struct {
	ServerArgs   string // extra args appended to the server command line
	WorkerArgs   string // extra args appended to each worker command line
	ServerAddr   string // address workers connect to
	SpawnServer  bool
	SpawnWorkers bool
	LogLevel     string // one of error, warn, info, debug
	ToolsBin     string // the supervised compute binary
	Shell        string // interactive fallback shell
}

// Read loads .env if present and resolves every variable once.
func Read() *Config {
	// A missing .env is fine; the supervisor usually runs in containers
	// that configure it through the real environment.
	_ = godotenv.Load()

	return &Config{
		ServerArgs:   os.Getenv("SERVER_ARGS"),
		WorkerArgs:   os.Getenv("WORKER_ARGS"),
		ServerAddr:   getenv("SERVER_ADDR", DefaultServerAddr),
		SpawnServer:  boolenv("SPAWN_SERVER", true),
		SpawnWorkers: boolenv("SPAWN_WORKERS", true),
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		ToolsBin:     getenv("TOOLS_BIN", DefaultToolsBin),
		Shell:        getenv("SHELL", DefaultShell),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolenv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.ToLower(v) == "true"
}
