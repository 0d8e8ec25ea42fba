// Package cmdline builds the argument vectors for the external binaries the
// orchestrator spawns. Keeping construction separate from process spawning
// lets flag composition and extra-argument splitting be tested on their own.
package cmdline

import (
	"fmt"
	"strconv"
	"strings"
)

// VerbosityFlag maps a log level name to the verbosity flag understood by
// the compute binary. Unrecognized levels disable verbosity.
func VerbosityFlag(level string) string {
	switch level {
	case "warn", "warning":
		return "-v"
	case "info":
		return "-vv"
	case "debug":
		return "-vvv"
	default: // includes "error"
		return ""
	}
}

// Builder accumulates an argv for one external command.
type Builder struct {
	argv []string
}

func New(bin string) *Builder {
	return &Builder{argv: []string{bin}}
}

// Flag appends flag unless it is empty, so optional flags compose cleanly.
func (b *Builder) Flag(flag string) *Builder {
	if flag != "" {
		b.argv = append(b.argv, flag)
	}
	return b
}

// Option appends a "--name value" pair.
func (b *Builder) Option(name, value string) *Builder {
	b.argv = append(b.argv, name, value)
	return b
}

func (b *Builder) Args(args ...string) *Builder {
	b.argv = append(b.argv, args...)
	return b
}

// Extra splits a shell-style extra-arguments string and appends the pieces.
func (b *Builder) Extra(s string) (*Builder, error) {
	parts, err := SplitArgs(s)
	if err != nil {
		return b, err
	}
	b.argv = append(b.argv, parts...)
	return b, nil
}

func (b *Builder) Argv() []string {
	return b.argv
}

// ServerCommand builds the argv for the compute server process.
func ServerCommand(toolsBin, level, storeDir, extraArgs string) ([]string, error) {
	b := New(toolsBin).
		Flag(VerbosityFlag(level)).
		Args("server").
		Option("--store-dir", storeDir)
	if _, err := b.Extra(extraArgs); err != nil {
		return nil, fmt.Errorf("server args: %w", err)
	}
	return b.Argv(), nil
}

// WorkerCommand builds the argv for one worker process. The server address
// goes last, after any extra arguments.
func WorkerCommand(toolsBin, level, storeDir, extraArgs, serverAddr string) ([]string, error) {
	b := New(toolsBin).
		Flag(VerbosityFlag(level)).
		Args("worker").
		Option("--store-dir", storeDir)
	if _, err := b.Extra(extraArgs); err != nil {
		return nil, fmt.Errorf("worker args: %w", err)
	}
	b.Args(serverAddr)
	return b.Argv(), nil
}

// JudgeCommand builds the argv for one batch-test judge invocation.
func JudgeCommand(judgeBin, taskDir string, cores int, extra []string) []string {
	b := New(judgeBin).
		Option("--task-dir", taskDir).
		Option("--num-cores", strconv.Itoa(cores)).
		Args("--no-cache", "--ui", "json").
		Args(extra...)
	return b.Argv()
}

// SplitArgs splits s into arguments the way a POSIX shell would: fields are
// separated by unquoted whitespace, and single or double quotes group text
// (without variable expansion). An unterminated quote is an error.
func SplitArgs(s string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune // active quote character, 0 when outside quotes
		started bool // cur holds a field, possibly empty ("")
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			started = true
		case r == ' ' || r == '\t' || r == '\n':
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %s in %q", strconv.QuoteRune(quote), s)
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}
