package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Runner runs an external tool to completion.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) error
}

// ToolError reports an external tool that could not be started or exited
// with a non-zero status.
type ToolError struct {
	Tool     string
	Dir      string
	Args     []string
	ExitCode int // -1 if the tool did not run to completion
	Err      error
}

func (e *ToolError) Error() string {
	cmdline := strings.Join(append([]string{e.Tool}, e.Args...), " ")
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s (in %s): exit status %d", cmdline, e.Dir, e.ExitCode)
	}
	return fmt.Sprintf("%s (in %s): %v", cmdline, e.Dir, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs tools as child processes. Output goes to os.Stdout and
// os.Stderr unless Stdout or Stderr is set.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Env    []string // appended to the parent environment
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir string, argv []string) error {
	if len(argv) == 0 {
		return errors.New("harness: empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	te := &ToolError{Tool: argv[0], Dir: dir, Args: argv[1:], ExitCode: -1, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		te.ExitCode = exitErr.ExitCode()
	}
	return te
}

// Command is an external tool invocation. Arguments may contain the
// placeholders {example}, {features} and {port}.
type Command struct {
	Dir  string
	Args []string
}

// Expand substitutes vars into the arguments.
func (c Command) Expand(vars map[string]string) []string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(c.Args))
	for i, arg := range c.Args {
		out[i] = r.Replace(arg)
	}
	return out
}
