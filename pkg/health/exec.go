package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ExecChecker checks an application by running a shell command. Exit code 0
// means healthy.
type ExecChecker struct {
	// Command is run with sh -c
	Command string

	// Dir is the working directory of the command
	Dir string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if e.Command == "" {
		return failed(start, "no command specified")
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", e.Command)
	cmd.Dir = e.Dir
	// children of the shell may hold stderr open past the kill
	cmd.WaitDelay = 500 * time.Millisecond

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := fmt.Sprintf("%s: %v", e.Command, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s: %s", message, truncate(stderr.String(), 100))
		}
		return failed(start, message)
	}

	return passed(start, e.Command+": ok")
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithDir sets the working directory
func (e *ExecChecker) WithDir(dir string) *ExecChecker {
	e.Dir = dir
	return e
}

func truncate(s string, n int) string {
	s = string(bytes.TrimSpace([]byte(s)))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
