package scheduler

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Runner executes one shell command and reports output and exit code.
type Runner interface {
	Exec(ctx context.Context, cmd string) (string, int, error)
}

// LocalShell runs commands with /bin/sh on this machine.
type LocalShell struct{}

func (LocalShell) Exec(ctx context.Context, cmd string) (string, int, error) {
	var buf bytes.Buffer
	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	c.Stdout = &buf
	c.Stderr = &buf

	err := c.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return buf.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return buf.String(), -1, err
	}
	return buf.String(), 0, nil
}
