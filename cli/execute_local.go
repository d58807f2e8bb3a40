package cli

// This file contains local command execution for the exec command:
// the command output is streamed and captured at the same time.

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// exitCodeNotExecuted is reported when the command could not be started,
// matching the shell's "command not found" status.
const exitCodeNotExecuted = 127

type commandResult struct {
	exitCode int
	duration time.Duration
	// output is stdout and stderr interleaved in arrival order
	output string
	// startErr is set when the command could not be started at all
	startErr error
}

// lockedBuffer serializes the writes of the stdout and stderr copiers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (a *App) executeLocalCommand(ctx context.Context, args []string, stdout, stderr io.Writer) commandResult {
	a.logger.Debug().
		Str("binary", args[0]).
		Strs("args", args[1:]).
		Msg("Starting local command execution")

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	// Create multi-writers to both capture and display output
	var captured lockedBuffer
	cmd.Stdout = io.MultiWriter(stdout, &captured)
	cmd.Stderr = io.MultiWriter(stderr, &captured)

	start := time.Now()
	err := cmd.Run()
	res := commandResult{
		duration: time.Since(start),
		output:   captured.String(),
	}

	if err != nil {
		// Command failures are expected to return non-zero exit codes
		// Check if it's an ExitError (command failed) vs other errors
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			if res.exitCode < 0 {
				// terminated by a signal
				res.exitCode = 1
			}
			a.logger.Info().
				Int("exit_code", res.exitCode).
				Dur("took", res.duration).
				Msg("Command completed with failures")
			return res
		}

		a.logger.Error().Err(err).Msg("Failed to execute command")
		res.exitCode = exitCodeNotExecuted
		res.startErr = err
		return res
	}

	a.logger.Info().Dur("took", res.duration).Msg("Command completed successfully")
	return res
}
