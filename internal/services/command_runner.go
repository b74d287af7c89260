package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultOutputSizeLimit  = 64 * 1024
	defaultMaxExecutionTime = 10 * time.Minute
)

// CommandRunner runs the host hooks configured for firmware installs and restarts.
type CommandRunner struct {
	outputSizeLimit  int
	maxExecutionTime time.Duration
	logger           zerolog.Logger
}

// NewCommandRunner creates a runner. Non-positive limits select the defaults.
func NewCommandRunner(maxExecutionTime time.Duration, outputSizeLimit int, logger zerolog.Logger) *CommandRunner {
	if maxExecutionTime <= 0 {
		maxExecutionTime = defaultMaxExecutionTime
	}
	if outputSizeLimit <= 0 {
		outputSizeLimit = defaultOutputSizeLimit
	}
	return &CommandRunner{
		outputSizeLimit:  outputSizeLimit,
		maxExecutionTime: maxExecutionTime,
		logger:           logger,
	}
}

// ExecuteCommand runs cmd through /bin/sh with args available as $1, $2, ...
// and returns its truncated output.
func (r *CommandRunner) ExecuteCommand(ctx context.Context, cmd string, args ...string) (string, error) {
	r.logger.Debug().Str("command", cmd).Strs("args", args).Msg("Executing shell command")

	ctx, cancel := context.WithTimeout(ctx, r.maxExecutionTime)
	defer cancel()

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "/bin/sh", append([]string{"-c", cmd, "mip-agent"}, args...)...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.logger.Error().Str("command", cmd).Msg("Command execution timed out")
			return "", ctx.Err()
		}
		r.logger.Error().Err(err).Str("command", cmd).Msg("Command execution failed")
		return r.truncate(stderr.String()), fmt.Errorf("command %q failed: %w", cmd, err)
	}

	return r.truncate(stdout.String()), nil
}

func (r *CommandRunner) truncate(output string) string {
	if len(output) > r.outputSizeLimit {
		r.logger.Warn().Int("limit", r.outputSizeLimit).Msg("Command output truncated due to size limit")
		return output[:r.outputSizeLimit] + "... (truncated)"
	}
	return output
}
