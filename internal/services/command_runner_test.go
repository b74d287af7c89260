package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// TestCommandRunner_ExecuteCommand_Success tests the successful execution of a command.
func TestCommandRunner_ExecuteCommand_Success(t *testing.T) {
	r := NewCommandRunner(time.Second, 1024, zerolog.Nop())

	output, err := r.ExecuteCommand(context.Background(), "echo hello")

	assert.NoError(t, err)
	assert.Equal(t, "hello\n", output)
}

// TestCommandRunner_ExecuteCommand_Args tests that args are passed as positional parameters.
func TestCommandRunner_ExecuteCommand_Args(t *testing.T) {
	r := NewCommandRunner(time.Second, 1024, zerolog.Nop())

	output, err := r.ExecuteCommand(context.Background(), `echo "$2:$1"`, "/tmp/fw.bin", "1.2.0")

	assert.NoError(t, err)
	assert.Equal(t, "1.2.0:/tmp/fw.bin\n", output)
}

// TestCommandRunner_ExecuteCommand_Failure tests that a non-zero exit returns stderr.
func TestCommandRunner_ExecuteCommand_Failure(t *testing.T) {
	r := NewCommandRunner(time.Second, 1024, zerolog.Nop())

	output, err := r.ExecuteCommand(context.Background(), "echo broken >&2; exit 3")

	assert.Error(t, err)
	assert.Equal(t, "broken\n", output)
}

// TestCommandRunner_ExecuteCommand_Timeout tests the timeout of a command execution.
func TestCommandRunner_ExecuteCommand_Timeout(t *testing.T) {
	r := NewCommandRunner(100*time.Millisecond, 1024, zerolog.Nop())

	output, err := r.ExecuteCommand(context.Background(), "sleep 2")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, output)
}

// TestCommandRunner_Truncate tests the output size limit.
func TestCommandRunner_Truncate(t *testing.T) {
	r := NewCommandRunner(time.Second, 4, zerolog.Nop())

	output, err := r.ExecuteCommand(context.Background(), "echo 123456789")

	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "1234"))
	assert.Contains(t, output, "(truncated)")
}
