package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gpufleet/internal/logging"

	"go.uber.org/zap"
)

// RetryPolicy controls how the executor reacts to transport failure.
// MaxAttempts 0 means retry until success; tests inject small bounded
// policies instead of looping indefinitely.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// NoRetry surfaces the first transport failure to the caller.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// RetryForever absorbs transport failures, sleeping interval between
// attempts.
func RetryForever(interval time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: 0, Interval: interval}
}

// ExecutionError is returned when the transport failed and the policy did not
// allow further attempts.
type ExecutionError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution on %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Executor runs merged command sequences on remote targets with retry
// semantics over an unreliable transport.
type Executor struct {
	transport Transport

	// sleep is a seam for tests; nil means time.Sleep.
	sleep func(time.Duration)
}

// NewExecutor creates an executor over the given transport.
func NewExecutor(transport Transport) *Executor {
	return &Executor{transport: transport}
}

// JoinCommands merges a command list into one atomic subshell invocation.
// One invocation per target keeps per-connection overhead down and prevents a
// concurrent call on the same host from interleaving with a partial batch.
func JoinCommands(commands []string) string {
	return "( " + strings.Join(commands, " ; ") + " )"
}

// Execute joins the commands and runs them on the target as one invocation.
// Transport failures are retried per policy; a non-zero exit of the remote
// command itself is returned as data, never retried.
func (e *Executor) Execute(ctx context.Context, target Target, commands []string, policy RetryPolicy) (Output, error) {
	command := JoinCommands(commands)
	logger := logging.Logger()

	var lastErr error
	attempts := 0
	for {
		attempts++
		logger.Info("executing remote command",
			zap.String("target", target.Addr()),
			zap.String("command", logging.Truncate(command)),
			zap.Int("attempt", attempts))

		output, err := e.transport.Run(target, command)
		if err == nil {
			logger.Debug("remote command finished",
				zap.String("target", target.Addr()),
				zap.Int("exit_code", output.ExitCode),
				zap.String("stdout", logging.Truncate(output.Stdout)))
			return output, nil
		}
		lastErr = err

		logger.Warn("remote execution transport failed",
			zap.String("target", target.Addr()),
			zap.String("command", logging.Truncate(command)),
			zap.Int("attempt", attempts),
			zap.Error(err))

		if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
			return output, &ExecutionError{Target: target.Addr(), Attempts: attempts, Err: lastErr}
		}

		select {
		case <-ctx.Done():
			return output, &ExecutionError{Target: target.Addr(), Attempts: attempts, Err: ctx.Err()}
		default:
		}

		e.pause(policy.Interval)
	}
}

func (e *Executor) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	if e.sleep != nil {
		e.sleep(d)
		return
	}
	time.Sleep(d)
}
