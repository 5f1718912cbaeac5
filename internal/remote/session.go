package remote

import (
	"context"
	"fmt"
	"strings"
)

// Session names, one per concern. The experiment session hosts the payload;
// the monitor session hosts the idle-shutdown watcher.
const (
	SessionExperiment = "experiment"
	SessionMonitor    = "monitor"
)

// SessionManager is the capability surface for the host-side terminal
// multiplexer. The real implementation shells out through the executor; tests
// use an in-memory fake.
type SessionManager interface {
	// Ensure idempotently creates the named session; an existing session is
	// a no-op, never an error.
	Ensure(ctx context.Context, target Target, name string) error
	// Send injects one command into the session's active pane and confirms
	// it. It returns once the command is submitted, not once it finishes.
	Send(ctx context.Context, target Target, name, command string) error
	// Kill tears the session down; "no such session" counts as success.
	Kill(ctx context.Context, target Target, name string) error
}

// EscapeQuotes escapes double quotes exactly once so a command survives the
// outer quoting layer of the tmux send line. Already-escaped quotes in the
// input are the caller's problem, same as any shell.
func EscapeQuotes(command string) string {
	return strings.ReplaceAll(command, `"`, `\"`)
}

// WrapForSession turns a command into a tmux injection line for the named
// session, with a trailing ENTER keystroke to submit it.
func WrapForSession(name, command string) string {
	return fmt.Sprintf(`tmux send -t %s "%s" ENTER`, name, EscapeQuotes(command))
}

// EnsureSessionCommand creates the named session only when absent.
func EnsureSessionCommand(name string) string {
	return fmt.Sprintf("tmux has-session -t %s 2>/dev/null || tmux new-session -d -s %s", name, name)
}

// KillSessionCommand tears the session down, treating absence as success.
func KillSessionCommand(name string) string {
	return fmt.Sprintf("tmux kill-session -t %s 2>/dev/null || true", name)
}

// TmuxSessions is the shell-out SessionManager.
type TmuxSessions struct {
	executor *Executor
	retry    RetryPolicy
}

// NewTmuxSessions creates a session manager that delivers commands through
// the executor with the given retry policy.
func NewTmuxSessions(executor *Executor, retry RetryPolicy) *TmuxSessions {
	return &TmuxSessions{executor: executor, retry: retry}
}

func (s *TmuxSessions) Ensure(ctx context.Context, target Target, name string) error {
	_, err := s.executor.Execute(ctx, target, []string{EnsureSessionCommand(name)}, s.retry)
	return err
}

func (s *TmuxSessions) Send(ctx context.Context, target Target, name, command string) error {
	_, err := s.executor.Execute(ctx, target, []string{WrapForSession(name, command)}, s.retry)
	return err
}

func (s *TmuxSessions) Kill(ctx context.Context, target Target, name string) error {
	_, err := s.executor.Execute(ctx, target, []string{KillSessionCommand(name)}, s.retry)
	return err
}
