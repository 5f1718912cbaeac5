package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeTransport fails the first failures calls with a transport error, then
// succeeds, recording every command it was handed.
type fakeTransport struct {
	failures int
	calls    int
	commands []string
	output   Output
}

func (f *fakeTransport) Run(target Target, command string) (Output, error) {
	f.calls++
	f.commands = append(f.commands, command)
	if f.calls <= f.failures {
		return Output{}, errors.New("connection refused")
	}
	return f.output, nil
}

func testExecutor(transport Transport) *Executor {
	e := NewExecutor(transport)
	e.sleep = func(time.Duration) {}
	return e
}

func TestJoinCommands(t *testing.T) {
	joined := JoinCommands([]string{"cd /work", "python train.py", "logout"})
	expected := "( cd /work ; python train.py ; logout )"
	if joined != expected {
		t.Errorf("Expected '%s', got '%s'", expected, joined)
	}
}

func TestJoinCommands_Single(t *testing.T) {
	joined := JoinCommands([]string{"uptime"})
	if joined != "( uptime )" {
		t.Errorf("Expected '( uptime )', got '%s'", joined)
	}
}

func TestExecute_SingleInvocation(t *testing.T) {
	transport := &fakeTransport{output: Output{Stdout: "ok", ExitCode: 0}}
	executor := testExecutor(transport)

	output, err := executor.Execute(context.Background(),
		Target{User: "ubuntu", Host: "10.0.0.1"},
		[]string{"cd /work", "ls"}, NoRetry)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if transport.calls != 1 {
		t.Errorf("Expected exactly one transport call, got %d", transport.calls)
	}
	if transport.commands[0] != "( cd /work ; ls )" {
		t.Errorf("Expected joined atomic command, got '%s'", transport.commands[0])
	}
	if output.Stdout != "ok" {
		t.Errorf("Expected stdout 'ok', got '%s'", output.Stdout)
	}
}

func TestExecute_RetriesTransportFailures(t *testing.T) {
	transport := &fakeTransport{failures: 3}
	executor := testExecutor(transport)

	_, err := executor.Execute(context.Background(),
		Target{User: "ubuntu", Host: "10.0.0.1"},
		[]string{"uptime"}, RetryPolicy{MaxAttempts: 0, Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if transport.calls != 4 {
		t.Errorf("Expected 4 attempts, got %d", transport.calls)
	}
}

func TestExecute_NoRetrySurfacesFirstFailure(t *testing.T) {
	transport := &fakeTransport{failures: 1}
	executor := testExecutor(transport)

	_, err := executor.Execute(context.Background(),
		Target{User: "ubuntu", Host: "10.0.0.1"},
		[]string{"uptime"}, NoRetry)
	if err == nil {
		t.Fatal("Expected an error, got nil")
	}

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Expected an ExecutionError, got %T", err)
	}
	if execErr.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", execErr.Attempts)
	}
	if transport.calls != 1 {
		t.Errorf("Expected exactly one transport call, got %d", transport.calls)
	}
}

func TestExecute_BoundedRetryGivesUp(t *testing.T) {
	transport := &fakeTransport{failures: 10}
	executor := testExecutor(transport)

	_, err := executor.Execute(context.Background(),
		Target{User: "ubuntu", Host: "10.0.0.1"},
		[]string{"uptime"}, RetryPolicy{MaxAttempts: 3})
	if err == nil {
		t.Fatal("Expected an error, got nil")
	}

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Expected an ExecutionError, got %T", err)
	}
	if execErr.Attempts != 3 || transport.calls != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d (%d calls)", execErr.Attempts, transport.calls)
	}
}

func TestExecute_RemoteFailureIsNotRetried(t *testing.T) {
	// A non-zero exit code from the command itself comes back as data.
	transport := &fakeTransport{output: Output{Stderr: "no such file", ExitCode: 2}}
	executor := testExecutor(transport)

	output, err := executor.Execute(context.Background(),
		Target{User: "ubuntu", Host: "10.0.0.1"},
		[]string{"cat /missing"}, RetryPolicy{MaxAttempts: 0, Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("Expected no error for a remote command failure, got %v", err)
	}
	if output.ExitCode != 2 {
		t.Errorf("Expected exit code 2, got %d", output.ExitCode)
	}
	if transport.calls != 1 {
		t.Errorf("Expected no retry on remote failure, got %d calls", transport.calls)
	}
}

func TestExecute_CancelledContextStopsRetrying(t *testing.T) {
	transport := &fakeTransport{failures: 100}
	executor := testExecutor(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Execute(ctx,
		Target{User: "ubuntu", Host: "10.0.0.1"},
		[]string{"uptime"}, RetryForever(time.Millisecond))
	if err == nil {
		t.Fatal("Expected an error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in the chain, got %v", err)
	}
	if transport.calls != 1 {
		t.Errorf("Expected a single attempt before cancellation, got %d", transport.calls)
	}
}
