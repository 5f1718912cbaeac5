package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gpufleet/internal/remote"
)

type recordingTransport struct {
	commands []string
	output   remote.Output
}

func (r *recordingTransport) Run(target remote.Target, command string) (remote.Output, error) {
	r.commands = append(r.commands, command)
	return r.output, nil
}

func TestSync_AttemptsEveryPairDespiteFailures(t *testing.T) {
	var attempted []string
	s := New(nil, "ubuntu", "/keys/fleet", 1)
	s.pull = func(target remote.Target, source, destDir string) error {
		attempted = append(attempted, target.Host+":"+source)
		if target.Host == "10.0.0.2" {
			return errors.New("connection reset")
		}
		return nil
	}

	results := s.Sync(context.Background(),
		[]string{"results/"},
		LocalTarget{Dir: "/data"},
		[]string{"10.0.0.1", "10.0.0.2", "10.0.0.3"})

	if len(attempted) != 3 {
		t.Fatalf("Expected all 3 pairs attempted, got %v", attempted)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			if r.Address != "10.0.0.2" {
				t.Errorf("Expected only '10.0.0.2' to fail, got '%s'", r.Address)
			}
		}
	}
	if failed != 1 {
		t.Errorf("Expected exactly 1 failed pair, got %d", failed)
	}
}

func TestSync_MultipleSourcesPerAddress(t *testing.T) {
	var attempted []string
	s := New(nil, "ubuntu", "/keys/fleet", 1)
	s.pull = func(target remote.Target, source, destDir string) error {
		attempted = append(attempted, target.Host+":"+source)
		return nil
	}

	s.Sync(context.Background(),
		[]string{"results/", "checkpoints/"},
		LocalTarget{Dir: "/data"},
		[]string{"10.0.0.1", "10.0.0.2"})

	if len(attempted) != 4 {
		t.Fatalf("Expected 4 pairs, got %v", attempted)
	}
}

func TestSync_RemoteTargetRunsRsyncOnDestination(t *testing.T) {
	transport := &recordingTransport{}
	s := New(remote.NewExecutor(transport), "ubuntu", "/keys/fleet", 1)

	dest := RemoteTarget{
		Host: remote.Target{User: "ubuntu", Host: "storage.internal", KeyPath: "/keys/fleet"},
		Path: "/archive",
	}

	results := s.Sync(context.Background(), []string{"results/"}, dest, []string{"10.0.0.1"})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("Expected a clean sweep, got %v", results)
	}

	if len(transport.commands) != 1 {
		t.Fatalf("Expected one invocation on the destination, got %d", len(transport.commands))
	}
	command := transport.commands[0]
	if !strings.Contains(command, `rsync -Pav -e "ssh -oStrictHostKeyChecking=no -i /keys/fleet"`) {
		t.Errorf("Expected a non-interactive rsync, got '%s'", command)
	}
	if !strings.Contains(command, "ubuntu@10.0.0.1:results/ /archive") {
		t.Errorf("Expected the instance as rsync source, got '%s'", command)
	}
}

func TestSync_RemoteTargetNonZeroExitIsFailure(t *testing.T) {
	transport := &recordingTransport{output: remote.Output{ExitCode: 23, Stderr: "partial transfer"}}
	s := New(remote.NewExecutor(transport), "ubuntu", "/keys/fleet", 1)

	dest := RemoteTarget{
		Host: remote.Target{User: "ubuntu", Host: "storage.internal", KeyPath: "/keys/fleet"},
		Path: "/archive",
	}

	results := s.Sync(context.Background(), []string{"results/"}, dest, []string{"10.0.0.1"})
	if results[0].Err == nil {
		t.Fatal("Expected a failed pair for a non-zero rsync exit")
	}
	if !strings.Contains(results[0].Err.Error(), "23") {
		t.Errorf("Expected the exit code in the error, got '%v'", results[0].Err)
	}
}

func TestSync_NoAddressesIsEmptySweep(t *testing.T) {
	s := New(nil, "ubuntu", "/keys/fleet", 1)
	s.pull = func(target remote.Target, source, destDir string) error {
		t.Error("Expected no pull with an empty fleet")
		return nil
	}

	results := s.Sync(context.Background(), []string{"results/"}, LocalTarget{Dir: "/data"}, nil)
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}
