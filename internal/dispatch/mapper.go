package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gpufleet/internal/fleet"
	"gpufleet/internal/logging"
	"gpufleet/internal/remote"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommandSequence is an ordered batch of shell commands for one instance,
// partitioned into setup, payload and teardown segments. Immutable once
// constructed.
type CommandSequence struct {
	Setup    []string
	Payload  []string
	Teardown []string
}

// Payload builds a sequence with only a payload segment.
func Payload(commands ...string) CommandSequence {
	return CommandSequence{Payload: commands}
}

// Commands flattens the sequence in segment order.
func (s CommandSequence) Commands() []string {
	out := make([]string, 0, len(s.Setup)+len(s.Payload)+len(s.Teardown))
	out = append(out, s.Setup...)
	out = append(out, s.Payload...)
	out = append(out, s.Teardown...)
	return out
}

// InsufficientCapacityError reports a dispatch round that asked for more
// instances than are running. Raised before any remote side effect.
type InsufficientCapacityError struct {
	Requested int
	Available int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("dispatching %d command sequence(s), but only %d running instance(s) available",
		e.Requested, e.Available)
}

// MonitorBootstrap parameterizes the idle-shutdown monitor started in its own
// session on each instance.
type MonitorBootstrap struct {
	Binary     string // remote path to the gpufleet binary
	Workdir    string // remote directory holding the experiment checkout
	Activate   string // runtime activation command, may be empty
	Delay      time.Duration
	IdleWindow time.Duration
}

// call builds the idle-shutdown invocation injected into the monitor session.
// The flag value is a bare integer; the subcommand parses it as seconds.
func (m MonitorBootstrap) call() string {
	return fmt.Sprintf("sudo %s monitor --idle-window %d", m.Binary, int(m.IdleWindow.Seconds()))
}

// Config is the fleet-wide dispatch configuration.
type Config struct {
	User             string
	KeyPath          string
	SetupCommands    []string
	TeardownCommands []string
	Monitor          MonitorBootstrap
	Retry            remote.RetryPolicy
}

// Options selects per-round dispatch behavior. Broadcast and per-instance
// mapping are explicit: Broadcast requires exactly one sequence.
type Options struct {
	// Broadcast replicates a single sequence to every running instance.
	Broadcast bool
	// InSession injects setup and payload commands into the experiment
	// session instead of running them synchronously, so the payload can run
	// for hours after this call returns.
	InSession bool
	// StartExperiment bootstraps the experiment session with monitoring
	// panes before anything else.
	StartExperiment bool
	// StartMonitor bootstraps the monitor session and schedules the
	// idle-shutdown watcher.
	StartMonitor bool
	// Monitor, when non-nil, replaces the fleet-wide monitor bootstrap for
	// this round.
	Monitor *MonitorBootstrap
	// Workers caps concurrent per-instance executions; 0 or 1 dispatches
	// sequentially in inventory order.
	Workers int
}

// Mapper assigns command sequences to running instances and drives the
// remote executor once per instance.
type Mapper struct {
	inventory *fleet.Inventory
	executor  *remote.Executor
	cfg       Config
}

// NewMapper creates a dispatch mapper.
func NewMapper(inventory *fleet.Inventory, executor *remote.Executor, cfg Config) *Mapper {
	return &Mapper{inventory: inventory, executor: executor, cfg: cfg}
}

// Dispatch partitions sequences across the currently running instances and
// executes each instance's merged command list as one remote invocation.
// The returned map is keyed by instance address. In session mode the output
// covers only the bootstrap, since the payload completes asynchronously.
func (m *Mapper) Dispatch(ctx context.Context, sequences []CommandSequence, opts Options) (map[string]remote.Output, error) {
	if opts.Broadcast && len(sequences) != 1 {
		return nil, fmt.Errorf("broadcast requires exactly one command sequence, got %d", len(sequences))
	}

	addrs, err := m.inventory.RunningAddresses(ctx)
	if err != nil {
		return nil, err
	}

	if len(sequences) > len(addrs) {
		return nil, &InsufficientCapacityError{Requested: len(sequences), Available: len(addrs)}
	}

	if opts.Broadcast {
		replicated := make([]CommandSequence, len(addrs))
		for i := range replicated {
			replicated[i] = sequences[0]
		}
		sequences = replicated
	}

	round := uuid.NewString()
	logging.Logger().Info("dispatching command sequences",
		zap.String("round", round),
		zap.Int("sequences", len(sequences)),
		zap.Int("running_instances", len(addrs)),
		zap.Bool("broadcast", opts.Broadcast),
		zap.Bool("in_session", opts.InSession))

	results := make(map[string]remote.Output, len(sequences))

	if opts.Workers > 1 {
		var mu sync.Mutex
		pool := pond.NewPool(opts.Workers)
		for i, seq := range sequences {
			addr := addrs[i]
			commands := m.buildCommands(seq, opts)
			pool.Submit(func() {
				output, err := m.executor.Execute(ctx, m.target(addr), commands, m.cfg.Retry)
				if err != nil {
					logging.Logger().Error("dispatch to instance failed",
						zap.String("round", round),
						zap.String("target", addr),
						zap.Error(err))
					return
				}
				mu.Lock()
				results[addr] = output
				mu.Unlock()
			})
		}
		pool.StopAndWait()
		return results, nil
	}

	for i, seq := range sequences {
		addr := addrs[i]
		output, err := m.executor.Execute(ctx, m.target(addr), m.buildCommands(seq, opts), m.cfg.Retry)
		if err != nil {
			return results, fmt.Errorf("dispatch to %s failed: %w", addr, err)
		}
		results[addr] = output
	}
	return results, nil
}

func (m *Mapper) target(addr string) remote.Target {
	return remote.Target{User: m.cfg.User, Host: addr, KeyPath: m.cfg.KeyPath}
}

// buildCommands assembles one instance's full command list. Ordering is
// fixed: experiment-session bootstrap, monitor-session bootstrap, global
// setup, the sequence itself, then global teardown.
func (m *Mapper) buildCommands(seq CommandSequence, opts Options) []string {
	wrap := func(command string) string { return command }
	if opts.InSession {
		wrap = func(command string) string {
			return remote.WrapForSession(remote.SessionExperiment, command)
		}
	}

	var commands []string

	if opts.StartExperiment {
		commands = append(commands,
			remote.EnsureSessionCommand(remote.SessionExperiment),
			fmt.Sprintf("tmux split-window -t %s -h", remote.SessionExperiment),
			remote.WrapForSession(remote.SessionExperiment, "watch -n0.1 nvidia-smi"),
			fmt.Sprintf("tmux split-window -t %s -v", remote.SessionExperiment),
			fmt.Sprintf(`tmux send-keys -t %s "htop" ENTER`, remote.SessionExperiment),
			fmt.Sprintf("tmux select-pane -t %s -L", remote.SessionExperiment),
		)
	}

	if opts.StartMonitor {
		mon := m.cfg.Monitor
		if opts.Monitor != nil {
			mon = *opts.Monitor
		}
		commands = append(commands, remote.EnsureSessionCommand(remote.SessionMonitor))
		if mon.Workdir != "" {
			commands = append(commands,
				remote.WrapForSession(remote.SessionMonitor, "cd "+mon.Workdir),
				remote.WrapForSession(remote.SessionMonitor, "git pull"),
			)
		}
		if mon.Activate != "" {
			commands = append(commands, remote.WrapForSession(remote.SessionMonitor, mon.Activate))
		}
		commands = append(commands,
			remote.WrapForSession(remote.SessionMonitor, fmt.Sprintf("sleep %d", int(mon.Delay.Seconds()))),
			remote.WrapForSession(remote.SessionMonitor, mon.call()),
		)
	}

	for _, command := range m.cfg.SetupCommands {
		commands = append(commands, wrap(command))
	}
	for _, command := range seq.Commands() {
		commands = append(commands, wrap(command))
	}
	for _, command := range m.cfg.TeardownCommands {
		commands = append(commands, wrap(command))
	}

	return commands
}
