package monitor

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"gpufleet/internal/logging"

	"go.uber.org/zap"
)

// UtilizationSource reports one instantaneous utilization percentage per
// accelerator device.
type UtilizationSource interface {
	Utilizations(ctx context.Context) ([]int, error)
}

// NvidiaSMI queries GPU utilization through the nvidia-smi tool.
type NvidiaSMI struct{}

// Utilizations runs nvidia-smi and parses one integer per line. Non-numeric
// lines parse as 0, matching the tool's occasional "[N/A]" output.
func (NvidiaSMI) Utilizations(ctx context.Context) ([]int, error) {
	out, err := exec.CommandContext(ctx,
		"nvidia-smi", "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return nil, err
	}

	var utilizations []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		utilizations = append(utilizations, asInt(line))
	}
	return utilizations, nil
}

func asInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Monitor watches accelerator utilization from inside an instance and shuts
// the instance down once it has been idle for a sustained window. Sampling
// runs on two timescales: fine-grained inside the window, coarse between
// windows, so the loop reacts promptly without busy-spinning.
type Monitor struct {
	source           UtilizationSource
	sampleInterval   time.Duration
	resampleInterval time.Duration
	shutdown         func(ctx context.Context) error

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a monitor with production timings: 100ms samples inside the
// window, 60s between windows, shutdown via the host's shutdown command.
func New(source UtilizationSource) *Monitor {
	return &Monitor{
		source:           source,
		sampleInterval:   100 * time.Millisecond,
		resampleInterval: time.Minute,
		shutdown:         hostShutdown,
		now:              time.Now,
		sleep:            time.Sleep,
	}
}

func hostShutdown(ctx context.Context) error {
	return exec.CommandContext(ctx, "sudo", "shutdown", "-h", "now").Run()
}

// AllIdle reports whether every accelerator reads exactly zero right now.
// An instance with no accelerators reads as idle.
func (m *Monitor) AllIdle(ctx context.Context) (bool, error) {
	utilizations, err := m.source.Utilizations(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range utilizations {
		if u != 0 {
			return false, nil
		}
	}
	return true, nil
}

// IdleForWindow samples for the whole window and reports whether every
// sample was idle. It returns false the moment any sample is non-zero;
// a failed sample counts as non-idle, which errs on the side of keeping the
// instance up.
func (m *Monitor) IdleForWindow(ctx context.Context, window time.Duration) bool {
	deadline := m.now().Add(window)
	for m.now().Before(deadline) {
		idle, err := m.AllIdle(ctx)
		if err != nil {
			logging.Logger().Warn("utilization sample failed", zap.Error(err))
			return false
		}
		if !idle {
			return false
		}
		m.sleep(m.sampleInterval)
	}
	return true
}

// ShutdownWhenIdle loops until the accelerators have been idle for a full
// window, then shuts the instance down. Shutdown is terminal; the controller
// observes it through the next inventory snapshot.
func (m *Monitor) ShutdownWhenIdle(ctx context.Context, window time.Duration) error {
	for {
		if m.IdleForWindow(ctx, window) {
			logging.Logger().Info("accelerators idle for full window, shutting down",
				zap.Duration("window", window))
			return m.shutdown(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m.sleep(m.resampleInterval)
	}
}

// ShutdownAfter sleeps for the delay and shuts down unconditionally,
// independent of utilization.
func (m *Monitor) ShutdownAfter(ctx context.Context, delay time.Duration) error {
	logging.Logger().Info("timed shutdown armed", zap.Duration("delay", delay))
	m.sleep(delay)
	return m.shutdown(ctx)
}
