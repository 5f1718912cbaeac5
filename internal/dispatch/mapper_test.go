package dispatch_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"gpufleet/internal/dispatch"
	"gpufleet/internal/fleet"
	"gpufleet/internal/provider"
	"gpufleet/internal/remote"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeProvider struct {
	instances []provider.Instance
}

func (f *fakeProvider) List(ctx context.Context) ([]provider.Instance, error) {
	return f.instances, nil
}
func (f *fakeProvider) Launch(ctx context.Context, spec provider.LaunchSpec) error { return nil }
func (f *fakeProvider) Start(ctx context.Context, ids []string) error              { return nil }
func (f *fakeProvider) Stop(ctx context.Context, ids []string) error               { return nil }
func (f *fakeProvider) Terminate(ctx context.Context, ids []string) error          { return nil }

// recordingTransport captures every joined command keyed by host.
type recordingTransport struct {
	mu       sync.Mutex
	commands map[string][]string
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{commands: make(map[string][]string)}
}

func (r *recordingTransport) Run(target remote.Target, command string) (remote.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[target.Host] = append(r.commands[target.Host], command)
	return remote.Output{Stdout: "ok from " + target.Host}, nil
}

func (r *recordingTransport) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cmds := range r.commands {
		n += len(cmds)
	}
	return n
}

var _ = Describe("Mapper", func() {
	var (
		transport *recordingTransport
		mapper    *dispatch.Mapper
	)

	runningFleet := func(addrs ...string) *fakeProvider {
		f := &fakeProvider{}
		for i, addr := range addrs {
			f.instances = append(f.instances, provider.Instance{
				ID:       addrs[i],
				State:    provider.StateRunning,
				PublicIP: addr,
			})
		}
		return f
	}

	newMapper := func(prov *fakeProvider, cfg dispatch.Config) *dispatch.Mapper {
		transport = newRecordingTransport()
		return dispatch.NewMapper(
			fleet.NewInventory(prov),
			remote.NewExecutor(transport),
			cfg,
		)
	}

	Describe("capacity", func() {
		It("fails before any remote call when sequences outnumber running instances", func() {
			mapper = newMapper(runningFleet("10.0.0.1"), dispatch.Config{User: "ubuntu"})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("run a"),
				dispatch.Payload("run b"),
			}, dispatch.Options{})

			var capErr *dispatch.InsufficientCapacityError
			Expect(errors.As(err, &capErr)).To(BeTrue())
			Expect(capErr.Requested).To(Equal(2))
			Expect(capErr.Available).To(Equal(1))
			Expect(transport.total()).To(BeZero(), "no instance may see a partial round")
		})

		It("counts only running instances as capacity", func() {
			prov := runningFleet("10.0.0.1")
			prov.instances = append(prov.instances,
				provider.Instance{ID: "stopped-1", State: provider.StateStopped})
			mapper = newMapper(prov, dispatch.Config{User: "ubuntu"})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("a"), dispatch.Payload("b"),
			}, dispatch.Options{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("assignment", func() {
		It("maps sequence i to the i-th running instance in ID order", func() {
			mapper = newMapper(runningFleet("10.0.0.1", "10.0.0.2"), dispatch.Config{User: "ubuntu"})

			results, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("first"),
				dispatch.Payload("second"),
			}, dispatch.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))

			Expect(transport.commands["10.0.0.1"][0]).To(ContainSubstring("first"))
			Expect(transport.commands["10.0.0.2"][0]).To(ContainSubstring("second"))
		})

		It("uses fewer instances than available without touching the rest", func() {
			mapper = newMapper(runningFleet("10.0.0.1", "10.0.0.2", "10.0.0.3"), dispatch.Config{User: "ubuntu"})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("only"),
			}, dispatch.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(transport.commands).To(HaveKey("10.0.0.1"))
			Expect(transport.commands).NotTo(HaveKey("10.0.0.2"))
			Expect(transport.commands).NotTo(HaveKey("10.0.0.3"))
		})

		It("delivers each instance's commands as one atomic invocation", func() {
			mapper = newMapper(runningFleet("10.0.0.1"), dispatch.Config{
				User:             "ubuntu",
				SetupCommands:    []string{"cd /work"},
				TeardownCommands: []string{"logout"},
			})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("python train.py"),
			}, dispatch.Options{})
			Expect(err).NotTo(HaveOccurred())

			Expect(transport.commands["10.0.0.1"]).To(HaveLen(1))
			Expect(transport.commands["10.0.0.1"][0]).To(
				Equal("( cd /work ; python train.py ; logout )"))
		})
	})

	Describe("broadcast", func() {
		It("replicates one sequence to every running instance", func() {
			mapper = newMapper(runningFleet("10.0.0.1", "10.0.0.2", "10.0.0.3"), dispatch.Config{User: "ubuntu"})

			results, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("tmux kill-session || true"),
			}, dispatch.Options{Broadcast: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))

			var seen []string
			for _, cmds := range transport.commands {
				Expect(cmds).To(HaveLen(1))
				seen = append(seen, cmds[0])
			}
			Expect(seen[0]).To(Equal(seen[1]))
			Expect(seen[1]).To(Equal(seen[2]))
		})

		It("rejects more than one sequence", func() {
			mapper = newMapper(runningFleet("10.0.0.1", "10.0.0.2"), dispatch.Config{User: "ubuntu"})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("a"), dispatch.Payload("b"),
			}, dispatch.Options{Broadcast: true})
			Expect(err).To(MatchError(ContainSubstring("broadcast requires exactly one")))
			Expect(transport.total()).To(BeZero())
		})
	})

	Describe("session mode", func() {
		It("wraps setup, payload and teardown as tmux injections", func() {
			mapper = newMapper(runningFleet("10.0.0.1"), dispatch.Config{
				User:          "ubuntu",
				SetupCommands: []string{"cd /work"},
			})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("python train.py"),
			}, dispatch.Options{InSession: true})
			Expect(err).NotTo(HaveOccurred())

			joined := transport.commands["10.0.0.1"][0]
			Expect(joined).To(ContainSubstring(`tmux send -t experiment "cd /work" ENTER`))
			Expect(joined).To(ContainSubstring(`tmux send -t experiment "python train.py" ENTER`))
		})

		It("escapes double quotes in injected commands exactly once", func() {
			mapper = newMapper(runningFleet("10.0.0.1"), dispatch.Config{User: "ubuntu"})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload(`python run.py --name "trial 1"`),
			}, dispatch.Options{InSession: true})
			Expect(err).NotTo(HaveOccurred())

			Expect(transport.commands["10.0.0.1"][0]).To(
				ContainSubstring(`tmux send -t experiment "python run.py --name \"trial 1\"" ENTER`))
		})
	})

	Describe("bootstrap ordering", func() {
		It("puts the experiment panes before the monitor, setup before the payload", func() {
			mapper = newMapper(runningFleet("10.0.0.1"), dispatch.Config{
				User:          "ubuntu",
				SetupCommands: []string{"cd /work"},
				Monitor: dispatch.MonitorBootstrap{
					Binary:     "/usr/local/bin/gpufleet",
					Workdir:    "/work",
					IdleWindow: 120 * time.Second,
				},
			})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("python train.py"),
			}, dispatch.Options{InSession: true, StartExperiment: true, StartMonitor: true})
			Expect(err).NotTo(HaveOccurred())

			joined := transport.commands["10.0.0.1"][0]
			expOrder := []string{
				"tmux has-session -t experiment",
				"watch -n0.1 nvidia-smi",
				"tmux has-session -t monitor",
				`tmux send -t monitor "sudo /usr/local/bin/gpufleet monitor --idle-window 120" ENTER`,
				`tmux send -t experiment "cd /work"`,
				`tmux send -t experiment "python train.py"`,
			}
			pos := -1
			for _, marker := range expOrder {
				next := strings.Index(joined, marker)
				Expect(next).To(BeNumerically(">", pos),
					"expected %q after previous marker in %q", marker, joined)
				pos = next
			}
		})
	})

	Describe("monitor bootstrap", func() {
		It("passes the idle window as a bare integer the subcommand can parse", func() {
			mapper = newMapper(runningFleet("10.0.0.1"), dispatch.Config{
				User: "ubuntu",
				Monitor: dispatch.MonitorBootstrap{
					Binary:     "gpufleet",
					IdleWindow: 120 * time.Second,
				},
			})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("python train.py"),
			}, dispatch.Options{StartMonitor: true})
			Expect(err).NotTo(HaveOccurred())

			joined := transport.commands["10.0.0.1"][0]
			Expect(joined).To(ContainSubstring(
				`tmux send -t monitor "sudo gpufleet monitor --idle-window 120" ENTER`))

			// The flag value must survive integer parsing on the instance
			fields := strings.Fields(joined)
			var windowArg string
			for i, field := range fields {
				if field == "--idle-window" && i+1 < len(fields) {
					windowArg = strings.TrimSuffix(fields[i+1], `"`)
				}
			}
			window, parseErr := strconv.Atoi(windowArg)
			Expect(parseErr).NotTo(HaveOccurred(), "idle window %q is not an integer", windowArg)
			Expect(window).To(Equal(120))
		})

		It("prefers the per-round monitor override over the fleet config", func() {
			mapper = newMapper(runningFleet("10.0.0.1"), dispatch.Config{
				User: "ubuntu",
				Monitor: dispatch.MonitorBootstrap{
					Binary:     "gpufleet",
					IdleWindow: 120 * time.Second,
					Delay:      600 * time.Second,
				},
			})

			_, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("python train.py"),
			}, dispatch.Options{
				StartMonitor: true,
				Monitor: &dispatch.MonitorBootstrap{
					Binary:     "gpufleet",
					IdleWindow: 300 * time.Second,
					Delay:      60 * time.Second,
				},
			})
			Expect(err).NotTo(HaveOccurred())

			joined := transport.commands["10.0.0.1"][0]
			Expect(joined).To(ContainSubstring("monitor --idle-window 300"))
			Expect(joined).To(ContainSubstring(`tmux send -t monitor "sleep 60" ENTER`))
			Expect(joined).NotTo(ContainSubstring("--idle-window 120"))
		})
	})

	Describe("concurrent dispatch", func() {
		It("reaches every assigned instance with workers enabled", func() {
			mapper = newMapper(runningFleet("10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"), dispatch.Config{User: "ubuntu"})

			results, err := mapper.Dispatch(context.Background(), []dispatch.CommandSequence{
				dispatch.Payload("a"), dispatch.Payload("b"),
				dispatch.Payload("c"), dispatch.Payload("d"),
			}, dispatch.Options{Workers: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(4))
			Expect(transport.total()).To(Equal(4))
		})
	})
})
