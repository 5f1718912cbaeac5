package cluster

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gpufleet/internal/config"
	"gpufleet/internal/dispatch"
	"gpufleet/internal/fleet"
	"gpufleet/internal/keys"
	"gpufleet/internal/logging"
	"gpufleet/internal/manifest"
	"gpufleet/internal/provider"
	"gpufleet/internal/remote"
	"gpufleet/internal/syncer"

	"go.uber.org/zap"
)

// shutdownFinishedCommand powers an instance off once its experiment session
// is gone. Broadcast after every sync sweep so finished machines stop
// accruing cost.
const shutdownFinishedCommand = "(tmux ls | grep -q experiment) || sudo shutdown -h now"

const (
	transportRetryInterval = 5 * time.Second
	runningPollInterval    = 5 * time.Second
	sshDialTimeout         = 30 * time.Second
)

// Controller composes the inventory, dispatcher and syncer into fleet-level
// operations and the outer control loop.
type Controller struct {
	cfg       *config.Config
	provider  provider.Provider
	inventory *fleet.Inventory
	executor  *remote.Executor
	mapper    *dispatch.Mapper
	sessions  remote.SessionManager
	syncer    *syncer.Syncer
	keyPair   *keys.KeyPair
	keyPath   string
}

// New wires a controller from configuration. When no key path is configured
// the fleet key pair comes from the key provider (etcd or in-memory) and is
// materialized under /tmp/gpufleet.
func New(ctx context.Context, cfg *config.Config) (*Controller, error) {
	prov, err := provider.New(ctx, cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	var keyPair *keys.KeyPair
	keyPath := cfg.Remote.KeyPath
	if keyPath != "" {
		keyPair, err = keys.LoadFromFile(keyPath)
		if err != nil {
			return nil, err
		}
	} else {
		keyProvider := keys.NewProvider(cfg.Remote.EtcdEndpoints)
		defer keyProvider.Close()
		keyPair, err = keyProvider.GetOrCreate(ctx)
		if err != nil {
			return nil, err
		}
		keyPath, err = keyPair.Materialize("/tmp/gpufleet")
		if err != nil {
			return nil, err
		}
	}

	inventory := fleet.NewInventory(prov)
	executor := remote.NewExecutor(remote.NewSSHTransport(sshDialTimeout))

	mapper := dispatch.NewMapper(inventory, executor, dispatch.Config{
		User:             cfg.Remote.User,
		KeyPath:          keyPath,
		SetupCommands:    cfg.SetupCommands,
		TeardownCommands: cfg.TeardownCommands,
		Monitor:          monitorBootstrap(cfg.Monitor),
		Retry:            remote.RetryForever(transportRetryInterval),
	})

	return &Controller{
		cfg:       cfg,
		provider:  prov,
		inventory: inventory,
		executor:  executor,
		mapper:    mapper,
		sessions:  remote.NewTmuxSessions(executor, remote.RetryForever(transportRetryInterval)),
		syncer:    syncer.New(executor, cfg.Remote.User, keyPath, cfg.Sync.Workers),
		keyPair:   keyPair,
		keyPath:   keyPath,
	}, nil
}

func monitorBootstrap(cfg config.MonitorConfig) dispatch.MonitorBootstrap {
	return dispatch.MonitorBootstrap{
		Binary:     cfg.Binary,
		Workdir:    cfg.Workdir,
		Activate:   cfg.Activate,
		Delay:      time.Duration(cfg.DelaySeconds) * time.Second,
		IdleWindow: time.Duration(cfg.IdleWindowSeconds) * time.Second,
	}
}

// monitorOverride builds a per-manifest monitor bootstrap when the manifest
// overrides delay or idle window; nil means the fleet-wide defaults apply.
func (c *Controller) monitorOverride(m *manifest.Manifest) *dispatch.MonitorBootstrap {
	if m.MonitorDelaySeconds == 0 && m.MonitorIdleWindowSeconds == 0 {
		return nil
	}
	mon := monitorBootstrap(c.cfg.Monitor)
	if m.MonitorDelaySeconds > 0 {
		mon.Delay = time.Duration(m.MonitorDelaySeconds) * time.Second
	}
	if m.MonitorIdleWindowSeconds > 0 {
		mon.IdleWindow = time.Duration(m.MonitorIdleWindowSeconds) * time.Second
	}
	return &mon
}

// Inventory exposes the fleet inventory for read-only status commands.
func (c *Controller) Inventory() *fleet.Inventory { return c.inventory }

// Mapper exposes the dispatch mapper for one-off command runs.
func (c *Controller) Mapper() *dispatch.Mapper { return c.mapper }

// Spawn launches instances until the fleet totals the desired count.
func (c *Controller) Spawn(ctx context.Context, total int) error {
	available, err := c.inventory.Count(ctx)
	if err != nil {
		return err
	}
	if available >= total {
		logging.Logger().Info("already enough instances available",
			zap.Int("available", available), zap.Int("requested", total))
		return nil
	}

	spec := provider.LaunchDefaults(c.cfg.Provider)
	spec.Count = total - available
	spec.NamePrefix = "gpufleet"
	spec.Username = c.cfg.Remote.User
	spec.SSHPublicKey = c.keyPair.PublicKey

	logging.Logger().Info("launching instances", zap.Int("count", spec.Count))
	return c.provider.Launch(ctx, spec)
}

// StartStopped starts every stopped instance; a no-op when there are none.
func (c *Controller) StartStopped(ctx context.Context) error {
	return c.bulkLifecycle(ctx, provider.StateStopped, "stopped", c.provider.Start)
}

// StopRunning stops every running instance; a no-op when there are none.
func (c *Controller) StopRunning(ctx context.Context) error {
	return c.bulkLifecycle(ctx, provider.StateRunning, "running", c.provider.Stop)
}

// TerminateAll terminates every known instance.
func (c *Controller) TerminateAll(ctx context.Context) error {
	instances, err := c.inventory.List(ctx)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		logging.Logger().Info("no instances to terminate")
		return nil
	}
	return c.provider.Terminate(ctx, instanceIDs(instances))
}

func (c *Controller) bulkLifecycle(ctx context.Context, state provider.InstanceState, label string, op func(context.Context, []string) error) error {
	instances, err := c.inventory.ListState(ctx, state)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		logging.Logger().Info("no " + label + " instances")
		return nil
	}
	return op(ctx, instanceIDs(instances))
}

// WaitAllRunning polls the inventory until every instance reports running,
// then waits out the boot settle delay.
func (c *Controller) WaitAllRunning(ctx context.Context) error {
	for {
		allRunning, err := c.inventory.AllRunning(ctx)
		if err != nil {
			return err
		}
		if allRunning {
			break
		}
		logging.Logger().Info("waiting for all instances to be running")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(runningPollInterval):
		}
	}

	logging.Logger().Info("waiting for instances to finish booting",
		zap.Int("seconds", c.cfg.BootDelaySeconds))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(c.cfg.BootDelaySeconds) * time.Second):
	}
	return nil
}

// KillAllSessions tears down the experiment and monitor sessions on every
// running instance. A missing session counts as already dead.
func (c *Controller) KillAllSessions(ctx context.Context) error {
	addrs, err := c.inventory.RunningAddresses(ctx)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		target := remote.Target{User: c.cfg.Remote.User, Host: addr, KeyPath: c.keyPath}
		for _, name := range []string{remote.SessionExperiment, remote.SessionMonitor} {
			if err := c.sessions.Kill(ctx, target, name); err != nil {
				return fmt.Errorf("failed to kill session %s on %s: %w", name, addr, err)
			}
		}
	}
	return nil
}

// ShutdownFinished powers off every instance whose experiment session has
// exited.
func (c *Controller) ShutdownFinished(ctx context.Context) error {
	_, err := c.mapper.Dispatch(ctx,
		[]dispatch.CommandSequence{dispatch.Payload(shutdownFinishedCommand)},
		dispatch.Options{Broadcast: true})
	return err
}

// TailLogs fetches the log tail from every running instance, keyed by
// address.
func (c *Controller) TailLogs(ctx context.Context, path string) (map[string]remote.Output, error) {
	return c.mapper.Dispatch(ctx,
		[]dispatch.CommandSequence{dispatch.Payload(fmt.Sprintf("tail -n100 %s", path))},
		dispatch.Options{Broadcast: true})
}

// syncTarget resolves the configured sync destination, preferring the
// manifest's override when present.
func (c *Controller) syncTarget(m *manifest.Manifest) syncer.Target {
	if c.cfg.Sync.TargetHost != "" {
		return syncer.RemoteTarget{
			Host: remote.Target{
				User:    c.cfg.Remote.User,
				Host:    c.cfg.Sync.TargetHost,
				KeyPath: c.keyPath,
			},
			Path: c.cfg.Sync.TargetPath,
		}
	}
	dir := c.cfg.Sync.TargetDir
	if m != nil && m.SyncTarget != "" {
		dir = m.SyncTarget
	}
	return syncer.LocalTarget{Dir: dir}
}

func (c *Controller) syncSources(m *manifest.Manifest) []string {
	if m != nil && len(m.SyncSources) > 0 {
		return m.SyncSources
	}
	return c.cfg.Sync.Sources
}

// SyncOnce runs one sweep over the given addresses (all running instances
// when addrs is nil).
func (c *Controller) SyncOnce(ctx context.Context, m *manifest.Manifest, addrs []string) error {
	if addrs == nil {
		var err error
		addrs, err = c.inventory.RunningAddresses(ctx)
		if err != nil {
			return err
		}
	}
	c.syncer.Sync(ctx, c.syncSources(m), c.syncTarget(m), addrs)
	return nil
}

// RunExperiments chunks the manifest's commands across the running fleet and
// dispatches them into experiment sessions with the idle monitor armed.
func (c *Controller) RunExperiments(ctx context.Context, m *manifest.Manifest) error {
	addrs, err := c.inventory.RunningAddresses(ctx)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no running instances to dispatch %q to", m.Name)
	}

	chunkSize := (len(m.Commands) + len(addrs) - 1) / len(addrs)
	var sequences []dispatch.CommandSequence
	for chunk := range slices.Chunk(m.Commands, chunkSize) {
		sequences = append(sequences, dispatch.CommandSequence{
			Setup:    m.Setup,
			Payload:  chunk,
			Teardown: m.Teardown,
		})
	}

	logging.Logger().Info("starting experiments",
		zap.String("manifest", m.Name),
		zap.Int("commands", len(m.Commands)),
		zap.Int("instances", len(addrs)),
		zap.Int("max_runs_per_instance", chunkSize))

	_, err = c.mapper.Dispatch(ctx, sequences, dispatch.Options{
		InSession:       true,
		StartExperiment: true,
		StartMonitor:    true,
		Monitor:         c.monitorOverride(m),
	})
	return err
}

// Manage is the outer control loop: optionally grow the fleet, wait for it,
// dispatch the manifest, then sync and reap on a timer until cancelled.
func (c *Controller) Manage(ctx context.Context, m *manifest.Manifest, spawnTotal int, kill bool) error {
	if err := c.StartStopped(ctx); err != nil {
		return err
	}
	if spawnTotal > 0 {
		if err := c.Spawn(ctx, spawnTotal); err != nil {
			return err
		}
	}
	if err := c.WaitAllRunning(ctx); err != nil {
		return err
	}
	if kill {
		if err := c.KillAllSessions(ctx); err != nil {
			return err
		}
	}
	if err := c.RunExperiments(ctx, m); err != nil {
		return err
	}

	interval := time.Duration(c.cfg.SyncIntervalSeconds) * time.Second
	for {
		addrs, err := c.inventory.RunningAddresses(ctx)
		if err != nil {
			return err
		}
		logging.Logger().Info("instances still running", zap.Int("count", len(addrs)))
		if len(addrs) == 0 {
			logging.Logger().Info("fleet drained, control loop finished")
			return nil
		}

		if err := c.SyncOnce(ctx, m, addrs); err != nil {
			logging.Logger().Warn("sync sweep failed", zap.Error(err))
		}
		if err := c.ShutdownFinished(ctx); err != nil {
			logging.Logger().Warn("shutdown-finished sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// SyncStopped starts stopped instances in batches, syncs their data and stops
// them again. The stop always runs, even when setup or sync fails.
func (c *Controller) SyncStopped(ctx context.Context, m *manifest.Manifest, batches int) error {
	stopped, err := c.inventory.ListState(ctx, provider.StateStopped)
	if err != nil {
		return err
	}
	if len(stopped) == 0 {
		logging.Logger().Info("no stopped instances to sync")
		return nil
	}
	if batches < 1 {
		batches = 1
	}

	batchSize := (len(stopped) + batches - 1) / batches
	batchNum := 0
	for batch := range slices.Chunk(stopped, batchSize) {
		batchNum++
		logging.Logger().Info("syncing stopped batch",
			zap.Int("batch", batchNum), zap.Int("size", len(batch)))
		if err := c.syncStoppedBatch(ctx, m, instanceIDs(batch)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) syncStoppedBatch(ctx context.Context, m *manifest.Manifest, ids []string) error {
	if err := c.provider.Start(ctx, ids); err != nil {
		return err
	}
	defer func() {
		if err := c.provider.Stop(context.Background(), ids); err != nil {
			logging.Logger().Error("failed to stop batch after sync", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(c.cfg.BootDelaySeconds) * time.Second):
	}

	// Refresh the snapshot: addresses are reassigned on every start.
	instances, err := c.inventory.Resolve(ctx, ids)
	if err != nil {
		return err
	}

	var addrs []string
	for _, inst := range instances {
		addrs = append(addrs, inst.PublicIP)
	}

	for _, addr := range addrs {
		target := remote.Target{User: c.cfg.Remote.User, Host: addr, KeyPath: c.keyPath}
		if _, err := c.executor.Execute(ctx, target, c.cfg.SetupCommands, remote.NoRetry); err != nil {
			logging.Logger().Warn("setup on batch instance failed",
				zap.String("address", addr), zap.Error(err))
		}
	}

	c.syncer.Sync(ctx, c.syncSources(m), c.syncTarget(m), addrs)
	return nil
}

func instanceIDs(instances []provider.Instance) []string {
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	return ids
}
