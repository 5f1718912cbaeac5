package syncer

import (
	"context"
	"fmt"
	"sync"

	"gpufleet/internal/logging"
	"gpufleet/internal/remote"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// Target is the sync destination, a tagged variant: either a local directory
// or a path on a remote host. Transport selection is a pure function of the
// variant.
type Target interface {
	isSyncTarget()
}

// LocalTarget pulls instance data into a local directory over SFTP.
type LocalTarget struct {
	Dir string
}

// RemoteTarget lands instance data on another host by running the copy
// command on that host through the remote executor.
type RemoteTarget struct {
	Host remote.Target
	Path string
}

func (LocalTarget) isSyncTarget()  {}
func (RemoteTarget) isSyncTarget() {}

// Result records the outcome of one (address, source) pair.
type Result struct {
	Address string
	Source  string
	Err     error
}

// Syncer copies data off fleet instances. Each (address, source) pair is
// attempted independently; a failed pair is logged and skipped so the sweep
// stays alive and the next timer pass can self-heal it.
type Syncer struct {
	executor *remote.Executor
	user     string
	keyPath  string
	workers  int

	// pull is a seam for tests; nil means the SFTP implementation.
	pull func(target remote.Target, source, destDir string) error
}

// New creates a syncer. workers caps concurrent per-address sweeps; values
// below 1 run sequentially.
func New(executor *remote.Executor, user, keyPath string, workers int) *Syncer {
	return &Syncer{executor: executor, user: user, keyPath: keyPath, workers: workers}
}

// Sync copies every source path from every address to the target. It always
// attempts all pairs and returns one Result per pair.
func (s *Syncer) Sync(ctx context.Context, sources []string, target Target, addrs []string) []Result {
	results := make([]Result, 0, len(addrs)*len(sources))
	var mu sync.Mutex

	sweep := func(addr string) {
		for _, source := range sources {
			err := s.syncOne(ctx, addr, source, target)
			if err != nil {
				logging.Logger().Warn("sync failed, skipping pair",
					zap.String("address", addr),
					zap.String("source", source),
					zap.Error(err))
			} else {
				logging.Logger().Info("synced",
					zap.String("address", addr),
					zap.String("source", source))
			}
			mu.Lock()
			results = append(results, Result{Address: addr, Source: source, Err: err})
			mu.Unlock()
		}
	}

	if s.workers > 1 && len(addrs) > 1 {
		pool := pond.NewPool(s.workers)
		for _, addr := range addrs {
			pool.Submit(func() { sweep(addr) })
		}
		pool.StopAndWait()
	} else {
		for _, addr := range addrs {
			sweep(addr)
		}
	}

	return results
}

func (s *Syncer) syncOne(ctx context.Context, addr, source string, target Target) error {
	instance := remote.Target{User: s.user, Host: addr, KeyPath: s.keyPath}

	switch t := target.(type) {
	case LocalTarget:
		if s.pull != nil {
			return s.pull(instance, source, t.Dir)
		}
		return pullSFTP(instance, source, t.Dir)

	case RemoteTarget:
		// The destination host pulls from the instance itself; the copy
		// command runs there, not here.
		command := fmt.Sprintf(
			`rsync -Pav -e "ssh -oStrictHostKeyChecking=no -i %s" %s:%s %s`,
			t.Host.KeyPath, instance.Addr(), source, t.Path)
		output, err := s.executor.Execute(ctx, t.Host, []string{command}, remote.NoRetry)
		if err != nil {
			return err
		}
		if output.ExitCode != 0 {
			return fmt.Errorf("rsync exited with code %d: %s",
				output.ExitCode, logging.Truncate(output.Stderr))
		}
		return nil

	default:
		return fmt.Errorf("unknown sync target variant %T", target)
	}
}
