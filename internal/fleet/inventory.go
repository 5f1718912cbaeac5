package fleet

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gpufleet/internal/provider"
)

// ProviderError wraps a failed or malformed provider query. The inventory
// never retries these; callers decide.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NotFoundError lists every requested instance ID that did not resolve.
// Resolution is all-or-nothing; a partial result is never returned silently.
type NotFoundError struct {
	IDs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find instances corresponding to the following IDs: %s",
		strings.Join(e.IDs, ", "))
}

// Inventory is a stateless view over the provider: every call re-derives the
// fleet from a fresh snapshot.
type Inventory struct {
	provider provider.Provider
}

// NewInventory creates an inventory over the given provider.
func NewInventory(p provider.Provider) *Inventory {
	return &Inventory{provider: p}
}

// List returns all instances in a meaningful state (running, pending or
// stopped), sorted by ID for deterministic assignment.
func (inv *Inventory) List(ctx context.Context) ([]provider.Instance, error) {
	all, err := inv.provider.List(ctx)
	if err != nil {
		return nil, &ProviderError{Op: "list", Err: err}
	}

	instances := make([]provider.Instance, 0, len(all))
	for _, inst := range all {
		if inst.State.Meaningful() {
			instances = append(instances, inst)
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID < instances[j].ID
	})
	return instances, nil
}

// ListState returns the meaningful instances currently in the given state.
func (inv *Inventory) ListState(ctx context.Context, state provider.InstanceState) ([]provider.Instance, error) {
	instances, err := inv.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := instances[:0]
	for _, inst := range instances {
		if inst.State == state {
			filtered = append(filtered, inst)
		}
	}
	return filtered, nil
}

// Resolve looks up specific IDs against the current snapshot. The result is
// positional: index i corresponds to ids[i]. If any ID is missing the whole
// call fails with a NotFoundError naming every unresolved ID.
func (inv *Inventory) Resolve(ctx context.Context, ids []string) ([]provider.Instance, error) {
	instances, err := inv.List(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]provider.Instance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}

	resolved := make([]provider.Instance, len(ids))
	var missing []string
	for i, id := range ids {
		inst, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		resolved[i] = inst
	}

	if len(missing) > 0 {
		return nil, &NotFoundError{IDs: missing}
	}
	return resolved, nil
}

// RunningAddresses returns the public addresses of all running instances, in
// inventory order.
func (inv *Inventory) RunningAddresses(ctx context.Context) ([]string, error) {
	running, err := inv.ListState(ctx, provider.StateRunning)
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(running))
	for _, inst := range running {
		addrs = append(addrs, inst.PublicIP)
	}
	return addrs, nil
}

// AllRunning reports whether every known instance is in the running state.
func (inv *Inventory) AllRunning(ctx context.Context) (bool, error) {
	instances, err := inv.List(ctx)
	if err != nil {
		return false, err
	}

	for _, inst := range instances {
		if inst.State != provider.StateRunning {
			return false, nil
		}
	}
	return true, nil
}

// Count returns the number of meaningful instances.
func (inv *Inventory) Count(ctx context.Context) (int, error) {
	instances, err := inv.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(instances), nil
}
