package provider

import "context"

// InstanceState is the provider-reported lifecycle state, normalized across
// backends.
type InstanceState string

const (
	StatePending    InstanceState = "pending"
	StateRunning    InstanceState = "running"
	StateStopped    InstanceState = "stopped"
	StateTerminated InstanceState = "terminated"
	StateOther      InstanceState = "other"
)

// Meaningful reports whether the state belongs to the set the fleet tracks.
// Terminated and transitional teardown states are never surfaced.
func (s InstanceState) Meaningful() bool {
	return s == StateRunning || s == StatePending || s == StateStopped
}

// Instance is a read-only snapshot of one compute instance. The provider owns
// the record; the fleet only ever re-derives it, never mutates it.
type Instance struct {
	ID       string
	Name     string
	State    InstanceState
	PublicIP string // present only while running
	Zone     string
}

// LaunchSpec describes a batch of new instances. AWS consumes ImageID,
// InstanceType, KeyName and SecurityGroup; the other backends size machines
// from Cores/Memory/DiskSize and inject SSHPublicKey via cloud-config.
type LaunchSpec struct {
	NamePrefix    string
	Count         int
	ImageID       string
	InstanceType  string
	KeyName       string
	SecurityGroup string
	Zone          string
	Cores         int
	Memory        int64 // GB
	DiskSize      int64 // GB
	Username      string
	SSHPublicKey  string
}

// Provider is the cloud inventory/control boundary: list instances with
// state, launch new ones, and drive lifecycle transitions by ID.
type Provider interface {
	List(ctx context.Context) ([]Instance, error)
	Launch(ctx context.Context, spec LaunchSpec) error
	Start(ctx context.Context, ids []string) error
	Stop(ctx context.Context, ids []string) error
	Terminate(ctx context.Context, ids []string) error
}
