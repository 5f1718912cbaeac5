package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// GCPProvider implements Provider for Google Compute Engine. Instances are
// addressed by name, which GCE requires for lifecycle calls; the name doubles
// as the ID.
type GCPProvider struct {
	service   *compute.Service
	projectID string
	zone      string
}

// NewGCPProvider creates a GCE-backed provider scoped to one project/zone.
func NewGCPProvider(ctx context.Context, projectID, zone, credentialsFile string) (*GCPProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}

	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}

	return &GCPProvider{service: service, projectID: projectID, zone: zone}, nil
}

// List returns all instances in the configured zone.
func (p *GCPProvider) List(ctx context.Context) ([]Instance, error) {
	var instances []Instance

	call := p.service.Instances.List(p.projectID, p.zone)
	err := call.Pages(ctx, func(list *compute.InstanceList) error {
		for _, inst := range list.Items {
			instances = append(instances, Instance{
				ID:       inst.Name,
				Name:     inst.Name,
				State:    mapGCEStatus(inst.Status),
				PublicIP: gceExternalIP(inst),
				Zone:     p.zone,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return instances, nil
}

// Launch inserts spec.Count instances sequentially, waiting on each insert.
func (p *GCPProvider) Launch(ctx context.Context, spec LaunchSpec) error {
	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return fmt.Errorf("failed to generate cloud-config: %w", err)
	}

	for i := 0; i < spec.Count; i++ {
		name := fmt.Sprintf("%s-%s", spec.NamePrefix, uuid.NewString())
		rb := &compute.Instance{
			Name:        name,
			MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", p.zone, gceMachineType(spec.Cores, spec.Memory)),
			Disks: []*compute.AttachedDisk{
				{
					AutoDelete: true,
					Boot:       true,
					Type:       "PERSISTENT",
					InitializeParams: &compute.AttachedDiskInitializeParams{
						SourceImage: spec.ImageID,
						DiskSizeGb:  spec.DiskSize,
					},
				},
			},
			NetworkInterfaces: []*compute.NetworkInterface{
				{
					AccessConfigs: []*compute.AccessConfig{
						{Type: "ONE_TO_ONE_NAT", Name: "External NAT"},
					},
					Network: "global/networks/default",
				},
			},
			Metadata: &compute.Metadata{
				Items: []*compute.MetadataItems{
					{Key: "user-data", Value: &userData},
				},
			},
		}

		op, err := p.service.Instances.Insert(p.projectID, p.zone, rb).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to insert instance %s: %w", name, err)
		}
		if err := p.waitForOperation(ctx, op.Name); err != nil {
			return fmt.Errorf("insert of %s failed: %w", name, err)
		}
	}
	return nil
}

// Start starts stopped instances by name.
func (p *GCPProvider) Start(ctx context.Context, ids []string) error {
	return p.eachInstance(ctx, ids, "start", func(name string) (*compute.Operation, error) {
		return p.service.Instances.Start(p.projectID, p.zone, name).Context(ctx).Do()
	})
}

// Stop stops running instances by name.
func (p *GCPProvider) Stop(ctx context.Context, ids []string) error {
	return p.eachInstance(ctx, ids, "stop", func(name string) (*compute.Operation, error) {
		return p.service.Instances.Stop(p.projectID, p.zone, name).Context(ctx).Do()
	})
}

// Terminate deletes instances by name.
func (p *GCPProvider) Terminate(ctx context.Context, ids []string) error {
	return p.eachInstance(ctx, ids, "delete", func(name string) (*compute.Operation, error) {
		return p.service.Instances.Delete(p.projectID, p.zone, name).Context(ctx).Do()
	})
}

func (p *GCPProvider) eachInstance(ctx context.Context, ids []string, action string, fn func(name string) (*compute.Operation, error)) error {
	for _, name := range ids {
		op, err := fn(name)
		if err != nil {
			return fmt.Errorf("failed to %s instance %s: %w", action, name, err)
		}
		if err := p.waitForOperation(ctx, op.Name); err != nil {
			return fmt.Errorf("%s of %s failed: %w", action, name, err)
		}
	}
	return nil
}

func (p *GCPProvider) waitForOperation(ctx context.Context, opName string) error {
	for i := 0; i < 60; i++ {
		op, err := p.service.ZoneOperations.Get(p.projectID, p.zone, opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Status == "DONE" {
			if op.Error != nil {
				return fmt.Errorf("operation error: %v", op.Error.Errors)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return fmt.Errorf("timeout waiting for operation %s", opName)
}

// mapGCEStatus normalizes GCE statuses. GCE reports stopped machines as
// TERMINATED; deleted ones simply disappear from the listing, so TERMINATED
// maps to stopped here.
func mapGCEStatus(status string) InstanceState {
	switch status {
	case "RUNNING":
		return StateRunning
	case "PROVISIONING", "STAGING":
		return StatePending
	case "TERMINATED", "SUSPENDED", "STOPPING", "SUSPENDING":
		return StateStopped
	default:
		return StateOther
	}
}

func gceExternalIP(inst *compute.Instance) string {
	if len(inst.NetworkInterfaces) > 0 && len(inst.NetworkInterfaces[0].AccessConfigs) > 0 {
		return inst.NetworkInterfaces[0].AccessConfigs[0].NatIP
	}
	return ""
}

func gceMachineType(cores int, memory int64) string {
	if cores <= 1 && memory <= 4 {
		return "e2-medium"
	}
	if cores <= 2 && memory <= 8 {
		return "e2-standard-2"
	}
	return "e2-standard-4"
}
