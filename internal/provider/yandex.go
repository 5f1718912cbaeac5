package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/compute/v1"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/operation"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/vpc/v1"
	ycsdk "github.com/yandex-cloud/go-sdk"

	"gpufleet/internal/logging"

	"go.uber.org/zap"
)

// YCProvider implements Provider for Yandex Cloud.
type YCProvider struct {
	sdk      *ycsdk.SDK
	folderID string
}

// NewYCProvider creates a Yandex-Cloud-backed provider.
func NewYCProvider(iamToken, folderID string) (*YCProvider, error) {
	sdk, err := ycsdk.Build(context.Background(), ycsdk.Config{
		Credentials: ycsdk.NewIAMTokenCredentials(iamToken),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Yandex Cloud SDK: %w", err)
	}

	return &YCProvider{sdk: sdk, folderID: folderID}, nil
}

// List returns all instances in the folder.
func (p *YCProvider) List(ctx context.Context) ([]Instance, error) {
	resp, err := p.sdk.Compute().Instance().List(ctx, &compute.ListInstancesRequest{
		FolderId: p.folderID,
		PageSize: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	var instances []Instance
	for _, inst := range resp.Instances {
		instances = append(instances, Instance{
			ID:       inst.Id,
			Name:     inst.Name,
			State:    mapYCStatus(inst.Status),
			PublicIP: ycExternalIP(inst),
			Zone:     inst.ZoneId,
		})
	}
	return instances, nil
}

// Launch creates spec.Count instances, waiting on each create operation.
func (p *YCProvider) Launch(ctx context.Context, spec LaunchSpec) error {
	subnetID := p.findSubnet(ctx, spec.Zone)
	if subnetID == "" {
		return fmt.Errorf("no subnet found in zone %s", spec.Zone)
	}

	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return fmt.Errorf("failed to generate cloud-config: %w", err)
	}

	for i := 0; i < spec.Count; i++ {
		request := &compute.CreateInstanceRequest{
			FolderId:   p.folderID,
			Name:       fmt.Sprintf("%s-%s", spec.NamePrefix, uuid.NewString()),
			ZoneId:     spec.Zone,
			PlatformId: "standard-v1",
			ResourcesSpec: &compute.ResourcesSpec{
				Cores:  int64(spec.Cores),
				Memory: spec.Memory * 1024 * 1024 * 1024,
			},
			BootDiskSpec: &compute.AttachedDiskSpec{
				AutoDelete: true,
				Disk: &compute.AttachedDiskSpec_DiskSpec_{
					DiskSpec: &compute.AttachedDiskSpec_DiskSpec{
						TypeId: "network-hdd",
						Size:   spec.DiskSize * 1024 * 1024 * 1024,
						Source: &compute.AttachedDiskSpec_DiskSpec_ImageId{
							ImageId: spec.ImageID,
						},
					},
				},
			},
			NetworkInterfaceSpecs: []*compute.NetworkInterfaceSpec{
				{
					SubnetId: subnetID,
					PrimaryV4AddressSpec: &compute.PrimaryAddressSpec{
						OneToOneNatSpec: &compute.OneToOneNatSpec{
							IpVersion: compute.IpVersion_IPV4,
						},
					},
				},
			},
			Metadata: map[string]string{"user-data": userData},
		}

		pop, err := p.sdk.Compute().Instance().Create(ctx, request)
		if err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		if err := p.waitOperation(ctx, pop); err != nil {
			return fmt.Errorf("instance create failed: %w", err)
		}
	}
	return nil
}

// Start starts stopped instances by ID.
func (p *YCProvider) Start(ctx context.Context, ids []string) error {
	for _, id := range ids {
		pop, err := p.sdk.Compute().Instance().Start(ctx, &compute.StartInstanceRequest{InstanceId: id})
		if err != nil {
			return fmt.Errorf("failed to start instance %s: %w", id, err)
		}
		if err := p.waitOperation(ctx, pop); err != nil {
			return fmt.Errorf("start of %s failed: %w", id, err)
		}
	}
	return nil
}

// Stop stops running instances by ID.
func (p *YCProvider) Stop(ctx context.Context, ids []string) error {
	for _, id := range ids {
		pop, err := p.sdk.Compute().Instance().Stop(ctx, &compute.StopInstanceRequest{InstanceId: id})
		if err != nil {
			return fmt.Errorf("failed to stop instance %s: %w", id, err)
		}
		if err := p.waitOperation(ctx, pop); err != nil {
			return fmt.Errorf("stop of %s failed: %w", id, err)
		}
	}
	return nil
}

// Terminate deletes instances by ID.
func (p *YCProvider) Terminate(ctx context.Context, ids []string) error {
	for _, id := range ids {
		pop, err := p.sdk.Compute().Instance().Delete(ctx, &compute.DeleteInstanceRequest{InstanceId: id})
		if err != nil {
			return fmt.Errorf("failed to delete instance %s: %w", id, err)
		}
		if err := p.waitOperation(ctx, pop); err != nil {
			return fmt.Errorf("delete of %s failed: %w", id, err)
		}
	}
	return nil
}

func (p *YCProvider) waitOperation(ctx context.Context, pop *operation.Operation) error {
	op, err := p.sdk.WrapOperation(pop, nil)
	if err != nil {
		return fmt.Errorf("failed to wrap operation: %w", err)
	}
	if err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for operation: %w", err)
	}
	return nil
}

func (p *YCProvider) findSubnet(ctx context.Context, zone string) string {
	resp, err := p.sdk.VPC().Subnet().List(ctx, &vpc.ListSubnetsRequest{
		FolderId: p.folderID,
		PageSize: 100,
	})
	if err != nil {
		logging.Logger().Warn("failed to list subnets", zap.Error(err))
		return ""
	}

	for _, subnet := range resp.Subnets {
		if subnet.ZoneId == zone {
			return subnet.Id
		}
	}
	return ""
}

func mapYCStatus(status compute.Instance_Status) InstanceState {
	switch status {
	case compute.Instance_RUNNING:
		return StateRunning
	case compute.Instance_PROVISIONING, compute.Instance_STARTING:
		return StatePending
	case compute.Instance_STOPPED, compute.Instance_STOPPING:
		return StateStopped
	case compute.Instance_DELETING:
		return StateTerminated
	default:
		return StateOther
	}
}

func ycExternalIP(inst *compute.Instance) string {
	if len(inst.NetworkInterfaces) > 0 {
		if addr := inst.NetworkInterfaces[0].PrimaryV4Address; addr != nil {
			if nat := addr.OneToOneNat; nat != nil {
				return nat.Address
			}
		}
	}
	return ""
}
