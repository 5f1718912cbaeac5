package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/digitalocean/godo"
	"github.com/google/uuid"
)

// DOProvider implements Provider for DigitalOcean droplets.
type DOProvider struct {
	client *godo.Client
}

// NewDOProvider creates a DigitalOcean-backed provider.
func NewDOProvider(token string) (*DOProvider, error) {
	if token == "" {
		return nil, fmt.Errorf("digitalocean token is empty")
	}
	return &DOProvider{client: godo.NewFromToken(token)}, nil
}

// List returns all droplets in the account.
func (p *DOProvider) List(ctx context.Context) ([]Instance, error) {
	var instances []Instance

	opt := &godo.ListOptions{PerPage: 200}
	for {
		droplets, resp, err := p.client.Droplets.List(ctx, opt)
		if err != nil {
			return nil, fmt.Errorf("failed to list droplets: %w", err)
		}
		for _, d := range droplets {
			ip, _ := d.PublicIPv4()
			instances = append(instances, Instance{
				ID:       strconv.Itoa(d.ID),
				Name:     d.Name,
				State:    mapDropletStatus(d.Status),
				PublicIP: ip,
				Zone:     d.Region.Slug,
			})
		}
		if resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, fmt.Errorf("failed to page droplet list: %w", err)
		}
		opt.Page = page + 1
	}

	return instances, nil
}

// Launch creates spec.Count droplets, one create call per droplet.
func (p *DOProvider) Launch(ctx context.Context, spec LaunchSpec) error {
	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return fmt.Errorf("failed to generate cloud-config: %w", err)
	}

	for i := 0; i < spec.Count; i++ {
		request := &godo.DropletCreateRequest{
			Name:     fmt.Sprintf("%s-%s", spec.NamePrefix, uuid.NewString()),
			Region:   spec.Zone,
			Size:     dropletSize(spec.Cores, spec.Memory),
			Image:    godo.DropletCreateImage{Slug: spec.ImageID},
			UserData: userData,
		}
		if _, _, err := p.client.Droplets.Create(ctx, request); err != nil {
			return fmt.Errorf("failed to create droplet: %w", err)
		}
	}
	return nil
}

// Start powers on stopped droplets.
func (p *DOProvider) Start(ctx context.Context, ids []string) error {
	return p.eachDroplet(ids, "power on", func(id int) error {
		_, _, err := p.client.DropletActions.PowerOn(ctx, id)
		return err
	})
}

// Stop powers off running droplets.
func (p *DOProvider) Stop(ctx context.Context, ids []string) error {
	return p.eachDroplet(ids, "power off", func(id int) error {
		_, _, err := p.client.DropletActions.PowerOff(ctx, id)
		return err
	})
}

// Terminate deletes droplets.
func (p *DOProvider) Terminate(ctx context.Context, ids []string) error {
	return p.eachDroplet(ids, "delete", func(id int) error {
		_, err := p.client.Droplets.Delete(ctx, id)
		return err
	})
}

func (p *DOProvider) eachDroplet(ids []string, action string, fn func(id int) error) error {
	for _, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid droplet ID %q: %w", raw, err)
		}
		if err := fn(id); err != nil {
			return fmt.Errorf("failed to %s droplet %d: %w", action, id, err)
		}
	}
	return nil
}

func mapDropletStatus(status string) InstanceState {
	switch status {
	case "active":
		return StateRunning
	case "new":
		return StatePending
	case "off":
		return StateStopped
	case "archive":
		return StateTerminated
	default:
		return StateOther
	}
}

func dropletSize(cores int, memory int64) string {
	if cores <= 1 && memory <= 2 {
		return "s-1vcpu-2gb"
	}
	if cores <= 2 && memory <= 4 {
		return "s-2vcpu-4gb"
	}
	return "s-4vcpu-8gb"
}
