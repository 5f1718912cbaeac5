package provider

import (
	"context"
	"fmt"

	"gpufleet/internal/config"
)

// New creates a provider from configuration (discriminated-union dispatch
// over the configured backend type).
func New(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.ProviderAWS:
		if cfg.AWS == nil {
			return nil, fmt.Errorf("aws config is nil")
		}
		return NewAWSProvider(ctx, cfg.AWS.Region, cfg.AWS.AccessKey, cfg.AWS.SecretKey)

	case config.ProviderDigitalOcean:
		if cfg.DigitalOcean == nil {
			return nil, fmt.Errorf("digitalocean config is nil")
		}
		return NewDOProvider(cfg.DigitalOcean.Token)

	case config.ProviderGCP:
		if cfg.GCP == nil {
			return nil, fmt.Errorf("gcp config is nil")
		}
		return NewGCPProvider(ctx, cfg.GCP.ProjectID, cfg.GCP.Zone, cfg.GCP.CredentialsFile)

	case config.ProviderYandexCloud:
		if cfg.YandexCloud == nil {
			return nil, fmt.Errorf("yandex config is nil")
		}
		return NewYCProvider(cfg.YandexCloud.IAMToken, cfg.YandexCloud.FolderID)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

// LaunchDefaults builds the launch parameters that are fixed per backend; the
// caller fills in Count, NamePrefix, Username and SSHPublicKey.
func LaunchDefaults(cfg config.ProviderConfig) LaunchSpec {
	switch cfg.Type {
	case config.ProviderAWS:
		if cfg.AWS != nil {
			return LaunchSpec{
				ImageID:       cfg.AWS.ImageID,
				InstanceType:  cfg.AWS.InstanceType,
				KeyName:       cfg.AWS.KeyName,
				SecurityGroup: cfg.AWS.SecurityGroup,
			}
		}
	case config.ProviderDigitalOcean:
		if cfg.DigitalOcean != nil {
			return LaunchSpec{
				ImageID:  cfg.DigitalOcean.Image,
				Zone:     cfg.DigitalOcean.Region,
				Cores:    cfg.DigitalOcean.Cores,
				Memory:   cfg.DigitalOcean.Memory,
				DiskSize: cfg.DigitalOcean.DiskSize,
			}
		}
	case config.ProviderGCP:
		if cfg.GCP != nil {
			return LaunchSpec{
				ImageID:  cfg.GCP.Image,
				Zone:     cfg.GCP.Zone,
				Cores:    cfg.GCP.Cores,
				Memory:   cfg.GCP.Memory,
				DiskSize: cfg.GCP.DiskSize,
			}
		}
	case config.ProviderYandexCloud:
		if cfg.YandexCloud != nil {
			return LaunchSpec{
				ImageID:  cfg.YandexCloud.ImageID,
				Zone:     cfg.YandexCloud.Zone,
				Cores:    cfg.YandexCloud.Cores,
				Memory:   cfg.YandexCloud.Memory,
				DiskSize: cfg.YandexCloud.DiskSize,
			}
		}
	}
	return LaunchSpec{}
}
