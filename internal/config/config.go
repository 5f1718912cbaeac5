package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// ProviderType selects the cloud backend.
type ProviderType string

const (
	ProviderAWS          ProviderType = "aws"
	ProviderDigitalOcean ProviderType = "digitalocean"
	ProviderGCP          ProviderType = "gcp"
	ProviderYandexCloud  ProviderType = "yandex"
)

// AWSConfig holds EC2 connection and launch parameters.
type AWSConfig struct {
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	ImageID       string `yaml:"image_id"`
	InstanceType  string `yaml:"instance_type"`
	KeyName       string `yaml:"key_name"`
	SecurityGroup string `yaml:"security_group"`
}

// DOConfig holds DigitalOcean connection and launch parameters.
type DOConfig struct {
	Token    string `yaml:"token"`
	Region   string `yaml:"region"`
	Image    string `yaml:"image"`
	Cores    int    `yaml:"cores"`
	Memory   int64  `yaml:"memory"`    // GB
	DiskSize int64  `yaml:"disk_size"` // GB
}

// GCPConfig holds Google Compute Engine connection and launch parameters.
type GCPConfig struct {
	ProjectID       string `yaml:"project_id"`
	Zone            string `yaml:"zone"`
	CredentialsFile string `yaml:"credentials_file"`
	Image           string `yaml:"image"`
	Cores           int    `yaml:"cores"`
	Memory          int64  `yaml:"memory"`
	DiskSize        int64  `yaml:"disk_size"`
}

// YandexConfig holds Yandex Cloud connection and launch parameters.
type YandexConfig struct {
	IAMToken string `yaml:"iam_token"`
	FolderID string `yaml:"folder_id"`
	Zone     string `yaml:"zone"`
	ImageID  string `yaml:"image_id"`
	Cores    int    `yaml:"cores"`
	Memory   int64  `yaml:"memory"`
	DiskSize int64  `yaml:"disk_size"`
}

// ProviderConfig is a tagged union over the supported backends; the section
// matching Type must be present.
type ProviderConfig struct {
	Type         ProviderType  `yaml:"type"`
	AWS          *AWSConfig    `yaml:"aws"`
	DigitalOcean *DOConfig     `yaml:"digitalocean"`
	GCP          *GCPConfig    `yaml:"gcp"`
	YandexCloud  *YandexConfig `yaml:"yandex"`
}

// RemoteConfig is the fleet-wide credential set for reaching instances over
// SSH. EtcdEndpoints, when set, share key material between operators.
type RemoteConfig struct {
	User          string   `yaml:"user"`
	KeyPath       string   `yaml:"key_path"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// MonitorConfig parameterizes the in-instance idle-shutdown monitor
// bootstrap injected by the dispatcher.
type MonitorConfig struct {
	Binary            string `yaml:"binary"`   // remote path to the gpufleet binary
	Workdir           string `yaml:"workdir"`  // remote directory to cd into first
	Activate          string `yaml:"activate"` // command preparing the runtime, may be empty
	DelaySeconds      int    `yaml:"delay_seconds"`
	IdleWindowSeconds int    `yaml:"idle_window_seconds"`
}

// SyncConfig describes the recurring result sweep. TargetHost empty means the
// destination is the local TargetDir; otherwise results land on
// TargetHost:TargetPath.
type SyncConfig struct {
	Sources    []string `yaml:"sources"`
	TargetDir  string   `yaml:"target_dir"`
	TargetHost string   `yaml:"target_host"`
	TargetPath string   `yaml:"target_path"`
	Workers    int      `yaml:"workers"`
}

// Config is the full configuration surface, validated once at load.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Remote   RemoteConfig   `yaml:"remote"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Sync     SyncConfig     `yaml:"sync"`

	SetupCommands    []string `yaml:"setup_commands"`
	TeardownCommands []string `yaml:"teardown_commands"`

	BootDelaySeconds    int `yaml:"boot_delay_seconds"`
	SyncIntervalSeconds int `yaml:"sync_interval_seconds"`
}

// MissingKeyError names the required configuration key that was absent.
// Named-key failure at load time replaces a nil-deref surprise at use time.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required config key %q", e.Key)
}

// Load reads gpufleet.yaml (or CONFIG_PATH), expands environment variables,
// applies defaults and env overrides, and validates required keys.
func Load() (*Config, error) {
	config := &Config{
		TeardownCommands: []string{"logout"},
		Monitor: MonitorConfig{
			Binary:            "gpufleet",
			DelaySeconds:      600,
			IdleWindowSeconds: 120,
		},
		Sync:                SyncConfig{Workers: 4},
		BootDelaySeconds:    60,
		SyncIntervalSeconds: 120,
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "gpufleet.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.expandEnv()
	config.applyEnvOverrides()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) expandEnv() {
	c.Remote.User = os.ExpandEnv(c.Remote.User)
	c.Remote.KeyPath = os.ExpandEnv(c.Remote.KeyPath)
	for i, cmd := range c.SetupCommands {
		c.SetupCommands[i] = os.ExpandEnv(cmd)
	}
	for i, cmd := range c.TeardownCommands {
		c.TeardownCommands[i] = os.ExpandEnv(cmd)
	}
	if c.Provider.AWS != nil {
		c.Provider.AWS.AccessKey = os.ExpandEnv(c.Provider.AWS.AccessKey)
		c.Provider.AWS.SecretKey = os.ExpandEnv(c.Provider.AWS.SecretKey)
	}
	if c.Provider.DigitalOcean != nil {
		c.Provider.DigitalOcean.Token = os.ExpandEnv(c.Provider.DigitalOcean.Token)
	}
	if c.Provider.YandexCloud != nil {
		c.Provider.YandexCloud.IAMToken = os.ExpandEnv(c.Provider.YandexCloud.IAMToken)
	}
}

func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("DO_TOKEN"); token != "" && c.Provider.DigitalOcean != nil {
		c.Provider.DigitalOcean.Token = token
	}
	if token := os.Getenv("YC_TOKEN"); token != "" && c.Provider.YandexCloud != nil {
		c.Provider.YandexCloud.IAMToken = token
	}
	if folderID := os.Getenv("YC_FOLDER_ID"); folderID != "" && c.Provider.YandexCloud != nil {
		c.Provider.YandexCloud.FolderID = folderID
	}
}

func (c *Config) validate() error {
	if c.Provider.Type == "" {
		return &MissingKeyError{Key: "provider.type"}
	}
	if c.Remote.User == "" {
		return &MissingKeyError{Key: "remote.user"}
	}

	switch c.Provider.Type {
	case ProviderAWS:
		if c.Provider.AWS == nil {
			return &MissingKeyError{Key: "provider.aws"}
		}
		if c.Provider.AWS.Region == "" {
			return &MissingKeyError{Key: "provider.aws.region"}
		}
	case ProviderDigitalOcean:
		if c.Provider.DigitalOcean == nil {
			return &MissingKeyError{Key: "provider.digitalocean"}
		}
		if c.Provider.DigitalOcean.Token == "" {
			return &MissingKeyError{Key: "provider.digitalocean.token"}
		}
	case ProviderGCP:
		if c.Provider.GCP == nil {
			return &MissingKeyError{Key: "provider.gcp"}
		}
		if c.Provider.GCP.ProjectID == "" {
			return &MissingKeyError{Key: "provider.gcp.project_id"}
		}
		if c.Provider.GCP.Zone == "" {
			return &MissingKeyError{Key: "provider.gcp.zone"}
		}
	case ProviderYandexCloud:
		if c.Provider.YandexCloud == nil {
			return &MissingKeyError{Key: "provider.yandex"}
		}
		if c.Provider.YandexCloud.IAMToken == "" {
			return &MissingKeyError{Key: "provider.yandex.iam_token"}
		}
		if c.Provider.YandexCloud.FolderID == "" {
			return &MissingKeyError{Key: "provider.yandex.folder_id"}
		}
	default:
		return fmt.Errorf("unsupported provider type %q (want one of %s)",
			c.Provider.Type,
			strings.Join([]string{
				string(ProviderAWS), string(ProviderDigitalOcean),
				string(ProviderGCP), string(ProviderYandexCloud),
			}, ", "))
	}

	return nil
}
