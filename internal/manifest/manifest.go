package manifest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gpufleet/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manifest describes one experiment batch: the payload command lists to
// spread across the fleet plus per-experiment overrides for setup, teardown
// and syncing.
type Manifest struct {
	Name     string   `yaml:"name"`
	Setup    []string `yaml:"setup"`
	Teardown []string `yaml:"teardown"`
	// Commands is the flat batch of payload commands; the controller chunks
	// it across however many instances are running.
	Commands []string `yaml:"commands"`

	SyncSources []string `yaml:"sync_sources"`
	SyncTarget  string   `yaml:"sync_target"`

	MonitorDelaySeconds      int `yaml:"monitor_delay_seconds"`
	MonitorIdleWindowSeconds int `yaml:"monitor_idle_window_seconds"`
}

// Load reads a manifest from a local path or an http(s) URL. Remote fetches
// retry transient failures; experiment manifests are often served from the
// same flaky storage the results land on.
func Load(ref string) (*Manifest, error) {
	var data []byte
	var err error

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, err = fetch(ref)
	} else {
		data, err = os.ReadFile(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", ref, err)
	}

	return Parse(data)
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("manifest is missing a name")
	}
	if len(m.Commands) == 0 {
		return nil, fmt.Errorf("manifest %q has no commands", m.Name)
	}
	for i, command := range m.Commands {
		if strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("manifest %q: command %d is empty", m.Name, i)
		}
	}

	logging.Logger().Info("loaded manifest",
		zap.String("name", m.Name),
		zap.Int("commands", len(m.Commands)))
	return &m, nil
}

func fetch(url string) ([]byte, error) {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 4

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
