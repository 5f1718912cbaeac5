package provider

import (
	"bytes"
	"fmt"
	"text/template"
)

const cloudConfigTemplate = `#cloud-config
ssh_pwauth: no
users:
  - name: {{.Username}}
    sudo: ALL=(ALL) NOPASSWD:ALL
    shell: /bin/bash
    ssh_authorized_keys:
      - "{{.PublicKey}}"`

type cloudConfigData struct {
	Username  string
	PublicKey string
}

// GenerateCloudConfig renders the user-data that creates the fleet login user
// and installs its public key. Used by every backend except AWS, where a key
// pair name is passed natively.
func GenerateCloudConfig(username, publicKey string) (string, error) {
	tmpl, err := template.New("cloud-config").Parse(cloudConfigTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse cloud-config template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cloudConfigData{Username: username, PublicKey: publicKey}); err != nil {
		return "", fmt.Errorf("failed to execute cloud-config template: %w", err)
	}
	return buf.String(), nil
}
