package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyPair is an SSH key pair held in memory. PrivateKeyPEM is PKCS#1 PEM;
// PublicKey is the OpenSSH authorized_keys form handed to cloud-config.
type KeyPair struct {
	PrivateKeyPEM string
	PublicKey     string
}

// Generate creates a fresh RSA key pair in memory.
func Generate() (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPEM: string(privatePEM),
		PublicKey:     string(ssh.MarshalAuthorizedKey(publicKey)),
	}, nil
}

// Materialize writes the private key under dir with the permissions SSH
// demands and returns its path.
func (kp *KeyPair) Materialize(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}

	privatePath := filepath.Join(dir, "gpufleet_key")
	if err := os.WriteFile(privatePath, []byte(kp.PrivateKeyPEM), 0o600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(privatePath+".pub", []byte(kp.PublicKey), 0o644); err != nil {
		return "", fmt.Errorf("failed to write public key: %w", err)
	}
	return privatePath, nil
}

// LoadFromFile reads an existing private key and derives its public half.
func LoadFromFile(privateKeyPath string) (*KeyPair, error) {
	privateBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(privateBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPEM: string(privateBytes),
		PublicKey:     string(ssh.MarshalAuthorizedKey(signer.PublicKey())),
	}, nil
}
