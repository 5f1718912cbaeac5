package keys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !strings.Contains(kp.PrivateKeyPEM, "RSA PRIVATE KEY") {
		t.Error("Expected a PEM private key")
	}
	if !strings.HasPrefix(kp.PublicKey, "ssh-rsa ") {
		t.Errorf("Expected an authorized_keys line, got '%s'", kp.PublicKey)
	}
}

func TestMaterializeAndLoad(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "keys")
	path, err := kp.Materialize(dir)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected the private key on disk: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600 on the private key, got %v", info.Mode().Perm())
	}
	if _, err := os.Stat(path + ".pub"); err != nil {
		t.Errorf("Expected the public key alongside: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.PublicKey != kp.PublicKey {
		t.Error("Expected the loaded pair to derive the same public key")
	}
}

func TestLoadFromFile_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_a_key")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected an error for a malformed key")
	}
}

func TestMemoryProvider_StableWithinProcess(t *testing.T) {
	p := &MemoryProvider{}

	first, err := p.GetOrCreate(context.Background())
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := p.GetOrCreate(context.Background())
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if first.PublicKey != second.PublicKey {
		t.Error("Expected the same pair on every call")
	}
}

func TestNewProvider_NoEndpoints(t *testing.T) {
	if _, ok := NewProvider(nil).(*MemoryProvider); !ok {
		t.Error("Expected the in-memory provider without etcd endpoints")
	}
}
