package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gpufleet/internal/logging"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const fleetKeyPath = "/gpufleet/ssh_keys"

// Provider hands out the fleet key pair. The etcd implementation lets
// several operator machines drive one fleet with the same key; the in-memory
// one generates a throwaway pair per process.
type Provider interface {
	GetOrCreate(ctx context.Context) (*KeyPair, error)
	Close() error
}

// EtcdProvider stores the fleet key pair in etcd.
type EtcdProvider struct {
	client *clientv3.Client
}

// NewEtcdProvider connects to etcd.
func NewEtcdProvider(endpoints []string) (*EtcdProvider, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdProvider{client: cli}, nil
}

type storedKeyPair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// GetOrCreate returns the shared key pair, generating and storing one on
// first use.
func (p *EtcdProvider) GetOrCreate(ctx context.Context) (*KeyPair, error) {
	resp, err := p.client.Get(ctx, fleetKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get fleet keys from etcd: %w", err)
	}

	if len(resp.Kvs) > 0 {
		var stored storedKeyPair
		if err := json.Unmarshal(resp.Kvs[0].Value, &stored); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fleet keys: %w", err)
		}
		logging.Logger().Info("using existing fleet SSH keys from etcd")
		return &KeyPair{PrivateKeyPEM: stored.PrivateKey, PublicKey: stored.PublicKey}, nil
	}

	logging.Logger().Info("no fleet SSH keys in etcd, generating a new pair")
	keyPair, err := Generate()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(storedKeyPair{
		PrivateKey: keyPair.PrivateKeyPEM,
		PublicKey:  keyPair.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fleet keys: %w", err)
	}
	if _, err := p.client.Put(ctx, fleetKeyPath, string(data)); err != nil {
		return nil, fmt.Errorf("failed to store fleet keys in etcd: %w", err)
	}
	return keyPair, nil
}

// Close closes the etcd client.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

// MemoryProvider generates a key pair on first use and keeps it only for the
// life of the process.
type MemoryProvider struct {
	keyPair *KeyPair
}

func (p *MemoryProvider) GetOrCreate(ctx context.Context) (*KeyPair, error) {
	if p.keyPair != nil {
		return p.keyPair, nil
	}
	keyPair, err := Generate()
	if err != nil {
		return nil, err
	}
	p.keyPair = keyPair
	return keyPair, nil
}

func (p *MemoryProvider) Close() error { return nil }

// NewProvider picks the etcd provider when endpoints are configured and it
// answers, falling back to in-memory keys otherwise.
func NewProvider(endpoints []string) Provider {
	if len(endpoints) == 0 {
		return &MemoryProvider{}
	}

	provider, err := NewEtcdProvider(endpoints)
	if err != nil {
		logging.Logger().Warn("etcd unavailable, using in-memory fleet keys", zap.Error(err))
		return &MemoryProvider{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := provider.client.Get(ctx, fleetKeyPath); err != nil {
		logging.Logger().Warn("etcd connection test failed, using in-memory fleet keys", zap.Error(err))
		provider.Close()
		return &MemoryProvider{}
	}
	return provider
}
