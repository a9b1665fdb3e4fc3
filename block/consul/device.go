package consul

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/kernos/block"
	"github.com/mwantia/kernos/data"
)

// ConsulDevice is a sector store on the HashiCorp Consul KV store, one
// KV pair per written sector.
//
// A 512-byte sector is far below Consul's 512KB value limit, so every
// sector maps to exactly one entry. Best suited for small shared disk
// images in clustered test environments.
type ConsulDevice struct {
	mu     sync.RWMutex
	client *api.Client
	kv     *api.KV

	count  data.Sector
	config *ConsulDeviceConfig
}

// ConsulDeviceConfig contains configuration options for the Consul device
type ConsulDeviceConfig struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string

	// Token for Consul ACL authentication (optional)
	Token string

	// Datacenter to use (optional)
	Datacenter string

	// Prefix for all keys in Consul KV (default: "kernos/disk")
	Prefix string
}

// NewConsulDevice creates a new Consul-backed sector store.
func NewConsulDevice(config *ConsulDeviceConfig, count data.Sector) (*ConsulDevice, error) {
	if config == nil {
		config = &ConsulDeviceConfig{}
	}

	// Set defaults
	if config.Address == "" {
		config.Address = "127.0.0.1:8500"
	}
	if config.Prefix == "" {
		config.Prefix = "kernos/disk"
	}

	client, err := api.NewClient(&api.Config{
		Address:    config.Address,
		Token:      config.Token,
		Datacenter: config.Datacenter,
	})
	if err != nil {
		return nil, err
	}

	return &ConsulDevice{
		client: client,
		kv:     client.KV(),
		count:  count,
		config: config,
	}, nil
}

func (cd *ConsulDevice) buildKey(sec data.Sector) string {
	return fmt.Sprintf("%s/%08d", cd.config.Prefix, sec)
}

// Returns the identifier name defined for this backend
func (*ConsulDevice) Name() string {
	return "consul"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (cd *ConsulDevice) Open(ctx context.Context) error {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	// Verify the agent is reachable before reporting the device present
	if _, err := cd.client.Agent().NodeName(); err != nil {
		return err
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (cd *ConsulDevice) Close(ctx context.Context) error {
	return nil
}

func (cd *ConsulDevice) SectorCount() data.Sector {
	return cd.count
}

func (cd *ConsulDevice) ReadSector(ctx context.Context, sec data.Sector, buf []byte) error {
	cd.mu.RLock()
	defer cd.mu.RUnlock()

	if err := block.CheckBounds(sec, cd.count, buf); err != nil {
		return err
	}

	pair, _, err := cd.kv.Get(cd.buildKey(sec), nil)
	if err != nil {
		return err
	}
	if pair == nil {
		// Never written, reads as zeroes
		clear(buf)
		return nil
	}

	copy(buf, pair.Value)
	return nil
}

func (cd *ConsulDevice) WriteSector(ctx context.Context, sec data.Sector, buf []byte) error {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if err := block.CheckBounds(sec, cd.count, buf); err != nil {
		return err
	}

	value := make([]byte, data.SectorSize)
	copy(value, buf)

	pair := &api.KVPair{
		Key:   cd.buildKey(sec),
		Value: value,
	}

	_, err := cd.kv.Put(pair, nil)
	return err
}
