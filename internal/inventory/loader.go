package inventory

import (
	"fmt"
	"os"
	"strings"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stone-age-io/fleetcheck/internal/device"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DeviceSpec describes one device in an inventory source
type DeviceSpec struct {
	Name         string                 `yaml:"name"`
	Tags         []string               `yaml:"tags,omitempty"`
	DisableCache bool                   `yaml:"disable_cache,omitempty"`
	Transport    device.TransportConfig `yaml:"transport"`
}

// File is the on-disk inventory layout
type File struct {
	Defaults device.TransportConfig `yaml:"defaults"`
	Devices  []DeviceSpec           `yaml:"devices"`
}

// Builder turns device specs into devices
type Builder struct {
	Defaults     device.TransportConfig
	Deps         device.Dependencies
	DisableCache bool
	Logger       *zap.Logger
}

// Build creates an inventory from specs, in order
func (b *Builder) Build(specs []DeviceSpec) (*Inventory, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	inv, _ := New()
	for _, spec := range specs {
		cfg := mergeDefaults(spec.Transport, b.Defaults)
		transport, err := device.NewTransport(cfg, b.Deps)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", spec.Name, err)
		}
		dev := device.New(device.Options{
			Name:         spec.Name,
			Tags:         spec.Tags,
			DisableCache: b.DisableCache || spec.DisableCache,
			Logger:       logger,
		}, transport)
		if err := inv.add(dev); err != nil {
			return nil, err
		}
	}

	logger.Info("Inventory loaded", zap.Int("devices", inv.Len()))
	return inv, nil
}

// LoadFile reads a YAML inventory file. File defaults apply before the
// builder's defaults.
func (b *Builder) LoadFile(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file %s: %w", path, err)
	}

	fb := *b
	fb.Defaults = mergeDefaults(f.Defaults, b.Defaults)
	return fb.Build(f.Devices)
}

// KVLister is the subset of the Consul KV API used to read an inventory
type KVLister interface {
	List(prefix string, q *consulapi.QueryOptions) (consulapi.KVPairs, *consulapi.QueryMeta, error)
}

// NewConsulKV creates a Consul KV client for addr (empty uses the agent default)
func NewConsulKV(addr, token string) (KVLister, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if token != "" {
		cfg.Token = token
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return cli.KV(), nil
}

// LoadConsul reads one device spec per key under prefix. Values are YAML or
// JSON; a missing name defaults to the last key segment. Devices are ordered
// by key.
func (b *Builder) LoadConsul(kv KVLister, prefix string) (*Inventory, error) {
	pairs, _, err := kv.List(prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list consul prefix %s: %w", prefix, err)
	}

	specs := make([]DeviceSpec, 0, len(pairs))
	for _, p := range pairs {
		if len(p.Value) == 0 || strings.HasSuffix(p.Key, "/") {
			continue
		}
		var spec DeviceSpec
		if err := yaml.Unmarshal(p.Value, &spec); err != nil {
			return nil, fmt.Errorf("failed to parse consul key %s: %w", p.Key, err)
		}
		if spec.Name == "" {
			spec.Name = p.Key[strings.LastIndex(p.Key, "/")+1:]
		}
		specs = append(specs, spec)
	}
	return b.Build(specs)
}

// mergeDefaults fills unset connection fields of cfg from def
func mergeDefaults(cfg, def device.TransportConfig) device.TransportConfig {
	if cfg.Kind == "" {
		cfg.Kind = def.Kind
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Username == "" {
		cfg.Username = def.Username
	}
	if cfg.Password == "" {
		cfg.Password = def.Password
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if !cfg.Enable {
		cfg.Enable = def.Enable
	}
	if cfg.EnablePassword == "" {
		cfg.EnablePassword = def.EnablePassword
	}
	if !cfg.Insecure {
		cfg.Insecure = def.Insecure
	}
	if cfg.MaxInflight == 0 {
		cfg.MaxInflight = def.MaxInflight
	}
	if cfg.KnownHostsFile == "" {
		cfg.KnownHostsFile = def.KnownHostsFile
	}
	if cfg.PrivateKeyFile == "" {
		cfg.PrivateKeyFile = def.PrivateKeyFile
	}
	if cfg.SNMPVersion == "" {
		cfg.SNMPVersion = def.SNMPVersion
	}
	if cfg.Community == "" {
		cfg.Community = def.Community
	}
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Token == "" {
		cfg.Token = def.Token
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	return cfg
}
