package device

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// TransportConfig is the inventory description of how to reach a device.
// Only the fields relevant to Kind are used.
type TransportConfig struct {
	Kind     string        `yaml:"kind" json:"kind" mapstructure:"kind"`
	Host     string        `yaml:"host" json:"host" mapstructure:"host"`
	Port     int           `yaml:"port" json:"port" mapstructure:"port"`
	Username string        `yaml:"username" json:"username" mapstructure:"username"`
	Password string        `yaml:"password" json:"password" mapstructure:"password"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	// eapi
	Enable         bool   `yaml:"enable" json:"enable" mapstructure:"enable"`
	EnablePassword string `yaml:"enable_password" json:"enable_password" mapstructure:"enable_password"`
	Insecure       bool   `yaml:"insecure" json:"insecure" mapstructure:"insecure"`
	MaxInflight    int64  `yaml:"max_inflight" json:"max_inflight" mapstructure:"max_inflight"`

	// ssh
	PrivateKeyFile string `yaml:"private_key_file" json:"private_key_file" mapstructure:"private_key_file"`
	Passphrase     string `yaml:"passphrase" json:"passphrase" mapstructure:"passphrase"`
	KnownHostsFile string `yaml:"known_hosts_file" json:"known_hosts_file" mapstructure:"known_hosts_file"`

	// snmp
	SNMPVersion string   `yaml:"snmp_version" json:"snmp_version" mapstructure:"snmp_version"`
	Community   string   `yaml:"community" json:"community" mapstructure:"community"`
	SNMPUser    SNMPUser `yaml:"snmp_user" json:"snmp_user" mapstructure:"snmp_user"`
	Retries     int      `yaml:"retries" json:"retries" mapstructure:"retries"`

	// cloudvision
	URL    string `yaml:"url" json:"url" mapstructure:"url"`
	Token  string `yaml:"token" json:"token" mapstructure:"token"`
	Serial string `yaml:"serial" json:"serial" mapstructure:"serial"`

	// exporter
	Model string `yaml:"model" json:"model" mapstructure:"model"`

	// proxy
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix" mapstructure:"subject_prefix"`
	Target        string `yaml:"target" json:"target" mapstructure:"target"`
}

// Dependencies are shared collaborators handed to transports
type Dependencies struct {
	HTTPClient         *http.Client
	InsecureHTTPClient *http.Client // TLS verification disabled, for lab devices
	Requester          Requester
}

// NewTransport creates the transport named by cfg.Kind
func NewTransport(cfg TransportConfig, deps Dependencies) (Transport, error) {
	kind := strings.ToLower(cfg.Kind)
	if kind == "" {
		kind = "eapi" // Default
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = NewHTTPClient(30*time.Second, false)
	}

	switch kind {
	case "eapi":
		if cfg.Host == "" {
			return nil, fmt.Errorf("host required for eapi transport")
		}
		return NewEAPI(EAPIConfig{
			Host:           cfg.Host,
			Port:           cfg.Port,
			Username:       cfg.Username,
			Password:       cfg.Password,
			Enable:         cfg.Enable,
			EnablePassword: cfg.EnablePassword,
			Insecure:       cfg.Insecure,
			MaxInflight:    cfg.MaxInflight,
		}, deps.HTTPClient), nil
	case "ssh":
		if cfg.Host == "" {
			return nil, fmt.Errorf("host required for ssh transport")
		}
		return NewSSH(SSHConfig{
			Host:           cfg.Host,
			Port:           cfg.Port,
			Username:       cfg.Username,
			Password:       cfg.Password,
			PrivateKeyFile: cfg.PrivateKeyFile,
			Passphrase:     cfg.Passphrase,
			KnownHostsFile: cfg.KnownHostsFile,
			Timeout:        cfg.Timeout,
		}), nil
	case "snmp":
		if cfg.Host == "" {
			return nil, fmt.Errorf("host required for snmp transport")
		}
		return NewSNMP(SNMPConfig{
			Host:      cfg.Host,
			Port:      cfg.Port,
			Version:   cfg.SNMPVersion,
			Community: cfg.Community,
			User:      cfg.SNMPUser,
			Timeout:   cfg.Timeout,
			Retries:   cfg.Retries,
		}), nil
	case "cloudvision":
		if cfg.URL == "" || cfg.Serial == "" {
			return nil, fmt.Errorf("url and serial required for cloudvision transport")
		}
		client := deps.HTTPClient
		if cfg.Insecure && deps.InsecureHTTPClient != nil {
			client = deps.InsecureHTTPClient
		}
		return NewCloudVision(CloudVisionConfig{URL: cfg.URL, Token: cfg.Token, Serial: cfg.Serial}, client), nil
	case "exporter":
		if cfg.URL == "" {
			return nil, fmt.Errorf("url required for exporter transport")
		}
		return NewExporter(ExporterConfig{URL: cfg.URL, Model: cfg.Model}, deps.HTTPClient), nil
	case "proxy":
		if cfg.Target == "" {
			return nil, fmt.Errorf("target required for proxy transport")
		}
		if deps.Requester == nil {
			return nil, fmt.Errorf("proxy transport requires nats.enabled")
		}
		prefix := cfg.SubjectPrefix
		if prefix == "" {
			prefix = "telemetry"
		}
		return NewProxy(ProxyConfig{SubjectPrefix: prefix, Target: cfg.Target, Timeout: cfg.Timeout}, deps.Requester), nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", cfg.Kind)
	}
}

// NewHTTPClient creates the HTTP client shared by HTTP-based transports
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	return &http.Client{
		// Overall request timeout (connection + headers + body read)
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			// Time to establish TCP connection
			DialContext: (&net.Dialer{
				Timeout:       5 * time.Second,
				KeepAlive:     30 * time.Second,
				FallbackDelay: 300 * time.Millisecond,
			}).DialContext,
			// Time to complete TLS handshake
			TLSHandshakeTimeout: 5 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: insecureSkipVerify,
			},
			// Many devices are polled at once, each reused by several checks
			MaxIdleConns:        1000,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
