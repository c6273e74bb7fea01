package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	oidSysDescr     = "1.3.6.1.2.1.1.1.0"
	oidSysObjectID  = "1.3.6.1.2.1.1.2.0"
	oidSysUpTime    = "1.3.6.1.2.1.1.3.0"
	oidSysName      = "1.3.6.1.2.1.1.5.0"
	oidEntModelName = "1.3.6.1.2.1.47.1.1.1.1.13.1"
	oidEntSerialNum = "1.3.6.1.2.1.47.1.1.1.1.11.1"
)

// SNMPUser holds SNMPv3 USM settings
type SNMPUser struct {
	Name          string `yaml:"name" json:"name" mapstructure:"name"`
	SecurityLevel string `yaml:"level" json:"level" mapstructure:"level"`                // noAuthNoPriv, authNoPriv, authPriv
	AuthProto     string `yaml:"auth_proto" json:"auth_proto" mapstructure:"auth_proto"` // md5, sha, sha224, sha256, sha384, sha512
	AuthKey       string `yaml:"auth_key" json:"auth_key" mapstructure:"auth_key"`
	PrivProto     string `yaml:"priv_proto" json:"priv_proto" mapstructure:"priv_proto"` // des, aes, aes192, aes256, aes192c, aes256c
	PrivKey       string `yaml:"priv_key" json:"priv_key" mapstructure:"priv_key"`
}

// SNMPConfig holds SNMP agent settings
type SNMPConfig struct {
	Host      string
	Port      int
	Version   string // 1, 2c, 3
	Community string
	User      SNMPUser
	Timeout   time.Duration
	Retries   int
}

type snmpHandler func(ctx context.Context, s *SNMP, cmd *Command) ([]byte, error)

// snmpCommands maps command prefixes to handlers. Only these commands can be
// issued over SNMP.
var snmpCommands = []struct {
	prefix string
	exact  bool
	fn     snmpHandler
}{
	{prefix: "show version", exact: true, fn: snmpShowVersion},
	{prefix: "snmp get ", fn: snmpGet},
	{prefix: "snmp walk ", fn: snmpWalk},
}

// SNMP answers a fixed set of read commands from the device's SNMP agent
type SNMP struct {
	cfg       SNMPConfig
	newClient func() gosnmp.Handler

	mu     sync.Mutex
	client gosnmp.Handler
}

// NewSNMP creates an SNMP transport
func NewSNMP(cfg SNMPConfig) *SNMP {
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Version == "" {
		cfg.Version = "2c"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &SNMP{cfg: cfg, newClient: gosnmp.NewHandler}
}

func (s *SNMP) Kind() string { return "snmp" }

func (s *SNMP) Key() string { return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)) }

func lookupSNMPHandler(line string) (snmpHandler, bool) {
	for _, c := range snmpCommands {
		if c.exact && line == c.prefix {
			return c.fn, true
		}
		if !c.exact && strings.HasPrefix(line, c.prefix) {
			return c.fn, true
		}
	}
	return nil, false
}

// Supports rejects commands outside the SNMP mapping and text output
func (s *SNMP) Supports(cmd *Command) error {
	if cmd.Format() != FormatJSON {
		return fmt.Errorf("%w: snmp only returns json output", ErrUnsupportedCommand)
	}
	if _, ok := lookupSNMPHandler(cmd.Line()); !ok {
		return fmt.Errorf("%w: %q over snmp", ErrUnsupportedCommand, cmd.Line())
	}
	return nil
}

// initClient configures a handler the way the SNMP collectors do
func (s *SNMP) initClient() (gosnmp.Handler, error) {
	client := s.newClient()

	client.SetTarget(s.cfg.Host)
	client.SetPort(uint16(s.cfg.Port))
	client.SetRetries(s.cfg.Retries)
	client.SetTimeout(s.cfg.Timeout)

	switch s.cfg.Version {
	case "1":
		client.SetCommunity(s.cfg.Community)
		client.SetVersion(gosnmp.Version1)
	case "2c", "2":
		client.SetCommunity(s.cfg.Community)
		client.SetVersion(gosnmp.Version2c)
	case "3":
		if s.cfg.User.Name == "" {
			return nil, errors.New("username is required for SNMPv3")
		}
		client.SetVersion(gosnmp.Version3)
		client.SetSecurityModel(gosnmp.UserSecurityModel)
		client.SetMsgFlags(parseSNMPv3SecurityLevel(s.cfg.User.SecurityLevel))
		client.SetSecurityParameters(&gosnmp.UsmSecurityParameters{
			UserName:                 s.cfg.User.Name,
			AuthenticationProtocol:   parseSNMPv3AuthProtocol(s.cfg.User.AuthProto),
			AuthenticationPassphrase: s.cfg.User.AuthKey,
			PrivacyProtocol:          parseSNMPv3PrivProtocol(s.cfg.User.PrivProto),
			PrivacyPassphrase:        s.cfg.User.PrivKey,
		})
	default:
		return nil, fmt.Errorf("invalid SNMP version: %s", s.cfg.Version)
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("%w: snmp connect: %v", ErrUnreachable, err)
	}
	return client, nil
}

// Execute runs a mapped command. Requests to one agent are serialized.
func (s *SNMP) Execute(ctx context.Context, cmd *Command) (Reply, error) {
	fn, ok := lookupSNMPHandler(cmd.Line())
	if !ok {
		return Reply{}, fmt.Errorf("%w: %q over snmp", ErrUnsupportedCommand, cmd.Line())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		client, err := s.initClient()
		if err != nil {
			return Reply{}, err
		}
		s.client = client
	}

	out, err := fn(ctx, s, cmd)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Output: out}, nil
}

// Probe reads the system group and returns the entity model name
func (s *SNMP) Probe(ctx context.Context) (string, error) {
	reply, err := s.Execute(ctx, Template{Text: "show version"}.MustRender())
	if err != nil {
		return "", err
	}
	var v struct {
		ModelName string `json:"modelName"`
	}
	if err := json.Unmarshal(reply.Output, &v); err != nil {
		return "", fmt.Errorf("failed to decode show version: %w", err)
	}
	return v.ModelName, nil
}

// Close closes the SNMP socket
func (s *SNMP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// snmpValue is one varbind in command output
type snmpValue struct {
	OID   string `json:"oid"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

func pduToValue(pdu gosnmp.SnmpPDU) snmpValue {
	v := snmpValue{OID: strings.TrimPrefix(pdu.Name, "."), Type: fmt.Sprint(pdu.Type)}
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			v.Value = string(b)
		}
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		v.Value = fmt.Sprint(pdu.Value)
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.Null, gosnmp.EndOfMibView:
		v.Value = nil
	default:
		v.Value = gosnmp.ToBigInt(pdu.Value).Int64()
	}
	return v
}

// showVersionFromPDUs shapes the system group like the CLI show version output
func showVersionFromPDUs(pdus []gosnmp.SnmpPDU) map[string]any {
	out := map[string]any{}
	for _, pdu := range pdus {
		v := pduToValue(pdu)
		switch v.OID {
		case oidSysDescr:
			out["description"] = v.Value
		case oidSysObjectID:
			out["sysObjectId"] = v.Value
		case oidSysName:
			out["hostname"] = v.Value
		case oidSysUpTime:
			if ticks, ok := v.Value.(int64); ok {
				// timeticks are hundredths of a second
				out["uptime"] = float64(ticks) / 100
			}
		case oidEntModelName:
			if v.Value != nil {
				out["modelName"] = v.Value
			}
		case oidEntSerialNum:
			if v.Value != nil {
				out["serialNumber"] = v.Value
			}
		}
	}
	return out
}

func snmpShowVersion(_ context.Context, s *SNMP, _ *Command) ([]byte, error) {
	pkt, err := s.client.Get([]string{oidSysDescr, oidSysObjectID, oidSysUpTime, oidSysName, oidEntModelName, oidEntSerialNum})
	if err != nil {
		return nil, fmt.Errorf("snmp get system group: %w", err)
	}
	return json.Marshal(showVersionFromPDUs(pkt.Variables))
}

func commandOID(cmd *Command, prefix string) (string, error) {
	oid := strings.TrimSpace(strings.TrimPrefix(cmd.Line(), prefix))
	if oid == "" || strings.ContainsAny(oid, " \t") {
		return "", fmt.Errorf("invalid OID %q", oid)
	}
	return oid, nil
}

func snmpGet(_ context.Context, s *SNMP, cmd *Command) ([]byte, error) {
	oid, err := commandOID(cmd, "snmp get ")
	if err != nil {
		return nil, err
	}
	pkt, err := s.client.Get([]string{oid})
	if err != nil {
		return nil, fmt.Errorf("snmp get %s: %w", oid, err)
	}
	if len(pkt.Variables) == 0 {
		return nil, fmt.Errorf("snmp get %s: empty response", oid)
	}
	return json.Marshal(pduToValue(pkt.Variables[0]))
}

func snmpWalk(ctx context.Context, s *SNMP, cmd *Command) ([]byte, error) {
	oid, err := commandOID(cmd, "snmp walk ")
	if err != nil {
		return nil, err
	}

	var pdus []gosnmp.SnmpPDU
	if s.client.Version() == gosnmp.Version1 {
		pdus, err = s.client.WalkAll(oid)
	} else {
		pdus, err = s.client.BulkWalkAll(oid)
	}
	if err != nil {
		return nil, fmt.Errorf("snmp walk %s: %w", oid, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	entries := make([]snmpValue, 0, len(pdus))
	for _, pdu := range pdus {
		entries = append(entries, pduToValue(pdu))
	}
	return json.Marshal(map[string]any{"oid": oid, "entries": entries})
}

func parseSNMPv3SecurityLevel(level string) gosnmp.SnmpV3MsgFlags {
	switch strings.ToLower(level) {
	case "authnopriv":
		return gosnmp.AuthNoPriv
	case "authpriv":
		return gosnmp.AuthPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func parseSNMPv3AuthProtocol(proto string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToLower(proto) {
	case "md5":
		return gosnmp.MD5
	case "sha":
		return gosnmp.SHA
	case "sha224":
		return gosnmp.SHA224
	case "sha256":
		return gosnmp.SHA256
	case "sha384":
		return gosnmp.SHA384
	case "sha512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func parseSNMPv3PrivProtocol(proto string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToLower(proto) {
	case "des":
		return gosnmp.DES
	case "aes":
		return gosnmp.AES
	case "aes192":
		return gosnmp.AES192
	case "aes256":
		return gosnmp.AES256
	case "aes192c":
		return gosnmp.AES192C
	case "aes256c":
		return gosnmp.AES256C
	default:
		return gosnmp.NoPriv
	}
}
