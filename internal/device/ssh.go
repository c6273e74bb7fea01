package device

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds CLI-over-SSH connection settings
type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyFile string
	Passphrase     string
	KnownHostsFile string // empty disables host key verification
	Timeout        time.Duration
}

// SSH runs CLI commands over an SSH session per command
type SSH struct {
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSH creates an SSH transport. The connection is dialed on first use.
func NewSSH(cfg SSHConfig) *SSH {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SSH{cfg: cfg}
}

func (s *SSH) Kind() string { return "ssh" }

func (s *SSH) Key() string { return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)) }

// buildClientConfig creates the ssh client config from key or password auth
func (s *SSH) buildClientConfig() (*ssh.ClientConfig, error) {
	if s.cfg.Username == "" {
		return nil, fmt.Errorf("ssh username is required")
	}

	var auth []ssh.AuthMethod
	if s.cfg.PrivateKeyFile != "" {
		keyData, err := os.ReadFile(s.cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if s.cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(s.cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh password or private_key_file is required")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            s.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.Timeout,
	}, nil
}

// connect returns the shared client, dialing it if needed
func (s *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	config, err := s.buildClientConfig()
	if err != nil {
		return nil, err
	}

	addr := s.Key()
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial: %v", ErrUnreachable, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}

	s.client = ssh.NewClient(sshConn, chans, reqs)
	return s.client, nil
}

// dropClient forgets a broken client so the next command redials
func (s *SSH) dropClient(c *ssh.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == c {
		s.client.Close()
		s.client = nil
	}
}

// cliLine appends the json pipe for structured output
func cliLine(cmd *Command) string {
	line := cmd.Line()
	if cmd.Format() == FormatJSON && !strings.HasSuffix(line, "| json") {
		line += " | json"
	}
	return line
}

// Execute opens a session and runs the command
func (s *SSH) Execute(ctx context.Context, cmd *Command) (Reply, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return Reply{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		s.dropClient(client)
		return Reply{}, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cliLine(cmd))
		done <- result{out, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		session.Close()
		return Reply{}, fmt.Errorf("ssh command cancelled: %w", ctx.Err())
	}

	out := strings.TrimSpace(string(res.out))
	if res.err != nil {
		return Reply{Errors: []string{cliError(out, res.err)}, Unsupported: strings.Contains(out, eapiUnsupportedMarker)}, nil
	}
	if strings.HasPrefix(out, "% ") {
		return Reply{Errors: []string{strings.TrimPrefix(out, "% ")}, Unsupported: strings.Contains(out, eapiUnsupportedMarker)}, nil
	}

	if cmd.Format() == FormatJSON {
		if !gjson.Valid(out) {
			return Reply{Errors: []string{"command output is not valid JSON"}}, nil
		}
		if msg := gjson.Get(out, "errors.0"); msg.Exists() {
			return Reply{Errors: []string{msg.String()}}, nil
		}
	}
	return Reply{Output: []byte(out)}, nil
}

func cliError(out string, err error) string {
	if out != "" {
		return strings.TrimPrefix(out, "% ")
	}
	return err.Error()
}

// Probe runs show version and returns modelName
func (s *SSH) Probe(ctx context.Context) (string, error) {
	reply, err := s.Execute(ctx, Template{Text: "show version"}.MustRender())
	if err != nil {
		return "", err
	}
	if reply.Failed() {
		return "", fmt.Errorf("show version failed: %s", strings.Join(reply.Errors, "; "))
	}
	return gjson.GetBytes(reply.Output, "modelName").String(), nil
}

// Close closes the SSH connection
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
