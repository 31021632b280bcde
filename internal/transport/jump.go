package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"sshexec/internal/errors"
	"sshexec/internal/sshauth"
	"sshexec/util"
)

// JumpConfig describes the SSH gateway a JumpDialer goes through.
type JumpConfig struct {
	User     string
	Host     string
	Port     int
	KeyPath  string
	Password string
	// Passphrase decrypts KeyPath; "" for unencrypted keys.
	Passphrase    string
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	Timeout       time.Duration
}

// JumpDialer reaches the target through an SSH gateway with a
// direct-tcpip channel, like ssh -J.  The gateway connection is made on
// the first Dial and shared by later ones; once it drops, the next Dial
// reconnects.
type JumpDialer struct {
	cfg    JumpConfig
	logger *util.Logger

	mu     sync.Mutex
	client *ssh.Client
	agent  io.Closer
}

// NewJumpDialer returns a dialer for cfg.  Nothing is dialed yet.
func NewJumpDialer(cfg JumpConfig, logger *util.Logger) *JumpDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &JumpDialer{cfg: cfg, logger: logger}
}

// authMethods assembles the gateway auth methods: key file, agent,
// password, and the conventional key files when none was configured.
func (d *JumpDialer) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod
	var agentConn io.Closer

	if d.cfg.KeyPath != "" {
		signer, err := sshauth.LoadSigner(d.cfg.KeyPath, d.cfg.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("key %s: %w", d.cfg.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if d.cfg.UseAgent {
		m, c, err := sshauth.AgentAuth()
		if err != nil {
			return nil, nil, fmt.Errorf("ssh-agent: %w", err)
		}
		methods = append(methods, m)
		agentConn = c
	}

	if d.cfg.Password != "" {
		methods = append(methods, ssh.Password(d.cfg.Password))
	}

	if len(methods) == 0 {
		var signers []ssh.Signer
		for _, p := range sshauth.DefaultKeyFiles() {
			if s, err := sshauth.LoadSigner(p, ""); err == nil {
				signers = append(signers, s)
			}
		}
		if len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no jump host authentication available: " +
			"set a key, a password or use the agent")
	}
	return methods, agentConn, nil
}

func (d *JumpDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	addr := util.FormatAddr(d.cfg.Host, d.cfg.Port)
	methods, agentConn, err := d.authMethods()
	if err != nil {
		return nil, errors.Connection(addr, err)
	}
	closeAgent := func() {
		if agentConn != nil {
			agentConn.Close()
		}
	}

	hk, err := sshauth.HostKeyCallback(d.cfg.StrictHostKey, d.cfg.KnownHosts)
	if err != nil {
		closeAgent()
		return nil, errors.Connection(addr, err)
	}

	d.logger.Verbose("jump: dialing %s as %s", addr, d.cfg.User)
	tcp := &TCPDialer{Timeout: d.cfg.Timeout}
	nc, err := tcp.Dial(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, errors.Connection(addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(nc, addr, &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            methods,
		HostKeyCallback: hk,
		Timeout:         d.cfg.Timeout,
	})
	if err != nil {
		nc.Close()
		closeAgent()
		return nil, errors.Handshake(d.cfg.Host, d.cfg.Port, err)
	}

	d.client = ssh.NewClient(conn, chans, reqs)
	d.agent = agentConn
	d.logger.Verbose("jump: connected to %s", addr)
	go d.monitor(d.client)
	return d.client, nil
}

// monitor blocks until the gateway connection closes and forgets it.
func (d *JumpDialer) monitor(client *ssh.Client) {
	err := client.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != client {
		return // closed by Close
	}
	d.client = nil
	if d.agent != nil {
		d.agent.Close()
		d.agent = nil
	}
	if err != nil {
		d.logger.Debug("jump: gateway closed: %v", err)
	} else {
		d.logger.Debug("jump: gateway closed")
	}
}

// Alive reports whether a gateway connection is currently up.
func (d *JumpDialer) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client != nil
}

// Dial opens a direct-tcpip channel from the gateway to address.
func (d *JumpDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("jump: forwarding %s %s", network, address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("jump dial %s: %w", address, err)
	}
	return conn, nil
}

// Close tears down the gateway connection.
func (d *JumpDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.client != nil {
		err = d.client.Close()
		d.client = nil
	}
	if d.agent != nil {
		d.agent.Close()
		d.agent = nil
	}
	return err
}
