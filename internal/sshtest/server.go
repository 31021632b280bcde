// Package sshtest runs an in-process SSH server for integration tests.
//
// The server accepts password and public-key authentication, executes a
// tiny command language on "session" channels and forwards
// "direct-tcpip" channels so it can double as a jump host.
//
// Commands are separated by ';':
//
//	echo WORDS        write WORDS and a newline to stdout
//	echo WORDS >&2    same, on stderr
//	seq N             write 1..N, one per line, to stdout
//	sleep DURATION    pause (time.ParseDuration syntax)
//	exit N            stop and report exit status N
//
// Anything else writes "command not found" to stderr and sets status
// 127.  An exec whose command starts with "deny" is refused.
package sshtest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Server is a running test server.
type Server struct {
	// Addr is the listen address, "127.0.0.1:port".
	Addr string
	Host string
	Port int

	// HostKey is the server's host key.
	HostKey ssh.Signer

	user          string
	password      string
	authorizedKey ssh.PublicKey
	maxAuthTries  int

	ln    net.Listener
	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	execs []string
}

// Option configures a Server.
type Option func(*Server)

// WithPassword accepts user/password.
func WithPassword(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// WithAuthorizedKey accepts key for the configured user.
func WithAuthorizedKey(user string, key ssh.PublicKey) Option {
	return func(s *Server) {
		s.user = user
		s.authorizedKey = key
	}
}

// WithMaxAuthTries sets how many failed attempts the server tolerates
// before disconnecting.
func WithMaxAuthTries(n int) Option {
	return func(s *Server) { s.maxAuthTries = n }
}

// Start listens on an ephemeral loopback port.  The server is closed
// when the test ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("sshtest: host key: %v", err)
	}
	hostKey, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("sshtest: host signer: %v", err)
	}

	s := &Server{HostKey: hostKey, conns: map[net.Conn]struct{}{}}
	for _, o := range opts {
		o(s)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sshtest: listen: %v", err)
	}
	s.ln = ln
	s.Addr = ln.Addr().String()
	s.Host = "127.0.0.1"
	s.Port = ln.Addr().(*net.TCPAddr).Port

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Close stops the listener, drops every connection and waits for the
// handlers to finish.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Execs returns every command the server was asked to run.
func (s *Server) Execs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

func (s *Server) config() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{MaxAuthTries: s.maxAuthTries}
	if s.password != "" {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if c.User() == s.user && string(pw) == s.password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}
	if s.authorizedKey != nil {
		cfg.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == s.user && bytes.Equal(key.Marshal(), s.authorizedKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		}
	}
	cfg.AddHostKey(s.HostKey)
	return cfg
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[nc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(nc)
			s.mu.Lock()
			delete(s.conns, nc)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handle(nc net.Conn) {
	defer nc.Close()

	sconn, chans, reqs, err := ssh.NewServerConn(nc, s.config())
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	defer wg.Wait()
	for nch := range chans {
		switch nch.ChannelType() {
		case "session":
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.session(nch)
			}()
		case "direct-tcpip":
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.directTCPIP(nch)
			}()
		default:
			nch.Reject(ssh.UnknownChannelType, "unsupported channel type") //nolint:errcheck
		}
	}
}

// ── session channels ─────────────────────────────────────────────────

type execMsg struct {
	Command string
}

type exitStatusMsg struct {
	Status uint32
}

func (s *Server) session(nch ssh.NewChannel) {
	ch, reqs, err := nch.Accept()
	if err != nil {
		return
	}
	defer ch.Close()

	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil) //nolint:errcheck
			}
			continue
		}

		var msg execMsg
		if err := ssh.Unmarshal(req.Payload, &msg); err != nil || hasPrefix(msg.Command, "deny") {
			req.Reply(false, nil) //nolint:errcheck
			continue
		}
		s.mu.Lock()
		s.execs = append(s.execs, msg.Command)
		s.mu.Unlock()
		req.Reply(true, nil) //nolint:errcheck

		status := Run(msg.Command, ch, ch.Stderr())
		ch.CloseWrite() //nolint:errcheck
		ch.SendRequest("exit-status", false, ssh.Marshal(exitStatusMsg{uint32(status)})) //nolint:errcheck
		return
	}
}

// ── direct-tcpip channels ────────────────────────────────────────────

type directTCPIPMsg struct {
	Host     string
	Port     uint32
	OrigHost string
	OrigPort uint32
}

func (s *Server) directTCPIP(nch ssh.NewChannel) {
	var msg directTCPIPMsg
	if err := ssh.Unmarshal(nch.ExtraData(), &msg); err != nil {
		nch.Reject(ssh.ConnectionFailed, "bad direct-tcpip payload") //nolint:errcheck
		return
	}
	target, err := net.Dial("tcp", net.JoinHostPort(msg.Host, fmt.Sprint(msg.Port)))
	if err != nil {
		nch.Reject(ssh.ConnectionFailed, err.Error()) //nolint:errcheck
		return
	}
	defer target.Close()

	ch, reqs, err := nch.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(reqs)

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(target, ch) //nolint:errcheck
		target.(*net.TCPConn).CloseWrite() //nolint:errcheck
		done <- struct{}{}
	}()
	go func() {
		io.Copy(ch, target) //nolint:errcheck
		ch.CloseWrite() //nolint:errcheck
		done <- struct{}{}
	}()
	<-done
	<-done
}
