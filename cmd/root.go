// Package cmd wires up the CLI flags and dispatches to the session core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"sshexec/config"
	"sshexec/internal/errors"
	"sshexec/internal/metrics"
	"sshexec/internal/transport"
	"sshexec/session"
	"sshexec/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X sshexec/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// ExitError carries the remote exit status the process should exit
// with.
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Status)
}

// Execute parses args and runs every command on its own channel.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := config.New()

	// ── config file and environment ──────────────────────────────
	path, explicit := configPath(args)
	if path != "" {
		if err := config.LoadFile(cfg, path, !explicit); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("sshexec", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── target ───────────────────────────────────────────────────
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Remote port")
	fs.StringVarP(&cfg.User, "user", "l", cfg.User, "Remote user (overrides user@)")

	// ── authentication ───────────────────────────────────────────
	fs.StringVarP(&cfg.KeyPath, "identity", "i", cfg.KeyPath, "Private key file")
	fs.StringVar(&cfg.PublicKeyPath, "pubkey", cfg.PublicKeyPath, "Public key file (default: derived from -i)")
	fs.BoolVarP(&cfg.PromptPassword, "password", "P", cfg.PromptPassword, "Prompt for a password")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify host keys against known_hosts")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── jump host ────────────────────────────────────────────────
	fs.StringVarP(&cfg.JumpSpec, "jump", "J", cfg.JumpSpec, "Connect through [user@]host[:port]")
	fs.StringVar(&cfg.JumpKeyPath, "jump-identity", cfg.JumpKeyPath, "Private key for the jump host")
	fs.BoolVar(&cfg.JumpPassword, "jump-password", false, "Prompt for the jump host password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use the SSH agent for the jump host")

	// ── engine ───────────────────────────────────────────────────
	var dialSec, waitSec int
	fs.IntVarP(&dialSec, "timeout", "w", 0, "Connect timeout in seconds")
	fs.IntVar(&waitSec, "wait-timeout", 0, "Readiness wait timeout in seconds")
	fs.IntVar(&cfg.ReadChunk, "read-chunk", cfg.ReadChunk, "Bytes requested per read")
	fs.IntVar(&cfg.QueueDepth, "queue-depth", cfg.QueueDepth, "Chunks buffered per stream")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	var quiet bool
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&cfg.Timestamps, "timestamps", cfg.Timestamps, "Timestamp log lines")

	var showVersion, showHelp, dryRun bool
	fs.String("config", "", "Config file (default: "+config.DefaultConfigFile+" under the user config dir)")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }
	fs.SetInterspersed(false)

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "sshexec %s\n", version)
		return nil
	}

	if dialSec > 0 {
		cfg.DialTimeout = time.Duration(dialSec) * time.Second
	}
	if waitSec > 0 {
		cfg.WaitTimeout = time.Duration(waitSec) * time.Second
	}
	switch {
	case quiet:
		cfg.Verbose = int(util.LogQuiet)
	case verbose > 0:
		cfg.Verbose = int(util.LogNormal) + verbose
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args(), fs.Changed("user"), fs.Changed("port")); err != nil {
		return err
	}
	if err := cfg.ApplyJumpSpec(); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(stdout, "would run %d command(s) on %s@%s\n",
			len(cfg.Commands), cfg.User, util.FormatAddr(cfg.Host, cfg.Port))
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(stderr)
	if cfg.Timestamps {
		logger.SetTimestamps(true)
	}
	m := metrics.New()
	if cfg.Verbose >= int(util.LogDebug) {
		defer func() { fmt.Fprintln(stderr, m.JSON()) }()
	}

	dialer, err := buildDialer(cfg, logger)
	if err != nil {
		return err
	}
	defer dialer.Close()

	opts := []session.Option{
		session.WithDialer(dialer),
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithWaitTimeout(cfg.WaitTimeout),
		session.WithReadChunk(cfg.ReadChunk),
		session.WithQueueDepth(cfg.QueueDepth),
	}
	if cfg.StrictHostKey {
		opts = append(opts, session.WithHostKeyCheck(cfg.KnownHostsPath))
	}

	s, err := session.Connect(ctx, cfg.Host, cfg.Port, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := authenticate(s, cfg, logger); err != nil {
		return err
	}
	return runCommands(ctx, s, cfg.Commands, stdout, stderr)
}

// runCommands executes every command on its own channel and drives
// them together through the event loop.
func runCommands(ctx context.Context, s *session.Session, commands []string, stdout, stderr io.Writer) error {
	channels := make([]*session.Channel, 0, len(commands))
	for i, command := range commands {
		ch, err := s.OpenChannel()
		if err != nil {
			return err
		}
		out, errOut := stdout, stderr
		if len(commands) > 1 {
			prefix := fmt.Sprintf("[%d] ", i+1)
			out = newPrefixWriter(stdout, prefix)
			errOut = newPrefixWriter(stderr, prefix)
		}
		ch.OnData(func(p []byte) { out.Write(p) })          //nolint:errcheck
		ch.OnExtendedData(func(p []byte) { errOut.Write(p) }) //nolint:errcheck

		if err := ch.Execute(command); err != nil {
			return fmt.Errorf("exec %q: %w", command, err)
		}
		channels = append(channels, ch)
	}

	err := s.Loop(func() bool {
		return ctx.Err() == nil && len(s.Channels()) > 0
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	status := 0
	for _, ch := range channels {
		if st, ok := ch.ExitStatus(); ok && st != 0 {
			status = st
		}
	}
	if status != 0 {
		return &ExitError{Status: status}
	}
	return nil
}

func buildDialer(cfg *config.Config, logger *util.Logger) (transport.Dialer, error) {
	if !cfg.JumpEnabled {
		return &transport.TCPDialer{Timeout: cfg.DialTimeout}, nil
	}
	jc := transport.JumpConfig{
		User:          cfg.JumpUser,
		Host:          cfg.JumpHost,
		Port:          cfg.JumpPort,
		KeyPath:       cfg.JumpKeyPath,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		Timeout:       cfg.DialTimeout,
	}
	if cfg.JumpPassword {
		pw, err := readSecret(fmt.Sprintf("%s@%s password: ", jc.User, jc.Host))
		if err != nil {
			return nil, err
		}
		jc.Password = pw
	}
	if jc.KeyPath != "" {
		pp, err := passphraseFor(jc.KeyPath, "")
		if err != nil {
			return nil, err
		}
		jc.Passphrase = pp
	}
	return transport.NewJumpDialer(jc, logger), nil
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds the config file before flags are parsed, so file
// values can serve as flag defaults.  explicit reports whether the user
// named the file.
func configPath(args []string) (path string, explicit bool) {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v, true
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	if v := os.Getenv("SSHEXEC_CONFIG"); v != "" {
		return v, true
	}
	p, err := config.DefaultConfigPath()
	if err != nil {
		return "", false
	}
	return p, false
}

func parsePositional(cfg *config.Config, remaining []string, userFlag, portFlag bool) error {
	if len(remaining) < 1 {
		return fmt.Errorf("target required: [user@]host[:port] (use --help for usage)")
	}
	user, host, port, err := config.ParseTarget(remaining[0])
	if err != nil {
		return err
	}
	cfg.Host = host
	if user != "" && !userFlag {
		cfg.User = user
	}
	if strings.Contains(remaining[0], ":") && !portFlag {
		cfg.Port = port
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}

	if len(remaining) < 2 {
		return fmt.Errorf("command required")
	}
	cfg.Commands = append([]string(nil), remaining[1:]...)
	return nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `sshexec – remote command runner v%s

Runs each command on its own SSH channel over a single connection.

Usage:
  sshexec [options] [user@]host[:port] <command> [command...]

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  sshexec deploy@build.example.com uptime            Run one command
  sshexec -i ~/.ssh/ci build:2222 'make test' df     Two commands, key auth
  sshexec -J ops@bastion db-internal 'pg_isready'    Through a jump host
  sshexec -P root@10.0.0.5 'exit 3'; echo $?         Password prompt, exit status
`)
}

// ExitCode maps an Execute error onto a process exit code: the remote
// status for an *ExitError, 1 otherwise.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Status
	}
	return 1
}
