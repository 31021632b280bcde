package cmd

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"sshexec/config"
	"sshexec/internal/errors"
	"sshexec/internal/sshauth"
	"sshexec/session"
	"sshexec/util"
)

// readSecret prompts on stderr and reads a line from the terminal
// without echo.  Tests replace it.
var readSecret = func(prompt string) (string, error) { //nolint:gochecknoglobals
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for %q: stdin is not a terminal", prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(b), nil
}

// passphraseFor returns given, or prompts when the key at path is
// encrypted and nothing was given.
func passphraseFor(path, given string) (string, error) {
	if given != "" || !sshauth.IsEncrypted(path) {
		return given, nil
	}
	return readSecret(fmt.Sprintf("Enter passphrase for %s: ", path))
}

// authenticate tries the configured method.  A password (given or
// prompted) is used alone; otherwise the key from -i, or each default
// key in turn.  A rejected key never falls back to a password.
func authenticate(s *session.Session, cfg *config.Config, logger *util.Logger) error {
	if cfg.Password != "" || cfg.PromptPassword {
		pw := cfg.Password
		if pw == "" {
			var err error
			if pw, err = readSecret(fmt.Sprintf("%s@%s's password: ", cfg.User, cfg.Host)); err != nil {
				return err
			}
		}
		return s.AuthByPassword(cfg.User, pw)
	}

	keys := []string{cfg.KeyPath}
	if cfg.KeyPath == "" {
		keys = sshauth.DefaultKeyFiles()
	}

	var lastErr error
	for _, key := range keys {
		pp, err := passphraseFor(key, cfg.Passphrase)
		if err != nil {
			return err
		}
		pub := ""
		if key == cfg.KeyPath {
			pub = cfg.PublicKeyPath
		}
		if lastErr = s.AuthByKeypair(cfg.User, pub, key, pp); lastErr == nil {
			return nil
		}
		logger.Verbose("key %s: %v", key, lastErr)

		var ae *errors.AuthenticationError
		if !errors.As(lastErr, &ae) {
			return lastErr
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("no authentication method available\n  hint: use -i <key> or -P")
}
