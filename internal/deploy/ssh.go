// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package deploy handles SSH/SFTP connections to managed hosts: fetching
// the live authorized_keys file and replacing it with planned content. The
// authentication ladder is key-based auth with the configured identity
// file, an SSH agent if one is running, and finally up to three password
// attempts mediated by the credential broker.
package deploy // import "github.com/toeirei/keywarden/internal/deploy"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/toeirei/keywarden/internal/credentials"
	"github.com/toeirei/keywarden/internal/model"
	"github.com/toeirei/keywarden/internal/state"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrAuthExhausted reports that key-based auth failed and all password
// attempts for one target were rejected. It is per-target and non-fatal to
// the run.
var ErrAuthExhausted = errors.New("authentication exhausted: key auth and all password attempts failed")

// maxPasswordAttempts bounds the interactive fallback per target.
const maxPasswordAttempts = 3

// remoteFS is the slice of the SFTP client surface the deployer uses.
// Tests substitute it via sshDial.
type remoteFS interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	Mkdir(path string) error
	Chmod(path string, mode os.FileMode) error
	Rename(oldname, newname string) error
	Remove(path string) error
	Close() error
}

// sftpFS adapts *sftp.Client to remoteFS.
type sftpFS struct{ c *sftp.Client }

func (f sftpFS) Open(p string) (io.ReadCloser, error)    { return f.c.Open(p) }
func (f sftpFS) Create(p string) (io.WriteCloser, error) { return f.c.Create(p) }
func (f sftpFS) Mkdir(p string) error                    { return f.c.Mkdir(p) }
func (f sftpFS) Chmod(p string, m os.FileMode) error     { return f.c.Chmod(p, m) }
func (f sftpFS) Rename(o, n string) error                { return f.c.Rename(o, n) }
func (f sftpFS) Remove(p string) error                   { return f.c.Remove(p) }
func (f sftpFS) Close() error                            { return f.c.Close() }

// sshDial establishes the SSH connection and opens an SFTP session on top
// of it. It is a variable so tests can run the full authentication ladder
// without a network.
var sshDial = func(network, addr string, cfg *ssh.ClientConfig) (io.Closer, remoteFS, error) {
	client, err := ssh.Dial(network, addr, cfg)
	if err != nil {
		return nil, nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return client, sftpFS{sftpClient}, nil
}

// ConnectionConfig carries the per-run transport settings. The identity
// file is a single private key path used uniformly for all hosts.
type ConnectionConfig struct {
	IdentityFile   string
	KnownHostsFile string
	Timeout        time.Duration
}

// DefaultConnectionConfig returns the settings used when nothing is
// configured: a 10 second connect timeout so one unreachable host cannot
// stall the whole fleet.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{Timeout: 10 * time.Second}
}

// Deployer wraps one authenticated connection to a single target.
type Deployer struct {
	conn io.Closer
	fs   remoteFS
}

// Connect authenticates to the target and returns a ready Deployer.
//
// Key-based auth with the configured identity file is tried first, then an
// SSH agent if one is reachable. On authentication failure the password
// fallback asks the broker for a secret: a cached one is used as-is, and a
// rejected secret triggers a fresh interactive prompt on the next attempt.
// After maxPasswordAttempts rejections the target fails with
// ErrAuthExhausted. Any non-authentication transport error propagates
// immediately with no retry.
func Connect(ctx context.Context, target model.Target, cfg ConnectionConfig, broker *credentials.Broker) (*Deployer, error) {
	hostKeyCallback, err := hostKeyCallbackFor(cfg)
	if err != nil {
		return nil, err
	}

	addr := target.Hostname
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	dial := func(auth ssh.AuthMethod) (*Deployer, error) {
		conn, rfs, err := sshDial("tcp", addr, &ssh.ClientConfig{
			User:            target.Account,
			Auth:            []ssh.AuthMethod{auth},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return &Deployer{conn: conn, fs: rfs}, nil
	}

	// 1. Identity file.
	if cfg.IdentityFile != "" {
		signer, err := loadSigner(cfg.IdentityFile)
		if err != nil {
			return nil, err
		}
		d, err := dial(ssh.PublicKeys(signer))
		if err == nil {
			return d, nil
		}
		if !isAuthError(err) {
			return nil, fmt.Errorf("connection to %s failed: %w", target, err)
		}
	}

	// 2. SSH agent, if one is running.
	if agentClient := sshAgentGetter(); agentClient != nil {
		d, err := dial(ssh.PublicKeysCallback(agentClient.Signers))
		if err == nil {
			return d, nil
		}
		if !isAuthError(err) {
			return nil, fmt.Errorf("connection to %s failed: %w", target, err)
		}
	}

	// 3. Password fallback through the broker.
	if broker == nil {
		return nil, fmt.Errorf("%s: %w", target, ErrAuthExhausted)
	}
	forceNew := false
	for attempt := 0; attempt < maxPasswordAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		secret, err := broker.Secret(ctx, target, forceNew)
		if err != nil {
			return nil, err
		}
		d, err := dial(ssh.Password(secret))
		if err == nil {
			return d, nil
		}
		if !isAuthError(err) {
			return nil, fmt.Errorf("connection to %s failed: %w", target, err)
		}
		// The secret was rejected; the next attempt prompts anew.
		forceNew = true
	}
	return nil, fmt.Errorf("%s: %w", target, ErrAuthExhausted)
}

// authorizedKeysPath is where every target keeps its managed file. The
// path is relative to the account home directory, which maps to
// /home/{account}/.ssh/authorized_keys and /root/.ssh/authorized_keys for
// root.
const authorizedKeysPath = ".ssh/authorized_keys"

// FetchAuthorizedKeys reads the remote authorized_keys file. A missing
// file is a normal state for a fresh account and yields empty content.
func (d *Deployer) FetchAuthorizedKeys() (string, error) {
	f, err := d.fs.Open(authorizedKeysPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open remote %s: %w", authorizedKeysPath, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read remote %s: %w", authorizedKeysPath, err)
	}
	return string(content), nil
}

// UploadAuthorizedKeys replaces the remote authorized_keys file wholesale
// with the given content. The write is pure SFTP for compatibility with
// restricted keys: upload to a temporary name inside .ssh, chmod, then an
// atomic rename. No partial in-place edits are attempted.
func (d *Deployer) UploadAuthorizedKeys(content string) error {
	sshDir := path.Dir(authorizedKeysPath)
	_ = d.fs.Mkdir(sshDir) // already existing is fine
	if err := d.fs.Chmod(sshDir, 0700); err != nil {
		return fmt.Errorf("failed to chmod %s directory: %w", sshDir, err)
	}

	tmpPath := path.Join(sshDir, fmt.Sprintf("authorized_keys.keywarden.%d", time.Now().UnixNano()))
	f, err := d.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		f.Close()
		_ = d.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file on remote: %w", err)
	}
	f.Close()

	if err := d.fs.Chmod(tmpPath, 0600); err != nil {
		_ = d.fs.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}

	if err := d.fs.Rename(tmpPath, authorizedKeysPath); err != nil {
		_ = d.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename authorized_keys into place: %w", err)
	}
	return nil
}

// Close closes the SFTP session and the underlying SSH connection.
func (d *Deployer) Close() {
	if d.fs != nil {
		d.fs.Close()
	}
	if d.conn != nil {
		d.conn.Close()
	}
}

// loadSigner parses the identity file, consulting the passphrase mailbox
// when the key is encrypted.
func loadSigner(identityFile string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(identityFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file %s: %w", identityFile, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		passphrase := state.PassphraseCache.Get()
		defer func() {
			for i := range passphrase {
				passphrase[i] = 0
			}
		}()
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("identity file %s is encrypted and no passphrase is available", identityFile)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt identity file %s: %w", identityFile, err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("failed to parse identity file %s: %w", identityFile, err)
}

// hostKeyCallbackFor builds the host key policy: a known_hosts file when
// one is configured, otherwise accept-any to match fleets that have no
// curated known_hosts yet.
func hostKeyCallbackFor(cfg ConnectionConfig) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}
	cb, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts file %s: %w", cfg.KnownHostsFile, err)
	}
	return cb, nil
}

// isAuthError reports whether an SSH dial failure was an authentication
// rejection rather than a transport problem. The ssh package does not
// expose a typed error for this, so classification is by message.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "Authentication failed")
}
