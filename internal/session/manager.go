// Package session owns the single authenticated SSH connection to the
// managed host and executes commands over it with bounded time and length.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"remote-exec-mcp/internal/config"
	"remote-exec-mcp/internal/security"
)

// Failure modes surfaced to callers. A connection error gets exactly one
// silent reconnect-and-retry before it is surfaced.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrConnection     = errors.New("connection failed")
	ErrHostKey        = errors.New("host key verification failed")
)

// timedOutExitCode is the exit-code sentinel reported when a command is
// forcibly terminated by its timeout.
const timedOutExitCode = -1

// CommandResult is the immutable outcome of one exec call.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Manager owns the one live connection. All command execution serializes on
// it: one command in flight at a time, concurrent callers block in arrival
// order. The connection is created lazily on first use and recreated after a
// detected failure.
type Manager struct {
	host config.Host
	gate *security.Gate
	log  *slog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewManager creates a manager for the configured host. No connection is
// made until the first use.
func NewManager(host config.Host, gate *security.Gate, log *slog.Logger) *Manager {
	return &Manager{host: host, gate: gate, log: log}
}

// Exec runs a command on the remote host with the given timeout in seconds.
// Input bounds are rejected before any connection is attempted. A timeout is
// not an error: the in-flight command is killed and the partial output is
// returned with TimedOut set.
func (m *Manager) Exec(ctx context.Context, command string, timeoutSeconds int) (*CommandResult, error) {
	if err := m.gate.ValidateCommand(command); err != nil {
		return nil, err
	}
	if err := m.gate.ValidateTimeout(timeoutSeconds); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.execLocked(ctx, command, timeoutSeconds)
	if err != nil && errors.Is(err, ErrConnection) {
		// One automatic reconnect-and-retry of the same command. A second
		// failure is surfaced.
		m.log.Warn("connection lost, retrying once", "error", err)
		m.teardownLocked()
		result, err = m.execLocked(ctx, command, timeoutSeconds)
	}
	return result, err
}

func (m *Manager) execLocked(ctx context.Context, command string, timeoutSeconds int) (*CommandResult, error) {
	client, err := m.connectionLocked()
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open channel: %v", ErrConnection, err)
	}
	defer sess.Close()

	var stdout, stderr syncBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	timeout := time.Duration(timeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := sess.Start(command); err != nil {
		return nil, fmt.Errorf("%w: failed to start command: %v", ErrConnection, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- sess.Wait() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		// Interrupt the remote side and unblock immediately with whatever
		// partial output was captured.
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		<-errCh
		m.log.Warn("command timed out", "timeout", timeout)
		return &CommandResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: timedOutExitCode,
			Duration: time.Since(start),
			TimedOut: true,
		}, nil
	}

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		// Not a remote exit status: the channel or transport broke.
		m.teardownLocked()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return result, nil
}

// Connection returns the live client, dialing if needed. Used by the file
// layer, which drives its own SSH channels over the same connection.
func (m *Manager) Connection() (*ssh.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionLocked()
}

func (m *Manager) connectionLocked() (*ssh.Client, error) {
	if m.client != nil {
		return m.client, nil
	}

	cfg, err := m.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(m.host.Addr, strconv.Itoa(m.host.Port))
	m.log.Info("establishing SSH connection", "addr", addr, "user", m.host.Username)

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, classifyDialError(err)
	}
	m.client = client
	return client, nil
}

func (m *Manager) clientConfig() (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:    m.host.Username,
		Timeout: 30 * time.Second,
	}

	switch {
	case m.host.KeyPath != "":
		signer, err := m.loadPrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case m.host.Password != "":
		cfg.Auth = []ssh.AuthMethod{ssh.Password(m.host.Password)}
	default:
		return nil, fmt.Errorf("%w: no authentication method configured", ErrAuthentication)
	}

	if m.host.StrictHostKey {
		callback, err := knownhosts.New(m.host.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot load known_hosts %s: %v", ErrHostKey, m.host.KnownHostsFile, err)
		}
		cfg.HostKeyCallback = callback
	} else {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return cfg, nil
}

// loadPrivateKey parses the configured key. ParsePrivateKey handles RSA,
// Ed25519 and ECDSA material; passphrase-protected keys need the configured
// passphrase.
func (m *Manager) loadPrivateKey() (ssh.Signer, error) {
	raw, err := os.ReadFile(m.host.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read private key %s: %v", ErrAuthentication, m.host.KeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(raw)
	if err == nil {
		return signer, nil
	}

	var passErr *ssh.PassphraseMissingError
	if errors.As(err, &passErr) {
		if m.host.KeyPassphrase == "" {
			return nil, fmt.Errorf("%w: key %s is passphrase-protected, set SSH_KEY_PASSPHRASE", ErrAuthentication, m.host.KeyPath)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(m.host.KeyPassphrase))
		if err != nil {
			return nil, fmt.Errorf("%w: wrong passphrase for key %s: %v", ErrAuthentication, m.host.KeyPath, err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("%w: unable to parse private key %s (supported: RSA, Ed25519, ECDSA): %v", ErrAuthentication, m.host.KeyPath, err)
}

func classifyDialError(err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return fmt.Errorf("%w: %v", ErrHostKey, err)
	}
	// x/crypto wraps auth failures in a generic error string; detect them so
	// callers can distinguish a bad credential from an unreachable host.
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func (m *Manager) teardownLocked() {
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
}

// Close releases the underlying connection handle. Safe to call on every
// exit path, including when no connection was ever made.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	m.log.Info("closing SSH connection")
	err := m.client.Close()
	m.client = nil
	return err
}

// syncBuffer guards concurrent writes from the SSH stdout/stderr pumps
// against reads performed after a timeout kill.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
