package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"remote-exec-mcp/internal/config"
	"remote-exec-mcp/internal/security"
)

func testManager(host config.Host) *Manager {
	gate := security.NewGate(security.Config{RisksAccepted: true, MaxCommandLen: 100, MaxTimeout: 300})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(host, gate, log)
}

func TestExecRejectsInvalidInputBeforeConnecting(t *testing.T) {
	// No reachable host is configured; validation failures must surface
	// before any dial is attempted
	m := testManager(config.Host{Addr: "host.invalid", Port: 22, Username: "root", Password: "x"})

	_, err := m.Exec(context.Background(), "", 30)
	if !errors.Is(err, security.ErrCommandInvalid) {
		t.Errorf("Expected ErrCommandInvalid for empty command, got: %v", err)
	}

	_, err = m.Exec(context.Background(), strings.Repeat("x", 101), 30)
	if !errors.Is(err, security.ErrCommandInvalid) {
		t.Errorf("Expected ErrCommandInvalid for overlong command, got: %v", err)
	}

	_, err = m.Exec(context.Background(), "echo hi", 0)
	if !errors.Is(err, security.ErrTimeoutRange) {
		t.Errorf("Expected ErrTimeoutRange for zero timeout, got: %v", err)
	}

	_, err = m.Exec(context.Background(), "echo hi", 301)
	if !errors.Is(err, security.ErrTimeoutRange) {
		t.Errorf("Expected ErrTimeoutRange for excessive timeout, got: %v", err)
	}
}

func TestClientConfigAuthSelection(t *testing.T) {
	// No credentials at all
	m := testManager(config.Host{Addr: "h", Port: 22, Username: "root"})
	_, err := m.clientConfig()
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication with no credentials, got: %v", err)
	}

	// Password auth
	m = testManager(config.Host{Addr: "h", Port: 22, Username: "root", Password: "secret"})
	cfg, err := m.clientConfig()
	if err != nil {
		t.Fatalf("Unexpected error with password auth: %v", err)
	}
	if len(cfg.Auth) != 1 {
		t.Errorf("Expected one auth method, got %d", len(cfg.Auth))
	}
	if cfg.User != "root" {
		t.Errorf("Expected user root, got %q", cfg.User)
	}

	// Key auth takes precedence over password when both are set
	keyPath := writeTestKey(t)
	m = testManager(config.Host{Addr: "h", Port: 22, Username: "root", Password: "secret", KeyPath: keyPath})
	cfg, err = m.clientConfig()
	if err != nil {
		t.Fatalf("Unexpected error with key auth: %v", err)
	}
	if len(cfg.Auth) != 1 {
		t.Errorf("Expected one auth method, got %d", len(cfg.Auth))
	}
}

func TestClientConfigHostKeyPolicy(t *testing.T) {
	// Strict checking with an unreadable known_hosts file fails fast
	m := testManager(config.Host{
		Addr: "h", Port: 22, Username: "root", Password: "x",
		StrictHostKey:  true,
		KnownHostsFile: "/nonexistent/known_hosts",
	})
	_, err := m.clientConfig()
	if !errors.Is(err, ErrHostKey) {
		t.Errorf("Expected ErrHostKey for missing known_hosts, got: %v", err)
	}

	// Disabled checking accepts any host key
	m = testManager(config.Host{Addr: "h", Port: 22, Username: "root", Password: "x"})
	cfg, err := m.clientConfig()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.HostKeyCallback == nil {
		t.Error("Expected a host key callback to be set")
	}
}

func TestLoadPrivateKey(t *testing.T) {
	// Valid unencrypted key
	keyPath := writeTestKey(t)
	m := testManager(config.Host{KeyPath: keyPath})
	if _, err := m.loadPrivateKey(); err != nil {
		t.Errorf("Expected key to parse, got error: %v", err)
	}

	// Missing file
	m = testManager(config.Host{KeyPath: "/nonexistent/id_ed25519"})
	_, err := m.loadPrivateKey()
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication for missing key file, got: %v", err)
	}

	// Garbage key material
	badPath := filepath.Join(t.TempDir(), "bad_key")
	if err := os.WriteFile(badPath, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	m = testManager(config.Host{KeyPath: badPath})
	_, err = m.loadPrivateKey()
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication for unparseable key, got: %v", err)
	}
}

func TestClassifyDialError(t *testing.T) {
	err := classifyDialError(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"))
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication, got: %v", err)
	}

	err = classifyDialError(&knownhosts.KeyError{})
	if !errors.Is(err, ErrHostKey) {
		t.Errorf("Expected ErrHostKey, got: %v", err)
	}

	err = classifyDialError(errors.New("dial tcp: connection refused"))
	if !errors.Is(err, ErrConnection) {
		t.Errorf("Expected ErrConnection, got: %v", err)
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	m := testManager(config.Host{Addr: "h", Port: 22, Username: "root", Password: "x"})

	// Close is safe before any connection was made, and repeatedly
	if err := m.Close(); err != nil {
		t.Errorf("Expected nil closing idle manager, got: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Expected nil on repeated close, got: %v", err)
	}
}

func TestSyncBufferConcurrentWrites(t *testing.T) {
	var buf syncBuffer
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := buf.Write([]byte("ab")); err != nil {
					t.Errorf("Write failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(buf.String()) != 10*100*2 {
		t.Errorf("Expected %d bytes, got %d", 10*100*2, len(buf.String()))
	}
}

// writeTestKey generates an unencrypted Ed25519 private key on disk.
func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
