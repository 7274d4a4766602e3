// Package security implements the gate every operation passes before any
// side effect: risk acceptance, path safety, permission and command bounds.
package security

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failures. All are rejected before any filesystem or network call.
var (
	ErrPermissionDenied  = errors.New("risk acceptance required: set I_ACCEPT_RISKS=true to enable mutating operations")
	ErrPathValidation    = errors.New("path validation failed")
	ErrPermissionInvalid = errors.New("permission validation failed")
	ErrCommandInvalid    = errors.New("command validation failed")
	ErrTimeoutRange      = errors.New("timeout out of range")
)

// MaxPathLength bounds remote path length after normalization.
const MaxPathLength = 4096

// Config holds the limits the gate enforces.
type Config struct {
	RisksAccepted bool
	MaxCommandLen int
	MaxTimeout    int
}

// Gate validates inputs against the configured security policy.
// All methods are pure; the gate performs no I/O.
type Gate struct {
	config Config
}

// NewGate creates a gate with the given policy.
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// CheckRiskAccepted fails unless the operator explicitly accepted the risk
// of remote execution. Called by every mutating operation before any side
// effect.
func (g *Gate) CheckRiskAccepted() error {
	if !g.config.RisksAccepted {
		return ErrPermissionDenied
	}
	return nil
}

// ValidatePath normalizes a remote path and rejects empty, overlong, and
// parent-traversal paths.
func (g *Gate) ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrPathValidation)
	}
	if len(p) > MaxPathLength {
		return fmt.Errorf("%w: path exceeds %d characters", ErrPathValidation, MaxPathLength)
	}
	// Remote hosts are Unix; normalize with slash semantics regardless of
	// the platform the server runs on. Segments are checked before Clean,
	// which would otherwise collapse interior traversal.
	normalized := strings.ReplaceAll(p, "\\", "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: path cannot contain '..' (traversal not allowed)", ErrPathValidation)
		}
	}
	return nil
}

// ValidatePermissions accepts a decimal literal whose digits are read as
// octal file-mode digits (644 means rw-r--r--). Values outside 0..777
// digit-wise are rejected.
func (g *Gate) ValidatePermissions(value int) error {
	if value < 0 || value > 777 {
		return fmt.Errorf("%w: invalid permission value %d, expected octal digits like 644 or 755", ErrPermissionInvalid, value)
	}
	for v := value; v > 0; v /= 10 {
		if v%10 > 7 {
			return fmt.Errorf("%w: invalid octal permission value %d, each digit must be 0-7", ErrPermissionInvalid, value)
		}
	}
	return nil
}

// ValidateCommand bounds the command string before it reaches the session.
func (g *Gate) ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: command cannot be empty", ErrCommandInvalid)
	}
	if g.config.MaxCommandLen > 0 && len(command) > g.config.MaxCommandLen {
		return fmt.Errorf("%w: command length %d exceeds maximum %d", ErrCommandInvalid, len(command), g.config.MaxCommandLen)
	}
	return nil
}

// ValidateTimeout bounds a caller-supplied timeout in seconds.
func (g *Gate) ValidateTimeout(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrTimeoutRange)
	}
	if g.config.MaxTimeout > 0 && seconds > g.config.MaxTimeout {
		return fmt.Errorf("%w: timeout %ds exceeds maximum %ds", ErrTimeoutRange, seconds, g.config.MaxTimeout)
	}
	return nil
}

// FileMode converts a validated decimal-as-octal permission value to a
// numeric Unix mode, e.g. 644 -> 0o644.
func FileMode(value int) uint32 {
	var mode uint32
	shift := uint(0)
	for v := value; v > 0; v /= 10 {
		mode |= uint32(v%10) << shift
		shift += 3
	}
	return mode
}
