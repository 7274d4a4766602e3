package security

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckRiskAccepted(t *testing.T) {
	// Risks not accepted: every mutating operation must be refused
	gate := NewGate(Config{})

	err := gate.CheckRiskAccepted()
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got: %v", err)
	}

	// Risks accepted
	gate = NewGate(Config{RisksAccepted: true})

	if err := gate.CheckRiskAccepted(); err != nil {
		t.Errorf("Expected risk check to pass, got error: %v", err)
	}
}

func TestValidatePath(t *testing.T) {
	gate := NewGate(Config{})

	// Valid paths
	for _, p := range []string{
		"/tmp/file.txt",
		"/var/log/app/output.log",
		"relative/path.txt",
		"/a",
	} {
		if err := gate.ValidatePath(p); err != nil {
			t.Errorf("Expected path %q to be valid, got error: %v", p, err)
		}
	}

	// Empty and whitespace-only paths
	for _, p := range []string{"", "   "} {
		err := gate.ValidatePath(p)
		if !errors.Is(err, ErrPathValidation) {
			t.Errorf("Expected empty path %q to be rejected, got: %v", p, err)
		}
	}

	// Traversal in any segment
	for _, p := range []string{
		"..",
		"../etc/passwd",
		"/tmp/../etc/passwd",
		"/tmp/dir/..",
		"\\tmp\\..\\etc\\passwd",
	} {
		err := gate.ValidatePath(p)
		if !errors.Is(err, ErrPathValidation) {
			t.Errorf("Expected traversal path %q to be rejected, got: %v", p, err)
		}
	}

	// A filename merely containing dots is not traversal
	if err := gate.ValidatePath("/tmp/archive..tar"); err != nil {
		t.Errorf("Expected dotted filename to be valid, got error: %v", err)
	}

	// Overlong path
	long := "/" + strings.Repeat("a", MaxPathLength)
	err := gate.ValidatePath(long)
	if !errors.Is(err, ErrPathValidation) {
		t.Errorf("Expected overlong path to be rejected, got: %v", err)
	}
}

func TestValidatePermissions(t *testing.T) {
	gate := NewGate(Config{})

	// Common modes
	for _, v := range []int{0, 600, 644, 700, 755, 777} {
		if err := gate.ValidatePermissions(v); err != nil {
			t.Errorf("Expected permissions %d to be valid, got error: %v", v, err)
		}
	}

	// Out of range or with non-octal digits
	for _, v := range []int{-1, 778, 809, 648, 1000, 999} {
		err := gate.ValidatePermissions(v)
		if !errors.Is(err, ErrPermissionInvalid) {
			t.Errorf("Expected permissions %d to be rejected, got: %v", v, err)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	gate := NewGate(Config{MaxCommandLen: 20})

	if err := gate.ValidateCommand("ls -la /tmp"); err != nil {
		t.Errorf("Expected command to be valid, got error: %v", err)
	}

	// Empty command
	err := gate.ValidateCommand("  ")
	if !errors.Is(err, ErrCommandInvalid) {
		t.Errorf("Expected empty command to be rejected, got: %v", err)
	}

	// Command exceeding the configured length
	err = gate.ValidateCommand(strings.Repeat("x", 21))
	if !errors.Is(err, ErrCommandInvalid) {
		t.Errorf("Expected overlong command to be rejected, got: %v", err)
	}

	// At the limit exactly
	if err := gate.ValidateCommand(strings.Repeat("x", 20)); err != nil {
		t.Errorf("Expected command at limit to be valid, got error: %v", err)
	}
}

func TestValidateTimeout(t *testing.T) {
	gate := NewGate(Config{MaxTimeout: 300})

	for _, s := range []int{1, 30, 300} {
		if err := gate.ValidateTimeout(s); err != nil {
			t.Errorf("Expected timeout %d to be valid, got error: %v", s, err)
		}
	}

	for _, s := range []int{0, -5, 301} {
		err := gate.ValidateTimeout(s)
		if !errors.Is(err, ErrTimeoutRange) {
			t.Errorf("Expected timeout %d to be rejected, got: %v", s, err)
		}
	}
}

func TestFileMode(t *testing.T) {
	cases := map[int]uint32{
		0:   0,
		644: 0o644,
		755: 0o755,
		600: 0o600,
		777: 0o777,
		7:   0o007,
		70:  0o070,
	}
	for value, want := range cases {
		if got := FileMode(value); got != want {
			t.Errorf("FileMode(%d) = %o, want %o", value, got, want)
		}
	}
}
