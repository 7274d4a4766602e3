// Package providers holds the optional capability providers and the static
// table that declares them to the registry. Providers are selected by
// configuration at startup; absence of a provider is a configuration fact,
// not an error path.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"remote-exec-mcp/internal/security"
	"remote-exec-mcp/internal/session"
)

// Container failures surfaced to callers.
var (
	ErrContainerFileExists = errors.New("file already exists in container, set overwrite=true to replace it")
	ErrContainerCommand    = errors.New("container command failed")
)

// Runner executes commands on the managed host.
type Runner interface {
	Exec(ctx context.Context, command string, timeoutSeconds int) (*session.CommandResult, error)
}

// HostFS is the slice of host file I/O the container file tools stage
// through. Container transfers go local -> host temp -> pct push (and the
// reverse), so the host is always the intermediate hop.
type HostFS interface {
	WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)
	Remove(ctx context.Context, remotePath string) error
}

// ActionResult is the response shape of a container lifecycle action.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	CTID    int    `json:"ctid"`
}

// ContainerService translates container-scoped requests into host-level
// invocations of the pct CLI, executed over the one session. Every
// operation is remote execution on the host, so all of them pass the risk
// gate first.
type ContainerService struct {
	runner Runner
	files  HostFS
	gate   *security.Gate
}

// NewContainerService creates a container service over the shared session.
func NewContainerService(runner Runner, files HostFS, gate *security.Gate) *ContainerService {
	return &ContainerService{runner: runner, files: files, gate: gate}
}

// Exec runs a command inside an LXC container via pct exec on the host.
func (c *ContainerService) Exec(ctx context.Context, ctid int, command string, timeoutSeconds int) (*session.CommandResult, error) {
	if err := c.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	if err := validateCTID(ctid); err != nil {
		return nil, err
	}
	if err := c.gate.ValidateCommand(command); err != nil {
		return nil, err
	}

	hostCmd := fmt.Sprintf("pct exec %d -- sh -c %s", ctid, shQuote(command))
	return c.runner.Exec(ctx, hostCmd, timeoutSeconds)
}

// List enumerates the containers on the host.
func (c *ContainerService) List(ctx context.Context, timeoutSeconds int) (*session.CommandResult, error) {
	if err := c.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	return c.runner.Exec(ctx, "pct list", timeoutSeconds)
}

// Status reports the state of one container.
func (c *ContainerService) Status(ctx context.Context, ctid int, timeoutSeconds int) (*session.CommandResult, error) {
	if err := c.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	if err := validateCTID(ctid); err != nil {
		return nil, err
	}
	return c.runner.Exec(ctx, fmt.Sprintf("pct status %d", ctid), timeoutSeconds)
}

// Start starts a stopped container. Starting a running container is a no-op
// on the pct side.
func (c *ContainerService) Start(ctx context.Context, ctid int, timeoutSeconds int) (*ActionResult, error) {
	return c.lifecycle(ctx, "start", ctid, timeoutSeconds)
}

// Stop gracefully stops a running container.
func (c *ContainerService) Stop(ctx context.Context, ctid int, timeoutSeconds int) (*ActionResult, error) {
	return c.lifecycle(ctx, "stop", ctid, timeoutSeconds)
}

func (c *ContainerService) lifecycle(ctx context.Context, action string, ctid int, timeoutSeconds int) (*ActionResult, error) {
	if err := c.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	if err := validateCTID(ctid); err != nil {
		return nil, err
	}

	res, err := c.runner.Exec(ctx, fmt.Sprintf("pct %s %d", action, ctid), timeoutSeconds)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: pct %s %d: %s", ErrContainerCommand, action, ctid, strings.TrimSpace(res.Stderr))
	}
	return &ActionResult{
		Success: true,
		Message: fmt.Sprintf("Container %d %s succeeded", ctid, action),
		CTID:    ctid,
	}, nil
}

// UploadFile places data at containerPath inside the container: the bytes
// are staged at a temporary host path, pushed with pct push, and the staging
// file is removed. Permissions (decimal-as-octal digits, 0 = container
// default) are applied with chmod inside the container after the push.
func (c *ContainerService) UploadFile(ctx context.Context, ctid int, containerPath string, data []byte, permissions int, overwrite bool, timeoutSeconds int) error {
	if err := c.gate.CheckRiskAccepted(); err != nil {
		return err
	}
	if err := validateCTID(ctid); err != nil {
		return err
	}
	if err := c.gate.ValidatePath(containerPath); err != nil {
		return err
	}
	if permissions != 0 {
		if err := c.gate.ValidatePermissions(permissions); err != nil {
			return err
		}
	}

	if !overwrite {
		res, err := c.runner.Exec(ctx, fmt.Sprintf("pct exec %d -- test -f %s", ctid, shQuote(containerPath)), timeoutSeconds)
		if err != nil {
			return err
		}
		if res.ExitCode == 0 {
			return fmt.Errorf("%w: %s", ErrContainerFileExists, containerPath)
		}
	}

	tempPath := stagingPath()
	if err := c.files.WriteFile(ctx, tempPath, data, 0o600); err != nil {
		return err
	}

	res, err := c.runner.Exec(ctx, fmt.Sprintf("pct push %d %s %s", ctid, shQuote(tempPath), shQuote(containerPath)), timeoutSeconds)
	if err != nil || res.ExitCode != 0 {
		c.cleanupStaging(ctx, tempPath)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: pct push to container %d: %s", ErrContainerCommand, ctid, strings.TrimSpace(res.Stderr))
	}

	if permissions != 0 {
		// chmod reads the digits as octal, matching the validated value.
		res, err := c.runner.Exec(ctx, fmt.Sprintf("pct exec %d -- chmod %d %s", ctid, permissions, shQuote(containerPath)), timeoutSeconds)
		if err != nil || res.ExitCode != 0 {
			c.cleanupStaging(ctx, tempPath)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: chmod in container %d: %s", ErrContainerCommand, ctid, strings.TrimSpace(res.Stderr))
		}
	}

	c.cleanupStaging(ctx, tempPath)
	return nil
}

// DownloadFile reads a file from inside the container: pct pull stages it at
// a temporary host path, the bytes are fetched from the host, and the
// staging file is removed.
func (c *ContainerService) DownloadFile(ctx context.Context, ctid int, containerPath string, timeoutSeconds int) ([]byte, error) {
	if err := c.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	if err := validateCTID(ctid); err != nil {
		return nil, err
	}
	if err := c.gate.ValidatePath(containerPath); err != nil {
		return nil, err
	}

	tempPath := stagingPath()
	res, err := c.runner.Exec(ctx, fmt.Sprintf("pct pull %d %s %s", ctid, shQuote(containerPath), shQuote(tempPath)), timeoutSeconds)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		c.cleanupStaging(ctx, tempPath)
		return nil, fmt.Errorf("%w: pct pull from container %d: %s", ErrContainerCommand, ctid, strings.TrimSpace(res.Stderr))
	}

	data, err := c.files.ReadFile(ctx, tempPath)
	c.cleanupStaging(ctx, tempPath)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *ContainerService) cleanupStaging(ctx context.Context, tempPath string) {
	// Best effort; a leftover staging file under /tmp is harmless.
	_ = c.files.Remove(ctx, tempPath)
}

func stagingPath() string {
	return "/tmp/.mcp-stage-" + uuid.NewString()[:8]
}

func validateCTID(ctid int) error {
	if ctid < 100 || ctid > 999999999 {
		return fmt.Errorf("invalid container id %d: must be in 100..999999999", ctid)
	}
	return nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
