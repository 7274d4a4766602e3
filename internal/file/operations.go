// Package file performs file I/O on the managed host over the session's SSH
// connection, speaking the SCP protocol for byte transfer and plain commands
// for metadata. Destination writes are atomic: bytes land at a temporary
// path and are renamed into place.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"remote-exec-mcp/internal/session"
)

const opTimeoutSeconds = 10

// Operations handles remote file access for the transfer bridge and the
// direct transfer tools.
type Operations struct {
	sessions *session.Manager
}

// NewOperations creates a file operations handler bound to the session.
func NewOperations(sessions *session.Manager) *Operations {
	return &Operations{sessions: sessions}
}

// Exists reports whether a regular file exists at the remote path.
func (o *Operations) Exists(ctx context.Context, remotePath string) (bool, error) {
	res, err := o.sessions.Exec(ctx, "test -f "+shQuote(remotePath), opTimeoutSeconds)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// Size returns the byte size of a remote file.
func (o *Operations) Size(ctx context.Context, remotePath string) (int64, error) {
	res, err := o.sessions.Exec(ctx, "wc -c < "+shQuote(remotePath), opTimeoutSeconds)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("cannot stat %s: %s", remotePath, strings.TrimSpace(res.Stderr))
	}
	size, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected size output for %s: %q", remotePath, res.Stdout)
	}
	return size, nil
}

// WriteFile writes data to remotePath. The bytes are streamed to a hidden
// temporary name in the destination directory, the requested mode is
// applied, and the file is renamed into place, so a mid-write failure never
// leaves a partial file at the destination. mode 0 keeps the default 0644.
func (o *Operations) WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error {
	dir := path.Dir(remotePath)
	base := path.Base(remotePath)
	tmpName := fmt.Sprintf(".%s.mcp-%s", base, uuid.NewString()[:8])
	tmpPath := path.Join(dir, tmpName)

	scpMode := mode
	if scpMode == 0 {
		scpMode = 0o644
	}

	err := o.scpSession(fmt.Sprintf("scp -qt %s", shQuote(dir)), func(w io.Writer, r *bufio.Reader) error {
		return scpSendFile(w, r, tmpName, scpMode, data)
	})
	if err != nil {
		return err
	}

	res, execErr := o.sessions.Exec(ctx, fmt.Sprintf("mv -f %s %s", shQuote(tmpPath), shQuote(remotePath)), opTimeoutSeconds)
	if execErr != nil || res.ExitCode != 0 {
		// Leave nothing behind at the staging path.
		_, _ = o.sessions.Exec(ctx, "rm -f "+shQuote(tmpPath), opTimeoutSeconds)
		if execErr != nil {
			return execErr
		}
		return fmt.Errorf("failed to move %s into place: %s", remotePath, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ReadFile fetches a remote file's bytes via SCP source mode.
func (o *Operations) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	var buf bytes.Buffer
	err := o.scpSession(fmt.Sprintf("scp -qf %s", shQuote(remotePath)), func(w io.Writer, r *bufio.Reader) error {
		return scpReceiveFile(w, r, &buf)
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Remove deletes a remote file. Used for staging cleanup; missing files are
// not an error.
func (o *Operations) Remove(ctx context.Context, remotePath string) error {
	res, err := o.sessions.Exec(ctx, "rm -f "+shQuote(remotePath), opTimeoutSeconds)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to remove %s: %s", remotePath, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// scpSession opens an SSH channel, starts the given scp command and hands
// the protocol exchange to f.
func (o *Operations) scpSession(scpCommand string, f func(io.Writer, *bufio.Reader) error) error {
	client, err := o.sessions.Connection()
	if err != nil {
		return err
	}

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %v", err)
	}
	defer sess.Close()

	stdinW, err := sess.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %v", err)
	}
	// Close exactly once; the ssh package does not tolerate a double close.
	defer func() {
		if stdinW != nil {
			stdinW.Close()
		}
	}()

	stdoutPipe, err := sess.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %v", err)
	}
	stdoutR := bufio.NewReader(stdoutPipe)

	stderr := new(bytes.Buffer)
	sess.Stderr = stderr

	if err := sess.Start(scpCommand); err != nil {
		return fmt.Errorf("failed to start SCP command: %v", err)
	}

	err = f(stdinW, stdoutR)

	stdinW.Close()
	stdinW = nil

	if err != nil && err != io.EOF {
		return fmt.Errorf("SCP protocol error: %v", err)
	}

	if err := sess.Wait(); err != nil {
		if msg := stderr.String(); len(msg) > 0 {
			return fmt.Errorf("SCP command failed: %v, stderr: %s", err, msg)
		}
		return fmt.Errorf("SCP command failed: %v", err)
	}
	return nil
}

// scpSendFile pushes one length-prefixed file in SCP sink mode.
func scpSendFile(w io.Writer, r *bufio.Reader, name string, mode uint32, data []byte) error {
	if err := checkSCPStatus(r); err != nil {
		return err
	}

	fmt.Fprintf(w, "C%04o %d %s\n", mode, len(data), name)
	if err := checkSCPStatus(r); err != nil {
		return fmt.Errorf("failed to send file header: %v", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to send file content: %v", err)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to send file transfer completion: %v", err)
	}
	if err := checkSCPStatus(r); err != nil {
		return fmt.Errorf("failed to get final acknowledgment: %v", err)
	}
	return nil
}

// scpReceiveFile reads one file in SCP source mode into dst.
func scpReceiveFile(w io.Writer, r *bufio.Reader, dst io.Writer) error {
	if err := ackSCP(w); err != nil {
		return fmt.Errorf("failed to initiate transfer: %v", err)
	}

	header, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read file header: %v", err)
	}
	if !strings.HasPrefix(header, "C") {
		return fmt.Errorf("invalid file header: %q", strings.TrimSpace(header))
	}

	parts := strings.SplitN(header, " ", 3)
	if len(parts) != 3 {
		return fmt.Errorf("invalid file header format: %q", header)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid file size in header: %v", err)
	}

	if err := ackSCP(w); err != nil {
		return err
	}
	if _, err := io.CopyN(dst, r, size); err != nil {
		return fmt.Errorf("failed to copy file content: %v", err)
	}
	if err := checkSCPStatus(r); err != nil {
		return err
	}
	return ackSCP(w)
}

// checkSCPStatus checks that a prior command sent to SCP completed successfully.
func checkSCPStatus(r *bufio.Reader) error {
	code, err := r.ReadByte()
	if err != nil {
		return err
	}
	if code != 0 {
		// Treat any non-zero as fatal.
		message, _, err := r.ReadLine()
		if err != nil {
			return fmt.Errorf("error reading error message: %v", err)
		}
		return errors.New(string(message))
	}
	return nil
}

func ackSCP(w io.Writer) error {
	if _, err := w.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to acknowledge SCP command: %v", err)
	}
	return nil
}

// shQuote single-quotes a path for the remote shell.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
