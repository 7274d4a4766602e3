// Package transfer implements the two-phase indirect transfer between a
// caller and the managed host, staged through the blob intermediary.
//
// A request call creates a record in AWAITING state and hands the caller
// out-of-band instructions; a confirm call completes the transfer. Records
// reach exactly one terminal outcome (confirmed, expired or failed) and are
// evicted the moment they do.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"remote-exec-mcp/internal/blob"
	"remote-exec-mcp/internal/security"
)

// Transfer failures. An expired record is externally indistinguishable from
// one that never existed: both report ErrTransferNotFound.
var (
	ErrTransferNotFound  = errors.New("transfer not found or expired")
	ErrWrongOperation    = errors.New("transfer is for a different operation")
	ErrRemoteFileExists  = errors.New("remote file already exists, set overwrite=true to replace it")
	ErrRemoteFileMissing = errors.New("remote file not found")
	ErrSizeLimitExceeded = errors.New("file exceeds configured size limit")
)

// Operation is the kind of a transfer: upload XOR download, never both.
type Operation string

const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
)

// State of a transfer record. AWAITING is the only non-terminal state.
type State string

const (
	StateAwaiting  State = "AWAITING"
	StateConfirmed State = "CONFIRMED"
	StateExpired   State = "EXPIRED"
	StateFailed    State = "FAILED"
)

// Record tracks one pending transfer. Owned by the bridge; mutated only by
// the confirm/expire/fail transitions.
type Record struct {
	ID          string
	Op          Operation
	RemotePath  string
	ObjectKey   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Permissions int // 0 = unset
	Overwrite   bool
	State       State
}

// RemoteFS is the slice of remote file I/O the bridge needs.
type RemoteFS interface {
	Exists(ctx context.Context, remotePath string) (bool, error)
	Size(ctx context.Context, remotePath string) (int64, error)
	WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)
}

// UploadRequest is the response shape of a requested upload.
type UploadRequest struct {
	TransferID    string `json:"transfer_id"`
	UploadCommand string `json:"upload_command"`
	ExpiresIn     int    `json:"expires_in"`
}

// DownloadRequest is the response shape of a requested download.
type DownloadRequest struct {
	TransferID      string `json:"transfer_id"`
	DownloadURL     string `json:"download_url"`
	DownloadCommand string `json:"download_command"`
	ExpiresIn       int    `json:"expires_in"`
}

// ConfirmResult is the response shape of a confirmed transfer.
type ConfirmResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	RemotePath       string `json:"remote_path"`
	BytesTransferred int64  `json:"bytes_transferred,omitempty"`
}

// Config bounds the bridge.
type Config struct {
	TTL         time.Duration
	MaxFileSize int64
}

// Bridge is the two-phase transfer state machine. Structural changes to the
// record set are serialized; intermediary and host I/O happen outside the
// lock so a slow transfer never blocks unrelated bookkeeping.
type Bridge struct {
	gate  *security.Gate
	fs    RemoteFS
	store blob.Store
	cfg   Config
	log   *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time

	mu      sync.Mutex
	records map[string]*Record
}

// NewBridge creates a bridge with an empty record set.
func NewBridge(gate *security.Gate, fs RemoteFS, store blob.Store, cfg Config, log *slog.Logger) *Bridge {
	return &Bridge{
		gate:    gate,
		fs:      fs,
		store:   store,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		records: make(map[string]*Record),
	}
}

// RequestUpload validates the destination and returns instructions for an
// out-of-band push to the intermediary. No record is created when the
// destination already exists and overwrite is false.
func (b *Bridge) RequestUpload(ctx context.Context, remotePath string, permissions int, overwrite bool) (*UploadRequest, error) {
	if err := b.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	if err := b.gate.ValidatePath(remotePath); err != nil {
		return nil, err
	}
	if permissions != 0 {
		if err := b.gate.ValidatePermissions(permissions); err != nil {
			return nil, err
		}
	}
	b.sweep(ctx)

	if !overwrite {
		exists, err := b.fs.Exists(ctx, remotePath)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrRemoteFileExists, remotePath)
		}
	}

	id := uuid.NewString()
	key := "mcp-upload-" + id
	url, err := b.store.PresignPut(key, b.cfg.TTL)
	if err != nil {
		return nil, err
	}

	now := b.now()
	rec := &Record{
		ID:          id,
		Op:          OpUpload,
		RemotePath:  remotePath,
		ObjectKey:   key,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.cfg.TTL),
		Permissions: permissions,
		Overwrite:   overwrite,
		State:       StateAwaiting,
	}
	b.mu.Lock()
	b.records[id] = rec
	b.mu.Unlock()

	b.log.Info("upload requested", "transfer_id", id, "remote_path", remotePath)
	return &UploadRequest{
		TransferID:    id,
		UploadCommand: fmt.Sprintf("curl -X PUT --upload-file <YOUR_FILE_PATH> '%s'", url),
		ExpiresIn:     int(b.cfg.TTL.Seconds()),
	}, nil
}

// ConfirmUpload completes an upload: the staged object is fetched, written
// atomically to the destination, and removed from the intermediary. A
// transfer id confirms successfully at most once; later calls fail with
// ErrTransferNotFound because the record is gone.
func (b *Bridge) ConfirmUpload(ctx context.Context, transferID string) (*ConfirmResult, error) {
	if err := b.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	b.sweep(ctx)

	rec, err := b.claim(ctx, transferID, OpUpload)
	if err != nil {
		return nil, err
	}

	exists, err := b.store.Exists(ctx, rec.ObjectKey)
	if err != nil {
		b.restore(rec)
		return nil, err
	}
	if !exists {
		// The out-of-band push has not happened yet; the record stays
		// awaiting so a later confirm can succeed.
		b.restore(rec)
		return nil, fmt.Errorf("%w: push the file first using the upload_command, then confirm again", blob.ErrObjectNotFound)
	}

	data, err := b.store.Fetch(ctx, rec.ObjectKey)
	if err != nil {
		b.fail(ctx, rec, err)
		return nil, err
	}
	if int64(len(data)) > b.cfg.MaxFileSize {
		err := fmt.Errorf("%w: %d > %d bytes", ErrSizeLimitExceeded, len(data), b.cfg.MaxFileSize)
		b.fail(ctx, rec, err)
		return nil, err
	}

	mode := uint32(0)
	if rec.Permissions != 0 {
		mode = security.FileMode(rec.Permissions)
	}
	if err := b.fs.WriteFile(ctx, rec.RemotePath, data, mode); err != nil {
		b.fail(ctx, rec, err)
		return nil, err
	}

	if err := b.store.Delete(ctx, rec.ObjectKey); err != nil {
		// The destination file is in place; surface the cleanup failure.
		rec.State = StateFailed
		b.log.Error("staged object cleanup failed after confirm", "transfer_id", rec.ID, "error", err)
		return nil, err
	}

	rec.State = StateConfirmed
	b.log.Info("upload confirmed", "transfer_id", rec.ID, "remote_path", rec.RemotePath, "bytes", len(data))
	return &ConfirmResult{
		Success:          true,
		Message:          "Successfully uploaded to host: " + rec.RemotePath,
		RemotePath:       rec.RemotePath,
		BytesTransferred: int64(len(data)),
	}, nil
}

// RequestDownload reads the source file from the host, stages it at the
// intermediary and returns retrieval instructions.
func (b *Bridge) RequestDownload(ctx context.Context, remotePath string) (*DownloadRequest, error) {
	if err := b.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	if err := b.gate.ValidatePath(remotePath); err != nil {
		return nil, err
	}
	b.sweep(ctx)

	exists, err := b.fs.Exists(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRemoteFileMissing, remotePath)
	}

	size, err := b.fs.Size(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	if size > b.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrSizeLimitExceeded, size, b.cfg.MaxFileSize)
	}

	data, err := b.fs.ReadFile(ctx, remotePath)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := "mcp-download-" + id
	if err := b.store.Put(ctx, key, data); err != nil {
		return nil, err
	}
	url, err := b.store.PresignGet(key, b.cfg.TTL)
	if err != nil {
		// Unreferenced staged object; remove it rather than wait for expiry.
		if delErr := b.store.Delete(ctx, key); delErr != nil {
			b.log.Warn("staged object cleanup failed", "key", key, "error", delErr)
		}
		return nil, err
	}

	now := b.now()
	rec := &Record{
		ID:         id,
		Op:         OpDownload,
		RemotePath: remotePath,
		ObjectKey:  key,
		CreatedAt:  now,
		ExpiresAt:  now.Add(b.cfg.TTL),
		State:      StateAwaiting,
	}
	b.mu.Lock()
	b.records[id] = rec
	b.mu.Unlock()

	b.log.Info("download requested", "transfer_id", id, "remote_path", remotePath, "bytes", len(data))
	return &DownloadRequest{
		TransferID:      id,
		DownloadURL:     url,
		DownloadCommand: fmt.Sprintf("curl -o '<YOUR_FILE_PATH>' '%s'", url),
		ExpiresIn:       int(b.cfg.TTL.Seconds()),
	}, nil
}

// ConfirmDownload acknowledges retrieval and cleans up the staged object.
// Deletion failure is logged, not fatal: the record is evicted regardless.
func (b *Bridge) ConfirmDownload(ctx context.Context, transferID string) (*ConfirmResult, error) {
	if err := b.gate.CheckRiskAccepted(); err != nil {
		return nil, err
	}
	b.sweep(ctx)

	rec, err := b.claim(ctx, transferID, OpDownload)
	if err != nil {
		return nil, err
	}

	if err := b.store.Delete(ctx, rec.ObjectKey); err != nil {
		b.log.Warn("staged object cleanup failed", "transfer_id", rec.ID, "key", rec.ObjectKey, "error", err)
	}
	rec.State = StateConfirmed
	b.log.Info("download confirmed", "transfer_id", rec.ID, "remote_path", rec.RemotePath)
	return &ConfirmResult{
		Success:    true,
		Message:    "Download confirmed, staged copy removed",
		RemotePath: rec.RemotePath,
	}, nil
}

// ActiveCount reports the number of live records.
func (b *Bridge) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// claim atomically takes ownership of a record. The record is removed from
// the live set under the lock, so no two confirms can both succeed for the
// same id. An expired record is evicted on sight and reported as not found;
// its staged object is removed best-effort.
func (b *Bridge) claim(ctx context.Context, transferID string, op Operation) (*Record, error) {
	b.mu.Lock()
	rec, ok := b.records[transferID]
	if !ok {
		b.mu.Unlock()
		return nil, ErrTransferNotFound
	}
	if b.now().After(rec.ExpiresAt) {
		delete(b.records, transferID)
		rec.State = StateExpired
		b.mu.Unlock()
		if err := b.store.Delete(ctx, rec.ObjectKey); err != nil {
			b.log.Warn("expired object cleanup failed", "transfer_id", rec.ID, "error", err)
		}
		return nil, ErrTransferNotFound
	}
	if rec.Op != op {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: transfer %s is a %s", ErrWrongOperation, transferID, rec.Op)
	}
	delete(b.records, transferID)
	b.mu.Unlock()
	return rec, nil
}

// restore puts a claimed record back, unless it expired while claimed.
func (b *Bridge) restore(rec *Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().After(rec.ExpiresAt) {
		rec.State = StateExpired
		return
	}
	b.records[rec.ID] = rec
}

// fail marks a claimed record's terminal failure. The record is already out
// of the live set; the staged object is removed best-effort.
func (b *Bridge) fail(ctx context.Context, rec *Record, cause error) {
	rec.State = StateFailed
	b.log.Error("transfer failed", "transfer_id", rec.ID, "op", rec.Op, "error", cause)
	if err := b.store.Delete(ctx, rec.ObjectKey); err != nil {
		b.log.Warn("staged object cleanup failed", "transfer_id", rec.ID, "error", err)
	}
}

// sweep lazily evicts expired records. Cleanup of their staged objects is
// best-effort and never blocks the caller's own operation.
func (b *Bridge) sweep(ctx context.Context) {
	now := b.now()

	b.mu.Lock()
	var expired []*Record
	for id, rec := range b.records {
		if now.After(rec.ExpiresAt) {
			rec.State = StateExpired
			expired = append(expired, rec)
			delete(b.records, id)
		}
	}
	b.mu.Unlock()

	for _, rec := range expired {
		b.log.Info("transfer expired", "transfer_id", rec.ID, "op", rec.Op, "remote_path", rec.RemotePath)
		if err := b.store.Delete(ctx, rec.ObjectKey); err != nil {
			b.log.Warn("expired object cleanup failed", "transfer_id", rec.ID, "error", err)
		}
	}
}
