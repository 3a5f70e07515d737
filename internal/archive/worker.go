// Package archive periodically copies recently mutated account aggregates to
// object storage. The archives back support and audit tooling; they are never
// read on the hot path.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/example/profile-sync-engine/internal/store"
	"github.com/example/profile-sync-engine/internal/types"
)

const defaultInterval = 5 * time.Minute

// Uploader stores an archive object. *minio.Client satisfies it via Client.
type Uploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Client adapts a minio client to the Uploader interface.
type Client struct {
	Object *minio.Client
}

// PutObject implements Uploader.
func (c Client) PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return c.Object.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

// Worker scans for aggregates saved since its last pass and uploads a JSON
// archive of each.
type Worker struct {
	store    store.Store
	object   Uploader
	bucket   string
	interval time.Duration
	lastRun  time.Time
	logger   zerolog.Logger
}

// NewWorker constructs an archive worker with sane defaults.
func NewWorker(st store.Store, object Uploader, bucket string, logger zerolog.Logger) *Worker {
	return &Worker{
		store:    st,
		object:   object,
		bucket:   bucket,
		interval: defaultInterval,
		lastRun:  time.Now().UTC(),
		logger:   logger,
	}
}

// WithInterval overrides the scan interval.
func (w *Worker) WithInterval(d time.Duration) *Worker {
	w.interval = d
	return w
}

// Start begins the periodic archive loop.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce archives every aggregate saved since the previous pass.
func (w *Worker) RunOnce(ctx context.Context) {
	cutoff := w.lastRun
	w.lastRun = time.Now().UTC()

	accounts, err := w.store.UpdatedSince(ctx, cutoff)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list updated aggregates")
		return
	}

	for _, accountID := range accounts {
		if err := w.archiveAccount(ctx, accountID); err != nil {
			w.logger.Error().Err(err).Str("account", string(accountID)).Msg("aggregate archive failed")
		}
	}
}

func (w *Worker) archiveAccount(ctx context.Context, accountID types.AccountID) error {
	if w.object == nil {
		return fmt.Errorf("object storage client not configured")
	}

	agg, err := w.store.Load(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load aggregate: %w", err)
	}

	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}

	objectPath := fmt.Sprintf("accounts/%s/%s.json", accountID, time.Now().UTC().Format("20060102T150405"))
	if _, err := w.object.PutObject(ctx, w.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	w.logger.Info().Str("account", string(accountID)).Str("object", objectPath).Msg("aggregate archived")
	return nil
}
