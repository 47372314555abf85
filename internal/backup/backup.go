// Package backup exports every stored submission as one JSON document to
// S3-compatible object storage, on demand or on a fixed interval.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"

	"club-feedback/internal/config"
	"club-feedback/internal/feedback"
	"club-feedback/internal/logging"
)

// Source yields the complete, newest-first submission list. It must fail
// loudly; an empty export of an unreachable store is worse than none.
type Source interface {
	FindAll(ctx context.Context) ([]feedback.Submission, error)
}

type objectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// Result describes one written export.
type Result struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type snapshot struct {
	ExportedAt  string                `json:"exportedAt"`
	Count       int                   `json:"count"`
	Submissions []feedback.Submission `json:"submissions"`
}

// Exporter writes snapshots of a Source into a bucket.
type Exporter struct {
	src    Source
	put    objectStore
	bucket string
	prefix string
	log    logging.Logger
	now    func() time.Time
}

// New connects to the configured object store and checks the bucket exists.
func New(ctx context.Context, cfg config.BackupConfig, src Source, log logging.Logger) (*Exporter, error) {
	client, err := newMinioClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return NewExporter(src, client, cfg.Bucket, cfg.Prefix, log), nil
}

// NewExporter builds an Exporter around an existing object client.
func NewExporter(src Source, put objectStore, bucket, prefix string, log logging.Logger) *Exporter {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Exporter{
		src:    src,
		put:    put,
		bucket: bucket,
		prefix: prefix,
		log:    log,
		now:    time.Now,
	}
}

// Ping checks that the backup bucket is still reachable.
func (e *Exporter) Ping(ctx context.Context) error {
	ok, err := e.put.BucketExists(ctx, e.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", e.bucket)
	}
	return nil
}

// Key returns the object key used for a snapshot taken at t. Keys carry
// milliseconds so a manual and a scheduled export in the same second do
// not overwrite each other.
func (e *Exporter) Key(t time.Time) string {
	return e.prefix + "submissions-" + t.UTC().Format("20060102-150405.000") + ".json"
}

// Export reads every submission and uploads them as a single object.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	subs, err := e.src.FindAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read submissions: %w", err)
	}

	now := e.now()
	body, err := json.Marshal(snapshot{
		ExportedAt:  feedback.FormatTimestamp(now),
		Count:       len(subs),
		Submissions: subs,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode snapshot: %w", err)
	}

	key := e.Key(now)
	_, err = e.put.PutObject(ctx, e.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", key, err)
	}

	e.log.Info("backup_written", map[string]any{
		"bucket": e.bucket,
		"key":    key,
		"count":  len(subs),
		"bytes":  len(body),
	})
	return Result{Key: key, Count: len(subs)}, nil
}

// Run exports every interval until ctx is cancelled. Failures are logged
// and retried on the next tick.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("backup_scheduler_started", map[string]any{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			e.log.Info("backup_scheduler_stopped", nil)
			return
		case <-ticker.C:
			if _, err := e.Export(ctx); err != nil {
				e.log.WithError(err).Error("scheduled_backup_failed", nil)
			}
		}
	}
}
