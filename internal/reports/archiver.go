// Package reports archives follow-up run reports as JSON objects.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"travel_crm_backend/internal/followups"
)

// ObjectStore is the slice of object storage the archiver needs.
type ObjectStore interface {
	EnsureBucketExists(ctx context.Context, bucket string) error
	Upload(ctx context.Context, bucket, key, contentType string, reader io.Reader, size int64) error
}

// Archiver stores each report under runs/YYYY/MM/DD/<run id>.json.
type Archiver struct {
	store  ObjectStore
	bucket string

	mu          sync.Mutex
	bucketReady bool
}

var _ followups.ReportArchiver = (*Archiver)(nil)

func NewArchiver(store ObjectStore, bucket string) *Archiver {
	return &Archiver{store: store, bucket: bucket}
}

func (a *Archiver) Archive(ctx context.Context, report followups.RunReport) (string, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run report: %w", err)
	}

	key := ReportKey(report)
	if err := a.store.Upload(ctx, a.bucket, key, "application/json", bytes.NewReader(data), int64(len(data))); err != nil {
		return "", err
	}
	return key, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bucketReady {
		return nil
	}
	if err := a.store.EnsureBucketExists(ctx, a.bucket); err != nil {
		return err
	}
	a.bucketReady = true
	return nil
}

// ReportKey is the object key for a report, partitioned by its start date (UTC).
func ReportKey(report followups.RunReport) string {
	return fmt.Sprintf("runs/%s/%s.json", report.StartedAt.UTC().Format("2006/01/02"), report.RunID)
}
