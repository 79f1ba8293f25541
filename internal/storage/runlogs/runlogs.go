// Package runlogs persists captured run output to the object store.
package runlogs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
)

type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

type Store struct {
	store  ObjectStore
	bucket string
}

func New(store ObjectStore, bucket string) (*Store, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &Store{store: store, bucket: bucket}, nil
}

// ObjectKey returns the object key for a run's captured output.
func ObjectKey(runID string) string {
	return "runs/" + runID + "/log.txt"
}

func (s *Store) StoreRunLog(ctx context.Context, runID string, log []byte) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run id is required")
	}
	_, err := s.store.PutObject(
		ctx,
		s.bucket,
		ObjectKey(runID),
		bytes.NewReader(log),
		int64(len(log)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"},
	)
	if err != nil {
		return fmt.Errorf("put run log: %w", err)
	}
	return nil
}

func (s *Store) FetchRunLog(ctx context.Context, runID string) ([]byte, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	obj, err := s.store.GetObject(ctx, s.bucket, ObjectKey(runID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get run log: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read run log: %w", err)
	}
	return data, nil
}
