// Package minio provides a MinIO-backed snapshot.Mirror. The mirror
// holds exactly one object: the current snapshot document. It lets a
// fresh host warm-start from the fleet's last snapshot when its local
// cache directory is empty.
package minio

import (
	"bytes"
	"context"
	"errors"
	"io"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dbcontext-go/dbcontext/internal/config"
	"github.com/dbcontext-go/dbcontext/internal/errs"
	"github.com/dbcontext-go/dbcontext/internal/snapshot"
)

// Mirror is a MinIO implementation of snapshot.Mirror.
// It is safe for concurrent use by multiple goroutines.
type Mirror struct {
	client *miniogo.Client
	bucket string
	key    string
}

var _ snapshot.Mirror = (*Mirror)(nil)

// New connects to the object store described by cfg and returns a Mirror.
// It verifies the bucket is reachable before returning.
func New(ctx context.Context, cfg *config.MirrorConfig) (*Mirror, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	m := &Mirror{client: client, bucket: cfg.Bucket, key: cfg.Key}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, mapError(err, "failed to check snapshot bucket")
	}
	if !exists {
		return nil, errs.Newf(errs.ErrKindNotFound, "snapshot bucket %s does not exist", cfg.Bucket)
	}
	return m, nil
}

// Put uploads the snapshot document, replacing the previous copy.
func (m *Mirror) Put(ctx context.Context, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.key,
		bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return mapError(err, "failed to upload snapshot")
	}
	return nil
}

// Fetch downloads the current snapshot document.
func (m *Mirror) Fetch(ctx context.Context) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get snapshot object")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(err, "failed to read snapshot object")
	}
	return data, nil
}

// mapError translates MinIO native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	resp := miniogo.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case "AccessDenied":
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
