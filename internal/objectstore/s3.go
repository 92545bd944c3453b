package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"skylark-data/internal/config"
)

// S3Backend stores objects in an S3-compatible bucket through the minio
// client.
type S3Backend struct {
	client *minio.Client
	bucket string
}

func NewS3Backend(cfg *config.S3Config) (*S3Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, Transport.Wrap(err)
	}
	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

// classify converts minio errors to our error classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return NoSuchKey.Wrap(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return NoSuchKey.Wrap(err)
	}
	return Transport.Wrap(err)
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(
		ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"},
	)
	return classify(err)
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

func (b *S3Backend) Size(ctx context.Context, key string) (int64, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, classify(err)
	}
	return info.Size, nil
}

func (b *S3Backend) List(ctx context.Context, prefix, startAfter string, fn func(key string) error) error {
	opts := minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: startAfter,
	}
	for info := range b.client.ListObjects(ctx, b.bucket, opts) {
		if info.Err != nil {
			return classify(info.Err)
		}
		if err := fn(info.Key); err != nil {
			return err
		}
	}
	return nil
}

func (b *S3Backend) ListVersions(ctx context.Context, prefix string, fn func(key, versionID string) error) error {
	opts := minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithVersions: true,
	}
	for info := range b.client.ListObjects(ctx, b.bucket, opts) {
		if info.Err != nil {
			return classify(info.Err)
		}
		// deletion markers are not data
		if info.IsDeleteMarker {
			continue
		}
		versionID := info.VersionID
		if versionID == "null" {
			// unversioned buckets report the literal string "null"
			versionID = ""
		}
		if err := fn(info.Key, versionID); err != nil {
			return err
		}
	}
	return nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	return classify(err)
}

func (b *S3Backend) DeleteVersion(ctx context.Context, key, versionID string) error {
	err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{VersionID: versionID})
	if err != nil {
		return DeleteFailed.Wrap(err)
	}
	return nil
}

func (b *S3Backend) DeleteManyVersions(ctx context.Context, pairs []KeyVersion) (int, error) {
	objects := make(chan minio.ObjectInfo, len(pairs))
	for _, kv := range pairs {
		objects <- minio.ObjectInfo{Key: kv.Key, VersionID: kv.VersionID}
	}
	close(objects)

	var failures []error
	for removeErr := range b.client.RemoveObjects(ctx, b.bucket, objects, minio.RemoveObjectsOptions{}) {
		if removeErr.Err != nil {
			failures = append(failures,
				DeleteFailed.New("delete %s version %s: %v",
					removeErr.ObjectName, removeErr.VersionID, removeErr.Err))
		}
	}
	deleted := len(pairs) - len(failures)
	if len(failures) > 0 {
		return deleted, DeleteFailed.New("%d of %d deletes failed: %v", len(failures), len(pairs), failures)
	}
	return deleted, nil
}
