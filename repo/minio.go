package repo

import (
	"context"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioSource is a repository bucket on MinIO or any S3 compatible endpoint.
type MinioSource struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ Store = (*MinioSource)(nil)

// NewMinioSource serves the keys under prefix of bucket.
func NewMinioSource(client *minio.Client, bucket, prefix string) *MinioSource {
	return &MinioSource{client: client, bucket: bucket, prefix: prefix}
}

// DialMinio connects with static credentials.
func DialMinio(endpoint, accessKey, secretKey, region string, secure bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: region,
	})
}

func (s *MinioSource) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *MinioSource) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		if name != "" {
			keys = append(keys, name)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *MinioSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject is lazy, stat first so a missing key fails here
	if _, err := s.client.StatObject(ctx, s.bucket, s.key(key), minio.StatObjectOptions{}); err != nil {
		return nil, minioErr(err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, minioErr(err)
	}
	return obj, nil
}

func (s *MinioSource) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func minioErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return ErrNotFound
	}
	return err
}
