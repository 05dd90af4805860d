package datasource

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/query"
)

// BucketConfig points the local mode at an S3/MinIO bucket instead of a directory.
type BucketConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

// BucketSource serves static per-resource files from object storage.
type BucketSource struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewBucketSource builds a MinIO client for the configured bucket. The bucket
// is expected to exist; it is never created. A set Region skips the bucket
// location lookup.
func NewBucketSource(cfg BucketConfig) (*BucketSource, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &BucketSource{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// List downloads and filters the resource object.
func (s *BucketSource) List(ctx context.Context, resource string, q query.Query) ([]domain.Record, error) {
	if !ValidResource(resource) {
		return nil, ErrInvalidResource
	}
	for _, candidate := range fileExtensions {
		key := path.Join(s.prefix, resource+candidate.ext)
		data, found, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		records, err := normalize(data, candidate.format)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		page, _ := q.Apply(records)
		return page, nil
	}
	return nil, fmt.Errorf("resource %q not found in bucket %s", resource, s.bucket)
}

func (s *BucketSource) get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, true, nil
}
