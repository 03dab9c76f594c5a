// Package archive stores the raw files of an import batch in object storage,
// as an audit trail behind the original_html kept on each imported entry.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store writes import uploads into a MinIO bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// SaveBatch stores every file of one import batch under a shared prefix.
// Archiving is best-effort: individual failures are logged, not returned, so
// a storage hiccup never fails the import itself.
func (s *Store) SaveBatch(ctx context.Context, batchID, ownerID string, files map[string][]byte) {
	for name, data := range files {
		objectName := fmt.Sprintf("%s/%s/%s", ownerID, batchID, name)
		_, err := s.client.PutObject(ctx, s.bucket, objectName,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType(name)})
		if err != nil {
			log.Printf("archive: store %s: %v", objectName, err)
		}
	}
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".html"), strings.HasSuffix(strings.ToLower(name), ".htm"):
		return "text/html"
	case strings.HasSuffix(strings.ToLower(name), ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
