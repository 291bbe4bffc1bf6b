package proof

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs proof store needs a bucket")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, accountID, contentType string, r io.Reader) (string, error) {
	obj, err := prepare(accountID, contentType, r)
	if err != nil {
		return "", err
	}
	w := s.client.Bucket(s.bucket).Object(obj.key).NewWriter(ctx)
	w.ContentType = obj.contentType
	if _, err := io.Copy(w, obj.reader()); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", obj.key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", obj.key, err)
	}
	return gcsURL(s.bucket, obj.key), nil
}

func gcsURL(bucket, key string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + key
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
