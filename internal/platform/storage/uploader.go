package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Uploader writes and removes objects in a single Cloud Storage bucket on
// behalf of the API server. Signed-URL flows go through Client instead; the
// admin image endpoints proxy the bytes so the upload can be validated
// server-side.
type Uploader struct {
	client *gcs.Client
	bucket string
}

// NewUploader constructs an Uploader bound to the given bucket.
func NewUploader(client *gcs.Client, bucket string) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage uploader: bucket is required")
	}
	return &Uploader{client: client, bucket: bucket}, nil
}

// Upload writes data to the object path and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, object, contentType string, data []byte) (string, error) {
	if u == nil || u.client == nil {
		return "", errors.New("storage uploader: client is not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errors.New("storage uploader: object path is required")
	}

	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "public, max-age=31536000, immutable"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage uploader: write object %q: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage uploader: finalize object %q: %w", object, err)
	}
	return PublicURL(u.bucket, object), nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (u *Uploader) Delete(ctx context.Context, object string) error {
	if u == nil || u.client == nil {
		return errors.New("storage uploader: client is not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return errors.New("storage uploader: object path is required")
	}

	err := u.client.Bucket(u.bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage uploader: delete object %q: %w", object, err)
	}
	return nil
}

// PublicURL returns the canonical public URL for a bucket object.
func PublicURL(bucket, object string) string {
	segments := strings.Split(object, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, strings.Join(segments, "/"))
}
