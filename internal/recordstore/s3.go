package recordstore

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/pkg/storage"
)

// objectStore is the subset of *storage.S3 used here.
type objectStore interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// S3 keeps each attribute in its own object. Versions are ETags and are never enforced:
// S3 offers no compare-and-swap here, which is exactly the store contract the engine assumes.
type S3 struct {
	objects   objectStore
	prefix    string
	namespace string
}

// NewS3 creates an object-store-backed Client.
func NewS3(objects objectStore, prefix, namespace string) *S3 {
	if namespace == "" {
		namespace = models.AttrNamespace
	}
	return &S3{objects: objects, prefix: prefix, namespace: namespace}
}

// Get implements Client.
func (s *S3) Get(ctx context.Context, customerID string) (map[string]Attribute, error) {
	keys, err := s.objects.List(ctx, storage.AttributePrefix(s.prefix, customerID, s.namespace))
	if err != nil {
		return nil, err
	}
	out := make(map[string]Attribute, len(keys))
	for _, objectKey := range keys {
		body, etag, err := s.objects.Get(ctx, objectKey)
		if errors.Is(err, storage.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		key := path.Base(objectKey)
		out[key] = Attribute{Key: key, Value: string(body), Version: etag}
	}
	return out, nil
}

// Set implements Client. expectedVersion is ignored.
func (s *S3) Set(ctx context.Context, customerID, key, value, _ string) (string, error) {
	contentType := "text/plain"
	if key == models.AttrCodes {
		contentType = "application/json"
	}
	etag, err := s.objects.Put(ctx, storage.AttributeKey(s.prefix, customerID, s.namespace, key), []byte(value), contentType)
	if err != nil {
		return "", fmt.Errorf("put attribute: %w", err)
	}
	return etag, nil
}
