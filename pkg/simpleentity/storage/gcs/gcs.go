// Package gcs stores payload bytes in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/objectkey"
	"google.golang.org/api/option"
)

// Config options for the GCS backend
type Config struct {
	Bucket          string // Bucket name
	CredentialsFile string // Optional service account key, defaults to application default credentials
	Endpoint        string // Optional endpoint, e.g. a local emulator
	Prefix          string // Optional key prefix inside the bucket

	KeyGenerator objectkey.Generator // Optional, defaults to git-like sharding under Prefix
}

// Backend is a GCS implementation of the simpleentity.BlobStore interface
type Backend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	keys   objectkey.Generator
}

// New creates a GCS storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		if _, err := os.Stat(config.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", config.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	keys := config.KeyGenerator
	if keys == nil {
		keys = &objectkey.GitLikeGenerator{ShardLength: 2, Prefix: config.Prefix}
	}

	return &Backend{
		client: client,
		bucket: client.Bucket(config.Bucket),
		keys:   keys,
	}, nil
}

// Create uploads the content to a fresh object
func (b *Backend) Create(ctx context.Context, reader io.Reader) (string, error) {
	key := b.keys.GenerateKey(uuid.New())

	// DoesNotExist makes a key collision fail instead of overwriting
	writer := b.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"

	if _, err := io.Copy(writer, reader); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to copy content to GCS object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return key, nil
}

// Retrieve opens the object stored at path
func (b *Backend) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := b.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", simpleentity.ErrBlobNotFound, path)
		}
		return nil, fmt.Errorf("failed to read GCS object %s: %w", path, err)
	}
	return reader, nil
}

// Delete removes the object stored at path
func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := b.bucket.Object(path).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", simpleentity.ErrBlobNotFound, path)
		}
		return fmt.Errorf("failed to delete GCS object %s: %w", path, err)
	}
	return nil
}

// Close releases the underlying client
func (b *Backend) Close() error {
	return b.client.Close()
}
