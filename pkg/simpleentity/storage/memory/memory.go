package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/objectkey"
)

// Backend is an in-memory implementation of the simpleentity.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
	keys    objectkey.Generator
}

// Option configures the memory backend
type Option func(*Backend)

// WithKeyGenerator sets how object keys are derived
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(b *Backend) {
		b.keys = gen
	}
}

// New creates a new in-memory storage backend
func New(options ...Option) *Backend {
	b := &Backend{
		objects: make(map[string][]byte),
		keys:    objectkey.Default(),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Create stores the content under a fresh key
func (b *Backend) Create(ctx context.Context, reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	key := b.keys.GenerateKey(uuid.New())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return key, nil
}

// Retrieve returns the content stored under path
func (b *Backend) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[path]
	if !exists {
		return nil, fmt.Errorf("%w: %s", simpleentity.ErrBlobNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[path]; !exists {
		return fmt.Errorf("%w: %s", simpleentity.ErrBlobNotFound, path)
	}
	delete(b.objects, path)
	return nil
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
