// Package objectkey builds the storage keys under which blob stores place
// payload bytes.
package objectkey

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for storage backends
	GenerateKey(objectID uuid.UUID) string
}

// FlatGenerator places every object directly under Prefix
// Structure: {prefix}/{uuid}
type FlatGenerator struct {
	Prefix string
}

func NewFlatGenerator(prefix string) *FlatGenerator {
	return &FlatGenerator{Prefix: prefix}
}

func (g *FlatGenerator) GenerateKey(objectID uuid.UUID) string {
	return join(g.Prefix, objectID.String())
}

// GitLikeGenerator provides Git-style sharded storage
// Structure: {prefix}/objects/ab/cd1234ef5678...
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
	Prefix      string
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(objectID uuid.UUID) string {
	// Use objectID for sharding since it's unique and random
	return shard(g.Prefix, strings.ReplaceAll(objectID.String(), "-", ""), g.ShardLength)
}

// HashedGitLikeGenerator shards on a hash of the object id, spreading keys
// evenly even when ids are not random
type HashedGitLikeGenerator struct {
	ShardLength int
	Prefix      string
}

func NewHashedGitLikeGenerator() *HashedGitLikeGenerator {
	return &HashedGitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *HashedGitLikeGenerator) GenerateKey(objectID uuid.UUID) string {
	hash := sha256.Sum256([]byte(objectID.String()))
	return shard(g.Prefix, fmt.Sprintf("%x", hash)[:32], g.ShardLength)
}

// CustomFuncGenerator allows users to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(objectID uuid.UUID) string
}

func NewCustomFuncGenerator(fn func(objectID uuid.UUID) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

func (g *CustomFuncGenerator) GenerateKey(objectID uuid.UUID) string {
	return g.GenerateFunc(objectID)
}

func shard(prefix, id string, length int) string {
	if length <= 0 {
		length = 2
	}
	// Ensure we have enough characters for sharding
	if len(id) < length {
		length = len(id)
	}
	return join(prefix, fmt.Sprintf("objects/%s/%s", id[:length], id[length:]))
}

func join(prefix, key string) string {
	prefix = strings.Trim(sanitizePath(prefix), "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// sanitizePath replaces characters that are unsafe on filesystems and in
// object store keys. Slashes are kept so a prefix may span directories.
func sanitizePath(path string) string {
	replacer := strings.NewReplacer(
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
		"..", "_",
	)
	return strings.ToLower(replacer.Replace(path))
}

// Default is the layout blob stores use when none is configured.
func Default() Generator {
	return NewGitLikeGenerator()
}

// NewWideShardGenerator shards on three characters for stores holding many
// millions of blobs.
func NewWideShardGenerator() Generator {
	return &GitLikeGenerator{ShardLength: 3}
}
