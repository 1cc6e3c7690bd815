// Package simpleentity provides a versioned, hierarchical entity repository
// with pluggable index, version, audit and blob storage backends.
//
// It exposes a single Service interface that creates, mutates, versions and
// deletes entities. Every entity carries metadata records and binary payloads
// whose bytes live in a BlobStore. The service computes a SHA-256 checksum and
// size for each payload while it is streamed into the store, and rewrites the
// payload source to an internal locator of the form
// entity://{id}/metadata/{name}.
//
// Hierarchy
//
// Entities are typed by a content model. A content model names the models an
// entity's parent may have; a model without allowed parents is a root type.
// Three models are present on first use: level1 (root), level2 (child of
// level1) and data (child of level2 or data). Every entity resolves to a
// level-1 and level-2 ancestor, which scope both move operations and rights.
//
// Versions and state
//
// Structural mutations (payloads, relations, identifiers, label, parent)
// snapshot the current entity into the VersionStore and increase the version
// by one. Entities move through PENDING, SUBMITTED, PUBLISHED and WITHDRAWN.
// State transitions never bump the version; PUBLISHED and WITHDRAWN entities
// reject structural mutations. Every write to the index is conditional on the
// revision that was read, so a concurrent modification fails with ErrConflict.
//
// Implementations of the stores are provided under repo/ (memory, Postgres,
// gorm, badger) and storage/ (memory, filesystem, S3, GCS).
package simpleentity
