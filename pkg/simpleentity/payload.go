package simpleentity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tendant/simple-entity/pkg/simpleentity/projection"
)

// countingWriter counts the bytes written through it
type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// blobRef describes bytes written to the blob store
type blobRef struct {
	path     string
	checksum string
	size     int64
}

// store streams r into the blob store while computing its checksum and size.
func (s *service) store(ctx context.Context, r io.Reader) (blobRef, error) {
	hash := sha256.New()
	counter := &countingWriter{}
	path, err := s.blobs.Create(ctx, io.TeeReader(r, io.MultiWriter(hash, counter)))
	if err != nil {
		return blobRef{}, storeErr("blobs", "create", "", err)
	}
	return blobRef{path: path, checksum: hex.EncodeToString(hash.Sum(nil)), size: counter.n}, nil
}

// openSource opens the bytes of src. Internal sources are read from
// internalPath in the blob store.
func (s *service) openSource(ctx context.Context, src Source, internalPath string) (io.ReadCloser, error) {
	switch {
	case src.IsInternal():
		rc, err := s.blobs.Retrieve(ctx, internalPath)
		if err != nil {
			return nil, storeErr("blobs", "retrieve", internalPath, err)
		}
		return rc, nil
	case src.Reader != nil:
		if rc, ok := src.Reader.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(src.Reader), nil
	case src.URI != "":
		rc, err := s.opener.Open(ctx, src.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: open source %s: %v", ErrIO, src.URI, err)
		}
		return rc, nil
	}
	return nil, invalidf("payload source is required")
}

// ingestMetadata copies the bytes of m's source into the blob store, fills
// in the derived fields and points the source at the stored copy.
func (s *service) ingestMetadata(ctx context.Context, m *Metadata, self, internalPath string) error {
	rc, err := s.openSource(ctx, m.Source, internalPath)
	if err != nil {
		return err
	}
	defer rc.Close()

	res, err := s.store(ctx, rc)
	if err != nil {
		return err
	}

	m.JSONData = nil
	if m.IndexInline {
		data, err := s.project(ctx, res.path, m.MimeType)
		if err != nil {
			s.discard(ctx, []string{res.path})
			return fmt.Errorf("%w: metadata %s: %v", ErrInvalidParameter, m.Name, err)
		}
		m.JSONData = data
	}

	ts := now()
	m.Path = res.path
	m.Checksum = res.checksum
	m.ChecksumType = ChecksumSHA256
	m.Size = res.size
	m.Source = Source{URI: self, Internal: true}
	m.CreatedAt = ts
	m.UpdatedAt = ts
	s.observer.PayloadIngested("metadata", res.size)
	return nil
}

// ingestBinary is ingestMetadata for binary bytes.
func (s *service) ingestBinary(ctx context.Context, b *Binary, self, internalPath string) error {
	rc, err := s.openSource(ctx, b.Source, internalPath)
	if err != nil {
		return err
	}
	defer rc.Close()

	res, err := s.store(ctx, rc)
	if err != nil {
		return err
	}

	ts := now()
	b.Path = res.path
	b.Checksum = res.checksum
	b.ChecksumType = ChecksumSHA256
	b.Size = res.size
	b.Source = Source{URI: self, Internal: true}
	b.CreatedAt = ts
	b.UpdatedAt = ts
	s.observer.PayloadIngested("binary", res.size)
	return nil
}

// project parses stored bytes into their inline JSON form.
func (s *service) project(ctx context.Context, path, mimeType string) (any, error) {
	rc, err := s.blobs.Retrieve(ctx, path)
	if err != nil {
		return nil, storeErr("blobs", "retrieve", path, err)
	}
	defer rc.Close()
	return projection.Parse(mimeType, rc)
}

// discard removes blobs written by a failed operation.
func (s *service) discard(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := s.blobs.Delete(ctx, p); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Failed to discard payload", "path", p, "error", err)
		}
	}
}

// preparePayloads ingests new payloads of e and carries over the unchanged
// ones from prev, the stored entity (nil on create).
func (s *service) preparePayloads(ctx context.Context, e, prev *Entity) error {
	for _, m := range e.Metadata {
		var old *Metadata
		if prev != nil {
			old = prev.FindMetadata(m.Name)
		}
		if err := s.prepareMetadata(ctx, m, old, MetadataLocator(e.ID, m.Name), prev); err != nil {
			return err
		}
	}
	for _, b := range e.Binaries {
		var old *Binary
		if prev != nil {
			old = prev.FindBinary(b.Name)
		}
		if err := s.prepareBinary(ctx, e.ID, b, old, prev); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) prepareMetadata(ctx context.Context, m, old *Metadata, self string, prev *Entity) error {
	if m.Source.IsInternal() && old != nil && m.Source.URI == self && old.IndexInline == m.IndexInline {
		m.Path = old.Path
		m.Checksum = old.Checksum
		m.ChecksumType = old.ChecksumType
		m.Size = old.Size
		m.JSONData = old.JSONData
		m.Source = old.Source
		m.CreatedAt = old.CreatedAt
		m.UpdatedAt = old.UpdatedAt
		return nil
	}

	var internalPath string
	if m.Source.IsInternal() {
		var err error
		if internalPath, err = s.internalPath(ctx, prev, m.Source.URI); err != nil {
			return err
		}
	}
	if err := s.ingestMetadata(ctx, m, self, internalPath); err != nil {
		return err
	}
	if old != nil {
		m.CreatedAt = old.CreatedAt
	}
	return nil
}

func (s *service) prepareBinary(ctx context.Context, entityID string, b, old *Binary, prev *Entity) error {
	self := BinaryLocator(entityID, b.Name)
	if b.Source.IsInternal() && old != nil && b.Source.URI == self {
		b.Path = old.Path
		b.Checksum = old.Checksum
		b.ChecksumType = old.ChecksumType
		b.Size = old.Size
		b.Source = old.Source
		b.CreatedAt = old.CreatedAt
		b.UpdatedAt = old.UpdatedAt
	} else {
		var internalPath string
		if b.Source.IsInternal() {
			var err error
			if internalPath, err = s.internalPath(ctx, prev, b.Source.URI); err != nil {
				return err
			}
		}
		if err := s.ingestBinary(ctx, b, self, internalPath); err != nil {
			return err
		}
		if old != nil {
			b.CreatedAt = old.CreatedAt
		}
	}

	for _, m := range b.Metadata {
		var oldMeta *Metadata
		if old != nil {
			oldMeta = old.FindMetadata(m.Name)
		}
		if err := s.prepareMetadata(ctx, m, oldMeta, BinaryMetadataLocator(entityID, b.Name, m.Name), prev); err != nil {
			return err
		}
	}
	return nil
}

// internalPath resolves an internal locator to the blob path it names.
// Locators into prev are resolved without an index read; other entities must
// be readable by the caller.
func (s *service) internalPath(ctx context.Context, prev *Entity, uri string) (string, error) {
	loc, err := parseLocator(uri)
	if err != nil {
		return "", err
	}
	owner := prev
	if owner == nil || owner.ID != loc.entityID {
		if owner, err = s.load(ctx, loc.entityID); err != nil {
			return "", err
		}
		if err := s.authorize(ctx, PermissionRead, owner); err != nil {
			return "", err
		}
	}

	var path string
	switch {
	case loc.binary == "":
		m := owner.FindMetadata(loc.metadata)
		if m == nil {
			return "", fmt.Errorf("%w: %s", ErrMetadataNotFound, uri)
		}
		path = m.Path
	case loc.metadata == "":
		b := owner.FindBinary(loc.binary)
		if b == nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, uri)
		}
		path = b.Path
	default:
		b := owner.FindBinary(loc.binary)
		if b == nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, uri)
		}
		m := b.FindMetadata(loc.metadata)
		if m == nil {
			return "", fmt.Errorf("%w: %s", ErrMetadataNotFound, uri)
		}
		path = m.Path
	}
	if path == "" {
		return "", invalidf("internal source %s has no stored bytes", uri)
	}
	return path, nil
}

// Validation

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\\") && len(name) <= 255
}

func (s *service) validateMetadata(ctx context.Context, m *Metadata) error {
	if m == nil {
		return invalidf("metadata is required")
	}
	if !validName(m.Name) {
		return invalidf("malformed metadata name %q", m.Name)
	}
	if m.Type == "" {
		return invalidf("metadata %s has no type", m.Name)
	}
	if m.MimeType == "" {
		return invalidf("metadata %s has no mime type", m.Name)
	}
	if m.Source.IsZero() {
		return invalidf("metadata %s has no source", m.Name)
	}
	if _, err := s.schemas.SchemaURL(ctx, m.Type); err != nil {
		return fmt.Errorf("metadata %s: %w", m.Name, storeErr("schemas", "get", m.Type, err))
	}
	return nil
}

func (s *service) validateBinary(ctx context.Context, b *Binary) error {
	if b == nil {
		return invalidf("binary is required")
	}
	if !validName(b.Name) {
		return invalidf("malformed binary name %q", b.Name)
	}
	if b.MimeType == "" {
		return invalidf("binary %s has no mime type", b.Name)
	}
	if b.Source.IsZero() {
		return invalidf("binary %s has no source", b.Name)
	}
	seen := make(map[string]bool, len(b.Metadata))
	for _, m := range b.Metadata {
		if err := s.validateMetadata(ctx, m); err != nil {
			return err
		}
		if seen[m.Name] {
			return fmt.Errorf("metadata %s of binary %s %w", m.Name, b.Name, ErrAlreadyExists)
		}
		seen[m.Name] = true
	}
	return nil
}

// validatePayloads checks every descriptor of e and rejects duplicate names.
func (s *service) validatePayloads(ctx context.Context, e *Entity) error {
	seen := make(map[string]bool, len(e.Metadata))
	for _, m := range e.Metadata {
		if err := s.validateMetadata(ctx, m); err != nil {
			return err
		}
		if seen[m.Name] {
			return fmt.Errorf("metadata %s %w", m.Name, ErrAlreadyExists)
		}
		seen[m.Name] = true
	}
	seen = make(map[string]bool, len(e.Binaries))
	for _, b := range e.Binaries {
		if err := s.validateBinary(ctx, b); err != nil {
			return err
		}
		if seen[b.Name] {
			return fmt.Errorf("binary %s %w", b.Name, ErrAlreadyExists)
		}
		seen[b.Name] = true
	}
	return nil
}

// Reading payloads

func (s *service) openAt(ctx context.Context, id string, version int) (*Entity, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, PermissionRead, current); err != nil {
		return nil, err
	}
	return s.entityAt(ctx, current, version)
}

func (s *service) retrieveBlob(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := s.blobs.Retrieve(ctx, path)
	if err != nil {
		return nil, storeErr("blobs", "retrieve", path, err)
	}
	return rc, nil
}

func (s *service) OpenBinary(ctx context.Context, id, name string, version int) (_ *Binary, _ io.ReadCloser, err error) {
	defer s.observe("open_binary", time.Now(), &err)

	e, err := s.openAt(ctx, id, version)
	if err != nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_binary", Err: err}
	}
	b := e.FindBinary(name)
	if b == nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_binary", Err: fmt.Errorf("%w: %s", ErrBinaryNotFound, name)}
	}
	rc, err := s.retrieveBlob(ctx, b.Path)
	if err != nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_binary", Err: err}
	}
	return b, rc, nil
}

func (s *service) OpenMetadata(ctx context.Context, id, name string, version int) (_ *Metadata, _ io.ReadCloser, err error) {
	defer s.observe("open_metadata", time.Now(), &err)

	e, err := s.openAt(ctx, id, version)
	if err != nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_metadata", Err: err}
	}
	m := e.FindMetadata(name)
	if m == nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_metadata", Err: fmt.Errorf("%w: %s", ErrMetadataNotFound, name)}
	}
	rc, err := s.retrieveBlob(ctx, m.Path)
	if err != nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_metadata", Err: err}
	}
	return m, rc, nil
}

func (s *service) OpenBinaryMetadata(ctx context.Context, id, binaryName, name string, version int) (_ *Metadata, _ io.ReadCloser, err error) {
	defer s.observe("open_binary_metadata", time.Now(), &err)

	e, err := s.openAt(ctx, id, version)
	if err != nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_binary_metadata", Err: err}
	}
	b := e.FindBinary(binaryName)
	if b == nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_binary_metadata", Err: fmt.Errorf("%w: %s", ErrBinaryNotFound, binaryName)}
	}
	m := b.FindMetadata(name)
	if m == nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_binary_metadata", Err: fmt.Errorf("%w: %s", ErrMetadataNotFound, name)}
	}
	rc, err := s.retrieveBlob(ctx, m.Path)
	if err != nil {
		return nil, nil, &EntityError{EntityID: id, Op: "open_binary_metadata", Err: err}
	}
	return m, rc, nil
}
