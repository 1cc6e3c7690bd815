package simpleentity

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Built-in content model ids.
const (
	ContentModelLevel1 = "level1"
	ContentModelLevel2 = "level2"
	ContentModelData   = "data"
)

// BuiltinContentModels returns the models every catalog starts with.
func BuiltinContentModels() []*ContentModel {
	return []*ContentModel{
		{ID: ContentModelLevel1, Name: "Level 1"},
		{ID: ContentModelLevel2, Name: "Level 2", AllowedParentContentModels: []string{ContentModelLevel1}},
		{ID: ContentModelData, Name: "Data", AllowedParentContentModels: []string{ContentModelLevel2, ContentModelData}},
	}
}

// ensureContentModels seeds the built-in models once. A failed attempt is
// retried on the next call.
func (s *service) ensureContentModels(ctx context.Context) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.seeded {
		return nil
	}

	for _, m := range BuiltinContentModels() {
		_, err := s.models.GetContentModel(ctx, m.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return storeErr("models", "get", m.ID, err)
		}
		if err := s.models.CreateContentModel(ctx, m); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return storeErr("models", "create", m.ID, err)
		}
	}
	s.seeded = true
	s.logger.Debug("Content models seeded")
	return nil
}

// resolveModel returns the model with the given id.
func (s *service) resolveModel(ctx context.Context, id string) (*ContentModel, error) {
	if id == "" {
		return nil, invalidf("content model id is required")
	}
	if err := s.ensureContentModels(ctx); err != nil {
		return nil, err
	}
	m, err := s.models.GetContentModel(ctx, id)
	if err != nil {
		return nil, storeErr("models", "get", id, err)
	}
	return m, nil
}

func (s *service) ContentModel(ctx context.Context, id string) (*ContentModel, error) {
	return s.resolveModel(ctx, id)
}

func (s *service) ContentModels(ctx context.Context) ([]*ContentModel, error) {
	if err := s.ensureContentModels(ctx); err != nil {
		return nil, err
	}
	models, err := s.models.ListContentModels(ctx)
	if err != nil {
		return nil, storeErr("models", "list", "", err)
	}
	slices.SortFunc(models, func(a, b *ContentModel) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return models, nil
}

func (s *service) CreateContentModel(ctx context.Context, m *ContentModel) (err error) {
	defer s.observe("create_content_model", time.Now(), &err)
	if m == nil || !validID(m.ID) {
		return invalidf("malformed content model id")
	}
	if err := s.ensureContentModels(ctx); err != nil {
		return err
	}
	for _, parent := range m.AllowedParentContentModels {
		if parent == m.ID {
			continue
		}
		if _, err := s.resolveModel(ctx, parent); err != nil {
			return fmt.Errorf("allowed parent %s: %w", parent, err)
		}
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if err := s.models.CreateContentModel(ctx, m); err != nil {
		return storeErr("models", "create", m.ID, err)
	}
	s.logger.Info("Content model created", "content_model_id", m.ID)
	return nil
}

func (s *service) DeleteContentModel(ctx context.Context, id string) (err error) {
	defer s.observe("delete_content_model", time.Now(), &err)
	if _, err := s.resolveModel(ctx, id); err != nil {
		return err
	}

	models, err := s.models.ListContentModels(ctx)
	if err != nil {
		return storeErr("models", "list", "", err)
	}
	for _, other := range models {
		if other.ID != id && slices.Contains(other.AllowedParentContentModels, id) {
			return invalidf("content model %s is an allowed parent of %s", id, other.ID)
		}
	}

	inUse, err := s.index.SearchEntities(ctx, SearchQuery{ContentModelID: id, Limit: 1})
	if err != nil {
		return storeErr("index", "search", id, err)
	}
	if inUse.Total > 0 {
		return invalidf("content model %s is used by %d entities", id, inUse.Total)
	}
	if err := s.models.DeleteContentModel(ctx, id); err != nil {
		return storeErr("models", "delete", id, err)
	}
	s.logger.Info("Content model deleted", "content_model_id", id)
	return nil
}
