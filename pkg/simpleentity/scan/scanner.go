// Package scan runs a processor over every entity matching a search query,
// for bulk state changes, backfills and reports.
package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// DefaultBatchSize is the search page size used when none is set.
const DefaultBatchSize = 100

// Processor handles one matching entity. An error marks the entity as failed
// and the scan continues with the next one.
type Processor interface {
	Process(ctx context.Context, e *simpleentity.Entity) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, e *simpleentity.Entity) error

func (f ProcessorFunc) Process(ctx context.Context, e *simpleentity.Entity) error {
	return f(ctx, e)
}

// Scanner queries entities and processes them with the provided processor.
type Scanner struct {
	service simpleentity.Service
	logger  *slog.Logger
}

// New creates a new Scanner. A nil logger uses slog.Default().
func New(service simpleentity.Service, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{service: service, logger: logger}
}

// Options configures a scan.
type Options struct {
	// Query selects the entities; its Offset and Limit are ignored
	Query simpleentity.SearchQuery

	// Processor is required unless DryRun is set
	Processor Processor

	BatchSize int

	// DryRun reports the matching entities without processing them
	DryRun bool

	// OnProgress is called after each batch with the processed and found counts
	OnProgress func(processed, total int)
}

// Result summarizes a scan.
type Result struct {
	TotalFound     int      `json:"total_found"`
	TotalProcessed int      `json:"total_processed"`
	TotalFailed    int      `json:"total_failed"`
	FailedIDs      []string `json:"failed_ids,omitempty"`
}

// Scan collects every match first and then processes the matches in batches,
// so processors may change the fields the query filters on.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("%w: processor is required unless dry run", simpleentity.ErrInvalidParameter)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	matches, err := s.collect(ctx, opts.Query, opts.BatchSize)
	if err != nil {
		return result, err
	}
	result.TotalFound = len(matches)

	for start := 0; start < len(matches); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(matches))
		for _, e := range matches[start:end] {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if opts.DryRun {
				s.logger.Info("Dry run", "entity_id", e.ID, "content_model_id", e.ContentModelID, "state", e.State)
				result.TotalProcessed++
				continue
			}
			if err := opts.Processor.Process(ctx, e); err != nil {
				result.TotalFailed++
				result.FailedIDs = append(result.FailedIDs, e.ID)
				s.logger.Warn("Failed to process entity", "entity_id", e.ID, "error", err)
				continue
			}
			result.TotalProcessed++
		}
		if opts.OnProgress != nil {
			opts.OnProgress(result.TotalProcessed+result.TotalFailed, result.TotalFound)
		}
	}
	return result, nil
}

// ForEach processes every entity matching q with fn.
func (s *Scanner) ForEach(ctx context.Context, q simpleentity.SearchQuery, fn func(context.Context, *simpleentity.Entity) error) (*Result, error) {
	return s.Scan(ctx, Options{Query: q, Processor: ProcessorFunc(fn)})
}

func (s *Scanner) collect(ctx context.Context, q simpleentity.SearchQuery, batch int) ([]*simpleentity.Entity, error) {
	var matches []*simpleentity.Entity
	for offset := 0; ; offset += batch {
		q.Offset, q.Limit = offset, batch
		page, err := s.service.Search(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to search entities: %w", err)
		}
		matches = append(matches, page.Entities...)
		if offset+batch >= page.Total {
			return matches, nil
		}
	}
}
