package output

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

const searchPrimaryKey = "id"

// DocumentIndex is the part of a meilisearch index the sink writes to
type DocumentIndex interface {
	UpdateDocumentsWithContext(ctx context.Context, documentsPtr interface{}, opts *meilisearch.DocumentOptions) (*meilisearch.TaskInfo, error)
}

type indexSettings interface {
	UpdateSearchableAttributesWithContext(ctx context.Context, request *[]string) (*meilisearch.TaskInfo, error)
	UpdateSortableAttributesWithContext(ctx context.Context, request *[]string) (*meilisearch.TaskInfo, error)
}

// SearchSink indexes detected text in Meilisearch so it can be queried
type SearchSink struct {
	index DocumentIndex
}

// NewSearchSink connects to Meilisearch and makes sure the index exists.
// Index setup failures are logged; appends still report their own errors.
func NewSearchSink(ctx context.Context, host, apiKey, indexName string) *SearchSink {
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))

	if _, err := client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{
		Uid:        indexName,
		PrimaryKey: searchPrimaryKey,
	}); err != nil {
		log.Printf("[output] meilisearch create index %s: %v", indexName, err)
	}

	index := client.Index(indexName)
	configureIndex(ctx, index, indexName)

	return &SearchSink{index: index}
}

// configureIndex sets the searchable and sortable attributes, logging and
// returning every failure.
func configureIndex(ctx context.Context, index indexSettings, indexName string) error {
	var errs []error
	if _, err := index.UpdateSearchableAttributesWithContext(ctx, &[]string{"text", "object_key"}); err != nil {
		log.Printf("[output] meilisearch searchable attributes %s: %v", indexName, err)
		errs = append(errs, fmt.Errorf("searchable attributes: %w", err))
	}
	if _, err := index.UpdateSortableAttributesWithContext(ctx, &[]string{"sequence", "detected_at"}); err != nil {
		log.Printf("[output] meilisearch sortable attributes %s: %v", indexName, err)
		errs = append(errs, fmt.Errorf("sortable attributes: %w", err))
	}
	return errors.Join(errs...)
}

// NewSearchSinkFromIndex wraps an existing index
func NewSearchSinkFromIndex(index DocumentIndex) *SearchSink {
	return &SearchSink{index: index}
}

// DocumentID builds a meilisearch-safe id (a-z A-Z 0-9 - _) for a record
func DocumentID(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d-", rec.Sequence)
	for _, r := range rec.Key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (s *SearchSink) Append(ctx context.Context, rec Record) error {
	doc := map[string]interface{}{
		searchPrimaryKey: DocumentID(rec),
		"sequence":       rec.Sequence,
		"object_key":     rec.Key,
		"lines":          rec.Text,
		"text":           strings.Join(rec.Text, "\n"),
		"detected_at":    rec.DetectedAt.UTC().Format(time.RFC3339),
	}

	pk := searchPrimaryKey
	if _, err := s.index.UpdateDocumentsWithContext(ctx, []map[string]interface{}{doc}, &meilisearch.DocumentOptions{PrimaryKey: &pk}); err != nil {
		return errors.NewSinkFailedError("meilisearch", rec.Key, rec.Sequence, err)
	}
	return nil
}

func (s *SearchSink) Close() error { return nil }
