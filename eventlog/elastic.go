package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/elastic/go-elasticsearch/v9"
)

const elasticPageSize = 100

const elasticMapping = `{
  "mappings": {
    "properties": {
      "id":         {"type": "keyword"},
      "seq":        {"type": "long"},
      "timestamp":  {"type": "date"},
      "category":   {"type": "keyword"},
      "severity":   {"type": "keyword"},
      "user_id":    {"type": "keyword"},
      "identifier": {"type": "keyword"},
      "source_ip":  {"type": "keyword"},
      "user_agent": {"type": "text"},
      "success":    {"type": "boolean"},
      "code":       {"type": "keyword"},
      "detail":     {"type": "object", "enabled": false}
    }
  }
}`

// ElasticStore indexes events in Elasticsearch and searches them newest-first.
type ElasticStore struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticStore returns a store writing to index.
func NewElasticStore(client *elasticsearch.Client, index string) *ElasticStore {
	if index == "" {
		index = "security-events"
	}
	return &ElasticStore{client: client, index: index}
}

// EnsureIndex creates the index with its mapping if it does not exist.
func (s *ElasticStore) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(elasticMapping)),
	)
	if err != nil {
		return fmt.Errorf("elastic event store: create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if bytes.Contains(body, []byte("resource_already_exists_exception")) {
			return nil
		}
		return fmt.Errorf("elastic event store: create index: %s", res.Status())
	}
	return nil
}

func (s *ElasticStore) Emit(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("elastic event store: encode: %w", err)
	}

	res, err := s.client.Index(s.index, bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(event.ID),
	)
	if err != nil {
		return fmt.Errorf("elastic event store: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elastic event store: index: %s", res.Status())
	}
	return nil
}

type searchHit struct {
	Source audit.Event `json:"_source"`
	Sort   []any       `json:"sort"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

// Query pages through results with search_after, one request per page.
func (s *ElasticStore) Query(ctx context.Context, filter audit.Filter) iter.Seq2[audit.Event, error] {
	filter = filter.Normalized()
	return func(yield func(audit.Event, error) bool) {
		remaining := filter.Limit
		var after []any

		for remaining > 0 {
			size := min(remaining, elasticPageSize)
			hits, err := s.search(ctx, filter, size, after)
			if err != nil {
				yield(audit.Event{}, err)
				return
			}

			for _, h := range hits {
				if !yield(h.Source, nil) {
					return
				}
			}
			remaining -= len(hits)
			if len(hits) < size {
				return
			}
			after = hits[len(hits)-1].Sort
		}
	}
}

func (s *ElasticStore) search(ctx context.Context, filter audit.Filter, size int, after []any) ([]searchHit, error) {
	body := map[string]any{
		"size":  size,
		"query": map[string]any{"bool": map[string]any{"filter": elasticFilters(filter)}},
		"sort": []any{
			map[string]any{"timestamp": "desc"},
			map[string]any{"seq": "desc"},
		},
	}
	if len(after) > 0 {
		body["search_after"] = after
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("elastic event store: encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elastic event store: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.New("elastic event store: search: " + res.Status())
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("elastic event store: decode: %w", err)
	}
	return r.Hits.Hits, nil
}

func elasticFilters(f audit.Filter) []any {
	filters := []any{}

	if !f.Since.IsZero() || !f.Until.IsZero() {
		rng := map[string]any{}
		if !f.Since.IsZero() {
			rng["gte"] = f.Since.UTC().Format(time.RFC3339Nano)
		}
		if !f.Until.IsZero() && f.UntilSeq == 0 {
			rng["lt"] = f.Until.UTC().Format(time.RFC3339Nano)
		}
		if len(rng) > 0 {
			filters = append(filters, map[string]any{"range": map[string]any{"timestamp": rng}})
		}
	}
	if !f.Until.IsZero() && f.UntilSeq > 0 {
		until := f.Until.UTC().Format(time.RFC3339Nano)
		filters = append(filters, map[string]any{"bool": map[string]any{
			"minimum_should_match": 1,
			"should": []any{
				map[string]any{"range": map[string]any{"timestamp": map[string]any{"lt": until}}},
				map[string]any{"bool": map[string]any{"filter": []any{
					map[string]any{"term": map[string]any{"timestamp": until}},
					map[string]any{"range": map[string]any{"seq": map[string]any{"lt": f.UntilSeq}}},
				}}},
			},
		}})
	}
	if len(f.Categories) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"category": f.Categories}})
	}
	if f.Severity != "" {
		var allowed []audit.Severity
		for _, sev := range audit.Severities() {
			if sev.Rank() >= f.Severity.Rank() {
				allowed = append(allowed, sev)
			}
		}
		filters = append(filters, map[string]any{"terms": map[string]any{"severity": allowed}})
	}
	if f.UserID != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"user_id": f.UserID}})
	}
	return filters
}
