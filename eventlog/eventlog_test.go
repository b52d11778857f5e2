package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/glebarez/sqlite"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var base = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func sampleEvents(n int) []audit.Event {
	out := make([]audit.Event, n)
	for i := range out {
		cat := audit.CategoryAuthFailure
		sev := audit.SeverityWarning
		if i%5 == 0 {
			cat = audit.CategoryTokenRevoked
			sev = audit.SeverityCritical
		}
		out[i] = audit.Event{
			ID:        fmt.Sprintf("ev-%04d", i),
			Seq:       uint64(i + 1),
			Timestamp: base.Add(time.Duration(i/2) * time.Second),
			Category:  cat,
			Severity:  sev,
			UserID:    fmt.Sprintf("u%d", i%3),
			SourceIP:  "198.51.100.7",
			Detail:    map[string]string{"n": fmt.Sprint(i)},
		}
	}
	return out
}

func collect(t *testing.T, seq func(func(audit.Event, error) bool)) []audit.Event {
	t.Helper()
	var out []audit.Event
	for e, err := range seq {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func assertNewestFirst(t *testing.T, events []audit.Event) {
	t.Helper()
	for i := 1; i < len(events); i++ {
		assert.True(t, audit.Newer(events[i-1], events[i]), "position %d out of order", i)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type storeCase struct {
	name string
	open func(t *testing.T) audit.Store
}

func stores() []storeCase {
	return []storeCase{
		{name: "memory", open: func(t *testing.T) audit.Store { return NewMemoryStore(1000) }},
		{name: "gorm", open: func(t *testing.T) audit.Store {
			s := NewGormStore(newTestDB(t))
			require.NoError(t, s.Migrate(context.Background()))
			return s
		}},
	}
}

func TestStoreQueryNewestFirstWithFilters(t *testing.T) {
	t.Parallel()
	for _, sc := range stores() {
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()
			s := sc.open(t)
			ctx := context.Background()
			for _, e := range sampleEvents(250) {
				require.NoError(t, s.Emit(ctx, e))
			}

			all := collect(t, s.Query(ctx, audit.Filter{Limit: 1000}))
			require.Len(t, all, 250)
			assertNewestFirst(t, all)
			assert.Equal(t, "ev-0249", all[0].ID)
			assert.Equal(t, "249", all[0].Detail["n"])

			def := collect(t, s.Query(ctx, audit.Filter{}))
			assert.Len(t, def, audit.DefaultQueryLimit)

			crit := collect(t, s.Query(ctx, audit.Filter{Severity: audit.SeverityCritical, Limit: 1000}))
			assert.Len(t, crit, 50)
			for _, e := range crit {
				assert.Equal(t, audit.CategoryTokenRevoked, e.Category)
			}

			user := collect(t, s.Query(ctx, audit.Filter{UserID: "u1", Categories: []audit.Category{audit.CategoryAuthFailure}, Limit: 1000}))
			for _, e := range user {
				assert.Equal(t, "u1", e.UserID)
				assert.Equal(t, audit.CategoryAuthFailure, e.Category)
			}
			assert.NotEmpty(t, user)

			window := collect(t, s.Query(ctx, audit.Filter{Since: base.Add(10 * time.Second), Until: base.Add(20 * time.Second), Limit: 1000}))
			assert.Len(t, window, 20)
		})
	}
}

func TestStorePaginationByUntil(t *testing.T) {
	t.Parallel()
	for _, sc := range stores() {
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()
			s := sc.open(t)
			ctx := context.Background()
			for i := 0; i < 30; i++ {
				require.NoError(t, s.Emit(ctx, audit.Event{
					ID:        fmt.Sprintf("p-%02d", i),
					Seq:       uint64(i + 1),
					Timestamp: base.Add(time.Duration(i) * time.Second),
					Category:  audit.CategoryAuthSuccess,
					Severity:  audit.SeverityInfo,
				}))
			}

			seen := map[string]bool{}
			var until time.Time
			for page := 0; page < 10; page++ {
				events := collect(t, s.Query(ctx, audit.Filter{Until: until, Limit: 7}))
				if len(events) == 0 {
					break
				}
				for _, e := range events {
					assert.False(t, seen[e.ID])
					seen[e.ID] = true
				}
				until = events[len(events)-1].Timestamp
			}
			assert.Len(t, seen, 30)
		})
	}
}

func TestStorePaginationResumesInsideTiedTimestamp(t *testing.T) {
	t.Parallel()
	for _, sc := range stores() {
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()
			s := sc.open(t)
			ctx := context.Background()
			for i := 0; i < 25; i++ {
				at := base
				if i >= 20 {
					at = base.Add(time.Second)
				}
				require.NoError(t, s.Emit(ctx, audit.Event{
					ID:        fmt.Sprintf("t-%02d", i),
					Seq:       uint64(i + 1),
					Timestamp: at,
					Category:  audit.CategoryAuthFailure,
					Severity:  audit.SeverityWarning,
				}))
			}

			seen := map[string]bool{}
			filter := audit.Filter{Limit: 8}
			for page := 0; page < 10; page++ {
				events := collect(t, s.Query(ctx, filter))
				if len(events) == 0 {
					break
				}
				for _, e := range events {
					assert.False(t, seen[e.ID], e.ID)
					seen[e.ID] = true
				}
				filter = filter.After(events[len(events)-1])
			}
			assert.Len(t, seen, 25)
		})
	}
}

func TestStoreQueryStopsWhenConsumerBreaks(t *testing.T) {
	t.Parallel()
	for _, sc := range stores() {
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()
			s := sc.open(t)
			ctx := context.Background()
			for _, e := range sampleEvents(20) {
				require.NoError(t, s.Emit(ctx, e))
			}

			n := 0
			for _, err := range s.Query(ctx, audit.Filter{}) {
				require.NoError(t, err)
				n++
				if n == 3 {
					break
				}
			}
			assert.Equal(t, 3, n)
		})
	}
}

func TestMemoryStoreRingEvictsOldest(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(10)
	for _, e := range sampleEvents(25) {
		require.NoError(t, s.Emit(context.Background(), e))
	}
	assert.Equal(t, 10, s.Len())

	events := collect(t, s.Query(context.Background(), audit.Filter{}))
	require.Len(t, events, 10)
	assert.Equal(t, "ev-0024", events[0].ID)
	assert.Equal(t, "ev-0015", events[9].ID)
}

func TestMemoryStoreQueryHonorsCancellation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(10)
	require.NoError(t, s.Emit(context.Background(), sampleEvents(1)[0]))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range s.Query(ctx, audit.Filter{}) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w, audit.SeverityWarning)

	require.NoError(t, sink.Emit(context.Background(), audit.Event{ID: "a", Category: audit.CategoryAuthSuccess, Severity: audit.SeverityInfo, UserID: "u1"}))
	require.NoError(t, sink.Emit(context.Background(), audit.Event{ID: "b", Category: audit.CategoryTokenRevoked, Severity: audit.SeverityCritical, UserID: "u1"}))
	require.NoError(t, sink.Emit(context.Background(), audit.Event{ID: "c", Category: audit.CategoryLockout, Severity: audit.SeverityWarning, Identifier: "alice"}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "u1", string(w.msgs[0].Key))
	assert.Equal(t, "alice", string(w.msgs[1].Key))

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "b", decoded.ID)
	assert.Equal(t, audit.SeverityCritical, decoded.Severity)
	assert.Equal(t, "severity", w.msgs[0].Headers[1].Key)

	w.err = errors.New("broker down")
	err := sink.Emit(context.Background(), audit.Event{Severity: audit.SeverityError})
	assert.ErrorContains(t, err, "broker down")
	require.NoError(t, sink.Close())
}

func TestKafkaWriterDoesNotWaitForBatches(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	w := newKafkaWriter([]string{"127.0.0.1:1"}, "security-events", slog.New(slog.NewJSONHandler(&logs, nil)))
	assert.True(t, w.Async)
	assert.Equal(t, "security-events", w.Topic)
	require.NotNil(t, w.Completion)

	w.Completion(nil, nil)
	assert.Empty(t, logs.String())
	w.Completion([]kafka.Message{{Value: []byte("x")}}, errors.New("leader not available"))
	assert.Contains(t, logs.String(), "security events not published")
	assert.Contains(t, logs.String(), "leader not available")

	sink := NewKafkaSink([]string{"127.0.0.1:1"}, "security-events", audit.SeverityInfo, nil)
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, sink.Emit(context.Background(), audit.Event{ID: fmt.Sprint(i), Severity: audit.SeverityWarning}))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestJSONWriterAndMultiSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mem := NewMemoryStore(4)
	failing := audit.SinkFunc(func(context.Context, audit.Event) error { return errors.New("boom") })
	multi := MultiSink{NewJSONWriterSink(&buf), mem, nil, failing}

	err := multi.Emit(context.Background(), audit.Event{ID: "x", Category: audit.CategoryLogout, UserID: "u1"})
	assert.ErrorContains(t, err, "boom")

	assert.Contains(t, buf.String(), `"category":"logout"`)
	assert.Contains(t, buf.String(), `"user_id":"u1"`)
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Equal(t, 1, mem.Len())
}

type fakeElastic struct {
	mu       sync.Mutex
	bodies   []map[string]any
	indexed  map[string][]byte
	pages    [][]searchHit
	pageNext int
}

func (f *fakeElastic) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var raw []byte
	if req.Body != nil {
		raw, _ = io.ReadAll(req.Body)
	}

	status := http.StatusOK
	var payload any = map[string]any{}
	switch {
	case strings.Contains(req.URL.Path, "/_search"):
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		f.bodies = append(f.bodies, body)
		var hits []searchHit
		if f.pageNext < len(f.pages) {
			hits = f.pages[f.pageNext]
			f.pageNext++
		}
		payload = map[string]any{"hits": map[string]any{"hits": hits}}
	case strings.Contains(req.URL.Path, "/_doc/"):
		if f.indexed == nil {
			f.indexed = map[string][]byte{}
		}
		f.indexed[req.URL.Path] = raw
		status = http.StatusCreated
		payload = map[string]any{"result": "created"}
	case req.Method == http.MethodPut:
		status = http.StatusBadRequest
		payload = map[string]any{"error": map[string]any{"type": "resource_already_exists_exception"}}
	}

	out, _ := json.Marshal(payload)
	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(out)),
		Request:    req,
	}, nil
}

func newFakeElasticStore(t *testing.T, fake *fakeElastic) *ElasticStore {
	t.Helper()
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://es.test:9200"},
		Transport: fake,
	})
	require.NoError(t, err)
	return NewElasticStore(client, "sec-events")
}

func TestElasticStoreIndexesAndPagesWithSearchAfter(t *testing.T) {
	t.Parallel()

	page := func(from, n int) []searchHit {
		hits := make([]searchHit, n)
		for i := range hits {
			seq := from - i
			hits[i] = searchHit{
				Source: audit.Event{ID: fmt.Sprintf("e%d", seq), Seq: uint64(seq), Category: audit.CategoryAuthFailure},
				Sort:   []any{float64(seq * 1000), float64(seq)},
			}
		}
		return hits
	}
	fake := &fakeElastic{pages: [][]searchHit{page(150, 100), page(50, 30)}}
	store := newFakeElasticStore(t, fake)
	ctx := context.Background()

	require.NoError(t, store.EnsureIndex(ctx))
	require.NoError(t, store.Emit(ctx, audit.Event{ID: "ev-1", Category: audit.CategoryLockout, UserID: "u1"}))
	require.Contains(t, fake.indexed, "/sec-events/_doc/ev-1")

	events := collect(t, store.Query(ctx, audit.Filter{
		UserID:     "u1",
		Severity:   audit.SeverityError,
		Categories: []audit.Category{audit.CategoryAuthFailure},
		Since:      base,
		Limit:      500,
	}))
	require.Len(t, events, 130)
	assert.Equal(t, "e150", events[0].ID)

	require.Len(t, fake.bodies, 2)
	assert.NotContains(t, fake.bodies[0], "search_after")
	assert.Equal(t, []any{float64(51000), float64(51)}, fake.bodies[1]["search_after"])

	filters := fake.bodies[0]["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	encoded, err := json.Marshal(filters)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"severity":["ERROR","CRITICAL"]`)
	assert.Contains(t, string(encoded), `"user_id":"u1"`)
	assert.Contains(t, string(encoded), `"gte":"2026-02-01T09:00:00Z"`)
}

func TestElasticFiltersResumeAfterCursor(t *testing.T) {
	t.Parallel()

	filters := elasticFilters(audit.Filter{Until: base, UntilSeq: 42})
	require.Len(t, filters, 1)
	require.Contains(t, filters[0], "bool")
	encoded, err := json.Marshal(filters)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"term":{"timestamp":"2026-02-01T09:00:00Z"}`)
	assert.Contains(t, string(encoded), `"seq":{"lt":42}`)
	assert.Contains(t, string(encoded), `"minimum_should_match":1`)

	encoded, err = json.Marshal(elasticFilters(audit.Filter{Until: base}))
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `{"range":{"timestamp":{"lt":"2026-02-01T09:00:00Z"}}}`)
	assert.NotContains(t, string(encoded), "seq")
}
