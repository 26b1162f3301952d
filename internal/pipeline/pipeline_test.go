package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/location-resolver/internal/domain"
	"github.com/couchcryptid/location-resolver/internal/observability"
	"github.com/couchcryptid/location-resolver/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

// mockResolver echoes the raw value as output; a value containing "bad"
// fails to resolve.
type mockResolver struct{}

func (m *mockResolver) Resolve(_ context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	if strings.Contains(string(raw.Value), "bad") {
		return domain.OutputEvent{}, errors.New("parse raw report: invalid payload")
	}
	return domain.OutputEvent{Key: raw.Key, Value: raw.Value}, nil
}

type mockLoader struct {
	mu       sync.Mutex
	batches  [][]domain.OutputEvent
	failures int // LoadBatch errors this many times before succeeding
}

func (m *mockLoader) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("broker unavailable")
	}
	m.batches = append(m.batches, events)
	return nil
}

func (m *mockLoader) loaded() []domain.OutputEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutputEvent
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func (m *mockLoader) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func rawEvent(value string, commits *atomic.Int64) domain.RawEvent {
	return domain.RawEvent{
		Value: []byte(value),
		Topic: "raw-displacement-reports",
		Commit: func(context.Context) error {
			commits.Add(1)
			return nil
		},
	}
}

func newTestPipeline(e pipeline.BatchExtractor, l pipeline.BatchLoader) *pipeline.Pipeline {
	return pipeline.New(e, &mockResolver{}, l,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		observability.NewMetricsForTesting(), 10)
}

// --- tests ---

func TestPipelineRun_ProcessesBatchAndCommits(t *testing.T) {
	var commits atomic.Int64
	extractor := &mockExtractor{batches: [][]domain.RawEvent{{
		rawEvent(`{"source":"dtm","record_id":"1"}`, &commits),
		rawEvent(`{"source":"dtm","record_id":"2"}`, &commits),
	}}}
	loader := &mockLoader{}
	p := newTestPipeline(extractor, loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return commits.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Len(t, loader.loaded(), 2)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipelineRun_SkipsUnparseableAndCommitsIt(t *testing.T) {
	var commits atomic.Int64
	extractor := &mockExtractor{batches: [][]domain.RawEvent{{
		rawEvent(`{"source":"dtm","record_id":"1"}`, &commits),
		rawEvent(`bad payload`, &commits),
		rawEvent(`{"source":"dtm","record_id":"3"}`, &commits),
	}}}
	loader := &mockLoader{}
	p := newTestPipeline(extractor, loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// All three offsets commit: two after loading, the bad one on skip.
	require.Eventually(t, func() bool {
		return commits.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	loaded := loader.loaded()
	require.Len(t, loaded, 2)
	for _, out := range loaded {
		assert.NotContains(t, string(out.Value), "bad")
	}
}

func TestPipelineRun_RetriesAfterLoadFailure(t *testing.T) {
	var commits atomic.Int64
	batch := []domain.RawEvent{rawEvent(`{"source":"dtm","record_id":"1"}`, &commits)}
	extractor := &mockExtractor{batches: [][]domain.RawEvent{batch, batch}}
	loader := &mockLoader{failures: 1}
	p := newTestPipeline(extractor, loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// First load fails without committing; the redelivered batch succeeds.
	require.Eventually(t, func() bool {
		return commits.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, loader.batchCount())
}

func TestPipelineRun_StopsOnCancel(t *testing.T) {
	extractor := &mockExtractor{} // blocks immediately
	p := newTestPipeline(extractor, &mockLoader{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}
}

func TestCheckReadiness_BeforeFirstBatch(t *testing.T) {
	p := newTestPipeline(&mockExtractor{}, &mockLoader{})
	assert.Error(t, p.CheckReadiness(context.Background()))
}
