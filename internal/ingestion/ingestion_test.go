package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/storage"
	"lending-risk-lab/internal/storage/memory"
	"lending-risk-lab/internal/subgraph"
)

const account = "0x00000000000000000000000000000000000000a1"

func deposit(txID string, ts int64) *domain.Event {
	amt := decimal.NewFromInt(10)
	return &domain.Event{Account: account, TxID: txID, Timestamp: ts, Type: domain.EventTypeDeposit, Amount: &amt}
}

func flat(txID string, ts int64) map[string]any {
	return deposit(txID, ts).Fields()
}

func TestSink_Store(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	progress := memory.NewIngestProgressStore()
	sink := NewSink(events, progress, nil)

	stats, err := sink.Store(ctx, []*domain.Event{deposit("b", 200), deposit("a", 100)})
	require.NoError(t, err)
	assert.Equal(t, Stats{Stored: 2}, stats)

	p, err := progress.GetLastProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.IngestProgress{Timestamp: 200, TxID: "b"}, *p)

	// Overlapping batch: known rows are skipped, malformed rows are dropped.
	bad := deposit("bad", -1)
	stats, err = sink.Store(ctx, []*domain.Event{deposit("b", 200), nil, deposit("c", 200), bad})
	require.NoError(t, err)
	assert.Equal(t, Stats{Stored: 1, Skipped: 1, Malformed: 2}, stats)

	p, err = progress.GetLastProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.IngestProgress{Timestamp: 200, TxID: "c"}, *p)

	stored, err := events.GetByAccount(ctx, account)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestSink_CursorNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	progress := memory.NewIngestProgressStore()
	require.NoError(t, progress.SetLastProcessed(ctx, &storage.IngestProgress{Timestamp: 500, TxID: "z"}))
	sink := NewSink(memory.NewEventStore(), progress, nil)

	_, err := sink.Store(ctx, []*domain.Event{deposit("old", 100)})
	require.NoError(t, err)

	cur, err := sink.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), cur.Timestamp)
}

func TestSink_WithoutProgressStore(t *testing.T) {
	ctx := context.Background()
	sink := NewSink(memory.NewEventStore(), nil, nil)

	cur, err := sink.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cur)

	_, err = sink.Store(ctx, []*domain.Event{deposit("a", 42)})
	require.NoError(t, err)
	cur, err = sink.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cur.Timestamp)
}

func TestSink_Handle(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	sink := NewSink(events, nil, nil)

	noType := flat("x", 300)
	delete(noType, domain.FieldEventType)

	stats, err := sink.Handle(ctx, []map[string]any{flat("a", 100), noType, flat("b", 200)})
	require.NoError(t, err)
	assert.Equal(t, Stats{Stored: 2, Malformed: 1}, stats)

	stored, err := events.GetByAccount(ctx, account)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "a", stored[0].TxID)
	assert.Equal(t, "b", stored[1].TxID)
}

// fakeSource delivers scripted batches and then returns err.
type fakeSource struct {
	after   int64
	batches [][]map[string]any
	err     error
	block   bool
}

func (f *fakeSource) Subscribe(ctx context.Context, after int64, handle subgraph.Handler) error {
	f.after = after
	for _, b := range f.batches {
		if err := handle(ctx, b); err != nil {
			return err
		}
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func TestRunner_StartsFromOption(t *testing.T) {
	events := memory.NewEventStore()
	progress := memory.NewIngestProgressStore()
	source := &fakeSource{batches: [][]map[string]any{{flat("a", 100), flat("b", 150)}}}

	r := NewRunner(RunnerOptions{Source: source, Sink: NewSink(events, progress, nil), Start: 50})
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, int64(50), source.after)

	p, err := progress.GetLastProcessed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.IngestProgress{Timestamp: 150, TxID: "b"}, *p)
}

func TestRunner_ResumesFromCursor(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	progress := memory.NewIngestProgressStore()
	drop := errors.New("connection reset")

	first := &fakeSource{batches: [][]map[string]any{{flat("a", 100), flat("b", 150)}}, err: drop}
	err := NewRunner(RunnerOptions{Source: first, Sink: NewSink(events, progress, nil), Start: 50}).Run(ctx)
	assert.ErrorIs(t, err, drop)

	// A new process picks up the saved cursor and re-reads its second.
	second := &fakeSource{batches: [][]map[string]any{{flat("b", 150), flat("c", 300)}}}
	require.NoError(t, NewRunner(RunnerOptions{Source: second, Sink: NewSink(events, progress, nil), Start: 50}).Run(ctx))
	assert.Equal(t, int64(149), second.after)

	stored, err := events.GetByAccount(ctx, account)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	p, err := progress.GetLastProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), p.Timestamp)
}

func TestRunner_Cancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := NewRunner(RunnerOptions{
		Source: &fakeSource{block: true},
		Sink:   NewSink(memory.NewEventStore(), nil, nil),
	})
	assert.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
}
