package fetchpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkgraph/crawler/internal/crawl"
)

// fakeUnit answers fetches in-process. URLs listed in hangOn block until the
// unit is killed, simulating a connection that never completes.
type fakeUnit struct {
	id     int
	hangOn map[string]bool
	killed chan struct{}
	once   sync.Once
}

func newFakeUnit(id int, hangOn map[string]bool) *fakeUnit {
	return &fakeUnit{id: id, hangOn: hangOn, killed: make(chan struct{})}
}

func (u *fakeUnit) ID() int { return u.id }

func (u *fakeUnit) Fetch(url string) (crawl.FetchResult, error) {
	if u.hangOn[url] {
		<-u.killed
		return crawl.FetchResult{}, context.Canceled
	}
	select {
	case <-u.killed:
		return crawl.FetchResult{}, context.Canceled
	default:
	}
	return crawl.FetchResult{URL: url, Success: true}, nil
}

func (u *fakeUnit) Kill() {
	u.once.Do(func() { close(u.killed) })
}

// crashedUnit mimics a worker whose process has already exited: every fetch
// fails immediately.
type crashedUnit struct {
	id int
}

func (u *crashedUnit) ID() int { return u.id }

func (u *crashedUnit) Fetch(string) (crawl.FetchResult, error) {
	return crawl.FetchResult{}, errors.New("worker closed its result stream")
}

func (u *crashedUnit) Kill() {}

func TestSubmitBatchAllComplete(t *testing.T) {
	t.Parallel()

	var spawned atomic.Int32
	factory := func(id int) (Unit, error) {
		spawned.Add(1)
		return newFakeUnit(id, nil), nil
	}
	p, err := New(Config{Size: 3, BatchDeadline: time.Second}, factory, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	urls := []string{"a.com", "b.com", "c.com", "d.com", "e.com"}
	results, recycled, err := p.SubmitBatch(context.Background(), urls)
	require.NoError(t, err)
	require.False(t, recycled)
	require.Len(t, results, len(urls))
	require.Equal(t, int32(3), spawned.Load())

	got := make(map[string]bool)
	for _, res := range results {
		got[res.URL] = true
	}
	for _, u := range urls {
		require.True(t, got[u], "missing result for %s", u)
	}
}

func TestSubmitBatchHungUnitTriggersRecycle(t *testing.T) {
	t.Parallel()

	var spawned atomic.Int32
	factory := func(id int) (Unit, error) {
		spawned.Add(1)
		return newFakeUnit(id, map[string]bool{"hang.example": true}), nil
	}
	p, err := New(Config{Size: 3, BatchDeadline: 100 * time.Millisecond}, factory, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	urls := []string{"hang.example", "a.com", "b.com"}
	results, recycled, err := p.SubmitBatch(context.Background(), urls)
	require.NoError(t, err)
	require.True(t, recycled)
	require.Len(t, results, 2)
	for _, res := range results {
		require.NotEqual(t, "hang.example", res.URL)
	}

	// The whole pool was respawned, not just the hung unit.
	require.Equal(t, int32(6), spawned.Load())

	// The recycled pool keeps working.
	results, recycled, err = p.SubmitBatch(context.Background(), []string{"c.com"})
	require.NoError(t, err)
	require.False(t, recycled)
	require.Len(t, results, 1)
}

func TestSubmitBatchReplacesCrashedUnit(t *testing.T) {
	t.Parallel()

	var spawned atomic.Int32
	factory := func(id int) (Unit, error) {
		if spawned.Add(1) == 1 {
			return &crashedUnit{id: id}, nil
		}
		return newFakeUnit(id, nil), nil
	}
	p, err := New(Config{Size: 1, BatchDeadline: time.Second}, factory, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	// The crashed unit eats the first URL; its replacement finishes the
	// batch. The eaten URL stays pending for a later pass.
	results, recycled, err := p.SubmitBatch(context.Background(), []string{"a.com", "b.com"})
	require.NoError(t, err)
	require.False(t, recycled)
	require.Len(t, results, 1)
	require.Equal(t, "b.com", results[0].URL)
	require.Equal(t, int32(2), spawned.Load())

	// The replacement outlives the batch.
	results, recycled, err = p.SubmitBatch(context.Background(), []string{"a.com"})
	require.NoError(t, err)
	require.False(t, recycled)
	require.Len(t, results, 1)
	require.Equal(t, int32(2), spawned.Load())
}

func TestSubmitBatchAllUnitsCrashed(t *testing.T) {
	t.Parallel()

	var spawned atomic.Int32
	factory := func(id int) (Unit, error) {
		spawned.Add(1)
		return &crashedUnit{id: id}, nil
	}
	p, err := New(Config{Size: 2, BatchDeadline: time.Second}, factory, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	// Every fetch fails, so every batch yields nothing. Each failure must
	// still swap in a fresh unit so the pool never quietly holds dead ones.
	urls := []string{"a.com", "b.com", "c.com"}
	for i := 0; i < 3; i++ {
		results, recycled, err := p.SubmitBatch(context.Background(), urls)
		require.NoError(t, err)
		require.False(t, recycled)
		require.Empty(t, results)
	}
	require.Equal(t, int32(2+3*len(urls)), spawned.Load())
}

func TestSubmitBatchEmpty(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Size: 1}, func(id int) (Unit, error) {
		return newFakeUnit(id, nil), nil
	}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	results, recycled, err := p.SubmitBatch(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, recycled)
	require.Empty(t, results)
}

func TestSubmitBatchContextCancel(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Size: 1, BatchDeadline: time.Minute}, func(id int) (Unit, error) {
		return newFakeUnit(id, map[string]bool{"hang.example": true}), nil
	}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, recycled, err := p.SubmitBatch(ctx, []string{"hang.example"})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, recycled)
}
