package task

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/id-verify/internal/verdict"
)

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore(time.Minute)

	tk := New(&SubmittedImages{})
	require.NoError(t, store.Create(tk))
	require.NotEmpty(t, tk.ID)

	got, ok := store.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.StageResults)

	assert.ErrorIs(t, store.Create(tk), ErrDuplicateID)
}

func TestGetReturnsDetachedSnapshot(t *testing.T) {
	store := NewStore(time.Minute)
	tk := New(nil)
	require.NoError(t, store.Create(tk))
	require.NoError(t, store.PutStageResult(tk.ID, verdict.StageIDCard, verdict.StageResult{Valid: true}))

	snap, ok := store.Get(tk.ID)
	require.True(t, ok)

	// Mutating the snapshot must not leak into the store.
	snap.StageResults[verdict.StageFace] = verdict.StageResult{Valid: false}

	again, ok := store.Get(tk.ID)
	require.True(t, ok)
	assert.Len(t, again.StageResults, 1)
}

func TestPutStageResultIsWriteOnce(t *testing.T) {
	store := NewStore(time.Minute)
	tk := New(nil)
	require.NoError(t, store.Create(tk))

	first := verdict.StageResult{Valid: true, Message: "first"}
	second := verdict.StageResult{Valid: false, Message: "second"}
	require.NoError(t, store.PutStageResult(tk.ID, verdict.StageIDCard, first))
	require.NoError(t, store.PutStageResult(tk.ID, verdict.StageIDCard, second))

	got, ok := store.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, "first", got.StageResults[verdict.StageIDCard].Message)

	assert.ErrorIs(t, store.PutStageResult("missing", verdict.StageIDCard, first), ErrNotFound)
}

func TestStatusTransitionsAreForwardOnly(t *testing.T) {
	store := NewStore(time.Minute)
	tk := New(nil)
	require.NoError(t, store.Create(tk))

	require.NoError(t, store.SetStatus(tk.ID, StatusRunning))
	require.NoError(t, store.SetFinalResult(tk.ID, &verdict.Result{Valid: true}, StatusCompleted))

	// A completed task never moves backwards or to failed.
	require.NoError(t, store.SetStatus(tk.ID, StatusPending))
	require.NoError(t, store.SetStatus(tk.ID, StatusRunning))
	require.NoError(t, store.SetStatus(tk.ID, StatusFailed))

	got, ok := store.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.FinalResult)
	assert.True(t, got.FinalResult.Valid)
}

func TestSetFinalResultPublishesOnce(t *testing.T) {
	store := NewStore(time.Minute)
	tk := New(nil)
	require.NoError(t, store.Create(tk))

	require.NoError(t, store.SetFinalResult(tk.ID, &verdict.Result{Valid: true}, StatusCompleted))
	// A racing finalizer loses silently.
	require.NoError(t, store.SetFinalResult(tk.ID, &verdict.Result{Valid: false}, StatusFailed))

	got, ok := store.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.FinalResult.Valid)
	assert.False(t, got.CompletedAt.IsZero())

	err := store.SetFinalResult(tk.ID, &verdict.Result{}, StatusRunning)
	assert.Error(t, err)
}

func TestEvictRespectsTTLAndAbandonedHorizon(t *testing.T) {
	ttl := time.Minute
	store := NewStore(ttl)

	done := New(nil)
	require.NoError(t, store.Create(done))
	require.NoError(t, store.SetFinalResult(done.ID, &verdict.Result{}, StatusCompleted))

	inflight := New(nil)
	require.NoError(t, store.Create(inflight))
	require.NoError(t, store.SetStatus(inflight.ID, StatusRunning))

	// Inside the TTL nothing is evicted.
	assert.Equal(t, 0, store.Evict(time.Now().Add(30*time.Second)))

	// Past the TTL only the terminal task goes.
	assert.Equal(t, 1, store.Evict(time.Now().Add(ttl+time.Second)))
	_, ok := store.Get(done.ID)
	assert.False(t, ok)
	_, ok = store.Get(inflight.ID)
	assert.True(t, ok)

	// Past the abandoned horizon the stuck task goes too.
	assert.Equal(t, 1, store.Evict(time.Now().Add(abandonedFactor*ttl+time.Second)))
	assert.Equal(t, 0, store.Len())
}

func TestConcurrentStageWritesAndReads(t *testing.T) {
	store := NewStore(time.Minute)
	tk := New(nil)
	require.NoError(t, store.Create(tk))

	keys := verdict.AllStages()
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(key verdict.StageKey, i int) {
			defer wg.Done()
			res := verdict.StageResult{Valid: i%2 == 0, Message: fmt.Sprintf("stage-%d", i)}
			assert.NoError(t, store.PutStageResult(tk.ID, key, res))
		}(key, i)
	}

	// Readers race the writers; every snapshot must be internally consistent.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, ok := store.Get(tk.ID)
			if assert.True(t, ok) {
				assert.LessOrEqual(t, len(snap.StageResults), len(keys))
			}
		}()
	}
	wg.Wait()

	got, ok := store.Get(tk.ID)
	require.True(t, ok)
	assert.Len(t, got.StageResults, len(keys))
}

func TestJanitorStops(t *testing.T) {
	store := NewStore(time.Millisecond)
	stop := store.StartJanitor(5 * time.Millisecond)
	stop()
	stop() // idempotent
}
