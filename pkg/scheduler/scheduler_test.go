package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// blockingReconciler records concurrency and holds reconciles open until
// released.
type blockingReconciler struct {
	mu         sync.Mutex
	calls      map[string]int
	concurrent map[string]int
	maxPerID   map[string]int
	release    chan struct{}
}

func newBlockingReconciler() *blockingReconciler {
	return &blockingReconciler{
		calls:      map[string]int{},
		concurrent: map[string]int{},
		maxPerID:   map[string]int{},
		release:    make(chan struct{}),
	}
}

func (b *blockingReconciler) enter(id string) {
	b.mu.Lock()
	b.calls[id]++
	b.concurrent[id]++
	if b.concurrent[id] > b.maxPerID[id] {
		b.maxPerID[id] = b.concurrent[id]
	}
	b.mu.Unlock()
	<-b.release
	b.mu.Lock()
	b.concurrent[id]--
	b.mu.Unlock()
}

func (b *blockingReconciler) ReconcileContainer(ctx context.Context, id string) error {
	b.enter(id)
	return nil
}

func (b *blockingReconciler) ReconcileProcessor(ctx context.Context, id string) error {
	b.enter("proc:" + id)
	return nil
}

func activeContainer(id string) *types.Container {
	return &types.Container{
		Metadata: types.Metadata{ID: id, Name: id, Namespace: "ns1", Owner: "o", CreatedAt: time.Now()},
		Spec:     types.ContainerSpec{Image: "img:v1"},
		Desired:  types.ContainerRunning,
		Status:   types.ContainerStatus{State: types.ContainerRunning},
	}
}

func TestTickDedupesInFlightWork(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateContainer(ctx, activeContainer("c1")))

	rec := newBlockingReconciler()
	s := New(store, rec, time.Second)

	// Several ticks while the first reconcile is still running.
	s.Tick(ctx)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.calls["c1"] == 1
	}, time.Second, time.Millisecond)
	s.Tick(ctx)
	s.Tick(ctx)

	rec.mu.Lock()
	require.Equal(t, 1, rec.calls["c1"], "in-flight work must not be doubled")
	require.Equal(t, 1, rec.maxPerID["c1"])
	rec.mu.Unlock()

	close(rec.release)
	s.wg.Wait()
}

func TestTickRespawnsAfterCompletion(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateContainer(ctx, activeContainer("c1")))

	rec := newBlockingReconciler()
	close(rec.release) // reconciles return immediately

	s := New(store, rec, time.Second)
	s.Tick(ctx)
	s.wg.Wait()
	s.Tick(ctx)
	s.wg.Wait()

	rec.mu.Lock()
	require.Equal(t, 2, rec.calls["c1"], "finished handles are evicted and respawned")
	require.Equal(t, 1, rec.maxPerID["c1"])
	rec.mu.Unlock()
}

func TestTickSkipsTerminalRows(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	done := activeContainer("c2")
	done.Status.State = types.ContainerCompleted
	require.NoError(t, store.CreateContainer(ctx, done))

	rec := newBlockingReconciler()
	close(rec.release)

	s := New(store, rec, time.Second)
	s.Tick(ctx)
	s.wg.Wait()

	rec.mu.Lock()
	require.Zero(t, rec.calls["c2"])
	rec.mu.Unlock()
}

func TestTickPersistsThreadID(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateContainer(ctx, activeContainer("c3")))

	rec := newBlockingReconciler()
	close(rec.release)

	s := New(store, rec, time.Second)
	s.Tick(ctx)
	s.wg.Wait()

	got, err := store.GetContainer(ctx, "c3")
	require.NoError(t, err)
	require.NotEmpty(t, got.ControllerData.ThreadID)
}

func TestTickDispatchesProcessors(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	p := &types.Processor{
		Metadata:    types.Metadata{ID: "p1", Name: "p1", Namespace: "ns1", Owner: "o", CreatedAt: time.Now()},
		Stream:      "jobs",
		MinReplicas: 1,
		MaxReplicas: 2,
		Desired:     types.ProcessorRunning,
		Status:      types.ProcessorStatus{State: types.ProcessorRunning},
	}
	require.NoError(t, store.CreateProcessor(ctx, p))

	rec := newBlockingReconciler()
	close(rec.release)

	s := New(store, rec, time.Second)
	s.Tick(ctx)
	s.wg.Wait()

	rec.mu.Lock()
	require.Equal(t, 1, rec.calls["proc:p1"])
	rec.mu.Unlock()
}

func TestStartStop(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := newBlockingReconciler()
	close(rec.release)

	s := New(store, rec, 5*time.Millisecond)
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
