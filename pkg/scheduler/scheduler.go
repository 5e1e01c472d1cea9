package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// Reconciler is the per-resource work the scheduler dispatches.
type Reconciler interface {
	ReconcileContainer(ctx context.Context, id string) error
	ReconcileProcessor(ctx context.Context, id string) error
}

// handle tracks one spawned reconcile goroutine. done is closed when the
// goroutine returns.
type handle struct {
	threadID string
	done     chan struct{}
}

func (h *handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Scheduler scans the store on a fixed tick and spawns one reconcile
// goroutine per active resource, deduplicating in-flight work so a slow
// reconcile is never doubled up. Thread ids are persisted to controller_data
// for operator debugging; they are advisory and treated as stale after a
// restart.
type Scheduler struct {
	store    storage.Store
	rec      Reconciler
	interval time.Duration

	mu         sync.Mutex
	containers map[string]*handle
	processors map[string]*handle

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler ticking at interval.
func New(store storage.Store, rec Reconciler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Scheduler{
		store:      store,
		rec:        rec,
		interval:   interval,
		containers: map[string]*handle{},
		processors: map[string]*handle{},
		stopCh:     make(chan struct{}),
	}
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		startLogger := log.WithComponent("scheduler")
		startLogger.Info().Dur("interval", s.interval).Msg("scheduler started")
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for in-flight reconciles to return.
// Callers cancel the Start context first so watch loops exit promptly.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Tick runs a single scheduling pass. Exported so boot code and tests can
// drive the scheduler without the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	logger := log.WithComponent("scheduler")

	containers, err := s.store.ListActiveContainers(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("listing active containers failed")
	} else {
		byState := map[string]int{}
		for _, c := range containers {
			byState[string(c.Status.State)]++
			s.dispatchContainer(ctx, c)
		}
		for state, n := range byState {
			metrics.ContainersTotal.WithLabelValues(state).Set(float64(n))
		}
	}

	processors, err := s.store.ListActiveProcessors(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("listing active processors failed")
		return
	}
	byState := map[string]int{}
	for _, p := range processors {
		byState[string(p.Status.State)]++
		s.dispatchProcessor(ctx, p)
	}
	for state, n := range byState {
		metrics.ProcessorsTotal.WithLabelValues(state).Set(float64(n))
	}
}

func (s *Scheduler) dispatchContainer(ctx context.Context, c *types.Container) {
	s.mu.Lock()
	if h, ok := s.containers[c.Metadata.ID]; ok {
		if !h.finished() {
			s.mu.Unlock()
			return
		}
		delete(s.containers, c.Metadata.ID)
	}

	h := &handle{threadID: uuid.NewString(), done: make(chan struct{})}
	s.containers[c.Metadata.ID] = h
	s.mu.Unlock()

	c.ControllerData.ThreadID = h.threadID
	if err := s.store.UpdateContainer(ctx, c); err != nil {
		logger := log.WithContainerID(c.Metadata.ID)
		logger.Debug().Err(err).Msg("thread id persist failed")
	}

	id := c.Metadata.ID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		if err := s.rec.ReconcileContainer(ctx, id); err != nil {
			logger := log.WithContainerID(id)
			logger.Error().Err(err).Msg("container reconcile failed")
		}
	}()
}

func (s *Scheduler) dispatchProcessor(ctx context.Context, p *types.Processor) {
	s.mu.Lock()
	if h, ok := s.processors[p.Metadata.ID]; ok {
		if !h.finished() {
			s.mu.Unlock()
			return
		}
		delete(s.processors, p.Metadata.ID)
	}

	h := &handle{threadID: uuid.NewString(), done: make(chan struct{})}
	s.processors[p.Metadata.ID] = h
	s.mu.Unlock()

	p.ControllerData.ThreadID = h.threadID
	if err := s.store.UpdateProcessor(ctx, p); err != nil {
		logger := log.WithProcessorID(p.Metadata.ID)
		logger.Debug().Err(err).Msg("thread id persist failed")
	}

	id := p.Metadata.ID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		if err := s.rec.ReconcileProcessor(ctx, id); err != nil {
			logger := log.WithProcessorID(id)
			logger.Error().Err(err).Msg("processor reconcile failed")
		}
	}()
}

// InFlight reports the number of live container and processor reconciles.
func (s *Scheduler) InFlight() (containers, processors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.containers {
		if !h.finished() {
			containers++
		}
	}
	for _, h := range s.processors {
		if !h.finished() {
			processors++
		}
	}
	return containers, processors
}
