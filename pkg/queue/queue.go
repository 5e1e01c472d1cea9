/*
Package queue implements FIFO admission for named container queues.

A queue is a mutex with a waiting line: at most one container per queue runs
at a time, and waiting containers are admitted strictly by creation time.
Starvation is accepted; a long-running holder keeps newer arrivals waiting
until it reaches a terminal state. Operators split queues when they need
isolation.
*/
package queue

import (
	"context"

	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// Arbiter decides queue admission against the store.
type Arbiter struct {
	store storage.Store
}

// NewArbiter returns an Arbiter backed by store.
func NewArbiter(store storage.Store) *Arbiter {
	return &Arbiter{store: store}
}

// Admit reports whether c may proceed past its queue. The returned head id
// identifies the container currently holding (or next in line for) the
// queue, for logging.
//
// A container is admitted when no peer in the same queue is active outside
// Queued, and it is the earliest-created waiting container. Ties on
// created_at break by id ascending.
func (a *Arbiter) Admit(ctx context.Context, c *types.Container) (bool, string, error) {
	if c.Spec.Queue == "" {
		return true, "", nil
	}

	peers, err := a.store.ListQueuePeers(ctx, c.Spec.Queue, c.Metadata.ID)
	if err != nil {
		return false, "", err
	}

	// A peer already past Queued holds the queue.
	for _, p := range peers {
		if p.Status.State.Active() && p.Status.State != types.ContainerQueued {
			metrics.QueueBlockedTotal.WithLabelValues(c.Spec.Queue).Inc()
			return false, p.Metadata.ID, nil
		}
	}

	// The queue is free: the earliest waiter goes.
	head := c
	for _, p := range peers {
		if earlier(p, head) {
			head = p
		}
	}
	if head.Metadata.ID != c.Metadata.ID {
		metrics.QueueBlockedTotal.WithLabelValues(c.Spec.Queue).Inc()
		return false, head.Metadata.ID, nil
	}
	return true, c.Metadata.ID, nil
}

func earlier(a, b *types.Container) bool {
	if a.Metadata.CreatedAt.Equal(b.Metadata.CreatedAt) {
		return a.Metadata.ID < b.Metadata.ID
	}
	return a.Metadata.CreatedAt.Before(b.Metadata.CreatedAt)
}
