package reconciler

import (
	"context"
	"errors"
	"strings"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/storage"
)

// ReconcileOrphans runs once at boot. A crash between create_pod returning
// and the row update leaves a pod the store does not know about; since pod
// names embed the container id, listing backend inventory lets us re-attach
// them. Pods with no matching active row are logged for the operator, never
// deleted automatically.
func (r *Reconciler) ReconcileOrphans(ctx context.Context) error {
	logger := log.WithComponent("orphan-scan")

	var firstErr error
	for tag, be := range r.platforms {
		pods, err := be.ListPods(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("platform", tag).Msg("orphan scan: listing pods failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, pod := range pods {
			if !strings.HasPrefix(pod.Name, podNamePrefix) {
				continue
			}
			id := strings.TrimPrefix(pod.Name, podNamePrefix)

			c, err := r.store.GetContainer(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				logger.Warn().Str("pod", pod.ID).Str("container_id", id).
					Msg("orphan pod has no row, leaving for operator")
				continue
			}
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}

			if c.Status.State.Active() && c.ResourceName != pod.ID {
				logger.Info().Str("pod", pod.ID).Str("container_id", id).Msg("re-attaching orphan pod")
				c.ResourceName = pod.ID
				if _, err := r.updateContainer(ctx, c); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}
