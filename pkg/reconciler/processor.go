package reconciler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/types"
)

const defaultScaleStep = 1

// ReconcileProcessor runs one reconcile pass of a processor: backlog
// sampling, scale-rule evaluation, and replica convergence. Unlike the
// container watch loop this is single-shot; the scheduler's tick cadence
// provides the sampling rhythm and the observation windows live in
// controller_data.
func (r *Reconciler) ReconcileProcessor(ctx context.Context, id string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues("processor"))
	metrics.ReconcileCyclesTotal.WithLabelValues("processor").Inc()

	p, err := r.store.GetProcessor(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.State.Terminal() {
		return nil
	}
	logger := log.WithProcessorID(id)

	if p.Status.State == types.ProcessorDefined {
		if p.Desired != types.ProcessorRunning {
			return nil
		}
		if err := r.createProcessor(ctx, p); err != nil {
			metrics.ReconcileErrorsTotal.WithLabelValues("processor").Inc()
			return err
		}
	}

	// Backlog drives pressure.
	backlog, err := r.broker.Backlog(ctx, p.Stream, p.Metadata.ID)
	if err != nil {
		metrics.ReconcileErrorsTotal.WithLabelValues("processor").Inc()
		return err
	}
	p.Status.Pressure = backlog
	metrics.ProcessorPressure.WithLabelValues(p.Metadata.ID).Set(float64(backlog))

	r.applyScaleRules(p, backlog, time.Now().UTC())

	if err := r.converge(ctx, p); err != nil {
		metrics.ReconcileErrorsTotal.WithLabelValues("processor").Inc()
		return err
	}

	logger.Debug().
		Int64("backlog", backlog).
		Int("desired_replicas", p.DesiredReplicas).
		Msg("processor reconciled")
	p.Metadata.UpdatedAt = time.Now().UTC()
	return r.store.UpdateProcessor(ctx, p)
}

// createProcessor initializes a freshly defined processor: consumer group,
// initial replica target.
func (r *Reconciler) createProcessor(ctx context.Context, p *types.Processor) error {
	p.Status.State = types.ProcessorCreating
	p.Status.Message = ""
	if err := r.store.UpdateProcessor(ctx, p); err != nil {
		return err
	}

	if err := r.broker.EnsureGroup(ctx, p.Stream, p.Metadata.ID); err != nil {
		return err
	}

	if p.DesiredReplicas < p.MinReplicas {
		p.DesiredReplicas = p.MinReplicas
	}
	if p.MaxReplicas > 0 && p.DesiredReplicas > p.MaxReplicas {
		p.DesiredReplicas = p.MaxReplicas
	}
	p.Status.State = types.ProcessorCreated
	return r.store.UpdateProcessor(ctx, p)
}

// applyScaleRules evaluates the up/down/zero windows against the sampled
// backlog. Window start timestamps persist in controller_data so the
// evaluation survives restarts and in-between ticks.
func (r *Reconciler) applyScaleRules(p *types.Processor, backlog int64, now time.Time) {
	cd := &p.ControllerData

	// Maintain observation windows.
	if up := p.Scale.Up; up != nil && backlog >= up.AbovePressure {
		if cd.AboveSince == nil {
			cd.AboveSince = &now
		}
	} else {
		cd.AboveSince = nil
	}
	if down := p.Scale.Down; down != nil && backlog <= down.BelowPressure {
		if cd.BelowSince == nil {
			cd.BelowSince = &now
		}
	} else {
		cd.BelowSince = nil
	}
	if p.Scale.Zero != nil && backlog == 0 {
		if cd.ZeroSince == nil {
			cd.ZeroSince = &now
		}
	} else {
		cd.ZeroSince = nil
	}

	held := func(since *time.Time, durStr string) bool {
		if since == nil {
			return false
		}
		d, err := time.ParseDuration(durStr)
		if err != nil {
			return false
		}
		return now.Sub(*since) >= d
	}
	step := func(s int) int {
		if s <= 0 {
			return defaultScaleStep
		}
		return s
	}

	current := p.DesiredReplicas
	switch {
	case p.Scale.Up != nil && held(cd.AboveSince, p.Scale.Up.Duration):
		p.DesiredReplicas = min(current+step(p.Scale.Up.Step), p.MaxReplicas)
		cd.AboveSince = nil
		if p.DesiredReplicas != current {
			metrics.AutoscaleDecisionsTotal.WithLabelValues("up").Inc()
		}
	case p.Scale.Down != nil && held(cd.BelowSince, p.Scale.Down.Duration) && current > p.MinReplicas:
		p.DesiredReplicas = max(current-step(p.Scale.Down.Step), p.MinReplicas)
		cd.BelowSince = nil
		if p.DesiredReplicas != current {
			metrics.AutoscaleDecisionsTotal.WithLabelValues("down").Inc()
		}
	case p.Scale.Zero != nil && held(cd.ZeroSince, p.Scale.Zero.Duration):
		p.DesiredReplicas = 0
		cd.ZeroSince = nil
		if current != 0 {
			metrics.AutoscaleDecisionsTotal.WithLabelValues("zero").Inc()
		}
	}

	// Clamp, except for an explicit scale-to-zero.
	if p.DesiredReplicas != 0 || p.Scale.Zero == nil {
		if p.DesiredReplicas < p.MinReplicas {
			p.DesiredReplicas = p.MinReplicas
		}
	}
	if p.MaxReplicas > 0 && p.DesiredReplicas > p.MaxReplicas {
		p.DesiredReplicas = p.MaxReplicas
	}
}

// converge creates or removes replica container rows until the active count
// matches desired_replicas. Newly created rows enter the normal container
// reconcile path on the next scheduler tick.
func (r *Reconciler) converge(ctx context.Context, p *types.Processor) error {
	replicas, err := r.store.ListContainersByOwnerRef(ctx, p.Metadata.ID)
	if err != nil {
		return err
	}
	var active []*types.Container
	for _, c := range replicas {
		if c.Status.State.Active() {
			active = append(active, c)
		}
	}

	switch {
	case len(active) < p.DesiredReplicas:
		for i := len(active); i < p.DesiredReplicas; i++ {
			if err := r.spawnReplica(ctx, p); err != nil {
				return err
			}
		}
	case len(active) > p.DesiredReplicas:
		// Shed the newest first; the oldest replicas keep their stream
		// position warm.
		sort.Slice(active, func(i, j int) bool {
			return active[i].Metadata.CreatedAt.After(active[j].Metadata.CreatedAt)
		})
		for _, c := range active[:len(active)-p.DesiredReplicas] {
			if err := r.DeleteContainer(ctx, c); err != nil {
				return err
			}
		}
	}

	switch {
	case len(active) != p.DesiredReplicas:
		p.Status.State = types.ProcessorScaling
		p.Status.Message = fmt.Sprintf("%d/%d replicas", len(active), p.DesiredReplicas)
	case p.DesiredReplicas == 0:
		p.Status.State = types.ProcessorPending
		p.Status.Message = "scaled to zero"
	default:
		p.Status.State = types.ProcessorRunning
		p.Status.Message = ""
	}
	return nil
}

// spawnReplica stamps the processor's container template into a new row.
func (r *Reconciler) spawnReplica(ctx context.Context, p *types.Processor) error {
	id := uuid.NewString()
	spec := p.Container
	spec.Env = append([]types.EnvVar{
		{Key: "PADDOCK_STREAM", Value: p.Stream},
		{Key: "PADDOCK_CONSUMER_GROUP", Value: p.Metadata.ID},
		{Key: "PADDOCK_SCHEMA", Value: p.Schema},
		{Key: "PADDOCK_COMMON_SCHEMA", Value: p.CommonSchema},
	}, spec.Env...)

	labels := map[string]string{"processor": p.Metadata.ID}
	for k, v := range p.Metadata.Labels {
		labels[k] = v
	}

	now := time.Now().UTC()
	c := &types.Container{
		Metadata: types.Metadata{
			ID:        id,
			Name:      fmt.Sprintf("%s-%s", p.Metadata.Name, id[:8]),
			Namespace: p.Metadata.Namespace,
			Owner:     p.Metadata.Owner,
			CreatedBy: p.Metadata.CreatedBy,
			Labels:    labels,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Spec:     spec,
		Desired:  types.ContainerRunning,
		Status:   types.ContainerStatus{State: types.ContainerDefined},
		OwnerRef: p.Metadata.ID,
	}
	logger := log.WithProcessorID(p.Metadata.ID)
	logger.Info().Str("container_id", id).Msg("spawning replica")
	return r.store.CreateContainer(ctx, c)
}

// DeleteProcessor tears down a processor and every replica it owns.
func (r *Reconciler) DeleteProcessor(ctx context.Context, p *types.Processor) error {
	replicas, err := r.store.ListContainersByOwnerRef(ctx, p.Metadata.ID)
	if err != nil {
		return err
	}
	for _, c := range replicas {
		if err := r.DeleteContainer(ctx, c); err != nil {
			return err
		}
	}
	if err := r.store.DeleteProcessor(ctx, p.Metadata.ID); err != nil {
		return err
	}
	metrics.ProcessorPressure.DeleteLabelValues(p.Metadata.ID)
	return nil
}
