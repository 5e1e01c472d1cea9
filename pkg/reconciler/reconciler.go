package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/paddockhq/paddock/pkg/broker"
	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/meter"
	"github.com/paddockhq/paddock/pkg/platform"
	"github.com/paddockhq/paddock/pkg/probe"
	"github.com/paddockhq/paddock/pkg/queue"
	"github.com/paddockhq/paddock/pkg/security"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

const (
	// errorBudget is the number of consecutive watch-iteration failures
	// tolerated before a container is declared Failed.
	errorBudget = 5

	// volumeSizeGB is the fixed size of per-owner network volumes.
	volumeSizeGB = 500

	volumeMountPath = "/data"
	podNamePrefix   = "paddock-"
	doneFile        = "/done.txt"
	sshPort         = 22
)

// Config carries the reconciler's tunables and the built-in environment
// handed to every spawned container.
type Config struct {
	WatchInterval    time.Duration
	PreferredRegions []string

	DefaultPlatform string

	BucketName     string
	BucketRegion   string
	BrokerURL      string
	AuthServerURL  string
	TailnetAuthKey string
	Tailnet        string
	RegistryAuthID string
}

// Reconciler drives containers and processors toward their desired state.
// One instance serves the whole process; per-resource concurrency comes from
// the scheduler spawning goroutines into ReconcileContainer and
// ReconcileProcessor.
type Reconciler struct {
	store     storage.Store
	platforms map[string]platform.Platform
	secrets   *security.SecretsManager
	prober    probe.Prober
	emitter   *meter.Emitter
	broker    broker.Broker
	arbiter   *queue.Arbiter
	cfg       Config
}

// New wires a Reconciler. platforms maps the spec's platform tag to its
// adapter; cfg.DefaultPlatform names the entry used when a spec leaves the
// tag empty.
func New(store storage.Store, platforms map[string]platform.Platform, secrets *security.SecretsManager,
	prober probe.Prober, emitter *meter.Emitter, brk broker.Broker, cfg Config) *Reconciler {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 20 * time.Second
	}
	return &Reconciler{
		store:     store,
		platforms: platforms,
		secrets:   secrets,
		prober:    prober,
		emitter:   emitter,
		broker:    brk,
		arbiter:   queue.NewArbiter(store),
		cfg:       cfg,
	}
}

func (r *Reconciler) platformFor(tag string) (platform.Platform, bool) {
	if tag == "" {
		tag = r.cfg.DefaultPlatform
	}
	p, ok := r.platforms[tag]
	return p, ok
}

// sleep waits for the watch interval or context cancellation.
func (r *Reconciler) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.cfg.WatchInterval):
		return true
	}
}

func podName(id string) string {
	return podNamePrefix + id
}

// updateContainer persists c, treating a vanished row (deleted out from
// under the watcher) as a signal to stop.
func (r *Reconciler) updateContainer(ctx context.Context, c *types.Container) (gone bool, err error) {
	c.Metadata.UpdatedAt = time.Now().UTC()
	err = r.store.UpdateContainer(ctx, c)
	if errors.Is(err, storage.ErrNotFound) {
		logger := log.WithContainerID(c.Metadata.ID)
		logger.Debug().Msg("container row gone, stopping watch")
		return true, nil
	}
	return false, err
}
