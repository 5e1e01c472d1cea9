package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddockhq/paddock/pkg/broker"
	"github.com/paddockhq/paddock/pkg/meter"
	"github.com/paddockhq/paddock/pkg/platform"
	"github.com/paddockhq/paddock/pkg/security"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// fakePlatform is a scriptable in-memory backend.
type fakePlatform struct {
	mu          sync.Mutex
	inventory   map[string]platform.AcceleratorType
	datacenters []platform.Datacenter
	pods        map[string]*platform.Pod
	getErrs     []error // consumed, one per GetPod call
	imageUser   string

	createCalls int
	lastSpec    *platform.PodSpec
	deleted     []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		inventory: map[string]platform.AcceleratorType{
			"H100_SXM": {ID: "H100_SXM", BackendID: "H100_SXM", MemoryGB: 80, Available: true, MaxPerPod: 8},
			"A40":      {ID: "A40", BackendID: "A40", MemoryGB: 48, Available: false},
		},
		datacenters: []platform.Datacenter{
			{ID: "dc2", Location: "us-east", StorageSupported: true, Stock: platform.StockMedium},
			{ID: "dc1", Location: "eu-west", StorageSupported: true, Stock: platform.StockHigh},
			{ID: "dc3", Location: "us-west", StorageSupported: false, Stock: platform.StockHigh},
		},
		pods:      map[string]*platform.Pod{},
		imageUser: "root",
	}
}

func (f *fakePlatform) ListAccelerators(ctx context.Context) (map[string]platform.AcceleratorType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]platform.AcceleratorType{}
	for k, v := range f.inventory {
		out[k] = v
	}
	return out, nil
}

func (f *fakePlatform) ListDatacenters(ctx context.Context, acc string, count int) ([]platform.Datacenter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Datacenter{}, f.datacenters...), nil
}

func (f *fakePlatform) EnsureVolume(ctx context.Context, owner, dc string, sizeGB int) (string, error) {
	return "vol-" + owner + "-" + dc, nil
}

func (f *fakePlatform) CreatePod(ctx context.Context, spec *platform.PodSpec) (*platform.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastSpec = spec
	pod := &platform.Pod{
		ID:        "pod-" + spec.Name,
		Name:      spec.Name,
		Phase:     platform.PodPending,
		CostPerHr: 2.5,
	}
	f.pods[pod.ID] = pod
	return pod, nil
}

func (f *fakePlatform) GetPod(ctx context.Context, id string) (*platform.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		return nil, err
	}
	pod, ok := f.pods[id]
	if !ok {
		return nil, platform.NewError(platform.KindNotFound, "fake.get_pod", fmt.Errorf("no pod %s", id))
	}
	cp := *pod
	return &cp, nil
}

func (f *fakePlatform) ListPods(ctx context.Context) ([]*platform.Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*platform.Pod
	for _, p := range f.pods {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakePlatform) DeletePod(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.pods, id)
	return nil
}

func (f *fakePlatform) PullImageConfig(ctx context.Context, image string) (*platform.ImageConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &platform.ImageConfig{User: f.imageUser}, nil
}

// setPod installs or mutates a pod under lock.
func (f *fakePlatform) setPod(id string, fn func(*platform.Pod)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pod, ok := f.pods[id]
	if !ok {
		pod = &platform.Pod{ID: id, Name: id}
		f.pods[id] = pod
	}
	fn(pod)
}

// fakeProber answers SSH probes without a network.
type fakeProber struct {
	mu         sync.Mutex
	reachable  bool
	fileExists bool
	fileErr    error
}

func (f *fakeProber) Reachable(ctx context.Context, addr string, key []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *fakeProber) FileExists(ctx context.Context, addr string, key []byte, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileExists, f.fileErr
}

// fakeBroker serves a fixed backlog.
type fakeBroker struct {
	mu      sync.Mutex
	backlog int64
	groups  map[string]string // stream -> group
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{groups: map[string]string{}}
}

func (f *fakeBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[stream] = group
	return nil
}

func (f *fakeBroker) Backlog(ctx context.Context, stream, group string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backlog, nil
}

func (f *fakeBroker) setBacklog(n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backlog = n
}

func (f *fakeBroker) GetCacheKey(ctx context.Context, ns, key string) (string, error) {
	return "", broker.ErrKeyNotFound
}
func (f *fakeBroker) ListCacheKeys(ctx context.Context, ns string) ([]string, error) { return nil, nil }
func (f *fakeBroker) DeleteCacheKey(ctx context.Context, ns, key string) error {
	return broker.ErrKeyNotFound
}
func (f *fakeBroker) Ping(ctx context.Context) error { return nil }
func (f *fakeBroker) Close() error                   { return nil }

type fixture struct {
	store    *storage.MemoryStore
	platform *fakePlatform
	prober   *fakeProber
	broker   *fakeBroker
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	fp := newFakePlatform()
	prober := &fakeProber{reachable: true}
	brk := newFakeBroker()
	secrets, err := security.NewSecretsManagerFromPassword("test-key")
	require.NoError(t, err)

	rec := New(store, map[string]platform.Platform{"runpod": fp}, secrets, prober,
		meter.NewEmitter("", ""), brk, Config{
			WatchInterval:    time.Millisecond,
			DefaultPlatform:  "runpod",
			PreferredRegions: []string{"eu-west"},
			BrokerURL:        "redis://broker:6379",
			BucketName:       "paddock-data",
		})
	return &fixture{store: store, platform: fp, prober: prober, broker: brk, rec: rec}
}

func newContainer(id string, state types.ContainerState) *types.Container {
	now := time.Now().UTC()
	return &types.Container{
		Metadata: types.Metadata{
			ID:        id,
			Name:      "job-" + id,
			Namespace: "ns1",
			Owner:     "owner@example.com",
			CreatedAt: now,
			UpdatedAt: now,
		},
		Spec: types.ContainerSpec{
			Image:        "img:v1",
			Command:      "python -m main",
			Accelerators: []string{"1:H100_SXM"},
			Restart:      types.RestartNever,
		},
		Desired: types.ContainerRunning,
		Status:  types.ContainerStatus{State: state},
	}
}
