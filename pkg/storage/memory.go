package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/paddockhq/paddock/pkg/types"
)

// MemoryStore is an in-memory Store used by tests and local development. It
// deep-copies on the way in and out so callers never share row memory.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]*types.Namespace // keyed by name
	containers map[string]*types.Container // keyed by id
	processors map[string]*types.Processor // keyed by id
	secrets    map[string]*types.Secret    // keyed by namespace/name
	volumes    map[string]*types.Volume    // keyed by owner/datacenter
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces: make(map[string]*types.Namespace),
		containers: make(map[string]*types.Container),
		processors: make(map[string]*types.Processor),
		secrets:    make(map[string]*types.Secret),
		volumes:    make(map[string]*types.Volume),
	}
}

func clone[T any](in *T) *T {
	data, err := json.Marshal(in)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

// Namespaces

func (s *MemoryStore) CreateNamespace(_ context.Context, ns *types.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns.Metadata.Name]; ok {
		return ErrConflict
	}
	s.namespaces[ns.Metadata.Name] = clone(ns)
	return nil
}

func (s *MemoryStore) GetNamespace(_ context.Context, name string) (*types.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[name]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(ns), nil
}

func (s *MemoryStore) ListNamespaces(_ context.Context) ([]*types.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, clone(ns))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Name < out[j].Metadata.Name })
	return out, nil
}

func (s *MemoryStore) DeleteNamespace(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[name]; !ok {
		return ErrNotFound
	}
	delete(s.namespaces, name)
	return nil
}

// Containers

func (s *MemoryStore) CreateContainer(_ context.Context, c *types.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.containers {
		if existing.Metadata.FullName() == c.Metadata.FullName() {
			return ErrConflict
		}
	}
	s.containers[c.Metadata.ID] = clone(c)
	return nil
}

func (s *MemoryStore) GetContainer(_ context.Context, id string) (*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) GetContainerByName(_ context.Context, namespace, name string) (*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.containers {
		if c.Metadata.Namespace == namespace && c.Metadata.Name == name {
			return clone(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListContainers(_ context.Context, namespace string) ([]*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Container
	for _, c := range s.containers {
		if namespace == "" || c.Metadata.Namespace == namespace {
			out = append(out, clone(c))
		}
	}
	sortContainers(out)
	return out, nil
}

func (s *MemoryStore) ListActiveContainers(_ context.Context) ([]*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Container
	for _, c := range s.containers {
		if c.Status.State.Active() {
			out = append(out, clone(c))
		}
	}
	sortContainers(out)
	return out, nil
}

func (s *MemoryStore) ListContainersByOwnerRef(_ context.Context, ownerRef string) ([]*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Container
	for _, c := range s.containers {
		if c.OwnerRef == ownerRef {
			out = append(out, clone(c))
		}
	}
	sortContainers(out)
	return out, nil
}

func (s *MemoryStore) ListQueuePeers(_ context.Context, queue, excludeID string) ([]*types.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Container
	for _, c := range s.containers {
		if c.Spec.Queue == queue && c.Metadata.ID != excludeID && c.Status.State.Active() {
			out = append(out, clone(c))
		}
	}
	sortContainers(out)
	return out, nil
}

func (s *MemoryStore) UpdateContainer(_ context.Context, c *types.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[c.Metadata.ID]; !ok {
		return ErrNotFound
	}
	s.containers[c.Metadata.ID] = clone(c)
	return nil
}

func (s *MemoryStore) DeleteContainer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers, id)
	return nil
}

// Processors

func (s *MemoryStore) CreateProcessor(_ context.Context, p *types.Processor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.processors {
		if existing.Metadata.FullName() == p.Metadata.FullName() {
			return ErrConflict
		}
	}
	s.processors[p.Metadata.ID] = clone(p)
	return nil
}

func (s *MemoryStore) GetProcessor(_ context.Context, id string) (*types.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) GetProcessorByName(_ context.Context, namespace, name string) (*types.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processors {
		if p.Metadata.Namespace == namespace && p.Metadata.Name == name {
			return clone(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListProcessors(_ context.Context, namespace string) ([]*types.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Processor
	for _, p := range s.processors {
		if namespace == "" || p.Metadata.Namespace == namespace {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.CreatedAt.Before(out[j].Metadata.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListActiveProcessors(_ context.Context) ([]*types.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Processor
	for _, p := range s.processors {
		if p.Status.State.Active() {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.CreatedAt.Before(out[j].Metadata.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateProcessor(_ context.Context, p *types.Processor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processors[p.Metadata.ID]; !ok {
		return ErrNotFound
	}
	s.processors[p.Metadata.ID] = clone(p)
	return nil
}

func (s *MemoryStore) DeleteProcessor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processors, id)
	return nil
}

// Secrets

func (s *MemoryStore) CreateSecret(_ context.Context, sec *types.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sec.Metadata.FullName()
	if _, ok := s.secrets[key]; ok {
		return ErrConflict
	}
	s.secrets[key] = cloneSecret(sec)
	return nil
}

func (s *MemoryStore) GetSecret(_ context.Context, namespace, name string) (*types.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[namespace+"/"+name]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSecret(sec), nil
}

func (s *MemoryStore) ListSecrets(_ context.Context, namespace string) ([]*types.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Secret
	for _, sec := range s.secrets {
		if sec.Metadata.Namespace == namespace {
			out = append(out, cloneSecret(sec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Name < out[j].Metadata.Name })
	return out, nil
}

func (s *MemoryStore) UpdateSecret(_ context.Context, sec *types.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sec.Metadata.FullName()
	if _, ok := s.secrets[key]; !ok {
		return ErrNotFound
	}
	s.secrets[key] = cloneSecret(sec)
	return nil
}

func (s *MemoryStore) DeleteSecret(_ context.Context, namespace, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, namespace+"/"+name)
	return nil
}

// Volumes

func (s *MemoryStore) CreateVolume(_ context.Context, v *types.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := v.Owner + "/" + v.Datacenter
	if _, ok := s.volumes[key]; ok {
		return ErrConflict
	}
	s.volumes[key] = clone(v)
	return nil
}

func (s *MemoryStore) GetVolumeByOwner(_ context.Context, owner, datacenter string) (*types.Volume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[owner+"/"+datacenter]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Secret.Value and Nonce are excluded from JSON, so the generic clone would
// drop them.
func cloneSecret(in *types.Secret) *types.Secret {
	out := clone(in)
	out.Value = append([]byte(nil), in.Value...)
	out.Nonce = append([]byte(nil), in.Nonce...)
	return out
}

func sortContainers(cs []*types.Container) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Metadata.CreatedAt.Equal(cs[j].Metadata.CreatedAt) {
			return cs[i].Metadata.ID < cs[j].Metadata.ID
		}
		return cs[i].Metadata.CreatedAt.Before(cs[j].Metadata.CreatedAt)
	})
}
