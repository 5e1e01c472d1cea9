package storage

import (
	"context"
	"errors"

	"github.com/paddockhq/paddock/pkg/types"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a (namespace, name) pair is already taken
	// for the resource kind.
	ErrConflict = errors.New("already exists")
)

// Store defines the interface for resource persistence. Implemented by the
// Postgres-backed store; the in-memory store backs tests.
type Store interface {
	// Namespaces
	CreateNamespace(ctx context.Context, ns *types.Namespace) error
	GetNamespace(ctx context.Context, name string) (*types.Namespace, error)
	ListNamespaces(ctx context.Context) ([]*types.Namespace, error)
	DeleteNamespace(ctx context.Context, name string) error

	// Containers
	CreateContainer(ctx context.Context, c *types.Container) error
	GetContainer(ctx context.Context, id string) (*types.Container, error)
	GetContainerByName(ctx context.Context, namespace, name string) (*types.Container, error)
	ListContainers(ctx context.Context, namespace string) ([]*types.Container, error)
	ListActiveContainers(ctx context.Context) ([]*types.Container, error)
	ListContainersByOwnerRef(ctx context.Context, ownerRef string) ([]*types.Container, error)
	ListQueuePeers(ctx context.Context, queue, excludeID string) ([]*types.Container, error)
	UpdateContainer(ctx context.Context, c *types.Container) error
	DeleteContainer(ctx context.Context, id string) error

	// Processors
	CreateProcessor(ctx context.Context, p *types.Processor) error
	GetProcessor(ctx context.Context, id string) (*types.Processor, error)
	GetProcessorByName(ctx context.Context, namespace, name string) (*types.Processor, error)
	ListProcessors(ctx context.Context, namespace string) ([]*types.Processor, error)
	ListActiveProcessors(ctx context.Context) ([]*types.Processor, error)
	UpdateProcessor(ctx context.Context, p *types.Processor) error
	DeleteProcessor(ctx context.Context, id string) error

	// Secrets
	CreateSecret(ctx context.Context, s *types.Secret) error
	GetSecret(ctx context.Context, namespace, name string) (*types.Secret, error)
	ListSecrets(ctx context.Context, namespace string) ([]*types.Secret, error)
	UpdateSecret(ctx context.Context, s *types.Secret) error
	DeleteSecret(ctx context.Context, namespace, name string) error

	// Volumes
	CreateVolume(ctx context.Context, v *types.Volume) error
	GetVolumeByOwner(ctx context.Context, owner, datacenter string) (*types.Volume, error)

	// Utility
	Close() error
}
