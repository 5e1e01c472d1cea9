package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddockhq/paddock/pkg/types"
)

func testContainer(id, ns, name string, state types.ContainerState) *types.Container {
	return &types.Container{
		Metadata: types.Metadata{
			ID:        id,
			Name:      name,
			Namespace: ns,
			Owner:     "owner@example.com",
			CreatedAt: time.Now().UTC(),
		},
		Spec:    types.ContainerSpec{Image: "img:v1"},
		Desired: types.ContainerRunning,
		Status:  types.ContainerStatus{State: state},
	}
}

func TestMemoryStoreContainerCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c := testContainer("c1", "ns1", "job", types.ContainerDefined)
	require.NoError(t, s.CreateContainer(ctx, c))

	got, err := s.GetContainer(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "ns1/job", got.Metadata.FullName())

	byName, err := s.GetContainerByName(ctx, "ns1", "job")
	require.NoError(t, err)
	require.Equal(t, "c1", byName.Metadata.ID)

	got.Status.State = types.ContainerRunning
	require.NoError(t, s.UpdateContainer(ctx, got))

	again, err := s.GetContainer(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, types.ContainerRunning, again.Status.State)

	require.NoError(t, s.DeleteContainer(ctx, "c1"))
	_, err = s.GetContainer(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDuplicateFullName(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateContainer(ctx, testContainer("c1", "ns1", "job", types.ContainerDefined)))

	err := s.CreateContainer(ctx, testContainer("c2", "ns1", "job", types.ContainerDefined))
	require.ErrorIs(t, err, ErrConflict)

	// Same name in a different namespace is fine.
	require.NoError(t, s.CreateContainer(ctx, testContainer("c3", "ns2", "job", types.ContainerDefined)))
}

func TestMemoryStoreListActiveContainers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateContainer(ctx, testContainer("c1", "ns1", "a", types.ContainerRunning)))
	require.NoError(t, s.CreateContainer(ctx, testContainer("c2", "ns1", "b", types.ContainerFailed)))
	require.NoError(t, s.CreateContainer(ctx, testContainer("c3", "ns1", "c", types.ContainerQueued)))

	active, err := s.ListActiveContainers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, c := range active {
		require.True(t, c.Status.State.Active())
	}
}

func TestMemoryStoreQueuePeers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := testContainer("c1", "ns1", "a", types.ContainerRunning)
	a.Spec.Queue = "q1"
	b := testContainer("c2", "ns1", "b", types.ContainerQueued)
	b.Spec.Queue = "q1"
	other := testContainer("c3", "ns1", "c", types.ContainerRunning)
	other.Spec.Queue = "q2"
	done := testContainer("c4", "ns1", "d", types.ContainerCompleted)
	done.Spec.Queue = "q1"

	for _, c := range []*types.Container{a, b, other, done} {
		require.NoError(t, s.CreateContainer(ctx, c))
	}

	peers, err := s.ListQueuePeers(ctx, "q1", "c2")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "c1", peers[0].Metadata.ID)
}

func TestMemoryStoreOwnerRef(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := testContainer("c1", "ns1", "a", types.ContainerRunning)
	a.OwnerRef = "proc-1"
	b := testContainer("c2", "ns1", "b", types.ContainerRunning)

	require.NoError(t, s.CreateContainer(ctx, a))
	require.NoError(t, s.CreateContainer(ctx, b))

	replicas, err := s.ListContainersByOwnerRef(ctx, "proc-1")
	require.NoError(t, err)
	require.Len(t, replicas, 1)
	require.Equal(t, "c1", replicas[0].Metadata.ID)
}

func TestMemoryStoreClonesRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c := testContainer("c1", "ns1", "job", types.ContainerDefined)
	require.NoError(t, s.CreateContainer(ctx, c))

	// Mutating the caller's copy must not leak into the store.
	c.Status.State = types.ContainerFailed

	got, err := s.GetContainer(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, types.ContainerDefined, got.Status.State)
}

func TestMemoryStoreSecretsKeepCiphertext(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sec := &types.Secret{
		Metadata: types.Metadata{ID: "s1", Name: "db-pw", Namespace: "ns1", Owner: "o"},
		Value:    []byte{0x01, 0x02},
		Nonce:    []byte{0x03, 0x04},
	}
	require.NoError(t, s.CreateSecret(ctx, sec))

	got, err := s.GetSecret(ctx, "ns1", "db-pw")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, got.Value)
	require.Equal(t, []byte{0x03, 0x04}, got.Nonce)

	err = s.CreateSecret(ctx, sec)
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStoreNamespaces(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ns := &types.Namespace{Metadata: types.Metadata{ID: "n1", Name: "ns1", Owner: "bob@x"}}
	require.NoError(t, s.CreateNamespace(ctx, ns))
	require.ErrorIs(t, s.CreateNamespace(ctx, ns), ErrConflict)

	got, err := s.GetNamespace(ctx, "ns1")
	require.NoError(t, err)
	require.Equal(t, "bob@x", got.Metadata.Owner)

	require.NoError(t, s.DeleteNamespace(ctx, "ns1"))
	_, err = s.GetNamespace(ctx, "ns1")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreVolumeIdempotencyKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v := &types.Volume{ID: "v1", Owner: "o", Datacenter: "dc1", Handle: "h1", SizeGB: 500, CreatedAt: time.Now()}
	require.NoError(t, s.CreateVolume(ctx, v))
	require.ErrorIs(t, s.CreateVolume(ctx, v), ErrConflict)

	got, err := s.GetVolumeByOwner(ctx, "o", "dc1")
	require.NoError(t, err)
	require.Equal(t, "h1", got.Handle)

	_, err = s.GetVolumeByOwner(ctx, "o", "dc2")
	require.ErrorIs(t, err, ErrNotFound)
}
