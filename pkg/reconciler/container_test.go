package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddockhq/paddock/pkg/platform"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

func seedSecret(t *testing.T, f *fixture, ns, name, value string) {
	t.Helper()
	secrets := f.rec.secrets
	ciphertext, nonce, err := secrets.Encrypt([]byte(value))
	require.NoError(t, err)
	require.NoError(t, f.store.CreateSecret(context.Background(), &types.Secret{
		Metadata: types.Metadata{ID: ns + "/" + name, Name: name, Namespace: ns, Owner: "owner@example.com"},
		Value:    ciphertext,
		Nonce:    nonce,
	}))
}

func withSSHPort(pod *platform.Pod) {
	pod.Phase = platform.PodRunning
	pod.Ports = []platform.PortBinding{
		{PrivatePort: 22, PublicPort: 22022, Protocol: "tcp", PublicIP: "198.51.100.7"},
	}
}

func TestCreatePathProvisionsPod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c1", types.ContainerDefined)
	c.Spec.Env = []types.EnvVar{
		{Key: "MODE", Value: "batch"},
		{Key: "DB_PASS", SecretName: "db-pw"},
	}
	seedSecret(t, f, "ns1", "db-pw", "s3cret")
	require.NoError(t, f.store.CreateContainer(ctx, c))

	done := make(chan error, 1)
	go func() { done <- f.rec.ReconcileContainer(ctx, "c1") }()

	// Wait until the create path has registered the pod.
	require.Eventually(t, func() bool {
		got, err := f.store.GetContainer(ctx, "c1")
		return err == nil && got.ResourceName != ""
	}, 2*time.Second, time.Millisecond)

	// Let the watch loop observe a terminal phase and exit.
	f.platform.setPod("pod-paddock-c1", func(p *platform.Pod) { p.Phase = platform.PodCompleted })
	require.NoError(t, <-done)

	got, err := f.store.GetContainer(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "pod-paddock-c1", got.ResourceName)
	require.Equal(t, "H100_SXM", got.Status.Accelerator)
	require.Equal(t, 2.5, got.ResourceCostPerHr)
	require.Equal(t, types.ContainerCompleted, got.Status.State)

	spec := f.platform.lastSpec
	require.Equal(t, "paddock-c1", spec.Name)
	require.Equal(t, "dc1", spec.Datacenter) // preferred region eu-west
	require.Equal(t, "vol-owner@example.com-dc1", spec.VolumeHandle)
	require.Equal(t, "s3cret", spec.Env["DB_PASS"])
	require.Equal(t, "batch", spec.Env["MODE"])
	require.Equal(t, "c1", spec.Env["PADDOCK_CONTAINER_ID"])
	require.NotEmpty(t, spec.Env["PUBLIC_KEY"])
	require.Contains(t, spec.Command[2], "touch /done.txt")

	// Credentials were persisted as namespace secrets.
	for _, name := range []string{"c1-ssh-key", "c1-ssh-pub", "c1-agent-key"} {
		_, err := f.store.GetSecret(ctx, "ns1", name)
		require.NoError(t, err, name)
	}
}

func TestCreateFailsWhenNoAcceleratorAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c2", types.ContainerDefined)
	c.Spec.Accelerators = []string{"2:A40"} // out of stock in the fake inventory
	require.NoError(t, f.store.CreateContainer(ctx, c))

	require.NoError(t, f.rec.ReconcileContainer(ctx, "c2"))

	got, err := f.store.GetContainer(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, types.ContainerFailed, got.Status.State)
	require.Equal(t, "no requested accelerator available", got.Status.Message)
	require.Zero(t, f.platform.createCalls)
}

func TestQueueBlockedTransitionsToQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	holder := newContainer("c3", types.ContainerRunning)
	holder.Spec.Queue = "gpu-q"
	waiter := newContainer("c4", types.ContainerDefined)
	waiter.Spec.Queue = "gpu-q"
	require.NoError(t, f.store.CreateContainer(ctx, holder))
	require.NoError(t, f.store.CreateContainer(ctx, waiter))

	require.NoError(t, f.rec.ReconcileContainer(ctx, "c4"))

	got, err := f.store.GetContainer(ctx, "c4")
	require.NoError(t, err)
	require.Equal(t, types.ContainerQueued, got.Status.State)
	require.Zero(t, f.platform.createCalls)
}

func TestTerminalRowsAreNotResurrected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c5", types.ContainerCompleted)
	require.NoError(t, f.store.CreateContainer(ctx, c))

	require.NoError(t, f.rec.ReconcileContainer(ctx, "c5"))

	got, err := f.store.GetContainer(ctx, "c5")
	require.NoError(t, err)
	require.Equal(t, types.ContainerCompleted, got.Status.State)
	require.Zero(t, f.platform.createCalls)
}

func TestExternalPodDeletionRecordsStopped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c6", types.ContainerRunning)
	c.ResourceName = "pod-gone"
	require.NoError(t, f.store.CreateContainer(ctx, c))

	require.NoError(t, f.rec.ReconcileContainer(ctx, "c6"))

	got, err := f.store.GetContainer(ctx, "c6")
	require.NoError(t, err)
	require.Equal(t, types.ContainerStopped, got.Status.State)
	require.Equal(t, "pod does not exist", got.Status.Message)
}

func TestDoneFileFinalizesToCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c7", types.ContainerCreated)
	c.ResourceName = "pod-7"
	require.NoError(t, f.store.CreateContainer(ctx, c))
	seedSecret(t, f, "ns1", "c7-ssh-key", "fake-key-material")
	f.platform.setPod("pod-7", withSSHPort)
	f.prober.fileExists = true

	require.NoError(t, f.rec.ReconcileContainer(ctx, "c7"))

	got, err := f.store.GetContainer(ctx, "c7")
	require.NoError(t, err)
	require.Equal(t, types.ContainerCompleted, got.Status.State)
	require.Contains(t, f.platform.deleted, "pod-7")
}

func TestErrorBudgetExhaustionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c8", types.ContainerCreated)
	c.ResourceName = "pod-8"
	require.NoError(t, f.store.CreateContainer(ctx, c))
	f.platform.setPod("pod-8", withSSHPort)
	for i := 0; i < errorBudget; i++ {
		f.platform.getErrs = append(f.platform.getErrs,
			platform.NewError(platform.KindTransient, "fake.get_pod", errors.New("flaky")))
	}

	require.NoError(t, f.rec.ReconcileContainer(ctx, "c8"))

	got, err := f.store.GetContainer(ctx, "c8")
	require.NoError(t, err)
	require.Equal(t, types.ContainerFailed, got.Status.State)
	require.Contains(t, got.Status.Message, "error budget")
}

func TestTransientErrorBelowBudgetRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c9", types.ContainerCreated)
	c.ResourceName = "pod-9"
	require.NoError(t, f.store.CreateContainer(ctx, c))
	f.platform.setPod("pod-9", func(p *platform.Pod) { p.Phase = platform.PodCompleted })
	f.platform.getErrs = []error{
		platform.NewError(platform.KindTransient, "fake.get_pod", errors.New("flaky")),
		platform.NewError(platform.KindTransient, "fake.get_pod", errors.New("flaky")),
	}

	require.NoError(t, f.rec.ReconcileContainer(ctx, "c9"))

	got, err := f.store.GetContainer(ctx, "c9")
	require.NoError(t, err)
	require.Equal(t, types.ContainerCompleted, got.Status.State)
}

func TestRunningTimeoutFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c10", types.ContainerCreated)
	c.ResourceName = "pod-10"
	c.Spec.Timeout = "1ms"
	c.Spec.Restart = types.RestartAlways
	require.NoError(t, f.store.CreateContainer(ctx, c))
	seedSecret(t, f, "ns1", "c10-ssh-key", "fake-key-material")
	f.platform.setPod("pod-10", withSSHPort)

	require.NoError(t, f.rec.ReconcileContainer(ctx, "c10"))

	got, err := f.store.GetContainer(ctx, "c10")
	require.NoError(t, err)
	require.Equal(t, types.ContainerFailed, got.Status.State)
	require.Equal(t, "timeout exceeded", got.Status.Message)
	require.Contains(t, f.platform.deleted, "pod-10")
}

func TestSSHNotReachableHoldsCreating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c11", types.ContainerCreated)
	c.ResourceName = "pod-11"
	require.NoError(t, f.store.CreateContainer(ctx, c))
	seedSecret(t, f, "ns1", "c11-ssh-key", "fake-key-material")
	f.platform.setPod("pod-11", withSSHPort)
	f.prober.reachable = false

	done := make(chan error, 1)
	go func() { done <- f.rec.ReconcileContainer(ctx, "c11") }()

	require.Eventually(t, func() bool {
		got, err := f.store.GetContainer(ctx, "c11")
		return err == nil && got.Status.Message == "SSH not yet available"
	}, 2*time.Second, time.Millisecond)

	got, err := f.store.GetContainer(ctx, "c11")
	require.NoError(t, err)
	require.Equal(t, types.ContainerCreating, got.Status.State)
	require.False(t, got.Status.Ready)

	// Unblock by finishing the pod.
	f.platform.setPod("pod-11", func(p *platform.Pod) { p.Phase = platform.PodCompleted })
	require.NoError(t, <-done)
}

func TestDeleteContainerIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := newContainer("c12", types.ContainerRunning)
	c.ResourceName = "pod-12"
	require.NoError(t, f.store.CreateContainer(ctx, c))
	f.platform.setPod("pod-12", withSSHPort)

	require.NoError(t, f.rec.DeleteContainer(ctx, c))
	_, err := f.store.GetContainer(ctx, "c12")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Second delete is a no-op, not an error.
	require.NoError(t, f.rec.DeleteContainer(ctx, c))
}
