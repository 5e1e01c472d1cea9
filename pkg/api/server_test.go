package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/broker"
	"github.com/paddockhq/paddock/pkg/security"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// fakeDeleter removes rows without touching any backend, and counts calls.
type fakeDeleter struct {
	store      storage.Store
	containers int
	processors int
}

func (d *fakeDeleter) DeleteContainer(ctx context.Context, c *types.Container) error {
	d.containers++
	return d.store.DeleteContainer(ctx, c.Metadata.ID)
}

func (d *fakeDeleter) DeleteProcessor(ctx context.Context, p *types.Processor) error {
	d.processors++
	return d.store.DeleteProcessor(ctx, p.Metadata.ID)
}

type testServer struct {
	*Server
	store   *storage.MemoryStore
	deleter *fakeDeleter
	redis   *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := storage.NewMemoryStore()
	deleter := &fakeDeleter{store: store}

	mr := miniredis.RunT(t)
	brk := broker.NewRedisBrokerFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	secrets, err := security.NewSecretsManagerFromPassword("test-key")
	require.NoError(t, err)

	seedNamespace(t, store, "demo", "alice@example.com")
	seedNamespace(t, store, "team", "acme")
	seedNamespace(t, store, auth.RootNamespace, "platform")

	srv := NewServer(store, deleter, brk, secrets, auth.HeaderAuthenticator{}, "platform")
	return &testServer{Server: srv, store: store, deleter: deleter, redis: mr}
}

func seedNamespace(t *testing.T, store storage.Store, name, owner string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.CreateNamespace(context.Background(), &types.Namespace{
		Metadata: types.Metadata{
			ID: uuid.NewString(), Name: name, Namespace: name, Owner: owner,
			CreatedAt: now, UpdatedAt: now,
		},
	}))
}

// request performs an authenticated request as the given email.
func (ts *testServer) request(t *testing.T, method, path, email string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if email != "" {
		req.Header.Set("X-Auth-Email", email)
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func containerReq(name, namespace, image string) ContainerRequest {
	return ContainerRequest{
		Metadata: RequestMetadata{Name: name, Namespace: namespace},
		Spec:     types.ContainerSpec{Image: image, Accelerators: []string{"1:H100_SXM"}},
	}
}

func TestCreateContainer(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com",
		containerReq("trainer", "demo", "ghcr.io/demo/train:v1"))
	require.Equal(t, http.StatusCreated, w.Code)

	var c types.Container
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.NotEmpty(t, c.Metadata.ID)
	assert.Equal(t, "alice@example.com", c.Metadata.Owner)
	assert.Equal(t, "alice@example.com", c.Metadata.CreatedBy)
	assert.Equal(t, types.ContainerDefined, c.Status.State)
	assert.Equal(t, types.ContainerRunning, c.Desired)
}

func TestCreateContainerDuplicateName(t *testing.T) {
	ts := newTestServer(t)

	req := containerReq("trainer", "demo", "ghcr.io/demo/train:v1")
	w := ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com", req)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com", req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateContainerRequiresImage(t *testing.T) {
	ts := newTestServer(t)

	req := containerReq("trainer", "demo", "")
	w := ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnauthorizedNamespaceReadsAsNotFound(t *testing.T) {
	ts := newTestServer(t)

	// mallory is not a member of demo's owner: creation must not happen and
	// the response must not reveal that the namespace exists.
	w := ts.request(t, http.MethodPost, "/v1/containers", "mallory@evil.com",
		containerReq("trainer", "demo", "ghcr.io/demo/train:v1"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	list, err := ts.store.ListContainers(context.Background(), "demo")
	require.NoError(t, err)
	assert.Empty(t, list)

	// Same shape for a namespace that genuinely does not exist.
	w = ts.request(t, http.MethodPost, "/v1/containers", "mallory@evil.com",
		containerReq("trainer", "nope", "ghcr.io/demo/train:v1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrgMembershipAuthorizes(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/containers?namespace=team", nil)
	req.Header.Set("X-Auth-Email", "bob@acme.com")
	req.Header.Set("X-Auth-Organizations", "acme:admin")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRootNamespaceRequiresRootOwner(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/containers?namespace=root", nil)
	req.Header.Set("X-Auth-Email", "alice@example.com")
	req.Header.Set("X-Auth-Organizations", "platform:member")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Owner membership alone is not enough for root.
	req = httptest.NewRequest(http.MethodGet, "/v1/containers?namespace=root", nil)
	req.Header.Set("X-Auth-Email", "platform")
	w = httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code) // "platform" email is itself a member of rootOwner

	req = httptest.NewRequest(http.MethodGet, "/v1/containers?namespace=root", nil)
	req.Header.Set("X-Auth-Email", "alice@example.com")
	w = httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnauthenticatedRejected(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodGet, "/v1/containers?namespace=demo", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeleteContainerIdempotent(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com",
		containerReq("trainer", "demo", "ghcr.io/demo/train:v1"))

	w := ts.request(t, http.MethodDelete, "/v1/containers/demo/trainer", "alice@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.deleter.containers)

	w = ts.request(t, http.MethodDelete, "/v1/containers/demo/trainer", "alice@example.com", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.deleter.containers, "absent container must not reach the deleter")
}

func TestPatchContainerLabelsOnly(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com",
		containerReq("trainer", "demo", "ghcr.io/demo/train:v1"))
	before, err := ts.store.GetContainerByName(context.Background(), "demo", "trainer")
	require.NoError(t, err)

	patch := map[string]interface{}{
		"metadata": map[string]interface{}{"labels": map[string]string{"tier": "gold"}},
	}
	w := ts.request(t, http.MethodPatch, "/v1/containers/demo/trainer", "alice@example.com", patch)
	require.Equal(t, http.StatusOK, w.Code)

	after, err := ts.store.GetContainerByName(context.Background(), "demo", "trainer")
	require.NoError(t, err)
	assert.Equal(t, before.Metadata.ID, after.Metadata.ID, "label patch must not recreate")
	assert.Equal(t, "gold", after.Metadata.Labels["tier"])
	assert.Zero(t, ts.deleter.containers)
}

func TestPatchContainerSpecChangeRecreates(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com",
		containerReq("trainer", "demo", "ghcr.io/demo/train:v1"))
	before, err := ts.store.GetContainerByName(context.Background(), "demo", "trainer")
	require.NoError(t, err)

	patch := map[string]interface{}{
		"spec": types.ContainerSpec{Image: "ghcr.io/demo/train:v2", Accelerators: []string{"1:H100_SXM"}},
	}
	w := ts.request(t, http.MethodPatch, "/v1/containers/demo/trainer", "alice@example.com", patch)
	require.Equal(t, http.StatusOK, w.Code)

	after, err := ts.store.GetContainerByName(context.Background(), "demo", "trainer")
	require.NoError(t, err)
	assert.NotEqual(t, before.Metadata.ID, after.Metadata.ID, "spec change must mint a new identity")
	assert.Equal(t, "ghcr.io/demo/train:v2", after.Spec.Image)
	assert.Equal(t, types.ContainerDefined, after.Status.State)
	assert.Equal(t, 1, ts.deleter.containers)
}

func TestPatchContainerNoDeleteConflicts(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com",
		containerReq("trainer", "demo", "ghcr.io/demo/train:v1"))

	patch := map[string]interface{}{
		"spec":      types.ContainerSpec{Image: "ghcr.io/demo/train:v2", Accelerators: []string{"1:H100_SXM"}},
		"no_delete": true,
	}
	w := ts.request(t, http.MethodPatch, "/v1/containers/demo/trainer", "alice@example.com", patch)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "changes require deletion", resp.Error)

	after, err := ts.store.GetContainerByName(context.Background(), "demo", "trainer")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/demo/train:v1", after.Spec.Image)
	assert.Zero(t, ts.deleter.containers)
}

func processorReq(name, namespace string) ProcessorRequest {
	return ProcessorRequest{
		Metadata:    RequestMetadata{Name: name, Namespace: namespace},
		Container:   types.ContainerSpec{Image: "ghcr.io/demo/worker:v1", Accelerators: []string{"1:H100_SXM"}},
		MinReplicas: 1,
		MaxReplicas: 5,
		Scale: types.ScaleRules{
			Up: &types.ScaleRule{AbovePressure: 100, Duration: "30s"},
		},
	}
}

func TestCreateProcessorAssignsStream(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/v1/processors", "alice@example.com",
		processorReq("ingest", "demo"))
	require.Equal(t, http.StatusCreated, w.Code)

	var p types.Processor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "paddock:demo:ingest", p.Stream)
	assert.Equal(t, types.ProcessorDefined, p.Status.State)
}

func TestCreateProcessorBoundsChecked(t *testing.T) {
	ts := newTestServer(t)

	req := processorReq("ingest", "demo")
	req.MinReplicas = 6
	w := ts.request(t, http.MethodPost, "/v1/processors", "alice@example.com", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScaleProcessor(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/v1/processors", "alice@example.com",
		processorReq("ingest", "demo"))

	// Both fields in one atomic update; desired is raised to the new minimum.
	three, two := 3, 2
	w := ts.request(t, http.MethodPost, "/v1/processors/demo/ingest/scale", "alice@example.com",
		ScaleRequest{Replicas: &three, MinReplicas: &two})
	require.Equal(t, http.StatusOK, w.Code)

	p, err := ts.store.GetProcessorByName(context.Background(), "demo", "ingest")
	require.NoError(t, err)
	assert.Equal(t, 3, p.DesiredReplicas)
	assert.Equal(t, 2, p.MinReplicas)

	// Explicit replicas below the minimum get raised.
	one := 1
	w = ts.request(t, http.MethodPost, "/v1/processors/demo/ingest/scale", "alice@example.com",
		ScaleRequest{Replicas: &one})
	require.Equal(t, http.StatusOK, w.Code)
	p, err = ts.store.GetProcessorByName(context.Background(), "demo", "ingest")
	require.NoError(t, err)
	assert.Equal(t, 2, p.DesiredReplicas)
}

func TestScaleProcessorValidation(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/v1/processors", "alice@example.com",
		processorReq("ingest", "demo"))

	w := ts.request(t, http.MethodPost, "/v1/processors/demo/ingest/scale", "alice@example.com",
		ScaleRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ten := 10
	w = ts.request(t, http.MethodPost, "/v1/processors/demo/ingest/scale", "alice@example.com",
		ScaleRequest{Replicas: &ten})
	assert.Equal(t, http.StatusBadRequest, w.Code, "replicas above max_replicas")
}

func TestSecretRoundtripNeverLeaksValue(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/v1/secrets", "alice@example.com", SecretRequest{
		Metadata: RequestMetadata{Name: "db-pass", Namespace: "demo"},
		Value:    "s3cret",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")

	w = ts.request(t, http.MethodGet, "/v1/secrets/demo/db-pass", "alice@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")

	// The stored row holds ciphertext the manager can recover.
	sec, err := ts.store.GetSecret(context.Background(), "demo", "db-pass")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("s3cret"), sec.Value)
	plain, err := ts.secrets.Decrypt(sec.Value, sec.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(plain))
}

func TestListSecretsMetadataOnly(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/v1/secrets", "alice@example.com", SecretRequest{
		Metadata: RequestMetadata{Name: "db-pass", Namespace: "demo"},
		Value:    "s3cret",
	})

	w := ts.request(t, http.MethodGet, "/v1/secrets/demo", "alice@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out []secretView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "db-pass", out[0].Metadata.Name)
	assert.NotContains(t, w.Body.String(), "s3cret")
}

func TestCreateNamespaceDefaultsOwner(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/v1/namespaces", "alice@example.com",
		NamespaceRequest{Name: "research"})
	require.Equal(t, http.StatusCreated, w.Code)

	var ns types.Namespace
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ns))
	assert.Equal(t, "alice@example.com", ns.Metadata.Owner)
}

func TestCreateNamespaceForeignOwnerForbidden(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/v1/namespaces", "alice@example.com",
		NamespaceRequest{Name: "research", Owner: "acme"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListNamespacesFilteredByMembership(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodGet, "/v1/namespaces", "alice@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out []*types.Namespace
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "demo", out[0].Metadata.Name)
}

func TestDeleteNamespaceRefusesNonEmpty(t *testing.T) {
	ts := newTestServer(t)

	ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com",
		containerReq("trainer", "demo", "ghcr.io/demo/train:v1"))

	w := ts.request(t, http.MethodDelete, "/v1/namespaces/demo", "alice@example.com", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	ts.request(t, http.MethodDelete, "/v1/containers/demo/trainer", "alice@example.com", nil)
	w = ts.request(t, http.MethodDelete, "/v1/namespaces/demo", "alice@example.com", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCacheKeyEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.redis.Set("cache:demo:checkpoint", "step-4200")

	w := ts.request(t, http.MethodGet, "/v1/cache/demo", "alice@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keys))
	assert.Equal(t, []string{"checkpoint"}, keys)

	w = ts.request(t, http.MethodGet, "/v1/cache/demo/checkpoint", "alice@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var kv map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &kv))
	assert.Equal(t, "step-4200", kv["value"])

	w = ts.request(t, http.MethodDelete, "/v1/cache/demo/checkpoint", "alice@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodGet, "/v1/cache/demo/checkpoint", "alice@example.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ts.redis.Close()
	w = ts.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetContainerByID(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/v1/containers", "alice@example.com",
		containerReq("trainer", "demo", "ghcr.io/demo/train:v1"))
	var c types.Container
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))

	w = ts.request(t, http.MethodGet, fmt.Sprintf("/v1/containers/%s", c.Metadata.ID), "alice@example.com", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A non-member sees 404 even with a valid id.
	w = ts.request(t, http.MethodGet, fmt.Sprintf("/v1/containers/%s", c.Metadata.ID), "mallory@evil.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
