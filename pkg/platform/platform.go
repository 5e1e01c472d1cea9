package platform

import (
	"context"

	"github.com/paddockhq/paddock/pkg/types"
)

// AcceleratorType describes one GPU type in a backend's inventory.
type AcceleratorType struct {
	ID         string // internal name, e.g. "H100_SXM"
	BackendID  string // the backend's own identifier
	MemoryGB   int
	Available  bool // at least the requested count is in stock
	MaxPerPod  int
	PricePerHr float64
}

// StockStatus orders datacenter inventory levels for selection.
type StockStatus string

const (
	StockHigh    StockStatus = "high"
	StockMedium  StockStatus = "medium"
	StockLow     StockStatus = "low"
	StockUnknown StockStatus = ""
)

// Rank returns the selection preference of a stock level, lower is better.
func (s StockStatus) Rank() int {
	switch s {
	case StockHigh:
		return 0
	case StockMedium:
		return 1
	case StockLow:
		return 2
	}
	return 3
}

// Datacenter is one backend location able to host a pod.
type Datacenter struct {
	ID               string
	Location         string
	StorageSupported bool
	Stock            StockStatus
}

// PodPhase is the backend's view of a pod's lifecycle.
type PodPhase string

const (
	PodPending    PodPhase = "pending"
	PodCreating   PodPhase = "creating"
	PodCreated    PodPhase = "created"
	PodRunning    PodPhase = "running"
	PodRestarting PodPhase = "restarting"
	PodPaused     PodPhase = "paused"
	PodExited     PodPhase = "exited"
	PodCompleted  PodPhase = "completed"
	PodFailed     PodPhase = "failed"
	PodStopped    PodPhase = "stopped"
)

// ContainerState maps a backend pod phase onto the container state machine.
// Unknown phases map to Pending, never to a terminal state.
func (p PodPhase) ContainerState() types.ContainerState {
	switch p {
	case PodPending:
		return types.ContainerPending
	case PodCreating:
		return types.ContainerCreating
	case PodCreated:
		return types.ContainerCreated
	case PodRunning:
		return types.ContainerRunning
	case PodRestarting:
		return types.ContainerRestarting
	case PodPaused:
		return types.ContainerPaused
	case PodExited:
		return types.ContainerExited
	case PodCompleted:
		return types.ContainerCompleted
	case PodFailed:
		return types.ContainerFailed
	case PodStopped:
		return types.ContainerStopped
	}
	return types.ContainerPending
}

// PortBinding is one exposed pod port with its public mapping.
type PortBinding struct {
	PrivatePort int
	PublicPort  int
	Protocol    string
	PublicIP    string
}

// PodSpec is everything a backend needs to create a pod. Name is the
// client-supplied idempotency key ("paddock-<container-id>").
type PodSpec struct {
	Name         string
	Image        string
	Command      []string
	Env          map[string]string
	Ports        []int
	Accelerator  string // backend accelerator id
	Count        int
	Datacenter   string
	VolumeHandle string
	VolumeMount  string
	User         string
	RegistryAuth string
}

// Pod is the backend's report of an existing pod.
type Pod struct {
	ID        string
	Name      string
	Phase     PodPhase
	Ports     []PortBinding
	CostPerHr float64
	PublicIP  string
}

// ImageConfig is the subset of an OCI image config the reconciler cares
// about.
type ImageConfig struct {
	User string
}

// Platform is the capability surface a compute backend must provide. The GPU
// cloud and Kubernetes adapters are independent implementers.
type Platform interface {
	// ListAccelerators returns the inventory keyed by internal name.
	ListAccelerators(ctx context.Context) (map[string]AcceleratorType, error)

	// ListDatacenters returns candidate locations able to host count
	// accelerators of the given type.
	ListDatacenters(ctx context.Context, acceleratorID string, count int) ([]Datacenter, error)

	// EnsureVolume returns the handle of the network volume for (owner,
	// datacenter), creating it when absent. Idempotent.
	EnsureVolume(ctx context.Context, owner, datacenterID string, sizeGB int) (string, error)

	// CreatePod provisions a pod. Idempotent by spec.Name.
	CreatePod(ctx context.Context, spec *PodSpec) (*Pod, error)

	// GetPod fetches one pod; a missing pod yields a NotFound error.
	GetPod(ctx context.Context, id string) (*Pod, error)

	// ListPods returns every pod visible to the caller.
	ListPods(ctx context.Context) ([]*Pod, error)

	// DeletePod removes a pod. Deleting a missing pod is not an error.
	DeletePod(ctx context.Context, id string) error

	// PullImageConfig fetches the OCI image config, used for default user
	// detection.
	PullImageConfig(ctx context.Context, image string) (*ImageConfig, error)
}
