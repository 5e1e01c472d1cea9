package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metadata is the identity block shared by every resource kind.
type Metadata struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Owner     string            `json:"owner"`
	CreatedBy string            `json:"created_by,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// FullName returns the namespace-qualified name, unique per resource kind.
func (m Metadata) FullName() string {
	return m.Namespace + "/" + m.Name
}

// EnvVar is a single environment entry. Value and SecretName are mutually
// exclusive; a SecretName is resolved against the container's namespace at
// spawn time.
type EnvVar struct {
	Key        string `json:"key"`
	Value      string `json:"value,omitempty"`
	SecretName string `json:"secret_name,omitempty"`
}

// VolumePath declares a data-synchronization rule applied by the in-container
// agent. The orchestrator only carries it into the agent configuration.
type VolumePath struct {
	Source        string `json:"source"`
	Dest          string `json:"dest"`
	Driver        string `json:"driver,omitempty"`
	Bidirectional bool   `json:"bidirectional,omitempty"`
	Continuous    bool   `json:"continuous,omitempty"`
}

// Resources bounds the CPU and memory a container may claim.
type Resources struct {
	MinCPU      int `json:"min_cpu,omitempty"`
	MaxCPU      int `json:"max_cpu,omitempty"`
	MinMemoryGB int `json:"min_memory_gb,omitempty"`
	MaxMemoryGB int `json:"max_memory_gb,omitempty"`
}

// HealthCheck defines an HTTP application-readiness probe performed from the
// watch loop once the pod reports Running.
type HealthCheck struct {
	Protocol string `json:"protocol,omitempty"` // "http" or "https", default http
	Path     string `json:"path"`
	Port     int    `json:"port"`
	Timeout  string `json:"timeout,omitempty"` // duration string, default 5s
}

// Meter is a billing rule attached to a container. Cost is an absolute rate
// per Unit; CostP is a percent surcharge over the backend's hourly price.
type Meter struct {
	Metric   string  `json:"metric"`
	Unit     string  `json:"unit"` // "second", "minute" or "hour"
	Cost     float64 `json:"cost,omitempty"`
	CostP    float64 `json:"costp,omitempty"`
	Currency string  `json:"currency"`
}

// RestartPolicy controls what happens when the user command exits.
type RestartPolicy string

const (
	RestartAlways RestartPolicy = "always"
	RestartNever  RestartPolicy = "never"
)

// ContainerSpec is the declarative half of a container: everything the caller
// submits, nothing the reconciler derives.
type ContainerSpec struct {
	Image        string        `json:"image"`
	Command      string        `json:"command,omitempty"`
	Args         []string      `json:"args,omitempty"`
	Env          []EnvVar      `json:"env,omitempty"`
	Volumes      []VolumePath  `json:"volumes,omitempty"`
	Accelerators []string      `json:"accelerators,omitempty"` // ordered "count:type" preferences
	Resources    *Resources    `json:"resources,omitempty"`
	Ports        []int         `json:"ports,omitempty"`
	ProxyPort    int           `json:"proxy_port,omitempty"`
	SSHKeys      []string      `json:"ssh_keys,omitempty"`
	HealthCheck  *HealthCheck  `json:"health_check,omitempty"`
	Meters       []Meter       `json:"meters,omitempty"`
	Restart      RestartPolicy `json:"restart,omitempty"`
	Queue        string        `json:"queue,omitempty"`
	Timeout      string        `json:"timeout,omitempty"` // duration string
	Platform     string        `json:"platform,omitempty"`
}

// ParseTimeout returns the container timeout, or zero when unset.
func (s *ContainerSpec) ParseTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Timeout)
}

// ParseAccelerator splits a "count:type" accelerator preference.
func ParseAccelerator(pref string) (int, string, error) {
	parts := strings.SplitN(pref, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", fmt.Errorf("invalid accelerator %q, expected \"count:type\"", pref)
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil || count < 1 {
		return 0, "", fmt.Errorf("invalid accelerator count in %q", pref)
	}
	return count, parts[1], nil
}

// PublicPort is one externally reachable port of a running pod.
type PublicPort struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	PublicIP string `json:"public_ip"`
}

// ContainerStatus is the structured derived-state column of a container row.
type ContainerStatus struct {
	State       ContainerState `json:"status"`
	Message     string         `json:"message,omitempty"`
	Accelerator string         `json:"accelerator,omitempty"`
	PublicPorts []PublicPort   `json:"public_ports,omitempty"`
	CostPerHr   float64        `json:"cost_per_hr,omitempty"`
	TailnetURL  string         `json:"tailnet_url,omitempty"`
	Ready       bool           `json:"ready"`
}

// ControllerData is opaque reconciler bookkeeping persisted alongside a
// resource. Thread IDs are advisory; a restarted scheduler treats them as
// stale. The scale window timestamps belong to processors only.
type ControllerData struct {
	ThreadID       string     `json:"thread_id,omitempty"`
	FirstRunningAt *time.Time `json:"first_running_at,omitempty"`
	DoneObserved   bool       `json:"done_observed,omitempty"`
	AboveSince     *time.Time `json:"above_since,omitempty"`
	BelowSince     *time.Time `json:"below_since,omitempty"`
	ZeroSince      *time.Time `json:"zero_since,omitempty"`
}

// Container is the primary lifecycle entity: one row maps to one backend pod.
type Container struct {
	Metadata Metadata        `json:"metadata"`
	Spec     ContainerSpec   `json:"spec"`
	Desired  ContainerState  `json:"desired_status"`
	Status   ContainerStatus `json:"status"`

	// Derived by the reconciler.
	ResourceName      string         `json:"resource_name,omitempty"` // backend pod id
	ResourceCostPerHr float64        `json:"resource_cost_per_hr,omitempty"`
	PublicAddr        string         `json:"public_addr,omitempty"`
	TailnetIP         string         `json:"tailnet_ip,omitempty"`
	ContainerUser     string         `json:"container_user,omitempty"`
	ControllerData    ControllerData `json:"controller_data,omitempty"`

	// OwnerRef links processor replicas back to their processor.
	OwnerRef string `json:"owner_ref,omitempty"`
}

// ScaleRule is one direction of a processor scaling policy.
type ScaleRule struct {
	AbovePressure int64  `json:"above_pressure,omitempty"`
	BelowPressure int64  `json:"below_pressure,omitempty"`
	Duration      string `json:"duration"` // how long the condition must hold
	Step          int    `json:"step,omitempty"`
}

// ScaleZero drives replicas to zero after the backlog stays empty for
// Duration.
type ScaleZero struct {
	Duration string `json:"duration"`
}

// ScaleRules is the full autoscaling policy of a processor.
type ScaleRules struct {
	Up   *ScaleRule `json:"up,omitempty"`
	Down *ScaleRule `json:"down,omitempty"`
	Zero *ScaleZero `json:"zero,omitempty"`
}

// ProcessorStatus is the structured status column of a processor row.
type ProcessorStatus struct {
	State    ProcessorState `json:"status"`
	Message  string         `json:"message,omitempty"`
	Pressure int64          `json:"pressure"`
}

// Processor is an autoscaled pool of containers consuming a broker stream.
// Container is the template stamped out per replica.
type Processor struct {
	Metadata Metadata `json:"metadata"`

	Container    ContainerSpec `json:"container"`
	Stream       string        `json:"stream"`
	Schema       string        `json:"schema,omitempty"`
	CommonSchema string        `json:"common_schema,omitempty"`

	MinReplicas     int        `json:"min_replicas"`
	MaxReplicas     int        `json:"max_replicas"`
	DesiredReplicas int        `json:"desired_replicas"`
	Scale           ScaleRules `json:"scale"`

	Desired        ProcessorState  `json:"desired_status"`
	Status         ProcessorStatus `json:"status"`
	ControllerData ControllerData  `json:"controller_data,omitempty"`
}

// Secret is a namespace-scoped blob stored encrypted at rest. Value holds the
// ciphertext; Nonce is the per-record AES-GCM nonce.
type Secret struct {
	Metadata  Metadata   `json:"metadata"`
	Value     []byte     `json:"-"`
	Nonce     []byte     `json:"-"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Namespace is the authorization scope for every other resource kind.
type Namespace struct {
	Metadata Metadata `json:"metadata"`
}

// Volume is a backend network volume, one per (owner, datacenter).
type Volume struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Datacenter string    `json:"datacenter"`
	Handle     string    `json:"handle"` // opaque backend id
	SizeGB     int       `json:"size_gb"`
	CreatedAt  time.Time `json:"created_at"`
}
