// Package runpod adapts the GPU cloud's REST API to the platform contract.
package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/avast/retry-go"

	"github.com/paddockhq/paddock/pkg/platform"
)

const (
	defaultTimeout = 30 * time.Second
	retryAttempts  = 3
)

// Client talks to the GPU cloud over HTTP/JSON. It implements
// platform.Platform.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	probe   *platform.RegistryProber
}

// NewClient returns a Client against baseURL authenticating with apiKey.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		probe:   platform.NewRegistryProber(),
	}
}

// wire formats

type gpuType struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	MemoryGB    int     `json:"memoryInGb"`
	MaxGPUCount int     `json:"maxGpuCount"`
	SecureCloud bool    `json:"secureCloud"`
	StockStatus string  `json:"stockStatus"`
	PricePerHr  float64 `json:"securePrice"`
	Available   bool    `json:"available"`
}

type datacenter struct {
	ID          string `json:"id"`
	Location    string `json:"location"`
	Storage     bool   `json:"storageSupport"`
	StockStatus string `json:"stockStatus"`
}

type networkVolume struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SizeGB       int    `json:"size"`
	DatacenterID string `json:"dataCenterId"`
}

type podPort struct {
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort"`
	Type        string `json:"type"`
	IP          string `json:"ip"`
}

type pod struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DesiredStatus string    `json:"desiredStatus"`
	CostPerHr     float64   `json:"costPerHr"`
	PublicIP      string    `json:"publicIp"`
	Ports         []podPort `json:"ports"`
}

type createPodRequest struct {
	Name            string            `json:"name"`
	ImageName       string            `json:"imageName"`
	DockerArgs      string            `json:"dockerArgs,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Ports           string            `json:"ports,omitempty"`
	GPUTypeID       string            `json:"gpuTypeId"`
	GPUCount        int               `json:"gpuCount"`
	DataCenterID    string            `json:"dataCenterId"`
	NetworkVolumeID string            `json:"networkVolumeId,omitempty"`
	VolumeMountPath string            `json:"volumeMountPath,omitempty"`
	ContainerUser   string            `json:"containerUser,omitempty"`
	TemplateAuthID  string            `json:"containerRegistryAuthId,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	op := fmt.Sprintf("runpod.%s %s", method, path)

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return platform.NewError(platform.KindPermanent, op, err)
		}
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(platform.NewError(platform.KindPermanent, op, err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return platform.NewError(platform.KindTransient, op, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return platform.NewError(platform.KindTransient, op, err)
		}

		if perr := classify(op, resp.StatusCode, data); perr != nil {
			if platform.IsTransient(perr) {
				return perr
			}
			return retry.Unrecoverable(perr)
		}

		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return retry.Unrecoverable(platform.NewError(platform.KindPermanent, op, err))
			}
		}
		return nil
	}

	return retry.Do(attempt,
		retry.Attempts(retryAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

// classify maps an HTTP status to a platform error kind, nil on success.
func classify(op string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := string(body)
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Error != "" {
		msg = ae.Error
	}
	err := fmt.Errorf("http %d: %s", code, msg)

	switch {
	case code == http.StatusNotFound:
		return platform.NewError(platform.KindNotFound, op, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return platform.NewError(platform.KindAuthFailed, op, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return platform.NewError(platform.KindTransient, op, err)
	}
	return platform.NewError(platform.KindPermanent, op, err)
}

// ListAccelerators returns the GPU inventory keyed by the cloud's type id.
func (c *Client) ListAccelerators(ctx context.Context) (map[string]platform.AcceleratorType, error) {
	var gpus []gpuType
	if err := c.do(ctx, http.MethodGet, "/v1/gputypes", nil, &gpus); err != nil {
		return nil, err
	}
	out := make(map[string]platform.AcceleratorType, len(gpus))
	for _, g := range gpus {
		out[g.ID] = platform.AcceleratorType{
			ID:         g.ID,
			BackendID:  g.ID,
			MemoryGB:   g.MemoryGB,
			Available:  g.Available,
			MaxPerPod:  g.MaxGPUCount,
			PricePerHr: g.PricePerHr,
		}
	}
	return out, nil
}

// ListDatacenters returns locations with stock for count GPUs of the type,
// ordered by the cloud's own ranking (id ascending as a tiebreak).
func (c *Client) ListDatacenters(ctx context.Context, acceleratorID string, count int) ([]platform.Datacenter, error) {
	path := fmt.Sprintf("/v1/gputypes/%s/datacenters?count=%d", acceleratorID, count)
	var dcs []datacenter
	if err := c.do(ctx, http.MethodGet, path, nil, &dcs); err != nil {
		return nil, err
	}
	out := make([]platform.Datacenter, 0, len(dcs))
	for _, d := range dcs {
		out = append(out, platform.Datacenter{
			ID:               d.ID,
			Location:         d.Location,
			StorageSupported: d.Storage,
			Stock:            platform.StockStatus(d.StockStatus),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EnsureVolume finds or creates the per-owner network volume in a
// datacenter. Idempotency is by volume name "<owner>-<datacenter>".
func (c *Client) EnsureVolume(ctx context.Context, owner, datacenterID string, sizeGB int) (string, error) {
	want := owner + "-" + datacenterID

	var vols []networkVolume
	if err := c.do(ctx, http.MethodGet, "/v1/networkvolumes", nil, &vols); err != nil {
		return "", err
	}
	for _, v := range vols {
		if v.Name == want && v.DatacenterID == datacenterID {
			return v.ID, nil
		}
	}

	req := networkVolume{Name: want, SizeGB: sizeGB, DatacenterID: datacenterID}
	var created networkVolume
	if err := c.do(ctx, http.MethodPost, "/v1/networkvolumes", req, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// CreatePod provisions a pod; an existing pod with the same name is
// returned instead of creating a duplicate.
func (c *Client) CreatePod(ctx context.Context, spec *platform.PodSpec) (*platform.Pod, error) {
	if existing, err := c.findPodByName(ctx, spec.Name); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	req := createPodRequest{
		Name:            spec.Name,
		ImageName:       spec.Image,
		Env:             spec.Env,
		GPUTypeID:       spec.Accelerator,
		GPUCount:        spec.Count,
		DataCenterID:    spec.Datacenter,
		NetworkVolumeID: spec.VolumeHandle,
		VolumeMountPath: spec.VolumeMount,
		ContainerUser:   spec.User,
		TemplateAuthID:  spec.RegistryAuth,
	}
	if len(spec.Command) > 0 {
		args, err := json.Marshal(spec.Command)
		if err != nil {
			return nil, platform.NewError(platform.KindPermanent, "runpod.create_pod", err)
		}
		req.DockerArgs = string(args)
	}
	for i, p := range spec.Ports {
		if i > 0 {
			req.Ports += ","
		}
		req.Ports += fmt.Sprintf("%d/tcp", p)
	}

	var out pod
	if err := c.do(ctx, http.MethodPost, "/v1/pods", req, &out); err != nil {
		return nil, err
	}
	return toPod(&out), nil
}

func (c *Client) findPodByName(ctx context.Context, name string) (*platform.Pod, error) {
	pods, err := c.ListPods(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pods {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

// GetPod fetches one pod by backend id.
func (c *Client) GetPod(ctx context.Context, id string) (*platform.Pod, error) {
	var out pod
	if err := c.do(ctx, http.MethodGet, "/v1/pods/"+id, nil, &out); err != nil {
		return nil, err
	}
	return toPod(&out), nil
}

// ListPods returns every pod on the account.
func (c *Client) ListPods(ctx context.Context) ([]*platform.Pod, error) {
	var pods []pod
	if err := c.do(ctx, http.MethodGet, "/v1/pods", nil, &pods); err != nil {
		return nil, err
	}
	out := make([]*platform.Pod, 0, len(pods))
	for i := range pods {
		out = append(out, toPod(&pods[i]))
	}
	return out, nil
}

// DeletePod terminates a pod. A 404 is treated as already gone.
func (c *Client) DeletePod(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/pods/"+id, nil, nil)
	if platform.IsNotFound(err) {
		return nil
	}
	return err
}

// PullImageConfig probes the registry directly; the cloud has no config API.
func (c *Client) PullImageConfig(ctx context.Context, image string) (*platform.ImageConfig, error) {
	return c.probe.PullImageConfig(ctx, image)
}

func toPod(p *pod) *platform.Pod {
	out := &platform.Pod{
		ID:        p.ID,
		Name:      p.Name,
		Phase:     phase(p.DesiredStatus),
		CostPerHr: p.CostPerHr,
		PublicIP:  p.PublicIP,
	}
	for _, b := range p.Ports {
		out.Ports = append(out.Ports, platform.PortBinding{
			PrivatePort: b.PrivatePort,
			PublicPort:  b.PublicPort,
			Protocol:    b.Type,
			PublicIP:    b.IP,
		})
	}
	return out
}

// phase normalizes the cloud's status strings onto pod phases.
func phase(s string) platform.PodPhase {
	switch s {
	case "CREATED":
		return platform.PodCreated
	case "RUNNING":
		return platform.PodRunning
	case "RESTARTING":
		return platform.PodRestarting
	case "PAUSED":
		return platform.PodPaused
	case "EXITED":
		return platform.PodExited
	case "TERMINATED":
		return platform.PodStopped
	case "DEAD":
		return platform.PodFailed
	}
	return platform.PodPending
}
