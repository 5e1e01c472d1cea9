// Package kube adapts Kubernetes batch Jobs to the platform contract.
package kube

import (
	"context"
	"fmt"
	"sort"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/paddockhq/paddock/pkg/platform"
)

const (
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "paddock"

	gpuResourceName = "nvidia.com/gpu"
	gpuProductLabel = "nvidia.com/gpu.product"
)

// Client runs workloads as batch Jobs in one cluster namespace. It
// implements platform.Platform.
type Client struct {
	clientset kubernetes.Interface
	namespace string
	probe     *platform.RegistryProber
}

// NewClient builds a Client from a kubeconfig path, or in-cluster config
// when the path is empty.
func NewClient(kubeconfig, namespace string) (*Client, error) {
	var cfg *rest.Config
	var err error
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, platform.NewError(platform.KindPermanent, "kube.config", err)
	}

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, platform.NewError(platform.KindPermanent, "kube.client", err)
	}
	return NewClientFromClientset(cs, namespace), nil
}

// NewClientFromClientset wires an existing clientset, used by tests with
// k8s.io/client-go/kubernetes/fake.
func NewClientFromClientset(cs kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = "default"
	}
	return &Client{clientset: cs, namespace: namespace, probe: platform.NewRegistryProber()}
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case apierrors.IsNotFound(err):
		return platform.NewError(platform.KindNotFound, op, err)
	case apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err):
		return platform.NewError(platform.KindAuthFailed, op, err)
	case apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err):
		return platform.NewError(platform.KindTransient, op, err)
	}
	return platform.NewError(platform.KindPermanent, op, err)
}

// ListAccelerators derives the inventory from node labels: every distinct
// gpu.product value on a schedulable node is available.
func (c *Client) ListAccelerators(ctx context.Context) (map[string]platform.AcceleratorType, error) {
	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, wrap("kube.list_nodes", err)
	}

	out := map[string]platform.AcceleratorType{}
	for _, n := range nodes.Items {
		product := n.Labels[gpuProductLabel]
		if product == "" {
			continue
		}
		capacity := 0
		if q, ok := n.Status.Allocatable[corev1.ResourceName(gpuResourceName)]; ok {
			capacity = int(q.Value())
		}
		acc := out[product]
		acc.ID = product
		acc.BackendID = product
		acc.Available = acc.Available || (capacity > 0 && !n.Spec.Unschedulable)
		if capacity > acc.MaxPerPod {
			acc.MaxPerPod = capacity
		}
		out[product] = acc
	}
	return out, nil
}

// ListDatacenters reports the cluster itself as the single location. Stock
// reflects whether any node still has allocatable GPUs of the type.
func (c *Client) ListDatacenters(ctx context.Context, acceleratorID string, count int) ([]platform.Datacenter, error) {
	accs, err := c.ListAccelerators(ctx)
	if err != nil {
		return nil, err
	}
	acc, ok := accs[acceleratorID]
	if !ok || !acc.Available || acc.MaxPerPod < count {
		return nil, nil
	}
	return []platform.Datacenter{{
		ID:               c.namespace,
		Location:         "cluster",
		StorageSupported: true,
		Stock:            platform.StockHigh,
	}}, nil
}

// EnsureVolume creates (or finds) a PVC named after the owner. The returned
// handle is the claim name.
func (c *Client) EnsureVolume(ctx context.Context, owner, datacenterID string, sizeGB int) (string, error) {
	name := volumeClaimName(owner)
	pvcs := c.clientset.CoreV1().PersistentVolumeClaims(c.namespace)

	if _, err := pvcs.Get(ctx, name, metav1.GetOptions{}); err == nil {
		return name, nil
	} else if !apierrors.IsNotFound(err) {
		return "", wrap("kube.get_pvc", err)
	}

	claim := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{managedByLabel: managedByValue},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(fmt.Sprintf("%dGi", sizeGB)),
				},
			},
		},
	}
	if _, err := pvcs.Create(ctx, claim, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return name, nil
		}
		return "", wrap("kube.create_pvc", err)
	}
	return name, nil
}

// CreatePod submits a Job named spec.Name. An existing Job with that name is
// adopted, making the call idempotent.
func (c *Client) CreatePod(ctx context.Context, spec *platform.PodSpec) (*platform.Pod, error) {
	jobs := c.clientset.BatchV1().Jobs(c.namespace)

	if existing, err := jobs.Get(ctx, spec.Name, metav1.GetOptions{}); err == nil {
		return c.toPod(ctx, existing)
	} else if !apierrors.IsNotFound(err) {
		return nil, wrap("kube.get_job", err)
	}

	job := c.buildJob(spec)
	created, err := jobs.Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return c.GetPod(ctx, spec.Name)
		}
		return nil, wrap("kube.create_job", err)
	}
	return c.toPod(ctx, created)
}

func (c *Client) buildJob(spec *platform.PodSpec) *batchv1.Job {
	var env []corev1.EnvVar
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: spec.Env[k]})
	}

	var ports []corev1.ContainerPort
	for _, p := range spec.Ports {
		ports = append(ports, corev1.ContainerPort{ContainerPort: int32(p)})
	}

	container := corev1.Container{
		Name:    "workload",
		Image:   spec.Image,
		Command: spec.Command,
		Env:     env,
		Ports:   ports,
	}
	if spec.Count > 0 {
		q := resource.MustParse(fmt.Sprintf("%d", spec.Count))
		container.Resources = corev1.ResourceRequirements{
			Limits: corev1.ResourceList{corev1.ResourceName(gpuResourceName): q},
		}
	}

	podSpec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers:    []corev1.Container{container},
	}
	if spec.VolumeHandle != "" {
		podSpec.Volumes = []corev1.Volume{{
			Name: "data",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: spec.VolumeHandle},
			},
		}}
		podSpec.Containers[0].VolumeMounts = []corev1.VolumeMount{{Name: "data", MountPath: spec.VolumeMount}}
	}
	if spec.Accelerator != "" {
		podSpec.NodeSelector = map[string]string{gpuProductLabel: spec.Accelerator}
	}

	backoff := int32(0)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.Name,
			Labels: map[string]string{managedByLabel: managedByValue},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{managedByLabel: managedByValue, "job-name": spec.Name},
				},
				Spec: podSpec,
			},
		},
	}
}

// GetPod reads the Job named id.
func (c *Client) GetPod(ctx context.Context, id string) (*platform.Pod, error) {
	job, err := c.clientset.BatchV1().Jobs(c.namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return nil, wrap("kube.get_job", err)
	}
	return c.toPod(ctx, job)
}

// ListPods returns every Job this controller manages.
func (c *Client) ListPods(ctx context.Context) ([]*platform.Pod, error) {
	jobs, err := c.clientset.BatchV1().Jobs(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: managedByLabel + "=" + managedByValue,
	})
	if err != nil {
		return nil, wrap("kube.list_jobs", err)
	}
	out := make([]*platform.Pod, 0, len(jobs.Items))
	for i := range jobs.Items {
		p, err := c.toPod(ctx, &jobs.Items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DeletePod removes the Job and its pods. Already-gone Jobs are fine.
func (c *Client) DeletePod(ctx context.Context, id string) error {
	policy := metav1.DeletePropagationForeground
	err := c.clientset.BatchV1().Jobs(c.namespace).Delete(ctx, id, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return wrap("kube.delete_job", err)
}

// PullImageConfig probes the registry directly.
func (c *Client) PullImageConfig(ctx context.Context, image string) (*platform.ImageConfig, error) {
	return c.probe.PullImageConfig(ctx, image)
}

func (c *Client) toPod(ctx context.Context, job *batchv1.Job) (*platform.Pod, error) {
	return &platform.Pod{
		ID:    job.Name,
		Name:  job.Name,
		Phase: jobPhase(job),
	}, nil
}

// jobPhase collapses Job status into a pod phase. Completion wins over
// failure when both counters are set; the Job controller never does that for
// BackoffLimit zero.
func jobPhase(job *batchv1.Job) platform.PodPhase {
	switch {
	case job.Status.Succeeded > 0:
		return platform.PodCompleted
	case job.Status.Failed > 0:
		return platform.PodFailed
	case job.Status.Active > 0:
		return platform.PodRunning
	}
	return platform.PodPending
}

func volumeClaimName(owner string) string {
	// Owners are emails; claim names must be DNS-1123.
	out := make([]rune, 0, len(owner))
	for _, r := range owner {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	return "paddock-data-" + string(out)
}
