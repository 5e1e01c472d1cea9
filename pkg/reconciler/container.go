package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/platform"
	"github.com/paddockhq/paddock/pkg/security"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// ReconcileContainer runs one full reconcile of a container: queue
// admission, state dispatch, and (for active rows headed to Running) the
// create path followed by the long-lived watch loop. It returns when the
// container reaches a terminal state, its row disappears, or ctx is
// cancelled.
func (r *Reconciler) ReconcileContainer(ctx context.Context, id string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration.WithLabelValues("container"))
	metrics.ReconcileCyclesTotal.WithLabelValues("container").Inc()

	c, err := r.store.GetContainer(ctx, id)
	if err != nil {
		return err
	}
	logger := log.WithContainerID(id)

	// Terminal rows are never resurrected.
	if c.Status.State.Terminal() {
		return nil
	}

	// Queue admission.
	if c.Spec.Queue != "" {
		admitted, head, err := r.arbiter.Admit(ctx, c)
		if err != nil {
			metrics.ReconcileErrorsTotal.WithLabelValues("container").Inc()
			return err
		}
		if !admitted {
			if c.Status.State != types.ContainerQueued {
				c.Status.State = types.ContainerQueued
				c.Status.Message = fmt.Sprintf("waiting for queue %q (head %s)", c.Spec.Queue, head)
				if _, err := r.updateContainer(ctx, c); err != nil {
					return err
				}
			}
			return nil
		}
	}

	// State dispatch. Creating with no backend handle means a previous
	// create attempt did not finish; resume it.
	switch c.Status.State {
	case types.ContainerDefined, types.ContainerPaused, types.ContainerPending, types.ContainerQueued:
		if c.Desired != types.ContainerRunning {
			return nil
		}
		if err := r.create(ctx, c); err != nil {
			metrics.ReconcileErrorsTotal.WithLabelValues("container").Inc()
			logger.Error().Err(err).Msg("create path failed, will retry")
			return err
		}
	case types.ContainerCreating:
		if c.ResourceName == "" {
			if err := r.create(ctx, c); err != nil {
				metrics.ReconcileErrorsTotal.WithLabelValues("container").Inc()
				logger.Error().Err(err).Msg("create path failed, will retry")
				return err
			}
		}
	}

	if c.Status.State.Terminal() {
		return nil
	}
	return r.watch(ctx, c)
}

// fail moves c to Failed with an operator-visible message.
func (r *Reconciler) fail(ctx context.Context, c *types.Container, msg string) error {
	c.Status.State = types.ContainerFailed
	c.Status.Message = msg
	c.Status.Ready = false
	logger := log.WithContainerID(c.Metadata.ID)
	logger.Warn().Str("reason", msg).Msg("container failed")
	_, err := r.updateContainer(ctx, c)
	return err
}

// create runs the provisioning sequence. Transient backend errors are
// returned so the next tick retries; policy failures (no accelerator, no
// datacenter, bad secret reference) are terminal.
func (r *Reconciler) create(ctx context.Context, c *types.Container) error {
	logger := log.WithContainerID(c.Metadata.ID)
	be, ok := r.platformFor(c.Spec.Platform)
	if !ok {
		return r.fail(ctx, c, fmt.Sprintf("unknown platform %q", c.Spec.Platform))
	}

	if c.Status.State != types.ContainerCreating {
		c.Status.State = types.ContainerCreating
		c.Status.Message = ""
		if gone, err := r.updateContainer(ctx, c); gone || err != nil {
			return err
		}
	}

	// Per-container credentials, persisted so a resumed create reuses them.
	// The public half is derived from the private key, never generated
	// separately, so the two secrets can't diverge.
	privateKey, err := r.ensureSecret(ctx, c, sshKeySecret(c.Metadata.ID), func() ([]byte, error) {
		pair, err := security.GenerateSSHKeyPair(c.Metadata.FullName())
		if err != nil {
			return nil, err
		}
		return pair.PrivatePEM, nil
	})
	if err != nil {
		return err
	}
	publicKey, err := r.ensureSecret(ctx, c, sshPubSecret(c.Metadata.ID), func() ([]byte, error) {
		return security.PublicKeyFromPrivate(privateKey)
	})
	if err != nil {
		return err
	}
	agentKey, err := r.ensureSecret(ctx, c, agentKeySecret(c.Metadata.ID), func() ([]byte, error) {
		k, err := security.GenerateAgentKey()
		return []byte(k), err
	})
	if err != nil {
		return err
	}

	// Default user from the image config.
	user := "root"
	if cfg, err := be.PullImageConfig(ctx, c.Spec.Image); err == nil {
		user = cfg.User
	} else if platform.IsTransient(err) {
		return err
	} else {
		logger.Warn().Err(err).Msg("image config probe failed, assuming root")
	}
	c.ContainerUser = user

	// Accelerator resolution: first preference in stock wins.
	count, accType, accBackendID, err := r.resolveAccelerator(ctx, be, c)
	if err != nil {
		return err
	}
	if accType == "" && len(c.Spec.Accelerators) > 0 {
		return r.fail(ctx, c, "no requested accelerator available")
	}

	// Datacenter selection.
	dc, err := r.selectDatacenter(ctx, be, accBackendID, count)
	if err != nil {
		return err
	}
	if dc == "" {
		return r.fail(ctx, c, "no datacenter with storage support available")
	}

	// Per-owner network volume, cached in the store.
	volHandle, err := r.ensureVolume(ctx, be, c.Metadata.Owner, dc)
	if err != nil {
		return err
	}

	env, err := r.composeEnv(ctx, c, string(publicKey), string(agentKey))
	if err != nil {
		var missing *missingSecretError
		if errors.As(err, &missing) {
			return r.fail(ctx, c, err.Error())
		}
		return err
	}

	ports := append([]int{sshPort}, c.Spec.Ports...)
	if c.Spec.ProxyPort != 0 {
		ports = append(ports, c.Spec.ProxyPort)
	}
	if hc := c.Spec.HealthCheck; hc != nil && hc.Port != 0 {
		ports = append(ports, hc.Port)
	}

	pod, err := be.CreatePod(ctx, &platform.PodSpec{
		Name:         podName(c.Metadata.ID),
		Image:        c.Spec.Image,
		Command:      []string{"/bin/sh", "-c", bootCommand(c, r.cfg)},
		Env:          env,
		Ports:        dedupePorts(ports),
		Accelerator:  accBackendID,
		Count:        count,
		Datacenter:   dc,
		VolumeHandle: volHandle,
		VolumeMount:  volumeMountPath,
		User:         user,
		RegistryAuth: r.cfg.RegistryAuthID,
	})
	if err != nil {
		if platform.IsAuthFailed(err) || platform.IsPermanent(err) {
			return r.fail(ctx, c, fmt.Sprintf("pod creation rejected: %v", err))
		}
		return err
	}

	c.ResourceName = pod.ID
	c.ResourceCostPerHr = pod.CostPerHr
	c.Status.State = types.ContainerCreated
	c.Status.Message = ""
	c.Status.Accelerator = accType
	logger.Info().Str("pod", pod.ID).Str("datacenter", dc).Str("accelerator", accType).Msg("pod created")
	_, err = r.updateContainer(ctx, c)
	return err
}

// resolveAccelerator picks the first "count:type" preference available in
// the backend inventory. An empty type with nil error means no preference
// matched (or none were requested).
func (r *Reconciler) resolveAccelerator(ctx context.Context, be platform.Platform, c *types.Container) (int, string, string, error) {
	if len(c.Spec.Accelerators) == 0 {
		return 0, "", "", nil
	}
	inventory, err := be.ListAccelerators(ctx)
	if err != nil {
		return 0, "", "", err
	}
	for _, pref := range c.Spec.Accelerators {
		count, accType, err := types.ParseAccelerator(pref)
		if err != nil {
			return 0, "", "", r.fail(ctx, c, err.Error())
		}
		acc, ok := inventory[accType]
		if !ok || !acc.Available {
			continue
		}
		if acc.MaxPerPod > 0 && count > acc.MaxPerPod {
			continue
		}
		return count, accType, acc.BackendID, nil
	}
	return 0, "", "", nil
}

// selectDatacenter orders storage-capable candidates by preferred region,
// then stock level, then id.
func (r *Reconciler) selectDatacenter(ctx context.Context, be platform.Platform, accBackendID string, count int) (string, error) {
	dcs, err := be.ListDatacenters(ctx, accBackendID, count)
	if err != nil {
		return "", err
	}

	candidates := dcs[:0]
	for _, dc := range dcs {
		if dc.StorageSupported {
			candidates = append(candidates, dc)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	preferred := func(dc platform.Datacenter) bool {
		for _, region := range r.cfg.PreferredRegions {
			if strings.EqualFold(dc.Location, region) {
				return true
			}
		}
		return false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := preferred(candidates[i]), preferred(candidates[j])
		if pi != pj {
			return pi
		}
		if ri, rj := candidates[i].Stock.Rank(), candidates[j].Stock.Rank(); ri != rj {
			return ri < rj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0].ID, nil
}

func (r *Reconciler) ensureVolume(ctx context.Context, be platform.Platform, owner, dc string) (string, error) {
	if vol, err := r.store.GetVolumeByOwner(ctx, owner, dc); err == nil {
		return vol.Handle, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	handle, err := be.EnsureVolume(ctx, owner, dc, volumeSizeGB)
	if err != nil {
		return "", err
	}
	vol := &types.Volume{
		ID:         owner + "/" + dc,
		Owner:      owner,
		Datacenter: dc,
		Handle:     handle,
		SizeGB:     volumeSizeGB,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateVolume(ctx, vol); err != nil && !errors.Is(err, storage.ErrConflict) {
		return "", err
	}
	return handle, nil
}

type missingSecretError struct{ name string }

func (e *missingSecretError) Error() string {
	return fmt.Sprintf("secret %q not found", e.name)
}

// composeEnv merges built-in variables with the user's, resolving secret
// references. Cleartext secret values are never logged.
func (r *Reconciler) composeEnv(ctx context.Context, c *types.Container, publicKey, agentKey string) (map[string]string, error) {
	keys := append([]string{}, c.Spec.SSHKeys...)
	keys = append(keys, strings.TrimSpace(publicKey))

	env := map[string]string{
		"PADDOCK_CONTAINER_ID":    c.Metadata.ID,
		"PADDOCK_CONTAINER_NAME":  c.Metadata.FullName(),
		"PADDOCK_BUCKET":          r.cfg.BucketName,
		"PADDOCK_BUCKET_REGION":   r.cfg.BucketRegion,
		"PADDOCK_BUCKET_PREFIX":   c.Metadata.Namespace,
		"PADDOCK_BROKER_URL":      r.cfg.BrokerURL,
		"PADDOCK_AUTH_SERVER_URL": r.cfg.AuthServerURL,
		"PADDOCK_AGENT_KEY":       agentKey,
		"PADDOCK_TAILNET_AUTHKEY": r.cfg.TailnetAuthKey,
		"PUBLIC_KEY":              strings.Join(keys, "\n"),
	}

	for _, v := range c.Spec.Env {
		if v.SecretName == "" {
			env[v.Key] = v.Value
			continue
		}
		sec, err := r.store.GetSecret(ctx, c.Metadata.Namespace, v.SecretName)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &missingSecretError{name: v.SecretName}
		}
		if err != nil {
			return nil, err
		}
		plain, err := r.secrets.Decrypt(sec.Value, sec.Nonce)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret %q: %w", v.SecretName, err)
		}
		env[v.Key] = string(plain)
	}
	return env, nil
}

// ensureSecret stores a generated value under name unless it already exists,
// returning the plaintext that is actually persisted.
func (r *Reconciler) ensureSecret(ctx context.Context, c *types.Container, name string, generate func() ([]byte, error)) ([]byte, error) {
	if sec, err := r.store.GetSecret(ctx, c.Metadata.Namespace, name); err == nil {
		return r.secrets.Decrypt(sec.Value, sec.Nonce)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	plain, err := generate()
	if err != nil {
		return nil, err
	}
	ciphertext, nonce, err := r.secrets.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	sec := &types.Secret{
		Metadata: types.Metadata{
			ID:        c.Metadata.ID + "/" + name,
			Name:      name,
			Namespace: c.Metadata.Namespace,
			Owner:     c.Metadata.Owner,
			CreatedAt: time.Now().UTC(),
		},
		Value: ciphertext,
		Nonce: nonce,
	}
	if err := r.store.CreateSecret(ctx, sec); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a race with a concurrent create; use the stored value.
			stored, gerr := r.store.GetSecret(ctx, c.Metadata.Namespace, name)
			if gerr != nil {
				return nil, gerr
			}
			return r.secrets.Decrypt(stored.Value, stored.Nonce)
		}
		return nil, err
	}
	return plain, nil
}

func sshKeySecret(id string) string   { return id + "-ssh-key" }
func sshPubSecret(id string) string   { return id + "-ssh-pub" }
func agentKeySecret(id string) string { return id + "-agent-key" }

// watch polls the backend until the container terminates. Iterations are
// spaced by the watch interval; a budget of consecutive errors bounds how
// long a broken backend can keep a row in limbo.
func (r *Reconciler) watch(ctx context.Context, c *types.Container) error {
	logger := log.WithContainerID(c.Metadata.ID)

	var privateKey []byte
	if sec, err := r.store.GetSecret(ctx, c.Metadata.Namespace, sshKeySecret(c.Metadata.ID)); err == nil {
		privateKey, _ = r.secrets.Decrypt(sec.Value, sec.Nonce)
	}

	consecutiveErrors := 0
	for {
		done, err := r.watchIteration(ctx, c, privateKey)
		if err != nil {
			consecutiveErrors++
			metrics.ReconcileErrorsTotal.WithLabelValues("container").Inc()
			logger.Warn().Err(err).Int("consecutive", consecutiveErrors).Msg("watch iteration failed")
			if consecutiveErrors >= errorBudget {
				return r.fail(ctx, c, fmt.Sprintf("backend error budget exhausted: %v", err))
			}
		} else {
			consecutiveErrors = 0
		}
		if done {
			return nil
		}
		if !r.sleep(ctx) {
			return ctx.Err()
		}
	}
}

// watchIteration performs one §-watch pass. done=true means the loop should
// exit (terminal state reached or the row is gone).
func (r *Reconciler) watchIteration(ctx context.Context, c *types.Container, privateKey []byte) (bool, error) {
	be, ok := r.platformFor(c.Spec.Platform)
	if !ok {
		return true, r.fail(ctx, c, fmt.Sprintf("unknown platform %q", c.Spec.Platform))
	}

	pod, err := be.GetPod(ctx, c.ResourceName)
	if platform.IsNotFound(err) {
		if c.ControllerData.DoneObserved {
			c.Status.State = types.ContainerCompleted
			c.Status.Message = "completed"
		} else {
			c.Status.State = types.ContainerStopped
			c.Status.Message = "pod does not exist"
		}
		c.Status.Ready = false
		gone, uerr := r.updateContainer(ctx, c)
		if gone {
			return true, nil
		}
		return true, uerr
	}
	if err != nil {
		return false, err
	}

	// Derived fields from the pod report.
	c.Status.PublicPorts = c.Status.PublicPorts[:0]
	sshAddr := ""
	for _, b := range pod.Ports {
		c.Status.PublicPorts = append(c.Status.PublicPorts, types.PublicPort{
			Port:     b.PublicPort,
			Protocol: b.Protocol,
			PublicIP: b.PublicIP,
		})
		if b.PrivatePort == sshPort && b.PublicIP != "" {
			sshAddr = fmt.Sprintf("%s:%d", b.PublicIP, b.PublicPort)
		}
	}
	c.PublicAddr = sshAddr
	if pod.CostPerHr > 0 {
		c.Status.CostPerHr = pod.CostPerHr
	}

	sshOK := false
	if sshAddr != "" && len(privateKey) > 0 {
		sshOK = r.prober.Reachable(ctx, sshAddr, privateKey)
	}

	// State mapping.
	mapped := pod.Phase.ContainerState()
	switch {
	case mapped.Terminal():
		c.Status.State = mapped
		c.Status.Message = ""
		c.Status.Ready = false
	case !sshOK:
		c.Status.State = types.ContainerCreating
		c.Status.Message = "SSH not yet available"
		c.Status.Ready = false
	case mapped == types.ContainerRunning:
		c.Status.State = types.ContainerRunning
		c.Status.Message = ""
		if c.Spec.HealthCheck != nil {
			c.Status.Ready = r.healthCheck(ctx, c, pod)
		} else {
			c.Status.Ready = true
		}
	default:
		c.Status.State = mapped
		c.Status.Message = ""
		c.Status.Ready = false
	}

	now := time.Now().UTC()
	if c.Status.State == types.ContainerRunning && c.ControllerData.FirstRunningAt == nil {
		c.ControllerData.FirstRunningAt = &now
	}

	// Timeout enforcement.
	if timeout, terr := c.Spec.ParseTimeout(); terr == nil && timeout > 0 &&
		c.Status.State == types.ContainerRunning &&
		c.ControllerData.FirstRunningAt != nil &&
		now.Sub(*c.ControllerData.FirstRunningAt) > timeout {
		if derr := be.DeletePod(ctx, c.ResourceName); derr != nil && !platform.IsNotFound(derr) {
			return false, derr
		}
		return true, r.fail(ctx, c, "timeout exceeded")
	}

	// Completion sentinel for run-to-completion containers.
	if c.Spec.Restart == types.RestartNever && sshOK && !c.ControllerData.DoneObserved {
		found, ferr := r.prober.FileExists(ctx, sshAddr, privateKey, doneFile)
		if ferr == nil && found {
			if derr := be.DeletePod(ctx, c.ResourceName); derr != nil && !platform.IsNotFound(derr) {
				return false, derr
			}
			c.ControllerData.DoneObserved = true
			// The next iteration's 404 finalizes to Completed.
		}
	}

	if c.Status.State == types.ContainerRunning && c.Status.Ready && len(c.Spec.Meters) > 0 {
		r.emitter.EmitUsage(ctx, c, r.cfg.WatchInterval)
	}

	gone, err := r.updateContainer(ctx, c)
	if gone {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return c.Status.State.Terminal(), nil
}

// healthCheck performs the configured HTTP readiness probe against the
// pod's public mapping of the check port.
func (r *Reconciler) healthCheck(ctx context.Context, c *types.Container, pod *platform.Pod) bool {
	hc := c.Spec.HealthCheck

	addr := ""
	for _, b := range pod.Ports {
		if b.PrivatePort == hc.Port && b.PublicIP != "" {
			addr = fmt.Sprintf("%s:%d", b.PublicIP, b.PublicPort)
			break
		}
	}
	if addr == "" {
		return false
	}

	proto := hc.Protocol
	if proto == "" {
		proto = "http"
	}
	timeout := 5 * time.Second
	if hc.Timeout != "" {
		if d, err := time.ParseDuration(hc.Timeout); err == nil {
			timeout = d
		}
	}

	client := &http.Client{Timeout: timeout}
	url := fmt.Sprintf("%s://%s%s", proto, addr, hc.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// DeleteContainer tears a container down: backend pod first (so an in-flight
// watcher observes the 404 and exits), then credentials, then the row.
// Idempotent.
func (r *Reconciler) DeleteContainer(ctx context.Context, c *types.Container) error {
	if be, ok := r.platformFor(c.Spec.Platform); ok && c.ResourceName != "" {
		if err := be.DeletePod(ctx, c.ResourceName); err != nil && !platform.IsNotFound(err) {
			return err
		}
	}

	for _, name := range []string{sshKeySecret(c.Metadata.ID), sshPubSecret(c.Metadata.ID), agentKeySecret(c.Metadata.ID)} {
		if err := r.store.DeleteSecret(ctx, c.Metadata.Namespace, name); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger := log.WithContainerID(c.Metadata.ID)
			logger.Warn().Err(err).Str("secret", name).Msg("secret cleanup failed")
		}
	}

	if err := r.store.DeleteContainer(ctx, c.Metadata.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func dedupePorts(ports []int) []int {
	seen := map[int]bool{}
	out := ports[:0]
	for _, p := range ports {
		if p != 0 && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
