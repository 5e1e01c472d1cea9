/*
Package reconciler drives containers and processors to their desired state.

The container path is the heart of the system: queue admission, a create
sequence (credentials, image user probe, accelerator and datacenter
resolution, volume, env, boot script, create_pod) and a long-lived watch
loop that polls the backend, probes SSH, runs health checks, enforces
timeouts, detects the completion sentinel and emits usage meters.

The processor path samples consumer-group backlog each tick, evaluates
up/down/zero scale windows persisted in controller_data, and converges
replica container rows toward the desired count.

Reconciliation is idempotent throughout: every step either observes existing
state (secrets, volumes, pods keyed by name) or is safe to repeat. The
scheduler guarantees at most one in-flight reconcile per resource within the
process; nothing here depends on that being true across processes.
*/
package reconciler
