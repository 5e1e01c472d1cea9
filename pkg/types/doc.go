/*
Package types defines the core data structures used throughout Paddock.

This package contains the domain model shared by every other package:
containers and their structured status, processors and their scaling rules,
secrets, namespaces and volumes. All other packages (storage, reconciler,
scheduler, API) operate on these types.

# Core Types

Identity:
  - Metadata: id, name, namespace, owner, labels, timestamps; FullName() is
    unique per resource kind

Containers:
  - Container: declarative ContainerSpec plus reconciler-derived state
  - ContainerState: the lifecycle state machine with Active/Terminal partition
  - ContainerStatus: structured status column (state, message, ports, cost,
    readiness)
  - ControllerData: opaque reconciler bookkeeping (thread id, watch markers,
    autoscale observation windows)

Processors:
  - Processor: autoscaled container pool bound to a broker stream
  - ScaleRules: up/down/zero policies with pressure thresholds and hold
    durations

Security and storage:
  - Secret: namespace-scoped blob, AES-256-GCM encrypted with a per-record
    nonce
  - Volume: backend network volume keyed by (owner, datacenter)

All types serialize to JSON with lowercase wire names; state enums marshal as
their lowercase string form.
*/
package types
