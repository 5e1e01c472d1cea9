/*
Package platform defines the compute backend contract.

A Platform turns container specs into pods on some substrate and reports
their lifecycle back. Two adapters implement it: platform/runpod for the GPU
cloud and platform/kube for Kubernetes batch Jobs. The reconciler only ever
sees this interface, so backend differences (REST vs client-go, network
volumes vs PVCs) stay below it.

Errors carry a Kind so the reconciler can pick a policy per failure class:
NotFound advances the state machine, Transient retries on the next tick,
AuthFailed and Permanent fail the container.
*/
package platform
