/*
Package scheduler is the heartbeat of the control loop.

Every tick it lists active containers and processors and spawns one
reconcile goroutine per resource. A process-wide in-flight map guarantees at
most one concurrent reconcile per resource; the tick cadence never blocks on
a slow reconcile. Per-resource thread ids are persisted for debugging only.
*/
package scheduler
