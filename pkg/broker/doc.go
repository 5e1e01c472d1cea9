/*
Package broker wraps the Redis stream backend.

Processors consume work from Redis streams through consumer groups; the
autoscaler reads pressure as the group's unacknowledged backlog (XPENDING).
The package also backs the namespace-scoped cache-key API, a thin
pass-through over keys under "cache:<namespace>:".
*/
package broker
