/*
Package meter emits usage events for running containers.

Every watch interval a Running+ready container with configured meters
produces one CloudEvents 1.0 record per meter, carrying the elapsed seconds
and the per-interval charge. The sink sits behind a circuit breaker; a dead
sink drops events rather than stalling reconciliation.
*/
package meter
