/*
Package storage persists Paddock's resources.

The Store interface is the single persistence surface consumed by the
reconciler, the scheduler, the queue arbiter and the API layer. Two
implementations exist:

  - PostgresStore: the production store. Rows are relational with JSONB
    columns for nested structured fields (spec, status, labels,
    controller_data). Indexes cover (namespace, name), owner, owner_ref,
    queue and the JSON path status->>'status' that serves the active-resource
    scan each scheduler tick.
  - MemoryStore: an in-memory store for tests and local development with the
    same conflict and not-found semantics.

Schema migrations are embedded goose SQL files applied by Migrate, also
reachable through the `paddock migrate` command.

Secrets are persisted as (encrypted_value, nonce) pairs; encryption itself
lives in the security package.
*/
package storage
