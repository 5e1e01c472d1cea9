/*
Package security implements Paddock's cryptographic primitives.

Secrets are encrypted at rest with AES-256-GCM. Unlike the common
nonce-prepended layout, the nonce is returned and stored separately so the
secrets table carries (encrypted_value, nonce) as distinct columns. The
encryption key is derived from the configured process secret with SHA-256 and
is read-only after start.

The package also generates the ephemeral ed25519 SSH keypairs injected into
spawned pods and the random agent keys used by the in-container sync agent.
*/
package security
