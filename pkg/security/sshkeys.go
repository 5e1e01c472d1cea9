package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// SSHKeyPair holds a freshly generated ed25519 keypair. PrivatePEM is in
// OpenSSH format; PublicAuthorized is an authorized_keys line.
type SSHKeyPair struct {
	PrivatePEM       []byte
	PublicAuthorized []byte
}

// GenerateSSHKeyPair creates an ephemeral ed25519 keypair for container
// access. The comment ends up in the authorized_keys line.
func GenerateSSHKeyPair(comment string) (*SSHKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key: %w", err)
	}

	return &SSHKeyPair{
		PrivatePEM:       pem.EncodeToMemory(block),
		PublicAuthorized: ssh.MarshalAuthorizedKey(sshPub),
	}, nil
}

// PublicKeyFromPrivate derives the authorized_keys line from an OpenSSH PEM
// private key, so the public half can be rebuilt after a partial write.
func PublicKeyFromPrivate(privatePEM []byte) ([]byte, error) {
	signer, err := ssh.ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ssh.MarshalAuthorizedKey(signer.PublicKey()), nil
}

// GenerateAgentKey returns a random 32-byte key, hex encoded, handed to the
// in-container sync agent as its identity.
func GenerateAgentKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate agent key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
