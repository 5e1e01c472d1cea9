package security

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerateSSHKeyPair(t *testing.T) {
	pair, err := GenerateSSHKeyPair("paddock-test")
	if err != nil {
		t.Fatalf("GenerateSSHKeyPair() error = %v", err)
	}

	signer, err := ssh.ParsePrivateKey(pair.PrivatePEM)
	if err != nil {
		t.Fatalf("private key does not parse: %v", err)
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(pair.PublicAuthorized)
	if err != nil {
		t.Fatalf("public key does not parse: %v", err)
	}

	if !bytes.Equal(signer.PublicKey().Marshal(), pub.Marshal()) {
		t.Error("public key does not match private key")
	}
}

func TestGenerateSSHKeyPairUnique(t *testing.T) {
	a, err := GenerateSSHKeyPair("a")
	if err != nil {
		t.Fatalf("GenerateSSHKeyPair() error = %v", err)
	}
	b, err := GenerateSSHKeyPair("b")
	if err != nil {
		t.Fatalf("GenerateSSHKeyPair() error = %v", err)
	}

	if bytes.Equal(a.PrivatePEM, b.PrivatePEM) {
		t.Error("two generated keypairs must differ")
	}
}

func TestGenerateAgentKey(t *testing.T) {
	k1, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey() error = %v", err)
	}
	if len(k1) != 64 {
		t.Errorf("agent key length = %d, want 64 hex chars", len(k1))
	}

	k2, _ := GenerateAgentKey()
	if k1 == k2 {
		t.Error("agent keys must be unique")
	}
}
