/*
Package probe checks liveness of running containers from the outside.

The watch loop needs two signals it cannot get from the backend API: whether
the container's SSH endpoint answers with our injected key, and whether the
boot script has written its completion sentinel. Both ride the same SSH
transport with a short dial timeout so a dead pod costs one interval, not a
hang.
*/
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	dialTimeout = 5 * time.Second
	sshUser     = "root"
)

// Prober answers reachability and file-existence questions about a
// container's SSH endpoint. addr is "host:port", key the PEM private key
// injected at create time.
type Prober interface {
	Reachable(ctx context.Context, addr string, key []byte) bool
	FileExists(ctx context.Context, addr string, key []byte, path string) (bool, error)
}

// SSHProber implements Prober over real SSH connections.
type SSHProber struct{}

// NewSSHProber returns the production prober.
func NewSSHProber() *SSHProber {
	return &SSHProber{}
}

func dial(ctx context.Context, addr string, key []byte) (*ssh.Client, error) {
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("probe: parse key: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:            sshUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // ephemeral pods, no known_hosts
		Timeout:         dialTimeout,
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Reachable reports whether addr accepts an SSH session with key.
func (p *SSHProber) Reachable(ctx context.Context, addr string, key []byte) bool {
	client, err := dial(ctx, addr, key)
	if err != nil {
		return false
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return false
	}
	session.Close()
	return true
}

// FileExists runs `test -f <path>` on the remote host. A non-zero exit means
// the file is absent; transport failures are returned as errors so the
// caller can tell "not done" from "could not check".
func (p *SSHProber) FileExists(ctx context.Context, addr string, key []byte, path string) (bool, error) {
	client, err := dial(ctx, addr, key)
	if err != nil {
		return false, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return false, err
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr
	err = session.Run(fmt.Sprintf("test -f %q", path))
	if err == nil {
		return true, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("probe: test -f: %w", err)
}
