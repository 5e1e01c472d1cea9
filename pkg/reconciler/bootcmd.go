package reconciler

import (
	"fmt"
	"strings"

	"github.com/paddockhq/paddock/pkg/types"
)

// bootCommand renders the shell script every pod runs as PID 1. The script:
//
//  1. installs the SSH public key and brings up sshd so the watch loop can
//     probe the container,
//  2. joins the tailnet under a per-container hostname when an auth key is
//     configured,
//  3. runs the agent's one-shot volume sync,
//  4. runs the user command, then either parks forever after writing the
//     completion sentinel (restart=never) or exits so the backend restarts
//     the pod (restart=always).
func bootCommand(c *types.Container, cfg Config) string {
	var b strings.Builder

	b.WriteString("set -u\n")

	// SSH access.
	b.WriteString(`mkdir -p "$HOME/.ssh"` + "\n")
	b.WriteString(`printf '%s\n' "$PUBLIC_KEY" >> "$HOME/.ssh/authorized_keys"` + "\n")
	b.WriteString(`chmod 700 "$HOME/.ssh" && chmod 600 "$HOME/.ssh/authorized_keys"` + "\n")
	b.WriteString("if ! command -v sshd >/dev/null 2>&1; then\n")
	b.WriteString("  (apt-get update -qq && apt-get install -y -qq openssh-server) || apk add --no-cache openssh\n")
	b.WriteString("fi\n")
	b.WriteString("mkdir -p /run/sshd && (sshd || /usr/sbin/sshd || true)\n")

	// Tunnel.
	if cfg.TailnetAuthKey != "" {
		hostname := tunnelHostname(c)
		b.WriteString("if command -v tailscale >/dev/null 2>&1; then\n")
		b.WriteString("  tailscaled --state=mem: >/dev/null 2>&1 &\n")
		b.WriteString(fmt.Sprintf("  tailscale up --authkey=\"$PADDOCK_TAILNET_AUTHKEY\" --hostname=%q || true\n", hostname))
		b.WriteString("fi\n")
	}

	// One-shot volume sync before the workload starts.
	b.WriteString("if command -v paddock-agent >/dev/null 2>&1; then paddock-agent sync --once || true; fi\n")

	userCmd := strings.TrimSpace(c.Spec.Command + " " + strings.Join(c.Spec.Args, " "))
	if userCmd == "" {
		userCmd = "true"
	}

	if c.Spec.Restart == types.RestartAlways {
		// Exit with the command; the backend restart policy takes over.
		b.WriteString("exec " + userCmd + "\n")
	} else {
		b.WriteString(userCmd + "\n")
		b.WriteString("touch " + doneFile + "\n")
		// Park so the pod stays probeable until the watcher tears it down.
		b.WriteString("while true; do sleep 60; done\n")
	}

	return b.String()
}

func tunnelHostname(c *types.Container) string {
	h := c.Metadata.Namespace + "-" + c.Metadata.Name
	return strings.ToLower(strings.ReplaceAll(h, "/", "-"))
}
