package session

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// replURL computes the base URL the manager talks to a session's REPL
// service over, dispatching on AddressStrategy exactly as
// session_manager.py's _get_repl_url does: "container" resolves the
// container by its Docker-network DNS name, "host" goes through the
// detected host gateway and the container's published host port.
func (m *Manager) replURL(info *Info) string {
	if m.cfg.AddressStrategy == "container" {
		return fmt.Sprintf("http://%s:9000", info.ContainerName)
	}
	return fmt.Sprintf("http://%s:%d", m.detectHostGateway(), info.HostPort)
}

// detectHostGateway picks the hostname the manager process (itself usually
// running inside a container, or on a developer's WSL2 host) should use to
// reach a published container port back on the Docker host. Grounded on
// session_manager.py's _detect_host_gateway: explicit override wins, then a
// WSL2 check (WSL2's Docker Desktop integration makes "localhost" reach the
// host directly), then /.dockerenv (running inside a container always has
// host.docker.internal), else a DNS probe for host.docker.internal falling
// back to "localhost".
func (m *Manager) detectHostGateway() string {
	if m.cfg.HostGateway != "" {
		return m.cfg.HostGateway
	}
	if isWSL2() {
		return "localhost"
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "host.docker.internal"
	}
	if _, err := net.LookupHost("host.docker.internal"); err == nil {
		return "host.docker.internal"
	}
	return "localhost"
}

func isWSL2() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}
