//go:build !linux

package neigh

import (
	"net"
	"os/exec"
	"runtime"
)

// CommandResolver shells out to the system arp command and parses its
// output, for platforms without a queryable neighbour table API.
type CommandResolver struct {
	goos string
}

// NewCommandResolver is the constructor non-Linux builds use.
func NewCommandResolver() *CommandResolver { return &CommandResolver{goos: runtime.GOOS} }

// NewSystemResolver returns this platform's Resolver: the arp-command
// fallback everywhere the neighbour table has no queryable API.
func NewSystemResolver() Resolver { return NewCommandResolver() }

// ResolveMAC runs `arp -an` (or the Windows `arp -a` spelling) and
// parses the resulting table for ip.
func (r *CommandResolver) ResolveMAC(ip net.IP) (net.HardwareAddr, bool) {
	args := []string{"-an"}
	if r.goos == "windows" {
		args = []string{"-a"}
	}

	out, err := exec.Command("arp", args...).Output()
	if err != nil {
		return nil, false
	}

	table := ParseARPOutput(string(out), r.goos)
	entry, ok := table[ip.String()]
	if !ok {
		return nil, false
	}

	mac, err := net.ParseMAC(entry)
	if err != nil {
		return nil, false
	}
	return mac, true
}
