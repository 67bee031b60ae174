//go:build linux

package neigh

import (
	"net"
	"strings"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// confirmedStates are the NUD states rtnetlink reports for a neighbour
// entry whose link-layer address is considered confirmed.
var confirmedStates = map[uint16]bool{
	unix.NUD_REACHABLE: true,
	unix.NUD_STALE:     true,
	unix.NUD_DELAY:     true,
	unix.NUD_PROBE:     true,
	unix.NUD_PERMANENT: true,
}

// LinuxResolver queries the kernel's per-interface neighbour table over
// rtnetlink (RTM_GETNEIGH).
type LinuxResolver struct{}

// NewLinuxResolver returns a Resolver backed by rtnetlink.
func NewLinuxResolver() *LinuxResolver { return &LinuxResolver{} }

// NewSystemResolver returns this platform's Resolver: the rtnetlink
// neighbour-table implementation on Linux.
func NewSystemResolver() Resolver { return NewLinuxResolver() }

// ResolveMAC enumerates non-loopback interfaces and queries each one's
// neighbour table until a confirmed entry for ip is found.
func (r *LinuxResolver) ResolveMAC(ip net.IP) (net.HardwareAddr, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, false
	}

	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		// Aliases (":"-suffixed legacy names) and down interfaces are
		// not useful neighbour-cache sources.
		if ifi.Flags&net.FlagUp == 0 || strings.Contains(ifi.Name, ":") {
			continue
		}

		if mac, ok := queryInterface(ifi.Index, ip); ok {
			return mac, true
		}
	}
	return nil, false
}

func queryInterface(ifIndex int, ip net.IP) (net.HardwareAddr, bool) {
	rc, err := rtnetlink.Dial(&netlink.Config{Strict: true})
	if err != nil {
		return nil, false
	}
	defer rc.Close()

	msgs, err := rc.Execute(
		&rtnetlink.NeighMessage{Family: unix.AF_INET, Index: uint32(ifIndex)},
		unix.RTM_GETNEIGH,
		netlink.Request|netlink.Dump,
	)
	if err != nil {
		return nil, false
	}

	ip4 := ip.To4()
	for _, m := range msgs {
		nm, ok := m.(*rtnetlink.NeighMessage)
		if !ok || nm.Index != uint32(ifIndex) || nm.Attributes == nil {
			continue
		}
		if !confirmedStates[nm.State] {
			continue
		}
		if !nm.Attributes.Address.Equal(ip4) {
			continue
		}
		if len(nm.Attributes.LLAddress) == 6 {
			return nm.Attributes.LLAddress, true
		}
	}
	return nil, false
}
