package neigh

import (
	"regexp"
	"strings"
)

// linuxEntryPattern matches a line of `arp -an` output on Linux/procfs
// style tables: "<ip> <hwtype> <flags> <hwaddr> <mask> <device>".
var linuxEntryPattern = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+)\s+\S+\s+(\S+)\s+([0-9a-fA-F:]+)\s`)

// windowsEntryPattern matches a line of Windows `arp -a` output:
// "  <ip>           <hwaddr>     <type>".
var windowsEntryPattern = regexp.MustCompile(`^\s*(\d+\.\d+\.\d+\.\d+)\s+([0-9a-fA-F-]+)\s+(\w+)`)

// darwinEntryPattern matches a line of macOS/BSD `arp -an` output:
// "? (<ip>) at <hwaddr> on <iface> ...".
var darwinEntryPattern = regexp.MustCompile(`^\S+\s+\((\d+\.\d+\.\d+\.\d+)\)\s+at\s+(\S+)`)

// incompleteMAC is the all-zero MAC some platforms report for an entry
// that hasn't resolved yet; ParseARPOutput skips it.
const incompleteMAC = "00:00:00:00:00:00"

// ParseARPOutput parses the textual output of the system `arp` command
// into an IP-to-MAC table, keyed by IP address string with the MAC
// normalised to upper-case colon-separated form. goos selects the output
// dialect ("linux", "windows", "darwin"); any other value yields an empty
// table. Incomplete or broadcast entries are skipped.
func ParseARPOutput(output, goos string) map[string]string {
	table := make(map[string]string)

	for _, line := range strings.Split(output, "\n") {
		var ip, mac string

		switch goos {
		case "linux":
			m := linuxEntryPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if strings.Contains(m[2], "0x0") {
				continue
			}
			ip, mac = m[1], m[3]
		case "windows":
			m := windowsEntryPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			ip, mac = m[1], strings.ReplaceAll(m[2], "-", ":")
		case "darwin":
			m := darwinEntryPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if strings.Contains(m[2], "incomplete") {
				continue
			}
			ip, mac = m[1], m[2]
		default:
			return table
		}

		mac = strings.ToUpper(mac)
		if mac == incompleteMAC {
			continue
		}
		if strings.HasSuffix(ip, ".255") {
			continue
		}
		table[ip] = mac
	}

	return table
}
