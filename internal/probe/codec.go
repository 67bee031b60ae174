// Package probe implements the ICMP Echo request/reply wire codec
// (RFC 792 §"Echo or Echo Reply Message").
//
// Build packs a 32-byte Echo-Request datagram with the Internet
// checksum computed over the whole buffer. Parse reads a raw datagram
// off the Probe Codec's raw socket — IP header included, per the
// kernel's IPPROTO_ICMP raw-socket read semantics — validates it, and
// extracts the fields the Scheduler needs to correlate a reply to a
// host by ICMP sequence number.
package probe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/net/ipv4"
)

// Wire sizes (RFC 792).
const (
	// headerSize is the ICMP header: Type(1) + Code(1) + Checksum(2) +
	// Identifier(2) + Sequence(2) = 8 bytes.
	headerSize = 8

	// payloadSize pads the Echo-Request out to a fixed, easily
	// recognizable 32-byte datagram. Payload content carries no meaning;
	// zero bytes are used and covered by the checksum.
	payloadSize = 24

	// RequestSize is the total size of a Build()-generated datagram.
	RequestSize = headerSize + payloadSize

	// minReplySize is the minimum bytes needed for a well-formed reply:
	// a 20-byte minimal IPv4 header plus an 8-byte ICMP header.
	minReplySize = 20 + headerSize
)

// ICMP type values this package cares about (RFC 792). Named off
// golang.org/x/net/ipv4's ICMPType constants, even though the 32-byte
// wire format below is hand-packed rather than built through ipv4/icmp's
// own message types.
const (
	typeEchoReply   = byte(ipv4.ICMPTypeEchoReply)
	typeEchoRequest = byte(ipv4.ICMPTypeEcho)
	codeZero        = 0
)

// ErrIgnore is returned by Parse for any datagram that is not a
// well-formed reply to one of our own Echo-Requests: short, the wrong
// ICMP type, or carrying a different identifier. Not an error the
// caller should log — the datagram is simply "not ours" and is
// silently discarded.
var ErrIgnore = errors.New("probe: datagram ignored")

// ErrBufTooSmall indicates the destination buffer passed to Build
// cannot hold a full Echo-Request.
var ErrBufTooSmall = errors.New("probe: buffer too small")

// Reply holds the fields extracted from a correlated Echo-Reply.
type Reply struct {
	// Identifier is the ICMP identifier carried by the reply. The caller
	// compares this against its own fixed identifier.
	Identifier uint16

	// Sequence is the ICMP sequence number, equal to the replying host's
	// registry index.
	Sequence uint16

	// Source is the IPv4 source address from the IP header, in
	// network-byte-order 4-byte form.
	Source [4]byte
}

// Build packs an Echo-Request into buf, which must be at least
// RequestSize bytes. identifier is the daemon-lifetime-constant ICMP
// identifier (low 16 bits of the process id); sequence is the target
// host's registry index. Returns the number of bytes
// written.
func Build(buf []byte, identifier, sequence uint16) (int, error) {
	if len(buf) < RequestSize {
		return 0, fmt.Errorf("build echo request: need %d bytes, got %d: %w",
			RequestSize, len(buf), ErrBufTooSmall)
	}

	buf[0] = typeEchoRequest
	buf[1] = codeZero
	binary.BigEndian.PutUint16(buf[2:4], 0) // checksum placeholder
	binary.BigEndian.PutUint16(buf[4:6], identifier)
	binary.BigEndian.PutUint16(buf[6:8], sequence)
	for i := headerSize; i < RequestSize; i++ {
		buf[i] = 0
	}

	sum := checksum(buf[:RequestSize])
	binary.BigEndian.PutUint16(buf[2:4], sum)

	return RequestSize, nil
}

// checksum computes the Internet one's-complement 16-bit checksum
// (RFC 1071) over b. The caller must have zeroed the checksum field
// before calling.
func checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// VerifyChecksum reports whether b's stored checksum is internally
// consistent, i.e. recomputing the checksum over b (as received, with
// its checksum field left in place) folds to zero. Used by round-trip
// tests rather than by the hot parse path, which trusts the kernel to
// have delivered an intact datagram.
func VerifyChecksum(b []byte) bool {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return sum&0xFFFF == 0xFFFF
}

// Parse reads a raw IPv4 datagram as delivered by an IPPROTO_ICMP raw
// socket (IP header included) and extracts the Echo-Reply fields.
// wantIdentifier is our own fixed ICMP identifier.
//
// Returns ErrIgnore when the datagram is too short, not an Echo-Reply,
// or carries a different identifier. Any other return is a correlated
// reply.
func Parse(datagram []byte, wantIdentifier uint16) (Reply, error) {
	if len(datagram) < minReplySize {
		return Reply{}, fmt.Errorf("datagram too short (%d bytes): %w", len(datagram), ErrIgnore)
	}

	ihl := int(datagram[0]&0x0F) * 4
	if ihl < 20 || len(datagram) < ihl+headerSize {
		return Reply{}, fmt.Errorf("invalid IP header length %d: %w", ihl, ErrIgnore)
	}

	var src [4]byte
	copy(src[:], datagram[12:16])

	icmp := datagram[ihl:]
	if icmp[0] != typeEchoReply {
		return Reply{}, fmt.Errorf("not an echo reply (type %d): %w", icmp[0], ErrIgnore)
	}

	identifier := binary.BigEndian.Uint16(icmp[4:6])
	if identifier != wantIdentifier {
		return Reply{}, fmt.Errorf("identifier %d does not match ours (%d): %w",
			identifier, wantIdentifier, ErrIgnore)
	}

	return Reply{
		Identifier: identifier,
		Sequence:   binary.BigEndian.Uint16(icmp[6:8]),
		Source:     src,
	}, nil
}
