// Package packet decodes the fixed-layout protocol headers the harness
// needs to classify raw downstream frames. Decoding is layered: each
// helper consumes exactly one header from the front of the buffer and
// returns the remaining bytes, so callers can walk a frame one layer at
// a time without a full stack.
package packet

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"tethercheck/internal/faults"
)

// DecodeEthernet decodes an Ethernet header from the front of buf and
// returns the decoded layer along with the bytes that follow it.
func DecodeEthernet(buf []byte) (*layers.Ethernet, []byte, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(buf, gopacket.NilDecodeFeedback); err != nil {
		return nil, nil, errors.Wrapf(faults.ErrMalformedHeader, "ethernet: %v", err)
	}
	return &eth, eth.Payload, nil
}

// DecodeIPv6 decodes a fixed IPv6 header from the front of buf.
func DecodeIPv6(buf []byte) (*layers.IPv6, []byte, error) {
	var ip6 layers.IPv6
	if err := ip6.DecodeFromBytes(buf, gopacket.NilDecodeFeedback); err != nil {
		return nil, nil, errors.Wrapf(faults.ErrMalformedHeader, "ipv6: %v", err)
	}
	return &ip6, ip6.Payload, nil
}

// DecodeICMPv6 decodes an ICMPv6 header (type, code, checksum) from the
// front of buf. The message body is returned undecoded.
func DecodeICMPv6(buf []byte) (*layers.ICMPv6, []byte, error) {
	var icmp layers.ICMPv6
	if err := icmp.DecodeFromBytes(buf, gopacket.NilDecodeFeedback); err != nil {
		return nil, nil, errors.Wrapf(faults.ErrMalformedHeader, "icmpv6: %v", err)
	}
	return &icmp, icmp.Payload, nil
}

// IsRouterAdvertisement reports whether frame is an ICMPv6 Router
// Advertisement carried over Ethernet. A frame qualifies only if the
// ethertype is IPv6, the IPv6 next-header is ICMPv6 and the ICMPv6 type
// is Router Advertisement; anything else, including frames too short to
// decode, does not qualify.
func IsRouterAdvertisement(frame []byte) bool {
	eth, rest, err := DecodeEthernet(frame)
	if err != nil || eth.EthernetType != layers.EthernetTypeIPv6 {
		return false
	}

	ip6, rest, err := DecodeIPv6(rest)
	if err != nil || ip6.NextHeader != layers.IPProtocolICMPv6 {
		return false
	}

	icmp, _, err := DecodeICMPv6(rest)
	if err != nil {
		return false
	}
	return icmp.TypeCode.Type() == layers.ICMPv6TypeRouterAdvertisement
}
