// Package dhcp drives a four-message DHCP exchange over a raw link
// channel to prove that the subsystem under test hands out leases. It
// implements a client just capable enough for one exchange; it is not a
// general DHCP client.
package dhcp

import (
	"bytes"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/pkg/errors"

	"tethercheck/internal/faults"
)

// Hostname is the client hostname sent in every DISCOVER and REQUEST.
// The subsystem under test is expected to report it back in its client
// records.
const Hostname = "tethercheck-client"

const (
	clientPort = layers.UDPPort(dhcpv4.ClientPort)
	serverPort = layers.UDPPort(dhcpv4.ServerPort)
)

var (
	broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	anyIP        = net.IPv4(0, 0, 0, 0)
	broadcastIP  = net.IPv4(255, 255, 255, 255)
)

// Channel is the frame transport a session runs over.
type Channel interface {
	// Pop returns the oldest captured frame, or nil if none arrived
	// within timeout.
	Pop(timeout time.Duration) []byte
	// Send injects a frame into the link.
	Send(frame []byte) error
}

// Lease is the result of a completed exchange. It is immutable once
// returned.
type Lease struct {
	// Addr is the assigned address with the prefix length derived from
	// the subnet mask option.
	Addr netip.Prefix
	// Duration is the lease time granted in the ACK.
	Duration time.Duration
	// Hostname is the client hostname the session announced.
	Hostname string
	// HardwareAddr is the client hardware address the lease was
	// granted to.
	HardwareAddr net.HardwareAddr
}

// RunSession performs a DISCOVER/OFFER/REQUEST/ACK exchange for
// clientMAC over ch and returns the resulting lease.
//
// The timeout is a single budget shared across both round-trips: time
// spent waiting for the OFFER is no longer available while waiting for
// the ACK. Frames that are not the awaited reply (wrong transaction id,
// wrong message type, unrelated protocols) are discarded and do not
// extend the budget. Exhausting the budget fails with faults.ErrTimeout.
func RunSession(clientMAC net.HardwareAddr, ch Channel, timeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(timeout)

	discover, err := dhcpv4.NewDiscovery(clientMAC,
		dhcpv4.WithBroadcast(true),
		dhcpv4.WithOption(dhcpv4.OptHostName(Hostname)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build DISCOVER")
	}
	if err := sendMessage(ch, clientMAC, discover); err != nil {
		return nil, errors.Wrap(err, "failed to send DISCOVER")
	}

	offer, err := awaitReply(ch, clientMAC, discover.TransactionID, dhcpv4.MessageTypeOffer, deadline)
	if err != nil {
		return nil, err
	}

	request, err := dhcpv4.NewRequestFromOffer(offer,
		dhcpv4.WithBroadcast(true),
		dhcpv4.WithOption(dhcpv4.OptHostName(Hostname)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build REQUEST")
	}
	if err := sendMessage(ch, clientMAC, request); err != nil {
		return nil, errors.Wrap(err, "failed to send REQUEST")
	}

	ack, err := awaitReply(ch, clientMAC, discover.TransactionID, dhcpv4.MessageTypeAck, deadline)
	if err != nil {
		return nil, err
	}

	return leaseFromAck(clientMAC, ack)
}

// sendMessage wraps msg in Ethernet/IPv4/UDP broadcast headers and
// injects it. Serialization is deterministic: fixed field order, lengths
// and checksums computed by the serializer.
func sendMessage(ch Channel, clientMAC net.HardwareAddr, msg *dhcpv4.DHCPv4) error {
	eth := layers.Ethernet{
		SrcMAC:       clientMAC,
		DstMAC:       broadcastMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    anyIP,
		DstIP:    broadcastIP,
	}
	udp := layers.UDP{
		SrcPort: clientPort,
		DstPort: serverPort,
	}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return errors.Wrap(err, "failed to set checksum layer")
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(msg.ToBytes())); err != nil {
		return errors.Wrap(err, "failed to serialize frame")
	}
	return ch.Send(buf.Bytes())
}

// awaitReply pops frames until a server message of the wanted type for
// (clientMAC, xid) arrives or deadline passes.
func awaitReply(ch Channel, clientMAC net.HardwareAddr, xid dhcpv4.TransactionID, want dhcpv4.MessageType, deadline time.Time) (*dhcpv4.DHCPv4, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.Wrapf(faults.ErrTimeout, "no %s for xid %s", want, xid)
		}
		frame := ch.Pop(remaining)
		if frame == nil {
			return nil, errors.Wrapf(faults.ErrTimeout, "no %s for xid %s", want, xid)
		}
		msg, ok := parseReply(frame)
		if !ok {
			continue
		}
		if msg.TransactionID != xid || msg.MessageType() != want {
			continue
		}
		if !bytes.Equal(msg.ClientHWAddr, clientMAC) {
			continue
		}
		return msg, nil
	}
}

// parseReply extracts a server-to-client DHCP message from a raw frame.
// Frames of unrelated protocols report ok=false and are skipped by the
// caller.
func parseReply(frame []byte) (msg *dhcpv4.DHCPv4, ok bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp := udpLayer.(*layers.UDP)
	if udp.SrcPort != serverPort || udp.DstPort != clientPort {
		return nil, false
	}
	msg, err := dhcpv4.FromBytes(udp.Payload)
	if err != nil {
		return nil, false
	}
	return msg, true
}

func leaseFromAck(clientMAC net.HardwareAddr, ack *dhcpv4.DHCPv4) (*Lease, error) {
	addr, ok := netip.AddrFromSlice(ack.YourIPAddr.To4())
	if !ok {
		return nil, errors.Wrapf(faults.ErrMalformedHeader, "ACK yiaddr %v is not an IPv4 address", ack.YourIPAddr)
	}
	mask := ack.SubnetMask()
	if mask == nil {
		return nil, errors.Wrap(faults.ErrMalformedHeader, "ACK carries no subnet mask")
	}
	bits, _ := mask.Size()

	hwaddr := make(net.HardwareAddr, len(clientMAC))
	copy(hwaddr, clientMAC)
	return &Lease{
		Addr:         netip.PrefixFrom(addr, bits),
		Duration:     ack.IPAddressLeaseTime(0),
		Hostname:     Hostname,
		HardwareAddr: hwaddr,
	}, nil
}
