package dhcp

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/pkg/errors"

	"tethercheck/internal/faults"
)

var (
	testClientMAC = net.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	testServerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xfe}
	testServerIP  = net.ParseIP("192.0.2.3").To4()
	testClientIP  = net.ParseIP("192.0.2.2").To4()
	testMask      = net.CIDRMask(28, 32)
)

const testLeaseTime = 3600 * time.Second

// responder scripts the server side of an exchange in process: every
// client frame handed to Send is answered immediately into the queue
// that Pop drains.
type responder struct {
	t *testing.T

	// answerDiscover/answerRequest control which half of the exchange
	// the server participates in.
	answerDiscover bool
	answerRequest  bool
	// junkBeforeOffer prepends unrelated and mismatched frames to the
	// OFFER to exercise discard behavior.
	junkBeforeOffer bool

	queue [][]byte
}

func (r *responder) Pop(timeout time.Duration) []byte {
	if len(r.queue) == 0 {
		return nil
	}
	frame := r.queue[0]
	r.queue = r.queue[1:]
	return frame
}

func (r *responder) Send(frame []byte) error {
	msg, ok := parseClientMessage(frame)
	if !ok {
		r.t.Fatalf("Server received a non-DHCP frame: % x", frame)
	}
	switch msg.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		if !r.answerDiscover {
			return nil
		}
		if r.junkBeforeOffer {
			r.queue = append(r.queue, []byte("not even ethernet"))
			r.queue = append(r.queue, r.reply(msg, dhcpv4.MessageTypeOffer, true /* mangleXID */))
		}
		r.queue = append(r.queue, r.reply(msg, dhcpv4.MessageTypeOffer, false))
	case dhcpv4.MessageTypeRequest:
		if !r.answerRequest {
			return nil
		}
		r.queue = append(r.queue, r.reply(msg, dhcpv4.MessageTypeAck, false))
	default:
		r.t.Fatalf("Server received unexpected message type %s", msg.MessageType())
	}
	return nil
}

func (r *responder) reply(req *dhcpv4.DHCPv4, mt dhcpv4.MessageType, mangleXID bool) []byte {
	reply, err := dhcpv4.NewReplyFromRequest(req,
		dhcpv4.WithMessageType(mt),
		dhcpv4.WithYourIP(testClientIP),
		dhcpv4.WithServerIP(testServerIP),
		dhcpv4.WithOption(dhcpv4.OptSubnetMask(testMask)),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(testServerIP)),
		dhcpv4.WithOption(dhcpv4.OptIPAddressLeaseTime(testLeaseTime)))
	if err != nil {
		r.t.Fatalf("Failed to build %s: %v", mt, err)
	}
	if mangleXID {
		reply.TransactionID[0] ^= 0xff
	}

	eth := layers.Ethernet{
		SrcMAC:       testServerMAC,
		DstMAC:       req.ClientHWAddr,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    testServerIP,
		DstIP:    testClientIP,
	}
	udp := layers.UDP{SrcPort: serverPort, DstPort: clientPort}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		r.t.Fatalf("Failed to set checksum layer: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(reply.ToBytes())); err != nil {
		r.t.Fatalf("Failed to serialize %s: %v", mt, err)
	}
	return buf.Bytes()
}

func parseClientMessage(frame []byte) (*dhcpv4.DHCPv4, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp := udpLayer.(*layers.UDP)
	if udp.SrcPort != clientPort || udp.DstPort != serverPort {
		return nil, false
	}
	msg, err := dhcpv4.FromBytes(udp.Payload)
	if err != nil {
		return nil, false
	}
	return msg, true
}

func TestRunSession(t *testing.T) {
	r := &responder{t: t, answerDiscover: true, answerRequest: true}

	lease, err := RunSession(testClientMAC, r, time.Second)
	if err != nil {
		t.Fatalf("RunSession() failed: %v", err)
	}

	want := &Lease{
		Addr:         netip.MustParsePrefix("192.0.2.2/28"),
		Duration:     testLeaseTime,
		Hostname:     Hostname,
		HardwareAddr: testClientMAC,
	}
	if diff := cmp.Diff(want, lease, cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })); diff != "" {
		t.Errorf("Lease mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSessionDiscardsUnrelatedFrames(t *testing.T) {
	r := &responder{t: t, answerDiscover: true, answerRequest: true, junkBeforeOffer: true}

	lease, err := RunSession(testClientMAC, r, time.Second)
	if err != nil {
		t.Fatalf("RunSession() failed: %v", err)
	}
	if got, want := lease.Addr, netip.MustParsePrefix("192.0.2.2/28"); got != want {
		t.Errorf("Lease address = %v, want %v", got, want)
	}
}

func TestRunSessionTimeoutWithoutOffer(t *testing.T) {
	r := &responder{t: t}

	if _, err := RunSession(testClientMAC, r, 100*time.Millisecond); !errors.Is(err, faults.ErrTimeout) {
		t.Errorf("RunSession() with silent server = %v, want ErrTimeout", err)
	}
}

func TestRunSessionTimeoutWithoutAck(t *testing.T) {
	r := &responder{t: t, answerDiscover: true}

	if _, err := RunSession(testClientMAC, r, 100*time.Millisecond); !errors.Is(err, faults.ErrTimeout) {
		t.Errorf("RunSession() with OFFER-only server = %v, want ErrTimeout", err)
	}
}
