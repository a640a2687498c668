package flowsniffer

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

var (
	errNotIP   = errors.New("not an IP packet")
	errNoPorts = errors.New("not a TCP or UDP packet")
)

// Frame is the part of a captured packet the flow table cares about.
type Frame struct {
	SrcIP    net.IP
	DstIP    net.IP
	Protocol layers.IPProtocol
	SrcPort  uint16
	DstPort  uint16
}

// DecodeFrame extracts addresses and ports from packet. It returns errNotIP
// for frames without an IP header and errNoPorts for IP frames whose protocol
// carries no ports. A TCP or UDP frame whose transport header cannot be
// decoded is malformed.
func DecodeFrame(packet gopacket.Packet) (Frame, error) {
	var f Frame

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		f.SrcIP, f.DstIP, f.Protocol = ip.SrcIP, ip.DstIP, ip.Protocol
	case *layers.IPv6:
		f.SrcIP, f.DstIP, f.Protocol = ip.SrcIP, ip.DstIP, ip.NextHeader
	default:
		return f, errNotIP
	}

	// IPv6 extension headers sit between the network and transport layers,
	// so the transport is taken from the decoded layers.
	switch l := packet.TransportLayer().(type) {
	case *layers.TCP:
		f.Protocol = layers.IPProtocolTCP
		f.SrcPort, f.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
	case *layers.UDP:
		f.Protocol = layers.IPProtocolUDP
		f.SrcPort, f.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
	default:
		switch f.Protocol {
		case layers.IPProtocolTCP:
			return f, malformed(packet, "tcp")
		case layers.IPProtocolUDP:
			return f, malformed(packet, "udp")
		}
		return f, errNoPorts
	}

	return f, nil
}

func malformed(packet gopacket.Packet, proto string) error {
	if el := packet.ErrorLayer(); el != nil {
		return errors.Wrapf(el.Error(), "decode %s header", proto)
	}
	return errors.Errorf("missing %s header", proto)
}
