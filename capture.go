package flowsniffer

import (
	"context"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// readTimeout bounds how long a read blocks, so a stopped capture loop
// notices cancellation promptly.
const readTimeout = 250 * time.Millisecond

var ErrCapturePermission = errors.New("insufficient privilege to capture")

type packetReader interface {
	NextPacket() (gopacket.Packet, error)
}

// PcapClient is a live capture on one device.
type PcapClient struct {
	Device string
	handle *pcap.Handle
	source packetReader
}

func NewPcapClient(opts Options) (*PcapClient, error) {
	handle, err := pcap.OpenLive(opts.Interface, opts.SnapshotLen, opts.Promiscuous, readTimeout)
	if err != nil {
		if isPermissionError(err) {
			return nil, errors.Wrapf(ErrCapturePermission, "open device %s: %v", opts.Interface, err)
		}
		return nil, errors.Wrapf(err, "open device %s", opts.Interface)
	}

	if opts.BPFFilter != "" {
		if err := handle.SetBPFFilter(opts.BPFFilter); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, "set bpf filter %q", opts.BPFFilter)
		}
	}

	return &PcapClient{
		Device: opts.Interface,
		handle: handle,
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
	}, nil
}

// Run feeds every captured packet to handle until ctx is done or the capture
// fails. Cancellation is not an error.
func (c *PcapClient) Run(ctx context.Context, handle func(gopacket.Packet)) error {
	return runCapture(ctx, c.source, handle)
}

func runCapture(ctx context.Context, src packetReader, handle func(gopacket.Packet)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		packet, err := src.NextPacket()
		switch {
		case err == nil:
			handle(packet)
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			return nil
		default:
			return errors.Wrap(err, "read packet")
		}
	}
}

func (c *PcapClient) Close() {
	if c.handle != nil {
		c.handle.Close()
	}
}
