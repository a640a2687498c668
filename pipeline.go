package flowsniffer

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// HostnameResolver turns an address into the name shown in the table.
type HostnameResolver interface {
	Lookup(ip net.IP) string
}

// Pipeline turns captured frames into flow table updates.
type Pipeline struct {
	resolver   HostnameResolver
	attributor ProcessAttributor
	table      *FlowTable
	log        logrus.FieldLogger
	metrics    *Metrics
	sink       EventSink
	now        func() time.Time
}

func NewPipeline(resolver HostnameResolver, attributor ProcessAttributor, table *FlowTable, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		resolver:   resolver,
		attributor: attributor,
		table:      table,
		log:        log,
		now:        time.Now,
	}
}

func (p *Pipeline) WithMetrics(m *Metrics) *Pipeline {
	p.metrics = m
	return p
}

func (p *Pipeline) WithEventSink(sink EventSink) *Pipeline {
	p.sink = sink
	return p
}

// Ingest accounts one frame. Failures are logged and the frame is dropped;
// Ingest never panics.
func (p *Pipeline) Ingest(packet gopacket.Packet) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.frameDropped("panic")
			p.log.WithField("panic", r).Error("Error updating packet stats")
		}
	}()

	if err := p.ingest(packet); err != nil {
		p.metrics.frameDropped("malformed")
		p.log.WithError(err).Error("Error updating packet stats")
	}
}

func (p *Pipeline) ingest(packet gopacket.Packet) error {
	frame, err := DecodeFrame(packet)
	switch {
	case errors.Is(err, errNotIP):
		p.metrics.frameDropped("not_ip")
		return nil
	case errors.Is(err, errNoPorts):
		p.metrics.frameDropped("no_ports")
		return nil
	case err != nil:
		return err
	}

	srcHost := p.resolver.Lookup(frame.SrcIP)
	dstHost := p.resolver.Lookup(frame.DstIP)
	attr := p.attribute(frame)

	key := FlowKey{
		SrcHost:   srcHost,
		DstHost:   dstHost,
		PID:       attr.PID,
		HasPID:    attr.HasPID,
		LocalPort: frame.SrcPort,
	}

	now := p.now()
	if p.table.Observe(key, attr, now) {
		p.metrics.flowCreated()
		p.announce(newConnectionEvent(key, attr, now))
	}
	p.metrics.frameIngested()
	return nil
}

// attribute tries the source side first, then the destination side, since a
// raw frame does not say which end is local.
func (p *Pipeline) attribute(frame Frame) Attribution {
	pid, ok := p.lookup(frame.SrcIP, frame.SrcPort)
	if !ok {
		pid, ok = p.lookup(frame.DstIP, frame.DstPort)
	}
	if !ok {
		return Attribution{ProcessName: UnknownProcess}
	}

	name, err := p.attributor.ProcessName(pid)
	if err != nil || name == "" {
		p.log.WithError(err).WithField("pid", pid).Debug("process name unavailable")
		name = UnknownProcess
	}
	return Attribution{PID: pid, HasPID: true, ProcessName: name}
}

func (p *Pipeline) lookup(ip net.IP, port uint16) (int32, bool) {
	pid, found, err := p.attributor.Lookup(ip, port)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{"ip": ip.String(), "port": port}).
			Warn("process attribution failed")
		return 0, false
	}
	if !found {
		p.log.WithFields(logrus.Fields{"ip": ip.String(), "port": port}).Debug("no owning process")
	}
	return pid, found
}

func (p *Pipeline) announce(ev ConnectionEvent) {
	p.log.WithFields(ev.fields()).Info("New connection")
	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ev); err != nil {
		p.log.WithError(err).Warn("publish connection event")
	}
}
