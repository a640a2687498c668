package flowsniffer

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConnectionEvent describes a flow seen for the first time.
type ConnectionEvent struct {
	Time        time.Time `json:"time"`
	SrcHost     string    `json:"src_host"`
	SrcPort     uint16    `json:"src_port"`
	DstHost     string    `json:"dst_host"`
	PID         *int32    `json:"pid"`
	ProcessName string    `json:"process_name"`
}

func newConnectionEvent(key FlowKey, attr Attribution, now time.Time) ConnectionEvent {
	ev := ConnectionEvent{
		Time:        now,
		SrcHost:     key.SrcHost,
		SrcPort:     key.LocalPort,
		DstHost:     key.DstHost,
		ProcessName: attr.ProcessName,
	}
	if key.HasPID {
		pid := key.PID
		ev.PID = &pid
	}
	return ev
}

func (ev ConnectionEvent) fields() logrus.Fields {
	pid := NoPID
	if ev.PID != nil {
		pid = strconv.Itoa(int(*ev.PID))
	}
	return logrus.Fields{
		"src":     ev.SrcHost,
		"sport":   ev.SrcPort,
		"dst":     ev.DstHost,
		"pid":     pid,
		"process": ev.ProcessName,
	}
}

// EventSink receives new-connection events besides the log file.
type EventSink interface {
	Publish(ev ConnectionEvent) error
	Close()
}

// NATSPublisher publishes connection events as JSON to a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("flowsniffer"))
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", url)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(ev ConnectionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal connection event")
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
