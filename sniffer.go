package flowsniffer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gizak/termui/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sniffer owns one monitoring session: the capture loop feeding the flow
// table and the render loop sweeping and drawing it.
type Sniffer struct {
	Opts          Options
	Log           logrus.FieldLogger
	DnsResolver   *DNSResolver
	PcapClient    *PcapClient
	Flows         *FlowTable
	Pipeline      *Pipeline
	Renderer      *Renderer
	Ui            *UIComponent
	Metrics       *Metrics
	Out           io.Writer
	socketMonitor *SocketMonitor
	events        EventSink
	started       time.Time
	now           func() time.Time
}

func NewSniffer(opts Options, log logrus.FieldLogger) (_ *Sniffer, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Sniffer{
		Opts:    opts,
		Log:     log,
		Flows:   NewFlowTable(),
		Metrics: NewMetrics(),
		Out:     os.Stdout,
		started: time.Now(),
		now:     time.Now,
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.DnsResolver = NewDnsResolver(opts, s.Metrics)

	var attributor ProcessAttributor = NewConnectionTable()
	if opts.SocketRefresh > 0 {
		s.socketMonitor = NewSocketMonitor(opts.SocketRefresh)
		if err := s.socketMonitor.Start(); err != nil {
			log.WithError(err).Warn("initial socket snapshot failed, retrying in the background")
		}
		attributor = s.socketMonitor
	}

	s.PcapClient, err = NewPcapClient(opts)
	if err != nil {
		return nil, err
	}

	s.Pipeline = NewPipeline(s.DnsResolver, attributor, s.Flows, log).WithMetrics(s.Metrics)
	if opts.NATSURL != "" {
		pub, err := NewNATSPublisher(opts.NATSURL, opts.NATSSubject)
		if err != nil {
			return nil, err
		}
		s.events = pub
		s.Pipeline.WithEventSink(pub)
	}

	s.Renderer = NewRenderer(s.Flows)
	return s, nil
}

// Start runs the session until ctx is done or the user quits, and returns
// once the capture loop has stopped.
func (s *Sniffer) Start(ctx context.Context) error {
	ui, err := NewUIComponent()
	if err != nil {
		return err
	}
	s.Ui = ui

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Log.WithField("device", s.PcapClient.Device).Info("capture started")
		if err := s.PcapClient.Run(ctx, s.Pipeline.Ingest); err != nil {
			s.Log.WithError(err).Error("Error in packet sniffer")
			return nil
		}
		s.Log.Info("capture stopped")
		return nil
	})

	if s.Opts.MetricsAddr != "" {
		g.Go(func() error {
			if err := s.Metrics.Serve(ctx, s.Opts.MetricsAddr); err != nil {
				s.Log.WithError(err).Error("metrics endpoint stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		s.loop(ctx)
		s.Ui.Close()
		s.Ui = nil
		fmt.Fprintln(s.Out, "Stopping packet sniffer...")
		return nil
	})

	return g.Wait()
}

func (s *Sniffer) loop(ctx context.Context) {
	events := termui.PollEvents()
	s.Refresh()
	var paused bool

	ticker := time.NewTicker(s.Opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case e := <-events:
			switch e.ID {
			case "<Space>":
				paused = !paused
				if paused {
					s.Ui.SetStatus(s.status(true))
				} else {
					s.Refresh()
				}
			case "<Resize>":
				payload := e.Payload.(termui.Resize)
				s.Ui.Resize(payload.Width, payload.Height)
				s.Refresh()
			case "q", "Q", "<C-c>":
				return
			}

		case <-ticker.C:
			if paused {
				s.Sweep()
				continue
			}
			s.Refresh()
		}
	}
}

// Sweep evicts flows idle for longer than the inactivity timeout.
func (s *Sniffer) Sweep() {
	evicted := s.Flows.Sweep(s.now(), s.Opts.InactivityTimeout)
	s.Metrics.flowsSwept(len(evicted), s.Flows.Len())
	if len(evicted) > 0 {
		s.Log.WithField("count", len(evicted)).Debug("evicted inactive flows")
	}
}

// Refresh evicts stale flows and then redraws, so evicted flows never show.
func (s *Sniffer) Refresh() {
	s.Sweep()
	if s.Ui == nil {
		return
	}
	s.Ui.Render(s.Renderer.Render(), s.status(false))
}

func (s *Sniffer) status(paused bool) string {
	st := Status{
		Flows:   s.Flows.Len(),
		Packets: s.Flows.TotalPackets(),
		Started: s.started,
		Paused:  paused,
	}
	if s.PcapClient != nil {
		st.Device = s.PcapClient.Device
	}
	if s.DnsResolver != nil {
		st.Hostnames = s.DnsResolver.Len()
	}
	if s.socketMonitor != nil {
		st.Sockets, st.Monitoring = s.socketMonitor.Len(), true
	}
	return st.String(s.now())
}

func (s *Sniffer) Close() {
	if s.Ui != nil {
		s.Ui.Close()
	}
	if s.PcapClient != nil {
		s.PcapClient.Close()
	}
	if s.socketMonitor != nil {
		s.socketMonitor.Stop()
	}
	if s.events != nil {
		s.events.Close()
	}
}

// IsPermissionError reports whether err means capture needs more privilege.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrCapturePermission)
}
