package flowsniffer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	psnet "github.com/shirou/gopsutil/net"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSniffer(t *testing.T) (*Sniffer, *pipelineFixture) {
	t.Helper()
	f := newPipelineFixture()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	s := &Sniffer{
		Opts:     DefaultOptions(),
		Log:      logger,
		Flows:    f.table,
		Pipeline: f.pipeline,
		Renderer: NewRenderer(f.table),
		Metrics:  f.metrics,
		started:  epoch,
		now:      func() time.Time { return f.now },
	}
	return s, f
}

func TestSnifferSweepEvictsAfterTimeout(t *testing.T) {
	s, f := newTestSniffer(t)
	f.pipeline.Ingest(tcpPacket(t, "10.0.0.5", 443, "10.0.0.9", 51000))

	f.now = epoch.Add(s.Opts.InactivityTimeout)
	s.Refresh()
	assert.Equal(t, 1, f.table.Len(), "still within the timeout")

	f.now = epoch.Add(s.Opts.InactivityTimeout + time.Second)
	s.Refresh()
	assert.Equal(t, 0, f.table.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.flowsEvicted))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.flowsActive))
}

func TestSnifferActiveFlowSurvivesSweeps(t *testing.T) {
	s, f := newTestSniffer(t)
	packet := tcpPacket(t, "10.0.0.5", 443, "10.0.0.9", 51000)

	for i := 0; i < 5; i++ {
		f.now = epoch.Add(time.Duration(i) * 30 * time.Second)
		f.pipeline.Ingest(packet)
		s.Sweep()
	}

	rows := f.table.Snapshot(false)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(5), rows[0].Packets)
}

func TestSnifferRenderCycleClearsNew(t *testing.T) {
	s, f := newTestSniffer(t)
	f.pipeline.Ingest(tcpPacket(t, "10.0.0.5", 443, "10.0.0.9", 51000))

	view := s.Renderer.Render()
	require.Len(t, view.Rows, 1)
	assert.True(t, view.New[0])

	f.pipeline.Ingest(tcpPacket(t, "10.0.0.5", 443, "10.0.0.9", 51000))
	view = s.Renderer.Render()
	assert.False(t, view.New[0])
	assert.Equal(t, "2", view.Rows[0][5])
}

func TestSnifferStatus(t *testing.T) {
	s, f := newTestSniffer(t)
	f.pipeline.Ingest(tcpPacket(t, "10.0.0.5", 443, "10.0.0.9", 51000))
	f.now = epoch.Add(3 * time.Minute)

	line := s.status(true)
	assert.Contains(t, line, "flows: 1")
	assert.Contains(t, line, "packets: 1")
	assert.Contains(t, line, "up 3 minutes")
	assert.Contains(t, line, "PAUSED")
}

func TestSnifferStatusShowsSocketSnapshot(t *testing.T) {
	s, _ := newTestSniffer(t)
	assert.NotContains(t, s.status(false), "sockets")

	s.socketMonitor = newSocketMonitor(time.Hour, func(context.Context) ([]psnet.ConnectionStat, error) {
		return []psnet.ConnectionStat{conn("10.0.0.9", 51001, 100), conn("0.0.0.0", 22, 1)}, nil
	})
	require.NoError(t, s.socketMonitor.Refresh())
	assert.Contains(t, s.status(false), "sockets: 2")
}
