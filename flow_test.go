package flowsniffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func unknown() Attribution {
	return Attribution{ProcessName: UnknownProcess}
}

func TestFlowTableObserveCountsPackets(t *testing.T) {
	table := NewFlowTable()
	key := FlowKey{SrcHost: "a", DstHost: "b", LocalPort: 443}

	assert.True(t, table.Observe(key, unknown(), epoch))
	for i := 1; i < 5; i++ {
		assert.False(t, table.Observe(key, unknown(), epoch.Add(time.Duration(i)*time.Second)))
	}

	rec, ok := table.get(key)
	require.True(t, ok)
	assert.Equal(t, uint64(5), rec.Packets)
	assert.True(t, rec.New)
	assert.Equal(t, epoch, rec.FirstSeen)
	assert.Equal(t, epoch.Add(4*time.Second), rec.LastSeen)
	assert.Equal(t, uint64(5), table.TotalPackets())
}

func TestFlowTableKeysIncludePID(t *testing.T) {
	table := NewFlowTable()
	base := FlowKey{SrcHost: "a", DstHost: "b", LocalPort: 443}
	owned := base
	owned.PID, owned.HasPID = 42, true

	table.Observe(base, unknown(), epoch)
	table.Observe(owned, Attribution{PID: 42, HasPID: true, ProcessName: "curl"}, epoch)

	assert.Equal(t, 2, table.Len())
	rec, ok := table.get(owned)
	require.True(t, ok)
	assert.Equal(t, "curl", rec.ProcessName)
	assert.Equal(t, int32(42), rec.PID)
}

func TestFlowTableObserveRefreshesAttribution(t *testing.T) {
	table := NewFlowTable()
	key := FlowKey{SrcHost: "a", DstHost: "b", PID: 7, HasPID: true, LocalPort: 80}

	table.Observe(key, Attribution{PID: 7, HasPID: true, ProcessName: UnknownProcess}, epoch)
	table.Observe(key, Attribution{PID: 7, HasPID: true, ProcessName: "nginx"}, epoch)

	rec, _ := table.get(key)
	assert.Equal(t, "nginx", rec.ProcessName)
}

func TestFlowTableLastSeenNeverMovesBackwards(t *testing.T) {
	table := NewFlowTable()
	key := FlowKey{SrcHost: "a", DstHost: "b", LocalPort: 80}

	table.Observe(key, unknown(), epoch.Add(time.Minute))
	table.Observe(key, unknown(), epoch)

	rec, _ := table.get(key)
	assert.Equal(t, epoch.Add(time.Minute), rec.LastSeen)
	assert.Equal(t, uint64(2), rec.Packets)
}

func TestFlowTableSweep(t *testing.T) {
	table := NewFlowTable()
	stale := FlowKey{SrcHost: "stale", DstHost: "b", LocalPort: 1}
	fresh := FlowKey{SrcHost: "fresh", DstHost: "b", LocalPort: 2}
	timeout := 60 * time.Second

	table.Observe(stale, unknown(), epoch)
	table.Observe(fresh, unknown(), epoch.Add(30*time.Second))

	assert.Empty(t, table.Sweep(epoch.Add(timeout), timeout), "exactly at the timeout is still active")

	evicted := table.Sweep(epoch.Add(timeout+time.Second), timeout)
	assert.Equal(t, []FlowKey{stale}, evicted)

	_, ok := table.get(stale)
	assert.False(t, ok)
	_, ok = table.get(fresh)
	assert.True(t, ok)
}

func TestFlowTableSnapshotClearsNewOnce(t *testing.T) {
	table := NewFlowTable()
	key := FlowKey{SrcHost: "a", DstHost: "b", LocalPort: 80}
	table.Observe(key, unknown(), epoch)
	table.Observe(key, unknown(), epoch)

	peek := table.Snapshot(false)
	require.Len(t, peek, 1)
	assert.True(t, peek[0].New)

	first := table.Snapshot(true)
	require.Len(t, first, 1)
	assert.True(t, first[0].New)
	assert.Equal(t, uint64(2), first[0].Packets)

	table.Observe(key, unknown(), epoch.Add(time.Second))
	second := table.Snapshot(true)
	require.Len(t, second, 1)
	assert.False(t, second[0].New)
	assert.Equal(t, uint64(3), second[0].Packets)
}

func TestFlowTableSnapshotOrder(t *testing.T) {
	table := NewFlowTable()
	older := FlowKey{SrcHost: "older", DstHost: "x", LocalPort: 1}
	newer := FlowKey{SrcHost: "newer", DstHost: "x", LocalPort: 1}
	tieB := FlowKey{SrcHost: "b", DstHost: "x", LocalPort: 1}
	tieA := FlowKey{SrcHost: "a", DstHost: "x", LocalPort: 1}

	table.Observe(older, unknown(), epoch)
	table.Observe(newer, unknown(), epoch.Add(2*time.Second))
	table.Observe(tieB, unknown(), epoch.Add(time.Second))
	table.Observe(tieA, unknown(), epoch.Add(time.Second))

	rows := table.Snapshot(false)
	var got []string
	for _, r := range rows {
		got = append(got, r.Key.SrcHost)
	}
	assert.Equal(t, []string{"newer", "a", "b", "older"}, got)
}

func TestFlowKeyPIDString(t *testing.T) {
	assert.Equal(t, "N/A", FlowKey{}.PIDString())
	assert.Equal(t, "1234", FlowKey{PID: 1234, HasPID: true}.PIDString())
}
