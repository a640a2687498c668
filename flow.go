package flowsniffer

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	UnknownProcess = "Unknown"
	NoPID          = "N/A"
)

// FlowKey identifies a row of the flow table. Hostnames are the cached
// resolution at first sight, so a key never changes once created.
type FlowKey struct {
	SrcHost   string
	DstHost   string
	PID       int32
	HasPID    bool
	LocalPort uint16
}

// PIDString renders the owning pid, or N/A when attribution failed.
func (k FlowKey) PIDString() string {
	if !k.HasPID {
		return NoPID
	}
	return strconv.Itoa(int(k.PID))
}

func (k FlowKey) less(o FlowKey) bool {
	if k.SrcHost != o.SrcHost {
		return k.SrcHost < o.SrcHost
	}
	if k.DstHost != o.DstHost {
		return k.DstHost < o.DstHost
	}
	if k.LocalPort != o.LocalPort {
		return k.LocalPort < o.LocalPort
	}
	if k.HasPID != o.HasPID {
		return !k.HasPID
	}
	return k.PID < o.PID
}

// FlowRecord is the accumulated state of one flow.
type FlowRecord struct {
	Packets     uint64
	PID         int32
	HasPID      bool
	ProcessName string
	LocalPort   uint16
	New         bool
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Attribution is what the process attributor learned about a frame.
type Attribution struct {
	PID         int32
	HasPID      bool
	ProcessName string
}

// FlowRow is a point-in-time copy of a record handed to the renderer.
type FlowRow struct {
	Key FlowKey
	FlowRecord
}

// FlowTable is the flow state shared by the capture loop and the render loop.
// Every access goes through mu.
type FlowTable struct {
	mu    sync.Mutex
	flows map[FlowKey]*FlowRecord
	total uint64
}

func NewFlowTable() *FlowTable {
	return &FlowTable{flows: make(map[FlowKey]*FlowRecord)}
}

// Observe accounts one packet for key at now. It reports whether the flow was
// created by this packet.
func (t *FlowTable) Observe(key FlowKey, attr Attribution, now time.Time) (created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.flows[key]
	if !ok {
		rec = &FlowRecord{New: true, FirstSeen: now, LastSeen: now}
		t.flows[key] = rec
		created = true
	}

	rec.Packets++
	rec.PID = attr.PID
	rec.HasPID = attr.HasPID
	rec.ProcessName = attr.ProcessName
	if rec.ProcessName == "" {
		rec.ProcessName = UnknownProcess
	}
	rec.LocalPort = key.LocalPort
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	t.total++
	return created
}

// Sweep removes every flow whose last packet is older than timeout at now and
// returns the evicted keys.
func (t *FlowTable) Sweep(now time.Time, timeout time.Duration) []FlowKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []FlowKey
	for key, rec := range t.flows {
		if now.Sub(rec.LastSeen) > timeout {
			delete(t.flows, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

// Snapshot copies the table ordered by last-seen descending. With markSeen
// the New flag is cleared on every included record, so a flow is reported as
// new by exactly one snapshot.
func (t *FlowTable) Snapshot(markSeen bool) []FlowRow {
	t.mu.Lock()
	rows := make([]FlowRow, 0, len(t.flows))
	for key, rec := range t.flows {
		rows = append(rows, FlowRow{Key: key, FlowRecord: *rec})
		if markSeen {
			rec.New = false
		}
	}
	t.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].LastSeen.Equal(rows[j].LastSeen) {
			return rows[i].LastSeen.After(rows[j].LastSeen)
		}
		return rows[i].Key.less(rows[j].Key)
	})
	return rows
}

// get returns a copy of the record for key.
func (t *FlowTable) get(key FlowKey) (FlowRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.flows[key]
	if !ok {
		return FlowRecord{}, false
	}
	return *rec, true
}

func (t *FlowTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// TotalPackets counts every packet accounted since the table was created,
// evicted flows included.
func (t *FlowTable) TotalPackets() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
