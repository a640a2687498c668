package flowsniffer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const Title = "Network Activity Monitor"

var tableHeader = []string{
	"Source Hostname",
	"Destination Hostname",
	"Local Port",
	"Process Name",
	"PID",
	"Packets",
}

// TableView is a display-ready copy of the flow table. New[i] marks Rows[i]
// as a flow that had not been rendered before.
type TableView struct {
	Header []string
	Rows   [][]string
	New    []bool
}

// Renderer turns the flow table into table views.
type Renderer struct {
	table *FlowTable
}

func NewRenderer(table *FlowTable) *Renderer {
	return &Renderer{table: table}
}

// Render snapshots the flow table and clears the new marker of every
// included flow, so each flow is emphasized by exactly one render.
func (r *Renderer) Render() TableView {
	return buildTableView(r.table.Snapshot(true))
}

func buildTableView(rows []FlowRow) TableView {
	view := TableView{
		Header: tableHeader,
		Rows:   make([][]string, 0, len(rows)),
		New:    make([]bool, 0, len(rows)),
	}
	for _, row := range rows {
		name := row.ProcessName
		if name == "" {
			name = UnknownProcess
		}
		view.Rows = append(view.Rows, []string{
			row.Key.SrcHost,
			row.Key.DstHost,
			strconv.Itoa(int(row.Key.LocalPort)),
			name,
			row.Key.PIDString(),
			humanize.Comma(int64(row.Packets)),
		})
		view.New = append(view.New, row.New)
	}
	return view
}

// Status is the one-line summary under the table.
type Status struct {
	Flows     int
	Packets   uint64
	Hostnames int
	Device    string
	Started   time.Time
	Paused    bool

	// Sockets is only shown while a socket monitor is running.
	Sockets    int
	Monitoring bool
}

func (s Status) String(now time.Time) string {
	line := fmt.Sprintf(" %s | flows: %d | packets: %s | hostnames: %d | up %s ",
		s.Device,
		s.Flows,
		humanize.Comma(int64(s.Packets)),
		s.Hostnames,
		strings.TrimSpace(humanize.RelTime(s.Started, now, "", "")),
	)
	if s.Monitoring {
		line += fmt.Sprintf("| sockets: %d ", s.Sockets)
	}
	if s.Paused {
		line += "| PAUSED "
	}
	return line
}
