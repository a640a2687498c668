package flowsniffer

import (
	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/pkg/errors"
)

var (
	headerStyle = termui.NewStyle(termui.ColorYellow, termui.ColorClear, termui.ModifierBold)
	newRowStyle = termui.NewStyle(termui.ColorWhite, termui.ColorClear, termui.ModifierBold)
)

// UIComponent paints the flow table and a status line on the terminal.
type UIComponent struct {
	grid   *termui.Grid
	table  *widgets.Table
	status *widgets.Paragraph
}

func NewUIComponent() (*UIComponent, error) {
	if err := termui.Init(); err != nil {
		return nil, errors.Wrap(err, "init termui")
	}

	table := newFlowTableWidget()
	status := widgets.NewParagraph()
	status.Border = false
	status.TextStyle = termui.NewStyle(termui.ColorCyan)

	grid := termui.NewGrid()
	grid.Set(
		termui.NewRow(0.95, termui.NewCol(1.0, table)),
		termui.NewRow(0.05, termui.NewCol(1.0, status)),
	)

	ui := &UIComponent{grid: grid, table: table, status: status}
	ui.Resize(termui.TerminalDimensions())
	return ui, nil
}

func newFlowTableWidget() *widgets.Table {
	table := widgets.NewTable()
	table.Title = " " + Title + " "
	table.TextStyle = termui.NewStyle(termui.ColorWhite)
	table.BorderStyle.Fg = termui.ColorGreen
	table.RowSeparator = false
	table.FillRow = true
	table.Rows = [][]string{tableHeader}
	table.RowStyles = map[int]termui.Style{0: headerStyle}
	return table
}

// applyTableView copies view into the widget. Widget row 0 is the header.
func applyTableView(table *widgets.Table, view TableView) {
	rows := make([][]string, 0, len(view.Rows)+1)
	rows = append(rows, view.Header)
	rows = append(rows, view.Rows...)

	styles := map[int]termui.Style{0: headerStyle}
	for i, isNew := range view.New {
		if isNew {
			styles[i+1] = newRowStyle
		}
	}

	table.Rows = rows
	table.RowStyles = styles
}

func (u *UIComponent) Render(view TableView, status string) {
	applyTableView(u.table, view)
	u.status.Text = status
	termui.Render(u.grid)
}

// SetStatus redraws only the status line, leaving the table as last rendered.
func (u *UIComponent) SetStatus(status string) {
	u.status.Text = status
	termui.Render(u.status)
}

func (u *UIComponent) Resize(width, height int) {
	u.grid.SetRect(0, 0, width, height)
	termui.Clear()
}

func (u *UIComponent) Close() {
	termui.Close()
}
