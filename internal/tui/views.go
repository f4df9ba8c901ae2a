package tui

import (
	"fmt"
	"time"

	"gmaildu/internal/analyze"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// reportView selects which aggregation the main table shows.
type reportView int

const (
	viewTopSenders reportView = iota
	viewByMonth
	viewLargest
)

func (v reportView) String() string {
	switch v {
	case viewTopSenders:
		return "Top Senders"
	case viewByMonth:
		return "Usage by Month"
	case viewLargest:
		return "Largest Messages"
	}
	return "?"
}

func (v reportView) next() reportView {
	return (v + 1) % 3
}

var footerStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	PaddingTop(1)

var titleStyle = lipgloss.NewStyle().Bold(true)

func mainFooter() string {
	return footerStyle.Render("s: scan  x: stop  tab: view  enter: drill down  esc: back  r: refresh  q: quit")
}

// tableFor builds columns and rows for the current view (or drill-down) from
// the report. maxRows caps the heavy views the way the source UI did.
func tableFor(view reportView, drillSender, drillMonth string, rep *analyze.Report, width int) ([]table.Column, []table.Row) {
	if rep == nil {
		return nil, nil
	}
	wide := max(width-36, 20)

	if drillSender != "" || drillMonth != "" {
		cols := []table.Column{
			{Title: "Date", Width: 12},
			{Title: "Subject", Width: wide},
			{Title: "Size", Width: 10},
		}
		var rows []table.Row
		for _, m := range rep.Messages(drillSender, drillMonth) {
			rows = append(rows, table.Row{shortDate(m.InternalDate), m.Subject, humanize.IBytes(uint64(m.Size))})
			if len(rows) >= 500 {
				break
			}
		}
		return cols, rows
	}

	switch view {
	case viewTopSenders:
		cols := []table.Column{
			{Title: "Sender", Width: wide},
			{Title: "Size", Width: 10},
			{Title: "Msgs", Width: 8},
		}
		var rows []table.Row
		for _, u := range rep.BySender(100) {
			rows = append(rows, table.Row{u.Sender, humanize.IBytes(uint64(u.Bytes)), fmt.Sprintf("%d", u.Count)})
		}
		return cols, rows

	case viewByMonth:
		cols := []table.Column{
			{Title: "Month", Width: wide},
			{Title: "Size", Width: 10},
			{Title: "Msgs", Width: 8},
		}
		var rows []table.Row
		for _, u := range rep.ByMonth() {
			rows = append(rows, table.Row{u.Month, humanize.IBytes(uint64(u.Bytes)), fmt.Sprintf("%d", u.Count)})
		}
		return cols, rows

	default:
		cols := []table.Column{
			{Title: "Date", Width: 12},
			{Title: "Sender", Width: wide / 2},
			{Title: "Subject", Width: wide - wide/2},
			{Title: "Size", Width: 10},
		}
		var rows []table.Row
		for _, m := range rep.LargestMessages(500) {
			rows = append(rows, table.Row{shortDate(m.InternalDate), m.Sender, m.Subject, humanize.IBytes(uint64(m.Size))})
		}
		return cols, rows
	}
}

func shortDate(internalDate int64) string {
	if internalDate == 0 {
		return ""
	}
	return time.UnixMilli(internalDate).UTC().Format("Jan 2, 2006")
}

func summaryLine(rep *analyze.Report) string {
	if rep == nil {
		return ""
	}
	count, bytes := rep.Summary()
	return fmt.Sprintf("Total: %d msgs | %s", count, humanize.IBytes(uint64(bytes)))
}

func newResultsTable() table.Model {
	t := table.New(table.WithFocused(true))
	st := table.DefaultStyles()
	st.Header = st.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	st.Selected = st.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(st)
	return t
}
