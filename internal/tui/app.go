package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gmaildu/internal/analyze"
	"gmaildu/internal/gmail"
	"gmaildu/internal/model"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	gmailv1 "google.golang.org/api/gmail/v1"
)

type viewState int

const (
	viewLoading viewState = iota
	viewAuth              // waiting for auth code input
	viewMain              // query bar + results table
)

type AppModel struct {
	// Core state
	service   *gmailv1.Service
	scanner   *gmail.Scanner
	store     gmail.MessageStore
	configDir string
	Err       error
	status    string

	// Auth flow
	uiEvents      chan interface{}
	userResponses chan string
	authInput     textinput.Model
	authURL       string

	// Scan state
	scanning   bool
	cancelScan context.CancelFunc
	scanPct    float64

	// Report state
	view        viewState
	current     reportView
	drillSender string
	drillMonth  string
	report      *analyze.Report

	// Sub-models
	queryInput textinput.Model
	results    table.Model
	bar        progress.Model

	// Layout
	width, height int

	// Program reference for sending messages from goroutines
	program *tea.Program
}

// SetProgram stores a reference to the tea.Program so goroutines can send
// progress messages back to the Update loop.
func (m *AppModel) SetProgram(p *tea.Program) {
	m.program = p
}

func NewAppModel(store gmail.MessageStore, configDir string) AppModel {
	ai := textinput.New()
	ai.Placeholder = "Paste auth code here"
	ai.Focus()

	qi := textinput.New()
	qi.Placeholder = "Gmail query, e.g. larger:5M"
	qi.Prompt = "Query: "

	return AppModel{
		store:         store,
		configDir:     configDir,
		status:        "Authenticating...",
		view:          viewLoading,
		uiEvents:      make(chan interface{}),
		userResponses: make(chan string),
		authInput:     ai,
		queryInput:    qi,
		results:       newResultsTable(),
		bar:           progress.New(progress.WithDefaultGradient()),
	}
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.authenticateCmd(), textinput.Blink)
}

func (m *AppModel) authenticateCmd() tea.Cmd {
	return func() tea.Msg {
		go func() {
			svc, err := gmail.NewServiceInteractive(context.Background(), m.configDir, m.uiEvents, m.userResponses)
			m.uiEvents <- authResultMsg{service: svc, err: err}
		}()

		// The auth flow sends the auth URL as a raw string first, then the
		// goroutine above sends authResultMsg when done. Convert the string
		// to our named type so Update can match it.
		event := <-m.uiEvents
		switch v := event.(type) {
		case string:
			return authURLMsg(v)
		default:
			return event
		}
	}
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.results.SetWidth(msg.Width)
		m.results.SetHeight(max(msg.Height-8, 3))
		m.bar.Width = max(msg.Width-4, 10)
		m.rebuildTable()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case authResultMsg:
		if msg.err != nil {
			m.Err = msg.err
			m.status = "Authentication failed!"
			return m, tea.Quit
		}
		m.service = msg.service
		// Discard scanner logs; stderr would tear the alt screen.
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		m.scanner = gmail.NewScanner(gmail.NewMailbox(msg.service), m.store, quiet)
		m.view = viewMain
		m.status = ""
		return m, m.refreshCmd()

	case authURLMsg:
		m.authURL = string(msg)
		m.view = viewAuth
		return m, nil

	case scanProgressMsg:
		if msg.total > 0 {
			m.scanPct = float64(msg.done) / float64(msg.total)
			m.status = fmt.Sprintf("Scanning: %d/%d", msg.done, msg.total)
		} else {
			m.status = "Scanning..."
		}
		return m, nil

	case scanDoneMsg:
		m.scanning = false
		m.cancelScan = nil
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.status = fmt.Sprintf("Scan failed: %v", msg.err)
		} else {
			m.status = "Scan finished"
		}
		return m, tea.Batch(m.refreshCmd(), clearStatusAfter(3*time.Second))

	case reportMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Load failed: %v", msg.err)
			return m, nil
		}
		m.report = msg.report
		m.rebuildTable()
		return m, nil

	case statusMsg:
		if string(msg) == "" && !m.scanning {
			m.status = ""
		}
		return m, nil
	}

	// Delegate to active sub-model
	var cmd tea.Cmd
	switch m.view {
	case viewAuth:
		m.authInput, cmd = m.authInput.Update(msg)
	case viewMain:
		if m.queryInput.Focused() {
			m.queryInput, cmd = m.queryInput.Update(msg)
		} else {
			m.results, cmd = m.results.Update(msg)
		}
	}
	return m, cmd
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		if m.cancelScan != nil {
			m.cancelScan()
		}
		return m, tea.Quit
	}

	switch m.view {
	case viewAuth:
		switch key {
		case "enter":
			val := m.authInput.Value()
			m.authInput.Reset()
			return m, func() tea.Msg {
				m.userResponses <- val
				return <-m.uiEvents
			}
		case "q":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.authInput, cmd = m.authInput.Update(msg)
		return m, cmd

	case viewMain:
		if m.queryInput.Focused() {
			switch key {
			case "enter":
				m.queryInput.Blur()
				return m.startScan()
			case "esc":
				m.queryInput.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.queryInput, cmd = m.queryInput.Update(msg)
			return m, cmd
		}

		switch key {
		case "q":
			if m.cancelScan != nil {
				m.cancelScan()
			}
			return m, tea.Quit
		case "s":
			if !m.scanning {
				m.queryInput.Focus()
				return m, textinput.Blink
			}
		case "x":
			if m.cancelScan != nil {
				m.cancelScan()
				m.status = "Stopping..."
			}
			return m, nil
		case "tab":
			m.current = m.current.next()
			m.drillSender, m.drillMonth = "", ""
			m.rebuildTable()
			return m, nil
		case "enter":
			return m.drillDown()
		case "esc":
			if m.drillSender != "" || m.drillMonth != "" {
				m.drillSender, m.drillMonth = "", ""
				m.rebuildTable()
			}
			return m, nil
		case "r":
			return m, m.refreshCmd()
		}
		var cmd tea.Cmd
		m.results, cmd = m.results.Update(msg)
		return m, cmd
	}

	return m, nil
}

// drillDown narrows the table to the messages behind the selected row.
func (m *AppModel) drillDown() (tea.Model, tea.Cmd) {
	if m.drillSender != "" || m.drillMonth != "" {
		return m, nil
	}
	row := m.results.SelectedRow()
	if row == nil {
		return m, nil
	}
	switch m.current {
	case viewTopSenders:
		m.drillSender = row[0]
	case viewByMonth:
		m.drillMonth = row[0]
	default:
		return m, nil
	}
	m.rebuildTable()
	return m, nil
}

func (m *AppModel) rebuildTable() {
	cols, rows := tableFor(m.current, m.drillSender, m.drillMonth, m.report, m.width)
	if cols == nil {
		return
	}
	// Clear rows before swapping columns; the table panics on rows wider
	// than the column set.
	m.results.SetRows(nil)
	m.results.SetColumns(cols)
	m.results.SetRows(rows)
	m.results.GotoTop()
}

// Commands

func (m *AppModel) startScan() (tea.Model, tea.Cmd) {
	if m.scanning || m.scanner == nil {
		return m, nil
	}
	query := strings.TrimSpace(m.queryInput.Value())
	ctx, cancel := context.WithCancel(context.Background())
	m.scanning = true
	m.cancelScan = cancel
	m.scanPct = 0
	m.status = "Scanning..."

	return m, func() tea.Msg {
		err := m.scanner.Run(ctx, query, 0, func(p model.ScanProgress) {
			if m.program != nil {
				m.program.Send(scanProgressMsg{done: p.Done, total: p.Total})
			}
		})
		return scanDoneMsg{err: err}
	}
}

func (m *AppModel) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		recs, err := m.store.ListComplete(context.Background())
		if err != nil {
			return reportMsg{err: err}
		}
		return reportMsg{report: analyze.NewReport(recs)}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusMsg("")
	})
}

// View renders the appropriate view based on current state.
func (m *AppModel) View() string {
	if m.view == viewAuth {
		return "Please open this URL in your browser to authenticate:\n\n" +
			m.authURL + "\n\n" +
			m.authInput.View()
	}

	if m.Err != nil {
		return "Error: " + m.Err.Error() + "\n"
	}

	if m.view == viewLoading {
		if m.status != "" {
			return m.status + "\n"
		}
		return "Loading...\n"
	}

	var b strings.Builder

	title := m.current.String()
	switch {
	case m.drillSender != "":
		title = "Messages from " + m.drillSender
	case m.drillMonth != "":
		title = "Messages in " + m.drillMonth
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(m.queryInput.View())
	b.WriteString("\n")

	if m.scanning {
		b.WriteString(m.bar.ViewAs(m.scanPct))
		b.WriteString("\n")
	}

	b.WriteString(m.results.View())
	b.WriteString("\n")
	b.WriteString(mainFooter())

	if line := summaryLine(m.report); line != "" {
		b.WriteString("\n")
		b.WriteString(line)
	}
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.status)
	}

	return b.String()
}
