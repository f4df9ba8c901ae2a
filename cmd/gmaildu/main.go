package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"gmaildu/internal/analyze"
	"gmaildu/internal/gmail"
	"gmaildu/internal/model"
	"gmaildu/internal/store"
	"gmaildu/internal/tui"
)

type config struct {
	configDir string
	dbPath    string
	query     string
	limit     int
	top       int
	bySender  bool
	byMonth   bool
	markLabel string
	useTUI    bool
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		defaultLogger().Error("gmaildu failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() config {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot determine home directory: %v\n", err)
		os.Exit(1)
	}
	defaultDir := filepath.Join(home, ".config", "gmaildu")

	configDir := flag.String("config", defaultDir, "directory holding client_secret.json and token.json")
	dbPath := flag.String("db", filepath.Join(defaultDir, "gmaildu.db"), "path to the local database")
	query := flag.String("query", "", "Gmail search query")
	limit := flag.Int("limit", 0, "stop listing after roughly this many messages (0 = all)")
	top := flag.Int("top", 10, "rows to show in grouped views")
	bySender := flag.Bool("by-sender", false, "show top senders by size")
	byMonth := flag.Bool("by-month", false, "show usage by month")
	markLabel := flag.String("mark-label", "", "apply this label ID to the -top largest messages")
	useTUI := flag.Bool("tui", false, "run the interactive terminal UI")
	flag.Parse()

	return config{
		configDir: *configDir,
		dbPath:    *dbPath,
		query:     *query,
		limit:     *limit,
		top:       *top,
		bySender:  *bySender,
		byMonth:   *byMonth,
		markLabel: *markLabel,
		useTUI:    *useTUI,
	}
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func run(cfg config) error {
	db, err := store.NewSQLiteStore(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if cfg.useTUI {
		appModel := tui.NewAppModel(db, cfg.configDir)
		p := tea.NewProgram(&appModel, tea.WithAltScreen())
		appModel.SetProgram(p)
		finalModel, err := p.Run()
		if err != nil {
			return err
		}
		if m, ok := finalModel.(*tui.AppModel); ok && m.Err != nil {
			return m.Err
		}
		return nil
	}

	log := defaultLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := gmail.NewService(ctx, cfg.configDir)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	scanner := gmail.NewScanner(gmail.NewMailbox(svc), db, log)
	log.Info("scanning", "query", cfg.query, "limit", cfg.limit)
	if err := scanner.Run(ctx, cfg.query, cfg.limit, func(p model.ScanProgress) {
		log.Info("progress", "done", p.Done, "total", p.Total)
	}); err != nil {
		// Interruption keeps all persisted progress; re-running resumes.
		return err
	}

	recs, err := db.ListComplete(ctx)
	if err != nil {
		return fmt.Errorf("load completed messages: %w", err)
	}
	rep := analyze.NewReport(recs)
	printReport(rep, cfg)

	if cfg.markLabel != "" {
		var ids []string
		for _, m := range rep.LargestMessages(cfg.top) {
			ids = append(ids, m.ID)
		}
		if err := scanner.MarkMessages(ctx, ids, cfg.markLabel); err != nil {
			return err
		}
		log.Info("marked messages", "label", cfg.markLabel, "count", len(ids))
	}
	return nil
}

func printReport(rep *analyze.Report, cfg config) {
	count, bytes := rep.Summary()
	renderTable("Overall Summary", []string{"Metric", "Value"}, [][]string{
		{"Total Messages", fmt.Sprintf("%d", count)},
		{"Total Size", humanize.IBytes(uint64(bytes))},
	})

	if cfg.bySender {
		var rows [][]string
		for _, u := range rep.BySender(cfg.top) {
			rows = append(rows, []string{u.Sender, humanize.IBytes(uint64(u.Bytes)), fmt.Sprintf("%d", u.Count)})
		}
		renderTable("Top Senders by Size", []string{"Sender", "Size", "Msgs"}, rows)
	}

	if cfg.byMonth {
		var rows [][]string
		for _, u := range rep.ByMonth() {
			rows = append(rows, []string{u.Month, humanize.IBytes(uint64(u.Bytes)), fmt.Sprintf("%d", u.Count)})
		}
		renderTable("Usage by Month", []string{"Month", "Size", "Msgs"}, rows)
	}
}

var tableTitleStyle = lipgloss.NewStyle().Bold(true).PaddingTop(1)

func renderTable(title string, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
	for _, r := range rows {
		t.Row(r...)
	}
	fmt.Println(tableTitleStyle.Render(title))
	fmt.Println(t.Render())
}
