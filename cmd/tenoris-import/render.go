package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/uploader"
	"github.com/FACorreiaa/tenoris360-importer/pkg/notify"
)

var (
	colorBlue  = lipgloss.Color("#89b4fa")
	colorGreen = lipgloss.Color("#a6e3a1")
	colorPeach = lipgloss.Color("#fab387")
	colorRed   = lipgloss.Color("#f38ba8")
	colorMuted = lipgloss.Color("#7f849c")

	titleStyle = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

func levelStyle(level notify.Level) lipgloss.Style {
	switch level {
	case notify.LevelSuccess:
		return lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	case notify.LevelWarning:
		return lipgloss.NewStyle().Foreground(colorPeach).Bold(true)
	case notify.LevelError:
		return lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(colorBlue)
}

// printer writes the human readable output of a command
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) title(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, titleStyle.Render(s))
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) level(level notify.Level, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tag := levelStyle(level).Render(strings.ToUpper(string(level)))
	fmt.Fprintf(p.w, "%s %s\n", tag, fmt.Sprintf(format, args...))
}

// table writes aligned columns; empty cells show as a dash
func (p *printer) table(header []string, rows [][]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			if c == "" {
				c = "-"
			}
			cells[i] = c
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
}

// notifier prints notices as they are raised
func (p *printer) notifier() notify.Notifier {
	return notify.Func(func(_ context.Context, n notify.Notice) error {
		msg := n.Title
		if n.Message != "" {
			msg += ": " + n.Message
		}
		p.level(n.Level, "%s", msg)
		return nil
	})
}

// progress prints one line per settled chunk
func (p *printer) progress() uploader.ProgressFunc {
	return func(pr uploader.Progress) {
		p.line("%s %5.1f%%  %d/%d chunks  %d rows",
			mutedStyle.Render("importing"), pr.Percent, pr.SettledChunks, pr.TotalChunks, pr.Imported)
	}
}
