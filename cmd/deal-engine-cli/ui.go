// Package main provides UI utilities for the Deal Engine CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/scoring"
)

// UI provides user-friendly output utilities. In JSON mode it prints
// nothing, so stdout carries only the JSON document.
type UI struct {
	out      io.Writer
	noColor  bool
	jsonMode bool
}

// NewUI creates a new UI instance.
func NewUI(jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: os.Stdout, noColor: noColor, jsonMode: jsonMode}
}

func (ui *UI) line(c color.Attribute, symbol, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Fprintf(ui.out, "%s %s\n", symbol, msg)
		return
	}
	color.New(c).Fprintf(ui.out, "%s %s\n", symbol, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.line(color.FgGreen, "✓", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.line(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.line(color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message.
func (ui *UI) Step(format string, args ...interface{}) {
	ui.line(color.FgBlue, "→", format, args...)
}

// Error prints an error message to stderr, even in JSON mode.
func (ui *UI) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Fprintf(os.Stderr, "✗ %s\n", msg)
		return
	}
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", msg)
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	header := fmt.Sprintf("━━━ %s ━━━", strings.ToUpper(title))
	if ui.noColor {
		fmt.Fprintln(ui.out, header)
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintln(ui.out, header)
	}
	fmt.Fprintln(ui.out)
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Table prints rows under headers.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(ui.out)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	t.AppendHeader(header)
	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, cell := range r {
			row[i] = cell
		}
		t.AppendRow(row)
	}

	if ui.noColor {
		t.SetStyle(table.StyleDefault)
	} else {
		t.SetStyle(table.StyleRounded)
	}
	t.Render()
}

// Spinner wraps a terminal spinner. It is a no-op when output is JSON or
// not a terminal.
type Spinner struct {
	s *spinner.Spinner
}

// Spinner creates and starts a spinner.
func (ui *UI) Spinner(message string) *Spinner {
	if ui.jsonMode || !IsTerminal() {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	s.Start()
	return &Spinner{s: s}
}

// Stop stops the spinner.
func (s *Spinner) Stop() {
	if s.s != nil {
		s.s.Stop()
	}
}

// ProgressBar creates a progress bar on stderr, or nil in JSON mode.
func (ui *UI) ProgressBar(description string, total int) *progressbar.ProgressBar {
	if ui.jsonMode || total <= 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("trims"),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!ui.noColor),
	)
}

// DealLabel renders a deal rating, colored by how good it is.
func (ui *UI) DealLabel(d scoring.Deal) string {
	if ui.noColor {
		return string(d)
	}
	switch d {
	case scoring.DealGreat:
		return color.New(color.FgGreen, color.Bold).Sprint(d)
	case scoring.DealGood:
		return color.GreenString(string(d))
	case scoring.DealFair:
		return color.YellowString(string(d))
	case scoring.DealPoor:
		return color.RedString(string(d))
	case scoring.DealBad:
		return color.New(color.FgRed, color.Bold).Sprint(d)
	default:
		return color.HiBlackString(string(d))
	}
}

// Dollars formats a whole-dollar amount, "—" when unknown.
func Dollars(v *int) string {
	if v == nil {
		return "—"
	}
	if *v < 0 {
		return "-$" + humanize.Comma(int64(-*v))
	}
	return "$" + humanize.Comma(int64(*v))
}

// Miles formats a mileage, "—" when unknown.
func Miles(v *int) string {
	if v == nil {
		return "—"
	}
	return humanize.Comma(int64(*v)) + " mi"
}

// Percent formats a signed percentage.
func Percent(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%+.1f%%", *v)
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
