// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders human-facing CLI output.
//
// A Printer styles its output with lipgloss when writing to a terminal and
// falls back to plain, line-oriented text otherwise, so piped output stays
// grep-friendly.
package ux

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Printer writes styled or plain output.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a printer that styles output only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: IsTerminal(w)}
}

// NewPlainPrinter returns a printer that never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Styled reports whether output is styled.
func (p *Printer) Styled() bool {
	return p.styled
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return style.Render(text)
}

// Title prints a heading.
func (p *Printer) Title(text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "== %s ==\n", text)
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Success.Render(string(IconSuccess)), Styles.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Warning.Render(string(IconWarning)), Styles.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if !p.styled {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Error.Render(string(IconError)), Styles.Error.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if !p.styled {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

// KeyValue prints an aligned "key: value" line.
func (p *Printer) KeyValue(key string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.render(Styles.Muted, fmt.Sprintf("%-22s", key+":")), value)
}

// Box prints content under a title, boxed on a terminal.
func (p *Printer) Box(title, content string) {
	if !p.styled {
		fmt.Fprintf(p.w, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// Counts prints a map of counts sorted by key, one per line.
func (p *Printer) Counts(title string, counts map[string]int) {
	p.Info(p.render(Styles.Subtitle, title))
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.KeyValue(k, counts[k])
	}
}

// ProgressBar renders a ratio in [0, 1] as a bar of the given width.
func (p *Printer) ProgressBar(ratio float64, width int) string {
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	filled := int(ratio * float64(width))
	if !p.styled {
		return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("#", filled), strings.Repeat("-", width-filled), ratio*100)
	}
	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, ratio*100)
}
