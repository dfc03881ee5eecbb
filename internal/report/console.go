// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/toeirei/keywarden/internal/i18n"
	"github.com/toeirei/keywarden/internal/model"
)

var (
	matchedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	missingStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	unauthorizedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerStyle       = lipgloss.NewStyle().Bold(true)
)

// Console writes human-readable progress and the final classification
// table to a writer. Safe for concurrent use by worker goroutines.
type Console struct {
	mu  sync.Mutex
	Out io.Writer
}

// NewConsole returns a console reporter writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{Out: out}
}

// PhaseStarted implements Reporter.
func (c *Console) PhaseStarted(phase string, targets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.Out, i18n.T("report.phase_started", phase, targets))
}

// FetchResult implements Reporter.
func (c *Console) FetchResult(target model.Target, keys int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		fmt.Fprintln(c.Out, errorStyle.Render(i18n.T("report.fetch_failed", target.String(), err)))
		return
	}
	fmt.Fprintln(c.Out, i18n.T("report.fetch_ok", target.String(), keys))
}

// RemediationResult implements Reporter.
func (c *Console) RemediationResult(target model.Target, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		fmt.Fprintln(c.Out, errorStyle.Render(i18n.T("report.remediate_failed", target.String(), err)))
		return
	}
	fmt.Fprintln(c.Out, i18n.T("report.remediate_ok", target.String()))
}

// Summary implements Reporter. Results are printed in the order given; the
// engine emits them sorted by (host, account, material).
func (c *Console) Summary(results []model.ReconciliationResult, fetchErrors []model.TargetError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, headerStyle.Render(fmt.Sprintf("%-28s %-14s %-13s %-24s %s",
		i18n.T("report.col_target"),
		i18n.T("report.col_type"),
		i18n.T("report.col_key"),
		i18n.T("report.col_comment"),
		i18n.T("report.col_status"))))

	for _, r := range results {
		fmt.Fprintf(c.Out, "%-28s %-14s %-13s %-24s %s\n",
			r.Target().String(), r.KeyType, abbreviate(r.Material), r.Comment, renderStatus(r.Status))
	}

	if len(fetchErrors) > 0 {
		fmt.Fprintln(c.Out)
		fmt.Fprintln(c.Out, headerStyle.Render(i18n.T("report.fetch_errors_header")))
		for _, fe := range fetchErrors {
			fmt.Fprintln(c.Out, errorStyle.Render(fmt.Sprintf("  %s: %v", fe.Target, fe.Err)))
		}
	}
}

// abbreviate shortens key material for display; full material is never
// needed on screen and would wrap every row.
func abbreviate(material string) string {
	if len(material) <= 10 {
		return material
	}
	return material[:10] + "..."
}

func renderStatus(s model.BindingStatus) string {
	switch s {
	case model.StatusMatched:
		return matchedStyle.Render(string(s))
	case model.StatusMissing:
		return missingStyle.Render(string(s))
	case model.StatusUnauthorized:
		return unauthorizedStyle.Render(string(s))
	default:
		return string(s)
	}
}
