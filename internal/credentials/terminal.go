// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package credentials

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/toeirei/keywarden/internal/i18n"
	"github.com/toeirei/keywarden/internal/model"
	"golang.org/x/term"
)

// TerminalPrompter reads passwords from a terminal with echo disabled. It
// is only ever invoked from the broker goroutine, so it does not need its
// own locking around stdin/stdout.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter returns a prompter bound to stdin/stderr. Prompts go
// to stderr so they stay visible when report output is redirected.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// PromptPassword asks for the password of one target. It fails when stdin
// is not a terminal rather than blocking a non-interactive run forever.
func (p *TerminalPrompter) PromptPassword(target model.Target) (string, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New(i18n.T("prompt.error_not_a_terminal"))
	}
	fmt.Fprintf(p.Out, i18n.T("prompt.password"), target.String())
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}
