// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package authkeys parses and serializes the OpenSSH authorized_keys text
// format as used on managed hosts. Parsing is deliberately tolerant: it is
// run against files we do not control.
package authkeys // import "github.com/toeirei/keywarden/internal/authkeys"

import "strings"

// DefaultComment is substituted when a key line carries no comment field.
const DefaultComment = "unknown"

// Entry is one key line: algorithm, base64 material and a free-text comment.
type Entry struct {
	Type     string
	Material string
	Comment  string
}

// Parse splits authorized_keys content into its entries, preserving file
// order. Blank lines and lines starting with '#' are skipped. A line with
// only two fields gets DefaultComment. Lines with leading options
// (e.g. from="...",command="...") are handled by scanning for the field
// that looks like a key algorithm.
func Parse(text string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		start := keyTypeIndex(fields)
		if start < 0 || len(fields) < start+2 {
			// No recognizable key on this line; skip rather than abort,
			// a single malformed line must not hide the rest of the file.
			continue
		}

		entry := Entry{
			Type:     fields[start],
			Material: fields[start+1],
			Comment:  DefaultComment,
		}
		if len(fields) > start+2 {
			entry.Comment = strings.Join(fields[start+2:], " ")
		}
		entries = append(entries, entry)
	}
	return entries
}

// Serialize renders entries as authorized_keys content, one
// "<type> <material> <comment>" line per entry, in the given order.
func Serialize(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Type)
		b.WriteByte(' ')
		b.WriteString(e.Material)
		b.WriteByte(' ')
		b.WriteString(e.Comment)
		b.WriteByte('\n')
	}
	return b.String()
}

// keyTypeIndex locates the algorithm field within a key line, skipping any
// leading option list.
func keyTypeIndex(fields []string) int {
	for i, f := range fields {
		if strings.HasPrefix(f, "ssh-") || strings.HasPrefix(f, "ecdsa-") || strings.HasPrefix(f, "sk-") {
			return i
		}
	}
	return -1
}
