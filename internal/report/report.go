// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package report defines the reporting interface injected into the audit
// and remediation coordinators, and a console implementation. Components
// never log through a global; they talk to a Reporter they were handed.
package report // import "github.com/toeirei/keywarden/internal/report"

import "github.com/toeirei/keywarden/internal/model"

// Reporter receives progress and outcome events from the pipeline. All
// methods may be called from concurrent worker goroutines; implementations
// must be safe for that.
type Reporter interface {
	// PhaseStarted announces a pipeline phase ("fetch", "remediate") and
	// how many targets it spans.
	PhaseStarted(phase string, targets int)

	// FetchResult reports the outcome of one fetch task.
	FetchResult(target model.Target, keys int, err error)

	// RemediationResult reports the outcome of one upload task.
	RemediationResult(target model.Target, err error)

	// Summary renders the classification table for a completed audit.
	Summary(results []model.ReconciliationResult, fetchErrors []model.TargetError)
}

// Nop discards all events. Useful in tests and as a default.
type Nop struct{}

// PhaseStarted implements Reporter.
func (Nop) PhaseStarted(string, int) {}

// FetchResult implements Reporter.
func (Nop) FetchResult(model.Target, int, error) {}

// RemediationResult implements Reporter.
func (Nop) RemediationResult(model.Target, error) {}

// Summary implements Reporter.
func (Nop) Summary([]model.ReconciliationResult, []model.TargetError) {}
