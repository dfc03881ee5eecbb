// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"context"

	"github.com/toeirei/keywarden/internal/model"
	"github.com/toeirei/keywarden/internal/policy"
	"github.com/toeirei/keywarden/internal/report"
)

// Report is the outcome of one audit cycle. It never persists past the
// cycle that produced it; the run-history store keeps its own records.
type Report struct {
	Results     []model.ReconciliationResult
	FetchErrors []model.TargetError
}

// Counts returns the number of results per status.
func (r *Report) Counts() (matched, missing, unauthorized int) {
	for _, res := range r.Results {
		switch res.Status {
		case model.StatusMatched:
			matched++
		case model.StatusMissing:
			missing++
		case model.StatusUnauthorized:
			unauthorized++
		}
	}
	return
}

// Run performs one full audit cycle: expand the policy, fetch live state
// from every target, then classify. The fetch phase joins completely
// before classification starts; there is no interleaving across phases.
func Run(ctx context.Context, pol *policy.Policy, fetcher Fetcher, rep report.Reporter) *Report {
	expected := pol.Expand()
	targets := pol.Universe()

	fetched := FetchAll(ctx, targets, fetcher, rep)

	// Expected bindings on targets whose fetch failed must not be
	// classified: we have no discovered state to compare them against, and
	// reporting them MISSING would suggest remediation for an unreachable
	// host.
	failed := make(map[model.Target]bool, len(fetched.Errors))
	for _, fe := range fetched.Errors {
		failed[fe.Target] = true
	}
	reachable := expected[:0:0]
	for _, b := range expected {
		if !failed[b.Target()] {
			reachable = append(reachable, b)
		}
	}

	return &Report{
		Results:     Classify(reachable, fetched.Bindings),
		FetchErrors: fetched.Errors,
	}
}
