// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package remediation turns reconciliation results into desired
// authorized_keys content and uploads it. Plans are full replacements of
// the remote file, never patches: anything present remotely but absent
// from policy is revoked by applying the plan.
package remediation // import "github.com/toeirei/keywarden/internal/remediation"

import (
	"sort"

	"github.com/toeirei/keywarden/internal/authkeys"
	"github.com/toeirei/keywarden/internal/model"
)

// Plan is the desired authorized_keys state for one target.
type Plan struct {
	Target  model.Target
	Entries []authkeys.Entry
	Content string
}

// BuildPlans derives one plan per target that appears in the results.
// MATCHED and MISSING entries become file content; UNAUTHORIZED entries
// are never included, so a target whose only results are unauthorized gets
// a plan with empty content and applying it revokes every key there.
// Targets with no results at all get no plan.
func BuildPlans(results []model.ReconciliationResult) []Plan {
	entriesByTarget := make(map[model.Target][]authkeys.Entry)
	var order []model.Target
	for _, r := range results {
		t := r.Target()
		if _, seen := entriesByTarget[t]; !seen {
			order = append(order, t)
			entriesByTarget[t] = nil
		}
		if r.Status == model.StatusUnauthorized {
			continue
		}
		entriesByTarget[t] = append(entriesByTarget[t], authkeys.Entry{
			Type:     r.KeyType,
			Material: r.Material,
			Comment:  r.Comment,
		})
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].Hostname != order[j].Hostname {
			return order[i].Hostname < order[j].Hostname
		}
		return order[i].Account < order[j].Account
	})

	plans := make([]Plan, 0, len(order))
	for _, t := range order {
		entries := entriesByTarget[t]
		plans = append(plans, Plan{
			Target:  t,
			Entries: entries,
			Content: authkeys.Serialize(entries),
		})
	}
	return plans
}
