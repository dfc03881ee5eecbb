// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"sort"

	"github.com/toeirei/keywarden/internal/model"
)

// Classify compares the expected binding set against the discovered one.
// Matching is exact-string on (host, account, material) only; key type and
// comment ride along for display. Every triple appears exactly once:
// MATCHED for expected∩discovered, MISSING for expected\discovered and
// UNAUTHORIZED for discovered\expected. Results are sorted by
// (host, account, material) so reruns against unchanged state produce
// byte-identical reports.
func Classify(expected []model.ExpectedBinding, discovered []model.DiscoveredBinding) []model.ReconciliationResult {
	expectedByKey := make(map[model.BindingKey]model.ExpectedBinding, len(expected))
	for _, b := range expected {
		if _, ok := expectedByKey[b.Key()]; !ok {
			expectedByKey[b.Key()] = b
		}
	}
	discoveredByKey := make(map[model.BindingKey]model.DiscoveredBinding, len(discovered))
	for _, b := range discovered {
		if _, ok := discoveredByKey[b.Key()]; !ok {
			discoveredByKey[b.Key()] = b
		}
	}

	results := make([]model.ReconciliationResult, 0, len(expectedByKey)+len(discoveredByKey))

	// Pass 1: every expected binding is MATCHED or MISSING.
	for key, exp := range expectedByKey {
		r := model.ReconciliationResult{
			Hostname: exp.Hostname,
			Account:  exp.Account,
			KeyType:  exp.KeyType,
			Material: exp.Material,
			Comment:  exp.Label,
			Status:   model.StatusMissing,
		}
		if disc, ok := discoveredByKey[key]; ok {
			r.Status = model.StatusMatched
			if disc.Comment != "" {
				r.Comment = disc.Comment
			}
		}
		results = append(results, r)
	}

	// Pass 2: every discovered binding nobody expected is UNAUTHORIZED.
	for key, disc := range discoveredByKey {
		if _, ok := expectedByKey[key]; ok {
			continue
		}
		results = append(results, model.ReconciliationResult{
			Hostname: disc.Hostname,
			Account:  disc.Account,
			KeyType:  disc.KeyType,
			Material: disc.Material,
			Comment:  disc.Comment,
			Status:   model.StatusUnauthorized,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Hostname != b.Hostname {
			return a.Hostname < b.Hostname
		}
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		return a.Material < b.Material
	})
	return results
}
