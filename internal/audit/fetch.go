// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package audit runs the fetch and reconciliation phases: it gathers the
// live authorized_keys state from every (host, account) pair concurrently
// and classifies it against the expectations derived from policy.
package audit // import "github.com/toeirei/keywarden/internal/audit"

import (
	"context"
	"sync"

	"github.com/toeirei/keywarden/internal/authkeys"
	"github.com/toeirei/keywarden/internal/credentials"
	"github.com/toeirei/keywarden/internal/deploy"
	"github.com/toeirei/keywarden/internal/model"
	"github.com/toeirei/keywarden/internal/report"
)

// Fetcher retrieves the discovered bindings for one target. The SSH-backed
// implementation is SSHFetcher; tests substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
	return f(ctx, target)
}

// SSHFetcher fetches a target's authorized_keys file over SFTP,
// authenticating through the credential broker.
type SSHFetcher struct {
	Config ConnectionSettings
	Broker *credentials.Broker
}

// ConnectionSettings aliases the transport configuration so callers of the
// audit package do not import the deploy package just to configure it.
type ConnectionSettings = deploy.ConnectionConfig

// Fetch implements Fetcher. A missing remote file yields zero bindings.
// Identical key material appearing twice for the same target collapses
// into a single discovered binding.
func (f *SSHFetcher) Fetch(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
	d, err := deploy.Connect(ctx, target, f.Config, f.Broker)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	content, err := d.FetchAuthorizedKeys()
	if err != nil {
		return nil, err
	}

	var bindings []model.DiscoveredBinding
	seen := make(map[string]bool)
	for _, entry := range authkeys.Parse(content) {
		if seen[entry.Material] {
			continue
		}
		seen[entry.Material] = true
		bindings = append(bindings, model.DiscoveredBinding{
			Hostname: target.Hostname,
			Account:  target.Account,
			KeyType:  entry.Type,
			Material: entry.Material,
			Comment:  entry.Comment,
		})
	}
	return bindings, nil
}

// FetchReport aggregates the fetch phase: all discovered bindings plus the
// per-target errors collected alongside them. One target's failure never
// aborts its siblings.
type FetchReport struct {
	Bindings []model.DiscoveredBinding
	Errors   []model.TargetError
}

// fetchOutcome is the task-local result handed back over the join channel.
type fetchOutcome struct {
	target   model.Target
	bindings []model.DiscoveredBinding
	err      error
}

// FetchAll fans out one fetch task per target and joins them all before
// returning. Results are merged after each task returns, so no shared
// collection is ever written by two goroutines. Output order follows the
// target list, not task completion order.
func FetchAll(ctx context.Context, targets []model.Target, fetcher Fetcher, rep report.Reporter) FetchReport {
	if rep == nil {
		rep = report.Nop{}
	}
	rep.PhaseStarted("fetch", len(targets))

	var wg sync.WaitGroup
	outcomes := make(chan fetchOutcome, len(targets))
	for _, target := range targets {
		wg.Add(1)
		go func(target model.Target) {
			defer wg.Done()
			bindings, err := fetcher.Fetch(ctx, target)
			rep.FetchResult(target, len(bindings), err)
			outcomes <- fetchOutcome{target: target, bindings: bindings, err: err}
		}(target)
	}
	wg.Wait()
	close(outcomes)

	byTarget := make(map[model.Target]fetchOutcome, len(targets))
	for o := range outcomes {
		byTarget[o.target] = o
	}

	// Merge in declared target order so the report is stable run to run.
	var fr FetchReport
	for _, target := range targets {
		o, ok := byTarget[target]
		if !ok {
			continue
		}
		if o.err != nil {
			fr.Errors = append(fr.Errors, model.TargetError{Target: target, Err: o.err})
			continue
		}
		fr.Bindings = append(fr.Bindings, o.bindings...)
	}
	return fr
}
