// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/toeirei/keywarden/internal/model"
	"github.com/toeirei/keywarden/internal/policy"
)

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.Decode([]byte(`
servers:
  - host: web1
    users: [root, deploy]
  - host: db1
    users: [postgres]
users:
  - email: alice@example.com
    keys:
      - type: ssh-ed25519
        key: K_alice
        hostname: alice-laptop
        admin: true
`))
	if err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	return p
}

func TestFetchAllRunsOneTaskPerTarget(t *testing.T) {
	targets := []model.Target{
		{Hostname: "web1", Account: "root"},
		{Hostname: "web1", Account: "deploy"},
		{Hostname: "db1", Account: "postgres"},
	}

	var mu sync.Mutex
	fetched := make(map[model.Target]int)
	report := FetchAll(context.Background(), targets, FetcherFunc(func(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
		mu.Lock()
		fetched[target]++
		mu.Unlock()
		return []model.DiscoveredBinding{{
			Hostname: target.Hostname,
			Account:  target.Account,
			KeyType:  "ssh-ed25519",
			Material: "K_" + target.Account,
		}}, nil
	}), nil)

	if len(fetched) != len(targets) {
		t.Fatalf("fetched %d targets, want %d", len(fetched), len(targets))
	}
	for tgt, n := range fetched {
		if n != 1 {
			t.Fatalf("target %v fetched %d times", tgt, n)
		}
	}
	if len(report.Bindings) != len(targets) {
		t.Fatalf("got %d bindings, want %d", len(report.Bindings), len(targets))
	}
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
}

func TestFetchAllCollectsPerTargetErrors(t *testing.T) {
	targets := []model.Target{
		{Hostname: "web1", Account: "root"},
		{Hostname: "down1", Account: "root"},
		{Hostname: "db1", Account: "postgres"},
	}
	boom := errors.New("connection refused")
	report := FetchAll(context.Background(), targets, FetcherFunc(func(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
		if target.Hostname == "down1" {
			return nil, boom
		}
		return nil, nil
	}), nil)

	if len(report.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(report.Errors))
	}
	te := report.Errors[0]
	if te.Target.Hostname != "down1" {
		t.Fatalf("error attributed to %v", te.Target)
	}
	if !errors.Is(te, boom) {
		t.Fatalf("TargetError does not unwrap to the cause: %v", te)
	}
}

func TestFetchAllMergesInDeclaredOrder(t *testing.T) {
	targets := []model.Target{
		{Hostname: "c", Account: "u"},
		{Hostname: "a", Account: "u"},
		{Hostname: "b", Account: "u"},
	}
	report := FetchAll(context.Background(), targets, FetcherFunc(func(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
		return []model.DiscoveredBinding{{Hostname: target.Hostname, Account: target.Account, Material: "K"}}, nil
	}), nil)

	for i, tgt := range targets {
		if report.Bindings[i].Hostname != tgt.Hostname {
			t.Fatalf("binding %d from %s, want %s", i, report.Bindings[i].Hostname, tgt.Hostname)
		}
	}
}

func TestRunClassifiesAcrossFleet(t *testing.T) {
	pol := testPolicy(t)
	rep := Run(context.Background(), pol, FetcherFunc(func(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
		// web1/root has the admin key plus a stray; everything else empty.
		if target.Hostname == "web1" && target.Account == "root" {
			return []model.DiscoveredBinding{
				{Hostname: "web1", Account: "root", KeyType: "ssh-ed25519", Material: "K_alice", Comment: "alice"},
				{Hostname: "web1", Account: "root", KeyType: "ssh-rsa", Material: "K_stray", Comment: "old"},
			}, nil
		}
		return nil, nil
	}), nil)

	matched, missing, unauthorized := rep.Counts()
	if matched != 1 || missing != 2 || unauthorized != 1 {
		t.Fatalf("counts = (%d, %d, %d), want (1, 2, 1)", matched, missing, unauthorized)
	}
}

func TestRunExcludesUnreachableTargetsFromResults(t *testing.T) {
	pol := testPolicy(t)
	rep := Run(context.Background(), pol, FetcherFunc(func(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
		if target.Hostname == "db1" {
			return nil, errors.New("no route to host")
		}
		return nil, nil
	}), nil)

	if len(rep.FetchErrors) != 1 {
		t.Fatalf("expected 1 fetch error, got %d", len(rep.FetchErrors))
	}
	for _, r := range rep.Results {
		if r.Hostname == "db1" {
			t.Fatalf("unreachable host classified anyway: %+v", r)
		}
	}
	// The reachable pairs still get their MISSING results.
	if _, missing, _ := rep.Counts(); missing != 2 {
		t.Fatalf("missing = %d, want 2 for the reachable web1 pairs", missing)
	}
}

func TestAuditThenFixScenario(t *testing.T) {
	pol, err := policy.Decode([]byte(`
servers:
  - host: db1
    users: [deploy]
users:
  - email: alice@example.com
    keys:
      - type: ssh-ed25519
        key: K1
        hostname: alice-laptop
        access:
          - host: db1
            username: deploy
`))
	if err != nil {
		t.Fatalf("decode policy: %v", err)
	}

	rep := Run(context.Background(), pol, FetcherFunc(func(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
		return []model.DiscoveredBinding{
			{Hostname: "db1", Account: "deploy", KeyType: "ssh-ed25519", Material: "K1", Comment: "alice"},
			{Hostname: "db1", Account: "deploy", KeyType: "ssh-rsa", Material: "K2", Comment: "foreign"},
		}, nil
	}), nil)

	if len(rep.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(rep.Results))
	}
	for _, r := range rep.Results {
		switch r.Material {
		case "K1":
			if r.Status != model.StatusMatched {
				t.Errorf("K1 classified %s, want MATCHED", r.Status)
			}
		case "K2":
			if r.Status != model.StatusUnauthorized {
				t.Errorf("K2 classified %s, want UNAUTHORIZED", r.Status)
			}
		default:
			t.Errorf("unexpected material %q", r.Material)
		}
	}
}

func TestRunJoinsFetchBeforeClassifying(t *testing.T) {
	pol := testPolicy(t)
	var inFlight int32
	Run(context.Background(), pol, FetcherFunc(func(ctx context.Context, target model.Target) ([]model.DiscoveredBinding, error) {
		atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}), nil)

	if got := atomic.LoadInt32(&inFlight); got != 0 {
		t.Fatalf("fetch tasks still in flight after Run: %d", got)
	}
}
