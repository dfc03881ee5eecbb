// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"reflect"
	"testing"

	"github.com/toeirei/keywarden/internal/model"
)

func expect(host, account, material, label string) model.ExpectedBinding {
	return model.ExpectedBinding{
		Hostname: host,
		Account:  account,
		KeyType:  "ssh-ed25519",
		Material: material,
		Label:    label,
	}
}

func discover(host, account, material, comment string) model.DiscoveredBinding {
	return model.DiscoveredBinding{
		Hostname: host,
		Account:  account,
		KeyType:  "ssh-ed25519",
		Material: material,
		Comment:  comment,
	}
}

func TestClassifyPartitionsEveryTriple(t *testing.T) {
	expected := []model.ExpectedBinding{
		expect("db1", "postgres", "K1", "alice-laptop"),
		expect("db1", "postgres", "K2", "bob-desktop"),
		expect("db1", "deploy", "K1", "alice-laptop"),
	}
	discovered := []model.DiscoveredBinding{
		discover("db1", "postgres", "K1", "alice@laptop"),
		discover("db1", "postgres", "K9", "mystery"),
	}

	results := Classify(expected, discovered)
	statuses := make(map[model.BindingKey]model.BindingStatus)
	for _, r := range results {
		key := model.BindingKey{Hostname: r.Hostname, Account: r.Account, Material: r.Material}
		if _, dup := statuses[key]; dup {
			t.Fatalf("triple %v classified twice", key)
		}
		statuses[key] = r.Status
	}

	want := map[model.BindingKey]model.BindingStatus{
		{Hostname: "db1", Account: "postgres", Material: "K1"}: model.StatusMatched,
		{Hostname: "db1", Account: "postgres", Material: "K2"}: model.StatusMissing,
		{Hostname: "db1", Account: "deploy", Material: "K1"}:   model.StatusMissing,
		{Hostname: "db1", Account: "postgres", Material: "K9"}: model.StatusUnauthorized,
	}
	if !reflect.DeepEqual(statuses, want) {
		t.Fatalf("classification mismatch:\ngot  %v\nwant %v", statuses, want)
	}
}

func TestClassifySameMaterialDifferentAccounts(t *testing.T) {
	// The same key on two accounts of one host is two independent triples.
	expected := []model.ExpectedBinding{
		expect("web1", "root", "K1", "laptop"),
		expect("web1", "deploy", "K1", "laptop"),
	}
	discovered := []model.DiscoveredBinding{
		discover("web1", "root", "K1", "laptop"),
	}
	results := Classify(expected, discovered)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		switch r.Account {
		case "root":
			if r.Status != model.StatusMatched {
				t.Errorf("root: got %s, want MATCHED", r.Status)
			}
		case "deploy":
			if r.Status != model.StatusMissing {
				t.Errorf("deploy: got %s, want MISSING", r.Status)
			}
		}
	}
}

func TestClassifyMatchedPrefersDiscoveredComment(t *testing.T) {
	results := Classify(
		[]model.ExpectedBinding{expect("web1", "root", "K1", "policy-label")},
		[]model.DiscoveredBinding{discover("web1", "root", "K1", "live-comment")},
	)
	if len(results) != 1 || results[0].Comment != "live-comment" {
		t.Fatalf("expected live comment to win, got %+v", results)
	}
}

func TestClassifyMissingUsesPolicyLabel(t *testing.T) {
	results := Classify(
		[]model.ExpectedBinding{expect("web1", "root", "K1", "policy-label")},
		nil,
	)
	if len(results) != 1 || results[0].Status != model.StatusMissing {
		t.Fatalf("expected one MISSING result, got %+v", results)
	}
	if results[0].Comment != "policy-label" {
		t.Fatalf("expected policy label as comment, got %q", results[0].Comment)
	}
}

func TestClassifyToleratesDuplicateInputs(t *testing.T) {
	expected := []model.ExpectedBinding{
		expect("web1", "root", "K1", "laptop"),
		expect("web1", "root", "K1", "laptop"),
	}
	discovered := []model.DiscoveredBinding{
		discover("web1", "root", "K1", "laptop"),
		discover("web1", "root", "K1", "laptop"),
	}
	results := Classify(expected, discovered)
	if len(results) != 1 {
		t.Fatalf("duplicates must collapse to one result, got %d", len(results))
	}
}

func TestClassifyEmptyInputs(t *testing.T) {
	if results := Classify(nil, nil); len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	expected := []model.ExpectedBinding{
		expect("web2", "root", "K2", "b"),
		expect("web1", "deploy", "K1", "a"),
		expect("web1", "root", "K3", "c"),
	}
	discovered := []model.DiscoveredBinding{
		discover("web2", "root", "K9", "x"),
		discover("web1", "root", "K3", "c"),
	}
	first := Classify(expected, discovered)
	for i := 0; i < 10; i++ {
		if again := Classify(expected, discovered); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced a different order:\n%v\n%v", i, again, first)
		}
	}
	// Sorted by host, account, material.
	for i := 1; i < len(first); i++ {
		a, b := first[i-1], first[i]
		if a.Hostname > b.Hostname {
			t.Fatalf("results not sorted by host: %v before %v", a, b)
		}
	}
}
