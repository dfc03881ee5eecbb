// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures shared by the audit and
// remediation pipeline: the declarative policy entities, the ephemeral
// binding facts derived from them, and the reconciliation results.
package model // import "github.com/toeirei/keywarden/internal/model"

import "fmt"

// HostSpec declares a managed host and the OS accounts expected on it.
type HostSpec struct {
	Hostname string   `yaml:"host"`
	Accounts []string `yaml:"users"`
}

// AccessGrant scopes a non-admin key to a single (account, host) pair.
type AccessGrant struct {
	Hostname string `yaml:"host"`
	Account  string `yaml:"username"`
}

// KeyRecord is one public key owned by an identity. Material is treated as
// an opaque string and compared exactly. Admin keys ignore Access entirely
// and expand across the whole fleet.
type KeyRecord struct {
	Type     string        `yaml:"type"`
	Material string        `yaml:"key"`
	Label    string        `yaml:"hostname"`
	Admin    bool          `yaml:"admin"`
	Access   []AccessGrant `yaml:"access"`
}

// Identity is a person in the policy, uniquely keyed by email.
type Identity struct {
	Email string      `yaml:"email"`
	Name  string      `yaml:"name"`
	Keys  []KeyRecord `yaml:"keys"`
}

// Target identifies one (host, account) pair whose authorized_keys file is
// managed. The fetch and remediation phases schedule one task per Target.
type Target struct {
	Hostname string
	Account  string
}

// String returns the user@host representation.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.Account, t.Hostname)
}

// ExpectedBinding is one access fact derived from policy: this key material
// should be authorized for this account on this host. Never persisted past
// a single audit cycle.
type ExpectedBinding struct {
	Hostname string
	Account  string
	KeyType  string
	Material string
	Label    string
}

// Target returns the (host, account) pair the binding applies to.
func (b ExpectedBinding) Target() Target {
	return Target{Hostname: b.Hostname, Account: b.Account}
}

// DiscoveredBinding is one access fact parsed from a live remote
// authorized_keys file. Never persisted past a single audit cycle.
type DiscoveredBinding struct {
	Hostname string
	Account  string
	KeyType  string
	Material string
	Comment  string
}

// Target returns the (host, account) pair the binding was found on.
func (b DiscoveredBinding) Target() Target {
	return Target{Hostname: b.Hostname, Account: b.Account}
}

// BindingStatus classifies one reconciled (host, account, material) triple.
type BindingStatus string

const (
	// StatusMatched means the key is both declared in policy and present
	// on the remote host.
	StatusMatched BindingStatus = "MATCHED"

	// StatusMissing means policy declares the key but the remote host does
	// not have it.
	StatusMissing BindingStatus = "MISSING"

	// StatusUnauthorized means the key is present on the remote host but
	// no policy entry declares it.
	StatusUnauthorized BindingStatus = "UNAUTHORIZED"
)

// ReconciliationResult is the classification of a single
// (host, account, material) triple. KeyType and Comment are carried for
// display only and take no part in matching.
type ReconciliationResult struct {
	Hostname string
	Account  string
	KeyType  string
	Material string
	Comment  string
	Status   BindingStatus
}

// Target returns the (host, account) pair the result belongs to.
func (r ReconciliationResult) Target() Target {
	return Target{Hostname: r.Hostname, Account: r.Account}
}

// BindingKey is the matching key for reconciliation. Equality is exact
// string comparison on all three fields.
type BindingKey struct {
	Hostname string
	Account  string
	Material string
}

// Key returns the matching key for an expected binding.
func (b ExpectedBinding) Key() BindingKey {
	return BindingKey{Hostname: b.Hostname, Account: b.Account, Material: b.Material}
}

// Key returns the matching key for a discovered binding.
func (b DiscoveredBinding) Key() BindingKey {
	return BindingKey{Hostname: b.Hostname, Account: b.Account, Material: b.Material}
}

// TargetError records a per-target failure. One target's failure never
// aborts its siblings; coordinators collect these alongside successes.
type TargetError struct {
	Target Target
	Err    error
}

func (e TargetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Target, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e TargetError) Unwrap() error { return e.Err }
