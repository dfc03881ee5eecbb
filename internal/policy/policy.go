// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package policy loads the declarative access policy and expands it into
// the expected-binding facts the audit pipeline consumes.
package policy // import "github.com/toeirei/keywarden/internal/policy"

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/toeirei/keywarden/internal/model"
)

// Policy is the declarative description of intended access: which accounts
// exist on which hosts, and which identity keys may reach them.
type Policy struct {
	Hosts      []model.HostSpec `yaml:"servers"`
	Identities []model.Identity `yaml:"users"`
}

// Load reads and validates a policy file. A policy that fails validation is
// fatal before any network activity.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses policy YAML and validates it.
func Decode(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the structural invariants of the policy: every host has a
// hostname, every identity has an email, every key has type and material,
// and every access grant names a host and an account.
func (p *Policy) Validate() error {
	for i, h := range p.Hosts {
		if h.Hostname == "" {
			return fmt.Errorf("policy: host entry %d has no hostname", i)
		}
		for j, a := range h.Accounts {
			if a == "" {
				return fmt.Errorf("policy: host %s has an empty account name at index %d", h.Hostname, j)
			}
		}
	}
	for _, id := range p.Identities {
		if id.Email == "" {
			return fmt.Errorf("policy: identity %q has no email", id.Name)
		}
		for j, k := range id.Keys {
			if k.Type == "" {
				return fmt.Errorf("policy: identity %s key %d has no type", id.Email, j)
			}
			if k.Material == "" {
				return fmt.Errorf("policy: identity %s key %d has no key material", id.Email, j)
			}
			for _, g := range k.Access {
				if g.Hostname == "" || g.Account == "" {
					return fmt.Errorf("policy: identity %s key %d has an incomplete access grant", id.Email, j)
				}
			}
		}
	}
	return nil
}

// Universe returns every (host, account) pair declared by the policy. The
// fetch phase inspects all of them, not just pairs with expected bindings,
// because unauthorized keys can sit where nothing is expected.
func (p *Policy) Universe() []model.Target {
	var targets []model.Target
	for _, h := range p.Hosts {
		for _, a := range h.Accounts {
			targets = append(targets, model.Target{Hostname: h.Hostname, Account: a})
		}
	}
	return targets
}

// Expand derives the full expected-binding set from the policy. Admin keys
// expand across every (host, account) pair in the fleet; non-admin keys
// expand across their access grants only. Keys with no grants produce zero
// bindings, which is not an error. Consumers treat the output as a set, so
// duplicate emissions are harmless.
func (p *Policy) Expand() []model.ExpectedBinding {
	var bindings []model.ExpectedBinding
	for _, id := range p.Identities {
		for _, key := range id.Keys {
			if key.Admin {
				for _, h := range p.Hosts {
					for _, account := range h.Accounts {
						bindings = append(bindings, model.ExpectedBinding{
							Hostname: h.Hostname,
							Account:  account,
							KeyType:  key.Type,
							Material: key.Material,
							Label:    key.Label,
						})
					}
				}
				continue
			}
			for _, grant := range key.Access {
				bindings = append(bindings, model.ExpectedBinding{
					Hostname: grant.Hostname,
					Account:  grant.Account,
					KeyType:  key.Type,
					Material: key.Material,
					Label:    key.Label,
				})
			}
		}
	}
	return bindings
}
