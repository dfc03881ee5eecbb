// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package state provides a secure, in-memory cache for transient secrets
// that must be shared between the CLI layer and the transport workers, such
// as the passphrase of the configured identity key.
package state

import "sync"

// PassphraseCache is a concurrency-safe mailbox for the identity key
// passphrase. It holds a byte slice rather than a string so the secret can
// be explicitly zeroed after use.
var PassphraseCache = &secretMailbox{}

type secretMailbox struct {
	value []byte
	mu    sync.RWMutex
}

// Set stores a copy of the secret, overwriting any existing value.
func (m *secretMailbox) Set(secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if secret == nil {
		m.value = nil
		return
	}
	m.value = make([]byte, len(secret))
	copy(m.value, secret)
}

// Get returns a copy of the secret, or nil if none is set. The caller is
// responsible for zeroing the returned slice after use.
func (m *secretMailbox) Get() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.value == nil {
		return nil
	}
	out := make([]byte, len(m.value))
	copy(out, m.value)
	return out
}

// Clear wipes the secret from memory.
func (m *secretMailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.value {
		m.value[i] = 0
	}
	m.value = nil
}
