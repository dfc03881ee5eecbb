// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package credentials caches per-target passwords and serializes
// interactive prompts. A single broker goroutine owns terminal I/O; worker
// tasks send a request over a channel and await the reply, so two prompts
// can never overlap no matter how many fetch or upload tasks are in flight.
package credentials // import "github.com/toeirei/keywarden/internal/credentials"

import (
	"context"
	"errors"
	"sync"

	"github.com/toeirei/keywarden/internal/model"
)

// ErrClosed is returned when a secret is requested after the broker has
// been shut down, e.g. during interrupt handling.
var ErrClosed = errors.New("credential broker is closed")

// Prompter obtains a password for one target interactively. Implementations
// are only ever called from the broker goroutine, one call at a time.
type Prompter interface {
	PromptPassword(target model.Target) (string, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(target model.Target) (string, error)

// PromptPassword calls f.
func (f PrompterFunc) PromptPassword(target model.Target) (string, error) {
	return f(target)
}

type promptRequest struct {
	target   model.Target
	forceNew bool
	reply    chan promptReply
}

type promptReply struct {
	secret string
	err    error
}

// Broker supplies passwords for (account, host) targets. The cache is
// seeded at startup and populated by prompts; entries are keyed
// "account@host" and shared across all concurrent tasks of a run.
type Broker struct {
	mu      sync.RWMutex
	secrets map[string]string

	prompter Prompter
	requests chan promptRequest
	closed   chan struct{}
	once     sync.Once
}

// NewBroker returns a broker seeded with the given secrets and starts its
// prompt goroutine. seed may be nil. The seed map is copied.
func NewBroker(seed map[string]string, prompter Prompter) *Broker {
	b := &Broker{
		secrets:  make(map[string]string, len(seed)),
		prompter: prompter,
		requests: make(chan promptRequest),
		closed:   make(chan struct{}),
	}
	for k, v := range seed {
		b.secrets[k] = v
	}
	go b.loop()
	return b
}

// Cached returns the cached secret for a target, if any.
func (b *Broker) Cached(target model.Target) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.secrets[target.String()]
	return s, ok
}

// Secret returns a password for the target. A cached secret is returned
// immediately without touching the terminal. On a cache miss the request is
// queued on the broker goroutine, which prompts and caches the answer.
//
// forceNew skips the cache-read and always prompts; callers use it after a
// cached password was rejected by the remote side. The new answer replaces
// the cached one so sibling tasks pick it up.
func (b *Broker) Secret(ctx context.Context, target model.Target, forceNew bool) (string, error) {
	if !forceNew {
		if s, ok := b.Cached(target); ok {
			return s, nil
		}
	}

	req := promptRequest{target: target, forceNew: forceNew, reply: make(chan promptReply, 1)}
	select {
	case b.requests <- req:
	case <-b.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.secret, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Store caches a secret for a target without prompting.
func (b *Broker) Store(target model.Target, secret string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secrets[target.String()] = secret
}

// Snapshot returns a copy of the current cache, e.g. for handing the
// collected passwords back to the caller at the end of a run.
func (b *Broker) Snapshot() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.secrets))
	for k, v := range b.secrets {
		out[k] = v
	}
	return out
}

// Close stops the prompt goroutine. In-flight requests receive ErrClosed;
// no new prompts are issued afterwards. Safe to call more than once.
func (b *Broker) Close() {
	b.once.Do(func() { close(b.closed) })
}

// loop is the single owner of the prompter. It re-checks the cache before
// prompting so that two workers racing on the same target produce a single
// prompt: the loser of the race gets the winner's cached answer.
func (b *Broker) loop() {
	for {
		select {
		case <-b.closed:
			b.drain()
			return
		case req := <-b.requests:
			if !req.forceNew {
				if s, ok := b.Cached(req.target); ok {
					req.reply <- promptReply{secret: s}
					continue
				}
			}
			if b.prompter == nil {
				req.reply <- promptReply{err: errors.New("no interactive prompter configured")}
				continue
			}
			secret, err := b.prompter.PromptPassword(req.target)
			if err == nil {
				b.Store(req.target, secret)
			}
			req.reply <- promptReply{secret: secret, err: err}
		}
	}
}

// drain answers any requests that raced with Close.
func (b *Broker) drain() {
	for {
		select {
		case req := <-b.requests:
			req.reply <- promptReply{err: ErrClosed}
		default:
			return
		}
	}
}
