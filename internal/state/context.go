// Package state computes, locks, and validates the System State Hash: the
// fingerprint of (configuration, codebase, proposal identity) taken before a
// mutation executes. The locked hash plus its write-once snapshot form the
// cryptographic root of trust for rollback decisions.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"archon/internal/logging"
)

// ErrContextResolution reports that the operating context could not be
// identified. No pipeline operation may proceed without knowing which state
// is being discussed, so this is always a hard stop.
var ErrContextResolution = errors.New("cannot resolve state context")

// ConfigHashProvider supplies the configuration integrity hash.
type ConfigHashProvider interface {
	ConfigHash(ctx context.Context) (string, error)
}

// CodebaseHashProvider supplies the codebase integrity hash.
type CodebaseHashProvider interface {
	CodebaseHash(ctx context.Context) (string, error)
}

// Context is the resolved identity of the operating environment.
type Context struct {
	ConfigHash string
	CodeHash   string
	ProposalID string
}

// ActiveContext tracks which proposal currently owns the pipeline. It is an
// explicit value owned by the orchestrating caller: set at proposal
// acceptance, cleared at commit or abort. There is no process-global
// equivalent.
type ActiveContext struct {
	mu sync.Mutex
	id string
}

// Set marks a proposal as the active one.
func (a *ActiveContext) Set(proposalID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.id = proposalID
}

// Clear resets the active proposal.
func (a *ActiveContext) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.id = ""
}

// Current returns the active proposal id, or "" when none is active.
func (a *ActiveContext) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

// Resolver gathers the state context from its collaborators.
type Resolver struct {
	config CodeConfigPair
	active *ActiveContext
	log    *logging.Logger
}

// CodeConfigPair bundles the two integrity hash providers.
type CodeConfigPair struct {
	Config ConfigHashProvider
	Code   CodebaseHashProvider
}

// NewResolver builds a resolver over the hash providers and the active
// context owned by the caller.
func NewResolver(providers CodeConfigPair, active *ActiveContext) *Resolver {
	return &Resolver{
		config: providers,
		active: active,
		log:    logging.Get(logging.CategoryVerify),
	}
}

// ResolveContext fetches the config and codebase hashes concurrently and
// resolves the proposal id: the explicit argument when locking a new state,
// or the active proposal when validating a live one. An empty explicit id
// with no active proposal fails with ErrContextResolution.
func (r *Resolver) ResolveContext(ctx context.Context, explicitProposalID string) (Context, error) {
	proposalID := explicitProposalID
	if proposalID == "" {
		proposalID = r.active.Current()
	}
	if proposalID == "" {
		r.log.Error("no proposal id: neither explicit nor active")
		return Context{}, fmt.Errorf("%w: no proposal id available", ErrContextResolution)
	}

	var configHash, codeHash string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := r.config.Config.ConfigHash(gctx)
		if err != nil {
			return fmt.Errorf("config hash: %w", err)
		}
		configHash = h
		return nil
	})
	g.Go(func() error {
		h, err := r.config.Code.CodebaseHash(gctx)
		if err != nil {
			return fmt.Errorf("codebase hash: %w", err)
		}
		codeHash = h
		return nil
	})
	if err := g.Wait(); err != nil {
		r.log.Error("context resolution failed for %s: %v", proposalID, err)
		return Context{}, fmt.Errorf("%w: %v", ErrContextResolution, err)
	}

	return Context{ConfigHash: configHash, CodeHash: codeHash, ProposalID: proposalID}, nil
}
