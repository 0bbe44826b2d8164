// Package credentials keeps the rotating set of provider API keys used by
// the transcription and evaluation clients. It knows nothing about jobs or
// networking: it only does bookkeeping and picks the next key to use.
package credentials

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-qc-go/internal/logger"
)

// MaxErrors is the error count at which a credential is soft-disabled.
const MaxErrors = 5

var (
	// ErrNotAvailable means no eligible credential exists for the region.
	// It is not a transport error and never comes from the network.
	ErrNotAvailable = errors.New("no credential available")
	// ErrUnknownCredential is returned for IDs the pool does not hold.
	ErrUnknownCredential = errors.New("unknown credential")
)

// Credential is a provider key tagged by region. Values handed out by the
// pool are copies; mutating them has no effect on the pool.
type Credential struct {
	ID            string     `json:"id"`
	Secret        string     `json:"-"`
	Region        string     `json:"region"`
	Active        bool       `json:"active"`
	UsageCount    uint       `json:"usage_count"`
	ErrorCount    uint       `json:"error_count"`
	QuotaExceeded bool       `json:"quota_exceeded"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
}

// Eligible reports whether the credential may be handed out.
func (c Credential) Eligible() bool {
	return c.Active && !c.QuotaExceeded && c.ErrorCount < MaxErrors
}

// Pool is safe for concurrent use. Every mutation runs under one lock.
type Pool struct {
	mu    sync.Mutex
	creds map[string]*Credential
	now   func() time.Time
	log   *logrus.Entry
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithLogger sets the log entry used by the pool.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Pool) { p.log = log }
}

// NewPool returns an empty pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		creds: make(map[string]*Credential),
		now:   time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = logger.New().WithComponent("credentials")
	}
	return p
}

// NormalizeRegion is the canonical form regions are stored and matched in.
func NormalizeRegion(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

// Register adds an active, unused credential and returns its ID.
func (p *Pool) Register(secret, region string) string {
	id := uuid.New().String()
	region = NormalizeRegion(region)

	p.mu.Lock()
	p.creds[id] = &Credential{ID: id, Secret: secret, Region: region, Active: true}
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"credential_id": id, "region": region}).Debug("credential registered")
	return id
}

// Restore re-inserts a previously persisted credential as-is. The
// soft-disable invariant is re-applied on the way in.
func (p *Pool) Restore(c Credential) error {
	if c.ID == "" {
		return fmt.Errorf("restore credential: empty id")
	}
	if c.ErrorCount >= MaxErrors {
		c.Active = false
	}
	c.Region = NormalizeRegion(c.Region)
	stored := snapshot(&c)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[c.ID] = &stored
	return nil
}

// Acquire returns the least-used eligible credential for region. Ties go to
// the one used longest ago; never-used credentials come first.
func (p *Pool) Acquire(region string) (Credential, error) {
	region = NormalizeRegion(region)
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Credential
	for _, c := range p.creds {
		if c.Region != region || !c.Eligible() {
			continue
		}
		if best == nil || less(c, best) {
			best = c
		}
	}
	if best == nil {
		return Credential{}, fmt.Errorf("region %q: %w", region, ErrNotAvailable)
	}
	return snapshot(best), nil
}

// less orders candidates for selection. The ID comparison only keeps the
// choice stable when everything else is equal.
func less(a, b *Credential) bool {
	if a.UsageCount != b.UsageCount {
		return a.UsageCount < b.UsageCount
	}
	switch {
	case a.LastUsed == nil && b.LastUsed != nil:
		return true
	case a.LastUsed != nil && b.LastUsed == nil:
		return false
	case a.LastUsed != nil && b.LastUsed != nil && !a.LastUsed.Equal(*b.LastUsed):
		return a.LastUsed.Before(*b.LastUsed)
	}
	return a.ID < b.ID
}

// ReportSuccess records one successful use.
func (p *Pool) ReportSuccess(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return fmt.Errorf("report success %s: %w", id, ErrUnknownCredential)
	}
	now := p.now()
	c.UsageCount++
	c.LastUsed = &now
	return nil
}

// ReportFailure records one failed use. Quota errors exclude the credential
// from selection until Reset; reaching MaxErrors deactivates it.
func (p *Pool) ReportFailure(id string, isQuotaError bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return fmt.Errorf("report failure %s: %w", id, ErrUnknownCredential)
	}
	c.ErrorCount++
	if isQuotaError {
		c.QuotaExceeded = true
	}
	if c.ErrorCount >= MaxErrors && c.Active {
		c.Active = false
		p.log.WithFields(logrus.Fields{
			"credential_id": id,
			"region":        c.Region,
			"error_count":   c.ErrorCount,
		}).Warn("credential deactivated after repeated errors")
	}
	return nil
}

// Reset clears error state and reactivates the credential.
func (p *Pool) Reset(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return fmt.Errorf("reset %s: %w", id, ErrUnknownCredential)
	}
	c.ErrorCount = 0
	c.QuotaExceeded = false
	c.Active = true
	return nil
}

// Remove deletes the credential permanently.
func (p *Pool) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.creds[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, ErrUnknownCredential)
	}
	delete(p.creds, id)
	return nil
}

// Get returns a snapshot of one credential.
func (p *Pool) Get(id string) (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.creds[id]
	if !ok {
		return Credential{}, false
	}
	return snapshot(c), true
}

// List returns snapshots of all credentials ordered by region, then ID.
func (p *Pool) List() []Credential {
	p.mu.Lock()
	out := make([]Credential, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, snapshot(c))
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func snapshot(c *Credential) Credential {
	out := *c
	if c.LastUsed != nil {
		t := *c.LastUsed
		out.LastUsed = &t
	}
	return out
}
