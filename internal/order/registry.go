package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/orderdesk/internal/lineitem"
	"github.com/noah-isme/orderdesk/internal/obs"
	"github.com/noah-isme/orderdesk/internal/presenter"
)

// ErrFormNotFound is returned for unknown or expired form ids.
var ErrFormNotFound = fmt.Errorf("form session: %w", lineitem.ErrNotFound)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Fetcher DetailFetcher
	IdleTTL time.Duration
	Logger  *zerolog.Logger
	Now     func() time.Time
}

type session struct {
	agg      *Aggregator
	lastSeen time.Time
}

// Registry holds one Aggregator per open form.
type Registry struct {
	mu      sync.Mutex
	forms   map[string]*session
	fetcher DetailFetcher
	ttl     time.Duration
	logger  *zerolog.Logger
	now     func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		forms:   make(map[string]*session),
		fetcher: cfg.Fetcher,
		ttl:     cfg.IdleTTL,
		logger:  cfg.Logger,
		now:     now,
	}
}

// Create opens a new form for flow.
func (r *Registry) Create(flow lineitem.Flow) (string, *Aggregator, error) {
	id := uuid.NewString()
	var logger *zerolog.Logger
	if r.logger != nil {
		l := r.logger.With().Str("form_id", id).Logger()
		logger = &l
	}
	agg, err := New(Options{
		Flow:      flow,
		Fetcher:   r.fetcher,
		Presenter: presenter.NewTable(presenter.DefaultPlaces),
		Logger:    logger,
	})
	if err != nil {
		return "", nil, err
	}
	r.mu.Lock()
	r.forms[id] = &session{agg: agg, lastSeen: r.now()}
	r.updateGaugeLocked()
	r.mu.Unlock()
	return id, agg, nil
}

// Get returns the form and refreshes its idle timer.
func (r *Registry) Get(id string) (*Aggregator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.forms[id]
	if !ok {
		return nil, ErrFormNotFound
	}
	s.lastSeen = r.now()
	return s.agg, nil
}

// Discard closes the form. It reports whether it existed.
func (r *Registry) Discard(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.forms[id]; !ok {
		return false
	}
	delete(r.forms, id)
	r.updateGaugeLocked()
	return true
}

// Len reports the number of open forms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}

// Sweep drops forms idle for longer than the TTL and returns how many were dropped.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	dropped := 0
	for id, s := range r.forms {
		if s.lastSeen.Before(cutoff) {
			delete(r.forms, id)
			dropped++
		}
	}
	if dropped > 0 {
		r.updateGaugeLocked()
	}
	return dropped
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 && r.logger != nil {
				r.logger.Info().Int("forms", n).Msg("expired idle forms")
			}
		}
	}
}

func (r *Registry) updateGaugeLocked() {
	if obs.ActiveForms != nil {
		obs.ActiveForms.Set(float64(len(r.forms)))
	}
}
