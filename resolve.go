package driftwatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Resolver errors
var (
	ErrResolverInitFailed = errors.New("failed to initialize resolver cache")
)

// perLookupTimeout bounds a single reverse lookup so a slow resolver cannot
// stall alert delivery.
const perLookupTimeout = 2 * time.Second

// Resolver enriches host alerts with reverse-DNS names. Lookups run through a
// bounded pool and a TTL cache, so repeat runs against the same subnet do not
// hammer the local resolver. Resolution failures are silent; the name is
// simply omitted from the alert.
type Resolver struct {
	cache    *ristretto.Cache
	sem      *semaphore.Weighted
	resolver *net.Resolver
	ttl      time.Duration
	logger   *zap.Logger
}

// NewResolver creates a resolver with a cache sized for home-lab subnets.
func NewResolver(config *Config, logger *zap.Logger) (*Resolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4, // track frequency for up to 10k addresses
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolverInitFailed, err)
	}

	return &Resolver{
		cache:    cache,
		sem:      semaphore.NewWeighted(int64(config.ResolveConcurrency)),
		resolver: net.DefaultResolver,
		ttl:      time.Duration(config.ResolveCacheTTL) * time.Minute,
		logger:   logger.With(zap.String("component", "resolver")),
	}, nil
}

// ReverseLookup returns the reverse-DNS name for addr, or "" when it cannot
// be resolved. Results, including negative ones, are cached for the TTL.
func (r *Resolver) ReverseLookup(ctx context.Context, addr string) string {
	if val, found := r.cache.Get(addr); found {
		if name, ok := val.(string); ok {
			return name
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, perLookupTimeout)
	defer cancel()

	names, err := r.resolver.LookupAddr(lookupCtx, addr)
	name := ""
	if err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	} else if err != nil {
		r.logger.Debug("Reverse lookup failed",
			zap.String("addr", addr),
			zap.Error(err),
		)
	}

	r.cache.SetWithTTL(addr, name, 1, r.ttl)
	return name
}

// LookupAll resolves a set of addresses through the bounded pool and returns
// a map of address to name for the addresses that resolved.
func (r *Resolver) LookupAll(ctx context.Context, addrs []string) map[string]string {
	names := make(map[string]string, len(addrs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, addr := range addrs {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			defer r.sem.Release(1)
			if name := r.ReverseLookup(ctx, addr); name != "" {
				mu.Lock()
				names[addr] = name
				mu.Unlock()
			}
		}(addr)
	}

	wg.Wait()
	return names
}

// NamesField renders resolved names as an extra alert field. It returns
// ok=false when none of the addresses resolved.
func (r *Resolver) NamesField(ctx context.Context, addrs []string) (EmbedField, bool) {
	names := r.LookupAll(ctx, addrs)
	if len(names) == 0 {
		return EmbedField{}, false
	}

	addrsWithNames := make([]string, 0, len(names))
	for addr := range names {
		addrsWithNames = append(addrsWithNames, addr)
	}
	sort.Strings(addrsWithNames)

	parts := make([]string, len(addrsWithNames))
	for i, addr := range addrsWithNames {
		parts[i] = fmt.Sprintf("%s (%s)", addr, names[addr])
	}
	return EmbedField{Name: "Resolved names", Value: strings.Join(parts, ", ")}, true
}

// Close releases the cache resources.
func (r *Resolver) Close() {
	r.cache.Close()
}
